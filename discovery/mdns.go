// Package discovery announces a running relay on the local network over mDNS
// so LAN tooling can find its metrics endpoint without a fixed address.
package discovery

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
)

const (
	// DefaultService is the mDNS service name without domain suffix.
	DefaultService = "_smsrelay._tcp"
	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
	// DefaultVersion is the TXT record format version.
	DefaultVersion = 1
	// DefaultMetricsPath is advertised when no path is configured.
	DefaultMetricsPath = "/metrics"
)

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)

// Config controls the mDNS announcement.
type Config struct {
	Service      string
	Domain       string
	Version      int
	InstanceName string
	MetricsPath  string

	RelayID string
	Port    int

	registerFn registerFunc
}

func (c Config) withDefaults() Config {
	out := c
	if out.Service == "" {
		out.Service = DefaultService
	}
	if out.Domain == "" {
		out.Domain = DefaultDomain
	}
	if out.Version == 0 {
		out.Version = DefaultVersion
	}
	if out.MetricsPath == "" {
		out.MetricsPath = DefaultMetricsPath
	}
	if strings.TrimSpace(out.InstanceName) == "" {
		id := out.RelayID
		if len(id) > 8 {
			id = id[:8]
		}
		out.InstanceName = "smsrelay-" + id
	}
	if out.registerFn == nil {
		out.registerFn = zeroconf.Register
	}
	return out
}

func (c Config) validate() error {
	if strings.TrimSpace(c.RelayID) == "" {
		return errors.New("relay ID is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("announce port %d out of range", c.Port)
	}
	return nil
}

// Announcer advertises the relay via mDNS until stopped.
type Announcer struct {
	server *zeroconf.Server
}

// StartAnnouncer registers the relay's mDNS service record.
func StartAnnouncer(config Config) (*Announcer, error) {
	cfg := config.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	txt := []string{
		"relay_id=" + cfg.RelayID,
		"version=" + strconv.Itoa(cfg.Version),
		"metrics_path=" + cfg.MetricsPath,
	}

	server, err := cfg.registerFn(cfg.InstanceName, cfg.Service, cfg.Domain, cfg.Port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}

	return &Announcer{server: server}, nil
}

// Stop withdraws the announcement.
func (a *Announcer) Stop() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
}

// PortFromAddr extracts the TCP port from a listen address such as ":9102".
func PortFromAddr(addr string) (int, error) {
	_, portText, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("parse listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portText)
	if err != nil {
		return 0, fmt.Errorf("parse listen port %q: %w", portText, err)
	}
	return port, nil
}
