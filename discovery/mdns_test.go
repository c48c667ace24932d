package discovery

import (
	"errors"
	"net"
	"reflect"
	"testing"

	"github.com/grandcat/zeroconf"
)

func TestStartAnnouncerBuildsExpectedRecord(t *testing.T) {
	var (
		gotInstance string
		gotService  string
		gotDomain   string
		gotPort     int
		gotTXT      []string
	)

	cfg := Config{
		RelayID: "0f8fad5b-d9cb-469f-a165-70867728950e",
		Port:    9102,
		registerFn: func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
			gotInstance = instance
			gotService = service
			gotDomain = domain
			gotPort = port
			gotTXT = append([]string(nil), text...)
			return nil, nil
		},
	}

	announcer, err := StartAnnouncer(cfg)
	if err != nil {
		t.Fatalf("StartAnnouncer failed: %v", err)
	}
	if announcer == nil {
		t.Fatalf("expected announcer instance")
	}
	announcer.Stop()

	if gotInstance != "smsrelay-0f8fad5b" {
		t.Fatalf("unexpected instance name: %q", gotInstance)
	}
	if gotService != DefaultService || gotDomain != DefaultDomain {
		t.Fatalf("unexpected service %q domain %q", gotService, gotDomain)
	}
	if gotPort != 9102 {
		t.Fatalf("unexpected port: %d", gotPort)
	}
	want := []string{
		"relay_id=0f8fad5b-d9cb-469f-a165-70867728950e",
		"version=1",
		"metrics_path=/metrics",
	}
	if !reflect.DeepEqual(gotTXT, want) {
		t.Fatalf("unexpected TXT records %v", gotTXT)
	}
}

func TestStartAnnouncerValidatesConfig(t *testing.T) {
	register := func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
		t.Fatalf("register must not be called for invalid config")
		return nil, nil
	}

	if _, err := StartAnnouncer(Config{Port: 9102, registerFn: register}); err == nil {
		t.Fatalf("expected error for missing relay ID")
	}
	if _, err := StartAnnouncer(Config{RelayID: "relay", Port: 0, registerFn: register}); err == nil {
		t.Fatalf("expected error for missing port")
	}
}

func TestStartAnnouncerWrapsRegisterError(t *testing.T) {
	registerErr := errors.New("no multicast interface")
	_, err := StartAnnouncer(Config{
		RelayID: "relay",
		Port:    9102,
		registerFn: func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
			return nil, registerErr
		},
	})
	if !errors.Is(err, registerErr) {
		t.Fatalf("expected wrapped register error, got %v", err)
	}
}

func TestPortFromAddr(t *testing.T) {
	tests := []struct {
		addr    string
		want    int
		wantErr bool
	}{
		{addr: ":9102", want: 9102},
		{addr: "127.0.0.1:8080", want: 8080},
		{addr: "localhost", wantErr: true},
		{addr: "host:http", wantErr: true},
	}

	for _, tt := range tests {
		got, err := PortFromAddr(tt.addr)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("PortFromAddr(%q): expected error", tt.addr)
			}
			continue
		}
		if err != nil {
			t.Fatalf("PortFromAddr(%q) failed: %v", tt.addr, err)
		}
		if got != tt.want {
			t.Fatalf("PortFromAddr(%q) = %d, want %d", tt.addr, got, tt.want)
		}
	}
}
