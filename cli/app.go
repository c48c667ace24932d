package cli

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"smsrelay/backend"
	"smsrelay/config"
	"smsrelay/device"
	"smsrelay/ledger"
	"smsrelay/metrics"
	"smsrelay/relay"
	"smsrelay/storage"
)

// keyLedger is a relay ledger that can also list its keys.
type keyLedger interface {
	relay.Ledger
	Keys() []string
}

type app struct {
	cfg     *config.RelayConfig
	cfgPath string
	ledger  keyLedger
	metrics *metrics.Metrics
	loop    *relay.Loop

	closeLedger func() error
}

func loadConfig(opts *RootOptions) (*config.RelayConfig, string, error) {
	if opts.DataDir != "" {
		return config.LoadOrCreateIn(opts.DataDir)
	}
	return config.LoadOrCreate()
}

// openLedger opens the configured ledger. Unreadable state is logged and
// replaced by an empty ledger; only an unopenable database is fatal.
func openLedger(cfg *config.RelayConfig) (keyLedger, func() error, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.LedgerPath), 0o700); err != nil {
		return nil, nil, fmt.Errorf("create ledger directory: %w", err)
	}

	switch cfg.LedgerBackend {
	case config.LedgerBackendSQLite:
		store, err := storage.OpenPath(cfg.LedgerPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open ledger database: %w", err)
		}
		l, err := ledger.OpenSQLite(store)
		logStateError(err)
		return l, store.Close, nil
	default:
		l, err := ledger.Load(cfg.LedgerPath)
		logStateError(err)
		return l, func() error { return nil }, nil
	}
}

func logStateError(err error) {
	var stateErr *ledger.StateError
	if errors.As(err, &stateErr) {
		log.Printf("ledger: starting empty after %s failure: %v", stateErr.Op, stateErr)
		return
	}
	if err != nil {
		log.Printf("ledger: %v", err)
	}
}

func newApp(opts *RootOptions) (*app, error) {
	cfg, cfgPath, err := loadConfig(opts)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	client, err := backend.NewClient(backend.Config{
		BaseURL:        cfg.BackendURL,
		RelayID:        cfg.RelayID,
		RequestTimeout: cfg.RequestTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("create backend client: %w", err)
	}

	l, closeLedger, err := openLedger(cfg)
	if err != nil {
		return nil, err
	}

	termux := device.NewTermux(device.Config{
		ListCommand: cfg.ListCommand,
		SendCommand: cfg.SendCommand,
	})
	m := metrics.New()
	m.LedgerSize(l.Len())

	inbound, err := relay.NewInbound(relay.InboundConfig{
		Device:  termux,
		Backend: client,
		Ledger:  l,
		Limit:   cfg.ListLimit,
		Metrics: m,
	})
	if err != nil {
		_ = closeLedger()
		return nil, err
	}
	outbound, err := relay.NewOutbound(relay.OutboundConfig{
		Device:  termux,
		Backend: client,
		Limiter: relay.NewSendLimiter(cfg.SendRatePerMinute),
		Metrics: m,
	})
	if err != nil {
		_ = closeLedger()
		return nil, err
	}
	loop, err := relay.NewLoop(relay.LoopConfig{
		Inbound:  inbound,
		Outbound: outbound,
		Interval: cfg.PollInterval(),
		Metrics:  m,
	})
	if err != nil {
		_ = closeLedger()
		return nil, err
	}

	return &app{
		cfg:         cfg,
		cfgPath:     cfgPath,
		ledger:      l,
		metrics:     m,
		loop:        loop,
		closeLedger: closeLedger,
	}, nil
}

func (a *app) Close() {
	if err := a.closeLedger(); err != nil {
		log.Printf("ledger close error: %v", err)
	}
}
