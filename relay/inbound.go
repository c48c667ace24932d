package relay

import (
	"context"
	"errors"
	"log"

	"smsrelay/metrics"
	"smsrelay/models"
)

// DefaultListLimit is how many recent device messages each inbound cycle inspects.
const DefaultListLimit = 20

// MessageLister lists messages recently received by the device.
type MessageLister interface {
	ListRecent(ctx context.Context, limit int) ([]models.InboundMessage, error)
}

// IncomingPoster forwards received message content to the backend.
type IncomingPoster interface {
	PostIncoming(ctx context.Context, phone, body string) error
}

// Ledger is the dedup record of already forwarded identifiers.
type Ledger interface {
	Contains(key string) bool
	Add(key string)
	Len() int
	// Dirty reports additions not yet written by a successful Persist.
	Dirty() bool
	Persist() error
}

// InboundConfig wires the inbound relay to its collaborators.
type InboundConfig struct {
	Device  MessageLister
	Backend IncomingPoster
	Ledger  Ledger
	Limit   int
	Logger  *log.Logger
	Metrics *metrics.Metrics
}

func (c InboundConfig) withDefaults() InboundConfig {
	out := c
	if out.Limit <= 0 {
		out.Limit = DefaultListLimit
	}
	if out.Logger == nil {
		out.Logger = log.Default()
	}
	return out
}

func (c InboundConfig) validate() error {
	if c.Device == nil {
		return errors.New("inbound device lister is required")
	}
	if c.Backend == nil {
		return errors.New("inbound backend poster is required")
	}
	if c.Ledger == nil {
		return errors.New("inbound ledger is required")
	}
	return nil
}

// InboundReport summarises one inbound cycle.
type InboundReport struct {
	Listed     int
	Forwarded  int
	Failed     int
	Duplicates int
	Unresolved int
	ListErr    error
	PersistErr error
}

// Inbound forwards newly received device messages to the backend.
//
// Each message identifier is recorded in the ledger before it is posted, and
// a failed post is never retried. A message whose post fails, or that is in
// flight when the process dies after the ledger is persisted, is lost.
type Inbound struct {
	cfg InboundConfig
}

// NewInbound creates an inbound relay with config defaults applied.
func NewInbound(config InboundConfig) (*Inbound, error) {
	cfg := config.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Inbound{cfg: cfg}, nil
}

// RunCycle lists recent messages, forwards the ones not yet in the ledger, and
// persists the ledger once for the whole batch.
func (r *Inbound) RunCycle(ctx context.Context) InboundReport {
	var report InboundReport
	logger := r.cfg.Logger

	messages, err := r.cfg.Device.ListRecent(ctx, r.cfg.Limit)
	if err != nil {
		logger.Printf("inbound: list messages failed: %v", err)
		report.ListErr = err
		r.cfg.Metrics.CycleError("device_list")
		return report
	}
	report.Listed = len(messages)

	added := 0
	for _, msg := range messages {
		key, ok := msg.DedupKey()
		if !ok {
			report.Unresolved++
			logger.Printf("inbound: dropped message without identifier phone=%s", msg.Sender())
			continue
		}
		if r.cfg.Ledger.Contains(key) {
			report.Duplicates++
			continue
		}

		r.cfg.Ledger.Add(key)
		added++

		if err := r.cfg.Backend.PostIncoming(ctx, msg.Sender(), msg.Body); err != nil {
			report.Failed++
			logger.Printf("inbound: forward failed key=%s phone=%s: %v", key, msg.Sender(), err)
			continue
		}
		report.Forwarded++
		logger.Printf("inbound: forwarded key=%s phone=%s body=%q", key, msg.Sender(), preview(msg.Body))
	}

	// A ledger still dirty from an earlier failed persist is retried even
	// when this batch added nothing.
	if added > 0 || r.cfg.Ledger.Dirty() {
		if err := r.cfg.Ledger.Persist(); err != nil {
			report.PersistErr = err
			logger.Printf("inbound: persist ledger failed: %v", err)
			r.cfg.Metrics.CycleError("ledger_persist")
		}
	}

	r.cfg.Metrics.Inbound(report.Listed, report.Forwarded, report.Duplicates, report.Unresolved, report.Failed)
	r.cfg.Metrics.LedgerSize(r.cfg.Ledger.Len())

	return report
}

const previewRunes = 50

func preview(body string) string {
	runes := []rune(body)
	if len(runes) <= previewRunes {
		return body
	}
	return string(runes[:previewRunes]) + "…"
}
