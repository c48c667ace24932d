package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"golang.org/x/time/rate"

	"smsrelay/metrics"
	"smsrelay/models"
)

// MessageSender hands a message to the device for delivery.
type MessageSender interface {
	Send(ctx context.Context, phone, body string) error
}

// OutgoingQueue is the backend side of outbound delivery.
type OutgoingQueue interface {
	FetchOutgoing(ctx context.Context) ([]models.OutgoingMessage, error)
	AcknowledgeSent(ctx context.Context, id json.RawMessage) error
}

// OutboundConfig wires the outbound relay to its collaborators.
type OutboundConfig struct {
	Device  MessageSender
	Backend OutgoingQueue
	// Limiter throttles device sends; nil sends without delay.
	Limiter *rate.Limiter
	Logger  *log.Logger
	Metrics *metrics.Metrics
}

func (c OutboundConfig) withDefaults() OutboundConfig {
	out := c
	if out.Logger == nil {
		out.Logger = log.Default()
	}
	return out
}

func (c OutboundConfig) validate() error {
	if c.Device == nil {
		return errors.New("outbound device sender is required")
	}
	if c.Backend == nil {
		return errors.New("outbound backend queue is required")
	}
	return nil
}

// NewSendLimiter returns a limiter allowing perMinute device sends per minute,
// or nil when perMinute is not positive.
func NewSendLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

// OutboundReport summarises one outbound cycle.
type OutboundReport struct {
	Fetched    int
	Sent       int
	SendFailed int
	AckFailed  int
	// Skipped counts messages without an id; they could never be acknowledged.
	Skipped  int
	FetchErr error
}

// Outbound delivers backend-queued messages through the device.
//
// Delivery is at-least-once: a message is acknowledged only after the device
// accepted it, and a failed acknowledgement leaves it queued so a later cycle
// sends it again.
type Outbound struct {
	cfg OutboundConfig
}

// NewOutbound creates an outbound relay with config defaults applied.
func NewOutbound(config OutboundConfig) (*Outbound, error) {
	cfg := config.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Outbound{cfg: cfg}, nil
}

// RunCycle fetches the outgoing queue and sends then acknowledges each
// message in the order received.
func (r *Outbound) RunCycle(ctx context.Context) OutboundReport {
	var report OutboundReport
	logger := r.cfg.Logger

	messages, err := r.cfg.Backend.FetchOutgoing(ctx)
	if err != nil {
		logger.Printf("outbound: fetch queue failed: %v", err)
		report.FetchErr = err
		r.cfg.Metrics.CycleError("backend_fetch")
		messages = nil
	}
	report.Fetched = len(messages)

	for _, msg := range messages {
		if !msg.HasID() {
			report.Skipped++
			logger.Printf("outbound: skipped message without id phone=%s", msg.Phone)
			continue
		}
		id := msg.IDString()

		if r.cfg.Limiter != nil {
			if err := r.cfg.Limiter.Wait(ctx); err != nil {
				logger.Printf("outbound: send throttle aborted cycle: %v", err)
				break
			}
		}

		if err := r.cfg.Device.Send(ctx, msg.Phone, msg.Message); err != nil {
			report.SendFailed++
			logger.Printf("outbound: send failed id=%s phone=%s: %v", id, msg.Phone, err)
			continue
		}
		report.Sent++
		logger.Printf("outbound: sent id=%s phone=%s body=%q", id, msg.Phone, preview(msg.Message))

		if err := r.cfg.Backend.AcknowledgeSent(ctx, msg.ID); err != nil {
			report.AckFailed++
			logger.Printf("outbound: acknowledge failed id=%s, message may be sent again: %v", id, err)
			continue
		}
		logger.Printf("outbound: marked sent id=%s", id)
	}

	r.cfg.Metrics.Outbound(report.Fetched, report.Sent, report.SendFailed, report.AckFailed)

	return report
}
