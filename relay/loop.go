package relay

import (
	"context"
	"errors"
	"log"
	"time"

	"smsrelay/metrics"
)

// DefaultPollInterval is the wait between two poll cycles.
const DefaultPollInterval = 5 * time.Second

// Clock is the loop's source of time.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }

// After waits for d on the wall clock.
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// InboundCycler runs one inbound cycle.
type InboundCycler interface {
	RunCycle(ctx context.Context) InboundReport
}

// OutboundCycler runs one outbound cycle.
type OutboundCycler interface {
	RunCycle(ctx context.Context) OutboundReport
}

// LoopConfig wires the poll loop.
type LoopConfig struct {
	Inbound  InboundCycler
	Outbound OutboundCycler
	Interval time.Duration
	Clock    Clock
	Logger   *log.Logger
	Metrics  *metrics.Metrics
}

func (c LoopConfig) withDefaults() LoopConfig {
	out := c
	if out.Interval <= 0 {
		out.Interval = DefaultPollInterval
	}
	if out.Clock == nil {
		out.Clock = SystemClock{}
	}
	if out.Logger == nil {
		out.Logger = log.Default()
	}
	return out
}

func (c LoopConfig) validate() error {
	if c.Inbound == nil {
		return errors.New("loop inbound relay is required")
	}
	if c.Outbound == nil {
		return errors.New("loop outbound relay is required")
	}
	return nil
}

// CycleReport is the outcome of one full poll cycle.
type CycleReport struct {
	Inbound  InboundReport
	Outbound OutboundReport
	Duration time.Duration
}

// Loop drives the inbound and outbound relays on a fixed interval.
//
// Cycles never overlap: each iteration runs inbound to completion, then
// outbound to completion, then waits Interval.
type Loop struct {
	cfg LoopConfig
}

// NewLoop creates a poll loop with config defaults applied.
func NewLoop(config LoopConfig) (*Loop, error) {
	cfg := config.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Loop{cfg: cfg}, nil
}

// RunCycle runs one inbound cycle followed by one outbound cycle.
//
// Cancelling ctx does not interrupt a cycle that has started.
func (l *Loop) RunCycle(ctx context.Context) CycleReport {
	cycleCtx := context.WithoutCancel(ctx)
	start := l.cfg.Clock.Now()

	report := CycleReport{
		Inbound:  l.cfg.Inbound.RunCycle(cycleCtx),
		Outbound: l.cfg.Outbound.RunCycle(cycleCtx),
	}
	report.Duration = l.cfg.Clock.Now().Sub(start)
	l.cfg.Metrics.ObserveCycle(report.Duration)

	return report
}

// Run polls until ctx is cancelled and then returns ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	l.cfg.Logger.Printf("loop: started interval=%s", l.cfg.Interval)
	for {
		if err := ctx.Err(); err != nil {
			l.cfg.Logger.Printf("loop: stopped")
			return err
		}
		l.logReport(l.RunCycle(ctx))

		if err := l.wait(ctx); err != nil {
			l.cfg.Logger.Printf("loop: stopped")
			return err
		}
	}
}

// RunCycles runs exactly n cycles, waiting Interval between consecutive ones.
// It returns early with ctx.Err() if ctx is cancelled while waiting.
func (l *Loop) RunCycles(ctx context.Context, n int) ([]CycleReport, error) {
	reports := make([]CycleReport, 0, max(n, 0))
	for i := 0; i < n; i++ {
		if i > 0 {
			if err := l.wait(ctx); err != nil {
				return reports, err
			}
		}
		report := l.RunCycle(ctx)
		l.logReport(report)
		reports = append(reports, report)
	}
	return reports, nil
}

func (l *Loop) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.cfg.Clock.After(l.cfg.Interval):
		return nil
	}
}

func (l *Loop) logReport(report CycleReport) {
	in, out := report.Inbound, report.Outbound
	if in.Listed == 0 && out.Fetched == 0 && in.ListErr == nil && out.FetchErr == nil {
		return
	}
	l.cfg.Logger.Printf(
		"loop: cycle done inbound_forwarded=%d inbound_failed=%d inbound_duplicates=%d outbound_sent=%d outbound_send_failed=%d outbound_ack_failed=%d duration=%s",
		in.Forwarded, in.Failed, in.Duplicates, out.Sent, out.SendFailed, out.AckFailed, report.Duration,
	)
}
