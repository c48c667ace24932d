package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "smsrelay"

// Metrics holds the relay's Prometheus collectors.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	inboundListed      prometheus.Counter
	inboundForwarded   prometheus.Counter
	inboundDuplicates  prometheus.Counter
	inboundUnresolved  prometheus.Counter
	inboundFailures    prometheus.Counter
	outboundFetched    prometheus.Counter
	outboundSent       prometheus.Counter
	outboundSendFailed prometheus.Counter
	outboundAckFailed  prometheus.Counter
	cycleErrors        *prometheus.CounterVec
	cycleDuration      prometheus.Histogram
	ledgerSize         prometheus.Gauge
}

// New creates the relay collectors and registers them on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
		reg.MustRegister(c)
		return c
	}

	m := &Metrics{
		registry:           reg,
		inboundListed:      counter("inbound_listed_total", "Messages reported by the device."),
		inboundForwarded:   counter("inbound_forwarded_total", "Messages accepted by the backend."),
		inboundDuplicates:  counter("inbound_duplicates_total", "Messages skipped because the ledger already held their id."),
		inboundUnresolved:  counter("inbound_unresolved_total", "Messages dropped because no identifier could be resolved."),
		inboundFailures:    counter("inbound_forward_failures_total", "Messages the backend did not accept; never retried."),
		outboundFetched:    counter("outbound_fetched_total", "Messages fetched from the backend queue."),
		outboundSent:       counter("outbound_sent_total", "Messages handed to the device for sending."),
		outboundSendFailed: counter("outbound_send_failures_total", "Device send failures; left queued at the backend."),
		outboundAckFailed:  counter("outbound_ack_failures_total", "Acknowledgement failures after a successful send."),
		cycleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_errors_total",
			Help:      "Cycle-level failures by kind.",
		}, []string{"kind"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one inbound plus outbound poll cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
		ledgerSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ledger_entries",
			Help:      "Identifiers recorded in the dedup ledger.",
		}),
	}
	reg.MustRegister(m.cycleErrors, m.cycleDuration, m.ledgerSize)

	return m
}

// Registry exposes the underlying registry, mainly for tests and handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Inbound records the outcome counts of one inbound cycle.
func (m *Metrics) Inbound(listed, forwarded, duplicates, unresolved, failed int) {
	if m == nil {
		return
	}
	m.inboundListed.Add(float64(listed))
	m.inboundForwarded.Add(float64(forwarded))
	m.inboundDuplicates.Add(float64(duplicates))
	m.inboundUnresolved.Add(float64(unresolved))
	m.inboundFailures.Add(float64(failed))
}

// Outbound records the outcome counts of one outbound cycle.
func (m *Metrics) Outbound(fetched, sent, sendFailed, ackFailed int) {
	if m == nil {
		return
	}
	m.outboundFetched.Add(float64(fetched))
	m.outboundSent.Add(float64(sent))
	m.outboundSendFailed.Add(float64(sendFailed))
	m.outboundAckFailed.Add(float64(ackFailed))
}

// CycleError counts a cycle-level failure such as an unreachable device.
func (m *Metrics) CycleError(kind string) {
	if m == nil {
		return
	}
	m.cycleErrors.WithLabelValues(kind).Inc()
}

// ObserveCycle records the duration of one full poll cycle.
func (m *Metrics) ObserveCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.cycleDuration.Observe(d.Seconds())
}

// LedgerSize sets the current number of ledger entries.
func (m *Metrics) LedgerSize(n int) {
	if m == nil {
		return
	}
	m.ledgerSize.Set(float64(n))
}

// Handler serves the relay registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{\"status\":\"ok\"}"))
	})
	return mux
}

// Serve listens on addr and serves Handler until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen metrics %q: %w", addr, err)
	}

	server := &http.Server{
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown metrics server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve metrics: %w", err)
	}
}
