package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"smsrelay/config"
	"smsrelay/discovery"
)

// NewRunCommand creates the run command.
func NewRunCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll the device and the backend until interrupted",
		Long: `Run the relay loop: each cycle forwards new device SMS to the backend,
then sends and acknowledges queued outgoing messages, then waits the
configured poll interval. SIGINT or SIGTERM stops the loop after the
current cycle.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(cmd, opts)
		},
	}
}

// NewOnceCommand creates the once command.
func NewOnceCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "once",
		Short:         "Run a single inbound and outbound cycle, then exit",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, opts)
		},
	}
}

func runRelay(cmd *cobra.Command, opts *RootOptions) error {
	a, err := newApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Relay ID:        %s\n", a.cfg.RelayID)
	fmt.Fprintf(out, "Backend:         %s\n", a.cfg.BackendURL)
	fmt.Fprintf(out, "Config File:     %s\n", a.cfgPath)
	fmt.Fprintf(out, "Ledger:          %s (%s, %d entries)\n", a.cfg.LedgerPath, a.cfg.LedgerBackend, a.ledger.Len())
	fmt.Fprintf(out, "Poll Interval:   %s\n", a.cfg.PollInterval())

	if a.cfg.MetricsAddr != "" {
		fmt.Fprintf(out, "Metrics:         http://%s/metrics\n", a.cfg.MetricsAddr)
		go func() {
			if err := a.metrics.Serve(ctx, a.cfg.MetricsAddr); err != nil {
				log.Printf("metrics: %v", err)
			}
		}()

		if a.cfg.MDNSAnnounce {
			if announcer, err := startAnnouncer(a.cfg); err != nil {
				log.Printf("discovery startup failed: %v", err)
			} else {
				defer announcer.Stop()
				fmt.Fprintln(out, "Discovery:       announcing "+discovery.DefaultService)
			}
		}
	}

	fmt.Fprintln(out, "Status:          running (press Ctrl+C to stop)")
	if err := a.loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	fmt.Fprintln(out, "Status:          shutting down")
	return nil
}

func runOnce(cmd *cobra.Command, opts *RootOptions) error {
	a, err := newApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	reports, err := a.loop.RunCycles(cmd.Context(), 1)
	if err != nil {
		return err
	}

	report := reports[0]
	in, out := report.Inbound, report.Outbound
	fmt.Fprintf(cmd.OutOrStdout(),
		"inbound listed=%d forwarded=%d failed=%d duplicates=%d unresolved=%d\n",
		in.Listed, in.Forwarded, in.Failed, in.Duplicates, in.Unresolved)
	fmt.Fprintf(cmd.OutOrStdout(),
		"outbound fetched=%d sent=%d skipped=%d send_failed=%d ack_failed=%d\n",
		out.Fetched, out.Sent, out.Skipped, out.SendFailed, out.AckFailed)
	return nil
}

func startAnnouncer(cfg *config.RelayConfig) (*discovery.Announcer, error) {
	port, err := discovery.PortFromAddr(cfg.MetricsAddr)
	if err != nil {
		return nil, err
	}
	return discovery.StartAnnouncer(discovery.Config{
		RelayID: cfg.RelayID,
		Port:    port,
	})
}
