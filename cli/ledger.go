package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewLedgerCommand creates the ledger command.
func NewLedgerCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "ledger",
		Short:         "Print the identifiers already forwarded to the backend",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(opts)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			l, closeLedger, err := openLedger(cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = closeLedger()
			}()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "backend: %s\n", cfg.LedgerBackend)
			fmt.Fprintf(out, "path: %s\n", cfg.LedgerPath)
			fmt.Fprintf(out, "entries: %d\n", l.Len())
			for _, key := range l.Keys() {
				fmt.Fprintln(out, key)
			}
			return nil
		},
	}
}
