// Package cli wires configuration, the dedup ledger, the device adapter and
// the backend client into the smsrelay commands.
package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	DataDir string
}

// NewRootCommand creates the smsrelay root command.
//
// Invoked without a subcommand it behaves like "run".
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "smsrelay",
		Short: "Relay SMS between this device and a coordination backend",
		Long: `smsrelay polls the device for received SMS and forwards new ones to the
backend, then sends the messages the backend has queued and acknowledges them.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(cmd, opts)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.DataDir, "data-dir", "", "relay data directory (default: $SMS_RELAY_DATA_DIR or the user config dir)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewOnceCommand(opts))
	cmd.AddCommand(NewLedgerCommand(opts))

	return cmd
}
