// Package cli defines the vrm command line: the HTTP relay, the ledger
// node host and the operator tools around them.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"votingrelay.mini/vrm/internal/config"
	"votingrelay.mini/vrm/internal/types"
)

// options are the persistent flags shared by every command.
type options struct {
	configFile string
	debug      bool
}

// NewRootCommand builds the vrm command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "vrm",
		Short: "Gas-sponsored voting relay",
		Long: `vrm relays election operations to an append-only ledger on behalf of
voters. The relay signs every transaction with its own credential and pays
for it; the ledger enforces the election rules.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (JSON or YAML; defaults to $CONFIG_FILE)")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "development logging")

	root.AddCommand(
		newServeCommand(opts),
		newLedgerCommand(opts),
		newSeedCommand(opts),
		newKeygenCommand(opts),
		newVerifyAdminCommand(opts),
		newCheckEnvCommand(opts),
		newVersionCommand(),
	)
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func (o *options) load() (*config.Config, error) {
	cfg, err := config.LoadConfig(o.configFile)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (o *options) logger() (*zap.Logger, error) {
	if o.debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the vrm version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "vrm %s (built %s)\n", types.Version, types.BuildTime)
		},
	}
}
