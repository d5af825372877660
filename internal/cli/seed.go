package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"votingrelay.mini/vrm/internal/config"
	"votingrelay.mini/vrm/internal/relay"
	"votingrelay.mini/vrm/internal/tendermint"
)

func newSeedCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "seed [name...]",
		Short: "Add candidates to the ballot",
		Long: `Add the named candidates, or the configured ones when no names are
given. Candidates already on the ballot are skipped, so seeding twice is
harmless. Must run with the owner's credential.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			svc, err := dialRelay(cmd.Context(), cfg, zap.NewNop())
			if err != nil {
				return err
			}
			if err := svc.VerifyOwner(cmd.Context()); err != nil {
				return err
			}

			names := args
			if len(names) == 0 {
				names = cfg.Candidates
			}
			added, err := seedCandidates(cmd.Context(), svc, names, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d candidate(s) added\n", added)
			return nil
		},
	}
}

// dialRelay builds a relay over the configured ledger RPC endpoint.
func dialRelay(ctx context.Context, cfg *config.Config, log *zap.Logger) (*relay.Service, error) {
	id, err := loadCredential(cfg)
	if err != nil {
		return nil, err
	}
	client := tendermint.NewBroadcastClient(cfg.LedgerRPC)
	chainID, err := resolveChainID(ctx, client, cfg.ChainID)
	if err != nil {
		return nil, err
	}
	return relay.NewService(client, id, relayConfig(cfg, chainID), relay.WithLogger(log)), nil
}
