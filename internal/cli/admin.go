package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"votingrelay.mini/vrm/internal/config"
	"votingrelay.mini/vrm/internal/relay"
	"votingrelay.mini/vrm/internal/tendermint"
)

func newVerifyAdminCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-admin",
		Short: "Check that the relay credential owns the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			svc, err := dialRelay(cmd.Context(), cfg, zap.NewNop())
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), ledgerCheckTimeout)
			defer cancel()
			return verifyAdmin(ctx, svc, cmd.OutOrStdout())
		},
	}
}

func verifyAdmin(ctx context.Context, svc *relay.Service, out io.Writer) error {
	st, err := svc.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "relay address  %s\n", st.Address)
	fmt.Fprintf(out, "ledger owner   %s\n", st.Owner)
	fmt.Fprintf(out, "chain id       %s (height %d)\n", st.ChainID, st.LatestHeight)
	fmt.Fprintf(out, "next nonce     %d\n", st.NextNonce)
	if !st.OwnerMatch {
		fmt.Fprintln(out, "owner match    NO")
		return relay.ErrOwnerMismatch
	}
	fmt.Fprintln(out, "owner match    yes")
	return nil
}

var errCheckFailed = errors.New("environment check failed")

func newCheckEnvCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check-env",
		Short: "Report configuration and connectivity problems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "FAIL config: %v\n", err)
				return errCheckFailed
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), ledgerCheckTimeout)
			defer cancel()
			return checkEnv(ctx, cfg, cmd.OutOrStdout())
		},
	}
}

func checkEnv(ctx context.Context, cfg *config.Config, out io.Writer) error {
	ok := true
	report := func(err error, what string) {
		if err != nil {
			ok = false
			fmt.Fprintf(out, "FAIL %s: %v\n", what, err)
			return
		}
		fmt.Fprintf(out, "ok   %s\n", what)
	}

	report(cfg.Validate(), "configuration")

	id, err := loadCredential(cfg)
	report(err, "relay credential")
	if id != nil {
		fmt.Fprintf(out, "     address %s\n", id.AddressHex())
	}

	if cfg.DevNet {
		fmt.Fprintf(out, "ok   ledger: in-process dev chain, data in %s\n", cfg.DataDir)
	} else {
		client := tendermint.NewBroadcastClient(cfg.LedgerRPC)
		st, err := client.Status(ctx)
		report(err, "ledger reachable at "+cfg.LedgerRPC)
		if err == nil && cfg.ChainID != "" && st.Network != cfg.ChainID {
			report(fmt.Errorf("ledger runs %q, configured %q", st.Network, cfg.ChainID), "chain id")
		}
	}

	if !ok {
		return errCheckFailed
	}
	return nil
}
