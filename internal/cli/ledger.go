package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"votingrelay.mini/vrm/internal/abci"
	"votingrelay.mini/vrm/internal/config"
	"votingrelay.mini/vrm/internal/ledger"
	"votingrelay.mini/vrm/internal/tendermint"
	"votingrelay.mini/vrm/internal/types"
)

func newLedgerCommand(opts *options) *cobra.Command {
	var initHome, spawn bool

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Host the election application for a Tendermint node",
		Long: `Serve the election application on the ABCI socket (abci_socket) with
its state in SQLite under data_dir. The owner is owner_address, or the
address of the relay credential when unset. With --init the Tendermint
home is initialised first; with --spawn a tendermint node is started
against the socket.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			log, err := opts.logger()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runLedger(ctx, cfg, initHome, spawn, log)
		},
	}
	cmd.Flags().BoolVar(&initHome, "init", false, "initialise the tendermint home if needed")
	cmd.Flags().BoolVar(&spawn, "spawn", false, "start a tendermint node connected to the ABCI socket")
	return cmd
}

func ledgerOwner(cfg *config.Config) (string, error) {
	if cfg.OwnerAddress != "" {
		return types.CanonicalAddress(cfg.OwnerAddress)
	}
	id, err := loadCredential(cfg)
	if err != nil {
		return "", fmt.Errorf("no owner_address configured and %w", err)
	}
	return id.AddressHex(), nil
}

// ledgerChainID prefers the genesis chain id. A configured id that
// disagrees with genesis is an error.
func ledgerChainID(cfg *config.Config, home tendermint.Home) (string, error) {
	genesis, err := home.ChainID()
	switch {
	case errors.Is(err, os.ErrNotExist):
		return cfg.ChainID, nil
	case err != nil:
		return "", err
	case cfg.ChainID != "" && genesis != cfg.ChainID:
		return "", fmt.Errorf("genesis chain id %q does not match configured %q", genesis, cfg.ChainID)
	default:
		return genesis, nil
	}
}

func runLedger(ctx context.Context, cfg *config.Config, initHome, spawn bool, log *zap.Logger) error {
	owner, err := ledgerOwner(cfg)
	if err != nil {
		return err
	}

	home := tendermint.ResolveHome(cfg.TendermintHome)
	if initHome {
		if err := home.Init(); err != nil {
			return err
		}
	}
	chainID, err := ledgerChainID(cfg, home)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	store, err := ledger.NewStore(cfg.LedgerDB())
	if err != nil {
		return fmt.Errorf("open ledger store: %w", err)
	}
	defer store.Close()

	app, err := abci.NewElectionApp(owner, chainID, store, log)
	if err != nil {
		return err
	}
	app.BackupEvery = cfg.BackupEvery
	app.MaxBackups = cfg.MaxBackups

	server, err := tendermint.NewSocketServer(app, cfg.ABCISocket, log)
	if err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		return err
	}
	defer server.Stop()

	log.Info("election application listening",
		zap.String("socket", server.Addr()),
		zap.String("owner", owner),
		zap.String("chain_id", chainID),
		zap.Int64("height", app.Height()),
		zap.String("db", store.Path()))

	if !spawn {
		<-ctx.Done()
		log.Info("shutting down")
		return nil
	}

	node := home.NodeCommand(cfg.ABCISocket)
	if err := node.Start(); err != nil {
		return fmt.Errorf("start tendermint: %w", err)
	}
	exited := make(chan error, 1)
	go func() { exited <- node.Wait() }()

	select {
	case err := <-exited:
		if err != nil {
			return fmt.Errorf("tendermint exited: %w", err)
		}
		return errors.New("tendermint exited")
	case <-ctx.Done():
	}

	log.Info("stopping tendermint")
	if err := node.Process.Signal(os.Interrupt); err != nil {
		log.Warn("signal tendermint", zap.Error(err))
	}
	<-exited
	return nil
}
