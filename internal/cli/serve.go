package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"votingrelay.mini/vrm/internal/api"
	"votingrelay.mini/vrm/internal/config"
	"votingrelay.mini/vrm/internal/docs"
	"votingrelay.mini/vrm/internal/identity"
	"votingrelay.mini/vrm/internal/logger"
	"votingrelay.mini/vrm/internal/relay"
	"votingrelay.mini/vrm/internal/tendermint"
	"votingrelay.mini/vrm/internal/web"
)

func newServeCommand(opts *options) *cobra.Command {
	var devnetFlag bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP relay",
		Long: `Run the HTTP relay against the ledger at ledger_rpc. With --devnet the
ledger runs inside this process on a single-validator chain backed by
SQLite in data_dir, and the configured candidates are seeded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if devnetFlag {
				cfg.DevNet = true
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			log, err := opts.logger()
			if err != nil {
				return err
			}
			defer log.Sync()

			id, err := loadCredential(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, id, log)
		},
	}
	cmd.Flags().BoolVar(&devnetFlag, "devnet", false, "host an in-process dev chain instead of dialing ledger_rpc")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, id *identity.Identity, log *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var (
		ledgerAPI relay.Ledger
		archive   api.Archive
		chainID   = cfg.ChainID
	)

	// The dev chain outlives the HTTP server so that in-flight requests
	// can still reach finality during shutdown.
	chainCtx, stopChain := context.WithCancel(context.Background())
	var chainWG sync.WaitGroup
	defer func() {
		stopChain()
		chainWG.Wait()
	}()

	if cfg.DevNet {
		if chainID == "" {
			chainID = DevnetChainID
		}
		owner := cfg.OwnerAddress
		if owner == "" {
			owner = id.AddressHex()
		}
		chain, err := openDevChain(cfg, owner, chainID, log)
		if err != nil {
			return err
		}
		defer func() {
			stopChain()
			chainWG.Wait()
			chain.Close()
		}()

		chainWG.Add(1)
		go func() {
			defer chainWG.Done()
			chain.node.Run(chainCtx, cfg.BlockInterval.Std())
		}()
		ledgerAPI = chain.node
		archive = chain.store
	} else {
		ledgerAPI = tendermint.NewBroadcastClient(cfg.LedgerRPC)
		resolved, err := resolveChainID(ctx, ledgerAPI, chainID)
		if err != nil {
			return err
		}
		chainID = resolved
	}

	feed := logger.New(cfg.ActivitySize)
	svc := relay.NewService(ledgerAPI, id, relayConfig(cfg, chainID),
		relay.WithLogger(log),
		relay.WithMetrics(relay.NewMetrics(reg)),
		relay.WithActivity(feed))

	verifyCtx, cancel := context.WithTimeout(ctx, ledgerCheckTimeout)
	err := svc.VerifyOwner(verifyCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("refusing to start: %w", err)
	}
	log.Info("relay credential verified",
		zap.String("address", svc.Address()),
		zap.String("chain_id", chainID),
		zap.Bool("devnet", cfg.DevNet))

	if cfg.DevNet {
		added, err := seedCandidates(ctx, svc, cfg.Candidates, io.Discard)
		if err != nil {
			return err
		}
		if added > 0 {
			log.Info("seeded candidates", zap.Int("count", added))
		}
	}

	apiSvc := api.NewService(svc, svc.Reader(), feed, archive, docs.NewService(nil), log)
	apiSvc.MaxBackups = cfg.MaxBackups

	srv := web.NewServer(apiSvc, svc, svc.Reader(), reg, cfg.Port, log)
	errCh := srv.Start()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("web server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.FinalityTimeout.Std()+5*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
