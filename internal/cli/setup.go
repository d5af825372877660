package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"votingrelay.mini/vrm/internal/abci"
	"votingrelay.mini/vrm/internal/config"
	"votingrelay.mini/vrm/internal/devnet"
	"votingrelay.mini/vrm/internal/identity"
	"votingrelay.mini/vrm/internal/ledger"
	"votingrelay.mini/vrm/internal/relay"
)

// DevnetChainID is used by --devnet when no chain id is configured.
const DevnetChainID = "vrm-devnet"

const ledgerCheckTimeout = 10 * time.Second

func loadCredential(cfg *config.Config) (*identity.Identity, error) {
	id, err := identity.LoadIdentity(cfg.PrivateKey, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("%w (set %s or run `vrm keygen`)", err, config.EnvPrivateKey)
	}
	return id, nil
}

func relayConfig(cfg *config.Config, chainID string) relay.Config {
	return relay.Config{
		ChainID:          chainID,
		FinalityTimeout:  cfg.FinalityTimeout.Std(),
		PollInterval:     cfg.PollInterval.Std(),
		MaxSubmitRetries: cfg.MaxSubmitRetries,
		RetryBackoff:     cfg.RetryBackoff.Std(),
	}
}

// resolveChainID returns the configured chain id, or the ledger's own when
// none is configured.
func resolveChainID(ctx context.Context, l relay.Ledger, configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	ctx, cancel := context.WithTimeout(ctx, ledgerCheckTimeout)
	defer cancel()
	st, err := l.Status(ctx)
	if err != nil {
		return "", fmt.Errorf("ledger status: %w", err)
	}
	if st.Network == "" {
		return "", fmt.Errorf("ledger reports no chain id; set %s", config.EnvChainID)
	}
	return st.Network, nil
}

// devChain is a ledger hosted inside the relay process.
type devChain struct {
	node  *devnet.Node
	app   *abci.ElectionApp
	store *ledger.Store
}

func openDevChain(cfg *config.Config, owner, chainID string, log *zap.Logger) (*devChain, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	store, err := ledger.NewStore(cfg.LedgerDB())
	if err != nil {
		return nil, fmt.Errorf("open ledger store: %w", err)
	}
	app, err := abci.NewElectionApp(owner, chainID, store, log)
	if err != nil {
		store.Close()
		return nil, err
	}
	app.BackupEvery = cfg.BackupEvery
	app.MaxBackups = cfg.MaxBackups
	return &devChain{
		node:  devnet.NewNode(app, chainID, log, devnet.WithTxIndex(devnet.StoreIndex(store))),
		app:   app,
		store: store,
	}, nil
}

func (d *devChain) Close() error {
	return d.store.Close()
}

// seedCandidates adds every name not already on the ballot, in order.
// Names are compared case-insensitively after trimming.
func seedCandidates(ctx context.Context, svc *relay.Service, names []string, out io.Writer) (int, error) {
	existing, err := svc.Reader().Candidates(ctx)
	if err != nil {
		return 0, fmt.Errorf("read candidates: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, c := range existing {
		have[strings.ToLower(strings.TrimSpace(c.Name))] = true
	}

	added := 0
	for _, name := range names {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" || have[key] {
			continue
		}
		receipt, err := svc.AddCandidate(ctx, name)
		if err != nil {
			return added, fmt.Errorf("add candidate %q: %w", name, err)
		}
		have[key] = true
		added++
		fmt.Fprintf(out, "added %s (tx %s, height %d)\n", strings.TrimSpace(name), receipt.TxHash, receipt.Height)
	}
	return added, nil
}
