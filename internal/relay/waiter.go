package relay

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"votingrelay.mini/vrm/internal/tendermint"
)

// DefaultPollInterval is used when no poll interval is configured.
const DefaultPollInterval = 500 * time.Millisecond

// WaitFinalized polls the ledger until hash is committed or ctx is done.
// Transport failures during the wait are logged and polled through, since
// the transaction is already in the node's hands.
func WaitFinalized(ctx context.Context, l Ledger, hash string, interval time.Duration, log *zap.Logger) (tendermint.TxResult, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	queryTicker := time.NewTicker(interval)
	defer queryTicker.Stop()

	for {
		res, err := l.Tx(ctx, hash)
		switch {
		case err == nil:
			return res, nil
		case errors.Is(err, tendermint.ErrTxNotFound):
			log.Debug("transaction not yet finalized", zap.String("tx", hash))
		case errors.Is(err, tendermint.ErrTransport):
			log.Warn("polling transaction", zap.String("tx", hash), zap.Error(err))
		case ctx.Err() != nil:
			return tendermint.TxResult{}, ctx.Err()
		default:
			return tendermint.TxResult{}, err
		}

		select {
		case <-ctx.Done():
			return tendermint.TxResult{}, ctx.Err()
		case <-queryTicker.C:
		}
	}
}
