package relay

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"votingrelay.mini/vrm/internal/tendermint"
)

const (
	defaultMaxRetries   = 3
	defaultRetryBackoff = 200 * time.Millisecond
	maxRetryBackoff     = 5 * time.Second
)

// backoff repeats ledger calls that failed in transport, doubling the
// delay between attempts. The zero value makes a single attempt.
type backoff struct {
	retries int
	initial time.Duration
	metrics *Metrics
	log     *zap.Logger
}

func newBackoff(retries int, initial time.Duration, metrics *Metrics, log *zap.Logger) backoff {
	if retries <= 0 {
		retries = defaultMaxRetries
	}
	if initial <= 0 {
		initial = defaultRetryBackoff
	}
	return backoff{retries: retries, initial: initial, metrics: metrics, log: log}
}

// do runs fn until it succeeds, fails with something other than
// tendermint.ErrTransport, or the retries are spent. The last error is
// returned, also when ctx ends the wait early.
func (b backoff) do(ctx context.Context, call string, fn func() error) error {
	delay := b.initial
	var err error
	for attempt := 0; attempt <= b.retries; attempt++ {
		if attempt > 0 {
			b.metrics.incRetry()
			select {
			case <-ctx.Done():
				return err
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxRetryBackoff {
				delay = maxRetryBackoff
			}
		}

		err = fn()
		if err == nil || !errors.Is(err, tendermint.ErrTransport) {
			return err
		}
		if b.log != nil {
			b.log.Warn("ledger call failed", zap.String("call", call), zap.Int("attempt", attempt+1), zap.Error(err))
		}
	}
	return err
}
