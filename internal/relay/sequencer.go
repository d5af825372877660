package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"votingrelay.mini/vrm/internal/abci"
	"votingrelay.mini/vrm/internal/tendermint"
	"votingrelay.mini/vrm/internal/types"
)

const maxNonceResyncs = 2

// errUnconfirmed marks a broadcast that may have reached the node although
// no answer came back. Its transaction can still be committed.
var errUnconfirmed = errors.New("broadcast unconfirmed")

// Ticket identifies a signed transaction handed to the node.
type Ticket struct {
	Hash  string
	Nonce uint64
	epoch uint64
}

// Sequencer owns the credential's sequence number. Assigning a nonce,
// signing and broadcasting happen under one lock so transactions reach the
// mempool in nonce order.
type Sequencer struct {
	mu      sync.Mutex
	ledger  Ledger
	reader  *Reader
	signer  types.Signer
	chainID string

	next   uint64
	synced bool
	// epoch counts reloads from the ledger.
	epoch uint64

	retry   backoff
	metrics *Metrics
	log     *zap.Logger
}

func newSequencer(l Ledger, reader *Reader, signer types.Signer, chainID string, retry backoff, metrics *Metrics, log *zap.Logger) *Sequencer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sequencer{
		ledger:  l,
		reader:  reader,
		signer:  signer,
		chainID: chainID,
		retry:   retry,
		metrics: metrics,
		log:     log,
	}
}

// Next returns the nonce the next submission will use, if known.
func (s *Sequencer) Next() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next, s.synced
}

// Refused records that the ledger executed t against a different expected
// nonce, so nothing was applied. The nonce is reloaded before the next
// submission unless a reload already happened after t was signed.
func (s *Sequencer) Refused(t Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.epoch == s.epoch {
		s.synced = false
	}
}

func (s *Sequencer) resync(ctx context.Context) error {
	n, err := s.reader.Nonce(ctx, s.signer.Address().Hex())
	if err != nil {
		s.synced = false
		return err
	}
	if s.synced && n != s.next {
		s.log.Info("credential nonce resynced", zap.Uint64("local", s.next), zap.Uint64("ledger", n))
	}
	s.next = n
	s.synced = true
	s.epoch++
	s.metrics.incResync()
	return nil
}

// Submit signs and broadcasts one transaction and returns its ticket once
// the node has admitted it to the mempool. When the node may hold the
// transaction but never answered, the ticket is returned together with a
// SubmissionTimeout error wrapping errUnconfirmed.
func (s *Sequencer) Submit(ctx context.Context, txType types.TransactionType, payload interface{}) (Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.synced {
		if err := s.resync(ctx); err != nil {
			return Ticket{}, err
		}
	}

	for resyncs := 0; ; resyncs++ {
		raw, hash, err := s.build(txType, payload)
		if err != nil {
			return Ticket{}, err
		}
		t := Ticket{Hash: hash, Nonce: s.next, epoch: s.epoch}

		res, err := s.broadcast(ctx, raw)
		switch {
		case errors.Is(err, errUnconfirmed):
			// later transactions must not reuse a nonce the mempool may hold
			s.next++
			return t, &Error{Kind: KindSubmissionTimeout, Reason: "broadcast unconfirmed", TxHash: hash, Err: err}

		case err != nil:
			return Ticket{}, &Error{Kind: KindTransportFailure, Reason: "broadcast failed", Err: err}

		case res.Code == abci.CodeTypeOK:
			s.next++
			return t, nil

		case res.Code == abci.CodeTypeBadNonce && resyncs < maxNonceResyncs:
			s.log.Warn("ledger refused nonce", zap.Uint64("nonce", s.next), zap.String("reason", res.Log))
			if err := s.resync(ctx); err != nil {
				return Ticket{}, err
			}

		default:
			return Ticket{}, errorForCode(res.Code, res.Log, hash)
		}
	}
}

func (s *Sequencer) build(txType types.TransactionType, payload interface{}) ([]byte, string, error) {
	tx, err := types.NewTransaction(txType, s.chainID, s.next, payload)
	if err != nil {
		return nil, "", err
	}
	stx, err := tx.Sign(s.signer)
	if err != nil {
		return nil, "", err
	}
	raw, err := stx.Encode()
	if err != nil {
		return nil, "", fmt.Errorf("encode transaction: %w", err)
	}
	return raw, types.TxHash(raw), nil
}

// broadcast sends raw, repeating the identical bytes after transport
// failures. A node that already holds the bytes reports them as cached,
// which counts as admitted. Failures after an attempt that may have reached
// the node wrap errUnconfirmed; a node that was never dialed did not get
// the transaction.
func (s *Sequencer) broadcast(ctx context.Context, raw []byte) (tendermint.BroadcastResult, error) {
	var (
		res       tendermint.BroadcastResult
		maybeSent bool
	)
	err := s.retry.do(ctx, "broadcast_tx_sync", func() (err error) {
		res, err = s.ledger.BroadcastTxSync(ctx, raw)
		if errors.Is(err, tendermint.ErrTxInCache) {
			res, err = tendermint.BroadcastResult{Code: abci.CodeTypeOK, Hash: types.TxHash(raw)}, nil
		}
		if errors.Is(err, tendermint.ErrTransport) && !errors.Is(err, tendermint.ErrUnreachable) {
			maybeSent = true
		}
		return err
	})
	if err != nil && maybeSent {
		return res, fmt.Errorf("%w: %w", errUnconfirmed, err)
	}
	return res, err
}
