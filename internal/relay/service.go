package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"votingrelay.mini/vrm/internal/abci"
	"votingrelay.mini/vrm/internal/logger"
	"votingrelay.mini/vrm/internal/types"
)

// DefaultFinalityTimeout bounds the wait for a submitted transaction.
const DefaultFinalityTimeout = 30 * time.Second

// Config tunes submission and finality.
type Config struct {
	ChainID          string
	FinalityTimeout  time.Duration
	PollInterval     time.Duration
	MaxSubmitRetries int
	RetryBackoff     time.Duration
}

// Finalized describes a transaction that was committed successfully.
type Finalized struct {
	RequestID string `json:"requestId"`
	Op        string `json:"op"`
	Address   string `json:"address,omitempty"`
	TxHash    string `json:"transactionId"`
	Height    int64  `json:"sequencePosition"`
}

// Status summarizes the relay's view of its credential.
type Status struct {
	Address      string `json:"address"`
	Owner        string `json:"owner"`
	OwnerMatch   bool   `json:"ownerMatch"`
	NextNonce    uint64 `json:"nextNonce"`
	ChainID      string `json:"chainId"`
	LatestHeight int64  `json:"latestHeight"`
}

// Service relays election operations to the ledger.
type Service struct {
	cfg      Config
	ledger   Ledger
	signer   types.Signer
	seq      *Sequencer
	reader   *Reader
	metrics  *Metrics
	activity *logger.Logger
	log      *zap.Logger

	subsMu sync.Mutex
	subs   map[chan Finalized]struct{}
}

// Option customizes a Service.
type Option func(*Service)

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithActivity records every outcome in the given feed.
func WithActivity(a *logger.Logger) Option {
	return func(s *Service) { s.activity = a }
}

// NewService creates a relay that signs with signer.
func NewService(l Ledger, signer types.Signer, cfg Config, opts ...Option) *Service {
	if cfg.FinalityTimeout <= 0 {
		cfg.FinalityTimeout = DefaultFinalityTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	s := &Service{
		cfg:    cfg,
		ledger: l,
		signer: signer,
		log:    zap.NewNop(),
		subs:   make(map[chan Finalized]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("relay")
	retry := newBackoff(cfg.MaxSubmitRetries, cfg.RetryBackoff, s.metrics, s.log)
	s.reader = &Reader{ledger: l, retry: retry}
	s.seq = newSequencer(l, s.reader, signer, cfg.ChainID, retry, s.metrics, s.log)
	return s
}

// Reader returns the credential-free read path over the same ledger.
func (s *Service) Reader() *Reader {
	return s.reader
}

// Address returns the relay credential's address.
func (s *Service) Address() string {
	return s.signer.Address().Hex()
}

// Register makes voter eligible to vote.
func (s *Service) Register(ctx context.Context, voter string) (types.Receipt, error) {
	addr, err := canonical(voter)
	if err != nil {
		return types.Receipt{}, s.rejectInput("register", voter, err)
	}
	return s.submit(ctx, "register", addr, types.TxRegisterVoter, types.VoterPayload{Address: addr})
}

// Unregister revokes eligibility. A voter who already voted stays counted.
func (s *Service) Unregister(ctx context.Context, voter string) (types.Receipt, error) {
	addr, err := canonical(voter)
	if err != nil {
		return types.Receipt{}, s.rejectInput("unregister", voter, err)
	}
	return s.submit(ctx, "unregister", addr, types.TxUnregisterVoter, types.VoterPayload{Address: addr})
}

// Vote casts voter's vote for candidateID.
func (s *Service) Vote(ctx context.Context, voter string, candidateID uint64) (types.Receipt, error) {
	addr, err := canonical(voter)
	if err != nil {
		return types.Receipt{}, s.rejectInput("vote", voter, err)
	}
	return s.submit(ctx, "vote", addr, types.TxVoteFor, types.VoteForPayload{Address: addr, CandidateID: candidateID})
}

// AddCandidate creates a candidate. Used when seeding an election.
func (s *Service) AddCandidate(ctx context.Context, name string) (types.Receipt, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return types.Receipt{}, s.rejectInput("add_candidate", "", &Error{Kind: KindInvalidRequest, Reason: "candidate name must not be empty"})
	}
	return s.submit(ctx, "add_candidate", "", types.TxAddCandidate, types.AddCandidatePayload{Name: name})
}

func (s *Service) rejectInput(op, addr string, err error) error {
	s.metrics.observeOutcome(op, string(KindInvalidRequest))
	s.log.Debug("request rejected", zap.String("op", op), zap.String("address", addr), zap.Error(err))
	return err
}

// submit runs build, sign, submit and wait. The caller's cancellation is
// ignored from here on: once a transaction may be in the mempool its
// outcome is always awaited and recorded.
func (s *Service) submit(ctx context.Context, op, addr string, txType types.TransactionType, payload interface{}) (types.Receipt, error) {
	reqID := uuid.NewString()
	log := s.log.With(zap.String("request_id", reqID), zap.String("op", op), zap.String("address", addr))
	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	var (
		receipt types.Receipt
		t       Ticket
		err     error
	)
	for resyncs := 0; ; resyncs++ {
		receipt, t, err = s.submitOnce(ctx, log, txType, payload)
		if err == nil || receipt.Code != abci.CodeTypeBadNonce || resyncs >= maxNonceResyncs {
			break
		}
		// executed against another expected nonce: nothing was applied
		log.Warn("ledger refused nonce, re-signing", zap.String("tx", t.Hash), zap.Uint64("nonce", t.Nonce), zap.String("reason", receipt.Log))
		s.seq.Refused(t)
	}
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			s.checkOwner(ctx, reqID, log)
		}
		return receipt, s.fail(reqID, op, addr, log, err)
	}
	s.metrics.observeFinality(time.Since(start))

	s.metrics.observeOutcome(op, "ok")
	log.Info("transaction finalized", zap.String("tx", t.Hash), zap.Int64("height", receipt.Height), zap.Int64("gas_used", receipt.GasUsed))
	s.record(logger.Entry{
		Level:     logger.LevelInfo,
		RequestID: reqID,
		Op:        op,
		Address:   addr,
		TxHash:    t.Hash,
		Text:      fmt.Sprintf("finalized at height %d", receipt.Height),
	})
	s.publish(Finalized{RequestID: reqID, Op: op, Address: addr, TxHash: t.Hash, Height: receipt.Height})
	return receipt, nil
}

// submitOnce hands one signed transaction to the ledger and waits for its
// result. An unconfirmed broadcast is awaited like an admitted one, since
// only the ledger knows whether it arrived.
func (s *Service) submitOnce(ctx context.Context, log *zap.Logger, txType types.TransactionType, payload interface{}) (types.Receipt, Ticket, error) {
	t, err := s.seq.Submit(ctx, txType, payload)
	unconfirmed := errors.Is(err, errUnconfirmed)
	if err != nil && !unconfirmed {
		return types.Receipt{}, t, err
	}
	log = log.With(zap.String("tx", t.Hash), zap.Uint64("nonce", t.Nonce))
	if unconfirmed {
		log.Warn("broadcast unconfirmed, awaiting the ledger", zap.Error(err))
	} else {
		log.Debug("transaction submitted")
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.FinalityTimeout)
	defer cancel()

	res, werr := WaitFinalized(waitCtx, s.ledger, t.Hash, s.cfg.PollInterval, log)
	if werr != nil {
		reason := "lost track of the transaction; re-query before re-submitting"
		if errors.Is(werr, context.DeadlineExceeded) {
			reason = fmt.Sprintf("not finalized within %s; re-query before re-submitting", s.cfg.FinalityTimeout)
			werr = nil
		}
		if unconfirmed {
			reason = "broadcast unconfirmed and " + reason
			werr = errors.Join(errors.Unwrap(err), werr)
		}
		return types.Receipt{}, t, &Error{Kind: KindSubmissionTimeout, Reason: reason, TxHash: t.Hash, Err: werr}
	}

	receipt := types.Receipt{
		TxHash:  t.Hash,
		Height:  res.Height,
		GasUsed: res.GasUsed,
		Code:    res.Code,
		Log:     res.Log,
	}
	if res.Code != abci.CodeTypeOK {
		return receipt, t, errorForCode(res.Code, res.Log, t.Hash)
	}
	return receipt, t, nil
}

// checkOwner compares the credential with the ledger owner after the ledger
// refused it, so a replaced owner shows up as a configuration error.
func (s *Service) checkOwner(ctx context.Context, reqID string, log *zap.Logger) {
	err := s.VerifyOwner(ctx)
	if err == nil {
		return
	}
	log.Error("relay credential misconfigured", zap.Error(err))
	s.record(logger.Entry{
		Level:     logger.LevelError,
		RequestID: reqID,
		Op:        "verify_owner",
		Address:   s.Address(),
		Text:      err.Error(),
	})
}

func (s *Service) fail(reqID, op, addr string, log *zap.Logger, err error) error {
	var rerr *Error
	if !errors.As(err, &rerr) {
		rerr = &Error{Kind: KindRejected, Err: err}
	}
	s.metrics.observeOutcome(op, string(rerr.Kind))

	var level string
	if rerr.Final() {
		level = logger.LevelInfo
		log.Info("ledger rejected transaction", zap.String("kind", string(rerr.Kind)), zap.String("reason", rerr.Reason))
	} else {
		level = logger.LevelError
		log.Warn("relay failed", zap.String("kind", string(rerr.Kind)), zap.Error(err))
	}
	s.record(logger.Entry{
		Level:     level,
		RequestID: reqID,
		Op:        op,
		Address:   addr,
		TxHash:    rerr.TxHash,
		Kind:      string(rerr.Kind),
		Text:      rerr.Error(),
	})
	return rerr
}

func (s *Service) record(e logger.Entry) {
	if s.activity != nil {
		s.activity.Record(e)
	}
}

// Subscribe returns a channel of successfully finalized transactions and a
// function that cancels the subscription. Slow subscribers miss events.
func (s *Service) Subscribe() (<-chan Finalized, func()) {
	ch := make(chan Finalized, 16)
	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, ch)
			s.subsMu.Unlock()
			close(ch)
		})
	}
}

func (s *Service) publish(f Finalized) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- f:
		default:
		}
	}
}

// VerifyOwner checks that the ledger is reachable, runs the configured
// chain and is administered by the relay credential.
func (s *Service) VerifyOwner(ctx context.Context) error {
	st, err := s.ledger.Status(ctx)
	if err != nil {
		return fmt.Errorf("ledger status: %w", err)
	}
	if s.cfg.ChainID != "" && st.Network != s.cfg.ChainID {
		return fmt.Errorf("ledger runs chain %q, relay is configured for %q", st.Network, s.cfg.ChainID)
	}
	owner, err := s.reader.Owner(ctx)
	if err != nil {
		return fmt.Errorf("ledger owner: %w", err)
	}
	if !strings.EqualFold(owner, s.Address()) {
		return fmt.Errorf("%w: relay %s, ledger owner %s", ErrOwnerMismatch, s.Address(), owner)
	}
	return nil
}

// Status reports the credential, the ledger owner and the nonce state.
func (s *Service) Status(ctx context.Context) (Status, error) {
	st := Status{Address: s.Address(), ChainID: s.cfg.ChainID}

	node, err := s.ledger.Status(ctx)
	if err != nil {
		return st, &Error{Kind: KindTransportFailure, Reason: "ledger status", Err: err}
	}
	st.ChainID = node.Network
	st.LatestHeight = node.LatestHeight

	owner, err := s.reader.Owner(ctx)
	if err != nil {
		return st, err
	}
	st.Owner = owner
	st.OwnerMatch = strings.EqualFold(owner, st.Address)

	if next, ok := s.seq.Next(); ok {
		st.NextNonce = next
	} else if n, err := s.reader.Nonce(ctx, st.Address); err == nil {
		st.NextNonce = n
	}
	return st, nil
}
