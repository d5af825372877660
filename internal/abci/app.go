// Package abci contains the ABCI application that connects the election
// rules to a consensus engine. It implements transaction validation
// (CheckTx) and execution (DeliverTx), answers read-only queries, and
// persists every committed block through the ledger store. Signatures,
// sequence numbers and election rules are all enforced here, regardless of
// who submitted the transaction.
package abci

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	abci "github.com/tendermint/tendermint/abci/types"
	"go.uber.org/zap"

	"votingrelay.mini/vrm/internal/ledger"
	"votingrelay.mini/vrm/internal/types"
)

const (
	CodeTypeOK               uint32 = 0
	CodeTypeEncodingError    uint32 = 1
	CodeTypeAuthError        uint32 = 2
	CodeTypeInvalidTx        uint32 = 3
	CodeTypeUnauthorized     uint32 = 4
	CodeTypeNotRegistered    uint32 = 5
	CodeTypeAlreadyVoted     uint32 = 6
	CodeTypeUnknownCandidate uint32 = 7
	CodeTypeBadNonce         uint32 = 8
)

// Query paths served by Query.
const (
	PathCandidates = "/candidates"
	PathRegistered = "/registered"
	PathVoter      = "/voter"
	PathOwner      = "/owner"
	PathNonce      = "/nonce"
)

// AppName is reported by Info.
const AppName = "vrm"

// ElectionApp implements the ABCI interface over ledger.State.
type ElectionApp struct {
	abci.BaseApplication

	mu      sync.Mutex
	state   *ledger.State
	store   *ledger.Store
	chainID string
	log     *zap.Logger

	height    int64
	appHash   []byte
	blockH    int64
	blockTime time.Time
	pending   []ledger.TxRecord

	// BackupEvery takes a database backup every N committed blocks when a
	// store is attached. Zero disables backups.
	BackupEvery int64
	// MaxBackups bounds the number of backup files kept.
	MaxBackups int
}

// NewElectionApp creates the application. When store is non-nil the last
// committed state is restored from it; a restored state administered by a
// different owner is an error.
func NewElectionApp(owner, chainID string, store *ledger.Store, log *zap.Logger) (*ElectionApp, error) {
	if log == nil {
		log = zap.NewNop()
	}
	app := &ElectionApp{
		store:   store,
		chainID: chainID,
		log:     log.Named("abci"),
	}

	if store != nil {
		st, _, err := store.LoadState()
		if err != nil {
			return nil, err
		}
		if st != nil {
			want, err := types.CanonicalAddress(owner)
			if err != nil {
				return nil, fmt.Errorf("owner: %w", err)
			}
			if st.Owner != want {
				return nil, fmt.Errorf("ledger at %s is owned by %s, not %s", store.Path(), st.Owner, want)
			}
			last, err := store.LastBlock()
			if err != nil {
				return nil, err
			}
			app.state = st
			app.height = last.Height
			app.appHash = last.AppHash
			app.log.Info("restored ledger state",
				zap.Int64("height", app.height),
				zap.Int("candidates", len(st.Candidates)))
			return app, nil
		}
	}

	st, err := ledger.NewState(owner)
	if err != nil {
		return nil, err
	}
	app.state = st
	return app, nil
}

// State returns a copy of the current application state.
func (app *ElectionApp) State() *ledger.State {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.state.Clone()
}

// Height returns the last committed height.
func (app *ElectionApp) Height() int64 {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.height
}

// ChainID returns the chain id transactions must carry.
func (app *ElectionApp) ChainID() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.chainID
}

func (app *ElectionApp) Info(req abci.RequestInfo) abci.ResponseInfo {
	app.mu.Lock()
	defer app.mu.Unlock()
	return abci.ResponseInfo{
		Data:             AppName,
		Version:          types.Version,
		LastBlockHeight:  app.height,
		LastBlockAppHash: app.appHash,
	}
}

func (app *ElectionApp) InitChain(req abci.RequestInitChain) abci.ResponseInitChain {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.chainID == "" {
		app.chainID = req.ChainId
	} else if req.ChainId != "" && req.ChainId != app.chainID {
		app.log.Warn("genesis chain id differs from configured chain id",
			zap.String("genesis", req.ChainId), zap.String("configured", app.chainID))
	}
	return abci.ResponseInitChain{}
}

func (app *ElectionApp) Query(req abci.RequestQuery) abci.ResponseQuery {
	app.mu.Lock()
	defer app.mu.Unlock()

	var value interface{}
	arg := strings.TrimSpace(string(req.Data))

	switch req.Path {
	case PathCandidates:
		value = app.state.AllCandidates()
	case PathOwner:
		value = app.state.Owner
	case PathRegistered, PathVoter:
		v, err := app.state.Voter(arg)
		if err != nil {
			return abci.ResponseQuery{Code: CodeTypeInvalidTx, Log: err.Error(), Height: app.height}
		}
		if req.Path == PathRegistered {
			value = v.Registered
		} else {
			value = v
		}
	case PathNonce:
		if _, err := types.CanonicalAddress(arg); err != nil {
			return abci.ResponseQuery{Code: CodeTypeInvalidTx, Log: err.Error(), Height: app.height}
		}
		value = app.state.Nonce(arg)
	default:
		return abci.ResponseQuery{Code: CodeTypeInvalidTx, Log: "unknown query path " + req.Path, Height: app.height}
	}

	data, err := json.Marshal(value)
	if err != nil {
		return abci.ResponseQuery{Code: CodeTypeEncodingError, Log: err.Error(), Height: app.height}
	}
	return abci.ResponseQuery{Code: CodeTypeOK, Value: data, Height: app.height}
}

// decode parses and authenticates a raw transaction. It returns a non-zero
// code and a reason when the transaction must be rejected.
func (app *ElectionApp) decode(raw []byte) (*types.SignedTransaction, *types.Transaction, uint32, string) {
	stx, err := types.DecodeSignedTransaction(raw)
	if err != nil {
		return nil, nil, CodeTypeEncodingError, "failed to decode signed tx"
	}
	if !stx.Verify() {
		return nil, nil, CodeTypeAuthError, "invalid signature"
	}
	tx, err := stx.GetTransaction()
	if err != nil {
		return nil, nil, CodeTypeEncodingError, "failed to decode inner tx"
	}
	if app.chainID != "" && tx.ChainID != app.chainID {
		return nil, nil, CodeTypeAuthError, fmt.Sprintf("wrong chain id %q", tx.ChainID)
	}
	return stx, tx, CodeTypeOK, ""
}

func (app *ElectionApp) CheckTx(req abci.RequestCheckTx) abci.ResponseCheckTx {
	app.mu.Lock()
	defer app.mu.Unlock()

	stx, tx, code, reason := app.decode(req.Tx)
	if code != CodeTypeOK {
		return abci.ResponseCheckTx{Code: code, Log: reason}
	}

	// Several transactions from one signer may wait in the mempool, so only
	// nonces that can never be delivered are refused here.
	if expected := app.state.Nonce(stx.Signer); tx.Nonce < expected {
		return abci.ResponseCheckTx{
			Code: CodeTypeBadNonce,
			Log:  fmt.Sprintf("stale nonce %d, expected %d", tx.Nonce, expected),
		}
	}

	return abci.ResponseCheckTx{Code: CodeTypeOK, GasWanted: ledger.GasCost(tx.Type, true)}
}

func (app *ElectionApp) BeginBlock(req abci.RequestBeginBlock) abci.ResponseBeginBlock {
	app.mu.Lock()
	defer app.mu.Unlock()
	app.blockH = req.Header.Height
	app.blockTime = req.Header.Time
	app.pending = app.pending[:0]
	return abci.ResponseBeginBlock{}
}

func (app *ElectionApp) DeliverTx(req abci.RequestDeliverTx) abci.ResponseDeliverTx {
	app.mu.Lock()
	defer app.mu.Unlock()

	resp := app.deliver(req.Tx)
	app.pending = append(app.pending, ledger.TxRecord{
		Hash:    types.TxHash(req.Tx),
		Index:   uint32(len(app.pending)),
		Code:    resp.Code,
		Log:     resp.Log,
		GasUsed: resp.GasUsed,
		Raw:     req.Tx,
	})
	return resp
}

func (app *ElectionApp) deliver(raw []byte) abci.ResponseDeliverTx {
	stx, tx, code, reason := app.decode(raw)
	if code != CodeTypeOK {
		return abci.ResponseDeliverTx{Code: code, Log: reason}
	}

	if expected := app.state.Nonce(stx.Signer); tx.Nonce != expected {
		return abci.ResponseDeliverTx{
			Code: CodeTypeBadNonce,
			Log:  fmt.Sprintf("bad nonce %d, expected %d", tx.Nonce, expected),
		}
	}
	app.state.IncrementNonce(stx.Signer)

	err := app.apply(stx.Signer, tx)
	gas := ledger.GasCost(tx.Type, err == nil)
	if err != nil {
		app.log.Info("transaction rejected",
			zap.String("type", string(tx.Type)),
			zap.Uint64("nonce", tx.Nonce),
			zap.Error(err))
		return abci.ResponseDeliverTx{Code: codeFor(err), Log: err.Error(), GasUsed: gas}
	}

	app.log.Debug("transaction applied",
		zap.String("type", string(tx.Type)),
		zap.Uint64("nonce", tx.Nonce))
	return abci.ResponseDeliverTx{Code: CodeTypeOK, GasUsed: gas}
}

var errUnknownType = errors.New("unknown transaction type")

func (app *ElectionApp) apply(signer string, tx *types.Transaction) error {
	switch tx.Type {
	case types.TxAddCandidate:
		var p types.AddCandidatePayload
		if err := json.Unmarshal(tx.Payload, &p); err != nil {
			return fmt.Errorf("%w: %v", errPayload, err)
		}
		_, err := app.state.AddCandidate(signer, p.Name)
		return err

	case types.TxRegisterVoter:
		var p types.VoterPayload
		if err := json.Unmarshal(tx.Payload, &p); err != nil {
			return fmt.Errorf("%w: %v", errPayload, err)
		}
		return app.state.RegisterVoter(signer, p.Address)

	case types.TxUnregisterVoter:
		var p types.VoterPayload
		if err := json.Unmarshal(tx.Payload, &p); err != nil {
			return fmt.Errorf("%w: %v", errPayload, err)
		}
		return app.state.UnregisterVoter(signer, p.Address)

	case types.TxVoteFor:
		var p types.VoteForPayload
		if err := json.Unmarshal(tx.Payload, &p); err != nil {
			return fmt.Errorf("%w: %v", errPayload, err)
		}
		return app.state.VoteFor(signer, p.Address, p.CandidateID)

	case types.TxVote:
		var p types.VotePayload
		if err := json.Unmarshal(tx.Payload, &p); err != nil {
			return fmt.Errorf("%w: %v", errPayload, err)
		}
		return app.state.Vote(signer, p.CandidateID)

	default:
		return errUnknownType
	}
}

var errPayload = errors.New("malformed payload")

func codeFor(err error) uint32 {
	switch {
	case errors.Is(err, ledger.ErrUnauthorized):
		return CodeTypeUnauthorized
	case errors.Is(err, ledger.ErrNotRegistered):
		return CodeTypeNotRegistered
	case errors.Is(err, ledger.ErrAlreadyVoted):
		return CodeTypeAlreadyVoted
	case errors.Is(err, ledger.ErrUnknownCandidate):
		return CodeTypeUnknownCandidate
	case errors.Is(err, errPayload):
		return CodeTypeEncodingError
	default:
		return CodeTypeInvalidTx
	}
}

func (app *ElectionApp) EndBlock(req abci.RequestEndBlock) abci.ResponseEndBlock {
	return abci.ResponseEndBlock{}
}

func (app *ElectionApp) Commit() abci.ResponseCommit {
	app.mu.Lock()
	defer app.mu.Unlock()

	if err := app.state.CheckInvariants(); err != nil {
		app.log.Error("election invariant violated", zap.Int64("height", app.blockH), zap.Error(err))
	}

	hash, err := app.state.Hash()
	if err != nil {
		app.log.Error("hash state", zap.Error(err))
		return abci.ResponseCommit{Data: app.appHash}
	}

	height := app.blockH
	if height <= app.height {
		height = app.height + 1
	}

	if app.store != nil {
		block := ledger.Block{
			Height:  height,
			AppHash: hash,
			Time:    app.blockTime,
			Txs:     app.pending,
		}
		if err := app.store.SaveBlock(block, app.state); err != nil {
			app.log.Error("persist block", zap.Int64("height", height), zap.Error(err))
		}
		if app.BackupEvery > 0 && height%app.BackupEvery == 0 {
			if path, err := app.store.BackupCurrent(app.MaxBackups); err != nil {
				app.log.Warn("ledger backup failed", zap.Error(err))
			} else if path != "" {
				app.log.Info("ledger backup written", zap.String("path", path))
			}
		}
	}

	app.height = height
	app.appHash = hash
	app.pending = nil
	return abci.ResponseCommit{Data: hash}
}
