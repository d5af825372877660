package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"votingrelay.mini/vrm/internal/abci"
	"votingrelay.mini/vrm/internal/tendermint"
	"votingrelay.mini/vrm/internal/types"
)

// Reader answers read-only questions from the ledger. It needs no
// credential, and its answers may be stale by the time they are used.
type Reader struct {
	ledger Ledger
	retry  backoff
}

// NewReader returns a reader that tries each query once.
func NewReader(l Ledger) *Reader {
	return &Reader{ledger: l}
}

func (r *Reader) query(ctx context.Context, path string, data []byte, out interface{}) error {
	var res tendermint.QueryResult
	err := r.retry.do(ctx, "abci_query "+path, func() (err error) {
		res, err = r.ledger.ABCIQuery(ctx, path, data)
		return err
	})
	if err != nil {
		return &Error{Kind: KindTransportFailure, Reason: "query " + path, Err: err}
	}
	if res.Code != abci.CodeTypeOK {
		return &Error{Kind: KindRejected, Reason: res.Log}
	}
	if err := json.Unmarshal(res.Value, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func canonical(addr string) (string, error) {
	c, err := types.CanonicalAddress(addr)
	if err != nil {
		return "", &Error{Kind: KindInvalidRequest, Reason: fmt.Sprintf("invalid address %q", addr)}
	}
	return c, nil
}

// Candidates returns every candidate with its current tally.
func (r *Reader) Candidates(ctx context.Context) ([]types.Candidate, error) {
	var out []types.Candidate
	if err := r.query(ctx, abci.PathCandidates, nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []types.Candidate{}
	}
	return out, nil
}

// IsRegistered reports whether addr may vote.
func (r *Reader) IsRegistered(ctx context.Context, addr string) (bool, error) {
	key, err := canonical(addr)
	if err != nil {
		return false, err
	}
	var out bool
	err = r.query(ctx, abci.PathRegistered, []byte(key), &out)
	return out, err
}

// Voter returns the full record for addr.
func (r *Reader) Voter(ctx context.Context, addr string) (types.Voter, error) {
	key, err := canonical(addr)
	if err != nil {
		return types.Voter{}, err
	}
	var out types.Voter
	err = r.query(ctx, abci.PathVoter, []byte(key), &out)
	return out, err
}

// Owner returns the ledger's administrative owner.
func (r *Reader) Owner(ctx context.Context) (string, error) {
	var out string
	err := r.query(ctx, abci.PathOwner, nil, &out)
	return out, err
}

// Nonce returns the next sequence number the ledger expects from addr.
func (r *Reader) Nonce(ctx context.Context, addr string) (uint64, error) {
	key, err := canonical(addr)
	if err != nil {
		return 0, err
	}
	var out uint64
	err = r.query(ctx, abci.PathNonce, []byte(key), &out)
	return out, err
}
