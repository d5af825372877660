// Package ledger provides the in-memory representation of the replicated
// election state used by the vrm application. It defines the State
// container that holds candidates, voter records and account sequence
// numbers, together with the rules every transition must obey. The ABCI
// application persists and mutates this state in response to confirmed
// transactions; nothing else writes to it.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tendermint/tendermint/crypto/tmhash"

	"votingrelay.mini/vrm/internal/types"
)

// Rule violations. Each maps to a distinct ABCI result code.
var (
	ErrUnauthorized     = errors.New("caller is not the owner")
	ErrNotRegistered    = errors.New("voter is not registered")
	ErrAlreadyVoted     = errors.New("voter has already voted")
	ErrUnknownCandidate = errors.New("candidate does not exist")
	ErrInvalidName      = errors.New("candidate name must not be empty")
)

// VoterRecord is the per-address election record. An address that has
// never been seen implicitly has the zero record.
type VoterRecord struct {
	Registered bool `json:"registered"`
	HasVoted   bool `json:"hasVoted"`
}

// State represents the full election. Map keys are checksummed addresses.
type State struct {
	Owner      string                 `json:"owner"`
	Candidates []types.Candidate      `json:"candidates"`
	Voters     map[string]VoterRecord `json:"voters"`
	Nonces     map[string]uint64      `json:"nonces"`
}

// NewState creates an empty election administered by owner.
func NewState(owner string) (*State, error) {
	canonical, err := types.CanonicalAddress(owner)
	if err != nil {
		return nil, fmt.Errorf("owner: %w", err)
	}
	return &State{
		Owner:      canonical,
		Candidates: []types.Candidate{},
		Voters:     make(map[string]VoterRecord),
		Nonces:     make(map[string]uint64),
	}, nil
}

func (s *State) isOwner(caller string) bool {
	if !common.IsHexAddress(caller) {
		return false
	}
	return common.HexToAddress(caller) == common.HexToAddress(s.Owner)
}

// AddCandidate appends a candidate with the next sequential id.
func (s *State) AddCandidate(caller, name string) (types.Candidate, error) {
	if !s.isOwner(caller) {
		return types.Candidate{}, ErrUnauthorized
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return types.Candidate{}, ErrInvalidName
	}
	c := types.Candidate{ID: uint64(len(s.Candidates)), Name: name}
	s.Candidates = append(s.Candidates, c)
	return c, nil
}

// RegisterVoter marks addr as eligible. Registering twice is a no-op.
func (s *State) RegisterVoter(caller, addr string) error {
	if !s.isOwner(caller) {
		return ErrUnauthorized
	}
	key, err := types.CanonicalAddress(addr)
	if err != nil {
		return err
	}
	rec := s.Voters[key]
	rec.Registered = true
	s.Voters[key] = rec
	return nil
}

// UnregisterVoter clears eligibility. HasVoted is left untouched so a
// voter cannot vote again by being unregistered and registered.
func (s *State) UnregisterVoter(caller, addr string) error {
	if !s.isOwner(caller) {
		return ErrUnauthorized
	}
	key, err := types.CanonicalAddress(addr)
	if err != nil {
		return err
	}
	rec, ok := s.Voters[key]
	if !ok {
		return nil
	}
	rec.Registered = false
	s.Voters[key] = rec
	return nil
}

// VoteFor records a vote on behalf of addr. Only the owner may call it.
func (s *State) VoteFor(caller, addr string, candidateID uint64) error {
	if !s.isOwner(caller) {
		return ErrUnauthorized
	}
	return s.castVote(addr, candidateID)
}

// Vote records a vote cast directly by the signer.
func (s *State) Vote(caller string, candidateID uint64) error {
	return s.castVote(caller, candidateID)
}

func (s *State) castVote(addr string, candidateID uint64) error {
	key, err := types.CanonicalAddress(addr)
	if err != nil {
		return err
	}
	rec := s.Voters[key]
	switch {
	case !rec.Registered:
		return ErrNotRegistered
	case rec.HasVoted:
		return ErrAlreadyVoted
	case candidateID >= uint64(len(s.Candidates)):
		return ErrUnknownCandidate
	}
	rec.HasVoted = true
	s.Voters[key] = rec
	s.Candidates[candidateID].VoteCount++
	return nil
}

// AllCandidates returns a copy of the candidate list in id order.
func (s *State) AllCandidates() []types.Candidate {
	out := make([]types.Candidate, len(s.Candidates))
	copy(out, s.Candidates)
	return out
}

// Voter returns the record for addr, the zero record when unknown.
func (s *State) Voter(addr string) (types.Voter, error) {
	key, err := types.CanonicalAddress(addr)
	if err != nil {
		return types.Voter{}, err
	}
	rec := s.Voters[key]
	return types.Voter{Address: key, Registered: rec.Registered, HasVoted: rec.HasVoted}, nil
}

func (s *State) IsRegistered(addr string) bool {
	v, err := s.Voter(addr)
	return err == nil && v.Registered
}

func (s *State) HasVoted(addr string) bool {
	v, err := s.Voter(addr)
	return err == nil && v.HasVoted
}

// Nonce returns the next sequence number expected from signer.
func (s *State) Nonce(signer string) uint64 {
	key, err := types.CanonicalAddress(signer)
	if err != nil {
		return 0
	}
	return s.Nonces[key]
}

// IncrementNonce consumes the current sequence number of signer.
func (s *State) IncrementNonce(signer string) {
	key, err := types.CanonicalAddress(signer)
	if err != nil {
		return
	}
	s.Nonces[key]++
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	c := &State{
		Owner:      s.Owner,
		Candidates: s.AllCandidates(),
		Voters:     make(map[string]VoterRecord, len(s.Voters)),
		Nonces:     make(map[string]uint64, len(s.Nonces)),
	}
	for k, v := range s.Voters {
		c.Voters[k] = v
	}
	for k, v := range s.Nonces {
		c.Nonces[k] = v
	}
	return c
}

// Hash returns the app hash of the state: the tmhash of its JSON encoding.
// encoding/json sorts map keys, so equal states hash equally.
func (s *State) Hash() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return tmhash.Sum(data), nil
}

// CheckInvariants verifies the election invariants that can be checked
// from a snapshot.
func (s *State) CheckInvariants() error {
	var total uint64
	for i, c := range s.Candidates {
		if c.ID != uint64(i) {
			return fmt.Errorf("candidate at position %d has id %d", i, c.ID)
		}
		total += c.VoteCount
	}
	var voted uint64
	for _, rec := range s.Voters {
		if rec.HasVoted {
			voted++
		}
	}
	if total != voted {
		return fmt.Errorf("tally %d does not match %d voters who have voted", total, voted)
	}
	return nil
}
