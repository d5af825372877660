// Package types defines the core domain models for the voting relay (vrm).
// It contains the Candidate and Voter models shared by the ledger state
// machine, the relay and the HTTP API, plus the canonical address format
// used to key voters on the ledger.
package types

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Version is the current version of vrm
const Version = "0.1.0"

// BuildTime is set at build time via -ldflags
var BuildTime = "dev"

// ErrInvalidAddress is returned when an account address is not a 20-byte hex string.
var ErrInvalidAddress = errors.New("invalid account address")

// Candidate is a single entry on the ballot. IDs are dense and assigned in
// creation order starting at zero.
type Candidate struct {
	ID        uint64 `json:"id"`
	Name      string `json:"name"`
	VoteCount uint64 `json:"voteCount"`
}

// Voter is the ledger's view of a single account. An address that was never
// referenced is reported with both flags false.
type Voter struct {
	Address    string `json:"address"`
	Registered bool   `json:"registered"`
	HasVoted   bool   `json:"hasVoted"`
}

// Receipt describes a transaction the ledger has finalized.
type Receipt struct {
	TxHash  string `json:"transactionId"`
	Height  int64  `json:"sequencePosition"`
	GasUsed int64  `json:"resourceCost"`
	Code    uint32 `json:"code"`
	Log     string `json:"log,omitempty"`
}

// CanonicalAddress validates addr and returns its EIP-55 checksummed form.
// Comparison between addresses must always go through this function so that
// lower-case and checksummed spellings refer to the same voter.
func CanonicalAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if !common.IsHexAddress(addr) {
		return "", ErrInvalidAddress
	}
	return common.HexToAddress(addr).Hex(), nil
}
