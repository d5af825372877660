package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tendermint/tendermint/crypto/tmhash"
)

// TransactionType identifies the state transition a transaction requests.
type TransactionType string

const (
	TxAddCandidate    TransactionType = "add_candidate"
	TxRegisterVoter   TransactionType = "register_voter"
	TxUnregisterVoter TransactionType = "unregister_voter"
	TxVoteFor         TransactionType = "vote_for"
	TxVote            TransactionType = "vote"
)

// Transaction is the unsigned body of a ledger transaction.
type Transaction struct {
	Type      TransactionType `json:"type"`
	ChainID   string          `json:"chain_id"`
	Nonce     uint64          `json:"nonce"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// AddCandidatePayload is the payload of TxAddCandidate.
type AddCandidatePayload struct {
	Name string `json:"name"`
}

// VoterPayload is the payload of TxRegisterVoter and TxUnregisterVoter.
type VoterPayload struct {
	Address string `json:"address"`
}

// VoteForPayload is the payload of TxVoteFor.
type VoteForPayload struct {
	Address     string `json:"address"`
	CandidateID uint64 `json:"candidate_id"`
}

// VotePayload is the payload of TxVote. The signer is the voter.
type VotePayload struct {
	CandidateID uint64 `json:"candidate_id"`
}

// Signer produces recoverable secp256k1 signatures over a 32-byte digest.
type Signer interface {
	Address() common.Address
	Sign(digest []byte) ([]byte, error)
}

// SignedTransaction is the envelope submitted to the ledger. Tx holds the
// JSON encoded Transaction exactly as it was signed.
type SignedTransaction struct {
	Tx        []byte `json:"tx"`
	Signer    string `json:"signer"`
	Signature []byte `json:"signature"`
}

// NewTransaction marshals payload into a new transaction body.
func NewTransaction(txType TransactionType, chainID string, nonce uint64, payload interface{}) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", txType, err)
	}
	return &Transaction{
		Type:      txType,
		ChainID:   chainID,
		Nonce:     nonce,
		Timestamp: time.Now().UTC(),
		Payload:   raw,
	}, nil
}

// Sign signs the transaction with s and returns the envelope.
func (tx *Transaction) Sign(s Signer) (*SignedTransaction, error) {
	body, err := json.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("marshal transaction: %w", err)
	}
	sig, err := s.Sign(crypto.Keccak256(body))
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return &SignedTransaction{
		Tx:        body,
		Signer:    s.Address().Hex(),
		Signature: sig,
	}, nil
}

// Verify reports whether the signature recovers to the claimed signer.
func (stx *SignedTransaction) Verify() bool {
	if len(stx.Signature) != crypto.SignatureLength || !common.IsHexAddress(stx.Signer) {
		return false
	}
	pub, err := crypto.SigToPub(crypto.Keccak256(stx.Tx), stx.Signature)
	if err != nil {
		return false
	}
	return crypto.PubkeyToAddress(*pub) == common.HexToAddress(stx.Signer)
}

// GetTransaction decodes the signed body.
func (stx *SignedTransaction) GetTransaction() (*Transaction, error) {
	var tx Transaction
	if err := json.Unmarshal(stx.Tx, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// Encode returns the wire bytes submitted to the ledger.
func (stx *SignedTransaction) Encode() ([]byte, error) {
	return json.Marshal(stx)
}

// DecodeSignedTransaction parses wire bytes produced by Encode.
func DecodeSignedTransaction(raw []byte) (*SignedTransaction, error) {
	var stx SignedTransaction
	if err := json.Unmarshal(raw, &stx); err != nil {
		return nil, err
	}
	if len(stx.Tx) == 0 {
		return nil, errors.New("empty transaction body")
	}
	return &stx, nil
}

// TxHash returns the ledger's identifier for raw transaction bytes: the
// upper-case hex SHA-256, matching Tendermint's tx hash.
func TxHash(raw []byte) string {
	return fmt.Sprintf("%X", tmhash.Sum(raw))
}
