package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"votingrelay.mini/vrm/internal/relay"
	"votingrelay.mini/vrm/internal/types"
)

const maxBodyBytes = 64 << 10

type voterRequest struct {
	VoterAddress string `json:"voterAddress"`
}

type voteRequest struct {
	CandidateID  *candidateID `json:"candidateId"`
	VoterAddress string       `json:"voterAddress"`
}

// candidateID accepts a JSON number or a numeric string.
type candidateID uint64

func (c *candidateID) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(bytes.TrimSpace(b), `"`)
	v, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("candidateId must be a non-negative integer")
	}
	*c = candidateID(v)
	return nil
}

type mutationResponse struct {
	Success          bool   `json:"success"`
	TransactionID    string `json:"transactionId"`
	SequencePosition int64  `json:"sequencePosition,omitempty"`
	ResourceCost     int64  `json:"resourceCost,omitempty"`
}

func (s *Service) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		s.writeRelayError(w, &relay.Error{Kind: relay.KindInvalidRequest, Reason: "malformed request body", Err: err})
		return false
	}
	return true
}

// @Title: List Candidates
// @Route: GET /api/candidates
// @Description: Returns every candidate with its current tally, read from the ledger
// @Response: [{"id": 0, "name": "Alice", "voteCount": 0}]
func (s *Service) HandleCandidates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	candidates, err := s.reader.Candidates(r.Context())
	if err != nil {
		s.writeRelayError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, candidates)
}

// @Title: Get Voter
// @Route: GET /api/voters?address=0x...
// @Description: Returns registration and voting status for one address
// @Response: {"address": "0x...", "registered": true, "hasVoted": false}
func (s *Service) HandleVoter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	addr := r.URL.Query().Get("address")
	if addr == "" {
		s.writeError(w, http.StatusBadRequest, "address query parameter is required")
		return
	}
	voter, err := s.reader.Voter(r.Context(), addr)
	if err != nil {
		s.writeRelayError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, voter)
}

// @Title: Register Voter
// @Route: POST /api/register
// @Description: Relays a voter registration signed by the relay credential and waits for finality
// @Response: {"success": true, "transactionId": "..."}
func (s *Service) HandleRegister(w http.ResponseWriter, r *http.Request) {
	s.handleVoterMutation(w, r, "register", s.relay.Register)
}

// @Title: Unregister Voter
// @Route: POST /api/unregister
// @Description: Revokes a voter's eligibility. A vote already cast stays counted
// @Response: {"success": true, "transactionId": "..."}
func (s *Service) HandleUnregister(w http.ResponseWriter, r *http.Request) {
	s.handleVoterMutation(w, r, "unregister", s.relay.Unregister)
}

func (s *Service) handleVoterMutation(w http.ResponseWriter, r *http.Request, op string,
	fn func(ctx context.Context, voter string) (types.Receipt, error)) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req voterRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	receipt, err := fn(r.Context(), req.VoterAddress)
	if err != nil {
		s.writeRelayError(w, err)
		return
	}
	s.log.Debug("voter mutation finalized", zap.String("op", op), zap.String("tx", receipt.TxHash))
	s.writeJSON(w, http.StatusOK, mutationResponse{Success: true, TransactionID: receipt.TxHash})
}

// @Title: Cast Vote
// @Route: POST /api/vote
// @Description: Relays a vote on behalf of a registered voter. The relay pays the fee
// @Response: {"success": true, "transactionId": "...", "sequencePosition": 12, "resourceCost": 61000}
func (s *Service) HandleVote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req voteRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.CandidateID == nil {
		s.writeRelayError(w, &relay.Error{Kind: relay.KindInvalidRequest, Reason: "candidateId is required"})
		return
	}
	receipt, err := s.relay.Vote(r.Context(), req.VoterAddress, uint64(*req.CandidateID))
	if err != nil {
		s.writeRelayError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, mutationResponse{
		Success:          true,
		TransactionID:    receipt.TxHash,
		SequencePosition: receipt.Height,
		ResourceCost:     receipt.GasUsed,
	})
}
