package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"votingrelay.mini/vrm/internal/types"
)

func TestCandidates(t *testing.T) {
	svc, _ := setupTest(t)

	w := doJSON(t, svc.HandleCandidates, http.MethodGet, "/api/candidates", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got []types.Candidate
	decode(t, w, &got)
	require.Equal(t, []types.Candidate{{ID: 0, Name: "Alice"}, {ID: 1, Name: "Bob"}}, got)

	w = doJSON(t, svc.HandleCandidates, http.MethodPost, "/api/candidates", nil)
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestRegisterVoteFlow(t *testing.T) {
	svc, _ := setupTest(t)

	w := doJSON(t, svc.HandleRegister, http.MethodPost, "/api/register", map[string]string{"voterAddress": voterA})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var reg mutationResponse
	decode(t, w, &reg)
	require.True(t, reg.Success)
	require.NotEmpty(t, reg.TransactionID)

	w = doJSON(t, svc.HandleVote, http.MethodPost, "/api/vote", `{"candidateId": "1", "voterAddress": "`+voterA+`"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var vote mutationResponse
	decode(t, w, &vote)
	require.True(t, vote.Success)
	require.Positive(t, vote.SequencePosition)
	require.Positive(t, vote.ResourceCost)

	w = doJSON(t, svc.HandleVoter, http.MethodGet, "/api/voters?address="+voterA, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var voter types.Voter
	decode(t, w, &voter)
	require.True(t, voter.Registered)
	require.True(t, voter.HasVoted)

	w = doJSON(t, svc.HandleCandidates, http.MethodGet, "/api/candidates", nil)
	var got []types.Candidate
	decode(t, w, &got)
	require.Equal(t, uint64(1), got[1].VoteCount)
	require.Equal(t, uint64(0), got[0].VoteCount)

	// A second vote is final and not retryable.
	w = doJSON(t, svc.HandleVote, http.MethodPost, "/api/vote", map[string]interface{}{"candidateId": 0, "voterAddress": voterA})
	require.Equal(t, http.StatusConflict, w.Code)
	var f failure
	decode(t, w, &f)
	require.False(t, f.Success)
	require.Equal(t, "AlreadyVoted", f.Kind)
	require.False(t, f.Retryable)
	require.NotEmpty(t, f.TransactionID)
	require.NotEmpty(t, f.Reason)
}

func TestVoteErrors(t *testing.T) {
	svc, _ := setupTest(t)

	tests := []struct {
		name   string
		body   interface{}
		status int
		kind   string
	}{
		{"unregistered voter", map[string]interface{}{"candidateId": 0, "voterAddress": voterB}, http.StatusForbidden, "NotRegistered"},
		{"invalid address", map[string]interface{}{"candidateId": 0, "voterAddress": "0x123"}, http.StatusBadRequest, "InvalidRequest"},
		{"negative candidate", `{"candidateId": -1, "voterAddress": "` + voterB + `"}`, http.StatusBadRequest, "InvalidRequest"},
		{"non numeric candidate", `{"candidateId": "bob", "voterAddress": "` + voterB + `"}`, http.StatusBadRequest, "InvalidRequest"},
		{"missing candidate", map[string]string{"voterAddress": voterB}, http.StatusBadRequest, "InvalidRequest"},
		{"malformed body", `{"candidateId": `, http.StatusBadRequest, "InvalidRequest"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, svc.HandleVote, http.MethodPost, "/api/vote", tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			var f failure
			decode(t, w, &f)
			require.Equal(t, tt.kind, f.Kind)
		})
	}

	w := doJSON(t, svc.HandleRegister, http.MethodPost, "/api/register", map[string]string{"voterAddress": voterB})
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, svc.HandleVote, http.MethodPost, "/api/vote", map[string]interface{}{"candidateId": 7, "voterAddress": voterB})
	require.Equal(t, http.StatusNotFound, w.Code)
	var f failure
	decode(t, w, &f)
	require.Equal(t, "UnknownCandidate", f.Kind)
}

func TestUnregisterKeepsVote(t *testing.T) {
	svc, _ := setupTest(t)

	for _, step := range []struct {
		h    http.HandlerFunc
		path string
		body interface{}
	}{
		{svc.HandleRegister, "/api/register", map[string]string{"voterAddress": voterA}},
		{svc.HandleVote, "/api/vote", map[string]interface{}{"candidateId": 0, "voterAddress": voterA}},
		{svc.HandleUnregister, "/api/unregister", map[string]string{"voterAddress": voterA}},
	} {
		w := doJSON(t, step.h, http.MethodPost, step.path, step.body)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w := doJSON(t, svc.HandleVoter, http.MethodGet, "/api/voters?address="+voterA, nil)
	var voter types.Voter
	decode(t, w, &voter)
	require.False(t, voter.Registered)
	require.True(t, voter.HasVoted)

	w = doJSON(t, svc.HandleCandidates, http.MethodGet, "/api/candidates", nil)
	var got []types.Candidate
	decode(t, w, &got)
	require.Equal(t, uint64(1), got[0].VoteCount)
}

func TestVoterQueryValidation(t *testing.T) {
	svc, _ := setupTest(t)

	w := doJSON(t, svc.HandleVoter, http.MethodGet, "/api/voters", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, svc.HandleVoter, http.MethodGet, "/api/voters?address=nope", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, svc.HandleVoter, http.MethodGet, "/api/voters?address="+voterB, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var voter types.Voter
	decode(t, w, &voter)
	require.False(t, voter.Registered)
	require.False(t, voter.HasVoted)
}
