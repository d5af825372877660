package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"votingrelay.mini/vrm/internal/logger"
	"votingrelay.mini/vrm/internal/relay"
	"votingrelay.mini/vrm/internal/types"
)

// stubRelay fails every operation with err.
type stubRelay struct {
	err error
}

func (s stubRelay) Register(context.Context, string) (types.Receipt, error) {
	return types.Receipt{}, s.err
}

func (s stubRelay) Unregister(context.Context, string) (types.Receipt, error) {
	return types.Receipt{}, s.err
}

func (s stubRelay) Vote(context.Context, string, uint64) (types.Receipt, error) {
	return types.Receipt{}, s.err
}

func (s stubRelay) Status(context.Context) (relay.Status, error) {
	return relay.Status{}, s.err
}

func TestRelayErrorMapping(t *testing.T) {
	tests := []struct {
		err       error
		status    int
		kind      string
		retryable bool
	}{
		{&relay.Error{Kind: relay.KindSubmissionTimeout, Reason: "not finalized", TxHash: "AB"}, http.StatusGatewayTimeout, "SubmissionTimeout", true},
		{&relay.Error{Kind: relay.KindTransportFailure, Err: errors.New("refused")}, http.StatusServiceUnavailable, "TransportFailure", true},
		{&relay.Error{Kind: relay.KindUnauthorized, Reason: "caller is not the owner"}, http.StatusInternalServerError, "Unauthorized", false},
		{&relay.Error{Kind: relay.KindRejected, Reason: "bad nonce"}, http.StatusUnprocessableEntity, "Rejected", false},
		{errors.New("boom"), http.StatusInternalServerError, "Internal", false},
	}
	for _, tt := range tests {
		svc := NewService(stubRelay{err: tt.err}, nil, nil, nil, nil, nil)
		w := doJSON(t, svc.HandleRegister, http.MethodPost, "/api/register", map[string]string{"voterAddress": voterA})
		require.Equal(t, tt.status, w.Code)

		var f failure
		decode(t, w, &f)
		require.False(t, f.Success)
		require.Equal(t, tt.kind, f.Kind)
		require.Equal(t, tt.retryable, f.Retryable)
	}

	svc := NewService(stubRelay{err: &relay.Error{Kind: relay.KindSubmissionTimeout, TxHash: "ABCD"}}, nil, nil, nil, nil, nil)
	w := doJSON(t, svc.HandleUnregister, http.MethodPost, "/api/unregister", map[string]string{"voterAddress": voterA})
	var f failure
	decode(t, w, &f)
	require.Equal(t, "ABCD", f.TransactionID)

	w = doJSON(t, svc.HandleUnregister, http.MethodGet, "/api/unregister", nil)
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHealthAndVersion(t *testing.T) {
	svc := NewService(stubRelay{}, nil, nil, nil, nil, nil)

	w := doJSON(t, svc.HandleHealth, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var health map[string]string
	decode(t, w, &health)
	require.Equal(t, "ok", health["status"])

	w = doJSON(t, svc.HandleVersion, http.MethodGet, "/api/version", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var version map[string]string
	decode(t, w, &version)
	require.Equal(t, types.Version, version["version"])
	require.NotEmpty(t, version["go_ver"])
}

func TestRelayStatus(t *testing.T) {
	svc, _ := setupTest(t)

	w := doJSON(t, svc.HandleRelayStatus, http.MethodGet, "/api/relay/status", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var st relay.Status
	decode(t, w, &st)
	require.True(t, st.OwnerMatch)
	require.Equal(t, chainID, st.ChainID)
	require.Equal(t, uint64(2), st.NextNonce)
	require.Positive(t, st.LatestHeight)

	broken := NewService(stubRelay{err: &relay.Error{Kind: relay.KindTransportFailure}}, nil, nil, nil, nil, nil)
	w = doJSON(t, broken.HandleRelayStatus, http.MethodGet, "/api/relay/status", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestLogs(t *testing.T) {
	svc, _ := setupTest(t)

	w := doJSON(t, svc.HandleVote, http.MethodPost, "/api/vote", map[string]interface{}{"candidateId": 0, "voterAddress": voterB})
	require.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, svc.HandleLogs, http.MethodGet, "/api/logs?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var entries []logger.Entry
	decode(t, w, &entries)
	require.Len(t, entries, 1)
	require.Equal(t, "vote", entries[0].Op)
	require.Equal(t, "NotRegistered", entries[0].Kind)

	w = doJSON(t, svc.HandleLogs, http.MethodGet, "/api/logs", nil)
	decode(t, w, &entries)
	require.Len(t, entries, 3)

	w = doJSON(t, svc.HandleLogs, http.MethodGet, "/api/logs?limit=x", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLedgerBackupAndExport(t *testing.T) {
	svc, _ := setupTest(t)

	w := doJSON(t, svc.HandleLedgerBackup, http.MethodPost, "/api/ledger/backup", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp map[string]string
	decode(t, w, &resp)
	require.Equal(t, "ok", resp["status"])
	_, err := os.Stat(resp["path"])
	require.NoError(t, err)

	w = doJSON(t, svc.HandleLedgerBackup, http.MethodGet, "/api/ledger/backup", nil)
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = doJSON(t, svc.HandleLedgerExport, http.MethodGet, "/api/ledger/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
	require.True(t, len(w.Body.Bytes()) > 16)
	require.Equal(t, "SQLite format 3\x00", string(w.Body.Bytes()[:16]))

	remote := NewService(stubRelay{}, nil, nil, nil, nil, nil)
	w = doJSON(t, remote.HandleLedgerExport, http.MethodGet, "/api/ledger/export", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestDocs(t *testing.T) {
	svc, _ := setupTest(t)

	w := doJSON(t, svc.HandleDocs, http.MethodGet, "/api/docs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list map[string][]string
	decode(t, w, &list)
	require.Contains(t, list["docs"], "relay")

	w = doJSON(t, svc.HandleDocs, http.MethodGet, "/api/docs?name=relay", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Header().Get("Content-Type"), "text/html")
	require.Contains(t, w.Body.String(), "Sequence numbers")

	w = doJSON(t, svc.HandleDocs, http.MethodGet, "/api/docs?name=../secrets", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}
