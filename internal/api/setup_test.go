package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"votingrelay.mini/vrm/internal/abci"
	"votingrelay.mini/vrm/internal/devnet"
	"votingrelay.mini/vrm/internal/docs"
	"votingrelay.mini/vrm/internal/identity"
	"votingrelay.mini/vrm/internal/ledger"
	"votingrelay.mini/vrm/internal/logger"
	"votingrelay.mini/vrm/internal/relay"
)

const (
	chainID = "vrm-api-test"
	voterA  = "0x00000000000000000000000000000000000000a1"
	voterB  = "0x00000000000000000000000000000000000000b2"
)

// setupTest runs a dev chain backed by a temporary ledger store and
// returns an API service relaying to it, with Alice and Bob seeded.
func setupTest(t *testing.T) (*Service, *ledger.Store) {
	t.Helper()
	log := zaptest.NewLogger(t)

	store, err := ledger.NewStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	owner, err := identity.Generate()
	require.NoError(t, err)
	app, err := abci.NewElectionApp(owner.AddressHex(), chainID, store, log)
	require.NoError(t, err)
	node := devnet.NewNode(app, chainID, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		node.Run(ctx, 5*time.Millisecond)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	feed := logger.New(100)
	rs := relay.NewService(node, owner, relay.Config{
		ChainID:          chainID,
		FinalityTimeout:  5 * time.Second,
		PollInterval:     5 * time.Millisecond,
		MaxSubmitRetries: 2,
		RetryBackoff:     time.Millisecond,
	}, relay.WithLogger(log), relay.WithActivity(feed))

	for _, name := range []string{"Alice", "Bob"} {
		_, err := rs.AddCandidate(context.Background(), name)
		require.NoError(t, err)
	}

	return NewService(rs, rs.Reader(), feed, store, docs.NewService(nil), log), store
}

func doJSON(t *testing.T, h http.HandlerFunc, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}
