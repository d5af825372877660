package tendermint

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	Method string                 `json:"method"`
	Params map[string]interface{} `json:"params"`
}

// fakeNode answers JSON-RPC requests using handler, which returns either a
// result or an error object.
func fakeNode(t *testing.T, handler func(req rpcRequest) (interface{}, *RPCError)) *BroadcastClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		result, rpcErr := handler(req)
		resp := map[string]interface{}{"jsonrpc": "2.0", "id": 1}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return NewBroadcastClient(srv.URL)
}

func TestBroadcastTxSync(t *testing.T) {
	client := fakeNode(t, func(req rpcRequest) (interface{}, *RPCError) {
		require.Equal(t, "broadcast_tx_sync", req.Method)
		raw, err := base64.StdEncoding.DecodeString(req.Params["tx"].(string))
		require.NoError(t, err)
		require.Equal(t, "payload", string(raw))
		return map[string]interface{}{"code": 8, "log": "stale nonce", "hash": "abcd"}, nil
	})

	res, err := client.BroadcastTxSync(context.Background(), []byte("payload"))
	require.NoError(t, err)
	require.Equal(t, uint32(8), res.Code)
	require.Equal(t, "stale nonce", res.Log)
	require.Equal(t, "ABCD", res.Hash)
}

func TestBroadcastTxInCache(t *testing.T) {
	client := fakeNode(t, func(req rpcRequest) (interface{}, *RPCError) {
		return nil, &RPCError{Code: -32603, Message: "Internal error", Data: "tx already exists in cache"}
	})

	_, err := client.BroadcastTxSync(context.Background(), []byte("x"))
	require.ErrorIs(t, err, ErrTxInCache)
}

func TestTxLookup(t *testing.T) {
	var committed atomic.Bool
	client := fakeNode(t, func(req rpcRequest) (interface{}, *RPCError) {
		require.Equal(t, "tx", req.Method)
		raw, err := base64.StdEncoding.DecodeString(req.Params["hash"].(string))
		require.NoError(t, err)
		require.Equal(t, []byte{0xAB, 0xCD}, raw)
		if !committed.Load() {
			return nil, &RPCError{Code: -32603, Message: "Internal error", Data: "tx (ABCD) not found"}
		}
		return map[string]interface{}{
			"hash":   "ABCD",
			"height": "12",
			"index":  1,
			"tx_result": map[string]interface{}{
				"code": 6, "log": "voter has already voted", "gas_used": "21000",
			},
		}, nil
	})

	_, err := client.Tx(context.Background(), "ABCD")
	require.ErrorIs(t, err, ErrTxNotFound)

	committed.Store(true)
	res, err := client.Tx(context.Background(), "abcd")
	require.NoError(t, err)
	require.Equal(t, TxResult{Hash: "ABCD", Height: 12, Index: 1, Code: 6, Log: "voter has already voted", GasUsed: 21000}, res)

	_, err = client.Tx(context.Background(), "zz")
	require.Error(t, err)
}

func TestABCIQueryAndStatus(t *testing.T) {
	client := fakeNode(t, func(req rpcRequest) (interface{}, *RPCError) {
		switch req.Method {
		case "abci_query":
			require.Equal(t, "/registered", req.Params["path"])
			require.Equal(t, "3078414243", req.Params["data"])
			return map[string]interface{}{"response": map[string]interface{}{
				"code":   0,
				"value":  base64.StdEncoding.EncodeToString([]byte("true")),
				"height": "7",
			}}, nil
		case "status":
			return map[string]interface{}{
				"node_info": map[string]interface{}{"network": "vrm-test"},
				"sync_info": map[string]interface{}{"latest_block_height": "42"},
			}, nil
		}
		t.Fatalf("unexpected method %s", req.Method)
		return nil, nil
	})

	q, err := client.ABCIQuery(context.Background(), "/registered", []byte("0xABC"))
	require.NoError(t, err)
	require.Equal(t, "true", string(q.Value))
	require.Equal(t, int64(7), q.Height)

	st, err := client.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, NodeStatus{Network: "vrm-test", LatestHeight: 42}, st)
}

func TestTransportFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewBroadcastClient(srv.URL).Status(context.Background())
	require.True(t, errors.Is(err, ErrTransport), "got %v", err)
	require.NotErrorIs(t, err, ErrUnreachable)

	srv.Close()
	_, err = NewBroadcastClient(srv.URL).BroadcastTxSync(context.Background(), []byte("x"))
	require.ErrorIs(t, err, ErrTransport)
	require.ErrorIs(t, err, ErrUnreachable)
}
