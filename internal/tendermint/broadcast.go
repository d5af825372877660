// Package tendermint - Transaction broadcasting via Tendermint RPC
//
// This file provides the JSON-RPC client the relay uses to submit
// transactions, look up their committed results and run ABCI queries
// against a Tendermint node.
package tendermint

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

var (
	// ErrTransport marks failures to reach the node or read its answer.
	// Callers may retry these.
	ErrTransport = errors.New("ledger transport failure")
	// ErrUnreachable accompanies ErrTransport when the connection could not
	// be opened, so the request never left this process.
	ErrUnreachable = errors.New("ledger unreachable")
	// ErrTxNotFound is returned by Tx while a transaction is not yet committed.
	ErrTxNotFound = errors.New("transaction not found")
	// ErrTxInCache is returned when the node already holds the transaction
	// in its mempool.
	ErrTxInCache = errors.New("tx already exists in cache")
)

// RPCError is a JSON-RPC level error returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s (%s)", e.Code, e.Message, e.Data)
}

// BroadcastResult is the mempool admission outcome of a transaction.
type BroadcastResult struct {
	Code uint32
	Log  string
	Hash string
}

// TxResult is the committed outcome of a transaction.
type TxResult struct {
	Hash    string
	Height  int64
	Index   uint32
	Code    uint32
	Log     string
	GasUsed int64
}

// QueryResult is the answer to an ABCI query.
type QueryResult struct {
	Code   uint32
	Log    string
	Value  []byte
	Height int64
}

// NodeStatus is the subset of /status the relay needs.
type NodeStatus struct {
	Network      string
	LatestHeight int64
}

// BroadcastClient talks to a Tendermint node over JSON-RPC.
type BroadcastClient struct {
	rpcAddr string
	client  *http.Client
	nextID  atomic.Int64
}

// NewBroadcastClient creates a new Tendermint RPC client.
//
// Parameters:
//   - rpcAddr: Tendermint RPC address (e.g., "http://localhost:26657")
func NewBroadcastClient(rpcAddr string) *BroadcastClient {
	if rpcAddr == "" {
		rpcAddr = "http://localhost:26657"
	}

	return &BroadcastClient{
		rpcAddr: strings.TrimRight(rpcAddr, "/"),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Addr returns the RPC endpoint.
func (bc *BroadcastClient) Addr() string {
	return bc.rpcAddr
}

// BroadcastTxSync submits a transaction and returns once CheckTx has run.
// A non-zero Code in the result means the node refused the transaction.
func (bc *BroadcastClient) BroadcastTxSync(ctx context.Context, tx []byte) (BroadcastResult, error) {
	var res struct {
		Code uint32 `json:"code"`
		Log  string `json:"log"`
		Hash string `json:"hash"`
	}
	err := bc.call(ctx, "broadcast_tx_sync", map[string]string{
		"tx": base64.StdEncoding.EncodeToString(tx),
	}, &res)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && strings.Contains(rpcErr.Data+rpcErr.Message, ErrTxInCache.Error()) {
			return BroadcastResult{}, ErrTxInCache
		}
		return BroadcastResult{}, err
	}
	return BroadcastResult{Code: res.Code, Log: res.Log, Hash: strings.ToUpper(res.Hash)}, nil
}

// BroadcastTxCommit submits a transaction and waits for the node to commit
// it. Used by operator commands; the relay polls with Tx instead so that
// its wait budget is its own.
func (bc *BroadcastClient) BroadcastTxCommit(ctx context.Context, tx []byte) (TxResult, error) {
	var res struct {
		CheckTx struct {
			Code uint32 `json:"code"`
			Log  string `json:"log"`
		} `json:"check_tx"`
		DeliverTx struct {
			Code    uint32 `json:"code"`
			Log     string `json:"log"`
			GasUsed int64  `json:"gas_used,string"`
		} `json:"deliver_tx"`
		Hash   string `json:"hash"`
		Height int64  `json:"height,string"`
	}
	err := bc.call(ctx, "broadcast_tx_commit", map[string]string{
		"tx": base64.StdEncoding.EncodeToString(tx),
	}, &res)
	if err != nil {
		return TxResult{}, err
	}
	if res.CheckTx.Code != 0 {
		return TxResult{Hash: res.Hash, Code: res.CheckTx.Code, Log: res.CheckTx.Log}, nil
	}
	return TxResult{
		Hash:    strings.ToUpper(res.Hash),
		Height:  res.Height,
		Code:    res.DeliverTx.Code,
		Log:     res.DeliverTx.Log,
		GasUsed: res.DeliverTx.GasUsed,
	}, nil
}

// Tx looks up a committed transaction by its hex hash. It returns
// ErrTxNotFound while the transaction is not yet in a block.
func (bc *BroadcastClient) Tx(ctx context.Context, hash string) (TxResult, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(hash, "0x"))
	if err != nil {
		return TxResult{}, fmt.Errorf("decode tx hash %q: %w", hash, err)
	}

	var res struct {
		Hash     string `json:"hash"`
		Height   int64  `json:"height,string"`
		Index    uint32 `json:"index"`
		TxResult struct {
			Code    uint32 `json:"code"`
			Log     string `json:"log"`
			GasUsed int64  `json:"gas_used,string"`
		} `json:"tx_result"`
	}
	err = bc.call(ctx, "tx", map[string]interface{}{
		"hash":  base64.StdEncoding.EncodeToString(raw),
		"prove": false,
	}, &res)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && strings.Contains(rpcErr.Data, "not found") {
			return TxResult{}, ErrTxNotFound
		}
		return TxResult{}, err
	}

	return TxResult{
		Hash:    strings.ToUpper(res.Hash),
		Height:  res.Height,
		Index:   res.Index,
		Code:    res.TxResult.Code,
		Log:     res.TxResult.Log,
		GasUsed: res.TxResult.GasUsed,
	}, nil
}

// ABCIQuery runs a read-only query against the application.
func (bc *BroadcastClient) ABCIQuery(ctx context.Context, path string, data []byte) (QueryResult, error) {
	var res struct {
		Response struct {
			Code   uint32 `json:"code"`
			Log    string `json:"log"`
			Value  []byte `json:"value"`
			Height int64  `json:"height,string"`
		} `json:"response"`
	}
	err := bc.call(ctx, "abci_query", map[string]interface{}{
		"path":   path,
		"data":   strings.ToUpper(hex.EncodeToString(data)),
		"height": "0",
		"prove":  false,
	}, &res)
	if err != nil {
		return QueryResult{}, err
	}
	return QueryResult{
		Code:   res.Response.Code,
		Log:    res.Response.Log,
		Value:  res.Response.Value,
		Height: res.Response.Height,
	}, nil
}

// Status returns the node's chain id and latest height.
func (bc *BroadcastClient) Status(ctx context.Context) (NodeStatus, error) {
	var res struct {
		NodeInfo struct {
			Network string `json:"network"`
		} `json:"node_info"`
		SyncInfo struct {
			LatestBlockHeight int64 `json:"latest_block_height,string"`
		} `json:"sync_info"`
	}
	if err := bc.call(ctx, "status", map[string]string{}, &res); err != nil {
		return NodeStatus{}, err
	}
	return NodeStatus{Network: res.NodeInfo.Network, LatestHeight: res.SyncInfo.LatestBlockHeight}, nil
}

// call performs one JSON-RPC request. Network and HTTP failures are wrapped
// with ErrTransport, plus ErrUnreachable when dialing failed; JSON-RPC errors
// are returned as *RPCError.
func (bc *BroadcastClient) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	reqBody := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      bc.nextID.Add(1),
		"method":  method,
		"params":  params,
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal RPC request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, bc.rpcAddr, bytes.NewReader(reqBytes))
	if err != nil {
		return fmt.Errorf("build RPC request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := bc.client.Do(req)
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			return fmt.Errorf("%w: %w: %s: %v", ErrTransport, ErrUnreachable, method, err)
		}
		return fmt.Errorf("%w: %s: %v", ErrTransport, method, err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read %s response: %v", ErrTransport, method, err)
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(respBytes, &rpcResp); err != nil {
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %s returned HTTP %d", ErrTransport, method, resp.StatusCode)
		}
		return fmt.Errorf("failed to parse RPC response: %w (body: %s)", err, string(respBytes))
	}

	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %s returned HTTP %d", ErrTransport, method, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}
