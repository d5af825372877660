// Package devnet runs an ABCI application in-process as a single-validator
// chain. It offers the same calls the relay makes against a Tendermint node
// (broadcast, tx lookup, query, status) so the relay can be exercised end
// to end without an external consensus engine.
package devnet

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	abci "github.com/tendermint/tendermint/abci/types"
	tmproto "github.com/tendermint/tendermint/proto/tendermint/types"
	"go.uber.org/zap"

	"votingrelay.mini/vrm/internal/ledger"
	"votingrelay.mini/vrm/internal/tendermint"
	"votingrelay.mini/vrm/internal/types"
)

// DefaultBlockInterval is the block time used by Run when none is given.
const DefaultBlockInterval = time.Second

// Node is an in-process chain driving an ABCI application.
type Node struct {
	mu      sync.Mutex
	app     abci.Application
	chainID string
	log     *zap.Logger

	height  int64
	mempool [][]byte
	seen    map[string]struct{}
	results map[string]tendermint.TxResult
	index   TxIndex
}

// TxIndex looks up results committed before the node started. Unknown
// hashes yield tendermint.ErrTxNotFound.
type TxIndex func(hash string) (tendermint.TxResult, error)

// Option customizes a Node.
type Option func(*Node)

// WithTxIndex makes Tx fall back to idx for hashes this node never
// committed itself.
func WithTxIndex(idx TxIndex) Option {
	return func(n *Node) { n.index = idx }
}

// StoreIndex serves transaction results persisted in store.
func StoreIndex(store *ledger.Store) TxIndex {
	return func(hash string) (tendermint.TxResult, error) {
		rec, err := store.TxResult(hash)
		if errors.Is(err, ledger.ErrTxNotFound) {
			return tendermint.TxResult{}, tendermint.ErrTxNotFound
		}
		if err != nil {
			return tendermint.TxResult{}, err
		}
		return tendermint.TxResult{
			Hash:    rec.Hash,
			Height:  rec.Height,
			Index:   rec.Index,
			Code:    rec.Code,
			Log:     rec.Log,
			GasUsed: rec.GasUsed,
		}, nil
	}
}

// NewNode creates a node for app. The application is initialised with
// chainID through InitChain.
func NewNode(app abci.Application, chainID string, log *zap.Logger, opts ...Option) *Node {
	if log == nil {
		log = zap.NewNop()
	}
	info := app.Info(abci.RequestInfo{})
	if info.LastBlockHeight == 0 {
		app.InitChain(abci.RequestInitChain{ChainId: chainID, Time: time.Now()})
	}
	n := &Node{
		app:     app,
		chainID: chainID,
		log:     log.Named("devnet"),
		height:  info.LastBlockHeight,
		seen:    make(map[string]struct{}),
		results: make(map[string]tendermint.TxResult),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Run produces a block every interval until ctx is done. Transactions still
// in the mempool at that point are committed in one last block.
func (n *Node) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultBlockInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	n.log.Info("dev chain started", zap.String("chain_id", n.chainID), zap.Duration("block_interval", interval))
	for {
		select {
		case <-ctx.Done():
			if pending := n.Pending(); pending > 0 {
				n.log.Info("committing pending transactions", zap.Int("txs", pending))
				n.ProduceBlock()
			}
			n.log.Info("dev chain stopped", zap.Int64("height", n.Height()))
			return
		case <-ticker.C:
			n.ProduceBlock()
		}
	}
}

// Height returns the last committed height.
func (n *Node) Height() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.height
}

// Pending returns the number of transactions waiting in the mempool.
func (n *Node) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.mempool)
}

// ProduceBlock commits every pending transaction in one block and returns
// the new height. An empty mempool still produces a block.
func (n *Node) ProduceBlock() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	height := n.height + 1
	txs := n.mempool
	n.mempool = nil

	n.app.BeginBlock(abci.RequestBeginBlock{Header: tmproto.Header{
		ChainID: n.chainID,
		Height:  height,
		Time:    time.Now().UTC(),
	}})
	for i, tx := range txs {
		res := n.app.DeliverTx(abci.RequestDeliverTx{Tx: tx})
		hash := types.TxHash(tx)
		n.results[hash] = tendermint.TxResult{
			Hash:    hash,
			Height:  height,
			Index:   uint32(i),
			Code:    res.Code,
			Log:     res.Log,
			GasUsed: res.GasUsed,
		}
	}
	n.app.EndBlock(abci.RequestEndBlock{Height: height})
	n.app.Commit()
	n.height = height

	if len(txs) > 0 {
		n.log.Debug("block committed", zap.Int64("height", height), zap.Int("txs", len(txs)))
	}
	return height
}

// BroadcastTxSync runs CheckTx and, when it passes, queues tx for the next
// block. Re-submitting a known transaction returns tendermint.ErrTxInCache.
func (n *Node) BroadcastTxSync(ctx context.Context, tx []byte) (tendermint.BroadcastResult, error) {
	if err := ctx.Err(); err != nil {
		return tendermint.BroadcastResult{}, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	hash := types.TxHash(tx)
	if _, ok := n.seen[hash]; ok {
		return tendermint.BroadcastResult{}, tendermint.ErrTxInCache
	}

	res := n.app.CheckTx(abci.RequestCheckTx{Tx: tx, Type: abci.CheckTxType_New})
	if res.Code != 0 {
		return tendermint.BroadcastResult{Code: res.Code, Log: res.Log, Hash: hash}, nil
	}

	n.seen[hash] = struct{}{}
	n.mempool = append(n.mempool, tx)
	return tendermint.BroadcastResult{Hash: hash}, nil
}

// Tx returns the committed result for hash, consulting the TxIndex for
// transactions committed before this node started.
func (n *Node) Tx(ctx context.Context, hash string) (tendermint.TxResult, error) {
	if err := ctx.Err(); err != nil {
		return tendermint.TxResult{}, err
	}
	key := normalizeHash(hash)

	n.mu.Lock()
	res, ok := n.results[key]
	n.mu.Unlock()
	switch {
	case ok:
		return res, nil
	case n.index != nil:
		return n.index(key)
	default:
		return tendermint.TxResult{}, tendermint.ErrTxNotFound
	}
}

// ABCIQuery forwards a query to the application.
func (n *Node) ABCIQuery(ctx context.Context, path string, data []byte) (tendermint.QueryResult, error) {
	if err := ctx.Err(); err != nil {
		return tendermint.QueryResult{}, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	res := n.app.Query(abci.RequestQuery{Path: path, Data: data})
	return tendermint.QueryResult{Code: res.Code, Log: res.Log, Value: res.Value, Height: res.Height}, nil
}

// Status reports the chain id and height.
func (n *Node) Status(ctx context.Context) (tendermint.NodeStatus, error) {
	if err := ctx.Err(); err != nil {
		return tendermint.NodeStatus{}, err
	}
	return tendermint.NodeStatus{Network: n.chainID, LatestHeight: n.Height()}, nil
}

func normalizeHash(hash string) string {
	return strings.ToUpper(strings.TrimPrefix(hash, "0x"))
}
