// Package relay submits election transactions on behalf of voters. It owns
// the relay credential's sequence number, signs and broadcasts transactions,
// waits for them to be finalized and translates the ledger's verdict into
// caller-facing outcomes. It keeps no copy of election state; reads go
// straight to the ledger.
package relay

import (
	"context"

	"votingrelay.mini/vrm/internal/tendermint"
)

// Ledger is the node API the relay depends on. It is implemented by
// tendermint.BroadcastClient and by devnet.Node.
type Ledger interface {
	BroadcastTxSync(ctx context.Context, tx []byte) (tendermint.BroadcastResult, error)
	Tx(ctx context.Context, hash string) (tendermint.TxResult, error)
	ABCIQuery(ctx context.Context, path string, data []byte) (tendermint.QueryResult, error)
	Status(ctx context.Context) (tendermint.NodeStatus, error)
}
