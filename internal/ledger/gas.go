package ledger

import "votingrelay.mini/vrm/internal/types"

// BaseGas is charged for every delivered transaction.
const BaseGas int64 = 21000

var gasSchedule = map[types.TransactionType]int64{
	types.TxAddCandidate:    45000,
	types.TxRegisterVoter:   22100,
	types.TxUnregisterVoter: 5000,
	types.TxVoteFor:         27300,
	types.TxVote:            27300,
}

// GasCost returns the resource cost reported for a transaction of txType.
// Rejected transactions pay only the base cost.
func GasCost(txType types.TransactionType, applied bool) int64 {
	if !applied {
		return BaseGas
	}
	return BaseGas + gasSchedule[txType]
}
