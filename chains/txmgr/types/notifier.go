package types

import (
	"context"
	"math/big"

	"github.com/google/uuid"

	"github.com/smartcontractkit/chainlink-pending-tracker/chains"
)

// Notifier receives the outcome of every pending tracker evaluation. Calls are fire-and-forget
// and may arrive concurrently from different transactions.
type Notifier[ADDR chains.Hashable, THASH chains.Hashable, SEQ chains.Sequence, R any] interface {
	// OnConfirmed is called once a receipt with a block number was found.
	OnConfirmed(ctx context.Context, id uuid.UUID, receipt R, baseFeePerGas *big.Int)
	// OnDropped is called when the transaction's nonce was consumed by something else.
	OnDropped(ctx context.Context, id uuid.UUID)
	// OnFailed is called when the transaction is in an inconsistent state.
	OnFailed(ctx context.Context, id uuid.UUID, err error)
	// OnWarning reports a non-terminal problem; tx.Warning holds the same information.
	OnWarning(ctx context.Context, tx *Tx[ADDR, THASH, SEQ], err error)
	// OnRetry is called after the signed transaction was successfully rebroadcast.
	OnRetry(ctx context.Context, tx *Tx[ADDR, THASH, SEQ])
	// OnBlockUpdate is called the first time a transaction is considered for resubmission.
	OnBlockUpdate(ctx context.Context, tx *Tx[ADDR, THASH, SEQ], blockNum int64)
}
