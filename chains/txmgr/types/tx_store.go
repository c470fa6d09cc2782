package types

import (
	"context"

	"github.com/smartcontractkit/chainlink-pending-tracker/chains"
)

// TxStore is the subset of the persistence layer the pending tracker reads from.
// The tracker never removes transactions itself; the store is expected to drop an item from the
// pending set once it has been notified of a terminal outcome.
type TxStore[ADDR chains.Hashable, THASH chains.Hashable, SEQ chains.Sequence] interface {
	// GetPendingTxs returns a snapshot of all transactions that are not yet final.
	GetPendingTxs(ctx context.Context) ([]*Tx[ADDR, THASH, SEQ], error)
	// GetCompletedTxs returns confirmed transactions sent from addr. A nonce used by one of them
	// cannot be used by any other transaction.
	GetCompletedTxs(ctx context.Context, addr ADDR) ([]*Tx[ADDR, THASH, SEQ], error)
}
