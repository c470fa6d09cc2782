package txmgr

import (
	"context"
	"math/big"

	"github.com/google/uuid"

	"github.com/smartcontractkit/chainlink-pending-tracker/chains"
	"github.com/smartcontractkit/chainlink-pending-tracker/chains/txmgr/types"
)

type EventType string

const (
	EventConfirmed   EventType = "tx:confirmed"
	EventDropped     EventType = "tx:dropped"
	EventFailed      EventType = "tx:failed"
	EventWarning     EventType = "tx:warning"
	EventRetry       EventType = "tx:retry"
	EventBlockUpdate EventType = "tx:block-update"
)

// Event is a single notification produced by the PendingTracker. Only the fields relevant to
// Type are set.
type Event[ADDR chains.Hashable, THASH chains.Hashable, SEQ chains.Sequence, R any] struct {
	Type          EventType
	TxID          uuid.UUID
	Tx            *types.Tx[ADDR, THASH, SEQ]
	Receipt       R
	BaseFeePerGas *big.Int
	Err           error
	BlockNum      int64
}

// ChanNotifier delivers notifications as Events on a channel. Sends block until the event is
// received or ctx is done, in which case the event is discarded.
type ChanNotifier[ADDR chains.Hashable, THASH chains.Hashable, SEQ chains.Sequence, R any] struct {
	ch chan Event[ADDR, THASH, SEQ, R]
}

func NewChanNotifier[ADDR chains.Hashable, THASH chains.Hashable, SEQ chains.Sequence, R any](bufferSize int) *ChanNotifier[ADDR, THASH, SEQ, R] {
	return &ChanNotifier[ADDR, THASH, SEQ, R]{ch: make(chan Event[ADDR, THASH, SEQ, R], bufferSize)}
}

// Events returns the channel events are delivered on.
func (n *ChanNotifier[ADDR, THASH, SEQ, R]) Events() <-chan Event[ADDR, THASH, SEQ, R] {
	return n.ch
}

func (n *ChanNotifier[ADDR, THASH, SEQ, R]) send(ctx context.Context, e Event[ADDR, THASH, SEQ, R]) {
	select {
	case n.ch <- e:
	case <-ctx.Done():
	}
}

func (n *ChanNotifier[ADDR, THASH, SEQ, R]) OnConfirmed(ctx context.Context, id uuid.UUID, receipt R, baseFeePerGas *big.Int) {
	n.send(ctx, Event[ADDR, THASH, SEQ, R]{Type: EventConfirmed, TxID: id, Receipt: receipt, BaseFeePerGas: baseFeePerGas})
}

func (n *ChanNotifier[ADDR, THASH, SEQ, R]) OnDropped(ctx context.Context, id uuid.UUID) {
	n.send(ctx, Event[ADDR, THASH, SEQ, R]{Type: EventDropped, TxID: id})
}

func (n *ChanNotifier[ADDR, THASH, SEQ, R]) OnFailed(ctx context.Context, id uuid.UUID, err error) {
	n.send(ctx, Event[ADDR, THASH, SEQ, R]{Type: EventFailed, TxID: id, Err: err})
}

func (n *ChanNotifier[ADDR, THASH, SEQ, R]) OnWarning(ctx context.Context, tx *types.Tx[ADDR, THASH, SEQ], err error) {
	n.send(ctx, Event[ADDR, THASH, SEQ, R]{Type: EventWarning, TxID: tx.ID, Tx: tx, Err: err})
}

func (n *ChanNotifier[ADDR, THASH, SEQ, R]) OnRetry(ctx context.Context, tx *types.Tx[ADDR, THASH, SEQ]) {
	n.send(ctx, Event[ADDR, THASH, SEQ, R]{Type: EventRetry, TxID: tx.ID, Tx: tx})
}

func (n *ChanNotifier[ADDR, THASH, SEQ, R]) OnBlockUpdate(ctx context.Context, tx *types.Tx[ADDR, THASH, SEQ], blockNum int64) {
	n.send(ctx, Event[ADDR, THASH, SEQ, R]{Type: EventBlockUpdate, TxID: tx.ID, Tx: tx, BlockNum: blockNum})
}

// MultiNotifier forwards every notification to each of its notifiers, in order.
type MultiNotifier[ADDR chains.Hashable, THASH chains.Hashable, SEQ chains.Sequence, R any] []types.Notifier[ADDR, THASH, SEQ, R]

func (m MultiNotifier[ADDR, THASH, SEQ, R]) OnConfirmed(ctx context.Context, id uuid.UUID, receipt R, baseFeePerGas *big.Int) {
	for _, n := range m {
		n.OnConfirmed(ctx, id, receipt, baseFeePerGas)
	}
}

func (m MultiNotifier[ADDR, THASH, SEQ, R]) OnDropped(ctx context.Context, id uuid.UUID) {
	for _, n := range m {
		n.OnDropped(ctx, id)
	}
}

func (m MultiNotifier[ADDR, THASH, SEQ, R]) OnFailed(ctx context.Context, id uuid.UUID, err error) {
	for _, n := range m {
		n.OnFailed(ctx, id, err)
	}
}

func (m MultiNotifier[ADDR, THASH, SEQ, R]) OnWarning(ctx context.Context, tx *types.Tx[ADDR, THASH, SEQ], err error) {
	for _, n := range m {
		n.OnWarning(ctx, tx, err)
	}
}

func (m MultiNotifier[ADDR, THASH, SEQ, R]) OnRetry(ctx context.Context, tx *types.Tx[ADDR, THASH, SEQ]) {
	for _, n := range m {
		n.OnRetry(ctx, tx)
	}
}

func (m MultiNotifier[ADDR, THASH, SEQ, R]) OnBlockUpdate(ctx context.Context, tx *types.Tx[ADDR, THASH, SEQ], blockNum int64) {
	for _, n := range m {
		n.OnBlockUpdate(ctx, tx, blockNum)
	}
}
