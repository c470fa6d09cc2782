package txmgr

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/guregu/null.v4"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"

	"github.com/smartcontractkit/chainlink-pending-tracker/chains"
	"github.com/smartcontractkit/chainlink-pending-tracker/chains/txmgr/types"
)

var ErrTxNotFound = errors.New("tx not found")

// Confirmation is what the store keeps for a confirmed transaction.
type Confirmation[R any] struct {
	Receipt       R
	BaseFeePerGas *big.Int
}

// InMemoryStore keeps transactions in memory. It serves the pending and completed sets to a
// PendingTracker and applies the tracker's notifications, so that final transactions leave the
// pending set. Every read returns copies.
type InMemoryStore[ADDR chains.Hashable, THASH chains.Hashable, SEQ chains.Sequence, R any] struct {
	lggr logger.SugaredLogger

	mu            sync.RWMutex
	txs           map[uuid.UUID]*types.Tx[ADDR, THASH, SEQ]
	order         []uuid.UUID
	confirmations map[uuid.UUID]Confirmation[R]
}

func NewInMemoryStore[ADDR chains.Hashable, THASH chains.Hashable, SEQ chains.Sequence, R any](lggr logger.Logger) *InMemoryStore[ADDR, THASH, SEQ, R] {
	return &InMemoryStore[ADDR, THASH, SEQ, R]{
		lggr:          logger.Sugared(lggr).Named("InMemoryStore"),
		txs:           make(map[uuid.UUID]*types.Tx[ADDR, THASH, SEQ]),
		confirmations: make(map[uuid.UUID]Confirmation[R]),
	}
}

// AddTx starts tracking tx.
func (ms *InMemoryStore[ADDR, THASH, SEQ, R]) AddTx(tx *types.Tx[ADDR, THASH, SEQ]) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, ok := ms.txs[tx.ID]; ok {
		return fmt.Errorf("tx %s already exists", tx.ID)
	}
	ms.txs[tx.ID] = cloneTx(tx)
	ms.order = append(ms.order, tx.ID)
	return nil
}

// UpdateTx replaces a tracked transaction, e.g. after it was signed and broadcast.
func (ms *InMemoryStore[ADDR, THASH, SEQ, R]) UpdateTx(tx *types.Tx[ADDR, THASH, SEQ]) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, ok := ms.txs[tx.ID]; !ok {
		return fmt.Errorf("failed to update tx %s: %w", tx.ID, ErrTxNotFound)
	}
	ms.txs[tx.ID] = cloneTx(tx)
	return nil
}

func (ms *InMemoryStore[ADDR, THASH, SEQ, R]) GetTxByID(_ context.Context, id uuid.UUID) (*types.Tx[ADDR, THASH, SEQ], error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	tx, ok := ms.txs[id]
	if !ok {
		return nil, fmt.Errorf("failed to get tx %s: %w", id, ErrTxNotFound)
	}
	return cloneTx(tx), nil
}

// GetConfirmation returns the receipt and base fee recorded when id was confirmed.
func (ms *InMemoryStore[ADDR, THASH, SEQ, R]) GetConfirmation(id uuid.UUID) (Confirmation[R], bool) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	c, ok := ms.confirmations[id]
	return c, ok
}

// GetPendingTxs returns all non-final transactions in insertion order.
func (ms *InMemoryStore[ADDR, THASH, SEQ, R]) GetPendingTxs(_ context.Context) ([]*types.Tx[ADDR, THASH, SEQ], error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var txs []*types.Tx[ADDR, THASH, SEQ]
	for _, id := range ms.order {
		if tx := ms.txs[id]; !IsFinal(tx.State) {
			txs = append(txs, cloneTx(tx))
		}
	}
	return txs, nil
}

// GetCompletedTxs returns the confirmed transactions sent from addr.
func (ms *InMemoryStore[ADDR, THASH, SEQ, R]) GetCompletedTxs(_ context.Context, addr ADDR) ([]*types.Tx[ADDR, THASH, SEQ], error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var txs []*types.Tx[ADDR, THASH, SEQ]
	for _, id := range ms.order {
		if tx := ms.txs[id]; tx.State == TxConfirmed && tx.FromAddress == addr {
			txs = append(txs, cloneTx(tx))
		}
	}
	return txs, nil
}

func (ms *InMemoryStore[ADDR, THASH, SEQ, R]) OnConfirmed(_ context.Context, id uuid.UUID, receipt R, baseFeePerGas *big.Int) {
	ms.update(id, func(tx *types.Tx[ADDR, THASH, SEQ]) {
		tx.State = TxConfirmed
		tx.Warning = nil
		ms.confirmations[id] = Confirmation[R]{Receipt: receipt, BaseFeePerGas: baseFeePerGas}
	})
}

func (ms *InMemoryStore[ADDR, THASH, SEQ, R]) OnDropped(_ context.Context, id uuid.UUID) {
	ms.update(id, func(tx *types.Tx[ADDR, THASH, SEQ]) {
		tx.State = TxDropped
	})
}

func (ms *InMemoryStore[ADDR, THASH, SEQ, R]) OnFailed(_ context.Context, id uuid.UUID, err error) {
	ms.update(id, func(tx *types.Tx[ADDR, THASH, SEQ]) {
		tx.State = TxFailed
		tx.Error = null.StringFrom(err.Error())
	})
}

func (ms *InMemoryStore[ADDR, THASH, SEQ, R]) OnWarning(_ context.Context, tx *types.Tx[ADDR, THASH, SEQ], err error) {
	warning := &types.TxWarning{Err: err}
	if tx.Warning != nil {
		warning.Message = tx.Warning.Message
	}
	ms.update(tx.ID, func(stored *types.Tx[ADDR, THASH, SEQ]) {
		stored.Warning = warning
	})
}

func (ms *InMemoryStore[ADDR, THASH, SEQ, R]) OnRetry(_ context.Context, tx *types.Tx[ADDR, THASH, SEQ]) {
	ms.update(tx.ID, func(stored *types.Tx[ADDR, THASH, SEQ]) {
		stored.RetryCount++
	})
}

func (ms *InMemoryStore[ADDR, THASH, SEQ, R]) OnBlockUpdate(_ context.Context, tx *types.Tx[ADDR, THASH, SEQ], blockNum int64) {
	ms.update(tx.ID, func(stored *types.Tx[ADDR, THASH, SEQ]) {
		if !stored.FirstRetryBlockNum.Valid {
			stored.FirstRetryBlockNum = null.IntFrom(blockNum)
		}
	})
}

func (ms *InMemoryStore[ADDR, THASH, SEQ, R]) update(id uuid.UUID, fn func(tx *types.Tx[ADDR, THASH, SEQ])) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	tx, ok := ms.txs[id]
	if !ok {
		ms.lggr.Warnw("Notification for unknown tx", "txID", id)
		return
	}
	if IsFinal(tx.State) {
		ms.lggr.Debugw("Ignoring notification for final tx", "txID", id, "state", tx.State)
		return
	}
	fn(tx)
}

func cloneTx[ADDR chains.Hashable, THASH chains.Hashable, SEQ chains.Sequence](tx *types.Tx[ADDR, THASH, SEQ]) *types.Tx[ADDR, THASH, SEQ] {
	c := *tx
	if tx.Sequence != nil {
		seq := *tx.Sequence
		c.Sequence = &seq
	}
	if tx.Hash != nil {
		hash := *tx.Hash
		c.Hash = &hash
	}
	if tx.Warning != nil {
		warning := *tx.Warning
		c.Warning = &warning
	}
	c.SignedRawTx = slices.Clone(tx.SignedRawTx)
	return &c
}
