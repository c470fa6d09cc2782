package txmgrtest

import (
	"context"

	"github.com/smartcontractkit/chainlink-pending-tracker/chains"
	"github.com/smartcontractkit/chainlink-pending-tracker/chains/txmgr/types"
)

// ErrTxStore is a TxStore whose every read fails with Err.
type ErrTxStore[ADDR chains.Hashable, THASH chains.Hashable, SEQ chains.Sequence] struct {
	Err error
}

func (s *ErrTxStore[ADDR, THASH, SEQ]) GetPendingTxs(context.Context) ([]*types.Tx[ADDR, THASH, SEQ], error) {
	return nil, s.Err
}

func (s *ErrTxStore[ADDR, THASH, SEQ]) GetCompletedTxs(context.Context, ADDR) ([]*types.Tx[ADDR, THASH, SEQ], error) {
	return nil, s.Err
}

// ErrNonceLocker is a NonceLocker that never hands out the global lock.
type ErrNonceLocker struct {
	Err error
}

func (l *ErrNonceLocker) GetGlobalLock(context.Context) (types.NonceLock, error) {
	return nil, l.Err
}

// NonceLocker hands out a lock that counts acquisitions and releases.
type NonceLocker struct {
	Acquired int
	Released int
}

func (l *NonceLocker) GetGlobalLock(context.Context) (types.NonceLock, error) {
	l.Acquired++
	return &releaseCounter{l: l}, nil
}

type releaseCounter struct {
	l    *NonceLocker
	done bool
}

func (r *releaseCounter) Release() {
	if r.done {
		return
	}
	r.done = true
	r.l.Released++
}
