package nonce

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"

	"github.com/smartcontractkit/chainlink-pending-tracker/chains"
	"github.com/smartcontractkit/chainlink-pending-tracker/chains/txmgr/types"
)

// SequenceClient returns the next sequence the network expects from an address.
type SequenceClient[ADDR chains.Hashable, SEQ chains.Sequence] interface {
	PendingSequenceAt(ctx context.Context, addr ADDR) (SEQ, error)
}

// Details explains how NextNonce was computed.
type Details struct {
	// Network is the pending nonce reported by the node.
	Network int64
	// HighestCompleted is the highest nonce of a confirmed tx, or -1 if there is none.
	HighestCompleted int64
	// HighestContiguousPending is the highest pending nonce in an unbroken run starting at
	// max(Network, HighestCompleted+1), or -1 if the run is empty.
	HighestContiguousPending int64
}

// AddressLock holds the per-address lock. NextNonce may be used by the holder until Release.
type AddressLock struct {
	NextNonce int64
	Details   Details
	*lock
}

// Tracker hands out nonces. The global lock stops new nonces from being handed out, which the
// pending tracker relies on while it inspects pending txes.
type Tracker[ADDR chains.Hashable, THASH chains.Hashable, SEQ chains.Sequence] struct {
	lggr    logger.SugaredLogger
	client  SequenceClient[ADDR, SEQ]
	txStore types.TxStore[ADDR, THASH, SEQ]

	global    *semaphore.Weighted
	mu        sync.Mutex
	addrLocks map[ADDR]*semaphore.Weighted
}

func NewTracker[ADDR chains.Hashable, THASH chains.Hashable, SEQ chains.Sequence](
	lggr logger.Logger,
	client SequenceClient[ADDR, SEQ],
	txStore types.TxStore[ADDR, THASH, SEQ],
) *Tracker[ADDR, THASH, SEQ] {
	return &Tracker[ADDR, THASH, SEQ]{
		lggr:      logger.Sugared(lggr).Named("NonceTracker"),
		client:    client,
		txStore:   txStore,
		global:    semaphore.NewWeighted(1),
		addrLocks: make(map[ADDR]*semaphore.Weighted),
	}
}

// GetGlobalLock blocks until no other holder has the global lock or ctx is done.
func (t *Tracker[ADDR, THASH, SEQ]) GetGlobalLock(ctx context.Context) (types.NonceLock, error) {
	if err := t.global.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to acquire global nonce lock: %w", err)
	}
	return newLock(func() { t.global.Release(1) }), nil
}

// GetNonceLock waits for the global lock to be free, takes the lock for addr and computes the
// next nonce to use for it. The caller must Release the returned lock.
func (t *Tracker[ADDR, THASH, SEQ]) GetNonceLock(ctx context.Context, addr ADDR) (*AddressLock, error) {
	if err := t.global.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to wait for global nonce lock: %w", err)
	}
	t.global.Release(1)

	sem := t.addressSemaphore(addr)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to acquire nonce lock for %s: %w", addr, err)
	}
	l := newLock(func() { sem.Release(1) })

	details, next, err := t.nextNonce(ctx, addr)
	if err != nil {
		l.Release()
		return nil, err
	}
	t.lggr.Debugw("Computed next nonce", "address", addr, "nextNonce", next,
		"network", details.Network, "highestCompleted", details.HighestCompleted,
		"highestContiguousPending", details.HighestContiguousPending)
	return &AddressLock{NextNonce: next, Details: details, lock: l}, nil
}

func (t *Tracker[ADDR, THASH, SEQ]) addressSemaphore(addr ADDR) *semaphore.Weighted {
	t.mu.Lock()
	defer t.mu.Unlock()
	sem, ok := t.addrLocks[addr]
	if !ok {
		sem = semaphore.NewWeighted(1)
		t.addrLocks[addr] = sem
	}
	return sem
}

func (t *Tracker[ADDR, THASH, SEQ]) nextNonce(ctx context.Context, addr ADDR) (Details, int64, error) {
	network, err := t.client.PendingSequenceAt(ctx, addr)
	if err != nil {
		return Details{}, 0, fmt.Errorf("failed to get network nonce for %s: %w", addr, err)
	}
	completed, err := t.txStore.GetCompletedTxs(ctx, addr)
	if err != nil {
		return Details{}, 0, fmt.Errorf("failed to get completed txes for %s: %w", addr, err)
	}
	pending, err := t.txStore.GetPendingTxs(ctx)
	if err != nil {
		return Details{}, 0, fmt.Errorf("failed to get pending txes: %w", err)
	}

	d := Details{Network: network.Int64(), HighestCompleted: -1, HighestContiguousPending: -1}
	for _, tx := range completed {
		if tx.Sequence != nil {
			d.HighestCompleted = max(d.HighestCompleted, (*tx.Sequence).Int64())
		}
	}

	pendingNonces := make(map[int64]struct{})
	for _, tx := range pending {
		if tx.FromAddress == addr && tx.Sequence != nil {
			pendingNonces[(*tx.Sequence).Int64()] = struct{}{}
		}
	}

	next := max(d.Network, d.HighestCompleted+1)
	for {
		if _, ok := pendingNonces[next]; !ok {
			break
		}
		d.HighestContiguousPending = next
		next++
	}
	return d, next, nil
}

type lock struct {
	once    sync.Once
	release func()
}

func newLock(release func()) *lock {
	return &lock{release: release}
}

// Release is safe to call more than once.
func (l *lock) Release() {
	l.once.Do(l.release)
}
