package txmgr

import (
	"sync"

	"github.com/smartcontractkit/chainlink-pending-tracker/chains"
)

// defaultDroppedThreshold is the counter value at which a transaction is reported dropped. The
// counter starts at 0 on the first observation, so the transaction is dropped on the 4th.
const defaultDroppedThreshold = 3

// droppedBuffer debounces drop detection. Nodes can report an advanced nonce before the receipt
// for the transaction that consumed it is queryable.
type droppedBuffer[THASH chains.Hashable] struct {
	mu        sync.Mutex
	threshold uint32
	counts    map[THASH]uint32
}

func newDroppedBuffer[THASH chains.Hashable](threshold uint32) *droppedBuffer[THASH] {
	return &droppedBuffer[THASH]{
		threshold: threshold,
		counts:    make(map[THASH]uint32),
	}
}

// observe records that hash's nonce was seen consumed without a receipt and reports whether it
// has now been seen often enough to be considered dropped. The entry is evicted when it is.
func (b *droppedBuffer[THASH]) observe(hash THASH) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	count, seen := b.counts[hash]
	if !seen {
		b.counts[hash] = 0
		return false
	}
	count++
	if count >= b.threshold {
		delete(b.counts, hash)
		return true
	}
	b.counts[hash] = count
	return false
}

func (b *droppedBuffer[THASH]) remove(hash THASH) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.counts, hash)
}

func (b *droppedBuffer[THASH]) get(hash THASH) (uint32, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	count, ok := b.counts[hash]
	return count, ok
}

func (b *droppedBuffer[THASH]) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.counts)
}
