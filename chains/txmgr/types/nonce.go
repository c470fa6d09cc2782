package types

import (
	"context"
)

// NonceLocker arbitrates nonce assignment. Holding the global lock guarantees that no new
// nonce is handed out while the holder inspects pending state.
type NonceLocker interface {
	GetGlobalLock(ctx context.Context) (NonceLock, error)
}

// NonceLock is a held lock. Release must be safe to call more than once.
type NonceLock interface {
	Release()
}
