package chains

import (
	"fmt"
)

// Hashable is the constraint for addresses and hashes: comparable, so they can key maps, and
// printable for logging.
type Hashable interface {
	fmt.Stringer
	comparable
}

// ID is the chain identifier (e.g. *big.Int for EVM chains).
type ID fmt.Stringer

// Sequence represents the per-sender ordering of transactions. For EVM chains this is the nonce.
type Sequence interface {
	fmt.Stringer
	Int64() int64
}

// Head is the minimal view of a block header needed to drive per-block work.
type Head[BLOCK_HASH Hashable] interface {
	// BlockNumber is the head's block number
	BlockNumber() int64
	// BlockHash is the head's block hash
	BlockHash() BLOCK_HASH
}

// Subscription represents an event subscription where events are delivered on a data channel.
type Subscription interface {
	// Unsubscribe cancels the sending of events to the data channel
	// and closes the error channel.
	Unsubscribe()
	// Err returns the subscription error channel. The error channel receives
	// a value if there is an issue with the subscription. Only one value will ever be sent.
	Err() <-chan error
}
