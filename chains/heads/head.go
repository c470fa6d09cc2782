package heads

import (
	"context"

	"github.com/smartcontractkit/chainlink-pending-tracker/chains"
)

// Head is a block header as delivered by a head subscription.
type Head[BLOCK_HASH chains.Hashable, CHAIN_ID chains.ID] interface {
	chains.Head[BLOCK_HASH]
	// ChainID returns the chain ID of the head.
	ChainID() CHAIN_ID
	// HasChainID returns true if the head has a chain ID.
	HasChainID() bool
	// IsValid returns true if the head is valid.
	IsValid() bool
}

// Client is the subset of an RPC client the Listener needs.
type Client[H chains.Head[BLOCK_HASH], S chains.Subscription, ID chains.ID, BLOCK_HASH chains.Hashable] interface {
	// ConfiguredChainID returns the chain ID that the node is configured to connect to
	ConfiguredChainID() ID
	// SubscribeToHeads delivers new heads on the returned channel until the subscription ends.
	SubscribeToHeads(ctx context.Context) (<-chan H, S, error)
}
