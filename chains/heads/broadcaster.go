package heads

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/smartcontractkit/chainlink-common/pkg/services"
	"github.com/smartcontractkit/chainlink-common/pkg/utils/mailbox"

	"github.com/smartcontractkit/chainlink-pending-tracker/chains"
)

// TrackableCallbackTimeout bounds a single OnNewLongestChain call.
const TrackableCallbackTimeout = 2 * time.Second

// Trackable is implemented by the core txm to be able to receive head events from any chain.
// Chain implementations should notify head events to the core txm via this interface.
type Trackable[H chains.Head[BLOCK_HASH], BLOCK_HASH chains.Hashable] interface {
	// OnNewLongestChain sends a new head when it becomes available.
	OnNewLongestChain(ctx context.Context, head H)
}

// Broadcaster relays new Heads to all subscribers.
type Broadcaster[H chains.Head[BLOCK_HASH], BLOCK_HASH chains.Hashable] interface {
	services.Service
	BroadcastNewLongestChain(H)
	Subscribe(callback Trackable[H, BLOCK_HASH]) (currentLongestChain H, unsubscribe func())
}

type broadcaster[H chains.Head[BLOCK_HASH], BLOCK_HASH chains.Hashable] struct {
	services.Service
	eng *services.Engine

	mailbox *mailbox.Mailbox[H]

	mu        sync.Mutex
	callbacks map[int]Trackable[H, BLOCK_HASH]
	latest    H
	nextID    int
}

func NewBroadcaster[
	H chains.Head[BLOCK_HASH],
	BLOCK_HASH chains.Hashable,
](
	lggr logger.Logger,
) Broadcaster[H, BLOCK_HASH] {
	hb := &broadcaster[H, BLOCK_HASH]{
		callbacks: make(map[int]Trackable[H, BLOCK_HASH]),
		mailbox:   mailbox.NewSingle[H](),
	}
	hb.Service, hb.eng = services.Config{
		Name:  "HeadBroadcaster",
		Start: hb.start,
		Close: hb.close,
	}.NewServiceEngine(lggr)
	return hb
}

func (b *broadcaster[H, BLOCK_HASH]) start(context.Context) error {
	b.eng.Go(b.run)
	return nil
}

func (b *broadcaster[H, BLOCK_HASH]) close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.callbacks)
	return nil
}

// BroadcastNewLongestChain queues head for the subscribers, replacing any head not yet relayed.
func (b *broadcaster[H, BLOCK_HASH]) BroadcastNewLongestChain(head H) {
	b.mailbox.Deliver(head)
}

// Subscribe subscribes to OnNewLongestChain until Broadcaster is closed,
// or unsubscribe callback is called explicitly
func (b *broadcaster[H, BLOCK_HASH]) Subscribe(callback Trackable[H, BLOCK_HASH]) (currentLongestChain H, unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.callbacks[id] = callback
	return b.latest, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.callbacks, id)
	}
}

func (b *broadcaster[H, BLOCK_HASH]) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.mailbox.Notify():
			b.executeCallbacks(ctx)
		}
	}
}

// DEV: the head relayer makes no promises about head delivery! Subscribing
// Jobs should expect to the relayer to skip heads if there is a large number of listeners
// and all callbacks cannot be completed in the allotted time.
func (b *broadcaster[H, BLOCK_HASH]) executeCallbacks(ctx context.Context) {
	head, exists := b.mailbox.Retrieve()
	if !exists {
		b.eng.Info("No head to retrieve. It might have been skipped")
		return
	}

	b.mu.Lock()
	b.latest = head
	callbacks := make([]Trackable[H, BLOCK_HASH], 0, len(b.callbacks))
	for _, callback := range b.callbacks {
		callbacks = append(callbacks, callback)
	}
	b.mu.Unlock()

	b.eng.Debugw("Relaying head", "blockNum", head.BlockNumber(), "numCallbacks", len(callbacks))

	var wg sync.WaitGroup
	wg.Add(len(callbacks))
	for _, callback := range callbacks {
		go func() {
			defer wg.Done()
			start := time.Now()
			cctx, cancel := context.WithTimeout(ctx, TrackableCallbackTimeout)
			defer cancel()
			callback.OnNewLongestChain(cctx, head)
			b.eng.Debugw("Finished callback", "callbackType", fmt.Sprintf("%T", callback),
				"blockNum", head.BlockNumber(), "elapsed", time.Since(start))
		}()
	}
	wg.Wait()
}

// AsHandler adapts a Broadcaster to a Listener's Handler.
func AsHandler[H chains.Head[BLOCK_HASH], BLOCK_HASH chains.Hashable](b Broadcaster[H, BLOCK_HASH]) Handler[H, BLOCK_HASH] {
	return func(_ context.Context, head H) error {
		b.BroadcastNewLongestChain(head)
		return nil
	}
}
