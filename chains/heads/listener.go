package heads

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/smartcontractkit/chainlink-common/pkg/services"

	"github.com/smartcontractkit/chainlink-pending-tracker/chains"
)

var (
	promNumHeadsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pending_tracker_heads_received",
		Help: "The total number of heads seen by the pending tracker",
	}, []string{"chainID"})
	promSubscriptionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pending_tracker_head_subscription_errors",
		Help: "The total number of failed head subscriptions",
	}, []string{"chainID"})
)

// Handler is a callback that handles incoming heads
type Handler[H chains.Head[BLOCK_HASH], BLOCK_HASH chains.Hashable] func(ctx context.Context, header H) error

// Listener subscribes to new heads and passes each one to a Handler, re-subscribing whenever the
// subscription fails.
type Listener[H chains.Head[BLOCK_HASH], BLOCK_HASH chains.Hashable] interface {
	services.Service

	// ReceivingHeads returns true if a head arrived within the idle warning threshold (thread safe)
	ReceivingHeads() bool

	// Connected returns true if the listener holds a subscription (thread safe)
	Connected() bool
}

type ListenerConfig interface {
	BlockEmissionIdleWarningThreshold() time.Duration
}

type listener[
	HTH Head[BLOCK_HASH, ID],
	S chains.Subscription,
	ID chains.ID,
	BLOCK_HASH chains.Hashable,
] struct {
	services.Service
	eng *services.Engine

	config         ListenerConfig
	client         Client[HTH, S, ID, BLOCK_HASH]
	handleNewHead  Handler[HTH, BLOCK_HASH]
	newBackoff     func() backoff.Backoff
	chHeaders      <-chan HTH
	subscription   chains.Subscription
	connected      atomic.Bool
	receivingHeads atomic.Bool
}

func NewListener[
	HTH Head[BLOCK_HASH, ID],
	S chains.Subscription,
	ID chains.ID,
	BLOCK_HASH chains.Hashable,
	CLIENT Client[HTH, S, ID, BLOCK_HASH],
](
	lggr logger.Logger,
	client CLIENT,
	config ListenerConfig,
	handleNewHead Handler[HTH, BLOCK_HASH],
) Listener[HTH, BLOCK_HASH] {
	hl := &listener[HTH, S, ID, BLOCK_HASH]{
		config:        config,
		client:        client,
		handleNewHead: handleNewHead,
		newBackoff:    NewRedialBackoff,
	}
	hl.Service, hl.eng = services.Config{
		Name:  "HeadListener",
		Start: hl.start,
	}.NewServiceEngine(lggr)
	return hl
}

// NewRedialBackoff is the backoff between attempts to (re)subscribe to an unreachable node.
func NewRedialBackoff() backoff.Backoff {
	return backoff.Backoff{
		Min:    1 * time.Second,
		Max:    15 * time.Second,
		Jitter: true,
	}
}

func (l *listener[HTH, S, ID, BLOCK_HASH]) start(context.Context) error {
	l.eng.Go(l.listen)
	return nil
}

func (l *listener[HTH, S, ID, BLOCK_HASH]) listen(ctx context.Context) {
	defer l.unsubscribe()

	for l.subscribe(ctx) {
		err := l.receiveHeaders(ctx)
		if ctx.Err() != nil {
			return
		}
		l.eng.Errorw("Error in new head subscription, unsubscribed", "err", err)
	}
}

func (l *listener[HTH, S, ID, BLOCK_HASH]) ReceivingHeads() bool {
	return l.receivingHeads.Load()
}

func (l *listener[HTH, S, ID, BLOCK_HASH]) Connected() bool {
	return l.connected.Load()
}

func (l *listener[HTH, S, ID, BLOCK_HASH]) HealthReport() map[string]error {
	var err error
	if !l.Connected() {
		err = errors.New("listener is not connected")
	} else if !l.ReceivingHeads() {
		err = errors.New("listener is not receiving heads")
	}
	return map[string]error{l.Name(): err}
}

// receiveHeaders returns nil only when ctx is done. Any other return means the subscription
// must be re-established.
func (l *listener[HTH, S, ID, BLOCK_HASH]) receiveHeaders(ctx context.Context) error {
	chainID := l.client.ConfiguredChainID()

	var idleC <-chan time.Time
	resetIdle := func() {}
	idleThreshold := l.config.BlockEmissionIdleWarningThreshold()
	if idleThreshold > 0 {
		idle := time.NewTimer(idleThreshold)
		defer idle.Stop()
		idleC = idle.C
		resetIdle = func() { idle.Reset(idleThreshold) }
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case head, open := <-l.chHeaders:
			if !open {
				return errors.New("head channel closed")
			}
			resetIdle()
			l.receivingHeads.Store(true)
			if !head.IsValid() {
				l.eng.Error("Got invalid head")
				continue
			}
			if !head.HasChainID() || head.ChainID().String() != chainID.String() {
				l.eng.Errorw("Ignoring head from another chain", "expectedChainID", chainID, "blockNum", head.BlockNumber())
				continue
			}
			promNumHeadsReceived.WithLabelValues(chainID.String()).Inc()

			if err := l.handleNewHead(ctx, head); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				l.eng.Errorw("Failed to handle head", "blockNum", head.BlockNumber(), "err", err)
			}

		case err, open := <-l.subscription.Err():
			if !open || err == nil {
				return errors.New("subscription error channel closed")
			}
			return err

		case <-idleC:
			l.eng.Warnf("Have not received a head for %v", idleThreshold)
			l.receivingHeads.Store(false)
			resetIdle()
		}
	}
}

func (l *listener[HTH, S, ID, BLOCK_HASH]) subscribe(ctx context.Context) bool {
	b := l.newBackoff()
	chainID := l.client.ConfiguredChainID()

	// first attempt is immediate
	wait := time.Duration(0)
	for {
		l.unsubscribe()

		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}

		l.eng.Debugw("Subscribing to new heads", "chainID", chainID)
		err := l.subscribeToHeads(ctx)
		if err == nil {
			l.eng.Debugw("Subscribed to new heads", "chainID", chainID)
			return true
		}
		promSubscriptionErrors.WithLabelValues(chainID.String()).Inc()
		l.eng.Warnw("Failed to subscribe to new heads", "chainID", chainID, "err", err)
		wait = b.Duration()
	}
}

func (l *listener[HTH, S, ID, BLOCK_HASH]) subscribeToHeads(ctx context.Context) error {
	ch, sub, err := l.client.SubscribeToHeads(ctx)
	if err != nil {
		return fmt.Errorf("Client#SubscribeToHeads: %w", err)
	}
	l.chHeaders = ch
	l.subscription = sub
	l.connected.Store(true)
	return nil
}

func (l *listener[HTH, S, ID, BLOCK_HASH]) unsubscribe() {
	if l.subscription != nil {
		l.connected.Store(false)
		l.subscription.Unsubscribe()
		l.subscription = nil
	}
}
