package heads

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
)

type testHash string

func (h testHash) String() string { return string(h) }

type testHead struct {
	num     int64
	hash    testHash
	chainID *big.Int
}

var _ Head[testHash, *big.Int] = (*testHead)(nil)

func (h *testHead) BlockNumber() int64  { return h.num }
func (h *testHead) BlockHash() testHash { return h.hash }
func (h *testHead) ChainID() *big.Int   { return h.chainID }
func (h *testHead) HasChainID() bool    { return h != nil && h.chainID != nil }
func (h *testHead) IsValid() bool       { return h != nil }

type testSub struct {
	errCh        chan error
	unsubscribed atomic.Bool
	once         sync.Once
}

func newTestSub() *testSub {
	return &testSub{errCh: make(chan error, 1)}
}

func (s *testSub) Unsubscribe() {
	s.once.Do(func() {
		s.unsubscribed.Store(true)
		close(s.errCh)
	})
}

func (s *testSub) Err() <-chan error { return s.errCh }

// testClient hands out a new subscription on every SubscribeToHeads call. The first failSubs
// calls fail.
type testClient struct {
	chainID *big.Int

	mu       sync.Mutex
	failSubs int
	calls    int
	heads    chan *testHead
	sub      *testSub
}

var _ Client[*testHead, *testSub, *big.Int, testHash] = (*testClient)(nil)

func (c *testClient) ConfiguredChainID() *big.Int { return c.chainID }

func (c *testClient) SubscribeToHeads(context.Context) (<-chan *testHead, *testSub, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls <= c.failSubs {
		return nil, nil, errSubscribe
	}
	c.heads = make(chan *testHead)
	c.sub = newTestSub()
	return c.heads, c.sub, nil
}

func (c *testClient) current() (chan *testHead, *testSub) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.heads, c.sub
}

func (c *testClient) numCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}
