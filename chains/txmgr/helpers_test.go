package txmgr

import (
	"context"
	"math/big"
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"

	"github.com/smartcontractkit/chainlink-pending-tracker/chains/txmgr/txmgrtest"
	"github.com/smartcontractkit/chainlink-pending-tracker/chains/txmgr/types"
	"github.com/smartcontractkit/chainlink-pending-tracker/metrics"
)

type testAddr string

func (a testAddr) String() string { return string(a) }

type testHash string

func (h testHash) String() string { return string(h) }

type testSeq int64

func (s testSeq) String() string { return strconv.FormatInt(int64(s), 10) }

func (s testSeq) Int64() int64 { return int64(s) }

type testHead struct {
	num  int64
	hash testHash
}

func (h testHead) BlockNumber() int64  { return h.num }
func (h testHead) BlockHash() testHash { return h.hash }

type testReceipt struct {
	TxHash      testHash
	BlockHash   testHash
	BlockNumber *big.Int
	Status      uint64
}

func (r testReceipt) GetStatus() uint64         { return r.Status }
func (r testReceipt) GetTxHash() testHash       { return r.TxHash }
func (r testReceipt) GetBlockNumber() *big.Int  { return r.BlockNumber }
func (r testReceipt) IsZero() bool              { return r.TxHash == "" }
func (r testReceipt) GetFeeUsed() uint64        { return 0 }
func (r testReceipt) GetTransactionIndex() uint { return 0 }
func (r testReceipt) GetBlockHash() testHash    { return r.BlockHash }

type (
	testTx           = types.Tx[testAddr, testHash, testSeq]
	testTracker      = PendingTracker[testAddr, testHash, testHash, testReceipt, testSeq]
	testStore        = InMemoryStore[testAddr, testHash, testSeq, testReceipt]
	testEvent        = Event[testAddr, testHash, testSeq, testReceipt]
	testChanNotifier = ChanNotifier[testAddr, testHash, testSeq, testReceipt]
)

var (
	_ types.TrackerClient[testAddr, testHash, testHash, testReceipt, testSeq] = (*mockTrackerClient)(nil)
	_ types.TxStore[testAddr, testHash, testSeq]                              = (*testStore)(nil)
	_ types.TxStore[testAddr, testHash, testSeq]                              = (*mockTxStore)(nil)
	_ types.Notifier[testAddr, testHash, testSeq, testReceipt]                = (*testStore)(nil)
	_ types.Notifier[testAddr, testHash, testSeq, testReceipt]                = (*testChanNotifier)(nil)
	_ types.Notifier[testAddr, testHash, testSeq, testReceipt]                = MultiNotifier[testAddr, testHash, testSeq, testReceipt]{}
	_ types.TxPublisher[testHash]                                             = (*mockPublisher)(nil)
	_ types.TxApprover                                                        = (*mockApprover)(nil)
)

type mockTrackerClient struct {
	mock.Mock
}

func newMockTrackerClient(t *testing.T) *mockTrackerClient {
	m := &mockTrackerClient{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *mockTrackerClient) TransactionReceipt(ctx context.Context, hash testHash) (testReceipt, error) {
	args := m.Called(ctx, hash)
	return args.Get(0).(testReceipt), args.Error(1)
}

func (m *mockTrackerClient) BlockByHash(ctx context.Context, hash testHash) (types.Block, error) {
	args := m.Called(ctx, hash)
	return args.Get(0).(types.Block), args.Error(1)
}

func (m *mockTrackerClient) SequenceAt(ctx context.Context, addr testAddr) (testSeq, error) {
	args := m.Called(ctx, addr)
	return args.Get(0).(testSeq), args.Error(1)
}

type mockTxStore struct {
	mock.Mock
}

func newMockTxStore(t *testing.T) *mockTxStore {
	m := &mockTxStore{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *mockTxStore) GetPendingTxs(ctx context.Context) ([]*testTx, error) {
	args := m.Called(ctx)
	txs, _ := args.Get(0).([]*testTx)
	return txs, args.Error(1)
}

func (m *mockTxStore) GetCompletedTxs(ctx context.Context, addr testAddr) ([]*testTx, error) {
	args := m.Called(ctx, addr)
	txs, _ := args.Get(0).([]*testTx)
	return txs, args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func newMockPublisher(t *testing.T) *mockPublisher {
	m := &mockPublisher{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *mockPublisher) SendRawTransaction(ctx context.Context, raw []byte) (testHash, error) {
	args := m.Called(ctx, raw)
	return args.Get(0).(testHash), args.Error(1)
}

type mockApprover struct {
	mock.Mock
}

func newMockApprover(t *testing.T) *mockApprover {
	m := &mockApprover{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *mockApprover) ApproveTx(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

type testTrackerConfig struct {
	threshold uint32
}

func (c testTrackerConfig) DroppedThreshold() uint32 { return c.threshold }

// trackerHarness wires a PendingTracker to mocks, an in-memory store and a channel notifier.
type trackerHarness struct {
	tracker   *testTracker
	client    *mockTrackerClient
	store     *testStore
	locker    *txmgrtest.NonceLocker
	approver  *mockApprover
	publisher *mockPublisher
	notifier  *testChanNotifier
	logs      *observer.ObservedLogs
}

type harnessOpt func(*harnessOpts)

type harnessOpts struct {
	txStore  types.TxStore[testAddr, testHash, testSeq]
	locker   types.NonceLocker
	notifier types.Notifier[testAddr, testHash, testSeq, testReceipt]
}

// withTxStore replaces the in-memory store as the source of pending and completed txes.
func withTxStore(s types.TxStore[testAddr, testHash, testSeq]) harnessOpt {
	return func(o *harnessOpts) { o.txStore = s }
}

func withNonceLocker(l types.NonceLocker) harnessOpt {
	return func(o *harnessOpts) { o.locker = l }
}

// withStoreNotifications makes the in-memory store apply notifications, so final txes leave the
// pending set.
func withStoreNotifications() harnessOpt {
	return func(o *harnessOpts) { o.notifier = nil }
}

func newTrackerHarness(t *testing.T, opts ...harnessOpt) *trackerHarness {
	lggr, logs := logger.TestObserved(t, zap.DebugLevel)
	h := &trackerHarness{
		client:    newMockTrackerClient(t),
		store:     NewInMemoryStore[testAddr, testHash, testSeq, testReceipt](lggr),
		locker:    &txmgrtest.NonceLocker{},
		approver:  newMockApprover(t),
		publisher: newMockPublisher(t),
		notifier:  NewChanNotifier[testAddr, testHash, testSeq, testReceipt](100),
		logs:      logs,
	}

	o := harnessOpts{txStore: h.store, locker: h.locker, notifier: h.notifier}
	for _, opt := range opts {
		opt(&o)
	}
	if o.notifier == nil {
		o.notifier = MultiNotifier[testAddr, testHash, testSeq, testReceipt]{h.store, h.notifier}
	}

	m, err := metrics.NewGenericPendingTrackerMetrics("1337")
	require.NoError(t, err)

	h.tracker, err = NewPendingTracker[testAddr, testHash, testHash, testReceipt, testSeq](
		lggr, testTrackerConfig{threshold: defaultDroppedThreshold}, h.client, o.locker, o.txStore, h.approver, h.publisher, o.notifier, m)
	require.NoError(t, err)
	return h
}

func (h *trackerHarness) addTx(t *testing.T, tx *testTx) {
	require.NoError(t, h.store.AddTx(tx))
}

// events returns every event delivered so far.
func (h *trackerHarness) events() []testEvent {
	var events []testEvent
	for {
		select {
		case e := <-h.notifier.Events():
			events = append(events, e)
		default:
			return events
		}
	}
}

func ptr[T any](v T) *T { return &v }

func newSubmittedTx(from testAddr, hash testHash, seq testSeq) *testTx {
	return &testTx{
		ID:          uuid.New(),
		FromAddress: from,
		Sequence:    ptr(seq),
		SignedRawTx: []byte("raw-" + string(hash)),
		State:       TxSubmitted,
		Hash:        ptr(hash),
	}
}
