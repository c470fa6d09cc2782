package txmgr

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v4"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/smartcontractkit/chainlink-common/pkg/utils/tests"

	"github.com/smartcontractkit/chainlink-pending-tracker/chains/txmgr/txmgrtest"
	"github.com/smartcontractkit/chainlink-pending-tracker/chains/txmgr/types"
	"github.com/smartcontractkit/chainlink-pending-tracker/metrics"
)

func TestNewPendingTracker(t *testing.T) {
	t.Parallel()

	t.Run("reports every missing collaborator", func(t *testing.T) {
		_, err := NewPendingTracker[testAddr, testHash, testHash, testReceipt, testSeq](
			logger.Test(t), nil, nil, nil, nil, nil, nil, nil, nil)
		require.Error(t, err)
		for _, msg := range []string{
			"client is required",
			"nonce locker is required",
			"tx store is required",
			"approver is required",
			"publisher is required",
			"notifier is required",
			"metrics are required",
		} {
			assert.ErrorContains(t, err, msg)
		}
	})

	t.Run("defaults the dropped threshold without config", func(t *testing.T) {
		lggr := logger.Test(t)
		m, err := metrics.NewGenericPendingTrackerMetrics("1337")
		require.NoError(t, err)
		tracker, err := NewPendingTracker[testAddr, testHash, testHash, testReceipt, testSeq](
			lggr, nil, newMockTrackerClient(t), &txmgrtest.NonceLocker{},
			NewInMemoryStore[testAddr, testHash, testSeq, testReceipt](lggr),
			newMockApprover(t), newMockPublisher(t),
			NewChanNotifier[testAddr, testHash, testSeq, testReceipt](1), m)
		require.NoError(t, err)
		assert.Equal(t, uint32(defaultDroppedThreshold), tracker.droppedBuffer.threshold)
	})
}

func TestPendingTracker_ReconcilePending(t *testing.T) {
	t.Parallel()

	const from = testAddr("0xabc")

	t.Run("returns error if the global lock cannot be acquired", func(t *testing.T) {
		lockErr := errors.New("lock unavailable")
		h := newTrackerHarness(t, withNonceLocker(&txmgrtest.ErrNonceLocker{Err: lockErr}))
		h.addTx(t, newSubmittedTx(from, "0x1", 1))

		err := h.tracker.ReconcilePending(tests.Context(t))
		require.ErrorIs(t, err, lockErr)
		assert.ErrorContains(t, err, "failed to acquire global nonce lock")
		assert.Empty(t, h.events())
	})

	t.Run("releases the lock if pending txes cannot be read", func(t *testing.T) {
		storeErr := errors.New("store down")
		h := newTrackerHarness(t, withTxStore(&txmgrtest.ErrTxStore[testAddr, testHash, testSeq]{Err: storeErr}))

		err := h.tracker.ReconcilePending(tests.Context(t))
		require.ErrorIs(t, err, storeErr)
		assert.Equal(t, 1, h.locker.Acquired)
		assert.Equal(t, 1, h.locker.Released)
	})

	t.Run("releases the lock after checking txes", func(t *testing.T) {
		h := newTrackerHarness(t)
		h.addTx(t, newSubmittedTx(from, "0x1", 5))
		h.client.On("TransactionReceipt", mock.Anything, testHash("0x1")).Return(testReceipt{}, nil).Once()
		h.client.On("SequenceAt", mock.Anything, from).Return(testSeq(5), nil).Once()

		require.NoError(t, h.tracker.ReconcilePending(tests.Context(t)))
		assert.Equal(t, 1, h.locker.Released)
	})

	t.Run("no pending txes", func(t *testing.T) {
		h := newTrackerHarness(t)
		require.NoError(t, h.tracker.ReconcilePending(tests.Context(t)))
		assert.Empty(t, h.events())
		assert.Equal(t, 1, h.locker.Released)
	})

	t.Run("skips txes that were not submitted", func(t *testing.T) {
		h := newTrackerHarness(t)
		for _, state := range []types.TxState{TxUnapproved, TxApproved, TxSigned} {
			tx := newSubmittedTx(from, testHash("0x"+string(state)), 1)
			tx.State = state
			h.addTx(t, tx)
		}

		require.NoError(t, h.tracker.ReconcilePending(tests.Context(t)))
		assert.Empty(t, h.events())
		h.client.AssertNotCalled(t, "TransactionReceipt", mock.Anything, mock.Anything)
	})

	t.Run("fails submitted tx without hash", func(t *testing.T) {
		h := newTrackerHarness(t)
		tx := newSubmittedTx(from, "", 1)
		tx.Hash = nil
		h.addTx(t, tx)

		require.NoError(t, h.tracker.ReconcilePending(tests.Context(t)))
		events := h.events()
		require.Len(t, events, 1)
		assert.Equal(t, EventFailed, events[0].Type)
		assert.Equal(t, tx.ID, events[0].TxID)
		assert.ErrorIs(t, events[0].Err, ErrMissingHash)
		tests.AssertLogCountEventually(t, h.logs, "Submitted tx has no hash", 1)
		h.client.AssertNotCalled(t, "TransactionReceipt", mock.Anything, mock.Anything)
	})

	t.Run("drops tx whose nonce was used by a confirmed tx without querying the chain", func(t *testing.T) {
		h := newTrackerHarness(t)
		confirmed := newSubmittedTx(from, "0xconfirmed", 7)
		confirmed.State = TxConfirmed
		h.addTx(t, confirmed)
		tx := newSubmittedTx(from, "0xreplaced", 7)
		h.addTx(t, tx)

		require.NoError(t, h.tracker.ReconcilePending(tests.Context(t)))
		events := h.events()
		require.Len(t, events, 1)
		assert.Equal(t, EventDropped, events[0].Type)
		assert.Equal(t, tx.ID, events[0].TxID)
		h.client.AssertNotCalled(t, "TransactionReceipt", mock.Anything, mock.Anything)
		h.client.AssertNotCalled(t, "SequenceAt", mock.Anything, mock.Anything)
	})

	t.Run("nonce used by a tx from another sender does not drop", func(t *testing.T) {
		h := newTrackerHarness(t)
		other := newSubmittedTx("0xdef", "0xother", 7)
		other.State = TxConfirmed
		h.addTx(t, other)
		tx := newSubmittedTx(from, "0x1", 7)
		h.addTx(t, tx)
		h.client.On("TransactionReceipt", mock.Anything, testHash("0x1")).Return(testReceipt{}, nil).Once()
		h.client.On("SequenceAt", mock.Anything, from).Return(testSeq(7), nil).Once()

		require.NoError(t, h.tracker.ReconcilePending(tests.Context(t)))
		assert.Empty(t, h.events())
	})

	t.Run("tx listed as completed itself does not collide with its own nonce", func(t *testing.T) {
		txStore := newMockTxStore(t)
		h := newTrackerHarness(t, withTxStore(txStore))
		tx := newSubmittedTx(from, "0x1", 7)
		self := *tx
		txStore.On("GetPendingTxs", mock.Anything).Return([]*testTx{tx}, nil).Once()
		txStore.On("GetCompletedTxs", mock.Anything, from).Return([]*testTx{&self}, nil).Once()
		h.client.On("TransactionReceipt", mock.Anything, testHash("0x1")).Return(testReceipt{}, nil).Once()
		h.client.On("SequenceAt", mock.Anything, from).Return(testSeq(7), nil).Once()

		require.NoError(t, h.tracker.ReconcilePending(tests.Context(t)))
		assert.Empty(t, h.events())
		h.client.AssertCalled(t, "TransactionReceipt", mock.Anything, testHash("0x1"))
	})

	t.Run("confirms tx with receipt and base fee", func(t *testing.T) {
		h := newTrackerHarness(t)
		tx := newSubmittedTx(from, "0x1", 3)
		h.addTx(t, tx)
		receipt := testReceipt{TxHash: "0x1", BlockHash: "0xblock", BlockNumber: big.NewInt(42), Status: 1}
		baseFee := big.NewInt(7_000_000_000)
		h.client.On("TransactionReceipt", mock.Anything, testHash("0x1")).Return(receipt, nil).Once()
		h.client.On("BlockByHash", mock.Anything, testHash("0xblock")).Return(types.Block{Number: big.NewInt(42), BaseFeePerGas: baseFee}, nil).Once()

		require.NoError(t, h.tracker.ReconcilePending(tests.Context(t)))
		events := h.events()
		require.Len(t, events, 1)
		assert.Equal(t, EventConfirmed, events[0].Type)
		assert.Equal(t, tx.ID, events[0].TxID)
		assert.Equal(t, receipt, events[0].Receipt)
		assert.Equal(t, baseFee, events[0].BaseFeePerGas)
		tests.AssertLogCountEventually(t, h.logs, "Tx confirmed", 1)
		_, ok := h.tracker.XXXTestDroppedCount("0x1")
		assert.False(t, ok)
	})

	t.Run("confirming a tx evicts it from the dropped buffer", func(t *testing.T) {
		h := newTrackerHarness(t)
		h.addTx(t, newSubmittedTx(from, "0x1", 3))
		h.client.On("TransactionReceipt", mock.Anything, testHash("0x1")).Return(testReceipt{}, nil).Once()
		h.client.On("SequenceAt", mock.Anything, from).Return(testSeq(4), nil).Once()

		require.NoError(t, h.tracker.ReconcilePending(tests.Context(t)))
		count, ok := h.tracker.XXXTestDroppedCount("0x1")
		require.True(t, ok)
		assert.Equal(t, uint32(0), count)

		receipt := testReceipt{TxHash: "0x1", BlockHash: "0xblock", BlockNumber: big.NewInt(42)}
		h.client.On("TransactionReceipt", mock.Anything, testHash("0x1")).Return(receipt, nil).Once()
		h.client.On("BlockByHash", mock.Anything, testHash("0xblock")).Return(types.Block{Number: big.NewInt(42)}, nil).Once()

		require.NoError(t, h.tracker.ReconcilePending(tests.Context(t)))
		_, ok = h.tracker.XXXTestDroppedCount("0x1")
		assert.False(t, ok)
		assert.Equal(t, 0, h.tracker.XXXTestDroppedBufferLen())
	})

	t.Run("receipt query error warns", func(t *testing.T) {
		h := newTrackerHarness(t, withStoreNotifications())
		tx := newSubmittedTx(from, "0x1", 3)
		h.addTx(t, tx)
		rpcErr := errors.New("rpc unavailable")
		h.client.On("TransactionReceipt", mock.Anything, testHash("0x1")).Return(testReceipt{}, rpcErr).Once()

		require.NoError(t, h.tracker.ReconcilePending(tests.Context(t)))
		events := h.events()
		require.Len(t, events, 1)
		assert.Equal(t, EventWarning, events[0].Type)
		assert.ErrorIs(t, events[0].Err, rpcErr)
		require.NotNil(t, events[0].Tx.Warning)
		assert.Equal(t, warningMessageReconcile, events[0].Tx.Warning.Message)

		stored, err := h.store.GetTxByID(tests.Context(t), tx.ID)
		require.NoError(t, err)
		assert.Equal(t, TxSubmitted, stored.State)
		require.NotNil(t, stored.Warning)
		assert.ErrorIs(t, stored.Warning.Err, rpcErr)
		assert.Equal(t, warningMessageReconcile, stored.Warning.Message)
	})

	t.Run("block query error warns", func(t *testing.T) {
		h := newTrackerHarness(t)
		h.addTx(t, newSubmittedTx(from, "0x1", 3))
		receipt := testReceipt{TxHash: "0x1", BlockHash: "0xblock", BlockNumber: big.NewInt(42)}
		blockErr := errors.New("block not found")
		h.client.On("TransactionReceipt", mock.Anything, testHash("0x1")).Return(receipt, nil).Once()
		h.client.On("BlockByHash", mock.Anything, testHash("0xblock")).Return(types.Block{}, blockErr).Once()

		require.NoError(t, h.tracker.ReconcilePending(tests.Context(t)))
		events := h.events()
		require.Len(t, events, 1)
		assert.Equal(t, EventWarning, events[0].Type)
		assert.ErrorIs(t, events[0].Err, blockErr)
	})

	t.Run("receipt without block number is treated as missing", func(t *testing.T) {
		h := newTrackerHarness(t)
		h.addTx(t, newSubmittedTx(from, "0x1", 3))
		h.client.On("TransactionReceipt", mock.Anything, testHash("0x1")).Return(testReceipt{TxHash: "0x1"}, nil).Once()
		h.client.On("SequenceAt", mock.Anything, from).Return(testSeq(3), nil).Once()

		require.NoError(t, h.tracker.ReconcilePending(tests.Context(t)))
		assert.Empty(t, h.events())
		h.client.AssertNotCalled(t, "BlockByHash", mock.Anything, mock.Anything)
	})

	t.Run("next nonce query error warns", func(t *testing.T) {
		h := newTrackerHarness(t)
		h.addTx(t, newSubmittedTx(from, "0x1", 3))
		nonceErr := errors.New("nonce unavailable")
		h.client.On("TransactionReceipt", mock.Anything, testHash("0x1")).Return(testReceipt{}, nil).Once()
		h.client.On("SequenceAt", mock.Anything, from).Return(testSeq(0), nonceErr).Once()

		require.NoError(t, h.tracker.ReconcilePending(tests.Context(t)))
		events := h.events()
		require.Len(t, events, 1)
		assert.Equal(t, EventWarning, events[0].Type)
		assert.ErrorIs(t, events[0].Err, nonceErr)
		assert.Equal(t, 0, h.tracker.XXXTestDroppedBufferLen())
	})

	t.Run("nonce not yet consumed leaves the dropped buffer untouched", func(t *testing.T) {
		h := newTrackerHarness(t)
		h.addTx(t, newSubmittedTx(from, "0x1", 9))
		h.client.On("TransactionReceipt", mock.Anything, testHash("0x1")).Return(testReceipt{}, nil).Times(2)
		h.client.On("SequenceAt", mock.Anything, from).Return(testSeq(9), nil).Times(2)

		for range 2 {
			require.NoError(t, h.tracker.ReconcilePending(tests.Context(t)))
		}
		assert.Empty(t, h.events())
		assert.Equal(t, 0, h.tracker.XXXTestDroppedBufferLen())
	})

	t.Run("drops tx on the fourth consecutive observation of a consumed nonce", func(t *testing.T) {
		h := newTrackerHarness(t, withStoreNotifications())
		tx := newSubmittedTx(from, "0x1", 2)
		h.addTx(t, tx)
		h.client.On("TransactionReceipt", mock.Anything, testHash("0x1")).Return(testReceipt{}, nil).Times(4)
		h.client.On("SequenceAt", mock.Anything, from).Return(testSeq(5), nil).Times(4)

		for i := range 3 {
			require.NoError(t, h.tracker.ReconcilePending(tests.Context(t)))
			assert.Empty(t, h.events(), "observation %d", i+1)
			count, ok := h.tracker.XXXTestDroppedCount("0x1")
			require.True(t, ok)
			assert.Equal(t, uint32(i), count)
		}

		require.NoError(t, h.tracker.ReconcilePending(tests.Context(t)))
		events := h.events()
		require.Len(t, events, 1)
		assert.Equal(t, EventDropped, events[0].Type)
		assert.Equal(t, tx.ID, events[0].TxID)
		_, ok := h.tracker.XXXTestDroppedCount("0x1")
		assert.False(t, ok)
		tests.AssertLogCountEventually(t, h.logs, "Nonce was consumed without a receipt for this tx, marking as dropped", 1)

		stored, err := h.store.GetTxByID(tests.Context(t), tx.ID)
		require.NoError(t, err)
		assert.Equal(t, TxDropped, stored.State)
	})

	t.Run("terminal outcomes are reported once", func(t *testing.T) {
		h := newTrackerHarness(t, withStoreNotifications())
		tx := newSubmittedTx(from, "0x1", 3)
		h.addTx(t, tx)
		receipt := testReceipt{TxHash: "0x1", BlockHash: "0xblock", BlockNumber: big.NewInt(42)}
		h.client.On("TransactionReceipt", mock.Anything, testHash("0x1")).Return(receipt, nil).Once()
		h.client.On("BlockByHash", mock.Anything, testHash("0xblock")).Return(types.Block{Number: big.NewInt(42)}, nil).Once()

		require.NoError(t, h.tracker.ReconcilePending(tests.Context(t)))
		require.NoError(t, h.tracker.ReconcilePending(tests.Context(t)))

		events := h.events()
		require.Len(t, events, 1)
		assert.Equal(t, EventConfirmed, events[0].Type)

		c, ok := h.store.GetConfirmation(tx.ID)
		require.True(t, ok)
		assert.Equal(t, receipt, c.Receipt)
	})

	t.Run("an error on one tx does not affect the others", func(t *testing.T) {
		store := newMockTxStore(t)
		h := newTrackerHarness(t, withTxStore(store))
		failing := newSubmittedTx("0xfail", "0xf", 1)
		ok := newSubmittedTx(from, "0x1", 1)
		store.On("GetPendingTxs", mock.Anything).Return([]*testTx{failing, ok}, nil).Once()
		store.On("GetCompletedTxs", mock.Anything, testAddr("0xfail")).Return(nil, errors.New("query failed")).Once()
		store.On("GetCompletedTxs", mock.Anything, from).Return(nil, nil).Once()
		receipt := testReceipt{TxHash: "0x1", BlockHash: "0xblock", BlockNumber: big.NewInt(42)}
		h.client.On("TransactionReceipt", mock.Anything, testHash("0x1")).Return(receipt, nil).Once()
		h.client.On("BlockByHash", mock.Anything, testHash("0xblock")).Return(types.Block{Number: big.NewInt(42)}, nil).Once()

		require.NoError(t, h.tracker.ReconcilePending(tests.Context(t)))
		events := h.events()
		require.Len(t, events, 1)
		assert.Equal(t, EventConfirmed, events[0].Type)
		assert.Equal(t, ok.ID, events[0].TxID)
		tests.AssertLogCountEventually(t, h.logs, "Failed to check pending tx", 1)
	})

	t.Run("evaluates many txes concurrently", func(t *testing.T) {
		h := newTrackerHarness(t, withStoreNotifications())
		const n = 20
		for i := range n {
			hash := testHash("0x" + testSeq(i).String())
			h.addTx(t, newSubmittedTx(from, hash, testSeq(i)))
			receipt := testReceipt{TxHash: hash, BlockHash: "0xblock", BlockNumber: big.NewInt(42)}
			h.client.On("TransactionReceipt", mock.Anything, hash).Return(receipt, nil).Once()
		}
		h.client.On("BlockByHash", mock.Anything, testHash("0xblock")).Return(types.Block{Number: big.NewInt(42)}, nil).Times(n)

		require.NoError(t, h.tracker.ReconcilePending(tests.Context(t)))
		events := h.events()
		require.Len(t, events, n)
		for _, e := range events {
			assert.Equal(t, EventConfirmed, e.Type)
		}
		pending, err := h.store.GetPendingTxs(tests.Context(t))
		require.NoError(t, err)
		assert.Empty(t, pending)
	})
}

func TestPendingTracker_ResubmitPending(t *testing.T) {
	t.Parallel()

	const from = testAddr("0xabc")

	t.Run("no pending txes", func(t *testing.T) {
		h := newTrackerHarness(t)
		require.NoError(t, h.tracker.ResubmitPending(tests.Context(t), 100))
		assert.Empty(t, h.events())
	})

	t.Run("returns error if pending txes cannot be read", func(t *testing.T) {
		storeErr := errors.New("store down")
		h := newTrackerHarness(t, withTxStore(&txmgrtest.ErrTxStore[testAddr, testHash, testSeq]{Err: storeErr}))
		err := h.tracker.ResubmitPending(tests.Context(t), 100)
		require.ErrorIs(t, err, storeErr)
	})

	t.Run("ignores txes that were not submitted", func(t *testing.T) {
		h := newTrackerHarness(t, withStoreNotifications())
		unapproved := newSubmittedTx(from, "0xunapproved", 1)
		unapproved.State = TxUnapproved
		unapproved.SignedRawTx = nil
		unapproved.Hash = nil
		h.addTx(t, unapproved)
		signed := newSubmittedTx(from, "0xsigned", 2)
		signed.State = TxSigned
		h.addTx(t, signed)

		for _, blockNum := range []int64{10, 11, 12, 20} {
			require.NoError(t, h.tracker.ResubmitPending(tests.Context(t), blockNum))
		}

		assert.Empty(t, h.events())
		stored, err := h.store.GetTxByID(tests.Context(t), unapproved.ID)
		require.NoError(t, err)
		assert.False(t, stored.FirstRetryBlockNum.Valid)
		h.approver.AssertNotCalled(t, "ApproveTx", mock.Anything, mock.Anything)
		h.publisher.AssertNotCalled(t, "SendRawTransaction", mock.Anything, mock.Anything)
	})

	t.Run("records the first retry block once", func(t *testing.T) {
		h := newTrackerHarness(t, withStoreNotifications())
		tx := newSubmittedTx(from, "0x1", 1)
		h.addTx(t, tx)

		// distance 0 with no retries is not past the backoff
		require.NoError(t, h.tracker.ResubmitPending(tests.Context(t), 100))
		events := h.events()
		require.Len(t, events, 1)
		assert.Equal(t, EventBlockUpdate, events[0].Type)
		assert.Equal(t, int64(100), events[0].BlockNum)

		stored, err := h.store.GetTxByID(tests.Context(t), tx.ID)
		require.NoError(t, err)
		assert.Equal(t, null.IntFrom(100), stored.FirstRetryBlockNum)

		h.publisher.On("SendRawTransaction", mock.Anything, []byte("raw-0x1")).Return(testHash("0x1"), nil).Once()
		require.NoError(t, h.tracker.ResubmitPending(tests.Context(t), 101))
		events = h.events()
		require.Len(t, events, 1)
		assert.Equal(t, EventRetry, events[0].Type)

		stored, err = h.store.GetTxByID(tests.Context(t), tx.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, stored.RetryCount)
		assert.Equal(t, null.IntFrom(100), stored.FirstRetryBlockNum)
	})

	t.Run("waits for the backoff to elapse", func(t *testing.T) {
		h := newTrackerHarness(t)
		tx := newSubmittedTx(from, "0x1", 1)
		tx.FirstRetryBlockNum = null.IntFrom(10)
		tx.RetryCount = 2
		h.addTx(t, tx)

		require.NoError(t, h.tracker.ResubmitPending(tests.Context(t), 13))
		assert.Empty(t, h.events())
		h.publisher.AssertNotCalled(t, "SendRawTransaction", mock.Anything, mock.Anything)

		h.publisher.On("SendRawTransaction", mock.Anything, []byte("raw-0x1")).Return(testHash("0x1"), nil).Once()
		require.NoError(t, h.tracker.ResubmitPending(tests.Context(t), 14))
		events := h.events()
		require.Len(t, events, 1)
		assert.Equal(t, EventRetry, events[0].Type)
		assert.Equal(t, tx.ID, events[0].TxID)
	})

	t.Run("approves txes without a signed payload", func(t *testing.T) {
		h := newTrackerHarness(t)
		tx := newSubmittedTx(from, "0x1", 1)
		tx.SignedRawTx = nil
		tx.FirstRetryBlockNum = null.IntFrom(10)
		h.addTx(t, tx)
		h.approver.On("ApproveTx", mock.Anything, tx.ID).Return(nil).Once()

		require.NoError(t, h.tracker.ResubmitPending(tests.Context(t), 11))
		assert.Empty(t, h.events())
		h.publisher.AssertNotCalled(t, "SendRawTransaction", mock.Anything, mock.Anything)
	})

	t.Run("approval errors warn", func(t *testing.T) {
		h := newTrackerHarness(t)
		tx := newSubmittedTx(from, "0x1", 1)
		tx.SignedRawTx = nil
		tx.FirstRetryBlockNum = null.IntFrom(10)
		h.addTx(t, tx)
		approveErr := errors.New("keystore locked")
		h.approver.On("ApproveTx", mock.Anything, tx.ID).Return(approveErr).Once()

		require.NoError(t, h.tracker.ResubmitPending(tests.Context(t), 11))
		events := h.events()
		require.Len(t, events, 1)
		assert.Equal(t, EventWarning, events[0].Type)
		assert.ErrorIs(t, events[0].Err, approveErr)
	})

	t.Run("ignores benign resubmit errors", func(t *testing.T) {
		h := newTrackerHarness(t)
		tx := newSubmittedTx(from, "0x1", 1)
		tx.FirstRetryBlockNum = null.IntFrom(10)
		h.addTx(t, tx)
		h.publisher.On("SendRawTransaction", mock.Anything, []byte("raw-0x1")).Return(testHash(""), errors.New("Nonce too low")).Once()

		require.NoError(t, h.tracker.ResubmitPending(tests.Context(t), 11))
		assert.Empty(t, h.events())
		tests.AssertLogCountEventually(t, h.logs, "Ignoring resubmit error, tx was already broadcast", 1)
	})

	t.Run("warns on other resubmit errors", func(t *testing.T) {
		h := newTrackerHarness(t, withStoreNotifications())
		tx := newSubmittedTx(from, "0x1", 1)
		tx.FirstRetryBlockNum = null.IntFrom(10)
		h.addTx(t, tx)
		sendErr := errors.New("insufficient funds for gas * price + value")
		h.publisher.On("SendRawTransaction", mock.Anything, []byte("raw-0x1")).Return(testHash(""), sendErr).Once()

		require.NoError(t, h.tracker.ResubmitPending(tests.Context(t), 11))
		events := h.events()
		require.Len(t, events, 1)
		assert.Equal(t, EventWarning, events[0].Type)
		assert.ErrorIs(t, events[0].Err, sendErr)
		assert.Equal(t, warningMessageResubmit, events[0].Tx.Warning.Message)

		stored, err := h.store.GetTxByID(tests.Context(t), tx.ID)
		require.NoError(t, err)
		assert.Equal(t, TxSubmitted, stored.State)
		assert.Equal(t, 0, stored.RetryCount)
	})

	t.Run("a failed resubmission does not affect the others", func(t *testing.T) {
		h := newTrackerHarness(t)
		failing := newSubmittedTx(from, "0x1", 1)
		failing.FirstRetryBlockNum = null.IntFrom(10)
		ok := newSubmittedTx(from, "0x2", 2)
		ok.FirstRetryBlockNum = null.IntFrom(10)
		h.addTx(t, failing)
		h.addTx(t, ok)
		h.publisher.On("SendRawTransaction", mock.Anything, []byte("raw-0x1")).Return(testHash(""), errors.New("boom")).Once()
		h.publisher.On("SendRawTransaction", mock.Anything, []byte("raw-0x2")).Return(testHash("0x2"), nil).Once()

		require.NoError(t, h.tracker.ResubmitPending(tests.Context(t), 11))
		byType := map[EventType]testEvent{}
		for _, e := range h.events() {
			byType[e.Type] = e
		}
		require.Len(t, byType, 2)
		assert.Equal(t, failing.ID, byType[EventWarning].TxID)
		assert.Equal(t, ok.ID, byType[EventRetry].TxID)
	})
}

func Test_isBackoffElapsed(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		distance   int64
		retryCount int
		elapsed    bool
	}{
		{distance: 0, retryCount: 0, elapsed: false},
		{distance: 1, retryCount: 0, elapsed: true},
		{distance: 1, retryCount: 1, elapsed: false},
		{distance: 2, retryCount: 1, elapsed: true},
		{distance: 3, retryCount: 2, elapsed: false},
		{distance: 4, retryCount: 2, elapsed: true},
		{distance: 7, retryCount: 3, elapsed: false},
		{distance: 8, retryCount: 3, elapsed: true},
		{distance: 1 << 40, retryCount: 1000, elapsed: false},
		{distance: -1, retryCount: 0, elapsed: false},
	} {
		assert.Equal(t, tc.elapsed, isBackoffElapsed(tc.distance, tc.retryCount), "distance %d retryCount %d", tc.distance, tc.retryCount)
	}
}

func Test_formatGwei(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "n/a", formatGwei(nil))
	assert.Equal(t, "7", formatGwei(big.NewInt(7_000_000_000)))
	assert.Equal(t, "1.5", formatGwei(big.NewInt(1_500_000_000)))
}
