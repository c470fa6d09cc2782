package txmgr

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gopkg.in/guregu/null.v4"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"

	"github.com/smartcontractkit/chainlink-pending-tracker/chains"
	"github.com/smartcontractkit/chainlink-pending-tracker/chains/txmgr/types"
	"github.com/smartcontractkit/chainlink-pending-tracker/metrics"
)

// maxBackoffExponent caps the resubmission backoff so 1<<retryCount cannot overflow.
const maxBackoffExponent = 62

type TrackerConfig interface {
	DroppedThreshold() uint32
}

// PendingTracker checks transactions that were broadcast but are not yet final and reports
// whether each one was confirmed, dropped or failed. It also rebroadcasts pending transactions
// with an exponential backoff measured in blocks.
//
// The tracker holds no state besides the dropped buffer: the pending set is read from the
// TxStore on every call and outcomes are reported through the Notifier.
type PendingTracker[
	ADDR chains.Hashable,
	THASH chains.Hashable,
	BHASH chains.Hashable,
	R types.ChainReceipt[THASH, BHASH],
	SEQ chains.Sequence,
] struct {
	lggr        logger.SugaredLogger
	client      types.TrackerClient[ADDR, THASH, BHASH, R, SEQ]
	nonceLocker types.NonceLocker
	txStore     types.TxStore[ADDR, THASH, SEQ]
	approver    types.TxApprover
	publisher   types.TxPublisher[THASH]
	notifier    types.Notifier[ADDR, THASH, SEQ, R]
	metrics     metrics.GenericPendingTrackerMetrics

	droppedBuffer *droppedBuffer[THASH]
}

func NewPendingTracker[
	ADDR chains.Hashable,
	THASH chains.Hashable,
	BHASH chains.Hashable,
	R types.ChainReceipt[THASH, BHASH],
	SEQ chains.Sequence,
](
	lggr logger.Logger,
	cfg TrackerConfig,
	client types.TrackerClient[ADDR, THASH, BHASH, R, SEQ],
	nonceLocker types.NonceLocker,
	txStore types.TxStore[ADDR, THASH, SEQ],
	approver types.TxApprover,
	publisher types.TxPublisher[THASH],
	notifier types.Notifier[ADDR, THASH, SEQ, R],
	trackerMetrics metrics.GenericPendingTrackerMetrics,
) (*PendingTracker[ADDR, THASH, BHASH, R, SEQ], error) {
	var err error
	if client == nil {
		err = multierr.Append(err, errors.New("client is required"))
	}
	if nonceLocker == nil {
		err = multierr.Append(err, errors.New("nonce locker is required"))
	}
	if txStore == nil {
		err = multierr.Append(err, errors.New("tx store is required"))
	}
	if approver == nil {
		err = multierr.Append(err, errors.New("approver is required"))
	}
	if publisher == nil {
		err = multierr.Append(err, errors.New("publisher is required"))
	}
	if notifier == nil {
		err = multierr.Append(err, errors.New("notifier is required"))
	}
	if trackerMetrics == nil {
		err = multierr.Append(err, errors.New("metrics are required"))
	}
	if err != nil {
		return nil, fmt.Errorf("invalid pending tracker: %w", err)
	}

	threshold := uint32(defaultDroppedThreshold)
	if cfg != nil {
		threshold = cfg.DroppedThreshold()
	}

	return &PendingTracker[ADDR, THASH, BHASH, R, SEQ]{
		lggr:          logger.Sugared(lggr).Named("PendingTracker"),
		client:        client,
		nonceLocker:   nonceLocker,
		txStore:       txStore,
		approver:      approver,
		publisher:     publisher,
		notifier:      notifier,
		metrics:       trackerMetrics,
		droppedBuffer: newDroppedBuffer[THASH](threshold),
	}, nil
}

// ReconcilePending checks every pending transaction against the chain. The global nonce lock is
// held for the whole batch so that no nonce is handed out while a check is in progress.
//
// Errors evaluating a single transaction are logged and do not affect the others; the returned
// error only reports a failure to acquire the lock or read the pending set.
func (pt *PendingTracker[ADDR, THASH, BHASH, R, SEQ]) ReconcilePending(ctx context.Context) error {
	lock, err := pt.nonceLocker.GetGlobalLock(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire global nonce lock: %w", err)
	}
	defer lock.Release()

	txs, err := pt.txStore.GetPendingTxs(ctx)
	if err != nil {
		return fmt.Errorf("failed to get pending txes: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(len(txs))
	for _, tx := range txs {
		go func() {
			defer wg.Done()
			if err := pt.checkPendingTx(ctx, tx); err != nil {
				pt.lggr.Errorw("Failed to check pending tx", "txID", tx.ID, "err", err)
			}
		}()
	}
	wg.Wait()

	pt.metrics.RecordDroppedBufferSize(ctx, pt.droppedBuffer.len())
	return nil
}

func (pt *PendingTracker[ADDR, THASH, BHASH, R, SEQ]) checkPendingTx(ctx context.Context, tx *types.Tx[ADDR, THASH, SEQ]) error {
	// Not broadcast yet, nothing to check
	if tx.State != TxSubmitted {
		return nil
	}

	lggr := pt.lggr.With("txID", tx.ID, "fromAddress", tx.FromAddress)

	if tx.Hash == nil {
		lggr.Errorw("Submitted tx has no hash", "err", ErrMissingHash)
		pt.metrics.IncrementNumFailed(ctx)
		pt.notifier.OnFailed(ctx, tx.ID, ErrMissingHash)
		return nil
	}
	hash := *tx.Hash
	lggr = lggr.With("txHash", hash)

	taken, err := pt.isNonceTaken(ctx, tx)
	if err != nil {
		return fmt.Errorf("failed to check completed txes for nonce: %w", err)
	}
	if taken {
		lggr.Infow("Nonce was used by another completed tx, marking as dropped", "sequence", tx.Sequence)
		pt.metrics.IncrementNumDropped(ctx, metrics.DropReasonNonceTaken)
		pt.notifier.OnDropped(ctx, tx.ID)
		return nil
	}

	receipt, err := pt.client.TransactionReceipt(ctx, hash)
	if err != nil {
		pt.warn(ctx, tx, err, warningMessageReconcile, metrics.WarningSourceReconcile)
		return nil
	}

	if !receipt.IsZero() && receipt.GetBlockNumber() != nil {
		block, err := pt.client.BlockByHash(ctx, receipt.GetBlockHash())
		if err != nil {
			pt.warn(ctx, tx, err, warningMessageReconcile, metrics.WarningSourceReconcile)
			return nil
		}
		lggr.Debugw("Tx confirmed",
			"blockNumber", receipt.GetBlockNumber(),
			"blockHash", receipt.GetBlockHash(),
			"baseFeeGwei", formatGwei(block.BaseFeePerGas),
		)
		pt.droppedBuffer.remove(hash)
		pt.metrics.IncrementNumConfirmed(ctx)
		pt.notifier.OnConfirmed(ctx, tx.ID, receipt, block.BaseFeePerGas)
		return nil
	}

	dropped, err := pt.isDropped(ctx, tx)
	if err != nil {
		pt.warn(ctx, tx, err, warningMessageReconcile, metrics.WarningSourceReconcile)
		return nil
	}
	if dropped {
		lggr.Infow("Nonce was consumed without a receipt for this tx, marking as dropped", "sequence", tx.Sequence)
		pt.metrics.IncrementNumDropped(ctx, metrics.DropReasonNonceConsumed)
		pt.notifier.OnDropped(ctx, tx.ID)
	}
	return nil
}

// isNonceTaken reports whether another completed tx from the same sender used tx's nonce.
func (pt *PendingTracker[ADDR, THASH, BHASH, R, SEQ]) isNonceTaken(ctx context.Context, tx *types.Tx[ADDR, THASH, SEQ]) (bool, error) {
	if tx.Sequence == nil {
		return false, nil
	}
	completed, err := pt.txStore.GetCompletedTxs(ctx, tx.FromAddress)
	if err != nil {
		return false, err
	}
	for _, other := range completed {
		if other.ID != tx.ID && other.HasSequence(tx.Sequence) {
			return true, nil
		}
	}
	return false, nil
}

// isDropped is only called when no receipt was found for tx. A nonce below the latest block's
// nonce for the sender has been consumed on chain by something; tx is reported dropped once this was observed
// consecutively more often than the dropped threshold.
func (pt *PendingTracker[ADDR, THASH, BHASH, R, SEQ]) isDropped(ctx context.Context, tx *types.Tx[ADDR, THASH, SEQ]) (bool, error) {
	if tx.Sequence == nil {
		return false, nil
	}
	next, err := pt.client.SequenceAt(ctx, tx.FromAddress)
	if err != nil {
		return false, fmt.Errorf("failed to get mined sequence for %s: %w", tx.FromAddress, err)
	}
	if (*tx.Sequence).Int64() >= next.Int64() {
		return false, nil
	}
	return pt.droppedBuffer.observe(*tx.Hash), nil
}

// ResubmitPending rebroadcasts pending transactions whose backoff has elapsed at blockNum.
// Failures are isolated per transaction and never mark a transaction final.
func (pt *PendingTracker[ADDR, THASH, BHASH, R, SEQ]) ResubmitPending(ctx context.Context, blockNum int64) error {
	txs, err := pt.txStore.GetPendingTxs(ctx)
	if err != nil {
		return fmt.Errorf("failed to get pending txes: %w", err)
	}
	if len(txs) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	wg.Add(len(txs))
	for _, tx := range txs {
		go func() {
			defer wg.Done()
			if err := pt.resubmitTx(ctx, tx, blockNum); err != nil {
				pt.handleResubmitError(ctx, tx, err)
			}
		}()
	}
	wg.Wait()
	return nil
}

func (pt *PendingTracker[ADDR, THASH, BHASH, R, SEQ]) resubmitTx(ctx context.Context, tx *types.Tx[ADDR, THASH, SEQ], blockNum int64) error {
	// Unapproved, approved and signed txes have not been broadcast yet
	if tx.State != TxSubmitted {
		return nil
	}

	if !tx.FirstRetryBlockNum.Valid {
		tx.FirstRetryBlockNum = null.IntFrom(blockNum)
		pt.notifier.OnBlockUpdate(ctx, tx, blockNum)
	}

	blocksSinceFirstRetry := blockNum - tx.FirstRetryBlockNum.Int64
	if !isBackoffElapsed(blocksSinceFirstRetry, tx.RetryCount) {
		return nil
	}

	// Only signed txes can be rebroadcast; unsigned ones go back through approval.
	if len(tx.SignedRawTx) == 0 {
		pt.lggr.Debugw("Approving unsigned pending tx", "txID", tx.ID, "blockNum", blockNum)
		return pt.approver.ApproveTx(ctx, tx.ID)
	}

	hash, err := pt.publisher.SendRawTransaction(ctx, tx.SignedRawTx)
	if err != nil {
		return err
	}
	pt.lggr.Debugw("Rebroadcast pending tx", "txID", tx.ID, "txHash", hash, "blockNum", blockNum, "retryCount", tx.RetryCount)
	pt.metrics.IncrementNumRetries(ctx)
	pt.notifier.OnRetry(ctx, tx)
	return nil
}

func (pt *PendingTracker[ADDR, THASH, BHASH, R, SEQ]) handleResubmitError(ctx context.Context, tx *types.Tx[ADDR, THASH, SEQ], err error) {
	if IsIgnorableResubmitError(err) {
		pt.lggr.Debugw("Ignoring resubmit error, tx was already broadcast", "txID", tx.ID, "err", err)
		pt.metrics.IncrementNumIgnoredResubmitErrors(ctx)
		return
	}
	pt.warn(ctx, tx, err, warningMessageResubmit, metrics.WarningSourceResubmit)
}

func (pt *PendingTracker[ADDR, THASH, BHASH, R, SEQ]) warn(ctx context.Context, tx *types.Tx[ADDR, THASH, SEQ], err error, msg string, source metrics.WarningSource) {
	pt.lggr.Warnw(msg, "txID", tx.ID, "err", err)
	tx.Warning = &types.TxWarning{Err: err, Message: msg}
	pt.metrics.IncrementNumWarnings(ctx, source)
	pt.notifier.OnWarning(ctx, tx, err)
}

// isBackoffElapsed reports whether a tx retried retryCount times may be rebroadcast
// blocksSinceFirstRetry blocks after it was first considered: 0, 1, 3, 7, ... blocks must pass.
func isBackoffElapsed(blocksSinceFirstRetry int64, retryCount int) bool {
	exp := min(max(retryCount, 0), maxBackoffExponent)
	return blocksSinceFirstRetry > int64(1)<<exp-1
}

func formatGwei(wei *big.Int) string {
	if wei == nil {
		return "n/a"
	}
	return decimal.NewFromBigInt(wei, -9).String()
}
