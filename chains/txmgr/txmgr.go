package txmgr

import (
	"context"
	"time"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/smartcontractkit/chainlink-common/pkg/services"
	"github.com/smartcontractkit/chainlink-common/pkg/utils/mailbox"

	"github.com/smartcontractkit/chainlink-pending-tracker/chains"
	"github.com/smartcontractkit/chainlink-pending-tracker/chains/txmgr/types"
)

type TxmConfig interface {
	TrackerConfig
	// Enabled turns off both loops when false. Heads are still accepted and discarded.
	Enabled() bool
	RecheckInterval() time.Duration
	ResubmitEnabled() bool
}

// Txm drives a PendingTracker: pending transactions are reconciled every RecheckInterval and
// resubmitted on every new head. Heads that arrive while a resubmission is running are coalesced
// so only the latest block number is processed next.
type Txm[
	HEAD chains.Head[BHASH],
	ADDR chains.Hashable,
	THASH chains.Hashable,
	BHASH chains.Hashable,
	R types.ChainReceipt[THASH, BHASH],
	SEQ chains.Sequence,
] struct {
	services.Service
	eng *services.Engine

	cfg     TxmConfig
	tracker *PendingTracker[ADDR, THASH, BHASH, R, SEQ]
	mb      *mailbox.Mailbox[int64]
}

func NewTxm[
	HEAD chains.Head[BHASH],
	ADDR chains.Hashable,
	THASH chains.Hashable,
	BHASH chains.Hashable,
	R types.ChainReceipt[THASH, BHASH],
	SEQ chains.Sequence,
](
	lggr logger.Logger,
	cfg TxmConfig,
	tracker *PendingTracker[ADDR, THASH, BHASH, R, SEQ],
) *Txm[HEAD, ADDR, THASH, BHASH, R, SEQ] {
	t := &Txm[HEAD, ADDR, THASH, BHASH, R, SEQ]{
		cfg:     cfg,
		tracker: tracker,
		mb:      mailbox.NewSingle[int64](),
	}
	t.Service, t.eng = services.Config{
		Name:  "Txm",
		Start: t.start,
	}.NewServiceEngine(lggr)
	return t
}

func (t *Txm[HEAD, ADDR, THASH, BHASH, R, SEQ]) start(context.Context) error {
	if !t.cfg.Enabled() {
		t.eng.Info("Pending tracker disabled")
		return nil
	}
	t.eng.Go(t.runReconcileLoop)
	if t.cfg.ResubmitEnabled() {
		t.eng.Go(t.runResubmitLoop)
	} else {
		t.eng.Info("Resubmission disabled")
	}
	return nil
}

// OnNewLongestChain conforms to heads.Trackable. Heads delivered before Start are held in the
// mailbox and only the latest is processed once the resubmit loop runs.
func (t *Txm[HEAD, ADDR, THASH, BHASH, R, SEQ]) OnNewLongestChain(_ context.Context, head HEAD) {
	if t.mb.Deliver(head.BlockNumber()) {
		t.eng.Debugw("Skipped block, resubmission still in progress", "blockNum", head.BlockNumber())
	}
}

func (t *Txm[HEAD, ADDR, THASH, BHASH, R, SEQ]) runReconcileLoop(ctx context.Context) {
	ticker := services.NewTicker(t.cfg.RecheckInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.tracker.ReconcilePending(ctx); err != nil {
				t.eng.Errorw("Failed to reconcile pending txes", "err", err)
			}
		}
	}
}

func (t *Txm[HEAD, ADDR, THASH, BHASH, R, SEQ]) runResubmitLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.mb.Notify():
			blockNum, exists := t.mb.Retrieve()
			if !exists {
				continue
			}
			if err := t.tracker.ResubmitPending(ctx, blockNum); err != nil {
				t.eng.Errorw("Failed to resubmit pending txes", "blockNum", blockNum, "err", err)
			}
		}
	}
}
