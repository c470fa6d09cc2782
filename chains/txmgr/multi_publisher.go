package txmgr

import (
	"context"
	"errors"
	"math"
	"slices"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/smartcontractkit/chainlink-common/pkg/services"

	"github.com/smartcontractkit/chainlink-pending-tracker/chains"
	"github.com/smartcontractkit/chainlink-pending-tracker/chains/txmgr/types"
)

var promBroadcastInvariantViolations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pending_tracker_broadcast_invariant_violations",
	Help: "The number of broadcasts where one node accepted a transaction that another node rejected as invalid",
}, []string{"chainID"})

// SendResultCode classifies a node's reply to a broadcast.
type SendResultCode int

const (
	SendSuccessful SendResultCode = iota
	// SendAlreadyKnown means the node already has this transaction or one with the same nonce.
	SendAlreadyKnown
	// SendFatal means the node rejected the transaction and no node should accept it.
	SendFatal
	SendRetryable
)

var (
	successfulSendCodes = []SendResultCode{SendSuccessful, SendAlreadyKnown}
	severeSendCodes     = []SendResultCode{SendFatal}
)

func (c SendResultCode) String() string {
	switch c {
	case SendSuccessful:
		return "Successful"
	case SendAlreadyKnown:
		return "AlreadyKnown"
	case SendFatal:
		return "Fatal"
	case SendRetryable:
		return "Retryable"
	default:
		return "Unknown"
	}
}

// SendErrorClassifier maps the error a node returned for a broadcast to a SendResultCode.
type SendErrorClassifier func(err error) SendResultCode

// ClassifySendError never reports SendFatal. Chain adapters that can recognise invalid
// transactions supply their own classifier.
func ClassifySendError(err error) SendResultCode {
	switch {
	case err == nil:
		return SendSuccessful
	case IsIgnorableResubmitError(err):
		return SendAlreadyKnown
	default:
		return SendRetryable
	}
}

const (
	sendQuorum             = 0.7
	defaultSendSoftTimeout = 5 * time.Second
)

type sendResult[THASH chains.Hashable] struct {
	node int
	hash THASH
	err  error
	code SendResultCode
}

type sendResults[THASH chains.Hashable] map[SendResultCode][]sendResult[THASH]

// MultiPublisher broadcasts a signed transaction through every publisher and returns as soon as
// one accepts it, a quorum replied, or the soft timeout passed after the first reply.
//
// Aggregation of the replies collected so far:
//   - any success wins, even if another node reported a fatal error
//   - otherwise the first fatal error
//   - otherwise any of the errors
//
// A success alongside a fatal error means the nodes disagree on the validity of the
// transaction, which is logged and counted once every node replied.
type MultiPublisher[THASH chains.Hashable] struct {
	services.Service
	eng *services.Engine

	chainID     string
	publishers  []types.TxPublisher[THASH]
	classify    SendErrorClassifier
	softTimeout time.Duration
}

func NewMultiPublisher[THASH chains.Hashable](
	lggr logger.Logger,
	chainID string,
	classify SendErrorClassifier,
	softTimeout time.Duration,
	publishers ...types.TxPublisher[THASH],
) *MultiPublisher[THASH] {
	if classify == nil {
		classify = ClassifySendError
	}
	if softTimeout == 0 {
		softTimeout = defaultSendSoftTimeout
	}
	p := &MultiPublisher[THASH]{
		chainID:     chainID,
		publishers:  publishers,
		classify:    classify,
		softTimeout: softTimeout,
	}
	p.Service, p.eng = services.Config{
		Name: "MultiPublisher",
	}.NewServiceEngine(lggr)
	return p
}

func (p *MultiPublisher[THASH]) SendRawTransaction(ctx context.Context, raw []byte) (THASH, error) {
	var zero THASH
	if err := p.Ready(); err != nil {
		return zero, err
	}
	if len(p.publishers) == 0 {
		return zero, errors.New("no publishers configured")
	}

	n := len(p.publishers)
	collected := make(chan sendResult[THASH], n)
	reported := make(chan sendResult[THASH], n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i, pub := range p.publishers {
		go func() {
			defer wg.Done()
			r := p.send(ctx, i, pub, raw)
			collected <- r
			reported <- r
		}()
	}

	p.eng.Go(func(context.Context) {
		wg.Wait()
		close(reported)
		p.reportAnomalies(reported)
	})

	r, err := p.collect(ctx, n, collected)
	if err != nil {
		return zero, err
	}
	return r.hash, r.err
}

func (p *MultiPublisher[THASH]) send(ctx context.Context, node int, pub types.TxPublisher[THASH], raw []byte) sendResult[THASH] {
	hash, err := pub.SendRawTransaction(ctx, raw)
	code := p.classify(err)
	if err != nil {
		err = pkgerrors.Wrapf(err, "node %d", node)
	}
	if !slices.Contains(successfulSendCodes, code) {
		p.eng.Warnw("Node rejected tx", "chainID", p.chainID, "node", node, "code", code, "err", err)
	}
	return sendResult[THASH]{node: node, hash: hash, err: err, code: code}
}

func (p *MultiPublisher[THASH]) collect(ctx context.Context, n int, results <-chan sendResult[THASH]) (sendResult[THASH], error) {
	required := int(math.Ceil(float64(n) * sendQuorum))
	byCode := sendResults[THASH]{}
	var softTimeout <-chan time.Time
	var count int
loop:
	for {
		select {
		case <-ctx.Done():
			return sendResult[THASH]{}, ctx.Err()
		case r := <-results:
			byCode[r.code] = append(byCode[r.code], r)
			count++
			if slices.Contains(successfulSendCodes, r.code) || count >= required {
				break loop
			}
		case <-softTimeout:
			p.eng.Debugw("Send soft timeout expired, using replies collected so far", "count", count, "required", required)
			break loop
		}

		if softTimeout == nil {
			tm := time.NewTimer(p.softTimeout)
			defer tm.Stop()
			softTimeout = tm.C
		}
	}

	r, _ := aggregateSendResults(byCode)
	return r, nil
}

func (p *MultiPublisher[THASH]) reportAnomalies(results <-chan sendResult[THASH]) {
	byCode := sendResults[THASH]{}
	for r := range results {
		byCode[r.code] = append(byCode[r.code], r)
	}
	if _, err := aggregateSendResults(byCode); err != nil {
		p.eng.Errorw("Observed invariant violation on broadcast", "err", err,
			"successful", len(byCode[SendSuccessful])+len(byCode[SendAlreadyKnown]), "fatal", len(byCode[SendFatal]))
		promBroadcastInvariantViolations.WithLabelValues(p.chainID).Inc()
	}
}

// aggregateSendResults picks the reply to return. The error reports contradicting replies.
func aggregateSendResults[THASH chains.Hashable](byCode sendResults[THASH]) (sendResult[THASH], error) {
	_, severe, hasSevere := findFirstIn(byCode, severeSendCodes)
	_, successes, hasSuccess := findFirstIn(byCode, successfulSendCodes)
	if hasSuccess {
		if hasSevere {
			return successes[0], errors.New("found contradictions in nodes replies on broadcast: got success and fatal error")
		}
		return successes[0], nil
	}
	if hasSevere {
		return severe[0], nil
	}
	for _, rs := range byCode {
		return rs[0], nil
	}
	err := errors.New("expected at least one reply on broadcast")
	return sendResult[THASH]{code: SendRetryable, err: err}, err
}

// findFirstIn returns the first key from keys present in set, with its value.
func findFirstIn[K comparable, V any](set map[K]V, keys []K) (K, V, bool) {
	for _, k := range keys {
		if v, ok := set[k]; ok {
			return k, v, true
		}
	}
	var zeroK K
	var zeroV V
	return zeroK, zeroV, false
}
