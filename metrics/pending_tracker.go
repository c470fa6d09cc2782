package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/smartcontractkit/chainlink-common/pkg/beholder"
)

// DropReason labels why a transaction was reported dropped.
type DropReason string

const (
	// DropReasonNonceTaken means a completed transaction from the same sender used the nonce.
	DropReasonNonceTaken DropReason = "nonce_taken"
	// DropReasonNonceConsumed means the network nonce moved past the transaction without a receipt.
	DropReasonNonceConsumed DropReason = "nonce_consumed"
)

// WarningSource labels which operation produced a warning.
type WarningSource string

const (
	WarningSourceReconcile WarningSource = "reconcile"
	WarningSourceResubmit  WarningSource = "resubmit"
)

var (
	promNumConfirmed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pending_tracker_confirmed",
		Help: "The number of pending transactions found confirmed",
	}, []string{"chainID"})
	promNumDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pending_tracker_dropped",
		Help: "The number of pending transactions found dropped",
	}, []string{"chainID", "reason"})
	promNumFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pending_tracker_failed",
		Help: "The number of pending transactions marked failed because they were submitted without a hash",
	}, []string{"chainID"})
	promNumWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pending_tracker_warnings",
		Help: "The number of non-terminal errors reported for pending transactions",
	}, []string{"chainID", "source"})
	promNumRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pending_tracker_retries",
		Help: "The number of pending transactions successfully rebroadcast",
	}, []string{"chainID"})
	promNumIgnoredResubmitErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pending_tracker_ignored_resubmit_errors",
		Help: "The number of rebroadcast errors ignored because another broadcast of the same transaction was already accepted",
	}, []string{"chainID"})
	promDroppedBufferSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pending_tracker_dropped_buffer_size",
		Help: "The number of transactions whose nonce was consumed but which are not yet reported dropped",
	}, []string{"chainID"})
)

type GenericPendingTrackerMetrics interface {
	IncrementNumConfirmed(ctx context.Context)
	IncrementNumDropped(ctx context.Context, reason DropReason)
	IncrementNumFailed(ctx context.Context)
	IncrementNumWarnings(ctx context.Context, source WarningSource)
	IncrementNumRetries(ctx context.Context)
	IncrementNumIgnoredResubmitErrors(ctx context.Context)
	RecordDroppedBufferSize(ctx context.Context, size int)
}

var _ GenericPendingTrackerMetrics = (*pendingTrackerMetrics)(nil)

type pendingTrackerMetrics struct {
	chainID                  string
	numConfirmed             metric.Int64Counter
	numDropped               metric.Int64Counter
	numFailed                metric.Int64Counter
	numWarnings              metric.Int64Counter
	numRetries               metric.Int64Counter
	numIgnoredResubmitErrors metric.Int64Counter
	droppedBufferSize        metric.Int64Gauge
}

func NewGenericPendingTrackerMetrics(chainID string) (*pendingTrackerMetrics, error) {
	numConfirmed, err := beholder.GetMeter().Int64Counter("pending_tracker_confirmed")
	if err != nil {
		return nil, fmt.Errorf("failed to register confirmed txs metric: %w", err)
	}

	numDropped, err := beholder.GetMeter().Int64Counter("pending_tracker_dropped")
	if err != nil {
		return nil, fmt.Errorf("failed to register dropped txs metric: %w", err)
	}

	numFailed, err := beholder.GetMeter().Int64Counter("pending_tracker_failed")
	if err != nil {
		return nil, fmt.Errorf("failed to register failed txs metric: %w", err)
	}

	numWarnings, err := beholder.GetMeter().Int64Counter("pending_tracker_warnings")
	if err != nil {
		return nil, fmt.Errorf("failed to register warnings metric: %w", err)
	}

	numRetries, err := beholder.GetMeter().Int64Counter("pending_tracker_retries")
	if err != nil {
		return nil, fmt.Errorf("failed to register retries metric: %w", err)
	}

	numIgnoredResubmitErrors, err := beholder.GetMeter().Int64Counter("pending_tracker_ignored_resubmit_errors")
	if err != nil {
		return nil, fmt.Errorf("failed to register ignored resubmit errors metric: %w", err)
	}

	droppedBufferSize, err := beholder.GetMeter().Int64Gauge("pending_tracker_dropped_buffer_size")
	if err != nil {
		return nil, fmt.Errorf("failed to register dropped buffer size metric: %w", err)
	}

	return &pendingTrackerMetrics{
		chainID:                  chainID,
		numConfirmed:             numConfirmed,
		numDropped:               numDropped,
		numFailed:                numFailed,
		numWarnings:              numWarnings,
		numRetries:               numRetries,
		numIgnoredResubmitErrors: numIgnoredResubmitErrors,
		droppedBufferSize:        droppedBufferSize,
	}, nil
}

func (m *pendingTrackerMetrics) IncrementNumConfirmed(ctx context.Context) {
	promNumConfirmed.WithLabelValues(m.chainID).Inc()
	m.numConfirmed.Add(ctx, 1, metric.WithAttributes(attribute.String("chainID", m.chainID)))
}

func (m *pendingTrackerMetrics) IncrementNumDropped(ctx context.Context, reason DropReason) {
	promNumDropped.WithLabelValues(m.chainID, string(reason)).Inc()
	m.numDropped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("chainID", m.chainID),
		attribute.String("reason", string(reason))))
}

func (m *pendingTrackerMetrics) IncrementNumFailed(ctx context.Context) {
	promNumFailed.WithLabelValues(m.chainID).Inc()
	m.numFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("chainID", m.chainID)))
}

func (m *pendingTrackerMetrics) IncrementNumWarnings(ctx context.Context, source WarningSource) {
	promNumWarnings.WithLabelValues(m.chainID, string(source)).Inc()
	m.numWarnings.Add(ctx, 1, metric.WithAttributes(
		attribute.String("chainID", m.chainID),
		attribute.String("source", string(source))))
}

func (m *pendingTrackerMetrics) IncrementNumRetries(ctx context.Context) {
	promNumRetries.WithLabelValues(m.chainID).Inc()
	m.numRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("chainID", m.chainID)))
}

func (m *pendingTrackerMetrics) IncrementNumIgnoredResubmitErrors(ctx context.Context) {
	promNumIgnoredResubmitErrors.WithLabelValues(m.chainID).Inc()
	m.numIgnoredResubmitErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("chainID", m.chainID)))
}

func (m *pendingTrackerMetrics) RecordDroppedBufferSize(ctx context.Context, size int) {
	promDroppedBufferSize.WithLabelValues(m.chainID).Set(float64(size))
	m.droppedBufferSize.Record(ctx, int64(size), metric.WithAttributes(attribute.String("chainID", m.chainID)))
}
