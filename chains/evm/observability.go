package evm

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type QueryType string

const (
	QueryRead  QueryType = "read"
	QueryWrite QueryType = "write"
)

var (
	rpcLatencyBuckets = []float64{
		float64(5 * time.Millisecond),
		float64(10 * time.Millisecond),
		float64(25 * time.Millisecond),
		float64(50 * time.Millisecond),
		float64(100 * time.Millisecond),
		float64(200 * time.Millisecond),
		float64(300 * time.Millisecond),
		float64(500 * time.Millisecond),
		float64(750 * time.Millisecond),
		float64(1 * time.Second),
		float64(2 * time.Second),
		float64(5 * time.Second),
		float64(10 * time.Second),
	}
	rpcQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pending_tracker_rpc_query_duration",
		Help:    "Measures duration of the pending tracker's RPC calls",
		Buckets: rpcLatencyBuckets,
	}, []string{"chainID", "query", "type"})
	rpcQueryErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pending_tracker_rpc_query_errors",
		Help: "The number of the pending tracker's RPC calls that returned an error",
	}, []string{"chainID", "query", "type"})
)

func WithObservedQuery[T any](chainID, queryName string, query func() (T, error)) (T, error) {
	queryStarted := time.Now()
	result, err := query()
	observe(chainID, queryName, QueryRead, queryStarted, err)
	return result, err
}

func WithObservedExec(chainID, queryName string, exec func() error) error {
	queryStarted := time.Now()
	err := exec()
	observe(chainID, queryName, QueryWrite, queryStarted, err)
	return err
}

func observe(chainID, queryName string, queryType QueryType, started time.Time, err error) {
	rpcQueryDuration.
		WithLabelValues(chainID, queryName, string(queryType)).
		Observe(float64(time.Since(started)))
	if err != nil {
		rpcQueryErrors.WithLabelValues(chainID, queryName, string(queryType)).Inc()
	}
}
