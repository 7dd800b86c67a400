// Package metrics provides Prometheus metrics for geopump transfers.
//
// All metrics are registered with the default registry via promauto and are
// labeled by operation (copy_to, copy_from) so that upload and download
// traffic can be tracked independently.
//
//	metrics.RowsTransferred.WithLabelValues("copy_to").Add(float64(n))
//	timer := metrics.NewTimer()
//	defer metrics.TransferDuration.WithLabelValues("copy_to", "success").Observe(timer.Seconds())
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RowsTransferred counts rows moved across the bulk-load channel.
	RowsTransferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geopump_rows_transferred_total",
			Help: "Total number of rows transferred",
		},
		[]string{"operation"},
	)

	// BytesTransferred counts bytes moved across the bulk-load channel.
	BytesTransferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geopump_bytes_transferred_total",
			Help: "Total number of bytes transferred",
		},
		[]string{"operation"},
	)

	// TransferRetries counts rate-limit retries consumed by download sessions.
	TransferRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geopump_transfer_retries_total",
			Help: "Total number of rate-limit retries across all download sessions",
		},
	)

	// TransfersTotal counts completed transfer calls by outcome.
	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geopump_transfers_total",
			Help: "Total number of transfer calls",
		},
		[]string{"operation", "status"},
	)

	// TransferDuration tracks end-to-end transfer call latency.
	TransferDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geopump_transfer_duration_seconds",
			Help:    "End-to-end duration of transfer calls",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		},
		[]string{"operation", "status"},
	)

	// QueriesTotal counts SQL API calls by kind.
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geopump_queries_total",
			Help: "Total number of SQL queries issued to the remote store",
		},
		[]string{"kind"},
	)
)

// Timer measures elapsed time for a single operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Seconds returns the elapsed time in seconds.
func (t *Timer) Seconds() float64 {
	return time.Since(t.start).Seconds()
}

// Elapsed returns the elapsed time.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}
