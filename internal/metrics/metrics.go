// Package metrics holds the Prometheus instrumentation for streamd.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AppendsTotal counts accepted appends.
	AppendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "streamd",
		Name:      "appends_total",
		Help:      "Number of accepted append operations.",
	})

	// AppendBytesTotal counts payload bytes accepted by appends.
	AppendBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "streamd",
		Name:      "append_bytes_total",
		Help:      "Payload bytes accepted by append operations.",
	})

	// ReadsTotal counts read requests by mode (catchup, long-poll, sse).
	ReadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamd",
		Name:      "reads_total",
		Help:      "Number of read requests by live mode.",
	}, []string{"mode"})

	// ActiveWaiters tracks currently blocked long-poll and SSE readers.
	ActiveWaiters = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "streamd",
		Name:      "active_waiters",
		Help:      "Currently registered long-poll and SSE waiters.",
	})

	// StreamsCreatedTotal counts newly created streams.
	StreamsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "streamd",
		Name:      "streams_created_total",
		Help:      "Number of streams created.",
	})

	// StreamsDeletedTotal counts deleted streams.
	StreamsDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "streamd",
		Name:      "streams_deleted_total",
		Help:      "Number of streams deleted.",
	})

	// RequestDuration observes HTTP handling latency by method and status.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "streamd",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "status"})
)
