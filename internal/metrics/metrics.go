package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Batcher Metrics
var (
	// BatcherMessagesTotal tracks inbound events accepted by the batcher
	BatcherMessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "batcher_messages_total",
			Help: "Total inbound events accepted by the batcher",
		},
	)

	// BatcherBatchesTotal tracks flushed batches
	BatcherBatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "batcher_batches_total",
			Help: "Total batches flushed to the merge engine",
		},
	)

	// BatcherDroppedTotal tracks events dropped by the backpressure cap
	BatcherDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "batcher_dropped_messages_total",
			Help: "Events dropped because the pending buffer exceeded its hard cap",
		},
	)

	// BatcherBatchSize observes the size of flushed batches
	BatcherBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "batcher_batch_size",
			Help:    "Number of events per flushed batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		},
	)
)

// Connection Metrics
var (
	// ConnectionState tracks the current connection state as an enum gauge
	ConnectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lobby_connection_state",
			Help: "Current connection state (0=idle 1=connecting 2=open 3=closing 4=reconnect_scheduled 5=closed 6=failed)",
		},
	)

	// ConnectionReconnectsTotal tracks reconnect attempts
	ConnectionReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lobby_connection_reconnects_total",
			Help: "Total reconnect attempts",
		},
	)

	// ConnectionMalformedFramesTotal tracks dropped unparseable frames
	ConnectionMalformedFramesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lobby_connection_malformed_frames_total",
			Help: "Inbound frames dropped because they failed to parse",
		},
	)
)

// Offline Queue Metrics
var (
	// QueueDepth tracks the number of pending offline actions
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "offline_queue_depth",
			Help: "Number of write actions currently queued",
		},
	)

	// QueueRejectedTotal tracks enqueue rejections due to the size cap
	QueueRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offline_queue_rejected_total",
			Help: "Actions rejected because the queue was full",
		},
	)

	// QueueRetriesTotal tracks action retry attempts
	QueueRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offline_queue_retries_total",
			Help: "Total action retry attempts",
		},
	)

	// QueueOutcomesTotal tracks terminal action outcomes by result
	QueueOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_queue_outcomes_total",
			Help: "Terminal action outcomes by result (success/exhausted)",
		},
		[]string{"result"},
	)
)

// Fallback Refresh Metrics
var (
	// RefreshTotal tracks fallback full-refresh attempts by status
	RefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lobby_refresh_total",
			Help: "Fallback full-refresh attempts by status",
		},
		[]string{"status"},
	)

	// RefreshDuration observes full-refresh fetch latency in seconds
	RefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lobby_refresh_duration_seconds",
			Help:    "Fallback full-refresh duration in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)
)
