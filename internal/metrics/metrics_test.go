package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegistration(t *testing.T) {
	// Verify all metrics are registered without conflicts
	// This test ensures no duplicate metric names

	metrics := []prometheus.Collector{
		// Batcher metrics
		BatcherMessagesTotal,
		BatcherBatchesTotal,
		BatcherDroppedTotal,
		BatcherBatchSize,

		// Connection metrics
		ConnectionState,
		ConnectionReconnectsTotal,
		ConnectionMalformedFramesTotal,

		// Offline queue metrics
		QueueDepth,
		QueueRejectedTotal,
		QueueRetriesTotal,
		QueueOutcomesTotal,

		// Fallback refresh metrics
		RefreshTotal,
		RefreshDuration,
	}

	// Verify each metric is registered
	for _, metric := range metrics {
		desc := make(chan *prometheus.Desc, 1)
		metric.Describe(desc)
		close(desc)

		require.NotNil(t, <-desc, "metric should have a valid descriptor")
	}
}

func TestCounterVecMetrics(t *testing.T) {
	tests := []struct {
		name    string
		metric  *prometheus.CounterVec
		labels  prometheus.Labels
		incBy   float64
		wantVal float64
	}{
		{
			name:    "queue outcomes counter",
			metric:  QueueOutcomesTotal,
			labels:  prometheus.Labels{"result": "success"},
			incBy:   5,
			wantVal: 5,
		},
		{
			name:    "refresh status counter",
			metric:  RefreshTotal,
			labels:  prometheus.Labels{"status": "skipped"},
			incBy:   3,
			wantVal: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.metric.Reset()

			for i := 0; i < int(tt.incBy); i++ {
				tt.metric.With(tt.labels).Inc()
			}

			val := testutil.ToFloat64(tt.metric.With(tt.labels))
			assert.Equal(t, tt.wantVal, val)
		})
	}
}

func TestGaugeMetrics(t *testing.T) {
	tests := []struct {
		name     string
		metric   prometheus.Gauge
		setValue float64
	}{
		{
			name:     "queue depth",
			metric:   QueueDepth,
			setValue: 42,
		},
		{
			name:     "connection state",
			metric:   ConnectionState,
			setValue: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.metric.Set(tt.setValue)

			val := testutil.ToFloat64(tt.metric)
			assert.Equal(t, tt.setValue, val)
		})
	}
}

func TestHistogramMetrics(t *testing.T) {
	t.Run("batch size", func(t *testing.T) {
		for _, obs := range []float64{1, 3, 12, 50} {
			BatcherBatchSize.Observe(obs)
		}

		count := testutil.CollectAndCount(BatcherBatchSize)
		assert.Greater(t, count, 0, "histogram should have metrics")
	})

	t.Run("refresh duration", func(t *testing.T) {
		for _, obs := range []float64{0.01, 0.05, 0.2} {
			RefreshDuration.Observe(obs)
		}

		count := testutil.CollectAndCount(RefreshDuration)
		assert.Greater(t, count, 0, "histogram should have metrics")
	})
}

func TestMetricNaming(t *testing.T) {
	// Verify metrics follow Prometheus naming conventions
	// - snake_case
	// - descriptive suffixes (_total, _seconds, _depth)

	tests := []struct {
		name         string
		metricName   string
		wantContains string
	}{
		{"counter has _total suffix", "batcher_messages_total", "_total"},
		{"duration has _seconds suffix", "lobby_refresh_duration_seconds", "_seconds"},
		{"gauge has descriptive name", "offline_queue_depth", "depth"},
		{"counter has _total suffix", "lobby_connection_reconnects_total", "_total"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, strings.Contains(tt.metricName, tt.wantContains),
				"metric name %s should contain %s", tt.metricName, tt.wantContains)
		})
	}
}

func TestMetricTypes(t *testing.T) {
	t.Run("counters only increase", func(t *testing.T) {
		QueueRetriesTotal.Inc()
		val1 := testutil.ToFloat64(QueueRetriesTotal)

		QueueRetriesTotal.Inc()
		val2 := testutil.ToFloat64(QueueRetriesTotal)

		assert.Greater(t, val2, val1, "counters should only increase")
	})

	t.Run("gauges can increase and decrease", func(t *testing.T) {
		gauge := QueueDepth

		gauge.Set(10)
		assert.Equal(t, 10.0, testutil.ToFloat64(gauge))

		gauge.Inc()
		assert.Equal(t, 11.0, testutil.ToFloat64(gauge))

		gauge.Dec()
		assert.Equal(t, 10.0, testutil.ToFloat64(gauge))

		gauge.Set(5)
		assert.Equal(t, 5.0, testutil.ToFloat64(gauge))
	})
}
