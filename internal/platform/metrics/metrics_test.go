package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestActionOutcomes(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.ObserveAction("purge-cache", "success")
	m.ObserveAction("purge-cache", "success")
	m.ObserveAction("purge-cache", "denied")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActionOutcomes.WithLabelValues("purge-cache", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActionOutcomes.WithLabelValues("purge-cache", "denied")))
}

func TestBreakerGauge(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.SetBreakerOpen("restart-pods", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExecutorBreaker.WithLabelValues("restart-pods")))
	m.SetBreakerOpen("restart-pods", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ExecutorBreaker.WithLabelValues("restart-pods")))
}

func TestActivityCounters(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.AddActivityIngested(3)
	m.AddActivityDropped("malformed", 2)
	m.AddActivityDropped("queue_full", 0)
	m.ObserveExecutor("purge-cache", 20*time.Millisecond)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.ActivityIngested))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActivityDropped.WithLabelValues("malformed")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ExecutorLatency))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveAction("a", "success")
		m.IncrementAuditWrite(false)
		m.AddActivityReaped(4)
	})
}
