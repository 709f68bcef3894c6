package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the domain-level Prometheus instruments.
type Metrics struct {
	ActionOutcomes   *prometheus.CounterVec
	ExecutorLatency  *prometheus.HistogramVec
	ExecutorBreaker  *prometheus.GaugeVec
	PendingApprovals prometheus.Gauge

	AuditWrites        *prometheus.CounterVec
	AuditMirrorDropped prometheus.Counter

	ArticleWrites    *prometheus.CounterVec
	ArticleConflicts prometheus.Counter
	UserAdminOps     *prometheus.CounterVec

	ActivityIngested prometheus.Counter
	ActivityDropped  *prometheus.CounterVec
	ActivityReaped   prometheus.Counter
}

// New registers all instruments with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers all instruments with reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration panics.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActionOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "commandbridge_action_outcomes_total",
			Help: "Action invocations by action id and audited result",
		}, []string{"action", "result"}),
		ExecutorLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "commandbridge_executor_duration_seconds",
			Help:    "Executor call latency by action id",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"action"}),
		ExecutorBreaker: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "commandbridge_executor_breaker_open",
			Help: "1 while an action's executor breaker is open",
		}, []string{"action"}),
		PendingApprovals: f.NewGauge(prometheus.GaugeOpts{
			Name: "commandbridge_pending_approvals",
			Help: "Requests awaiting approval at the last listing",
		}),
		AuditWrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "commandbridge_audit_writes_total",
			Help: "Audit appends by outcome (ok, failed)",
		}, []string{"outcome"}),
		AuditMirrorDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "commandbridge_audit_mirror_dropped_total",
			Help: "Audit records not delivered to the stream mirror",
		}),
		ArticleWrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "commandbridge_kb_writes_total",
			Help: "Knowledge-base writes by operation",
		}, []string{"op"}),
		ArticleConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "commandbridge_kb_version_conflicts_total",
			Help: "Knowledge-base version bumps that lost a concurrent race",
		}),
		UserAdminOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "commandbridge_user_admin_ops_total",
			Help: "User administration operations by kind",
		}, []string{"op"}),
		ActivityIngested: f.NewCounter(prometheus.CounterOpts{
			Name: "commandbridge_activity_events_ingested_total",
			Help: "Activity events accepted for storage",
		}),
		ActivityDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "commandbridge_activity_events_dropped_total",
			Help: "Activity events dropped by reason",
		}, []string{"reason"}),
		ActivityReaped: f.NewCounter(prometheus.CounterOpts{
			Name: "commandbridge_activity_events_reaped_total",
			Help: "Activity events deleted past retention",
		}),
	}
}

// ObserveAction records an audited action outcome.
func (m *Metrics) ObserveAction(actionID, result string) {
	if m == nil {
		return
	}
	m.ActionOutcomes.WithLabelValues(actionID, result).Inc()
}

// ObserveExecutor records executor latency for an action.
func (m *Metrics) ObserveExecutor(actionID string, d time.Duration) {
	if m == nil {
		return
	}
	m.ExecutorLatency.WithLabelValues(actionID).Observe(d.Seconds())
}

// SetBreakerOpen flips the breaker gauge for an action.
func (m *Metrics) SetBreakerOpen(actionID string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	m.ExecutorBreaker.WithLabelValues(actionID).Set(v)
}

func (m *Metrics) SetPendingApprovals(n int) {
	if m == nil {
		return
	}
	m.PendingApprovals.Set(float64(n))
}

func (m *Metrics) IncrementAuditWrite(ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.AuditWrites.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementAuditMirrorDropped() {
	if m == nil {
		return
	}
	m.AuditMirrorDropped.Inc()
}

func (m *Metrics) IncrementArticleWrite(op string) {
	if m == nil {
		return
	}
	m.ArticleWrites.WithLabelValues(op).Inc()
}

func (m *Metrics) IncrementArticleConflict() {
	if m == nil {
		return
	}
	m.ArticleConflicts.Inc()
}

func (m *Metrics) IncrementUserAdminOp(op string) {
	if m == nil {
		return
	}
	m.UserAdminOps.WithLabelValues(op).Inc()
}

func (m *Metrics) AddActivityIngested(n int) {
	if m == nil {
		return
	}
	m.ActivityIngested.Add(float64(n))
}

func (m *Metrics) AddActivityDropped(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ActivityDropped.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) AddActivityReaped(n int) {
	if m == nil {
		return
	}
	m.ActivityReaped.Add(float64(n))
}
