package decision

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics disables
// instrumentation; all record methods are nil-safe.
type Metrics struct {
	evaluationsTotal   *prometheus.CounterVec
	firedTotal         *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	stepsTotal         *prometheus.CounterVec
	auditFailuresTotal prometheus.Counter
}

// NewMetrics creates and registers the engine metrics. registerer may be
// prometheus.DefaultRegisterer; nil returns nil (metrics disabled).
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		return nil
	}

	m := &Metrics{
		evaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "verdict",
			Subsystem: "engine",
			Name:      "evaluations_total",
			Help:      "Rule evaluations performed, by decision",
		}, []string{"rule_name", "decision"}),

		firedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "verdict",
			Subsystem: "engine",
			Name:      "fired_total",
			Help:      "Rules fired, by execution disposition",
		}, []string{"rule_name", "status"}),

		evaluationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "verdict",
			Subsystem: "engine",
			Name:      "evaluation_duration_seconds",
			Help:      "Time spent evaluating individual rules",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"rule_name"}),

		stepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "verdict",
			Subsystem: "engine",
			Name:      "plan_steps_total",
			Help:      "Execution plan steps dispatched, by action type and result",
		}, []string{"action_type", "result"}),

		auditFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "verdict",
			Subsystem: "engine",
			Name:      "audit_write_failures_total",
			Help:      "Decision log writes that failed after retries",
		}),
	}

	registerer.MustRegister(
		m.evaluationsTotal,
		m.firedTotal,
		m.evaluationDuration,
		m.stepsTotal,
		m.auditFailuresTotal,
	)
	return m
}

func (m *Metrics) observeEvaluation(ruleName, decision string, d time.Duration) {
	if m == nil {
		return
	}
	m.evaluationsTotal.WithLabelValues(ruleName, decision).Inc()
	m.evaluationDuration.WithLabelValues(ruleName).Observe(d.Seconds())
}

func (m *Metrics) observeFired(ruleName, status string) {
	if m == nil {
		return
	}
	m.firedTotal.WithLabelValues(ruleName, status).Inc()
}

func (m *Metrics) observeSteps(outcome *ExecutionOutcome) {
	if m == nil || outcome == nil {
		return
	}
	for _, s := range outcome.Steps {
		result := "success"
		if !s.Success {
			result = "failure"
		}
		m.stepsTotal.WithLabelValues(s.ActionType, result).Inc()
	}
}

func (m *Metrics) observeAuditFailure() {
	if m == nil {
		return
	}
	m.auditFailuresTotal.Inc()
}
