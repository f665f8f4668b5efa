// Package metrics exposes reconciliation counters as Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relance"

// Pass outcomes recorded by Recorder.Pass.
const (
	OutcomeApplied        = "applied"
	OutcomeDisabled       = "disabled"
	OutcomeTenantDisabled = "tenant_disabled"
	OutcomeDebounced      = "debounced"
	OutcomeSelfTriggered  = "self_triggered"
	OutcomeFetchFailed    = "fetch_failed"
	OutcomeTenantMismatch = "tenant_mismatch"
	OutcomePartialFailure = "partial_failure"
)

// Recorder receives engine events. The engine depends on this interface
// only; Nop discards everything.
type Recorder interface {
	Pass(outcome string, elapsed time.Duration)
	TaskCreated(ruleID string)
	TaskCompleted(ruleID string)
	RuleError(ruleID, op string)
	GuardEntries(n int)
}

// Nop is a Recorder that records nothing.
type Nop struct{}

func (Nop) Pass(string, time.Duration) {}
func (Nop) TaskCreated(string)         {}
func (Nop) TaskCompleted(string)       {}
func (Nop) RuleError(string, string)   {}
func (Nop) GuardEntries(int)           {}

// Metrics is the Prometheus-backed Recorder.
type Metrics struct {
	registry *prometheus.Registry

	passes         *prometheus.CounterVec
	passDuration   prometheus.Histogram
	tasksCreated   *prometheus.CounterVec
	tasksCompleted *prometheus.CounterVec
	ruleErrors     *prometheus.CounterVec
	guardEntries   prometheus.Gauge
}

// New creates the collectors and registers them on a private registry,
// together with the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_total",
			Help:      "Reconciliation passes by outcome.",
		}, []string{"outcome"}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Duration of reconciliation passes that reached the rule loop.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		tasksCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_created_total",
			Help:      "Automatic tasks created, by rule.",
		}, []string{"rule"}),
		tasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_completed_total",
			Help:      "Automatic tasks completed by the engine, by rule.",
		}, []string{"rule"}),
		ruleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_errors_total",
			Help:      "Per-rule mutation failures, by rule and operation.",
		}, []string{"rule", "op"}),
		guardEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "debounce_entries",
			Help:      "Entities currently tracked by the debounce guard.",
		}),
	}

	m.registry.MustRegister(
		m.passes,
		m.passDuration,
		m.tasksCreated,
		m.tasksCompleted,
		m.ruleErrors,
		m.guardEntries,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Pass counts one pass. Only applied and partially failed passes carry a
// meaningful duration.
func (m *Metrics) Pass(outcome string, elapsed time.Duration) {
	m.passes.WithLabelValues(outcome).Inc()
	if outcome == OutcomeApplied || outcome == OutcomePartialFailure {
		m.passDuration.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) TaskCreated(ruleID string) {
	m.tasksCreated.WithLabelValues(ruleID).Inc()
}

func (m *Metrics) TaskCompleted(ruleID string) {
	m.tasksCompleted.WithLabelValues(ruleID).Inc()
}

func (m *Metrics) RuleError(ruleID, op string) {
	m.ruleErrors.WithLabelValues(ruleID, op).Inc()
}

func (m *Metrics) GuardEntries(n int) {
	m.guardEntries.Set(float64(n))
}

// Registry returns the registry holding all collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
