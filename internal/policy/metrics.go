package policy

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for policy evaluation.
type Metrics struct {
	evaluationTotal    *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	conditionErrors    prometheus.Counter
	seedReloads        *prometheus.CounterVec
	policyCount        prometheus.Gauge
	registry           *prometheus.Registry
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "avaccess"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.evaluationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "policy",
			Name:      "evaluation_total",
			Help:      "Total number of policy evaluations",
		},
		[]string{"decision"},
	)

	m.evaluationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "policy",
			Name:      "evaluation_duration_seconds",
			Help:      "Policy evaluation duration in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"decision"},
	)

	m.conditionErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "policy",
			Name:      "condition_errors_total",
			Help:      "Total number of condition evaluation errors treated as non-match",
		},
	)

	m.seedReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "policy",
			Name:      "seed_reloads_total",
			Help:      "Total number of seed file load attempts",
		},
		[]string{"status"},
	)

	m.policyCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "policy",
			Name:      "policies",
			Help:      "Number of policies currently in the store",
		},
	)

	m.registry.MustRegister(
		m.evaluationTotal,
		m.evaluationDuration,
		m.conditionErrors,
		m.seedReloads,
		m.policyCount,
	)

	return m
}

// RecordEvaluation records a policy evaluation.
func (m *Metrics) RecordEvaluation(decision string, duration time.Duration) {
	m.evaluationTotal.WithLabelValues(decision).Inc()
	m.evaluationDuration.WithLabelValues(decision).Observe(duration.Seconds())
}

// RecordConditionError records a condition evaluation error.
func (m *Metrics) RecordConditionError() {
	m.conditionErrors.Inc()
}

// RecordSeedReload records a seed file load attempt.
func (m *Metrics) RecordSeedReload(status string) {
	m.seedReloads.WithLabelValues(status).Inc()
}

// SetPolicyCount sets the number of policies in the store.
func (m *Metrics) SetPolicyCount(n int) {
	m.policyCount.Set(float64(n))
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// MustRegister registers the metrics with the given registry. Duplicate
// registration from provider recreation is ignored.
func (m *Metrics) MustRegister(registry *prometheus.Registry) {
	for _, c := range []prometheus.Collector{
		m.evaluationTotal,
		m.evaluationDuration,
		m.conditionErrors,
		m.seedReloads,
		m.policyCount,
	} {
		if err := registry.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}
