package token

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for token operations.
type Metrics struct {
	issueTotal      *prometheus.CounterVec
	issueDuration   *prometheus.HistogramVec
	verifyTotal     *prometheus.CounterVec
	verifyDuration  *prometheus.HistogramVec
	revokeTotal     *prometheus.CounterVec
	degradedLookups prometheus.Counter
	blacklistSize   prometheus.Gauge
	registry        *prometheus.Registry
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "avaccess"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.issueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "issue_total",
			Help:      "Total number of token issuance attempts",
		},
		[]string{"status", "algorithm"},
	)

	m.issueDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "issue_duration_seconds",
			Help:      "Token issuance duration in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"status", "algorithm"},
	)

	m.verifyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "verify_total",
			Help:      "Total number of token verification attempts",
		},
		[]string{"status", "algorithm"},
	)

	m.verifyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "verify_duration_seconds",
			Help:      "Token verification duration in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"status", "algorithm"},
	)

	m.revokeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "revoke_total",
			Help:      "Total number of token revocations",
		},
		[]string{"durable"},
	)

	m.degradedLookups = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "degraded_lookups_total",
			Help:      "Total number of verifications that skipped the durable revocation lookup",
		},
	)

	m.blacklistSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "blacklist_size",
			Help:      "Current number of entries in the in-memory blacklist",
		},
	)

	m.registry.MustRegister(
		m.issueTotal,
		m.issueDuration,
		m.verifyTotal,
		m.verifyDuration,
		m.revokeTotal,
		m.degradedLookups,
		m.blacklistSize,
	)

	return m
}

// RecordIssue records a token issuance attempt.
func (m *Metrics) RecordIssue(status, algorithm string, duration time.Duration) {
	m.issueTotal.WithLabelValues(status, algorithm).Inc()
	m.issueDuration.WithLabelValues(status, algorithm).Observe(duration.Seconds())
}

// RecordVerify records a token verification attempt.
func (m *Metrics) RecordVerify(status, algorithm string, duration time.Duration) {
	m.verifyTotal.WithLabelValues(status, algorithm).Inc()
	m.verifyDuration.WithLabelValues(status, algorithm).Observe(duration.Seconds())
}

// RecordRevoke records a revocation. durable reports whether the
// durable write succeeded.
func (m *Metrics) RecordRevoke(durable bool) {
	if durable {
		m.revokeTotal.WithLabelValues("true").Inc()
	} else {
		m.revokeTotal.WithLabelValues("false").Inc()
	}
}

// RecordDegradedLookup records a verification that skipped the durable
// revocation lookup.
func (m *Metrics) RecordDegradedLookup() {
	m.degradedLookups.Inc()
}

// SetBlacklistSize sets the current blacklist size.
func (m *Metrics) SetBlacklistSize(n int) {
	m.blacklistSize.Set(float64(n))
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// MustRegister registers the metrics with the given registry. Duplicate
// registration from provider recreation is ignored.
func (m *Metrics) MustRegister(registry *prometheus.Registry) {
	for _, c := range []prometheus.Collector{
		m.issueTotal,
		m.issueDuration,
		m.verifyTotal,
		m.verifyDuration,
		m.revokeTotal,
		m.degradedLookups,
		m.blacklistSize,
	} {
		if err := registry.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}
