package gate

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the authorization gate.
type Metrics struct {
	authorizeTotal    *prometheus.CounterVec
	authorizeDuration *prometheus.HistogramVec
	registry          *prometheus.Registry
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "avaccess"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.authorizeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "authorize_total",
			Help:      "Total number of authorization checks",
		},
		[]string{"outcome"},
	)

	m.authorizeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "authorize_duration_seconds",
			Help:      "Authorization check duration in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"outcome"},
	)

	m.registry.MustRegister(
		m.authorizeTotal,
		m.authorizeDuration,
	)

	return m
}

// RecordAuthorize records an authorization check.
func (m *Metrics) RecordAuthorize(outcome string, duration time.Duration) {
	m.authorizeTotal.WithLabelValues(outcome).Inc()
	m.authorizeDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// MustRegister registers the metrics with the given registry. Duplicate
// registration from provider recreation is ignored.
func (m *Metrics) MustRegister(registry *prometheus.Registry) {
	for _, c := range []prometheus.Collector{
		m.authorizeTotal,
		m.authorizeDuration,
	} {
		if err := registry.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}
