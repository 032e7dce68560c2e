package audit

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the audit trail.
type Metrics struct {
	eventsTotal *prometheus.CounterVec
	registry    *prometheus.Registry
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "avaccess"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "events_total",
			Help:      "Total number of audit events",
		},
		[]string{"type", "action", "outcome"},
	)

	m.registry.MustRegister(m.eventsTotal)

	return m
}

// RecordEvent records a written audit event.
func (m *Metrics) RecordEvent(eventType, action, outcome string) {
	m.eventsTotal.WithLabelValues(eventType, action, outcome).Inc()
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// MustRegister registers the metrics with the given registry. Duplicate
// registration from provider recreation is ignored.
func (m *Metrics) MustRegister(registry *prometheus.Registry) {
	if err := registry.Register(m.eventsTotal); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			panic(err)
		}
	}
}
