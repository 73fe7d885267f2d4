// Package metrics holds the Prometheus collectors for routing and connection activity.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes counters for routing decisions and connection lifecycle events.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	resolutions *prometheus.CounterVec
	identities  *prometheus.CounterVec
	connEvents  *prometheus.CounterVec
	locks       prometheus.Counter
}

// MustNewMetrics registers the collectors with reg (the default registerer
// when nil). Collectors already registered under the same name are reused.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edugate",
			Subsystem: "routing",
			Name:      "resolutions_total",
			Help:      "Inbound messages by tenant resolution source.",
		}, []string{"source"}),
		identities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edugate",
			Subsystem: "routing",
			Name:      "identity_total",
			Help:      "Inbound messages by identity resolution source.",
		}, []string{"source"}),
		connEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edugate",
			Subsystem: "connection",
			Name:      "events_total",
			Help:      "Connection events published, by type.",
		}, []string{"type"}),
		locks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "edugate",
			Subsystem: "connection",
			Name:      "locks_total",
			Help:      "Times a tenant connection entered the locked state.",
		}),
	}
	m.resolutions = mustRegister(reg, m.resolutions)
	m.identities = mustRegister(reg, m.identities)
	m.connEvents = mustRegister(reg, m.connEvents)
	m.locks = mustRegister(reg, m.locks)
	return m
}

func mustRegister[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// TenantResolved counts a tenant resolution; source is empty when unresolved.
func (m *Metrics) TenantResolved(source string) {
	if m == nil {
		return
	}
	if source == "" {
		source = "unresolved"
	}
	m.resolutions.WithLabelValues(source).Inc()
}

// IdentityResolved counts an identity resolution by source.
func (m *Metrics) IdentityResolved(source string) {
	if m == nil {
		return
	}
	m.identities.WithLabelValues(source).Inc()
}

// ConnectionEvent counts a published connection event.
func (m *Metrics) ConnectionEvent(eventType string) {
	if m == nil {
		return
	}
	m.connEvents.WithLabelValues(eventType).Inc()
}

// ConnectionLocked counts a transition into the locked state.
func (m *Metrics) ConnectionLocked() {
	if m == nil {
		return
	}
	m.locks.Inc()
}
