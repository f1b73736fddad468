// Package metrics exposes Prometheus counters for bot activity and remote
// service health. A nil *Metrics is valid and records nothing, so callers
// never need to guard their instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the collectors behind one private registry.
type Metrics struct {
	registry *prometheus.Registry

	events         *prometheus.CounterVec
	searches       *prometheus.CounterVec
	remoteRetries  prometheus.Counter
	remoteFailures *prometheus.CounterVec
}

// New creates a registry and registers all collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bookdlbot_events_total",
			Help: "Incoming chat events by kind.",
		}, []string{"kind"}),
		searches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bookdlbot_searches_total",
			Help: "Library searches by outcome.",
		}, []string{"outcome"}),
		remoteRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "bookdlbot_remote_retries_total",
			Help: "Remote call attempts that were retried after a transient failure.",
		}),
		remoteFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bookdlbot_remote_failures_total",
			Help: "Remote call failures by class after retries were exhausted.",
		}, []string{"class"}),
	}
}

// RecordEvent counts one incoming event (command, text, button).
func (m *Metrics) RecordEvent(kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind).Inc()
}

// RecordSearch counts one search by outcome (ok, empty, error).
func (m *Metrics) RecordSearch(outcome string) {
	if m == nil {
		return
	}
	m.searches.WithLabelValues(outcome).Inc()
}

// RecordRetry counts one retried remote attempt.
func (m *Metrics) RecordRetry() {
	if m == nil {
		return
	}
	m.remoteRetries.Inc()
}

// RecordRemoteFailure counts one exhausted remote call by failure class
// (connection, transient, fatal).
func (m *Metrics) RecordRemoteFailure(class string) {
	if m == nil {
		return
	}
	m.remoteFailures.WithLabelValues(class).Inc()
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
