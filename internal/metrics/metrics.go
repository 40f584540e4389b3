// Package metrics exposes Prometheus instrumentation shared by the edge
// services.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts handled requests by route and status class.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_requests_total",
			Help: "Total number of handled requests",
		},
		[]string{"route", "status"},
	)

	// RequestDuration observes request handling latency.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "edge_request_duration_seconds",
			Help:    "Request handling duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"route"},
	)

	// RateLimitDecisions counts rate limit verdicts by scope.
	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_ratelimit_decisions_total",
			Help: "Rate limit admission decisions",
		},
		[]string{"scope", "decision"},
	)

	// AuthFailures counts rejected credentials.
	AuthFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "edge_auth_failures_total",
			Help: "Requests rejected for missing or invalid credentials",
		},
	)

	// UpstreamErrors counts upstream forwarding failures by target.
	UpstreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_upstream_errors_total",
			Help: "Forwarded requests that failed at the upstream",
		},
		[]string{"target"},
	)

	// EventsPublished counts published lifecycle events by topic.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_events_published_total",
			Help: "Lifecycle events published to the bus",
		},
		[]string{"topic"},
	)

	// EventsHandled counts consumed lifecycle events by topic and outcome.
	EventsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_events_handled_total",
			Help: "Lifecycle events handled by consumers",
		},
		[]string{"topic", "outcome"},
	)

	// EventsPoisoned counts events dropped to the poison topic.
	EventsPoisoned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_events_poisoned_total",
			Help: "Events routed to the poison topic after exhausting retries",
		},
		[]string{"topic"},
	)

	// CacheOps counts read-path cache operations by outcome.
	CacheOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_cache_operations_total",
			Help: "Read-path cache operations",
		},
		[]string{"operation"},
	)
)

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
