// Package metrics holds the Prometheus collectors exported on /metrics.
// Collectors register themselves with the default registry through promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "library_http_requests_total",
			Help: "HTTP requests by method, route pattern and status code",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "library_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route pattern",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "route"},
	)

	// Borrow lifecycle
	LoanTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "library_loan_transitions_total",
			Help: "Committed borrow lifecycle transitions",
		},
		[]string{"transition"},
	)

	// Mirror
	MirrorDocuments = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "library_mirror_documents",
			Help: "Documents held by the in-memory mirror per collection",
		},
		[]string{"collection"},
	)

	MirrorRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "library_mirror_refreshes_total",
			Help: "Mirror reloads from the store by result",
		},
		[]string{"result"},
	)

	// Store
	StoreConflictRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "library_store_conflict_retries_total",
			Help: "Transactions re-run after an optimistic write conflict",
		},
		[]string{"backend"},
	)

	// Events
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "library_events_published_total",
			Help: "Domain events published by topic",
		},
		[]string{"topic"},
	)

	// Circuit breaker around the recommendation source
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "library_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "library_circuit_breaker_requests_total",
			Help: "Requests through a circuit breaker by result",
		},
		[]string{"name", "result"},
	)
)
