// Package metrics holds the prometheus collectors exposed on /metrics in server mode
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreMutations counts field store mutations by operation
	StoreMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "field_mapper",
		Name:      "store_mutations_total",
		Help:      "Field store mutations by operation.",
	}, []string{"op"})

	// PersistFailures counts failed writes of the field collection to its backend
	PersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "field_mapper",
		Name:      "persist_failures_total",
		Help:      "Failed writes of the field collection to the storage backend.",
	})

	// Renders counts page renders by result (ok, stale, error, cached)
	Renders = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "field_mapper",
		Name:      "renders_total",
		Help:      "Page renders by result.",
	}, []string{"result"})

	// Imports counts field map imports by result (ok, rejected)
	Imports = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "field_mapper",
		Name:      "imports_total",
		Help:      "Field map imports by result.",
	}, []string{"result"})

	// Fills counts template fills by result (ok, error)
	Fills = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "field_mapper",
		Name:      "template_fills_total",
		Help:      "PDF template fills by result.",
	}, []string{"result"})

	// HTTPRequests counts HTTP requests by method, route pattern and status code
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "field_mapper",
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "code"})

	// HTTPDuration observes HTTP request latency by method and route pattern
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "field_mapper",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"method", "route"})
)
