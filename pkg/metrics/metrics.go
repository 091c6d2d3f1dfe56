// Package metrics holds the Prometheus collectors of the routing service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "turn_router"

var (
	RouteRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "route_requests_total",
		Help:      "Route requests by outcome",
	}, []string{"outcome"})

	RouteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "route_duration_seconds",
		Help:      "Time spent answering a route request",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	})

	SearchSettled = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "turn_query_settled",
		Help:      "Entries settled per turn query",
		Buckets:   prometheus.ExponentialBuckets(16, 4, 8),
	})

	UnpackedEdges = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "route_unpacked_edges",
		Help:      "Original edges in an unpacked route",
		Buckets:   prometheus.ExponentialBuckets(4, 4, 7),
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route pattern and status",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	Rejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_rejected_total",
		Help:      "Requests turned away by the concurrency limiter",
	})
)

// Handler exposes the default registry.
func Handler() http.Handler { return promhttp.Handler() }
