package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for gateway decisions.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rest_cache_requests_total",
		Help: "Total requests handled by the cache gateway by route and cache status",
	}, []string{"route", "status"}) // "hit", "not_modified", "miss", "hitpass", "error"

	backendDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rest_cache_backend_duration_seconds",
		Help:    "Backend invocation duration in seconds by route",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	}, []string{"route"})

	storeReadFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rest_cache_store_read_failures_total",
		Help: "Store reads that failed and were treated as a miss",
	}, []string{"store"}) // "response", "etag"

	storeWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rest_cache_store_writes_total",
		Help: "Background store writes by store and result",
	}, []string{"store", "result"}) // "ok", "error"
)
