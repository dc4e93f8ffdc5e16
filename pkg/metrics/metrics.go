// Package metrics exposes the Prometheus metrics of the REST cache.
// All metrics are defined in their respective packages (cache, gateway,
// upstream) to maintain modularity and avoid circular dependencies.
//
// This package provides the scrape handler and documentation for all
// available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer every package registers its metrics with
// through promauto.
var Registry = prometheus.DefaultRegisterer

// Handler returns the /metrics scrape handler for Registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Gateway Metrics (pkg/gateway):
//   - rest_cache_requests_total{route, status} (Counter): Requests by cache status
//     (hit, not_modified, miss, hitpass, error)
//   - rest_cache_backend_duration_seconds{route} (Histogram): Backend invocation duration
//   - rest_cache_store_read_failures_total{store} (Counter): Failed reads served as a miss
//   - rest_cache_store_writes_total{store, result} (Counter): Background writes by result
//
// Store Metrics (pkg/cache):
//   - rest_cache_store_hits_total{layer} (Counter): Store hits by layer (redis, sqlite, memory)
//   - rest_cache_store_misses_total{layer} (Counter): Absent or expired keys
//   - rest_cache_store_errors_total{layer, operation} (Counter): Store operation errors
//   - rest_cache_store_written_bytes_total{layer} (Counter): Bytes written
//
// Upstream Metrics (pkg/upstream):
//   - rest_cache_upstream_requests_total{method, status} (Counter): Origin requests by status
//   - rest_cache_upstream_request_duration_seconds{method} (Histogram): Origin request duration
//   - rest_cache_upstream_errors_total{class} (Counter): Errors by class (client, server, network)
//   - rest_cache_upstream_retries_total{error_class} (Counter): Retry attempts
//   - rest_cache_upstream_retry_backoff_seconds{error_class} (Histogram): Backoff durations
//   - rest_cache_upstream_retry_exhausted_total{error_class} (Counter): Exhausted retries
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(rest_cache_requests_total{status=~"hit|not_modified"}[5m])) /
//   sum(rate(rest_cache_requests_total{status!="hitpass"}[5m]))
//
//   # Write Failure Rate
//   rate(rest_cache_store_writes_total{result="error"}[5m])
//
//   # P95 Backend Latency
//   histogram_quantile(0.95, rate(rest_cache_backend_duration_seconds_bucket[5m]))
