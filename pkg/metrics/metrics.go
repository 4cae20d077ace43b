// Package metrics documents the Prometheus metrics of the export tools.
// Metrics are defined in their own packages (client, pagination, cache,
// ratelimit) and registered through promauto; the proxy serves them at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the registry the packages register with.
var Registry = prometheus.DefaultRegisterer

// Gatherer is what /metrics reads from.
var Gatherer = prometheus.DefaultGatherer

// Names lists every metric family defined by the module.
var Names = []string{
	"shop_call_limit_used",
	"shop_call_limit_throttles_total",
	"shop_call_limit_waits_total",
	"shop_cache_hits_total",
	"shop_cache_misses_total",
	"shop_cache_entry_bytes",
	"shop_cache_errors_total",
	"shop_requests_total",
	"shop_request_duration_seconds",
	"shop_errors_total",
	"shop_retries_total",
	"shop_retry_backoff_seconds",
	"shop_retry_exhausted_total",
	"shop_pages_fetched_total",
	"shop_fetch_sessions_total",
}

// Metrics Documentation
//
// Call Limit Metrics (pkg/ratelimit):
//   - shop_call_limit_used{shop} (Gauge): Calls in the leaky bucket as of the last response
//   - shop_call_limit_throttles_total (Counter): Requests delayed in the warning band
//   - shop_call_limit_waits_total (Counter): Requests held until the bucket drained
//
// Cache Metrics (pkg/cache):
//   - shop_cache_hits_total (Counter): Cache hits
//   - shop_cache_misses_total (Counter): Cache misses
//   - shop_cache_entry_bytes (Histogram): Size of stored entries
//   - shop_cache_errors_total{operation} (Counter): Cache operation errors
//
// Request Metrics (pkg/client):
//   - shop_requests_total{resource, status} (Counter): Requests by resource and HTTP status
//   - shop_request_duration_seconds{resource} (Histogram): Request duration by resource
//   - shop_errors_total{class} (Counter): Failed page reads by class
//
// Retry Metrics (pkg/client):
//   - shop_retries_total{error_class} (Counter): Retry attempts by error class
//   - shop_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - shop_retry_exhausted_total{error_class} (Counter): Pages that exhausted their attempts
//
// Pagination Metrics (pkg/pagination):
//   - shop_pages_fetched_total{resource} (Counter): Pages read
//   - shop_fetch_sessions_total{resource, status} (Counter): Sessions by final status
//
// Example Prometheus Queries:
//
//   # Partial listings
//   sum(rate(shop_fetch_sessions_total{status="partial"}[5m]))
//
//   # Cache Hit Rate
//   sum(rate(shop_cache_hits_total[5m])) /
//   (sum(rate(shop_cache_hits_total[5m])) + sum(rate(shop_cache_misses_total[5m])))
//
//   # Bucket close to full
//   shop_call_limit_used > 35
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(shop_request_duration_seconds_bucket[5m]))
