// Package metrics is the reference for every Prometheus metric the sitecache
// packages export. Collectors are defined in their own packages (store, cache,
// ratelimit, invalidate) and registered via promauto, which keeps this package
// free of dependencies on them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the sitecache packages.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler serves the default registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Store Metrics (pkg/store):
//   - sitecache_store_events_total{event} (Counter): Connection lifecycle events
//     (connect, ready, reconnecting, error, closed)
//   - sitecache_store_errors_total{operation, class} (Counter): Accessor failures
//     turned into safe defaults, by class (connection, operation, serialization)
//   - sitecache_store_connect_attempts (Gauge): Handshakes used by the last connect cycle
//
// Cache Metrics (pkg/cache):
//   - sitecache_cache_hits_total{layer} (Counter): Hits by layer (redis, inflight)
//   - sitecache_cache_misses_total (Counter): Misses that triggered a fetch
//   - sitecache_cache_fetch_duration_seconds (Histogram): Upstream fetch latency
//   - sitecache_cache_errors_total{operation} (Counter): Fetch, write-through and type errors
//
// Rate Limit Metrics (pkg/ratelimit):
//   - sitecache_ratelimit_decisions_total{decision} (Counter): allowed, denied,
//     fail_open, fail_closed
//   - sitecache_ratelimit_resets_total (Counter): Window keys deleted by Reset/BatchReset
//
// Invalidation Metrics (pkg/invalidate):
//   - sitecache_cache_keys{namespace} (Gauge): Key counts at the last statistics run
//   - sitecache_invalidated_keys_total{group} (Counter): Keys deleted by bulk invalidation
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate (remote layer)
//   sum(rate(sitecache_cache_hits_total{layer="redis"}[5m])) /
//   (sum(rate(sitecache_cache_hits_total{layer="redis"}[5m])) + sum(rate(sitecache_cache_misses_total[5m])))
//
//   # Requests admitted without a store decision
//   rate(sitecache_ratelimit_decisions_total{decision="fail_open"}[5m])
//
//   # Store connectivity problems
//   rate(sitecache_store_errors_total{class="connection"}[5m])
//
//   # P95 Upstream Fetch Latency
//   histogram_quantile(0.95, rate(sitecache_cache_fetch_duration_seconds_bucket[5m]))
