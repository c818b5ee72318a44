// Package metrics provides the Prometheus registry and HTTP handler for
// tasksync. All metrics are defined in their respective packages (cache,
// query, mutation, taskapi, connectivity, storage, persist) to maintain
// modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by tasksync.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer reads back what Registry collects.
var Gatherer = prometheus.DefaultGatherer

// Handler serves every registered metric in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{Registry: Registry})
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - tasksync_cache_entries (Gauge): Current number of query cache entries
//   - tasksync_cache_lookups_total{result} (Counter): Lookups by result (hit, miss)
//   - tasksync_cache_invalidations_total (Counter): Entries marked stale
//   - tasksync_cache_collected_total (Counter): Unobserved entries garbage collected
//   - tasksync_cache_subscriptions (Gauge): Open cache subscriptions
//
// Query Metrics (pkg/query):
//   - tasksync_query_fetches_total{result} (Counter): Fetches by result (success, error, discarded)
//   - tasksync_query_fetch_dedup_total (Counter): Calls attached to an in-flight fetch
//   - tasksync_query_fetch_duration_seconds (Histogram): Fetcher duration
//   - tasksync_query_inflight (Gauge): In-flight fetches
//   - tasksync_query_triggers_total{trigger} (Counter): Refetch triggers (focus, reconnect, invalidate)
//
// Mutation Metrics (pkg/mutation):
//   - tasksync_mutations_total{name, outcome} (Counter): Outcomes (invalid, conflict, rolled_back, committed)
//   - tasksync_mutation_duration_seconds{name} (Histogram): Applying to terminal state
//   - tasksync_mutation_conflicts_total{name} (Counter): Mutations queued behind an overlapping one
//   - tasksync_mutations_applying (Gauge): Mutations currently Applying
//   - tasksync_mutation_events_dropped_total (Counter): Lifecycle events dropped by full watchers
//
// Request Metrics (pkg/taskapi):
//   - tasksync_api_requests_total{route, status} (Counter): Requests by route and HTTP status
//   - tasksync_api_request_duration_seconds{route} (Histogram): Request duration by route
//   - tasksync_api_errors_total{kind} (Counter): Errors by kind (network, server, validation, not_found, conflict)
//   - tasksync_api_conditional_requests_total (Counter): List requests sent with validators
//   - tasksync_api_not_modified_total (Counter): 304 responses answered from the last list body
//
// Retry Metrics (pkg/taskapi):
//   - tasksync_api_retries_total{kind} (Counter): Retry attempts by error kind
//   - tasksync_api_retry_backoff_seconds{kind} (Histogram): Backoff duration by error kind
//   - tasksync_api_retry_exhausted_total{kind} (Counter): Requests that exhausted their attempts
//
// Connectivity Metrics (pkg/connectivity):
//   - tasksync_online (Gauge): 1 while the task API is reachable
//   - tasksync_connectivity_transitions_total{state} (Counter): Transitions by new state
//   - tasksync_connectivity_probes_total{result} (Counter): Reachability probes by result
//
// Storage Metrics (pkg/storage, pkg/persist):
//   - tasksync_storage_operations_total{backend, operation} (Counter): Load/save/remove calls
//   - tasksync_storage_errors_total{backend, operation} (Counter): Failed storage calls
//   - tasksync_storage_blob_bytes{backend, namespace} (Gauge): Size of the last saved blob
//   - tasksync_persist_entries_total{operation} (Counter): Entries persisted or hydrated
//   - tasksync_persist_skipped_total{reason} (Counter): Persisted entries ignored on hydrate
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(tasksync_cache_lookups_total{result="hit"}[5m])) /
//   sum(rate(tasksync_cache_lookups_total[5m]))
//
//   # Rollback Ratio
//   sum(rate(tasksync_mutations_total{outcome="rolled_back"}[5m])) /
//   sum(rate(tasksync_mutations_total[5m]))
//
//   # Offline
//   tasksync_online == 0
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(tasksync_api_request_duration_seconds_bucket[5m]))
//
//   # 304 Response Rate
//   rate(tasksync_api_not_modified_total[5m]) / rate(tasksync_api_requests_total{route="/tasks"}[5m])
