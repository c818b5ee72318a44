package query

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for query coordination.
var (
	queryFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tasksync_query_fetches_total",
		Help: "Total query fetches by result",
	}, []string{"result"}) // "success", "error", "discarded"

	queryFetchDedupTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tasksync_query_fetch_dedup_total",
		Help: "Total EnsureFresh calls attached to an in-flight fetch",
	})

	queryFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tasksync_query_fetch_duration_seconds",
		Help:    "Query fetcher duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	})

	queryInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tasksync_query_inflight",
		Help: "Current number of in-flight query fetches",
	})

	queryTriggersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tasksync_query_triggers_total",
		Help: "Total background refetch triggers by kind",
	}, []string{"trigger"}) // "focus", "reconnect", "invalidate"
)
