package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheEntries tracks the number of entries held by all stores
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tasksync_cache_entries",
			Help: "Current number of query cache entries",
		},
	)

	// CacheLookups tracks Get calls by result
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasksync_cache_lookups_total",
			Help: "Total number of query cache lookups",
		},
		[]string{"result"}, // "hit", "miss"
	)

	// CacheInvalidations tracks entries marked stale by Invalidate
	CacheInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tasksync_cache_invalidations_total",
			Help: "Total number of cache entries invalidated",
		},
	)

	// CacheCollected tracks entries removed by garbage collection
	CacheCollected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tasksync_cache_collected_total",
			Help: "Total number of unobserved cache entries garbage collected",
		},
	)

	// CacheSubscriptions tracks open observer subscriptions
	CacheSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tasksync_cache_subscriptions",
			Help: "Current number of open cache subscriptions",
		},
	)
)
