// Package cache provides the in-process query cache used by the task sync engine.
//
// The store holds one Entry per Key and supports:
//
// - Hierarchical keys with prefix matching for bulk invalidation
// - Atomic multi-key batches (optimistic patches, commits, rollbacks)
// - Stale-while-revalidate metadata (LastUpdated, StaleAt)
// - Latest-value subscriptions for observers
// - Garbage collection of unobserved entries
// - Prometheus metrics for observability
//
// # Basic Usage
//
//	store := cache.NewStore()
//
//	key := cache.K("tasks", "list")
//
//	store.Set(key, func(e cache.Entry) cache.Entry {
//		e.Data = tasks
//		e.Status = cache.StatusSuccess
//		e.LastUpdated = time.Now()
//		e.StaleAt = e.LastUpdated.Add(5 * time.Minute)
//		return e
//	})
//
//	entry, ok := store.Get(key)
//
// # Invalidation
//
//	// Every key under tasks:list becomes stale; data stays servable
//	store.Invalidate(cache.MatchPrefix(cache.K("tasks", "list")))
//
// # Batches
//
//	store.Batch(func(tx *cache.Tx) {
//		tx.Set(listKey, patchList)
//		tx.Set(detailKey, patchDetail)
//	})
//
// Observers of both keys see the two writes together or not at all.
//
// # Metrics
//
// The store exports Prometheus metrics:
//
//   - tasksync_cache_entries - Current entries
//   - tasksync_cache_lookups_total{result} - Get hits and misses
//   - tasksync_cache_invalidations_total - Entries marked stale
//   - tasksync_cache_collected_total - Entries garbage collected
//   - tasksync_cache_subscriptions - Open subscriptions
package cache
