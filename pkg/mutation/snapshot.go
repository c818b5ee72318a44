package mutation

import "github.com/Sternrassler/tasksync/pkg/cache"

// snapshot is the mutation context: the entries under the affected keys
// before the optimistic patch. Keys that had no entry are recorded as absent.
type snapshot struct {
	scope   []cache.Key
	entries map[string]cache.Entry
	absent  map[string]cache.Key
}

func takeSnapshot(tx *cache.Tx, keys []cache.Key) *snapshot {
	s := &snapshot{
		scope:   keys,
		entries: make(map[string]cache.Entry),
		absent:  make(map[string]cache.Key),
	}

	for _, k := range keys {
		s.capture(tx, k)
	}
	for _, k := range tx.Keys(cache.MatchPrefix(keys...)) {
		s.capture(tx, k)
	}
	return s
}

func (s *snapshot) capture(tx *cache.Tx, k cache.Key) {
	id := k.String()
	if _, seen := s.entries[id]; seen {
		return
	}
	if e, ok := tx.Get(k); ok {
		s.entries[id] = e
		delete(s.absent, id)
		return
	}
	s.absent[id] = k
}

// restore puts every captured entry back verbatim and removes keys in scope
// that did not exist when the snapshot was taken.
//
// An entry captured while Fetching is restored verbatim only if a fetch
// still marks it Fetching. Otherwise that fetch ended while the mutation was
// applying, so the entry gets its pre-fetch status, is marked stale and its
// key is returned for refetching.
func (s *snapshot) restore(tx *cache.Tx) []cache.Key {
	for _, k := range tx.Keys(cache.MatchPrefix(s.scope...)) {
		if _, ok := s.entries[k.String()]; !ok {
			tx.Remove(k)
		}
	}
	for _, k := range s.absent {
		tx.Remove(k)
	}

	var orphaned []cache.Key
	for _, e := range s.entries {
		if e.Status == cache.StatusFetching {
			if cur, ok := tx.Get(e.Key); !ok || cur.Status != cache.StatusFetching {
				e.Status = cache.StatusIdle
				if e.HasData() {
					e.Status = cache.StatusSuccess
				}
				e.StaleAt = e.LastUpdated
				orphaned = append(orphaned, e.Key)
			}
		}
		tx.Put(e)
	}
	return orphaned
}

func (s *snapshot) len() int {
	return len(s.entries) + len(s.absent)
}
