package cache

import (
	"sort"
	"sync"
	"time"
)

// Store holds the current materialized value and metadata for each query key.
// It is a pure mapping: no networking or validation logic lives here.
//
// All mutating operations go through Batch so that several keys can change
// as one unit. Observers never run under the store lock; they are fed via
// Subscription channels.
type Store struct {
	mu        sync.RWMutex
	entries   map[string]Entry
	observers map[string]*observerSet
	now       func() time.Time
}

type observerSet struct {
	key  Key
	subs map[*Subscription]struct{}
}

// NewStore creates an empty cache store.
func NewStore() *Store {
	return &Store{
		entries:   make(map[string]Entry),
		observers: make(map[string]*observerSet),
		now:       time.Now,
	}
}

// SetClock sets the time source (for testing).
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Now returns the store's current time.
func (s *Store) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now()
}

// Get retrieves the entry for key. It has no side effects.
func (s *Store) Get(key Key) (Entry, bool) {
	s.mu.RLock()
	e, ok := s.entries[key.String()]
	s.mu.RUnlock()

	if ok {
		CacheLookups.WithLabelValues("hit").Inc()
	} else {
		CacheLookups.WithLabelValues("miss").Inc()
	}
	return e, ok
}

// Set replaces the entry for key with updater's result. When no entry
// exists, updater receives a default Idle entry. Concurrent Set calls on the
// same key are serialized; the last call wins.
func (s *Store) Set(key Key, updater func(Entry) Entry) Entry {
	var out Entry
	s.Batch(func(tx *Tx) {
		out = tx.Set(key, updater)
	})
	return out
}

// Remove deletes the entry for key.
func (s *Store) Remove(key Key) {
	s.Batch(func(tx *Tx) {
		tx.Remove(key)
	})
}

// Invalidate marks every matching entry immediately stale without clearing
// its data. It returns the matched keys; callers combine this with a refetch.
func (s *Store) Invalidate(pred Predicate) []Key {
	var keys []Key
	s.Batch(func(tx *Tx) {
		keys = tx.Keys(pred)
		for _, k := range keys {
			tx.Set(k, func(e Entry) Entry {
				e.StaleAt = tx.now
				return e
			})
		}
	})
	CacheInvalidations.Add(float64(len(keys)))
	return keys
}

// Keys returns the keys of all entries matching pred, in canonical order.
func (s *Store) Keys(pred Predicate) []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keysLocked(pred)
}

// Entries returns a copy of every entry, in canonical key order.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Entry, len(ids))
	for i, id := range ids {
		out[i] = s.entries[id]
	}
	return out
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Batch runs fn with exclusive access to the store. Every change made through
// the Tx becomes visible at once, and observers are notified after fn returns.
// fn must not call back into the Store.
func (s *Store) Batch(fn func(tx *Tx)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Tx{store: s, now: s.now(), touched: make(map[string]struct{})}
	fn(tx)

	for id := range tx.touched {
		set, ok := s.observers[id]
		if !ok {
			continue
		}
		e, exists := s.entries[id]
		if !exists {
			e = Entry{Key: set.key}
		}
		for sub := range set.subs {
			sub.offer(e)
		}
	}
}

// Collect removes entries that have no observers, no fetch in flight, were
// last updated before cutoff and are not matched by keep (which may be nil).
func (s *Store) Collect(cutoff time.Time, keep Predicate) []Key {
	var removed []Key
	s.Batch(func(tx *Tx) {
		for id, e := range s.entries {
			if _, observed := s.observers[id]; observed {
				continue
			}
			if e.Status == StatusFetching || !e.LastUpdated.Before(cutoff) {
				continue
			}
			if keep != nil && keep(e.Key) {
				continue
			}
			tx.Remove(e.Key)
			removed = append(removed, e.Key)
		}
	})
	CacheCollected.Add(float64(len(removed)))
	return removed
}

func (s *Store) keysLocked(pred Predicate) []Key {
	ids := make([]string, 0, len(s.entries))
	for id, e := range s.entries {
		if pred == nil || pred(e.Key) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	keys := make([]Key, len(ids))
	for i, id := range ids {
		keys[i] = s.entries[id].Key
	}
	return keys
}

// Tx is a view of the store inside Batch.
type Tx struct {
	store   *Store
	now     time.Time
	touched map[string]struct{}
}

// Now returns the time the batch started.
func (tx *Tx) Now() time.Time {
	return tx.now
}

// Get retrieves the entry for key, including writes made earlier in the batch.
func (tx *Tx) Get(key Key) (Entry, bool) {
	e, ok := tx.store.entries[key.String()]
	return e, ok
}

// Set replaces the entry for key with updater's result.
func (tx *Tx) Set(key Key, updater func(Entry) Entry) Entry {
	id := key.String()
	e, ok := tx.store.entries[id]
	if !ok {
		e = Entry{Key: key, Status: StatusIdle}
		CacheEntries.Inc()
	}

	e = updater(e)
	e.Key = key
	if e.StaleAt.Before(e.LastUpdated) {
		e.StaleAt = e.LastUpdated
	}

	tx.store.entries[id] = e
	tx.touched[id] = struct{}{}
	return e
}

// Put stores e under e.Key verbatim, apart from the StaleAt clamp.
func (tx *Tx) Put(e Entry) {
	tx.Set(e.Key, func(Entry) Entry { return e })
}

// Remove deletes the entry for key.
func (tx *Tx) Remove(key Key) {
	id := key.String()
	if _, ok := tx.store.entries[id]; !ok {
		return
	}
	delete(tx.store.entries, id)
	tx.touched[id] = struct{}{}
	CacheEntries.Dec()
}

// Keys returns the keys of all entries matching pred, in canonical order.
func (tx *Tx) Keys(pred Predicate) []Key {
	return tx.store.keysLocked(pred)
}
