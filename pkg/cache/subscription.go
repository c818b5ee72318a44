package cache

import "sync"

// Subscription delivers the latest entry for one key.
//
// C has a buffer of one and only ever holds the most recent entry, so a slow
// reader skips intermediate states rather than blocking writers. A removed
// entry is delivered as an Idle entry with no data. C is closed by Close.
type Subscription struct {
	C <-chan Entry

	ch    chan Entry
	key   Key
	store *Store
	once  sync.Once
}

// Subscribe starts observing key. If an entry already exists it is delivered
// immediately.
func (s *Store) Subscribe(key Key) *Subscription {
	ch := make(chan Entry, 1)
	sub := &Subscription{C: ch, ch: ch, key: key, store: s}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := key.String()
	set, ok := s.observers[id]
	if !ok {
		set = &observerSet{key: key, subs: make(map[*Subscription]struct{})}
		s.observers[id] = set
	}
	set.subs[sub] = struct{}{}
	CacheSubscriptions.Inc()

	if e, ok := s.entries[id]; ok {
		sub.offer(e)
	}
	return sub
}

// Key returns the observed key.
func (sub *Subscription) Key() Key {
	return sub.key
}

// Close stops the subscription and closes C. It is safe to call more than once.
func (sub *Subscription) Close() {
	sub.once.Do(func() {
		s := sub.store
		s.mu.Lock()
		defer s.mu.Unlock()

		id := sub.key.String()
		if set, ok := s.observers[id]; ok {
			delete(set.subs, sub)
			if len(set.subs) == 0 {
				delete(s.observers, id)
			}
		}
		CacheSubscriptions.Dec()
		close(sub.ch)
	})
}

// offer replaces any undelivered entry with e. Callers hold the store lock,
// so offers never race each other.
func (sub *Subscription) offer(e Entry) {
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- e:
	default:
	}
}

// ObserverCount returns the number of open subscriptions for key.
func (s *Store) ObserverCount(key Key) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if set, ok := s.observers[key.String()]; ok {
		return len(set.subs)
	}
	return 0
}

// Observed returns the keys matching pred that have at least one subscription.
func (s *Store) Observed(pred Predicate) []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []Key
	for _, set := range s.observers {
		if pred == nil || pred(set.key) {
			keys = append(keys, set.key)
		}
	}
	sortKeys(keys)
	return keys
}
