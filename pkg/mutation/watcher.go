package mutation

import (
	"sync"

	"github.com/Sternrassler/tasksync/pkg/cache"
)

// Event is one lifecycle transition of a mutation attempt.
type Event struct {
	ID    uint64
	Name  string
	State State
	Err   error
	Keys  []cache.Key
}

// Watcher receives lifecycle events for every mutation on a coordinator.
// Events are dropped, not queued, when C's buffer is full.
type Watcher struct {
	C <-chan Event

	ch   chan Event
	c    *Coordinator
	once sync.Once
}

// Subscribe registers a watcher with the given buffer size.
func (c *Coordinator) Subscribe(buffer int) *Watcher {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	w := &Watcher{C: ch, ch: ch, c: c}

	c.mu.Lock()
	c.watchers[w] = struct{}{}
	c.mu.Unlock()
	return w
}

// Close unregisters the watcher and closes C.
func (w *Watcher) Close() {
	w.once.Do(func() {
		w.c.mu.Lock()
		defer w.c.mu.Unlock()
		delete(w.c.watchers, w)
		close(w.ch)
	})
}

func (c *Coordinator) emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for w := range c.watchers {
		select {
		case w.ch <- ev:
		default:
			watcherDroppedTotal.Inc()
		}
	}
}
