// Package mutation applies optimistic cache writes around a remote operation
// and either commits the authoritative result or restores the cache exactly.
//
// Every mutation attempt moves through Idle -> Applying -> Committed or
// RolledBack. Mutations whose keys overlap (one key equal to or a prefix of
// another) are serialized in arrival order.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/tasksync/pkg/apierr"
	"github.com/Sternrassler/tasksync/pkg/cache"
	"github.com/Sternrassler/tasksync/pkg/logging"
	"github.com/rs/zerolog"
)

// State is the lifecycle state of one mutation attempt.
type State int

const (
	StateIdle State = iota
	StateApplying
	StateCommitted
	StateRolledBack
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateApplying:
		return "applying"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled_back"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateRolledBack
}

// Mutation describes one remote write and its cache effects.
type Mutation[T any] struct {
	// Name identifies the mutation in logs, metrics and events.
	Name string

	// Keys are the affected query keys. Each key also covers every cached
	// key below it. They are snapshotted, locked and invalidated.
	Keys []cache.Key

	// Validate rejects input before anything is written. Optional.
	Validate func() error

	// Optimistic patches the cache before Run. Optional.
	Optimistic func(tx *cache.Tx)

	// Run performs the remote operation. Required.
	Run func(ctx context.Context) (T, error)

	// Commit writes the authoritative result. It may touch keys outside
	// Keys. Optional.
	Commit func(tx *cache.Tx, result T)
}

// Queries is the part of the query coordinator a mutation needs.
type Queries interface {
	Cancel(pred cache.Predicate) []cache.Key
	InvalidateAndRefetch(pred cache.Predicate) []cache.Key
}

// Persister is called after every commit.
type Persister interface {
	Persist(ctx context.Context) error
}

// Config holds the mutation coordinator configuration.
type Config struct {
	// Store is the cache the mutations patch (required)
	Store *cache.Store

	// Queries supersedes in-flight fetches and refetches after commit (required)
	Queries Queries

	// Persister, if set, runs after each commit
	Persister Persister
}

// Coordinator runs mutations against one cache store.
type Coordinator struct {
	store     *cache.Store
	queries   Queries
	persister Persister
	logger    zerolog.Logger
	seq       atomic.Uint64

	mu       sync.Mutex
	queue    []*ticket
	watchers map[*Watcher]struct{}
}

// ticket is a mutation's place in the key queue. It blocks every later
// ticket whose keys overlap until done is closed.
type ticket struct {
	id       uint64
	keys     []cache.Key
	applying bool
	done     chan struct{}
}

// New creates a mutation coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("cache store is required")
	}
	if cfg.Queries == nil {
		return nil, fmt.Errorf("query coordinator is required")
	}

	return &Coordinator{
		store:     cfg.Store,
		queries:   cfg.Queries,
		persister: cfg.Persister,
		logger:    logging.NewLogger("mutation"),
		watchers:  make(map[*Watcher]struct{}),
	}, nil
}

// Perform runs m to a terminal state and returns Run's result.
//
// A validation failure returns before any write. Otherwise Perform waits for
// earlier mutations on overlapping keys, snapshots the affected entries and
// applies the optimistic patch in one batch, then calls Run. On success the
// commit is written and the keys are invalidated; on failure the snapshot is
// restored in one batch and Run's error is returned.
//
// ctx bounds only the wait for the key queue. Once Applying, the mutation is
// not cancelled; Run receives a context that keeps ctx's values but not its
// cancellation.
func Perform[T any](ctx context.Context, c *Coordinator, m Mutation[T]) (T, error) {
	var zero T
	if m.Run == nil {
		return zero, fmt.Errorf("mutation %q: run function is required", m.Name)
	}

	id := c.seq.Add(1)
	logger := c.logger.With().Str("mutation", m.Name).Uint64("mutation_id", id).Logger()

	if m.Validate != nil {
		if err := m.Validate(); err != nil {
			err = asValidation(err)
			c.emit(Event{ID: id, Name: m.Name, State: StateIdle, Err: err, Keys: m.Keys})
			mutationsTotal.WithLabelValues(m.Name, "invalid").Inc()
			logger.Debug().Err(err).Msg("Mutation rejected by validation")
			return zero, err
		}
	}

	t, err := c.acquire(ctx, id, m.Name, m.Keys, logger)
	if err != nil {
		c.emit(Event{ID: id, Name: m.Name, State: StateIdle, Err: err, Keys: m.Keys})
		mutationsTotal.WithLabelValues(m.Name, "conflict").Inc()
		return zero, err
	}
	released := false
	release := func() {
		if !released {
			released = true
			c.release(t)
		}
	}
	defer release()

	scope := cache.MatchPrefix(m.Keys...)
	cancelled := c.queries.Cancel(scope)

	var snap *snapshot
	c.store.Batch(func(tx *cache.Tx) {
		snap = takeSnapshot(tx, m.Keys)
		if m.Optimistic != nil {
			m.Optimistic(tx)
		}
	})

	c.markApplying(t)
	mutationsApplying.Inc()
	c.emit(Event{ID: id, Name: m.Name, State: StateApplying, Keys: m.Keys})
	logger.Debug().Int("snapshot_keys", snap.len()).Msg("Applied optimistic patch")

	start := time.Now()
	result, runErr := m.Run(context.WithoutCancel(ctx))
	mutationDuration.WithLabelValues(m.Name).Observe(time.Since(start).Seconds())
	mutationsApplying.Dec()

	if runErr != nil {
		var orphaned []cache.Key
		c.store.Batch(func(tx *cache.Tx) {
			orphaned = snap.restore(tx)
		})
		// fetches cancelled for the patch, or settled under it, left their
		// keys without an owner
		if refetch := append(cancelled, orphaned...); len(refetch) > 0 {
			c.queries.InvalidateAndRefetch(cache.MatchExact(refetch...))
		}
		mutationsTotal.WithLabelValues(m.Name, "rolled_back").Inc()
		c.emit(Event{ID: id, Name: m.Name, State: StateRolledBack, Err: runErr, Keys: m.Keys})
		logger.Warn().
			Err(runErr).
			Str("error_kind", string(apierr.KindOf(runErr))).
			Msg("Mutation failed, cache rolled back")
		return zero, runErr
	}

	if m.Commit != nil {
		c.store.Batch(func(tx *cache.Tx) {
			m.Commit(tx, result)
		})
	}
	c.queries.InvalidateAndRefetch(scope)
	c.markSettled(t)

	mutationsTotal.WithLabelValues(m.Name, "committed").Inc()
	c.emit(Event{ID: id, Name: m.Name, State: StateCommitted, Keys: m.Keys})
	logger.Info().Dur("duration", time.Since(start)).Msg("Mutation committed")

	// overlapping mutations stay queued until the cache is persisted
	if c.persister != nil {
		if err := c.persister.Persist(context.WithoutCancel(ctx)); err != nil {
			logger.Warn().Err(err).Msg("Persisting cache after commit failed")
		}
	}
	release()

	return result, nil
}

// Applying reports whether a running mutation covers key, either directly or
// through a prefix. Callers use it to disable submit controls.
func (c *Coordinator) Applying(key cache.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range c.queue {
		if t.applying && overlaps(t.keys, []cache.Key{key}) {
			return true
		}
	}
	return false
}

// Pending returns the number of mutations applying or queued.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// acquire enqueues a ticket and waits for every earlier overlapping ticket.
func (c *Coordinator) acquire(ctx context.Context, id uint64, name string, keys []cache.Key, logger zerolog.Logger) (*ticket, error) {
	t := &ticket{id: id, keys: keys, done: make(chan struct{})}

	c.mu.Lock()
	var blockers []*ticket
	for _, other := range c.queue {
		if overlaps(other.keys, keys) {
			blockers = append(blockers, other)
		}
	}
	c.queue = append(c.queue, t)
	c.mu.Unlock()

	if len(blockers) == 0 {
		return t, nil
	}

	mutationConflictsTotal.WithLabelValues(name).Inc()
	logger.Debug().
		Int("ahead", len(blockers)).
		Msg("Overlapping mutation in progress, queued")

	for _, b := range blockers {
		select {
		case <-b.done:
		case <-ctx.Done():
			c.release(t)
			return nil, apierr.Conflict(
				fmt.Sprintf("mutation %q gave up waiting for overlapping mutation", name),
				ctx.Err(),
			)
		}
	}
	return t, nil
}

func (c *Coordinator) markApplying(t *ticket) {
	c.mu.Lock()
	t.applying = true
	c.mu.Unlock()
}

// markSettled ends t's Applying phase while it keeps its place in the queue.
func (c *Coordinator) markSettled(t *ticket) {
	c.mu.Lock()
	t.applying = false
	c.mu.Unlock()
}

func (c *Coordinator) release(t *ticket) {
	c.mu.Lock()
	for i, other := range c.queue {
		if other == t {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			break
		}
	}
	t.applying = false
	c.mu.Unlock()
	close(t.done)
}

// overlaps reports whether any key of a equals, or is a prefix of, any key
// of b, or the other way round.
func overlaps(a, b []cache.Key) bool {
	for _, x := range a {
		for _, y := range b {
			if x.HasPrefix(y) || y.HasPrefix(x) {
				return true
			}
		}
	}
	return false
}

func asValidation(err error) error {
	if errors.Is(err, apierr.ErrValidation) {
		return err
	}
	return &apierr.Error{Kind: apierr.KindValidation, Message: "invalid input", Err: err}
}
