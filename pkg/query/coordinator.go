// Package query coordinates fetching of cached queries: one fetch per key at
// a time, staleness windows, background refetch triggers and garbage
// collection of unobserved entries.
package query

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/tasksync/pkg/cache"
	"github.com/Sternrassler/tasksync/pkg/logging"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// ErrFetchAbandoned is returned by Await when the fetch it waited on was
// cancelled and no other fetch took over the key.
var ErrFetchAbandoned = errors.New("fetch abandoned")

// maxFetchRestarts bounds how often Fetch starts over after its fetch was
// abandoned.
const maxFetchRestarts = 3

// Fetcher loads the value for one query key. It is expected to enforce its
// own timeout and retry policy.
type Fetcher func(ctx context.Context) (any, error)

// Config holds the coordinator configuration.
type Config struct {
	// StaleTime is how long fetched data counts as fresh
	StaleTime time.Duration

	// GCTime is how long an unobserved entry is kept after its last update
	GCTime time.Duration

	// Triggers
	RefetchOnFocus     bool
	RefetchOnReconnect bool

	// MaxConcurrentFetches bounds how many fetchers run at once
	MaxConcurrentFetches int
}

// DefaultConfig returns the default query configuration.
func DefaultConfig() Config {
	return Config{
		StaleTime:            5 * time.Minute,
		GCTime:               10 * time.Minute,
		RefetchOnFocus:       true,
		RefetchOnReconnect:   true,
		MaxConcurrentFetches: 4,
	}
}

// Coordinator ensures at most one in-flight fetch per key and keeps cache
// entries fresh.
type Coordinator struct {
	store  *cache.Store
	config Config
	logger zerolog.Logger
	sem    *semaphore.Weighted
	tokens atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	inflight map[string]*fetchOp
	fetchers map[string]Fetcher
	focused  bool
	online   bool
}

// fetchOp is one outstanding fetch. It owns its key while it is the value
// in Coordinator.inflight; a result from an op that lost ownership is dropped.
type fetchOp struct {
	token  uint64
	key    cache.Key
	prev   cache.Status
	cancel context.CancelFunc
	done   chan struct{}

	// abandoned is closed and wasAbandoned set by cancelLocked under
	// Coordinator.mu
	abandoned    chan struct{}
	wasAbandoned bool
}

// New creates a query coordinator over store.
func New(store *cache.Store, cfg Config) (*Coordinator, error) {
	if store == nil {
		return nil, fmt.Errorf("cache store is required")
	}
	if cfg.StaleTime < 0 {
		return nil, fmt.Errorf("stale_time must be >= 0 (got %s)", cfg.StaleTime)
	}
	if cfg.GCTime <= 0 {
		return nil, fmt.Errorf("gc_time must be > 0 (got %s)", cfg.GCTime)
	}
	if cfg.MaxConcurrentFetches <= 0 {
		cfg.MaxConcurrentFetches = DefaultConfig().MaxConcurrentFetches
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Coordinator{
		store:    store,
		config:   cfg,
		logger:   logging.NewLogger("query"),
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrentFetches)),
		ctx:      ctx,
		cancel:   cancel,
		inflight: make(map[string]*fetchOp),
		fetchers: make(map[string]Fetcher),
		focused:  true,
		online:   true,
	}, nil
}

// Store returns the underlying cache store.
func (c *Coordinator) Store() *cache.Store {
	return c.store
}

// Config returns the coordinator configuration.
func (c *Coordinator) Config() Config {
	return c.config
}

// Close abandons every in-flight fetch.
func (c *Coordinator) Close() error {
	c.cancel()
	return nil
}

// EnsureFresh returns the current entry for key, starting exactly one fetch
// when the entry is missing, failed, or stale with no fetch in flight. A call
// made while a fetch is in flight attaches to it. The returned entry may be
// in StatusFetching; use Await or Fetch to wait for the result.
//
// fetcher is remembered for background refetches of key. A nil fetcher uses
// the one registered earlier.
func (c *Coordinator) EnsureFresh(key cache.Key, fetcher Fetcher) cache.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	if fetcher != nil {
		c.fetchers[key.String()] = fetcher
	} else if fetcher = c.fetchers[key.String()]; fetcher == nil {
		c.logger.Debug().Str("key", key.String()).Msg("No fetcher registered for key")
		e, _ := c.store.Get(key)
		return e
	}

	e, _ := c.ensureLocked(key, fetcher)
	return e
}

// Fetch is EnsureFresh followed by waiting for the fetch in flight. It
// returns the entry's error when the fetch failed; stale data, if any, is
// still present on the returned entry.
//
// When the awaited fetch is abandoned (a mutation cancelled it) and nothing
// took over the key, Fetch starts a new one with the registered fetcher, so
// the returned entry always comes from a completed fetch.
func (c *Coordinator) Fetch(ctx context.Context, key cache.Key, fetcher Fetcher) (cache.Entry, error) {
	c.EnsureFresh(key, fetcher)

	for restarts := 0; ; restarts++ {
		e, err := c.Await(ctx, key)
		if errors.Is(err, ErrFetchAbandoned) && restarts < maxFetchRestarts {
			c.logger.Debug().
				Str("key", key.String()).
				Int("restart", restarts+1).
				Msg("Awaited fetch was abandoned, fetching again")
			c.EnsureFresh(key, nil)
			continue
		}
		if err != nil {
			return e, err
		}
		if e.Status == cache.StatusError {
			return e, e.Err
		}
		return e, nil
	}
}

// Await blocks until no fetch for key is in flight and returns the entry.
// It returns ErrFetchAbandoned along with the entry when the last fetch it
// waited on was cancelled and no other fetch owns the key.
func (c *Coordinator) Await(ctx context.Context, key cache.Key) (cache.Entry, error) {
	id := key.String()
	var waited *fetchOp
	for {
		c.mu.Lock()
		op := c.inflight[id]
		abandoned := op == nil && waited != nil && waited.wasAbandoned
		c.mu.Unlock()

		if op == nil {
			e, _ := c.store.Get(key)
			if abandoned {
				return e, ErrFetchAbandoned
			}
			return e, nil
		}
		waited = op

		select {
		case <-op.done:
			// a superseding fetch may have started; look again
		case <-op.abandoned:
		case <-ctx.Done():
			e, _ := c.store.Get(key)
			return e, ctx.Err()
		}
	}
}

// Fetching reports whether a fetch for key is in flight.
func (c *Coordinator) Fetching(key cache.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[key.String()]
	return ok
}

// Observe subscribes to key, registers fetcher for background refetches and
// ensures the entry is fresh. Close the subscription to stop observing.
func (c *Coordinator) Observe(key cache.Key, fetcher Fetcher) *cache.Subscription {
	sub := c.store.Subscribe(key)
	c.EnsureFresh(key, fetcher)
	return sub
}

// Cancel abandons in-flight fetches for matching keys. Each entry returns to
// its status before the fetch and is marked stale; the abandoned fetch's
// result is discarded when it arrives.
func (c *Coordinator) Cancel(pred cache.Predicate) []cache.Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelLocked(pred)
}

// InvalidateAndRefetch marks matching entries stale, supersedes their
// in-flight fetches and refetches the ones that are actively observed.
// Unobserved entries refetch on their next access.
func (c *Coordinator) InvalidateAndRefetch(pred cache.Predicate) []cache.Key {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelLocked(pred)
	keys := c.store.Invalidate(pred)

	refetched := 0
	for _, k := range keys {
		if c.store.ObserverCount(k) == 0 {
			continue
		}
		fetcher, ok := c.fetchers[k.String()]
		if !ok {
			continue
		}
		if _, started := c.ensureLocked(k, fetcher); started {
			refetched++
		}
	}
	queryTriggersTotal.WithLabelValues("invalidate").Inc()

	c.logger.Debug().
		Int("invalidated", len(keys)).
		Int("refetched", refetched).
		Msg("Invalidated query keys")

	return keys
}

// ensureLocked starts a fetch for key if one is needed. The bool reports
// whether a new fetch was started.
func (c *Coordinator) ensureLocked(key cache.Key, fetcher Fetcher) (cache.Entry, bool) {
	if _, busy := c.inflight[key.String()]; busy {
		queryFetchDedupTotal.Inc()
		e, _ := c.store.Get(key)
		return e, false
	}

	e, ok := c.store.Get(key)
	needed := !ok ||
		e.Status == cache.StatusError ||
		e.Status == cache.StatusFetching || // owner lost, e.g. hydrated mid-fetch
		e.IsStale(c.store.Now())
	if !needed {
		return e, false
	}

	prev := cache.StatusIdle
	if ok && e.Status != cache.StatusFetching {
		prev = e.Status
	} else if ok && e.HasData() {
		prev = cache.StatusSuccess
	}
	return c.startLocked(key, fetcher, prev), true
}

func (c *Coordinator) startLocked(key cache.Key, fetcher Fetcher, prev cache.Status) cache.Entry {
	ctx, cancel := context.WithCancel(c.ctx)
	op := &fetchOp{
		token:     c.tokens.Add(1),
		key:       key,
		prev:      prev,
		cancel:    cancel,
		done:      make(chan struct{}),
		abandoned: make(chan struct{}),
	}
	c.inflight[key.String()] = op
	queryInflight.Inc()

	entry := c.store.Set(key, func(e cache.Entry) cache.Entry {
		e.Status = cache.StatusFetching
		return e
	})

	c.logger.Debug().
		Str("key", key.String()).
		Uint64("token", op.token).
		Msg("Starting fetch")

	go c.run(ctx, op, fetcher)
	return entry
}

func (c *Coordinator) run(ctx context.Context, op *fetchOp, fetcher Fetcher) {
	defer close(op.done)
	defer op.cancel()

	if err := c.sem.Acquire(ctx, 1); err != nil {
		c.settle(op, nil, err)
		return
	}
	start := time.Now()
	data, err := fetcher(ctx)
	c.sem.Release(1)
	queryFetchDuration.Observe(time.Since(start).Seconds())

	c.settle(op, data, err)
}

// settle records a fetch result if op still owns its key.
func (c *Coordinator) settle(op *fetchOp, data any, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := op.key.String()
	if c.inflight[id] != op {
		queryFetchesTotal.WithLabelValues("discarded").Inc()
		c.logger.Debug().
			Str("key", id).
			Uint64("token", op.token).
			Msg("Discarded result of superseded fetch")
		return
	}
	delete(c.inflight, id)
	queryInflight.Dec()

	if err != nil {
		queryFetchesTotal.WithLabelValues("error").Inc()
		c.store.Set(op.key, func(e cache.Entry) cache.Entry {
			e.Status = cache.StatusError
			e.Err = err
			return e
		})
		c.logger.Warn().
			Err(err).
			Str("key", id).
			Msg("Fetch failed, keeping last known data")
		return
	}

	queryFetchesTotal.WithLabelValues("success").Inc()
	c.store.Batch(func(tx *cache.Tx) {
		now := tx.Now()
		tx.Set(op.key, func(e cache.Entry) cache.Entry {
			e.Data = data
			e.Status = cache.StatusSuccess
			e.Err = nil
			e.LastUpdated = now
			e.StaleAt = now.Add(c.config.StaleTime)
			return e
		})
	})
	c.logger.Debug().
		Str("key", id).
		Dur("stale_time", c.config.StaleTime).
		Msg("Fetch succeeded")
}

func (c *Coordinator) cancelLocked(pred cache.Predicate) []cache.Key {
	var ops []*fetchOp
	for id, op := range c.inflight {
		if pred == nil || pred(op.key) {
			delete(c.inflight, id)
			queryInflight.Dec()
			op.cancel()
			op.wasAbandoned = true
			close(op.abandoned)
			ops = append(ops, op)
		}
	}
	if len(ops) == 0 {
		return nil
	}

	keys := make([]cache.Key, len(ops))
	c.store.Batch(func(tx *cache.Tx) {
		for i, op := range ops {
			keys[i] = op.key
			prev := op.prev
			tx.Set(op.key, func(e cache.Entry) cache.Entry {
				if e.Status == cache.StatusFetching {
					e.Status = prev
				}
				e.StaleAt = tx.Now()
				return e
			})
		}
	})

	c.logger.Debug().Int("count", len(keys)).Msg("Cancelled in-flight fetches")
	return keys
}
