package query

import (
	"context"
	"time"

	"github.com/Sternrassler/tasksync/pkg/cache"
)

// FocusChanged records the application's foreground state. Regaining focus
// refreshes observed entries when RefetchOnFocus is enabled. It returns the
// keys for which a fetch was started.
func (c *Coordinator) FocusChanged(focused bool) []cache.Key {
	c.mu.Lock()
	defer c.mu.Unlock()

	regained := focused && !c.focused
	c.focused = focused
	if !regained || !c.config.RefetchOnFocus {
		return nil
	}

	queryTriggersTotal.WithLabelValues("focus").Inc()
	return c.refreshObservedLocked("focus")
}

// NetworkChanged records connectivity. Reconnecting refreshes observed
// entries when RefetchOnReconnect is enabled. It returns the keys for which a
// fetch was started.
func (c *Coordinator) NetworkChanged(online bool) []cache.Key {
	c.mu.Lock()
	defer c.mu.Unlock()

	reconnected := online && !c.online
	c.online = online
	if !reconnected || !c.config.RefetchOnReconnect {
		return nil
	}

	queryTriggersTotal.WithLabelValues("reconnect").Inc()
	return c.refreshObservedLocked("reconnect")
}

// refreshObservedLocked runs ensureLocked for every observed key with a
// registered fetcher. Dormant keys are left alone.
func (c *Coordinator) refreshObservedLocked(trigger string) []cache.Key {
	var started []cache.Key
	for _, k := range c.store.Observed(nil) {
		fetcher, ok := c.fetchers[k.String()]
		if !ok {
			continue
		}
		if _, ok := c.ensureLocked(k, fetcher); ok {
			started = append(started, k)
		}
	}

	c.logger.Info().
		Str("trigger", trigger).
		Int("refetched", len(started)).
		Msg("Refreshing observed queries")

	return started
}

// CollectGarbage removes entries that nobody observes and that were last
// updated more than GCTime ago, along with their fetcher registrations.
func (c *Coordinator) CollectGarbage() []cache.Key {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.store.Now().Add(-c.config.GCTime)
	removed := c.store.Collect(cutoff, func(k cache.Key) bool {
		_, busy := c.inflight[k.String()]
		return busy
	})

	for id := range c.fetchers {
		k, err := cache.ParseKey(id)
		if err != nil {
			delete(c.fetchers, id)
			continue
		}
		if _, ok := c.store.Get(k); !ok && c.store.ObserverCount(k) == 0 {
			delete(c.fetchers, id)
		}
	}

	if len(removed) > 0 {
		c.logger.Debug().Int("removed", len(removed)).Msg("Collected unobserved queries")
	}
	return removed
}

// Run collects garbage periodically until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	interval := c.config.GCTime / 2
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.CollectGarbage()
		}
	}
}
