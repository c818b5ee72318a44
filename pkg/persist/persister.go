// Package persist saves the query cache to durable storage and restores it
// at startup, so offline reads can serve the last known data.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/tasksync/pkg/cache"
	"github.com/Sternrassler/tasksync/pkg/logging"
	"github.com/Sternrassler/tasksync/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// DefaultNamespace is the storage namespace of the cache document.
const DefaultNamespace = "query-cache"

const documentVersion = 1

var (
	persistEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasksync_persist_entries_total",
			Help: "Cache entries written or restored, by operation",
		},
		[]string{"operation"},
	)

	persistSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasksync_persist_skipped_total",
			Help: "Cache entries left out of a persist or hydrate, by reason",
		},
		[]string{"reason"},
	)
)

// Codec decodes persisted JSON back into the typed value a query stores.
type Codec func(raw json.RawMessage) (any, error)

// JSON returns a Codec that unmarshals into T.
func JSON[T any]() Codec {
	return func(raw json.RawMessage) (any, error) {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

type document struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"savedAt"`
	Entries []record  `json:"entries"`
}

type record struct {
	Key         string          `json:"key"`
	Data        json.RawMessage `json:"data"`
	LastUpdated time.Time       `json:"lastUpdated"`
	StaleAt     time.Time       `json:"staleAt"`
}

type registration struct {
	prefix cache.Key
	codec  Codec
}

// Config configures a Persister.
type Config struct {
	Store   *cache.Store
	Storage storage.Storage

	// Namespace defaults to DefaultNamespace
	Namespace string

	// Pending reports keys holding uncommitted optimistic data, typically
	// mutation.Coordinator.Applying. Optional; see SetPending.
	Pending cache.Predicate
}

// Persister mirrors a cache.Store into a storage.Storage namespace.
type Persister struct {
	store     *cache.Store
	storage   storage.Storage
	namespace string
	logger    zerolog.Logger

	mu      sync.RWMutex
	codecs  []registration
	pending cache.Predicate

	// serializes writers so an older snapshot never lands last
	saveMu sync.Mutex
}

// New creates a Persister.
func New(cfg Config) (*Persister, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	return &Persister{
		store:     cfg.Store,
		storage:   cfg.Storage,
		namespace: cfg.Namespace,
		pending:   cfg.Pending,
		logger:    logging.NewLogger("persist").With().Str("namespace", cfg.Namespace).Logger(),
	}, nil
}

// SetPending installs the predicate for keys with uncommitted optimistic
// data. It exists for wiring after the mutation coordinator is built.
func (p *Persister) SetPending(pred cache.Predicate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = pred
}

func (p *Persister) isPending(key cache.Key) bool {
	p.mu.RLock()
	pred := p.pending
	p.mu.RUnlock()
	return pred != nil && pred(key)
}

// Register installs codec for every key under prefix. The longest matching
// prefix wins during Hydrate.
func (p *Persister) Register(prefix cache.Key, codec Codec) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.codecs = append(p.codecs, registration{prefix: prefix, codec: codec})
}

func (p *Persister) codecFor(key cache.Key) (Codec, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var best *registration
	for i := range p.codecs {
		r := &p.codecs[i]
		if key.HasPrefix(r.prefix) && (best == nil || r.prefix.Len() > best.prefix.Len()) {
			best = r
		}
	}
	if best == nil {
		return nil, false
	}
	return best.codec, true
}

// Persist writes every entry that settled with data. It implements
// mutation.Persister.
//
// Entries under a running mutation hold optimistic data; for those keys the
// record of the previous document is kept instead, if there is one.
func (p *Persister) Persist(ctx context.Context) error {
	p.saveMu.Lock()
	defer p.saveMu.Unlock()

	doc := document{Version: documentVersion, SavedAt: p.store.Now()}
	var previous map[string]record
	for _, e := range p.store.Entries() {
		if !e.HasData() || (e.Status != cache.StatusSuccess && e.Status != cache.StatusError) {
			continue
		}
		if _, ok := p.codecFor(e.Key); !ok {
			continue
		}
		if p.isPending(e.Key) {
			if previous == nil {
				previous = p.loadRecords(ctx)
			}
			persistSkipped.WithLabelValues("pending").Inc()
			if r, ok := previous[e.Key.String()]; ok {
				doc.Entries = append(doc.Entries, r)
			}
			continue
		}
		raw, err := json.Marshal(e.Data)
		if err != nil {
			p.logger.Warn().Err(err).Str("key", e.Key.String()).Msg("Skipping unencodable cache entry")
			continue
		}
		doc.Entries = append(doc.Entries, record{
			Key:         e.Key.String(),
			Data:        raw,
			LastUpdated: e.LastUpdated,
			StaleAt:     e.StaleAt,
		})
	}

	blob, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode cache document: %w", err)
	}
	if err := p.storage.Save(ctx, p.namespace, blob); err != nil {
		return fmt.Errorf("save cache document: %w", err)
	}

	persistEntries.WithLabelValues("persist").Add(float64(len(doc.Entries)))
	p.logger.Debug().Int("entries", len(doc.Entries)).Msg("Cache persisted")
	return nil
}

// loadRecords returns the records of the stored document by key. Any
// failure yields an empty map.
func (p *Persister) loadRecords(ctx context.Context) map[string]record {
	out := make(map[string]record)
	blob, err := p.storage.Load(ctx, p.namespace)
	if err != nil {
		return out
	}
	var doc document
	if err := json.Unmarshal(blob, &doc); err != nil || doc.Version != documentVersion {
		return out
	}
	for _, r := range doc.Entries {
		out[r.Key] = r
	}
	return out
}

// Hydrate restores the persisted entries as successes, keeping their
// staleness. Keys that already hold data in the store are left alone.
// It returns the number of restored entries; a missing document restores
// nothing and is not an error.
func (p *Persister) Hydrate(ctx context.Context) (int, error) {
	blob, err := p.storage.Load(ctx, p.namespace)
	if errors.Is(err, storage.ErrNotFound) {
		p.logger.Debug().Msg("No persisted cache")
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load cache document: %w", err)
	}

	var doc document
	if err := json.Unmarshal(blob, &doc); err != nil {
		return 0, fmt.Errorf("decode cache document: %w", err)
	}
	if doc.Version != documentVersion {
		p.logger.Warn().Int("version", doc.Version).Msg("Ignoring cache document with unknown version")
		persistSkipped.WithLabelValues("version").Add(float64(len(doc.Entries)))
		return 0, nil
	}

	entries := make([]cache.Entry, 0, len(doc.Entries))
	for _, r := range doc.Entries {
		key, err := cache.ParseKey(r.Key)
		if err != nil {
			persistSkipped.WithLabelValues("key").Inc()
			continue
		}
		codec, ok := p.codecFor(key)
		if !ok {
			persistSkipped.WithLabelValues("codec").Inc()
			continue
		}
		data, err := codec(r.Data)
		if err != nil {
			p.logger.Warn().Err(err).Str("key", r.Key).Msg("Skipping undecodable cache entry")
			persistSkipped.WithLabelValues("decode").Inc()
			continue
		}
		entries = append(entries, cache.Entry{
			Key:         key,
			Data:        data,
			Status:      cache.StatusSuccess,
			LastUpdated: r.LastUpdated,
			StaleAt:     r.StaleAt,
		})
	}

	restored := 0
	p.store.Batch(func(tx *cache.Tx) {
		for _, e := range entries {
			if cur, ok := tx.Get(e.Key); ok && cur.HasData() {
				continue
			}
			tx.Put(e)
			restored++
		}
	})

	persistEntries.WithLabelValues("hydrate").Add(float64(restored))
	p.logger.Info().Int("entries", restored).Time("saved_at", doc.SavedAt).Msg("Cache hydrated")
	return restored, nil
}

// Clear removes the persisted document.
func (p *Persister) Clear(ctx context.Context) error {
	if err := p.storage.Remove(ctx, p.namespace); err != nil {
		return fmt.Errorf("remove cache document: %w", err)
	}
	return nil
}
