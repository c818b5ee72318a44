package cache

import (
	"time"
)

// Status is the fetch status of a cache entry.
type Status int

const (
	// StatusIdle means no fetch has completed for the entry yet.
	StatusIdle Status = iota
	// StatusFetching means exactly one fetch currently owns the entry.
	StatusFetching
	// StatusSuccess means the last fetch succeeded.
	StatusSuccess
	// StatusError means the last fetch failed. Data holds the last good value.
	StatusError
)

// String returns the lower-case status name.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusFetching:
		return "fetching"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Entry represents the materialized value and metadata for one query key.
//
// Data is treated as immutable: updaters must return new slices or structs
// rather than mutating the value they receive, otherwise snapshots taken by
// the mutation coordinator would alias live data.
type Entry struct {
	Key Key

	// Data is the last known value, nil until the first success or write
	Data any

	Status Status

	// LastUpdated is when Data was last replaced
	LastUpdated time.Time

	// StaleAt is when the entry becomes eligible for background refetch
	StaleAt time.Time

	// Err is the error of the last failed fetch
	Err error
}

// IsStale returns true if the entry is due for refetch at now.
// An entry that was never fetched is always stale.
func (e Entry) IsStale(now time.Time) bool {
	return !now.Before(e.StaleAt)
}

// HasData reports whether the entry holds a value.
func (e Entry) HasData() bool {
	return e.Data != nil
}

// TTL returns the time until the entry becomes stale.
// Returns 0 if already stale.
func (e Entry) TTL(now time.Time) time.Duration {
	ttl := e.StaleAt.Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// DataAs returns the entry's data as T.
func DataAs[T any](e Entry) (T, bool) {
	v, ok := e.Data.(T)
	return v, ok
}
