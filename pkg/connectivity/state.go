// Package connectivity tracks whether the task API is reachable. Request
// outcomes are recorded by the HTTP client; transitions are fanned out to
// listeners such as the query coordinator's reconnect trigger.
package connectivity

import (
	"time"
)

// Thresholds for connectivity decisions.
const (
	// DefaultFailureThreshold is the number of consecutive network failures
	// after which the API counts as unreachable.
	DefaultFailureThreshold = 1

	// DefaultProbeInterval is how often an offline tracker probes the API.
	DefaultProbeInterval = 15 * time.Second
)

// State is the current connectivity state.
type State struct {
	// Online is false after FailureThreshold consecutive network failures.
	Online bool `json:"online"`

	// ConsecutiveFailures counts network failures since the last response.
	ConsecutiveFailures int `json:"consecutive_failures"`

	// LastChange is when Online last flipped.
	LastChange time.Time `json:"last_change"`

	// LastError is the message of the most recent network failure.
	LastError string `json:"last_error,omitempty"`
}

// Since returns how long the state has held at now.
func (s State) Since(now time.Time) time.Duration {
	if s.LastChange.IsZero() {
		return 0
	}
	d := now.Sub(s.LastChange)
	if d < 0 {
		return 0
	}
	return d
}
