package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/Sternrassler/tasksync/pkg/apierr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for connectivity tracking.
var (
	onlineGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tasksync_online",
		Help: "Whether the task API is currently reachable (1) or not (0)",
	})

	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tasksync_connectivity_transitions_total",
		Help: "Total connectivity transitions by new state",
	}, []string{"state"})

	probesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tasksync_connectivity_probes_total",
		Help: "Total reachability probes by result",
	}, []string{"result"})
)

// Listener is called with the new value on every transition.
type Listener func(online bool)

// Tracker derives online/offline state from request outcomes.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
// Listeners run outside the lock, in transition order.
type Tracker struct {
	threshold int
	logger    zerolog.Logger
	now       func() time.Time

	mu        sync.Mutex
	state     State
	listeners []Listener

	notify sync.Mutex
}

// NewTracker creates a tracker that starts online. A threshold below one
// uses DefaultFailureThreshold.
func NewTracker(threshold int, logger zerolog.Logger) *Tracker {
	if threshold < 1 {
		threshold = DefaultFailureThreshold
	}
	onlineGauge.Set(1)
	return &Tracker{
		threshold: threshold,
		logger:    logger,
		now:       time.Now,
		state:     State{Online: true},
	}
}

// SetClock sets the time source (for testing).
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// OnChange registers a listener for transitions.
func (t *Tracker) OnChange(l Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, l)
}

// State returns the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Online reports whether the API counts as reachable.
func (t *Tracker) Online() bool {
	return t.State().Online
}

// Record feeds one request outcome. A network-kind error counts as a
// failure; success and every other error prove the API answered.
func (t *Tracker) Record(err error) {
	if err != nil && apierr.KindOf(err) == apierr.KindNetwork {
		t.update(func(s *State) {
			s.ConsecutiveFailures++
			s.LastError = err.Error()
			if s.ConsecutiveFailures >= t.threshold {
				s.Online = false
			}
		})
		return
	}
	t.update(func(s *State) {
		s.ConsecutiveFailures = 0
		s.LastError = ""
		s.Online = true
	})
}

// Set forces the state, e.g. from an OS network notification.
func (t *Tracker) Set(online bool) {
	t.update(func(s *State) {
		s.Online = online
		if online {
			s.ConsecutiveFailures = 0
			s.LastError = ""
		}
	})
}

// Probe calls probe every interval while offline and records its result,
// until ctx is done.
func (t *Tracker) Probe(ctx context.Context, interval time.Duration, probe func(context.Context) error) error {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if t.Online() {
				continue
			}
			err := probe(ctx)
			if err != nil {
				probesTotal.WithLabelValues("failure").Inc()
			} else {
				probesTotal.WithLabelValues("success").Inc()
			}
			t.Record(err)
		}
	}
}

func (t *Tracker) update(fn func(*State)) {
	// notify serializes whole transitions so listeners see them in order
	t.notify.Lock()
	defer t.notify.Unlock()

	t.mu.Lock()
	was := t.state.Online
	fn(&t.state)
	changed := t.state.Online != was
	if changed {
		t.state.LastChange = t.now()
	}
	state := t.state
	listeners := append([]Listener(nil), t.listeners...)
	t.mu.Unlock()

	if !changed {
		return
	}

	if state.Online {
		onlineGauge.Set(1)
		transitionsTotal.WithLabelValues("online").Inc()
		t.logger.Info().Msg("Task API reachable again")
	} else {
		onlineGauge.Set(0)
		transitionsTotal.WithLabelValues("offline").Inc()
		t.logger.Warn().
			Int("consecutive_failures", state.ConsecutiveFailures).
			Str("last_error", state.LastError).
			Msg("Task API unreachable, working offline")
	}

	for _, l := range listeners {
		l(state.Online)
	}
}
