package mutation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for mutation lifecycles.
var (
	mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tasksync_mutations_total",
		Help: "Total mutations by name and terminal outcome",
	}, []string{"name", "outcome"})

	mutationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tasksync_mutation_duration_seconds",
		Help:    "Time from Applying to a terminal state by mutation name",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"name"})

	mutationConflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tasksync_mutation_conflicts_total",
		Help: "Total mutations queued behind another mutation on an overlapping key",
	}, []string{"name"})

	mutationsApplying = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tasksync_mutations_applying",
		Help: "Number of mutations currently in the Applying state",
	})

	watcherDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tasksync_mutation_events_dropped_total",
		Help: "Total lifecycle events dropped because a watcher buffer was full",
	})
)
