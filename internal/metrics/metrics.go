// Package metrics holds the Prometheus instruments for the recommendation server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Selection
	Selections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardreadr_selections_total",
			Help: "Total number of entries chosen per selection mode",
		},
		[]string{"mode"}, // "exploit", "explore"
	)

	SelectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cardreadr_selection_duration_seconds",
			Help:    "Time to score the candidate pool and choose a batch",
			Buckets: prometheus.DefBuckets,
		},
	)

	ScoringFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cardreadr_scoring_failures_total",
			Help: "Candidates that fell back to the lowest score because the scorer failed",
		},
	)

	// Dispatch
	Batches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardreadr_batches_total",
			Help: "Batch requests served, by outcome",
		},
		[]string{"result"}, // "full", "partial", "empty"
	)

	// Interactions
	Interactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardreadr_interactions_total",
			Help: "Interaction events recorded, by kind",
		},
		[]string{"kind"}, // "vote", "open", "time", "time_discarded"
	)

	// Client circuit breaker
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cardreadr_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	BreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardreadr_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)
)

// RecordSelection counts one chosen entry.
func RecordSelection(exploit bool) {
	mode := "explore"
	if exploit {
		mode = "exploit"
	}
	Selections.WithLabelValues(mode).Inc()
}

func RecordSelectionDuration(d time.Duration) {
	SelectionDuration.Observe(d.Seconds())
}

func RecordScoringFailure() {
	ScoringFailures.Inc()
}

// RecordBatch classifies a batch against the size requested.
func RecordBatch(requested, served int) {
	result := "full"
	switch {
	case served == 0:
		result = "empty"
	case served < requested:
		result = "partial"
	}
	Batches.WithLabelValues(result).Inc()
}

func RecordInteraction(kind string) {
	Interactions.WithLabelValues(kind).Inc()
}

// RecordBreakerTransition updates the state gauge and counts the transition.
func RecordBreakerTransition(name, from, to string, state float64) {
	BreakerState.WithLabelValues(name).Set(state)
	BreakerTransitions.WithLabelValues(name, from, to).Inc()
}
