package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// Cannot use t.Parallel() - shared global metrics

func TestRecordSelection(t *testing.T) {
	exploitBefore := testutil.ToFloat64(Selections.WithLabelValues("exploit"))
	exploreBefore := testutil.ToFloat64(Selections.WithLabelValues("explore"))

	RecordSelection(true)
	RecordSelection(true)
	RecordSelection(false)

	if got := testutil.ToFloat64(Selections.WithLabelValues("exploit")) - exploitBefore; got != 2 {
		t.Errorf("exploit delta = %v, want 2", got)
	}
	if got := testutil.ToFloat64(Selections.WithLabelValues("explore")) - exploreBefore; got != 1 {
		t.Errorf("explore delta = %v, want 1", got)
	}
}

func TestRecordBatch(t *testing.T) {
	tests := []struct {
		name      string
		requested int
		served    int
		result    string
	}{
		{"full batch", 3, 3, "full"},
		{"short batch", 3, 1, "partial"},
		{"empty batch", 3, 0, "empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(Batches.WithLabelValues(tt.result))
			RecordBatch(tt.requested, tt.served)
			if got := testutil.ToFloat64(Batches.WithLabelValues(tt.result)) - before; got != 1 {
				t.Errorf("%s delta = %v, want 1", tt.result, got)
			}
		})
	}
}

func TestRecordScoringFailureAndInteraction(t *testing.T) {
	failures := testutil.ToFloat64(ScoringFailures)
	votes := testutil.ToFloat64(Interactions.WithLabelValues("vote"))

	RecordScoringFailure()
	RecordInteraction("vote")

	if got := testutil.ToFloat64(ScoringFailures) - failures; got != 1 {
		t.Errorf("scoring failures delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(Interactions.WithLabelValues("vote")) - votes; got != 1 {
		t.Errorf("vote delta = %v, want 1", got)
	}
}

func TestRecordSelectionDuration(t *testing.T) {
	RecordSelectionDuration(5 * time.Millisecond)
	if n := testutil.CollectAndCount(SelectionDuration); n != 1 {
		t.Errorf("histogram series = %d, want 1", n)
	}
}

func TestRecordBreakerTransition(t *testing.T) {
	before := testutil.ToFloat64(BreakerTransitions.WithLabelValues("test-breaker", "closed", "open"))

	RecordBreakerTransition("test-breaker", "closed", "open", 2)

	if got := testutil.ToFloat64(BreakerState.WithLabelValues("test-breaker")); got != 2 {
		t.Errorf("state = %v, want 2", got)
	}
	if got := testutil.ToFloat64(BreakerTransitions.WithLabelValues("test-breaker", "closed", "open")) - before; got != 1 {
		t.Errorf("transitions delta = %v, want 1", got)
	}
}
