package recommend

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/thomaskoefod/cardreadr/internal/scoring"
	"github.com/thomaskoefod/cardreadr/pkg/models"
)

// memSource is an in-memory catalog. Entries are returned newest-id first
// so tests do not depend on storage order.
type memSource struct {
	entries []models.Entry
	voted   map[int64]bool
	err     error
	calls   int
}

func (m *memSource) UnvotedEntries(_ context.Context, exclude []int64, limit int) ([]models.Entry, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	skip := make(map[int64]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}

	var out []models.Entry
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if skip[e.ID] || m.voted[e.ID] {
			continue
		}
		out = append(out, e)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// fixedRand always returns the same values.
type fixedRand struct {
	f float64
	i int
}

func (r fixedRand) Float64() float64 { return r.f }
func (r fixedRand) Intn(n int) int   { return min(r.i, n-1) }

var (
	alwaysExploit = fixedRand{f: 0}
	alwaysExplore = fixedRand{f: 0.99}
)

// scoreTable scores entries by id and fails for ids in failing.
func scoreTable(scores map[int64]float64, failing ...int64) scoring.Scorer {
	fail := make(map[int64]bool)
	for _, id := range failing {
		fail[id] = true
	}
	return scoring.Func{Label: "table", Fn: func(_ context.Context, e models.Entry) (float64, error) {
		if fail[e.ID] {
			return 0, errors.New("model exploded")
		}
		return scores[e.ID], nil
	}}
}

func entries(ids ...int64) []models.Entry {
	out := make([]models.Entry, len(ids))
	for i, id := range ids {
		out[i] = models.Entry{ID: id, FeedID: 1, Title: fmt.Sprintf("E%d", id)}
	}
	return out
}

func pickIDs(es []models.Entry) []int64 {
	out := make([]int64, len(es))
	for i, e := range es {
		out[i] = e.ID
	}
	return out
}

func sameIDs(a, b []int64) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func threeEntryScorer() scoring.Scorer {
	return scoreTable(map[int64]float64{1: 0.9, 2: 0.5, 3: 0.1})
}

func TestSelectConcreteScenario(t *testing.T) {
	tests := []struct {
		name  string
		rng   Rand
		count int
		want  []int64
	}{
		{"exploit takes the best", alwaysExploit, 1, []int64{1}},
		{"explore takes the lowest id of the rest", fixedRand{f: 0.99, i: 0}, 1, []int64{2}},
		{"explore takes the last of the rest", fixedRand{f: 0.99, i: 1}, 1, []int64{3}},
		{"exploit fills slots in score order", alwaysExploit, 3, []int64{1, 2, 3}},
		{"explore removes picks between slots", alwaysExplore, 3, []int64{2, 3, 1}},
		{"count beyond pool", alwaysExploit, 5, []int64{1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &memSource{entries: entries(1, 2, 3)}
			s := NewSelector(src, threeEntryScorer(), SelectorConfig{PExploit: 0.8}, tt.rng)

			got, err := s.Select(context.Background(), nil, tt.count)
			if err != nil {
				t.Fatalf("Select() error = %v", err)
			}
			if !sameIDs(pickIDs(got), tt.want) {
				t.Errorf("Select() = %v, want %v", pickIDs(got), tt.want)
			}
		})
	}
}

func TestSelectExhaustedPool(t *testing.T) {
	tests := []struct {
		name    string
		source  *memSource
		exclude []int64
	}{
		{"empty catalog", &memSource{}, nil},
		{"everything voted", &memSource{entries: entries(1, 2), voted: map[int64]bool{1: true, 2: true}}, nil},
		{"everything excluded", &memSource{entries: entries(1, 2)}, []int64{1, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSelector(tt.source, threeEntryScorer(), SelectorConfig{PExploit: 0.8}, alwaysExploit)
			for _, k := range []int{1, 3, 5} {
				got, err := s.Select(context.Background(), tt.exclude, k)
				if err != nil {
					t.Fatalf("Select(%d) error = %v", k, err)
				}
				if got == nil || len(got) != 0 {
					t.Errorf("Select(%d) = %v, want empty non-nil slice", k, got)
				}
			}

			d := NewDispatcher(s, 5)
			if _, err := d.GetNext(context.Background(), tt.exclude); !errors.Is(err, ErrNotFound) {
				t.Errorf("GetNext() error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestSelectExploitRatioConverges(t *testing.T) {
	const trials = 5000
	rng := rand.New(rand.NewSource(42))
	scores := map[int64]float64{1: 0.2, 2: 0.7, 3: 0.95, 4: 0.4, 5: 0.1}

	bestPicks := 0
	for i := 0; i < trials; i++ {
		src := &memSource{entries: entries(1, 2, 3, 4, 5)}
		s := NewSelector(src, scoreTable(scores), SelectorConfig{PExploit: 0.8}, rng)
		got, err := s.Select(context.Background(), nil, 1)
		if err != nil {
			t.Fatalf("Select() error = %v", err)
		}
		if got[0].ID == 3 {
			bestPicks++
		}
	}

	ratio := float64(bestPicks) / trials
	if ratio < 0.77 || ratio > 0.83 {
		t.Errorf("exploit ratio = %.3f, want 0.8 +/- 0.03", ratio)
	}
}

func TestSelectNoDuplicates(t *testing.T) {
	ids := []int64{1, 2, 3, 4, 5, 6, 7, 8}
	scores := map[int64]float64{}
	for _, id := range ids {
		scores[id] = 0.5
	}
	rng := rand.New(rand.NewSource(7))

	for trial := 0; trial < 200; trial++ {
		src := &memSource{entries: entries(ids...)}
		s := NewSelector(src, scoreTable(scores), SelectorConfig{PExploit: 0.5}, rng)
		got, err := s.Select(context.Background(), []int64{4}, 5)
		if err != nil {
			t.Fatalf("Select() error = %v", err)
		}
		if len(got) != 5 {
			t.Fatalf("len = %d, want 5", len(got))
		}
		seen := map[int64]bool{}
		for _, e := range got {
			if e.ID == 4 {
				t.Fatalf("excluded id 4 returned: %v", pickIDs(got))
			}
			if seen[e.ID] {
				t.Fatalf("duplicate id %d in %v", e.ID, pickIDs(got))
			}
			seen[e.ID] = true
		}
	}
}

func TestSelectScoringFailureFallsBack(t *testing.T) {
	t.Run("failed candidate ranks last", func(t *testing.T) {
		src := &memSource{entries: entries(1, 2, 3)}
		// entry 1 would be best but its scorer fails
		s := NewSelector(src, scoreTable(map[int64]float64{1: 0.9, 2: 0.5, 3: 0.1}, 1), SelectorConfig{PExploit: 1}, alwaysExploit)
		got, err := s.Select(context.Background(), nil, 3)
		if err != nil {
			t.Fatalf("Select() error = %v", err)
		}
		if !sameIDs(pickIDs(got), []int64{2, 3, 1}) {
			t.Errorf("Select() = %v, want [2 3 1]", pickIDs(got))
		}
	})

	t.Run("every candidate fails", func(t *testing.T) {
		src := &memSource{entries: entries(3, 1, 2)}
		s := NewSelector(src, scoreTable(nil, 1, 2, 3), SelectorConfig{PExploit: 1}, alwaysExploit)
		got, err := s.Select(context.Background(), nil, 2)
		if err != nil {
			t.Fatalf("Select() error = %v", err)
		}
		if !sameIDs(pickIDs(got), []int64{1, 2}) {
			t.Errorf("Select() = %v, want [1 2]", pickIDs(got))
		}
	})

	t.Run("out of range score", func(t *testing.T) {
		src := &memSource{entries: entries(1, 2)}
		s := NewSelector(src, scoreTable(map[int64]float64{1: 3.5, 2: 0.2}), SelectorConfig{PExploit: 1}, alwaysExploit)
		got, _ := s.Select(context.Background(), nil, 1)
		if !sameIDs(pickIDs(got), []int64{2}) {
			t.Errorf("Select() = %v, want [2]", pickIDs(got))
		}
	})
}

func TestSelectTiesBreakOnAscendingID(t *testing.T) {
	src := &memSource{entries: entries(9, 4, 6)}
	s := NewSelector(src, scoreTable(map[int64]float64{9: 0.5, 4: 0.5, 6: 0.5}), SelectorConfig{PExploit: 1}, alwaysExploit)

	got, err := s.Select(context.Background(), nil, 3)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if !sameIDs(pickIDs(got), []int64{4, 6, 9}) {
		t.Errorf("Select() = %v, want [4 6 9]", pickIDs(got))
	}
}

func TestSelectRepeatFeedPenalty(t *testing.T) {
	es := []models.Entry{
		{ID: 1, FeedID: 1},
		{ID: 2, FeedID: 1},
		{ID: 3, FeedID: 2},
	}
	scores := map[int64]float64{1: 0.9, 2: 0.8, 3: 0.5}

	tests := []struct {
		name    string
		penalty float64
		want    []int64
	}{
		{"disabled", 1, []int64{1, 2, 3}},
		{"penalized", 0.3, []int64{1, 3, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &memSource{entries: es}
			s := NewSelector(src, scoreTable(scores), SelectorConfig{PExploit: 1, RepeatFeedPenalty: tt.penalty}, alwaysExploit)
			got, _ := s.Select(context.Background(), nil, 3)
			if !sameIDs(pickIDs(got), tt.want) {
				t.Errorf("Select() = %v, want %v", pickIDs(got), tt.want)
			}
		})
	}
}

func TestSelectSourceError(t *testing.T) {
	boom := errors.New("database is locked")
	s := NewSelector(&memSource{err: boom}, threeEntryScorer(), SelectorConfig{PExploit: 0.8}, alwaysExploit)

	if _, err := s.Select(context.Background(), nil, 3); !errors.Is(err, boom) {
		t.Errorf("Select() error = %v, want %v", err, boom)
	}
	if _, err := NewDispatcher(s, 5).GetBatch(context.Background(), nil, 3); !errors.Is(err, boom) {
		t.Errorf("GetBatch() error = %v, want %v", err, boom)
	}
}

func TestSelectWithRegistry(t *testing.T) {
	reg := scoring.NewRegistry(threeEntryScorer())
	src := &memSource{entries: entries(1, 2, 3)}
	s := NewSelector(src, reg, SelectorConfig{PExploit: 1}, alwaysExploit)

	got, _ := s.Select(context.Background(), nil, 1)
	if got[0].ID != 1 {
		t.Fatalf("default scorer picked %d, want 1", got[0].ID)
	}

	reg.Activate(scoreTable(map[int64]float64{1: 0.1, 2: 0.2, 3: 0.99}), 1)
	got, _ = s.Select(context.Background(), nil, 1)
	if got[0].ID != 3 {
		t.Errorf("activated scorer picked %d, want 3", got[0].ID)
	}
}

func TestDispatcherClampsCount(t *testing.T) {
	ids := []int64{1, 2, 3, 4, 5, 6, 7}
	tests := []struct {
		requested int
		want      int
	}{
		{0, DefaultBatchSize},
		{-2, DefaultBatchSize},
		{1, 1},
		{4, 4},
		{50, 5},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("count=%d", tt.requested), func(t *testing.T) {
			s := NewSelector(&memSource{entries: entries(ids...)}, scoring.NewHeuristicScorer(0), SelectorConfig{PExploit: 0.8}, nil)
			d := NewDispatcher(s, 5)

			b, err := d.GetBatch(context.Background(), nil, tt.requested)
			if err != nil {
				t.Fatalf("GetBatch() error = %v", err)
			}
			if len(b.Posts) != tt.want || b.Count != tt.want {
				t.Errorf("len = %d (count %d), want %d", len(b.Posts), b.Count, tt.want)
			}
		})
	}
}

func TestDispatcherEmptyBatchIsSuccess(t *testing.T) {
	s := NewSelector(&memSource{}, threeEntryScorer(), SelectorConfig{PExploit: 0.8}, nil)
	b, err := NewDispatcher(s, 5).GetBatch(context.Background(), []int64{1}, 3)
	if err != nil {
		t.Fatalf("GetBatch() error = %v", err)
	}
	if b.Posts == nil || len(b.Posts) != 0 || b.Count != 0 || b.Message == "" {
		t.Errorf("GetBatch() = %+v", b)
	}
}

func TestGetNextNeverRepeatsWithinSession(t *testing.T) {
	ids := []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	scores := map[int64]float64{}
	for _, id := range ids {
		scores[id] = float64(id) / 20
	}
	s := NewSelector(&memSource{entries: entries(ids...)}, scoreTable(scores), SelectorConfig{PExploit: 0.8}, rand.New(rand.NewSource(3)))
	d := NewDispatcher(s, 5)

	var served []int64
	seen := map[int64]bool{}
	for range ids {
		e, err := d.GetNext(context.Background(), served)
		if err != nil {
			t.Fatalf("GetNext() after %v error = %v", served, err)
		}
		if seen[e.ID] {
			t.Fatalf("id %d served twice: %v", e.ID, served)
		}
		seen[e.ID] = true
		served = append(served, e.ID)
	}

	if _, err := d.GetNext(context.Background(), served); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetNext() on exhausted session error = %v, want ErrNotFound", err)
	}
}
