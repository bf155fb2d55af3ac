// Package recommend chooses which unseen entries to serve next.
//
// Selection is a pure function of its inputs: the exclusion set, the
// requested count, the stored votes and the active scorer. Nothing is
// reserved or marked as shown; callers keep track of what they have
// received and send it back as exclusions.
package recommend

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/thomaskoefod/cardreadr/internal/logging"
	"github.com/thomaskoefod/cardreadr/internal/metrics"
	"github.com/thomaskoefod/cardreadr/internal/scoring"
	"github.com/thomaskoefod/cardreadr/pkg/models"
)

// FallbackScore is assigned when the scorer fails for a candidate. It sits
// below every valid probability, so such candidates are only exploited
// once nothing scored remains.
const FallbackScore = -1.0

// DefaultPExploit is the exploit probability used when none is configured.
const DefaultPExploit = 0.8

// CandidateSource lists entries that have no vote and are not excluded.
type CandidateSource interface {
	UnvotedEntries(ctx context.Context, exclude []int64, limit int) ([]models.Entry, error)
}

// Rand is the randomness the policy consumes. *rand.Rand satisfies it.
type Rand interface {
	Float64() float64
	Intn(n int) int
}

// SelectorConfig tunes the selection policy.
type SelectorConfig struct {
	// PExploit is the per-slot probability of taking the best candidate.
	PExploit float64
	// CandidateLimit caps the pool read from storage, 0 for no cap.
	CandidateLimit int
	// RepeatFeedPenalty multiplies the score of candidates whose feed is
	// already in the batch. 1 disables it.
	RepeatFeedPenalty float64
}

// Selector implements the explore/exploit policy. It is safe for concurrent use.
type Selector struct {
	source CandidateSource
	scorer scoring.Scorer
	cfg    SelectorConfig
	logger zerolog.Logger

	// Random source (protected by rngMu for concurrent access)
	rng   Rand
	rngMu sync.Mutex
}

type candidate struct {
	entry models.Entry
	score float64
}

// NewSelector creates a selector. A nil rng is replaced by a time-seeded source.
func NewSelector(source CandidateSource, scorer scoring.Scorer, cfg SelectorConfig, rng Rand) *Selector {
	if cfg.PExploit < 0 || cfg.PExploit > 1 {
		cfg.PExploit = DefaultPExploit
	}
	if cfg.RepeatFeedPenalty <= 0 || cfg.RepeatFeedPenalty > 1 {
		cfg.RepeatFeedPenalty = 1
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // math/rand is fine for card shuffling
	}

	return &Selector{
		source: source,
		scorer: scorer,
		cfg:    cfg,
		rng:    rng,
		logger: logging.With().Str("component", "selector").Logger(),
	}
}

// Select returns up to count distinct entries not in exclude and not yet
// voted on. An exhausted pool yields an empty slice and no error.
//
// Each slot independently exploits with probability PExploit, taking the
// highest score (ties to the lower id). Otherwise it explores, choosing
// uniformly among the other candidates ordered by ascending id. A lone
// candidate is returned either way. Picked entries leave the pool.
func (s *Selector) Select(ctx context.Context, exclude []int64, count int) ([]models.Entry, error) {
	if count <= 0 {
		return []models.Entry{}, nil
	}

	start := time.Now()
	defer func() { metrics.RecordSelectionDuration(time.Since(start)) }()

	entries, err := s.source.UnvotedEntries(ctx, exclude, s.cfg.CandidateLimit)
	if err != nil {
		return nil, fmt.Errorf("loading candidates: %w", err)
	}
	if len(entries) == 0 {
		return []models.Entry{}, nil
	}

	pool, err := s.score(ctx, entries)
	if err != nil {
		return nil, err
	}

	picked := make([]models.Entry, 0, min(count, len(pool)))
	feeds := make(map[int64]bool)

	for len(picked) < count && len(pool) > 0 {
		best := s.best(pool, feeds)

		idx, exploit := s.choose(best, len(pool))
		metrics.RecordSelection(exploit)

		c := pool[idx]
		picked = append(picked, c.entry)
		feeds[c.entry.FeedID] = true
		pool = append(pool[:idx], pool[idx+1:]...)
	}

	s.logger.Debug().
		Int("requested", count).
		Int("returned", len(picked)).
		Int("excluded", len(exclude)).
		Str("scorer", s.scorer.Name()).
		Msg("Selected batch")

	return picked, nil
}

// score rates every entry and returns the candidates ordered by ascending id.
func (s *Selector) score(ctx context.Context, entries []models.Entry) ([]candidate, error) {
	pool := make([]candidate, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p, err := s.scorer.Score(ctx, e)
		if err == nil && (math.IsNaN(p) || p < 0 || p > 1) {
			err = fmt.Errorf("score %v: %w", p, scoring.ErrInvalidScore)
		}
		if err != nil {
			metrics.RecordScoringFailure()
			s.logger.Warn().Err(err).Int64("entry_id", e.ID).Msg("Scoring failed, using fallback score")
			p = FallbackScore
		}
		pool = append(pool, candidate{entry: e, score: p})
	}

	sort.Slice(pool, func(i, j int) bool { return pool[i].entry.ID < pool[j].entry.ID })
	return pool, nil
}

// best returns the index of the highest effective score. The pool is in
// ascending id order, so the strict comparison keeps the lowest id on ties.
func (s *Selector) best(pool []candidate, feeds map[int64]bool) int {
	best, bestScore := 0, s.effective(pool[0], feeds)
	for i := 1; i < len(pool); i++ {
		if sc := s.effective(pool[i], feeds); sc > bestScore {
			best, bestScore = i, sc
		}
	}
	return best
}

func (s *Selector) effective(c candidate, feeds map[int64]bool) float64 {
	if c.score > 0 && feeds[c.entry.FeedID] {
		return c.score * s.cfg.RepeatFeedPenalty
	}
	return c.score
}

// choose makes the per-slot decision and returns the pool index to take.
func (s *Selector) choose(best, n int) (int, bool) {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()

	if s.rng.Float64() < s.cfg.PExploit {
		return best, true
	}
	if n == 1 {
		return 0, false
	}

	// index into the pool with best removed
	i := s.rng.Intn(n - 1)
	if i >= best {
		i++
	}
	return i, false
}
