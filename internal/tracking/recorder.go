// Package tracking records reader interactions against entries.
package tracking

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/thomaskoefod/cardreadr/internal/logging"
	"github.com/thomaskoefod/cardreadr/internal/metrics"
	"github.com/thomaskoefod/cardreadr/pkg/models"
)

// MinDwellSeconds is the shortest dwell time worth storing.
const MinDwellSeconds = 1

var (
	ErrInvalidVote  = errors.New("vote must be like, neutral or dislike")
	ErrInvalidEntry = errors.New("entry_id must be positive")
)

// Store is the append side of the interaction ledger.
type Store interface {
	UpsertVote(ctx context.Context, entryID int64, vote models.Vote) error
	InsertLinkOpen(ctx context.Context, entryID int64) error
	InsertTimeSpent(ctx context.Context, entryID int64, seconds int) error
}

type Recorder struct {
	store  Store
	logger zerolog.Logger
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{
		store:  store,
		logger: logging.With().Str("component", "tracking").Logger(),
	}
}

// RecordVote stores the reader's vote. A later vote for the same entry
// replaces the earlier one.
func (r *Recorder) RecordVote(ctx context.Context, entryID int64, vote models.Vote) error {
	if entryID <= 0 {
		return ErrInvalidEntry
	}
	if !vote.Valid() {
		return fmt.Errorf("%w: got %q", ErrInvalidVote, vote)
	}
	if err := r.store.UpsertVote(ctx, entryID, vote); err != nil {
		return err
	}
	metrics.RecordInteraction("vote")
	r.logger.Debug().Int64("entry_id", entryID).Str("vote", string(vote)).Msg("Vote recorded")
	return nil
}

func (r *Recorder) RecordOpen(ctx context.Context, entryID int64) error {
	if entryID <= 0 {
		return ErrInvalidEntry
	}
	if err := r.store.InsertLinkOpen(ctx, entryID); err != nil {
		return err
	}
	metrics.RecordInteraction("open")
	return nil
}

// RecordTime stores a dwell time. Durations under a second are noise and
// are dropped without error. It reports whether anything was written.
func (r *Recorder) RecordTime(ctx context.Context, entryID int64, seconds int) (bool, error) {
	if entryID <= 0 {
		return false, ErrInvalidEntry
	}
	if seconds < MinDwellSeconds {
		metrics.RecordInteraction("time_discarded")
		return false, nil
	}
	if err := r.store.InsertTimeSpent(ctx, entryID, seconds); err != nil {
		return false, err
	}
	metrics.RecordInteraction("time")
	return true, nil
}
