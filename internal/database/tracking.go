package database

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/thomaskoefod/cardreadr/pkg/models"
)

// UpsertVote stores the vote for an entry. Each entry holds at most one
// vote; voting again replaces the earlier vote and its timestamp, so
// aggregate counts never see the entry twice.
func (db *DB) UpsertVote(ctx context.Context, entryID int64, vote models.Vote) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO user_votes (entry_id, vote, voted_at)
		VALUES (?, ?, ?)
		ON CONFLICT(entry_id) DO UPDATE SET
			vote = excluded.vote,
			voted_at = excluded.voted_at`,
		entryID, string(vote), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording vote: %w", err)
	}
	return nil
}

// InsertLinkOpen appends a link-open event
func (db *DB) InsertLinkOpen(ctx context.Context, entryID int64) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO link_opens (entry_id, opened_at) VALUES (?, ?)", entryID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("recording link open: %w", err)
	}
	return nil
}

// InsertTimeSpent appends a dwell-time event
func (db *DB) InsertTimeSpent(ctx context.Context, entryID int64, seconds int) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO time_spent (entry_id, seconds, recorded_at) VALUES (?, ?, ?)", entryID, seconds, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("recording time spent: %w", err)
	}
	return nil
}

// GetStats aggregates vote and engagement counters. since is the start of
// "today" as the caller defines it.
func (db *DB) GetStats(ctx context.Context, since time.Time) (*models.Stats, error) {
	var s models.Stats

	err := db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN vote = 'like' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN vote = 'neutral' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN vote = 'dislike' THEN 1 ELSE 0 END), 0)
		FROM user_votes`).Scan(&s.PostsReviewed, &s.Likes, &s.Neutral, &s.Dislikes)
	if err != nil {
		return nil, fmt.Errorf("counting votes: %w", err)
	}

	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM link_opens").Scan(&s.LinksOpened); err != nil {
		return nil, fmt.Errorf("counting link opens: %w", err)
	}

	if err := db.QueryRowContext(ctx, "SELECT COALESCE(SUM(seconds), 0) FROM time_spent").Scan(&s.TotalTimeSeconds); err != nil {
		return nil, fmt.Errorf("summing time spent: %w", err)
	}

	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM user_votes WHERE voted_at >= ?", since.UTC()).Scan(&s.TodayVotes); err != nil {
		return nil, fmt.Errorf("counting today's votes: %w", err)
	}

	total, err := db.CountEntries(ctx)
	if err != nil {
		return nil, err
	}

	s.TotalPosts = total
	s.PostsRemaining = total - s.PostsReviewed
	s.TotalTimeMinutes = math.Round(float64(s.TotalTimeSeconds)/60*10) / 10
	if total > 0 {
		s.CompletionPercent = math.Round(float64(s.PostsReviewed)/float64(total)*1000) / 10
	}

	return &s, nil
}

// GetEntryDetails returns the recorded engagement for one entry
func (db *DB) GetEntryDetails(ctx context.Context, entryID int64) (*models.EntryDetails, error) {
	d := models.EntryDetails{EntryID: entryID}

	var vote string
	var votedAt time.Time
	err := db.QueryRowContext(ctx, "SELECT vote, voted_at FROM user_votes WHERE entry_id = ?", entryID).Scan(&vote, &votedAt)
	switch {
	case err == nil:
		v := models.Vote(vote)
		d.Vote = &v
		d.VotedAt = &votedAt
	case isNoRows(err):
	default:
		return nil, fmt.Errorf("querying vote: %w", err)
	}

	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM link_opens WHERE entry_id = ?", entryID).Scan(&d.OpenCount); err != nil {
		return nil, fmt.Errorf("counting link opens: %w", err)
	}

	var total sql.NullInt64
	if err := db.QueryRowContext(ctx, "SELECT SUM(seconds) FROM time_spent WHERE entry_id = ?", entryID).Scan(&total); err != nil {
		return nil, fmt.Errorf("summing time spent: %w", err)
	}
	d.TotalTimeSeconds = int(total.Int64)

	return &d, nil
}
