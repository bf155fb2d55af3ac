package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/thomaskoefod/cardreadr/pkg/models"
)

// AddFeed inserts a new feed. A duplicate URL returns ErrFeedExists.
func (db *DB) AddFeed(ctx context.Context, feed *models.Feed) error {
	if feed.CreatedAt.IsZero() {
		feed.CreatedAt = time.Now().UTC()
	}

	result, err := db.ExecContext(ctx,
		"INSERT INTO feeds (url, name, enabled, created_at) VALUES (?, ?, ?, ?)",
		feed.URL, feed.Name, feed.Enabled, feed.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrFeedExists
		}
		return fmt.Errorf("inserting feed: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}

	feed.ID = id
	return nil
}

// GetFeeds retrieves all feeds
func (db *DB) GetFeeds(ctx context.Context) ([]models.Feed, error) {
	return db.queryFeeds(ctx, "SELECT id, url, name, enabled, error_count, last_error, created_at FROM feeds ORDER BY name")
}

// GetEnabledFeeds retrieves only enabled feeds
func (db *DB) GetEnabledFeeds(ctx context.Context) ([]models.Feed, error) {
	return db.queryFeeds(ctx, "SELECT id, url, name, enabled, error_count, last_error, created_at FROM feeds WHERE enabled = 1 ORDER BY name")
}

func (db *DB) queryFeeds(ctx context.Context, query string) ([]models.Feed, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying feeds: %w", err)
	}
	defer rows.Close()

	var feeds []models.Feed
	for rows.Next() {
		var feed models.Feed
		if err := rows.Scan(&feed.ID, &feed.URL, &feed.Name, &feed.Enabled, &feed.ErrorCount, &feed.LastError, &feed.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning feed: %w", err)
		}
		feeds = append(feeds, feed)
	}

	return feeds, rows.Err()
}

// SetFeedEnabled toggles whether a feed is fetched on refresh
func (db *DB) SetFeedEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := db.ExecContext(ctx, "UPDATE feeds SET enabled = ? WHERE id = ?", enabled, id)
	if err != nil {
		return fmt.Errorf("updating feed: %w", err)
	}
	return expectRow(res)
}

// DeleteFeed removes a feed and its entries
func (db *DB) DeleteFeed(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, "DELETE FROM feeds WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting feed: %w", err)
	}
	return expectRow(res)
}

// RecordFeedError bumps the error counter after a failed fetch
func (db *DB) RecordFeedError(ctx context.Context, id int64, msg string) error {
	_, err := db.ExecContext(ctx,
		"UPDATE feeds SET error_count = error_count + 1, last_error = ? WHERE id = ?", msg, id)
	if err != nil {
		return fmt.Errorf("recording feed error: %w", err)
	}
	return nil
}

// ResetFeedErrors clears the error counter after a successful fetch
func (db *DB) ResetFeedErrors(ctx context.Context, id int64) error {
	_, err := db.ExecContext(ctx, "UPDATE feeds SET error_count = 0, last_error = '' WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("resetting feed errors: %w", err)
	}
	return nil
}
