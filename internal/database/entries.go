package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/thomaskoefod/cardreadr/pkg/models"
)

const entryColumns = `e.id, e.feed_id, f.name, e.guid, e.title, e.link, e.permalink, e.description,
	e.content, e.author, e.image_url, e.word_count, e.has_media, e.published_at`

// AddEntry inserts an entry unless (feed_id, guid) already exists.
// It reports whether a row was written.
func (db *DB) AddEntry(ctx context.Context, entry *models.Entry) (bool, error) {
	result, err := db.ExecContext(ctx, `
		INSERT INTO entries (feed_id, guid, title, link, permalink, description, content,
			author, image_url, word_count, has_media, published_at, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(feed_id, guid) DO NOTHING`,
		entry.FeedID, entry.GUID, entry.Title, entry.Link, entry.Permalink, entry.Description, entry.Content,
		entry.Author, entry.ImageURL, entry.WordCount, entry.HasMedia, entry.PublishedAt.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("inserting entry: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	id, err := result.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("getting last insert id: %w", err)
	}
	entry.ID = id
	return true, nil
}

// UnvotedEntries returns every entry without a vote whose id is not in exclude.
//
// Entries are ordered newest first with feed diversity: the newest entry of
// every feed comes before the second newest of any feed. Ties break on id.
// limit <= 0 returns the whole pool.
func (db *DB) UnvotedEntries(ctx context.Context, exclude []int64, limit int) ([]models.Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM entries e
		JOIN feeds f ON f.id = e.feed_id
		LEFT JOIN user_votes v ON v.entry_id = e.id
		WHERE v.entry_id IS NULL`

	args := make([]any, 0, len(exclude))
	if len(exclude) > 0 {
		query += " AND e.id NOT IN (" + placeholders(len(exclude)) + ")"
		for _, id := range exclude {
			args = append(args, id)
		}
	}
	query += " ORDER BY e.feed_id, e.published_at DESC, e.id"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying unvoted entries: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}

	// Rows arrive grouped per feed, newest first, so the rank is the position within the group
	ranks := make(map[int64]int, len(entries))
	perFeed := make(map[int64]int)
	for _, e := range entries {
		ranks[e.ID] = perFeed[e.FeedID]
		perFeed[e.FeedID]++
	}

	sort.SliceStable(entries, func(i, j int) bool {
		ri, rj := ranks[entries[i].ID], ranks[entries[j].ID]
		if ri != rj {
			return ri < rj
		}
		if !entries[i].PublishedAt.Equal(entries[j].PublishedAt) {
			return entries[i].PublishedAt.After(entries[j].PublishedAt)
		}
		return entries[i].ID < entries[j].ID
	})

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// GetEntry retrieves a single entry
func (db *DB) GetEntry(ctx context.Context, id int64) (*models.Entry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM entries e
		JOIN feeds f ON f.id = e.feed_id
		WHERE e.id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("querying entry: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	return &entries[0], nil
}

// CountEntries returns the catalog size, voted or not.
func (db *DB) CountEntries(ctx context.Context) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting entries: %w", err)
	}
	return n, nil
}

// EntryExists reports whether id refers to a stored entry.
func (db *DB) EntryExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM entries WHERE id = ?)", id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking entry: %w", err)
	}
	return exists, nil
}

func scanEntries(rows *sql.Rows) ([]models.Entry, error) {
	var entries []models.Entry
	for rows.Next() {
		var e models.Entry
		if err := rows.Scan(&e.ID, &e.FeedID, &e.FeedName, &e.GUID, &e.Title, &e.Link, &e.Permalink, &e.Description,
			&e.Content, &e.Author, &e.ImageURL, &e.WordCount, &e.HasMedia, &e.PublishedAt); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
