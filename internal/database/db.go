package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

var (
	ErrFeedExists = errors.New("feed already exists")
	ErrNotFound   = errors.New("not found")
)

type DB struct {
	*sql.DB
}

// New creates a new database connection and initializes schema
func New(dbPath string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them, not just the first
	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	d := &DB{db}
	if err := d.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return d, nil
}

// initSchema creates database tables if they don't exist
func (db *DB) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS feeds (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			url TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			error_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			feed_id INTEGER NOT NULL,
			guid TEXT NOT NULL,
			title TEXT NOT NULL,
			link TEXT NOT NULL DEFAULT '',
			permalink TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			author TEXT NOT NULL DEFAULT '',
			image_url TEXT NOT NULL DEFAULT '',
			word_count INTEGER NOT NULL DEFAULT 0,
			has_media INTEGER NOT NULL DEFAULT 0,
			published_at TIMESTAMP NOT NULL,
			fetched_at TIMESTAMP NOT NULL,
			FOREIGN KEY (feed_id) REFERENCES feeds(id) ON DELETE CASCADE,
			UNIQUE(feed_id, guid)
		);

		CREATE TABLE IF NOT EXISTS user_votes (
			entry_id INTEGER PRIMARY KEY,
			vote TEXT NOT NULL CHECK(vote IN ('like', 'neutral', 'dislike')),
			voted_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS link_opens (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			entry_id INTEGER NOT NULL,
			opened_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS time_spent (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			entry_id INTEGER NOT NULL,
			seconds INTEGER NOT NULL,
			recorded_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS scorer_models (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			filename TEXT NOT NULL UNIQUE,
			is_active INTEGER NOT NULL DEFAULT 0,
			uploaded_at TIMESTAMP NOT NULL,
			metadata TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS user_interests (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			description TEXT NOT NULL,
			weight REAL NOT NULL DEFAULT 1.0,
			embedding BLOB
		);

		CREATE INDEX IF NOT EXISTS idx_entries_feed_published ON entries(feed_id, published_at);
		CREATE INDEX IF NOT EXISTS idx_opens_entry ON link_opens(entry_id);
		CREATE INDEX IF NOT EXISTS idx_time_entry ON time_spent(entry_id);
		CREATE INDEX IF NOT EXISTS idx_votes_voted_at ON user_votes(voted_at);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	return nil
}
