package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/thomaskoefod/cardreadr/pkg/models"
)

// AddInterest inserts a new user interest
func (db *DB) AddInterest(ctx context.Context, interest *models.UserInterest) error {
	result, err := db.ExecContext(ctx,
		"INSERT INTO user_interests (description, weight, embedding) VALUES (?, ?, ?)",
		interest.Description, interest.Weight, interest.Embedding,
	)
	if err != nil {
		return fmt.Errorf("inserting interest: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}

	interest.ID = id
	return nil
}

// GetInterests retrieves all user interests
func (db *DB) GetInterests(ctx context.Context) ([]models.UserInterest, error) {
	rows, err := db.QueryContext(ctx, "SELECT id, description, weight, embedding FROM user_interests")
	if err != nil {
		return nil, fmt.Errorf("querying interests: %w", err)
	}
	defer rows.Close()

	var interests []models.UserInterest
	for rows.Next() {
		var interest models.UserInterest
		var embedding sql.RawBytes
		if err := rows.Scan(&interest.ID, &interest.Description, &interest.Weight, &embedding); err != nil {
			return nil, fmt.Errorf("scanning interest: %w", err)
		}
		if len(embedding) > 0 {
			interest.Embedding = append([]byte(nil), embedding...)
		}
		interests = append(interests, interest)
	}

	return interests, rows.Err()
}

// SyncInterests makes the stored interests match descriptions, keeping
// cached embeddings for phrases that did not change
func (db *DB) SyncInterests(ctx context.Context, descriptions []string) error {
	existing, err := db.GetInterests(ctx)
	if err != nil {
		return err
	}

	want := make(map[string]bool, len(descriptions))
	for _, d := range descriptions {
		want[d] = true
	}

	have := make(map[string]bool, len(existing))
	for _, in := range existing {
		have[in.Description] = true
		if !want[in.Description] {
			if _, err := db.ExecContext(ctx, "DELETE FROM user_interests WHERE id = ?", in.ID); err != nil {
				return fmt.Errorf("deleting interest: %w", err)
			}
		}
	}

	for _, d := range descriptions {
		if have[d] {
			continue
		}
		if err := db.AddInterest(ctx, &models.UserInterest{Description: d, Weight: 1.0}); err != nil {
			return err
		}
	}
	return nil
}

// UpdateInterestEmbedding caches the embedding for an interest
func (db *DB) UpdateInterestEmbedding(ctx context.Context, id int64, embedding []byte) error {
	_, err := db.ExecContext(ctx, "UPDATE user_interests SET embedding = ? WHERE id = ?", embedding, id)
	if err != nil {
		return fmt.Errorf("updating interest embedding: %w", err)
	}
	return nil
}
