package database

import (
	"context"
	"fmt"
	"time"

	"github.com/thomaskoefod/cardreadr/pkg/models"
)

const scorerModelColumns = "id, name, filename, is_active, uploaded_at, metadata"

// SaveScorerModel registers an uploaded model file
func (db *DB) SaveScorerModel(ctx context.Context, m *models.ScorerModel) error {
	if m.UploadedAt.IsZero() {
		m.UploadedAt = time.Now().UTC()
	}

	result, err := db.ExecContext(ctx,
		"INSERT INTO scorer_models (name, filename, is_active, uploaded_at, metadata) VALUES (?, ?, 0, ?, ?)",
		m.Name, m.Filename, m.UploadedAt, m.Metadata,
	)
	if err != nil {
		return fmt.Errorf("inserting scorer model: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}

	m.ID = id
	return nil
}

// GetScorerModels lists registered models, newest first
func (db *DB) GetScorerModels(ctx context.Context) ([]models.ScorerModel, error) {
	rows, err := db.QueryContext(ctx, "SELECT "+scorerModelColumns+" FROM scorer_models ORDER BY uploaded_at DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("querying scorer models: %w", err)
	}
	defer rows.Close()

	var out []models.ScorerModel
	for rows.Next() {
		var m models.ScorerModel
		if err := rows.Scan(&m.ID, &m.Name, &m.Filename, &m.IsActive, &m.UploadedAt, &m.Metadata); err != nil {
			return nil, fmt.Errorf("scanning scorer model: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetScorerModel retrieves one model or ErrNotFound
func (db *DB) GetScorerModel(ctx context.Context, id int64) (*models.ScorerModel, error) {
	var m models.ScorerModel
	err := db.QueryRowContext(ctx, "SELECT "+scorerModelColumns+" FROM scorer_models WHERE id = ?", id).
		Scan(&m.ID, &m.Name, &m.Filename, &m.IsActive, &m.UploadedAt, &m.Metadata)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying scorer model: %w", err)
	}
	return &m, nil
}

// GetActiveScorerModel returns the active model or ErrNotFound when the
// default scorer is in use
func (db *DB) GetActiveScorerModel(ctx context.Context) (*models.ScorerModel, error) {
	var m models.ScorerModel
	err := db.QueryRowContext(ctx, "SELECT "+scorerModelColumns+" FROM scorer_models WHERE is_active = 1 LIMIT 1").
		Scan(&m.ID, &m.Name, &m.Filename, &m.IsActive, &m.UploadedAt, &m.Metadata)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying active scorer model: %w", err)
	}
	return &m, nil
}

// ActivateScorerModel marks id as the only active model
func (db *DB) ActivateScorerModel(ctx context.Context, id int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "UPDATE scorer_models SET is_active = 0"); err != nil {
		return fmt.Errorf("clearing active model: %w", err)
	}
	res, err := tx.ExecContext(ctx, "UPDATE scorer_models SET is_active = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("activating model: %w", err)
	}
	if err := expectRow(res); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing activation: %w", err)
	}
	return nil
}

// DeactivateScorerModels clears the active flag on every model
func (db *DB) DeactivateScorerModels(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, "UPDATE scorer_models SET is_active = 0"); err != nil {
		return fmt.Errorf("deactivating models: %w", err)
	}
	return nil
}

// DeleteScorerModel removes a registry row
func (db *DB) DeleteScorerModel(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, "DELETE FROM scorer_models WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting scorer model: %w", err)
	}
	return expectRow(res)
}
