package scoring

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/thomaskoefod/cardreadr/internal/database"
	"github.com/thomaskoefod/cardreadr/internal/logging"
	"github.com/thomaskoefod/cardreadr/pkg/models"
)

// ModelStore is the registry table behind the manager.
type ModelStore interface {
	SaveScorerModel(ctx context.Context, m *models.ScorerModel) error
	GetScorerModels(ctx context.Context) ([]models.ScorerModel, error)
	GetScorerModel(ctx context.Context, id int64) (*models.ScorerModel, error)
	GetActiveScorerModel(ctx context.Context) (*models.ScorerModel, error)
	ActivateScorerModel(ctx context.Context, id int64) error
	DeactivateScorerModels(ctx context.Context) error
	DeleteScorerModel(ctx context.Context, id int64) error
}

// Status reports which scorer is answering and what is registered.
type Status struct {
	ActiveModel   *models.ScorerModel  `json:"active_model"`
	UsingDefault  bool                 `json:"using_default"`
	DefaultScorer string               `json:"default_scorer"`
	TotalModels   int                  `json:"total_models"`
	Models        []models.ScorerModel `json:"models"`
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ModelManager stores uploaded model files and keeps the registry's active
// scorer in step with the database flag.
type ModelManager struct {
	store    ModelStore
	dir      string
	registry *Registry
	logger   zerolog.Logger
	now      func() time.Time
}

func NewModelManager(store ModelStore, dir string, registry *Registry) *ModelManager {
	return &ModelManager{
		store:    store,
		dir:      dir,
		registry: registry,
		logger:   logging.With().Str("component", "models").Logger(),
		now:      time.Now,
	}
}

// Upload validates data as a model file, writes it under the models
// directory and registers it. The new model is not activated.
func (m *ModelManager) Upload(ctx context.Context, name, filename string, data []byte) (*models.ScorerModel, error) {
	model, err := ParseModel(data)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return nil, fmt.Errorf("creating models directory: %w", err)
	}

	stored := m.now().UTC().Format("20060102_150405") + "_" + safeFilename(filename)
	if err := os.WriteFile(filepath.Join(m.dir, stored), data, 0644); err != nil {
		return nil, fmt.Errorf("writing model file: %w", err)
	}

	if name == "" {
		name = strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	}

	meta, err := json.Marshal(model.Info())
	if err != nil {
		return nil, fmt.Errorf("encoding model metadata: %w", err)
	}

	rec := &models.ScorerModel{Name: name, Filename: stored, Metadata: string(meta)}
	if err := m.store.SaveScorerModel(ctx, rec); err != nil {
		os.Remove(filepath.Join(m.dir, stored))
		return nil, err
	}

	m.logger.Info().Int64("model_id", rec.ID).Str("name", name).Msg("Model uploaded")
	return rec, nil
}

// Load reads and parses a registered model file.
func (m *ModelManager) Load(ctx context.Context, id int64) (*TrainedScorer, error) {
	rec, err := m.store.GetScorerModel(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.load(rec)
}

func (m *ModelManager) load(rec *models.ScorerModel) (*TrainedScorer, error) {
	data, err := os.ReadFile(filepath.Join(m.dir, rec.Filename))
	if err != nil {
		return nil, fmt.Errorf("reading model file: %w", err)
	}
	model, err := ParseModel(data)
	if err != nil {
		return nil, err
	}
	return NewTrainedScorer(rec.Name, model), nil
}

// Activate loads the model first, so a broken file leaves the current scorer in place.
func (m *ModelManager) Activate(ctx context.Context, id int64) error {
	scorer, err := m.Load(ctx, id)
	if err != nil {
		return err
	}
	if err := m.store.ActivateScorerModel(ctx, id); err != nil {
		return err
	}
	m.registry.Activate(scorer, id)
	m.logger.Info().Int64("model_id", id).Str("name", scorer.Name()).Msg("Model activated")
	return nil
}

// Deactivate reverts to the default scorer.
func (m *ModelManager) Deactivate(ctx context.Context) error {
	if err := m.store.DeactivateScorerModels(ctx); err != nil {
		return err
	}
	m.registry.Deactivate()
	m.logger.Info().Str("scorer", m.registry.Name()).Msg("Reverted to default scorer")
	return nil
}

// Delete removes a model that is not active.
func (m *ModelManager) Delete(ctx context.Context, id int64) error {
	rec, err := m.store.GetScorerModel(ctx, id)
	if err != nil {
		return err
	}
	if rec.IsActive {
		return ErrActiveModel
	}

	if err := m.store.DeleteScorerModel(ctx, id); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(m.dir, rec.Filename)); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.logger.Warn().Err(err).Str("file", rec.Filename).Msg("Failed to remove model file")
	}
	return nil
}

func (m *ModelManager) List(ctx context.Context) ([]models.ScorerModel, error) {
	return m.store.GetScorerModels(ctx)
}

func (m *ModelManager) Status(ctx context.Context) (*Status, error) {
	list, err := m.store.GetScorerModels(ctx)
	if err != nil {
		return nil, err
	}

	st := &Status{
		UsingDefault:  m.registry.UsingDefault(),
		DefaultScorer: m.registry.fallback.Name(),
		TotalModels:   len(list),
		Models:        list,
	}
	for i := range list {
		if list[i].IsActive {
			st.ActiveModel = &list[i]
		}
	}
	return st, nil
}

// Restore activates the model flagged active in the database, typically at
// startup. A model that no longer loads is deactivated.
func (m *ModelManager) Restore(ctx context.Context) error {
	rec, err := m.store.GetActiveScorerModel(ctx)
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	scorer, err := m.load(rec)
	if err != nil {
		m.logger.Warn().Err(err).Int64("model_id", rec.ID).Msg("Active model failed to load, using default scorer")
		return m.Deactivate(ctx)
	}

	m.registry.Activate(scorer, rec.ID)
	m.logger.Info().Int64("model_id", rec.ID).Str("name", rec.Name).Msg("Restored active model")
	return nil
}

func safeFilename(name string) string {
	name = unsafeChars.ReplaceAllString(filepath.Base(name), "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "model.json"
	}
	return name
}
