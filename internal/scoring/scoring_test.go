package scoring

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/thomaskoefod/cardreadr/internal/database"
	"github.com/thomaskoefod/cardreadr/pkg/models"
)

func constant(name string, p float64, err error) Func {
	return Func{Label: name, Fn: func(context.Context, models.Entry) (float64, error) { return p, err }}
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(constant("default", 0.5, nil))

	if !r.UsingDefault() || r.Name() != "default" {
		t.Fatalf("fresh registry = %q, using default %v", r.Name(), r.UsingDefault())
	}

	r.Activate(constant("model", 0.9, nil), 7)
	p, err := r.Score(ctx, models.Entry{ID: 1})
	if err != nil || p != 0.9 {
		t.Errorf("Score() = %v, %v; want 0.9", p, err)
	}
	if r.ActiveModelID() != 7 || r.UsingDefault() {
		t.Errorf("ActiveModelID() = %d, UsingDefault() = %v", r.ActiveModelID(), r.UsingDefault())
	}

	r.Deactivate()
	if r.Name() != "default" || r.ActiveModelID() != 0 {
		t.Errorf("after Deactivate name = %q, id = %d", r.Name(), r.ActiveModelID())
	}
}

func TestRegistryRejectsNonProbabilities(t *testing.T) {
	tests := []struct {
		name  string
		score float64
	}{
		{"negative", -0.1},
		{"above one", 1.5},
		{"nan", math.NaN()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(constant("bad", tt.score, nil))
			if _, err := r.Score(context.Background(), models.Entry{}); !errors.Is(err, ErrInvalidScore) {
				t.Errorf("Score() error = %v, want ErrInvalidScore", err)
			}
		})
	}

	t.Run("scorer error", func(t *testing.T) {
		boom := errors.New("boom")
		r := NewRegistry(constant("bad", 0, boom))
		if _, err := r.Score(context.Background(), models.Entry{}); !errors.Is(err, boom) {
			t.Errorf("Score() error = %v, want boom", err)
		}
	})
}

func TestHeuristicScorer(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	h := NewHeuristicScorer(48 * time.Hour)
	h.Now = func() time.Time { return now }
	ctx := context.Background()

	fresh, _ := h.Score(ctx, models.Entry{PublishedAt: now})
	old, _ := h.Score(ctx, models.Entry{PublishedAt: now.Add(-48 * time.Hour)})
	media, _ := h.Score(ctx, models.Entry{PublishedAt: now.Add(-48 * time.Hour), HasMedia: true})
	future, _ := h.Score(ctx, models.Entry{PublishedAt: now.Add(time.Hour)})

	if math.Abs(fresh-0.9) > 1e-9 {
		t.Errorf("fresh = %v, want 0.9", fresh)
	}
	if math.Abs(old-0.45) > 1e-9 {
		t.Errorf("one half-life old = %v, want 0.45", old)
	}
	if math.Abs(media-0.55) > 1e-9 {
		t.Errorf("with media = %v, want 0.55", media)
	}
	if future != fresh {
		t.Errorf("future = %v, want %v", future, fresh)
	}
}

func TestParseModel(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{"valid", `{"bias": -1, "weights": {"has_media": 2}, "feed_weights": {"Go Blog": 0.5}}`, false},
		{"feed weights only", `{"bias": 0, "feed_weights": {"Go Blog": 1}}`, false},
		{"not json", `weights`, true},
		{"no weights", `{"bias": 1}`, true},
		{"unknown feature", `{"weights": {"sentiment": 1}}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseModel([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseModel() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidModel) {
				t.Errorf("error = %v, want ErrInvalidModel", err)
			}
		})
	}
}

func TestTrainedScorer(t *testing.T) {
	model, err := ParseModel([]byte(`{"bias": -1, "weights": {"has_media": 2}, "feed_weights": {"Go Blog": 1}}`))
	if err != nil {
		t.Fatalf("ParseModel() error = %v", err)
	}
	s := NewTrainedScorer("", model)
	if s.Name() != "trained" {
		t.Errorf("Name() = %q, want trained", s.Name())
	}

	ctx := context.Background()
	plain, _ := s.Score(ctx, models.Entry{})
	liked, _ := s.Score(ctx, models.Entry{HasMedia: true, FeedName: "Go Blog"})

	if math.Abs(plain-sigmoid(-1)) > 1e-9 {
		t.Errorf("plain = %v, want %v", plain, sigmoid(-1))
	}
	if math.Abs(liked-sigmoid(2)) > 1e-9 {
		t.Errorf("liked = %v, want %v", liked, sigmoid(2))
	}
}

func TestFeatures(t *testing.T) {
	saturday := time.Date(2025, 3, 8, 15, 0, 0, 0, time.UTC)
	f := Features(models.Entry{
		Title:       "Three word title",
		Description: "one two",
		PublishedAt: saturday,
		WordCount:   460,
	})

	want := map[string]float64{
		FeatureTitleWords:       3,
		FeatureDescriptionWords: 2,
		FeatureWordCount:        460,
		FeatureReadingTime:      2,
		FeatureHasMedia:         0,
		FeaturePublishedHour:    15,
		FeatureWeekend:          1,
	}
	for k, v := range want {
		if f[k] != v {
			t.Errorf("%s = %v, want %v", k, f[k], v)
		}
	}
}

type memInterests struct {
	interests []models.UserInterest
	cached    map[int64][]byte
}

func (m *memInterests) GetInterests(context.Context) ([]models.UserInterest, error) {
	return m.interests, nil
}

func (m *memInterests) UpdateInterestEmbedding(_ context.Context, id int64, emb []byte) error {
	m.cached[id] = emb
	return nil
}

func TestInterestScorer(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embeddingRequest
		json.NewDecoder(r.Body).Decode(&req)
		calls.Add(1)
		emb := []float64{1, 0}
		if req.Prompt == "cooking" {
			emb = []float64{0, 1}
		}
		json.NewEncoder(w).Encode(embeddingResponse{Embedding: emb})
	}))
	defer srv.Close()

	store := &memInterests{
		interests: []models.UserInterest{{ID: 1, Description: "golang", Weight: 1}},
		cached:    map[int64][]byte{},
	}
	s := NewInterestScorer(NewOllamaClient(srv.URL, "nomic-embed-text"), store)

	p, err := s.Score(context.Background(), models.Entry{ID: 10, Title: "Go 1.25"})
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if math.Abs(p-1) > 1e-9 {
		t.Errorf("Score() = %v, want 1", p)
	}
	if len(store.cached[1]) == 0 {
		t.Error("interest embedding was not cached")
	}

	// the entry embedding is now cached; the fake store never hands the interest embedding back
	before := calls.Load()
	s.Score(context.Background(), models.Entry{ID: 10, Title: "Go 1.25"})
	if got := calls.Load() - before; got != 1 {
		t.Errorf("second Score() made %d requests, want 1", got)
	}

	store.interests = []models.UserInterest{{ID: 2, Description: "cooking", Weight: 1}}
	p, _ = s.Score(context.Background(), models.Entry{ID: 10})
	if math.Abs(p-0.5) > 1e-9 {
		t.Errorf("orthogonal Score() = %v, want 0.5", p)
	}
}

func TestInterestScorerWithoutInterests(t *testing.T) {
	s := NewInterestScorer(NewOllamaClient("http://127.0.0.1:0", "m"), &memInterests{cached: map[int64][]byte{}})
	if _, err := s.Score(context.Background(), models.Entry{}); err == nil {
		t.Error("Score() with no interests succeeded")
	}
}

const validModel = `{"name": "v1", "bias": 0.5, "weights": {"has_media": 1}, "saved_at": "2025-03-01", "metrics": {"roc_auc": 0.71}}`

func newTestManager(t *testing.T) (*ModelManager, *Registry, string) {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("database.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	dir := filepath.Join(t.TempDir(), "models")
	reg := NewRegistry(NewHeuristicScorer(48 * time.Hour))
	return NewModelManager(db, dir, reg), reg, dir
}

func TestModelManagerLifecycle(t *testing.T) {
	m, reg, dir := newTestManager(t)
	ctx := context.Background()

	rec, err := m.Upload(ctx, "", "../my model.json", []byte(validModel))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if rec.Name != "my model" {
		t.Errorf("Name = %q, want %q", rec.Name, "my model")
	}
	if filepath.Dir(filepath.Join(dir, rec.Filename)) != dir {
		t.Errorf("Filename %q escapes models dir", rec.Filename)
	}
	if _, err := os.Stat(filepath.Join(dir, rec.Filename)); err != nil {
		t.Fatalf("model file missing: %v", err)
	}
	if !reg.UsingDefault() {
		t.Error("upload activated the model")
	}

	if err := m.Activate(ctx, rec.ID); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	if reg.Name() != "my model" || reg.ActiveModelID() != rec.ID {
		t.Errorf("active = %q (%d)", reg.Name(), reg.ActiveModelID())
	}

	if err := m.Delete(ctx, rec.ID); !errors.Is(err, ErrActiveModel) {
		t.Errorf("Delete(active) error = %v, want ErrActiveModel", err)
	}

	st, err := m.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.UsingDefault || st.ActiveModel == nil || st.ActiveModel.ID != rec.ID || st.TotalModels != 1 {
		t.Errorf("Status() = %+v", st)
	}

	if err := m.Deactivate(ctx); err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}
	if !reg.UsingDefault() || reg.Name() != "heuristic" {
		t.Errorf("after Deactivate scorer = %q", reg.Name())
	}

	if err := m.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, rec.Filename)); !os.IsNotExist(err) {
		t.Errorf("model file still present: %v", err)
	}
	if err := m.Delete(ctx, rec.ID); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestModelManagerUploadInvalid(t *testing.T) {
	m, _, dir := newTestManager(t)

	_, err := m.Upload(context.Background(), "bad", "bad.json", []byte(`{"bias": 1}`))
	if !errors.Is(err, ErrInvalidModel) {
		t.Fatalf("Upload() error = %v, want ErrInvalidModel", err)
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Errorf("invalid upload left %d files", len(entries))
	}
}

func TestModelManagerRestore(t *testing.T) {
	m, reg, dir := newTestManager(t)
	ctx := context.Background()

	rec, err := m.Upload(ctx, "v1", "v1.json", []byte(validModel))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if err := m.Activate(ctx, rec.ID); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}

	// a fresh process starts on the default scorer
	reg.Deactivate()
	if err := m.Restore(ctx); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if reg.ActiveModelID() != rec.ID {
		t.Errorf("restored model = %d, want %d", reg.ActiveModelID(), rec.ID)
	}

	reg.Deactivate()
	os.Remove(filepath.Join(dir, rec.Filename))
	if err := m.Restore(ctx); err != nil {
		t.Fatalf("Restore() with missing file error = %v", err)
	}
	if !reg.UsingDefault() {
		t.Error("broken model was activated")
	}
	st, _ := m.Status(ctx)
	if st.ActiveModel != nil {
		t.Errorf("broken model still flagged active: %+v", st.ActiveModel)
	}
}
