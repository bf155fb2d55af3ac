package scoring

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/thomaskoefod/cardreadr/pkg/models"
)

// wordsPerMinute drives the reading_time_minutes feature.
const wordsPerMinute = 230

// Feature names a trained model may weight.
const (
	FeatureTitleWords       = "title_word_count"
	FeatureDescriptionWords = "description_word_count"
	FeatureWordCount        = "word_count"
	FeatureReadingTime      = "reading_time_minutes"
	FeatureHasMedia         = "has_media"
	FeaturePublishedHour    = "published_hour"
	FeatureWeekend          = "is_weekend"
)

var knownFeatures = map[string]bool{
	FeatureTitleWords:       true,
	FeatureDescriptionWords: true,
	FeatureWordCount:        true,
	FeatureReadingTime:      true,
	FeatureHasMedia:         true,
	FeaturePublishedHour:    true,
	FeatureWeekend:          true,
}

// ModelFile is the on-disk format of an uploaded model.
type ModelFile struct {
	Name        string             `json:"name,omitempty"`
	Bias        float64            `json:"bias"`
	Weights     map[string]float64 `json:"weights"`
	FeedWeights map[string]float64 `json:"feed_weights,omitempty"`
	SavedAt     string             `json:"saved_at,omitempty"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
}

// ModelInfo summarizes a model for listings.
type ModelInfo struct {
	SavedAt  string             `json:"saved_at,omitempty"`
	Features []string           `json:"features"`
	Feeds    int                `json:"feeds"`
	Metrics  map[string]float64 `json:"metrics,omitempty"`
}

// ParseModel decodes and validates a model file.
func ParseModel(data []byte) (*ModelFile, error) {
	var m ModelFile
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}

	if len(m.Weights) == 0 && len(m.FeedWeights) == 0 {
		return nil, fmt.Errorf("%w: no weights", ErrInvalidModel)
	}
	if !finite(m.Bias) {
		return nil, fmt.Errorf("%w: bias is not finite", ErrInvalidModel)
	}
	for name, w := range m.Weights {
		if !knownFeatures[name] {
			return nil, fmt.Errorf("%w: unknown feature %q", ErrInvalidModel, name)
		}
		if !finite(w) {
			return nil, fmt.Errorf("%w: weight for %q is not finite", ErrInvalidModel, name)
		}
	}
	for feed, w := range m.FeedWeights {
		if !finite(w) {
			return nil, fmt.Errorf("%w: weight for feed %q is not finite", ErrInvalidModel, feed)
		}
	}

	return &m, nil
}

// Info describes the model without its weights.
func (m *ModelFile) Info() ModelInfo {
	features := make([]string, 0, len(m.Weights))
	for name := range m.Weights {
		features = append(features, name)
	}
	sort.Strings(features)
	return ModelInfo{
		SavedAt:  m.SavedAt,
		Features: features,
		Feeds:    len(m.FeedWeights),
		Metrics:  m.Metrics,
	}
}

// TrainedScorer applies a logistic model to per-entry features.
type TrainedScorer struct {
	label string
	model *ModelFile
}

func NewTrainedScorer(label string, model *ModelFile) *TrainedScorer {
	if label == "" {
		label = model.Name
	}
	if label == "" {
		label = "trained"
	}
	return &TrainedScorer{label: label, model: model}
}

func (s *TrainedScorer) Name() string { return s.label }

func (s *TrainedScorer) Score(_ context.Context, entry models.Entry) (float64, error) {
	z := s.model.Bias
	for name, value := range Features(entry) {
		z += s.model.Weights[name] * value
	}
	z += s.model.FeedWeights[entry.FeedName]
	return sigmoid(z), nil
}

// Features computes the model inputs for an entry.
func Features(entry models.Entry) map[string]float64 {
	words := entry.WordCount
	if words == 0 {
		words = len(strings.Fields(entry.Description))
	}

	published := entry.PublishedAt
	weekend := published.Weekday() == time.Saturday || published.Weekday() == time.Sunday

	return map[string]float64{
		FeatureTitleWords:       float64(len(strings.Fields(entry.Title))),
		FeatureDescriptionWords: float64(len(strings.Fields(entry.Description))),
		FeatureWordCount:        float64(words),
		FeatureReadingTime:      float64(words) / wordsPerMinute,
		FeatureHasMedia:         boolFeature(entry.HasMedia || entry.ImageURL != ""),
		FeaturePublishedHour:    float64(published.Hour()),
		FeatureWeekend:          boolFeature(weekend),
	}
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
