package scoring

import (
	"context"
	"math"
	"time"

	"github.com/thomaskoefod/cardreadr/pkg/models"
)

const mediaBonus = 0.1

// HeuristicScorer is the default when no trained model is active. Newer
// entries score higher, halving every HalfLife, with a small bonus for media.
type HeuristicScorer struct {
	HalfLife time.Duration
	Now      func() time.Time
}

func NewHeuristicScorer(halfLife time.Duration) *HeuristicScorer {
	if halfLife <= 0 {
		halfLife = 48 * time.Hour
	}
	return &HeuristicScorer{HalfLife: halfLife, Now: time.Now}
}

func (h *HeuristicScorer) Name() string { return "heuristic" }

func (h *HeuristicScorer) Score(_ context.Context, entry models.Entry) (float64, error) {
	age := h.Now().Sub(entry.PublishedAt)
	if age < 0 {
		age = 0
	}

	score := (1 - mediaBonus) * math.Pow(0.5, age.Hours()/h.HalfLife.Hours())
	if entry.HasMedia || entry.ImageURL != "" {
		score += mediaBonus
	}
	return score, nil
}
