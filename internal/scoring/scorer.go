// Package scoring turns an entry into a relevance probability.
//
// The selection core only sees the Scorer interface. Which concrete scorer
// answers is decided by the Registry: a trained model when one is active,
// otherwise the configured default.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/thomaskoefod/cardreadr/pkg/models"
)

var (
	ErrInvalidScore = errors.New("score outside [0,1]")
	ErrInvalidModel = errors.New("invalid model")
	ErrActiveModel  = errors.New("cannot delete the active model")
)

// Scorer estimates the probability that the reader is interested in an entry.
type Scorer interface {
	Name() string
	Score(ctx context.Context, entry models.Entry) (float64, error)
}

// Registry holds the process-wide active scorer. Swapping is atomic, so a
// selection running during Activate finishes with whichever scorer it loaded.
type Registry struct {
	fallback Scorer
	active   atomic.Pointer[activeScorer]
}

type activeScorer struct {
	scorer    Scorer
	modelID   int64
	isDefault bool
}

// NewRegistry returns a registry that answers with fallback until a model is activated.
func NewRegistry(fallback Scorer) *Registry {
	r := &Registry{fallback: fallback}
	r.Deactivate()
	return r
}

// Activate makes s the active scorer. modelID is the registry row it came
// from, or 0 for scorers that are not uploaded models.
func (r *Registry) Activate(s Scorer, modelID int64) {
	r.active.Store(&activeScorer{scorer: s, modelID: modelID})
}

// Deactivate reverts to the default scorer.
func (r *Registry) Deactivate() {
	r.active.Store(&activeScorer{scorer: r.fallback, isDefault: true})
}

// Active returns the scorer currently in use.
func (r *Registry) Active() Scorer {
	return r.active.Load().scorer
}

// ActiveModelID returns the id of the active uploaded model, 0 when the default is in use.
func (r *Registry) ActiveModelID() int64 {
	return r.active.Load().modelID
}

// UsingDefault reports whether the fallback scorer is active.
func (r *Registry) UsingDefault() bool {
	return r.active.Load().isDefault
}

func (r *Registry) Name() string {
	return r.Active().Name()
}

// Score delegates to the active scorer and rejects results that are not probabilities.
func (r *Registry) Score(ctx context.Context, entry models.Entry) (float64, error) {
	s := r.Active()
	p, err := s.Score(ctx, entry)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", s.Name(), err)
	}
	if math.IsNaN(p) || p < 0 || p > 1 {
		return 0, fmt.Errorf("%s scored %v: %w", s.Name(), p, ErrInvalidScore)
	}
	return p, nil
}

// Func adapts a plain function to the Scorer interface.
type Func struct {
	Label string
	Fn    func(ctx context.Context, entry models.Entry) (float64, error)
}

func (f Func) Name() string { return f.Label }

func (f Func) Score(ctx context.Context, entry models.Entry) (float64, error) {
	return f.Fn(ctx, entry)
}
