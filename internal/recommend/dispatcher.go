package recommend

import (
	"context"
	"errors"

	"github.com/thomaskoefod/cardreadr/internal/metrics"
	"github.com/thomaskoefod/cardreadr/pkg/models"
)

// ErrNotFound means the unseen pool is exhausted for the given exclusions.
var ErrNotFound = errors.New("no unseen entries")

const (
	DefaultBatchSize = 3
	DefaultMaxBatch  = 5
)

// Batch is the response to a batch request. An empty batch is a normal result.
type Batch struct {
	Posts   []models.Entry `json:"posts"`
	Count   int            `json:"count"`
	Message string         `json:"message,omitempty"`
}

// Dispatcher serves batches and single entries from a Selector.
// It keeps no per-session state, so concurrent callers with disjoint
// exclusions may receive the same entries.
type Dispatcher struct {
	selector *Selector
	maxBatch int
}

// NewDispatcher returns a dispatcher capping batches at maxBatch, or DefaultMaxBatch when it is not positive.
func NewDispatcher(selector *Selector, maxBatch int) *Dispatcher {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	return &Dispatcher{selector: selector, maxBatch: maxBatch}
}

// ClampCount maps a requested batch size into [1, maxBatch], using the default for non-positive values.
func (d *Dispatcher) ClampCount(count int) int {
	if count <= 0 {
		count = DefaultBatchSize
	}
	return max(1, min(count, d.maxBatch))
}

// GetBatch selects up to count entries. It only fails when storage does.
func (d *Dispatcher) GetBatch(ctx context.Context, exclude []int64, count int) (*Batch, error) {
	count = d.ClampCount(count)

	posts, err := d.selector.Select(ctx, exclude, count)
	if err != nil {
		return nil, err
	}
	metrics.RecordBatch(count, len(posts))

	b := &Batch{Posts: posts, Count: len(posts)}
	if len(posts) == 0 {
		b.Message = "No more posts available"
	}
	return b, nil
}

// GetNext selects a single entry or returns ErrNotFound.
func (d *Dispatcher) GetNext(ctx context.Context, exclude []int64) (*models.Entry, error) {
	posts, err := d.selector.Select(ctx, exclude, 1)
	if err != nil {
		return nil, err
	}
	if len(posts) == 0 {
		return nil, ErrNotFound
	}
	return &posts[0], nil
}
