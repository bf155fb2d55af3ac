// Package queue keeps a small buffer of recommended entries ahead of the
// reader so the next card is usually available without a round trip.
package queue

import (
	"context"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/thomaskoefod/cardreadr/internal/logging"
	"github.com/thomaskoefod/cardreadr/pkg/models"
)

const (
	DefaultBatchSize = 3
	DefaultMinSize   = 2
)

// State is the fill state of the queue as shown to the reader.
type State int

const (
	StateEmpty State = iota
	StateFilling
	StateReady
)

func (s State) String() string {
	switch s {
	case StateFilling:
		return "filling"
	case StateReady:
		return "ready"
	default:
		return "empty"
	}
}

// Fetcher returns up to count entries the server has not been told to exclude.
type Fetcher interface {
	FetchBatch(ctx context.Context, exclude []int64, count int) ([]models.Entry, error)
}

// Config sizes the queue. Zero values take the defaults.
type Config struct {
	BatchSize int
	MinSize   int
}

// Queue is a FIFO of prefetched entries with at most one fill in flight.
type Queue struct {
	fetcher Fetcher
	cfg     Config
	logger  zerolog.Logger

	mu       sync.Mutex
	ctx      context.Context
	buf      []models.Entry
	seen     map[int64]bool // buffered or served this session, for dedupe on append
	inFlight bool
	lastErr  error

	updates chan struct{}
	wg      sync.WaitGroup
}

// New creates an empty queue. Nothing is fetched until Start or MarkServed.
func New(fetcher Fetcher, cfg Config) *Queue {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MinSize <= 0 {
		cfg.MinSize = DefaultMinSize
	}
	return &Queue{
		fetcher: fetcher,
		cfg:     cfg,
		logger:  logging.With().Str("component", "queue").Logger(),
		ctx:     context.Background(),
		seen:    make(map[int64]bool),
		updates: make(chan struct{}, 1),
	}
}

// Start triggers the initial fill. Fills run on ctx until it is cancelled.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	q.ctx = ctx
	q.mu.Unlock()
	q.refill()
}

// Next pops the head of the buffer. When that leaves fewer than MinSize
// entries and no fill is running, one background fill is started. ok is
// false when the buffer is empty.
func (q *Queue) Next() (models.Entry, bool) {
	q.mu.Lock()
	if len(q.buf) == 0 {
		q.mu.Unlock()
		return models.Entry{}, false
	}
	e := q.buf[0]
	q.buf = q.buf[1:]
	q.mu.Unlock()

	q.refill(e.ID)
	return e, true
}

// MarkServed records an entry the caller obtained outside the queue so a
// later fill cannot bring it back, and tops the buffer up if needed.
func (q *Queue) MarkServed(id int64) {
	q.mu.Lock()
	q.seen[id] = true
	q.mu.Unlock()
	q.refill(id)
}

// Peek returns the head without removing it or starting a fill.
func (q *Queue) Peek() (models.Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) == 0 {
		return models.Entry{}, false
	}
	return q.buf[0], true
}

func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	switch {
	case q.inFlight:
		return StateFilling
	case len(q.buf) > 0:
		return StateReady
	default:
		return StateEmpty
	}
}

// LastError returns the error of the most recent fill, nil if it succeeded.
func (q *Queue) LastError() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastErr
}

// Updates receives a value after each fill completes. Signals coalesce.
func (q *Queue) Updates() <-chan struct{} {
	return q.updates
}

// Wait blocks until the running fill, if any, has finished.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// refill starts a fill when the buffer is below MinSize and none is running.
// The fill excludes the buffered ids plus served, the entry just handed out.
func (q *Queue) refill(served ...int64) {
	q.mu.Lock()
	if q.inFlight || len(q.buf) >= q.cfg.MinSize || q.ctx.Err() != nil {
		q.mu.Unlock()
		return
	}
	q.inFlight = true
	ctx := q.ctx
	exclude := append(q.bufferIDsLocked(), served...)
	slices.Sort(exclude)
	q.mu.Unlock()

	q.wg.Add(1)
	go q.fill(ctx, exclude)
}

// Exclusion returns the ids currently buffered, in queue order.
func (q *Queue) Exclusion() []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.bufferIDsLocked()
}

func (q *Queue) bufferIDsLocked() []int64 {
	ids := make([]int64, 0, len(q.buf)+1)
	for _, e := range q.buf {
		ids = append(ids, e.ID)
	}
	return ids
}

func (q *Queue) fill(ctx context.Context, exclude []int64) {
	defer q.wg.Done()

	entries, err := q.fetcher.FetchBatch(ctx, exclude, q.cfg.BatchSize)

	q.mu.Lock()
	q.inFlight = false
	if err != nil {
		q.lastErr = err
		q.logger.Warn().Err(err).Int("buffered", len(q.buf)).Msg("Queue fill failed")
	} else {
		q.lastErr = nil
		added := 0
		for _, e := range entries {
			if q.seen[e.ID] {
				continue
			}
			q.seen[e.ID] = true
			q.buf = append(q.buf, e)
			added++
		}
		q.logger.Debug().Int("received", len(entries)).Int("added", added).Int("buffered", len(q.buf)).Msg("Queue filled")
	}
	q.mu.Unlock()

	select {
	case q.updates <- struct{}{}:
	default:
	}
}
