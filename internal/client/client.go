// Package client talks to the cardreadr API on behalf of the card reader.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/thomaskoefod/cardreadr/internal/logging"
	"github.com/thomaskoefod/cardreadr/internal/metrics"
	"github.com/thomaskoefod/cardreadr/pkg/models"
)

// ErrExhausted means the server has no unseen entry left for this session.
var ErrExhausted = errors.New("no more posts available")

const (
	DefaultTimeout = 10 * time.Second
	breakerName    = "cardreadr-api"
)

// APIError is an error envelope returned by the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
}

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type batchResponse struct {
	Posts []models.Entry `json:"posts"`
	Count int            `json:"count"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker[json.RawMessage]
	logger     zerolog.Logger

	// background sends (open, time) in flight
	pending sync.WaitGroup
}

// New creates a client for the server at baseURL. Five consecutive
// transport or server failures open the breaker for thirty seconds.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	metrics.BreakerState.WithLabelValues(breakerName).Set(0)

	cb := gobreaker.NewCircuitBreaker[json.RawMessage](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A 4xx is the server answering, not the server failing.
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			return err == nil || (errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state transition")
			metrics.RecordBreakerTransition(name, from.String(), to.String(), stateValue(to))
		},
	})

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		cb:         cb,
		logger:     logging.With().Str("component", "client").Logger(),
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// FetchBatch asks for up to count entries not in exclude. An empty slice
// means the server has nothing left.
func (c *Client) FetchBatch(ctx context.Context, exclude []int64, count int) ([]models.Entry, error) {
	q := url.Values{}
	if count > 0 {
		q.Set("count", strconv.Itoa(count))
	}
	if len(exclude) > 0 {
		q.Set("exclude", joinIDs(exclude))
	}

	var resp batchResponse
	if err := c.do(ctx, http.MethodGet, "/api/posts/batch?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Posts == nil {
		resp.Posts = []models.Entry{}
	}
	return resp.Posts, nil
}

// FetchNext asks for a single entry. It returns ErrExhausted when none is left.
func (c *Client) FetchNext(ctx context.Context, exclude []int64) (*models.Entry, error) {
	path := "/api/posts/next"
	if len(exclude) > 0 {
		path += "?" + url.Values{"exclude": {joinIDs(exclude)}}.Encode()
	}

	var entry models.Entry
	err := c.do(ctx, http.MethodGet, path, nil, &entry)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return nil, ErrExhausted
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (c *Client) GetStats(ctx context.Context) (*models.Stats, error) {
	var stats models.Stats
	if err := c.do(ctx, http.MethodGet, "/api/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// SendVote records a vote and waits for the server, so the caller can
// revert its state when it fails.
func (c *Client) SendVote(ctx context.Context, entryID int64, vote models.Vote) error {
	body := map[string]any{"entry_id": entryID, "vote": vote}
	return c.do(ctx, http.MethodPost, "/api/vote", body, nil)
}

// SendOpen records a link open in the background.
func (c *Client) SendOpen(entryID int64) {
	c.background("open", entryID, "/api/open", map[string]any{"entry_id": entryID})
}

// SendTime records dwell time in the background. Durations under a second
// are not sent.
func (c *Client) SendTime(entryID int64, seconds int) {
	if seconds < 1 {
		return
	}
	c.background("time", entryID, "/api/time", map[string]any{"entry_id": entryID, "seconds": seconds})
}

// Wait blocks until background sends have finished.
func (c *Client) Wait() {
	c.pending.Wait()
}

// background posts body on its own context so the send outlives the card
// that triggered it.
func (c *Client) background(kind string, entryID int64, path string, body any) {
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), c.httpClient.Timeout)
		defer cancel()

		if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
			c.logger.Warn().Err(err).Str("kind", kind).Int64("entry_id", entryID).Msg("Failed to record interaction")
		}
	}()
}

// do sends one request through the breaker and decodes the envelope's data into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	data, err := c.cb.Execute(func() (json.RawMessage, error) {
		return c.roundTrip(ctx, method, path, body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("server unavailable: %w", err)
		}
		return err
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response data: %w", err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 300 {
			return nil, &APIError{Status: resp.StatusCode, Code: "HTTP_ERROR", Message: http.StatusText(resp.StatusCode)}
		}
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	if resp.StatusCode >= 300 || env.Status != "success" {
		apiErr := &APIError{Status: resp.StatusCode}
		if env.Error != nil {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return nil, apiErr
	}
	return env.Data, nil
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
