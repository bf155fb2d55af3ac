package raindrop

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/thomaskoefod/cardreadr/pkg/models"
)

const raindropAPIURL = "https://api.raindrop.io/rest/v1"

// ErrNoToken is returned when saving without a configured API token.
var ErrNoToken = errors.New("raindrop api_token is not configured")

type Client struct {
	apiToken string
	baseURL  string
	client   *http.Client
}

type RaindropItem struct {
	Link    string   `json:"link"`
	Title   string   `json:"title"`
	Excerpt string   `json:"excerpt,omitempty"`
	Cover   string   `json:"cover,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

type RaindropResponse struct {
	Result       bool          `json:"result"`
	Item         *RaindropItem `json:"item,omitempty"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
}

func NewClient(apiToken string) *Client {
	return &Client{
		apiToken: apiToken,
		baseURL:  raindropAPIURL,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

// WithBaseURL points the client at another API root.
func (c *Client) WithBaseURL(u string) *Client {
	c.baseURL = u
	return c
}

// Enabled reports whether a token is configured.
func (c *Client) Enabled() bool {
	return c.apiToken != ""
}

// SaveEntry bookmarks an entry in Raindrop.io, tagged with its feed name
func (c *Client) SaveEntry(ctx context.Context, entry models.Entry) error {
	if !c.Enabled() {
		return ErrNoToken
	}

	link := entry.Permalink
	if link == "" {
		link = entry.Link
	}
	item := RaindropItem{
		Link:    link,
		Title:   entry.Title,
		Excerpt: entry.Description,
		Cover:   entry.ImageURL,
	}
	if entry.FeedName != "" {
		item.Tags = []string{entry.FeedName}
	}

	jsonData, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshaling entry: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/raindrop", bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var result RaindropResponse
	if err := c.do(req, &result); err != nil {
		return err
	}
	if !result.Result {
		return fmt.Errorf("raindrop API returned failure: %s", result.ErrorMessage)
	}
	return nil
}

// TestConnection tests the API token by making a simple request
func (c *Client) TestConnection(ctx context.Context) error {
	if !c.Enabled() {
		return ErrNoToken
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/user", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.apiToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request to Raindrop: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("raindrop API error (status %d): %s", resp.StatusCode, string(body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
