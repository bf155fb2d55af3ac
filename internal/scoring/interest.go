package scoring

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/thomaskoefod/cardreadr/internal/logging"
	"github.com/thomaskoefod/cardreadr/pkg/models"
)

// InterestStore persists interest phrases and their cached embeddings.
type InterestStore interface {
	GetInterests(ctx context.Context) ([]models.UserInterest, error)
	UpdateInterestEmbedding(ctx context.Context, id int64, embedding []byte) error
}

// OllamaClient requests text embeddings from an Ollama server.
type OllamaClient struct {
	host   string
	model  string
	client *http.Client
}

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

func NewOllamaClient(host, model string) *OllamaClient {
	return &OllamaClient{
		host:   host,
		model:  model,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Embedding generates an embedding for the given text
func (c *OllamaClient) Embedding(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(embeddingRequest{Model: c.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request to Ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, string(msg))
	}

	var out embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned an empty embedding")
	}
	return out.Embedding, nil
}

// CosineSimilarity calculates cosine similarity between two vectors
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// InterestScorer rates entries by how close their text is to the reader's
// configured interest phrases.
type InterestScorer struct {
	embedder interface {
		Embedding(ctx context.Context, text string) ([]float64, error)
	}
	store InterestStore

	mu      sync.Mutex
	entries map[int64][]float64
}

func NewInterestScorer(client *OllamaClient, store InterestStore) *InterestScorer {
	return &InterestScorer{
		embedder: client,
		store:    store,
		entries:  make(map[int64][]float64),
	}
}

func (s *InterestScorer) Name() string { return "interests" }

// Score returns the weighted mean similarity to every interest, mapped from [-1,1] to [0,1].
func (s *InterestScorer) Score(ctx context.Context, entry models.Entry) (float64, error) {
	interests, err := s.store.GetInterests(ctx)
	if err != nil {
		return 0, fmt.Errorf("getting interests: %w", err)
	}
	if len(interests) == 0 {
		return 0, fmt.Errorf("no interests configured")
	}

	entryEmb, err := s.entryEmbedding(ctx, entry)
	if err != nil {
		return 0, fmt.Errorf("getting entry embedding: %w", err)
	}

	var totalScore, totalWeight float64
	for _, interest := range interests {
		interestEmb, err := s.interestEmbedding(ctx, interest)
		if err != nil {
			logging.Warn().Err(err).Str("interest", interest.Description).Msg("Skipping interest without embedding")
			continue
		}
		totalScore += CosineSimilarity(entryEmb, interestEmb) * interest.Weight
		totalWeight += interest.Weight
	}

	if totalWeight == 0 {
		return 0, fmt.Errorf("no usable interest embeddings")
	}

	return (totalScore/totalWeight + 1) / 2, nil
}

func (s *InterestScorer) entryEmbedding(ctx context.Context, entry models.Entry) ([]float64, error) {
	s.mu.Lock()
	emb, ok := s.entries[entry.ID]
	s.mu.Unlock()
	if ok {
		return emb, nil
	}

	emb, err := s.embedder.Embedding(ctx, fmt.Sprintf("%s. %s", entry.Title, entry.Description))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.entries[entry.ID] = emb
	s.mu.Unlock()
	return emb, nil
}

func (s *InterestScorer) interestEmbedding(ctx context.Context, interest models.UserInterest) ([]float64, error) {
	var emb []float64
	if len(interest.Embedding) > 0 {
		if err := json.Unmarshal(interest.Embedding, &emb); err != nil {
			return nil, fmt.Errorf("unmarshaling interest embedding: %w", err)
		}
		return emb, nil
	}

	emb, err := s.embedder.Embedding(ctx, interest.Description)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(emb)
	if err != nil {
		return nil, fmt.Errorf("marshaling interest embedding: %w", err)
	}
	if err := s.store.UpdateInterestEmbedding(ctx, interest.ID, data); err != nil {
		logging.Warn().Err(err).Int64("interest_id", interest.ID).Msg("Failed to cache interest embedding")
	}
	return emb, nil
}
