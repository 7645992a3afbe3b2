// Package embedding provides text embedding providers and the request batcher
// that coalesces embedding calls.
package embedding

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/rcliao/contextai/internal/aierr"
)

// Vector is a float32 embedding vector.
type Vector = []float32

// Embedder generates embedding vectors from text.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
	// EmbedBatch returns one vector per input, index-aligned with texts.
	EmbedBatch(ctx context.Context, texts []string) ([]Vector, error)
	Dims() int
}

// CosineSimilarity computes cosine similarity between two vectors.
func CosineSimilarity(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// --- OpenAI-compatible Provider ---

// OpenAIEmbedder uses any OpenAI-compatible embedding API.
type OpenAIEmbedder struct {
	client  *openai.Client
	name    string
	model   string
	dims    int
	timeout time.Duration
	limiter *rate.Limiter
}

// NewOpenAIEmbedder creates an embedder using an OpenAI-compatible API.
func NewOpenAIEmbedder(baseURL, apiKey, model string, dims int) *OpenAIEmbedder {
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	if dims == 0 {
		dims = 1536
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIEmbedder{
		client:  openai.NewClientWithConfig(cfg),
		name:    "openai",
		model:   model,
		dims:    dims,
		timeout: 30 * time.Second,
	}
}

// WithRateLimit throttles outgoing requests to rps with the given burst.
func (e *OpenAIEmbedder) WithRateLimit(rps float64, burst int) *OpenAIEmbedder {
	if rps <= 0 {
		return e
	}
	if burst <= 0 {
		burst = 1
	}
	e.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	return e
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	op := e.name + " embeddings"
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, aierr.Wrap(aierr.KindEmbedding, op, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, aierr.Wrap(aierr.KindEmbedding, op, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, aierr.Wrap(aierr.KindEmbedding, op,
			fmt.Errorf("got %d embeddings for %d inputs", len(resp.Data), len(texts)))
	}

	sort.SliceStable(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
	out := make([]Vector, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

func (e *OpenAIEmbedder) Dims() int { return e.dims }

// --- Ollama Provider ---

// NewOllamaEmbedder creates an embedder backed by Ollama's OpenAI-compatible
// endpoint. Default model: nomic-embed-text (768 dims), all-minilm (384 dims).
func NewOllamaEmbedder(host, model string) *OpenAIEmbedder {
	if host == "" {
		host = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	dims := 768
	if model == "all-minilm" {
		dims = 384
	}
	e := NewOpenAIEmbedder(strings.TrimRight(host, "/")+"/v1", "ollama", model, dims)
	e.name = "ollama"
	return e
}

// --- Factory ---

// Config selects and tunes the embedding provider.
type Config struct {
	Provider      string        `mapstructure:"provider"` // openai | ollama | none
	Model         string        `mapstructure:"model"`
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	Dims          int           `mapstructure:"dims"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
}

// NewFromConfig creates an embedder. It returns nil when embeddings are disabled.
func NewFromConfig(cfg Config) (Embedder, error) {
	switch cfg.Provider {
	case "ollama":
		return NewOllamaEmbedder(cfg.BaseURL, cfg.Model).WithRateLimit(cfg.RatePerSecond, cfg.Burst), nil
	case "openai":
		return NewOpenAIEmbedder(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Dims).WithRateLimit(cfg.RatePerSecond, cfg.Burst), nil
	case "", "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
