// Package openai provides an embedding provider adapter using the OpenAI API.
package openai

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/custodia-labs/storekb/internal/adapters/driven/provider"
	"github.com/custodia-labs/storekb/internal/core/ports/driven"
)

// Ensure EmbeddingProvider implements the interface.
var _ driven.EmbeddingProvider = (*EmbeddingProvider)(nil)

// Default configuration values.
const (
	DefaultBaseURL   = "https://api.openai.com/v1"
	DefaultModel     = "text-embedding-3-small"
	DefaultTimeout   = 60 * time.Second
	DefaultBatchSize = 100
)

// Model dimensions for OpenAI embedding models.
var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// Config holds configuration for the OpenAI embedding provider.
type Config struct {
	// APIKey is the OpenAI API key (required).
	APIKey string

	// BaseURL is the API base URL (default: https://api.openai.com/v1).
	// Can be changed for Azure OpenAI or compatible APIs.
	BaseURL string

	// Model is the embedding model to use (default: text-embedding-3-small).
	Model string

	// Timeout is the per-request timeout (default: 60s).
	Timeout time.Duration

	// Dimensions overrides the default dimension for the model.
	// Only applicable to text-embedding-3-* models.
	Dimensions int

	// BatchSize caps inputs per request (default: 100).
	BatchSize int

	// MaxRetries is the number of retries for transient failures.
	MaxRetries int

	// RequestsPerSecond limits request rate. Zero means unlimited.
	RequestsPerSecond float64
}

// EmbeddingProvider generates embeddings using the OpenAI API.
type EmbeddingProvider struct {
	client     *provider.Client
	baseURL    string
	model      string
	dimensions int
	batchSize  int
}

// embeddingRequest is the OpenAI API request format.
type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

// embeddingResponse is the OpenAI API response format.
type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// New creates a new OpenAI embedding provider.
func New(cfg Config) (*EmbeddingProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	dimensions := cfg.Dimensions
	if dimensions == 0 {
		var ok bool
		dimensions, ok = modelDimensions[cfg.Model]
		if !ok {
			dimensions = 1536 // Default fallback
		}
	}

	opts := []provider.Option{
		provider.WithTimeout(cfg.Timeout),
		provider.WithHeader("Authorization", "Bearer "+cfg.APIKey),
		provider.WithRateLimit(provider.RateLimitConfig{RequestsPerSecond: cfg.RequestsPerSecond, BurstSize: 1}),
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, provider.WithMaxRetries(cfg.MaxRetries))
	}

	return &EmbeddingProvider{
		client:     provider.NewClient("openai", opts...),
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		dimensions: dimensions,
		batchSize:  cfg.BatchSize,
	}, nil
}

// Embed generates one vector per text, in input order.
func (p *EmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return provider.EmbedInBatches(ctx, "openai", texts, p.batchSize, p.dimensions, p.embedBatch)
}

func (p *EmbeddingProvider) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := embeddingRequest{
		Model: p.model,
		Input: texts,
	}

	// Only text-embedding-3-* models accept a dimensions override
	if strings.HasPrefix(p.model, "text-embedding-3-") && p.dimensions > 0 {
		reqBody.Dimensions = p.dimensions
	}

	var resp embeddingResponse
	if err := p.client.PostJSON(ctx, "embed", p.baseURL+"/embeddings", reqBody, &resp); err != nil {
		return nil, err
	}

	// Order by index; the API does not promise input order
	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })

	embeddings := make([][]float32, 0, len(resp.Data))
	for _, d := range resp.Data {
		embeddings = append(embeddings, provider.ToFloat32(d.Embedding))
	}
	return embeddings, nil
}

// Dimensions returns the embedding vector size.
func (p *EmbeddingProvider) Dimensions() int {
	return p.dimensions
}

// ModelName returns the name of the embedding model being used.
func (p *EmbeddingProvider) ModelName() string {
	return p.model
}

// BatchSize returns the maximum inputs per request.
func (p *EmbeddingProvider) BatchSize() int {
	return p.batchSize
}

// Ping validates the API key by listing models, without running inference.
func (p *EmbeddingProvider) Ping(ctx context.Context) error {
	if err := p.client.Get(ctx, "ping", p.baseURL+"/models"); err != nil {
		return fmt.Errorf("openai: ping failed: %w", err)
	}
	return nil
}

// Close releases resources.
func (p *EmbeddingProvider) Close() error {
	// HTTP client doesn't need explicit cleanup
	return nil
}
