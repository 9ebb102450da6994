// Package ollama provides an embedding provider adapter using Ollama.
package ollama

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/custodia-labs/storekb/internal/adapters/driven/provider"
	"github.com/custodia-labs/storekb/internal/core/ports/driven"
)

// Ensure EmbeddingProvider implements the interface.
var _ driven.EmbeddingProvider = (*EmbeddingProvider)(nil)

// Default configuration values.
const (
	DefaultBaseURL    = "http://localhost:11434"
	DefaultModel      = "nomic-embed-text"
	DefaultTimeout    = 30 * time.Second
	DefaultDimensions = 768 // nomic-embed-text default
	DefaultBatchSize  = 32
)

// Config holds configuration for the Ollama embedding provider.
type Config struct {
	// BaseURL is the Ollama API base URL (default: http://localhost:11434).
	BaseURL string

	// Model is the embedding model to use (default: nomic-embed-text).
	Model string

	// Timeout is the request timeout (default: 30s).
	Timeout time.Duration

	// Dimensions is the embedding vector size (model-dependent).
	Dimensions int

	// BatchSize caps inputs per request (default: 32).
	BatchSize int

	// MaxRetries is the number of retries for transient failures.
	MaxRetries int
}

// EmbeddingProvider generates embeddings using Ollama's /api/embed endpoint.
type EmbeddingProvider struct {
	client     *provider.Client
	baseURL    string
	model      string
	dimensions int
	batchSize  int
}

// embedRequest is the Ollama /api/embed request format.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embedResponse is the Ollama /api/embed response format.
type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// New creates a new Ollama embedding provider.
func New(cfg Config) *EmbeddingProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	opts := []provider.Option{provider.WithTimeout(cfg.Timeout)}
	if cfg.MaxRetries > 0 {
		opts = append(opts, provider.WithMaxRetries(cfg.MaxRetries))
	}

	return &EmbeddingProvider{
		client:     provider.NewClient("ollama", opts...),
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		batchSize:  cfg.BatchSize,
	}
}

// Embed generates one vector per text, in input order.
func (p *EmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return provider.EmbedInBatches(ctx, "ollama", texts, p.batchSize, p.dimensions, p.embedBatch)
}

func (p *EmbeddingProvider) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var resp embedResponse
	req := embedRequest{Model: p.model, Input: texts}
	if err := p.client.PostJSON(ctx, "embed", p.baseURL+"/api/embed", req, &resp); err != nil {
		return nil, err
	}

	embeddings := make([][]float32, 0, len(resp.Embeddings))
	for _, e := range resp.Embeddings {
		embeddings = append(embeddings, provider.ToFloat32(e))
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

// Ping checks connectivity via /api/tags without running inference.
func (p *EmbeddingProvider) Ping(ctx context.Context) error {
	if err := p.client.Get(ctx, "ping", p.baseURL+"/api/tags"); err != nil {
		return fmt.Errorf("ollama: ping failed: %w", err)
	}
	return nil
}

// Close releases resources.
func (p *EmbeddingProvider) Close() error {
	return nil
}
