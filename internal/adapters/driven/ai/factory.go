// Package ai builds the embedding and generation providers named in the
// configuration.
package ai

import (
	"fmt"

	ollamaembed "github.com/custodia-labs/storekb/internal/adapters/driven/embedding/ollama"
	openaiembed "github.com/custodia-labs/storekb/internal/adapters/driven/embedding/openai"
	anthropicllm "github.com/custodia-labs/storekb/internal/adapters/driven/llm/anthropic"
	ollamallm "github.com/custodia-labs/storekb/internal/adapters/driven/llm/ollama"
	openaillm "github.com/custodia-labs/storekb/internal/adapters/driven/llm/openai"
	"github.com/custodia-labs/storekb/internal/config"
	"github.com/custodia-labs/storekb/internal/core/domain"
	"github.com/custodia-labs/storekb/internal/core/ports/driven"
)

// NewEmbeddingProvider creates the embedding provider selected by cfg.
// Errors wrap domain.ErrEmbeddingUnavailable.
func NewEmbeddingProvider(cfg config.EmbeddingConfig) (driven.EmbeddingProvider, error) {
	switch cfg.Provider {
	case config.ProviderOllama:
		return ollamaembed.New(ollamaembed.Config{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Timeout:    cfg.Timeout.Duration,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
			MaxRetries: cfg.MaxRetries,
		}), nil

	case config.ProviderOpenAI:
		p, err := openaiembed.New(openaiembed.Config{
			APIKey:            cfg.APIKey,
			BaseURL:           cfg.BaseURL,
			Model:             cfg.Model,
			Timeout:           cfg.Timeout.Duration,
			Dimensions:        cfg.Dimensions,
			BatchSize:         cfg.BatchSize,
			MaxRetries:        cfg.MaxRetries,
			RequestsPerSecond: cfg.RateLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrEmbeddingUnavailable, err)
		}
		return p, nil

	case config.ProviderAnthropic:
		// Anthropic does not support embeddings.
		return nil, fmt.Errorf("%w: anthropic does not support embeddings, use ollama or openai",
			domain.ErrEmbeddingUnavailable)

	default:
		return nil, fmt.Errorf("%w: unsupported embedding provider: %q",
			domain.ErrEmbeddingUnavailable, cfg.Provider)
	}
}

// NewGenerationProvider creates the generation provider selected by cfg.
// Returns nil, nil when no provider is configured: answers are then
// disabled and retrieval still works.
func NewGenerationProvider(cfg config.GenerationConfig) (driven.GenerationProvider, error) {
	switch cfg.Provider {
	case "":
		return nil, nil

	case config.ProviderOllama:
		return ollamallm.New(ollamallm.Config{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Timeout:    cfg.Timeout.Duration,
			MaxRetries: cfg.MaxRetries,
		}), nil

	case config.ProviderOpenAI:
		g, err := openaillm.New(openaillm.Config{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Timeout:    cfg.Timeout.Duration,
			MaxRetries: cfg.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrGenerationUnavailable, err)
		}
		return g, nil

	case config.ProviderAnthropic:
		g, err := anthropicllm.New(anthropicllm.Config{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Timeout:    cfg.Timeout.Duration,
			MaxRetries: cfg.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrGenerationUnavailable, err)
		}
		return g, nil

	default:
		return nil, fmt.Errorf("%w: unsupported generation provider: %q",
			domain.ErrGenerationUnavailable, cfg.Provider)
	}
}
