// Package ollama provides a generation provider adapter using Ollama's
// chat endpoint.
package ollama

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/custodia-labs/storekb/internal/adapters/driven/provider"
	"github.com/custodia-labs/storekb/internal/core/domain"
	"github.com/custodia-labs/storekb/internal/core/ports/driven"
)

// Ensure Generator implements the interface.
var _ driven.GenerationProvider = (*Generator)(nil)

// Default configuration values.
const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "llama3.2"
	DefaultTimeout = 300 * time.Second // local models can be slow
)

// Config holds configuration for the Ollama generation provider.
type Config struct {
	// BaseURL is the Ollama API base URL (default: http://localhost:11434).
	BaseURL string

	// Model is the chat model to use (default: llama3.2).
	Model string

	// Timeout is the request timeout (default: 300s).
	Timeout time.Duration

	// MaxRetries is the number of retries for transient failures.
	MaxRetries int
}

// Generator produces answers using a local Ollama model.
type Generator struct {
	client  *provider.Client
	baseURL string
	model   string
}

// chatRequest is the Ollama /api/chat request format.
type chatRequest struct {
	Model    string               `json:"model"`
	Messages []domain.ChatMessage `json:"messages"`
	Stream   bool                 `json:"stream"`
	Options  map[string]any       `json:"options,omitempty"`
}

// chatResponse is the Ollama /api/chat response format.
type chatResponse struct {
	Model   string `json:"model"`
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// New creates a new Ollama generation provider.
func New(cfg Config) *Generator {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	opts := []provider.Option{provider.WithTimeout(cfg.Timeout)}
	if cfg.MaxRetries > 0 {
		opts = append(opts, provider.WithMaxRetries(cfg.MaxRetries))
	}

	return &Generator{
		client:  provider.NewClient("ollama", opts...),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
	}
}

// Generate runs a non-streaming chat completion.
func (g *Generator) Generate(ctx context.Context, req *domain.GenerationRequest) (*domain.GenerationResponse, error) {
	messages := make([]domain.ChatMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: req.System})
	}
	messages = append(messages, req.Messages...)

	options := map[string]any{}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		options["temperature"] = req.Temperature
	}

	body := chatRequest{
		Model:    g.model,
		Messages: messages,
		Options:  options,
	}

	var resp chatResponse
	if err := g.client.PostJSON(ctx, "generate", g.baseURL+"/api/chat", body, &resp); err != nil {
		return nil, err
	}

	if !resp.Done {
		return nil, &domain.FatalProviderError{Provider: "ollama", Op: "generate", Err: fmt.Errorf("incomplete response")}
	}

	model := resp.Model
	if model == "" {
		model = g.model
	}

	return &domain.GenerationResponse{
		Text:         strings.TrimSpace(resp.Message.Content),
		Model:        model,
		FinishReason: resp.DoneReason,
		Usage: domain.Usage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		},
	}, nil
}

// ModelName returns the name of the model being used.
func (g *Generator) ModelName() string {
	return g.model
}

// Ping checks the Ollama server is reachable.
func (g *Generator) Ping(ctx context.Context) error {
	if err := g.client.Get(ctx, "ping", g.baseURL+"/api/tags"); err != nil {
		return fmt.Errorf("ollama: ping failed: %w", err)
	}
	return nil
}

// Close releases resources.
func (g *Generator) Close() error {
	return nil
}
