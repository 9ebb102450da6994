// Package anthropic provides a generation provider adapter using the
// Anthropic Messages API.
package anthropic

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
	DefaultBaseURL   = "https://api.anthropic.com/v1"
	DefaultModel     = "claude-3-5-haiku-latest"
	DefaultTimeout   = 120 * time.Second
	DefaultMaxTokens = 1024
	anthropicVersion = "2023-06-01"
)

// Config holds configuration for the Anthropic generation provider.
type Config struct {
	// APIKey is the Anthropic API key (required).
	APIKey string

	// BaseURL is the API base URL (default: https://api.anthropic.com/v1).
	BaseURL string

	// Model is the model to use.
	Model string

	// Timeout is the per-request timeout (default: 120s).
	Timeout time.Duration

	// MaxRetries is the number of retries for transient failures.
	MaxRetries int
}

// Generator produces answers using the Anthropic Messages API.
type Generator struct {
	client  *provider.Client
	baseURL string
	model   string
}

// messagesRequest is the Anthropic /messages request format.
// The system prompt is a top-level field, not a message.
type messagesRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// messagesResponse is the Anthropic /messages response format.
type messagesResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// New creates a new Anthropic generation provider.
func New(cfg Config) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: API key is required")
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

	opts := []provider.Option{
		provider.WithTimeout(cfg.Timeout),
		provider.WithHeader("x-api-key", cfg.APIKey),
		provider.WithHeader("anthropic-version", anthropicVersion),
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, provider.WithMaxRetries(cfg.MaxRetries))
	}

	return &Generator{
		client:  provider.NewClient("anthropic", opts...),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
	}, nil
}

// Generate sends the request to the Messages API.
// System-role entries in the history are folded into the system field.
func (g *Generator) Generate(ctx context.Context, req *domain.GenerationRequest) (*domain.GenerationResponse, error) {
	system := req.System
	messages := make([]message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == domain.RoleSystem {
			system = joinNonEmpty(system, m.Content)
			continue
		}
		messages = append(messages, message(m))
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	body := messagesRequest{
		Model:     g.model,
		System:    system,
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if req.Temperature > 0 {
		t := req.Temperature
		body.Temperature = &t
	}

	var resp messagesResponse
	if err := g.client.PostJSON(ctx, "generate", g.baseURL+"/messages", body, &resp); err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, &domain.FatalProviderError{Provider: "anthropic", Op: "generate", Err: fmt.Errorf("no text content returned")}
	}

	model := resp.Model
	if model == "" {
		model = g.model
	}

	return &domain.GenerationResponse{
		Text:         strings.TrimSpace(text.String()),
		Model:        model,
		FinishReason: resp.StopReason,
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

func joinNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "\n\n" + b
	}
}

// ModelName returns the name of the model being used.
func (g *Generator) ModelName() string {
	return g.model
}

// Ping validates the API key by listing models.
func (g *Generator) Ping(ctx context.Context) error {
	if err := g.client.Get(ctx, "ping", g.baseURL+"/models"); err != nil {
		return fmt.Errorf("anthropic: ping failed: %w", err)
	}
	return nil
}

// Close releases resources.
func (g *Generator) Close() error {
	return nil
}
