package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/storekb/internal/core/domain"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestGenerate_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatCompletionRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		assert.Equal(t, "gpt-4o-mini", req.Model)
		assert.Equal(t, 200, req.MaxTokens)
		if assert.Len(t, req.Messages, 3) {
			assert.Equal(t, domain.RoleSystem, req.Messages[0].Role)
			assert.Equal(t, "be helpful", req.Messages[0].Content)
			assert.Equal(t, domain.RoleUser, req.Messages[2].Role)
		}

		_, _ = w.Write([]byte(`{
			"model": "gpt-4o-mini-2024-07-18",
			"choices": [{"message": {"content": " Yes, in stock. "}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 50, "completion_tokens": 5, "total_tokens": 55}
		}`))
	}))
	defer server.Close()

	g, err := New(Config{APIKey: "sk-test", BaseURL: server.URL})
	require.NoError(t, err)

	resp, err := g.Generate(context.Background(), &domain.GenerationRequest{
		System: "be helpful",
		Messages: []domain.ChatMessage{
			{Role: domain.RoleAssistant, Content: "Hi!"},
			{Role: domain.RoleUser, Content: "Are the red shoes in stock?"},
		},
		MaxTokens:   200,
		Temperature: 0.2,
	})

	require.NoError(t, err)
	assert.Equal(t, "Yes, in stock.", resp.Text)
	assert.Equal(t, "gpt-4o-mini-2024-07-18", resp.Model)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 55, resp.Usage.TotalTokens)
}

func TestGenerate_NoChoicesIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices": []}`))
	}))
	defer server.Close()

	g, err := New(Config{APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), &domain.GenerationRequest{})
	assert.True(t, domain.IsFatal(err))
}

func TestGenerate_TimeoutIsTransient(t *testing.T) {
	// The handler never reads the body, so it may not see the client go
	// away; release unblocks it before the server shuts down.
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	g, err := New(Config{APIKey: "k", BaseURL: server.URL, Timeout: 20 * time.Millisecond, MaxRetries: 1})
	require.NoError(t, err)
	// Keep the test fast: the caller deadline bounds retries too.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err = g.Generate(ctx, &domain.GenerationRequest{Messages: []domain.ChatMessage{{Role: "user", Content: "hi"}}})

	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
}
