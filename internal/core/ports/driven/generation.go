package driven

import (
	"context"

	"github.com/custodia-labs/storekb/internal/core/domain"
)

// GenerationProvider executes an assembled generation request.
// This is an optional service - when nil, answers are disabled and only
// retrieval is available.
//
// Implementations may include:
//   - OpenAI (gpt-4o-mini)
//   - Anthropic (Claude)
//   - Ollama (local models)
//
// Timeouts and 5xx responses surface as *domain.TransientProviderError;
// authentication and quota failures as *domain.FatalProviderError.
type GenerationProvider interface {
	// Generate produces an answer for the request.
	Generate(ctx context.Context, req *domain.GenerationRequest) (*domain.GenerationResponse, error)

	// ModelName returns the name of the model being used.
	ModelName() string

	// Ping validates the service is reachable.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}
