package driving

import (
	"context"

	"github.com/custodia-labs/storekb/internal/core/domain"
)

// RetrievalService finds stored chunks relevant to a natural-language query.
type RetrievalService interface {
	// Retrieve embeds the query and returns at most maxChunks results scoring
	// at least minSimilarity. Nothing relevant is an empty slice, not an error.
	Retrieve(ctx context.Context, query string, maxChunks int, minSimilarity float64) ([]domain.RetrievalResult, error)
}

// AnswerService answers questions with retrieval-augmented generation.
type AnswerService interface {
	// Ask retrieves context, assembles a prompt and calls the generation provider.
	Ask(ctx context.Context, req AskRequest) (*domain.Answer, error)
}

// AskRequest is a question plus its conversation.
type AskRequest struct {
	// Query is the current question.
	Query string

	// History is the prior conversation, oldest first.
	History []domain.ChatMessage

	// Context carries caller hints rendered into the prompt.
	Context domain.CallerContext

	// MaxChunks overrides the configured chunk cap when positive.
	MaxChunks int

	// MinSimilarity overrides the configured threshold when non-nil.
	// Zero is a valid override that admits every result.
	MinSimilarity *float64
}
