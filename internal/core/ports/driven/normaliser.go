package driven

import (
	"context"

	"github.com/custodia-labs/storekb/internal/core/domain"
)

// Normaliser turns a raw content payload into plain text.
// Each normaliser handles specific MIME types (e.g., HTML, Markdown).
type Normaliser interface {
	// SupportedMIMETypes returns the MIME types this normaliser handles.
	SupportedMIMETypes() []string

	// Priority returns the selection priority (higher = preferred).
	// Generic MIME normalisers should return 50-89.
	// Fallback normalisers should return 1-9.
	Priority() int

	// Normalise returns the plain text of the item and, when the payload
	// carries one, a title.
	Normalise(ctx context.Context, item *domain.ContentItem) (*NormaliseResult, error)
}

// NormaliseResult contains the output of normalisation.
type NormaliseResult struct {
	// Text is the plain text content.
	Text string

	// Title is extracted from the payload, or empty.
	Title string
}

// NormaliserRegistry selects the appropriate normaliser for an item.
type NormaliserRegistry interface {
	// Normalise transforms an item using the best matching normaliser.
	Normalise(ctx context.Context, item *domain.ContentItem) (*NormaliseResult, error)

	// Register adds a normaliser to the registry.
	Register(normaliser Normaliser)
}

// Chunker splits a content item's text into deterministic chunks.
type Chunker interface {
	// Split returns the ordered chunks of item.RawText.
	// Empty text yields zero chunks.
	Split(item *domain.ContentItem) []domain.Chunk

	// Name returns the chunker name for logging.
	Name() string
}
