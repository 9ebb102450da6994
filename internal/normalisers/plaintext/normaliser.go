// Package plaintext provides the fallback Normaliser for plain text content.
package plaintext

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/custodia-labs/storekb/internal/core/domain"
	"github.com/custodia-labs/storekb/internal/core/ports/driven"
)

// Ensure Normaliser implements the interface.
var _ driven.Normaliser = (*Normaliser)(nil)

// Normaliser handles plain text content.
type Normaliser struct{}

// New creates a new plain text normaliser.
func New() *Normaliser {
	return &Normaliser{}
}

// SupportedMIMETypes returns the MIME types this normaliser handles.
func (n *Normaliser) SupportedMIMETypes() []string {
	return []string{
		"text/plain",
		"text/csv",
	}
}

// Priority returns the selection priority.
func (n *Normaliser) Priority() int {
	return 5 // Fallback normaliser
}

// Normalise returns the payload as text. Invalid UTF-8 is replaced so
// downstream hashing and chunking see a stable string.
func (n *Normaliser) Normalise(_ context.Context, item *domain.ContentItem) (*driven.NormaliseResult, error) {
	if item == nil {
		return nil, domain.ErrInvalidInput
	}

	text := item.RawText
	if len(item.RawPayload) > 0 {
		text = string(item.RawPayload)
	}
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "�")
	}

	return &driven.NormaliseResult{
		Text:  strings.TrimSpace(text),
		Title: titleFromMetadata(item),
	}, nil
}

// titleFromMetadata checks source metadata for a title.
func titleFromMetadata(item *domain.ContentItem) string {
	if item.SourceMetadata != nil {
		if title, ok := item.SourceMetadata[domain.MetaTitle].(string); ok {
			return title
		}
	}
	return ""
}
