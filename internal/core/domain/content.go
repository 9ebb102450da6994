package domain

import (
	"strings"
	"time"
)

// ContentType identifies a class of catalog content (e.g. "product", "page").
type ContentType string

// Built-in content types of the host store.
const (
	ContentTypeProduct ContentType = "product"
	ContentTypePage    ContentType = "page"
	ContentTypePost    ContentType = "post"
	ContentTypeFAQ     ContentType = "faq"
)

// String returns the content type as a string.
func (t ContentType) String() string {
	return string(t)
}

// IsValid reports whether the content type is a usable identifier.
// Custom types are allowed; they must be non-empty lowercase tokens.
func (t ContentType) IsValid() bool {
	s := string(t)
	if s == "" || strings.TrimSpace(s) != s {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' && r != '-' {
			return false
		}
	}
	return true
}

// ContentItem is a snapshot of one piece of content produced by a ContentSource.
// It is immutable for the duration of an indexing pass and never persisted
// by the core; it is re-fetched on demand.
type ContentItem struct {
	// ID is the host-store identifier of the item, unique within its type.
	ID string

	// ContentType is the class of content this item belongs to.
	ContentType ContentType

	// ModifiedAt is when the host store last changed the item.
	ModifiedAt time.Time

	// MIMEType describes RawPayload (e.g. "text/html"). Empty means plain text.
	MIMEType string

	// RawPayload is the item body as delivered by the source.
	RawPayload []byte

	// RawText is the normalised text. Populated by the Scanner.
	RawText string

	// Title is a human-readable title, used in citations.
	Title string

	// URL is the public location of the item, used in citations.
	URL string

	// SourceMetadata contains source-specific key-value pairs.
	SourceMetadata map[string]any
}

// Ref returns the identity of the item.
func (c *ContentItem) Ref() ContentRef {
	return ContentRef{ContentType: c.ContentType, ContentID: c.ID}
}

// ContentRef identifies a content item without its payload.
type ContentRef struct {
	ContentType ContentType
	ContentID   string
}

// String returns "type/id".
func (r ContentRef) String() string {
	return string(r.ContentType) + "/" + r.ContentID
}

// ParseContentRef parses a "type/id" string.
func ParseContentRef(s string) (ContentRef, error) {
	typ, id, ok := strings.Cut(s, "/")
	if !ok || typ == "" || id == "" {
		return ContentRef{}, NewValidationError(ContentRef{}, "content reference must be type/id: "+s)
	}
	return ContentRef{ContentType: ContentType(typ), ContentID: id}, nil
}

// ScanDiff is the Scanner's output for one content type.
type ScanDiff struct {
	// ContentType is the scanned type.
	ContentType ContentType

	// ToIndex contains items that are new or modified.
	ToIndex []ContentItem

	// ToRemove contains IDs that are indexed but gone from the source.
	ToRemove []string

	// Invalid contains items rejected during normalisation.
	Invalid []ItemError

	// ScannedAt is when the scan started. Used as the next checkpoint.
	ScannedAt time.Time
}
