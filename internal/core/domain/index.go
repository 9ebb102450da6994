package domain

import "time"

// IndexEntry is an embedded chunk persisted by the vector index.
// ChunkHash is globally unique.
type IndexEntry struct {
	// ChunkHash is the unique key of the entry.
	ChunkHash string

	// ContentHash is the hash of the chunk text alone.
	ContentHash string

	// ContentType and ContentID identify the owning content item.
	ContentType ContentType
	ContentID   string

	// ChunkIndex and TotalChunks locate the chunk within its item.
	ChunkIndex  int
	TotalChunks int

	// Text is the chunk text returned with retrieval results.
	Text string

	// Embedding is the vector representation of Text.
	Embedding []float32

	// EmbeddingModel names the model that produced Embedding.
	EmbeddingModel string

	// Metadata contains citation data (title, url) and source metadata.
	Metadata map[string]any

	// SourceModifiedAt is the item's ModifiedAt when the entry was written.
	SourceModifiedAt time.Time

	// UpdatedAt is when the entry was last written.
	UpdatedAt time.Time

	// Active is false once the owning content disappears upstream.
	Active bool
}

// IndexedChunk is a lightweight view of an existing entry used for dedup.
type IndexedChunk struct {
	ChunkHash      string
	ContentHash    string
	EmbeddingModel string
	TotalChunks    int
	Active         bool
}

// RetrievalResult is one similarity hit for a query.
// Results are ordered by descending Similarity and never persisted.
type RetrievalResult struct {
	ChunkHash   string
	Text        string
	Similarity  float64
	ContentType ContentType
	ContentID   string
	ChunkIndex  int
	Metadata    map[string]any
	UpdatedAt   time.Time
}

// Title returns the citation title from metadata, if any.
func (r *RetrievalResult) Title() string {
	if v, ok := r.Metadata[MetaTitle].(string); ok {
		return v
	}
	return ""
}

// URL returns the citation URL from metadata, if any.
func (r *RetrievalResult) URL() string {
	if v, ok := r.Metadata[MetaURL].(string); ok {
		return v
	}
	return ""
}

// Metadata keys written by the Indexer.
const (
	MetaTitle      = "title"
	MetaURL        = "url"
	MetaModifiedAt = "modified_at"
)

// IndexHealth summarises the vector index for the ops surface.
type IndexHealth struct {
	// TotalEntries counts every row, active or not.
	TotalEntries int `json:"total_entries"`

	// ActiveEntries counts rows visible to search.
	ActiveEntries int `json:"active_entries"`

	// InactiveEntries counts soft-deleted rows awaiting purge.
	InactiveEntries int `json:"inactive_entries"`

	// ActiveByType counts active entries per content type.
	ActiveByType map[ContentType]int `json:"active_by_type,omitempty"`

	// InactiveByType counts inactive entries per content type.
	InactiveByType map[ContentType]int `json:"inactive_by_type,omitempty"`

	// ContentItemsByType counts distinct active content items per type.
	ContentItemsByType map[ContentType]int `json:"content_items_by_type,omitempty"`

	// EntriesByModel counts active entries per embedding model.
	EntriesByModel map[string]int `json:"entries_by_model,omitempty"`

	// LastUpdated is the newest UpdatedAt across entries.
	LastUpdated time.Time `json:"last_updated"`
}
