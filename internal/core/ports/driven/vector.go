package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/storekb/internal/core/domain"
)

// VectorIndex persists embedded chunks and answers similarity queries.
//
// Similarity is normalised cosine: dot(a, b) / (|a| * |b|). Provider
// embeddings are not guaranteed to be unit length, so both norms are
// applied at search time; a zero-norm vector scores 0. The same metric
// must be used by every implementation.
type VectorIndex interface {
	// Upsert inserts new chunk hashes and updates embedding, metadata and
	// updated_at for existing ones. Idempotent.
	Upsert(ctx context.Context, entries []domain.IndexEntry) error

	// ReplaceContent upserts the entries of one content item and hard-deletes
	// any other entries the item owned, in a single transaction.
	ReplaceContent(ctx context.Context, contentType domain.ContentType, contentID string, entries []domain.IndexEntry) error

	// Deactivate marks every entry of a content item inactive.
	// Returns the number of entries affected.
	Deactivate(ctx context.Context, contentType domain.ContentType, contentID string) (int, error)

	// Search returns up to limit active entries whose similarity to query is
	// at least minSimilarity, ordered by descending similarity with ties
	// broken by most recent updated_at. No match is an empty slice, not an error.
	Search(ctx context.Context, query []float32, opts SearchOptions) ([]domain.RetrievalResult, error)

	// ListActiveContentIDs returns the IDs that have at least one active entry.
	ListActiveContentIDs(ctx context.Context, contentType domain.ContentType) (map[string]struct{}, error)

	// IndexedVersions returns, for each active item of the type, the newest
	// source modification time its entries were written from.
	IndexedVersions(ctx context.Context, contentType domain.ContentType) (map[string]time.Time, error)

	// Lookup returns the existing entries for the given chunk hashes.
	Lookup(ctx context.Context, chunkHashes []string) (map[string]domain.IndexedChunk, error)

	// EmbeddingsByContentHash returns stored vectors for chunk texts that
	// were already embedded with the given model.
	EmbeddingsByContentHash(ctx context.Context, model string, contentHashes []string) (map[string][]float32, error)

	// PurgeInactive hard-deletes inactive entries not updated since before.
	PurgeInactive(ctx context.Context, before time.Time) (int, error)

	// Health summarises the index.
	Health(ctx context.Context) (*domain.IndexHealth, error)

	// Close releases resources.
	Close() error
}

// SearchOptions configures a similarity search.
type SearchOptions struct {
	// Limit is the maximum number of results.
	Limit int

	// MinSimilarity drops results scoring below it.
	MinSimilarity float64

	// ContentTypes filters to specific types. Empty means all.
	ContentTypes []domain.ContentType
}
