package memory

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/storekb/internal/core/domain"
	"github.com/custodia-labs/storekb/internal/core/ports/driven"
)

// Ensure VectorIndex implements the interface.
var _ driven.VectorIndex = (*VectorIndex)(nil)

// VectorIndex is an in-memory implementation of driven.VectorIndex using
// brute-force cosine similarity.
type VectorIndex struct {
	mu      sync.RWMutex
	entries map[string]domain.IndexEntry
	now     func() time.Time
}

// NewVectorIndex creates an empty in-memory vector index.
func NewVectorIndex(opts ...Option) *VectorIndex {
	o := buildOptions(opts)
	return &VectorIndex{
		entries: make(map[string]domain.IndexEntry),
		now:     o.now,
	}
}

// Upsert inserts or replaces entries and marks them active.
func (v *VectorIndex) Upsert(_ context.Context, entries []domain.IndexEntry) error {
	if err := validateEntries(entries); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.putLocked(entries)
	return nil
}

// ReplaceContent writes an item's entries and deletes its other rows.
func (v *VectorIndex) ReplaceContent(
	_ context.Context, contentType domain.ContentType, contentID string, entries []domain.IndexEntry,
) error {
	ref := domain.ContentRef{ContentType: contentType, ContentID: contentID}
	for i := range entries {
		if entries[i].ContentType != contentType || entries[i].ContentID != contentID {
			return domain.NewValidationError(ref, "entry "+entries[i].ChunkHash+" belongs to another content item")
		}
	}
	if err := validateEntries(entries); err != nil {
		return err
	}

	keep := make(map[string]struct{}, len(entries))
	for i := range entries {
		keep[entries[i].ChunkHash] = struct{}{}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	for hash, e := range v.entries {
		if e.ContentType != contentType || e.ContentID != contentID {
			continue
		}
		if _, ok := keep[hash]; !ok {
			delete(v.entries, hash)
		}
	}
	v.putLocked(entries)
	return nil
}

func (v *VectorIndex) putLocked(entries []domain.IndexEntry) {
	now := v.now()
	for i := range entries {
		e := entries[i]
		e.Embedding = append([]float32(nil), e.Embedding...)
		e.Metadata = copyMetadata(e.Metadata)
		if e.UpdatedAt.IsZero() {
			e.UpdatedAt = now
		}
		e.Active = true
		v.entries[e.ChunkHash] = e
	}
}

// Deactivate marks an item's active entries inactive.
func (v *VectorIndex) Deactivate(_ context.Context, contentType domain.ContentType, contentID string) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	n := 0
	for hash, e := range v.entries {
		if e.ContentType == contentType && e.ContentID == contentID && e.Active {
			e.Active = false
			e.UpdatedAt = now
			v.entries[hash] = e
			n++
		}
	}
	return n, nil
}

// Search scores every active entry against query.
func (v *VectorIndex) Search(
	_ context.Context, query []float32, opts driven.SearchOptions,
) ([]domain.RetrievalResult, error) {
	results := []domain.RetrievalResult{}
	if len(query) == 0 || opts.Limit <= 0 {
		return results, nil
	}

	types := make(map[domain.ContentType]struct{}, len(opts.ContentTypes))
	for _, ct := range opts.ContentTypes {
		types[ct] = struct{}{}
	}

	v.mu.RLock()
	for _, e := range v.entries {
		if !e.Active || len(e.Embedding) != len(query) {
			continue
		}
		if len(types) > 0 {
			if _, ok := types[e.ContentType]; !ok {
				continue
			}
		}
		sim := domain.CosineSimilarity(query, e.Embedding)
		if sim < opts.MinSimilarity {
			continue
		}
		results = append(results, domain.RetrievalResult{
			ChunkHash:   e.ChunkHash,
			Text:        e.Text,
			Similarity:  sim,
			ContentType: e.ContentType,
			ContentID:   e.ContentID,
			ChunkIndex:  e.ChunkIndex,
			Metadata:    copyMetadata(e.Metadata),
			UpdatedAt:   e.UpdatedAt,
		})
	}
	v.mu.RUnlock()

	domain.SortResults(results)
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// ListActiveContentIDs returns IDs with at least one active entry.
func (v *VectorIndex) ListActiveContentIDs(_ context.Context, contentType domain.ContentType) (map[string]struct{}, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	ids := make(map[string]struct{})
	for _, e := range v.entries {
		if e.Active && e.ContentType == contentType {
			ids[e.ContentID] = struct{}{}
		}
	}
	return ids, nil
}

// IndexedVersions returns the newest source modification time per active item.
func (v *VectorIndex) IndexedVersions(_ context.Context, contentType domain.ContentType) (map[string]time.Time, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	versions := make(map[string]time.Time)
	for _, e := range v.entries {
		if e.ContentType != contentType || !e.Active {
			continue
		}
		if cur, ok := versions[e.ContentID]; !ok || e.SourceModifiedAt.After(cur) {
			versions[e.ContentID] = e.SourceModifiedAt
		}
	}
	return versions, nil
}

// Lookup returns existing entries keyed by chunk hash.
func (v *VectorIndex) Lookup(_ context.Context, chunkHashes []string) (map[string]domain.IndexedChunk, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	found := make(map[string]domain.IndexedChunk, len(chunkHashes))
	for _, h := range chunkHashes {
		if e, ok := v.entries[h]; ok {
			found[h] = domain.IndexedChunk{
				ChunkHash:      e.ChunkHash,
				ContentHash:    e.ContentHash,
				EmbeddingModel: e.EmbeddingModel,
				TotalChunks:    e.TotalChunks,
				Active:         e.Active,
			}
		}
	}
	return found, nil
}

// EmbeddingsByContentHash returns vectors for texts embedded with model.
func (v *VectorIndex) EmbeddingsByContentHash(
	_ context.Context, model string, contentHashes []string,
) (map[string][]float32, error) {
	want := make(map[string]struct{}, len(contentHashes))
	for _, h := range contentHashes {
		want[h] = struct{}{}
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	found := make(map[string][]float32)
	for _, e := range v.entries {
		if e.EmbeddingModel != model {
			continue
		}
		if _, ok := want[e.ContentHash]; !ok {
			continue
		}
		if _, ok := found[e.ContentHash]; !ok {
			found[e.ContentHash] = append([]float32(nil), e.Embedding...)
		}
	}
	return found, nil
}

// PurgeInactive deletes inactive entries last updated before the cutoff.
func (v *VectorIndex) PurgeInactive(_ context.Context, before time.Time) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	n := 0
	for hash, e := range v.entries {
		if !e.Active && e.UpdatedAt.Before(before) {
			delete(v.entries, hash)
			n++
		}
	}
	return n, nil
}

// Health summarises the index.
func (v *VectorIndex) Health(_ context.Context) (*domain.IndexHealth, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	h := &domain.IndexHealth{
		ActiveByType:       make(map[domain.ContentType]int),
		InactiveByType:     make(map[domain.ContentType]int),
		ContentItemsByType: make(map[domain.ContentType]int),
		EntriesByModel:     make(map[string]int),
	}
	items := make(map[domain.ContentRef]struct{})
	for _, e := range v.entries {
		h.TotalEntries++
		if e.UpdatedAt.After(h.LastUpdated) {
			h.LastUpdated = e.UpdatedAt
		}
		if !e.Active {
			h.InactiveEntries++
			h.InactiveByType[e.ContentType]++
			continue
		}
		h.ActiveEntries++
		h.ActiveByType[e.ContentType]++
		h.EntriesByModel[e.EmbeddingModel]++
		ref := domain.ContentRef{ContentType: e.ContentType, ContentID: e.ContentID}
		if _, ok := items[ref]; !ok {
			items[ref] = struct{}{}
			h.ContentItemsByType[e.ContentType]++
		}
	}
	return h, nil
}

// Close is a no-op.
func (v *VectorIndex) Close() error {
	return nil
}

func validateEntries(entries []domain.IndexEntry) error {
	for i := range entries {
		e := &entries[i]
		ref := domain.ContentRef{ContentType: e.ContentType, ContentID: e.ContentID}
		if e.ChunkHash == "" {
			return domain.NewValidationError(ref, "entry has no chunk hash")
		}
		if len(e.Embedding) == 0 {
			return domain.NewValidationError(ref, "entry has no embedding")
		}
	}
	return nil
}

func copyMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
