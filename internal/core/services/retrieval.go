package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/custodia-labs/storekb/internal/core/domain"
	"github.com/custodia-labs/storekb/internal/core/ports/driven"
	"github.com/custodia-labs/storekb/internal/core/ports/driving"
	"github.com/custodia-labs/storekb/internal/logger"
	"github.com/custodia-labs/storekb/internal/metrics"
)

// Ensure RetrievalEngine implements the interface.
var _ driving.RetrievalService = (*RetrievalEngine)(nil)

// RetrievalEngine embeds queries and searches the vector index.
// It is read-only and safe to use while a sync is running.
type RetrievalEngine struct {
	embedder     driven.EmbeddingProvider
	index        driven.VectorIndex
	contentTypes []domain.ContentType
}

// NewRetrievalEngine creates a retrieval engine. When contentTypes is
// non-empty, results are restricted to those types.
func NewRetrievalEngine(
	embedder driven.EmbeddingProvider, index driven.VectorIndex, contentTypes ...domain.ContentType,
) *RetrievalEngine {
	return &RetrievalEngine{
		embedder:     embedder,
		index:        index,
		contentTypes: contentTypes,
	}
}

// Retrieve returns up to maxChunks results scoring at least minSimilarity.
// An empty query or no relevant content yields an empty slice.
func (r *RetrievalEngine) Retrieve(
	ctx context.Context, query string, maxChunks int, minSimilarity float64,
) ([]domain.RetrievalResult, error) {
	query = strings.TrimSpace(query)
	if query == "" || maxChunks <= 0 {
		return []domain.RetrievalResult{}, nil
	}
	if r.embedder == nil {
		return nil, domain.ErrEmbeddingUnavailable
	}
	if r.index == nil {
		return nil, domain.ErrVectorIndexUnavailable
	}

	start := time.Now()
	defer func() { metrics.RetrievalDuration.Observe(time.Since(start).Seconds()) }()

	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return nil, &domain.EmbeddingError{BatchIndices: []int{0}, Err: fmt.Errorf("no vector for query")}
	}

	results, err := r.index.Search(ctx, vectors[0], driven.SearchOptions{
		Limit:         maxChunks,
		MinSimilarity: minSimilarity,
		ContentTypes:  r.contentTypes,
	})
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	// The index already filters; keep the guarantee even for lax implementations.
	filtered := results[:0]
	for _, res := range results {
		if res.Similarity >= minSimilarity {
			filtered = append(filtered, res)
		}
	}
	if len(filtered) > maxChunks {
		filtered = filtered[:maxChunks]
	}
	if filtered == nil {
		filtered = []domain.RetrievalResult{}
	}

	metrics.RetrievalResults.Observe(float64(len(filtered)))
	logger.Debug("Retrieved %d chunks for %q (min similarity %.2f)", len(filtered), query, minSimilarity)
	return filtered, nil
}
