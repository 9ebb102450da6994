package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/storekb/internal/core/domain"
)

func retrievalFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	f.source.put(tProduct, "scarf", "Red wool scarf", t0)
	f.source.put(tProduct, "hat", "Green cotton hat", t0)
	f.source.put(tProduct, "towel", "Linen tea towel", t0)
	f.source.put(tPage, "shipping", "Shipping takes three days", t0)
	indexType(t, f, tProduct)
	indexType(t, f, tPage)
	return f
}

func TestRetrievalEngine_Retrieve(t *testing.T) {
	f := retrievalFixture(t)
	engine := NewRetrievalEngine(f.embedder, f.index)

	results, err := engine.Retrieve(context.Background(), "wool scarf", 2, 0)
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "scarf", results[0].ContentID)
	assert.GreaterOrEqual(t, results[0].Similarity, results[1].Similarity)
}

func TestRetrievalEngine_Retrieve_Threshold(t *testing.T) {
	f := retrievalFixture(t)
	engine := NewRetrievalEngine(f.embedder, f.index)

	for _, threshold := range []float64{0, 0.3, 0.6, 0.9, 1} {
		for _, limit := range []int{1, 3, 10} {
			results, err := engine.Retrieve(context.Background(), "red wool", limit, threshold)
			require.NoError(t, err)
			assert.LessOrEqual(t, len(results), limit)
			for i, r := range results {
				assert.GreaterOrEqual(t, r.Similarity, threshold)
				if i > 0 {
					assert.GreaterOrEqual(t, results[i-1].Similarity, r.Similarity)
				}
			}
		}
	}
}

func TestRetrievalEngine_Retrieve_NothingRelevant(t *testing.T) {
	f := retrievalFixture(t)
	engine := NewRetrievalEngine(f.embedder, f.index)

	results, err := engine.Retrieve(context.Background(), "zzz", 5, 0.1)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestRetrievalEngine_Retrieve_EmptyQuery(t *testing.T) {
	f := retrievalFixture(t)
	engine := NewRetrievalEngine(f.embedder, f.index)
	calls, _ := f.embedder.counts()

	results, err := engine.Retrieve(context.Background(), "   ", 5, 0)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)

	after, _ := f.embedder.counts()
	assert.Equal(t, calls, after)
}

func TestRetrievalEngine_Retrieve_ContentTypes(t *testing.T) {
	f := retrievalFixture(t)
	engine := NewRetrievalEngine(f.embedder, f.index, tPage)

	results, err := engine.Retrieve(context.Background(), "wool scarf", 10, 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, tPage, r.ContentType)
	}
}

func TestRetrievalEngine_Retrieve_SkipsDeactivated(t *testing.T) {
	f := retrievalFixture(t)
	_, err := f.index.Deactivate(context.Background(), tProduct, "scarf")
	require.NoError(t, err)
	engine := NewRetrievalEngine(f.embedder, f.index)

	results, err := engine.Retrieve(context.Background(), "wool scarf", 10, 0)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "scarf", r.ContentID)
	}
}

func TestRetrievalEngine_Retrieve_Unavailable(t *testing.T) {
	engine := NewRetrievalEngine(nil, nil)
	_, err := engine.Retrieve(context.Background(), "hat", 5, 0)
	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)

	engine = NewRetrievalEngine(&fakeEmbedder{}, nil)
	_, err = engine.Retrieve(context.Background(), "hat", 5, 0)
	assert.ErrorIs(t, err, domain.ErrVectorIndexUnavailable)
}
