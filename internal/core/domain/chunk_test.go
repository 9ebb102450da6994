package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkHash_Deterministic(t *testing.T) {
	a := ChunkHash(ContentTypeProduct, "sku-1", 0, "red shoes")
	b := ChunkHash(ContentTypeProduct, "sku-1", 0, "red shoes")

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestChunkHash_DependsOnEveryPart(t *testing.T) {
	base := ChunkHash(ContentTypeProduct, "sku-1", 0, "red shoes")

	assert.NotEqual(t, base, ChunkHash(ContentTypePage, "sku-1", 0, "red shoes"))
	assert.NotEqual(t, base, ChunkHash(ContentTypeProduct, "sku-2", 0, "red shoes"))
	assert.NotEqual(t, base, ChunkHash(ContentTypeProduct, "sku-1", 1, "red shoes"))
	assert.NotEqual(t, base, ChunkHash(ContentTypeProduct, "sku-1", 0, "blue shoes"))
}

func TestChunkHash_SeparatorsPreventAmbiguity(t *testing.T) {
	assert.NotEqual(t,
		ChunkHash("ab", "c", 0, "x"),
		ChunkHash("a", "bc", 0, "x"),
	)
}

func TestTextHash(t *testing.T) {
	assert.Equal(t, TextHash("same"), TextHash("same"))
	assert.NotEqual(t, TextHash("same"), TextHash("other"))
}
