package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Chunk represents a bounded-size slice of a content item's text.
// Chunks are the unit of embedding and retrieval.
type Chunk struct {
	// ContentType and ContentID link to the owning ContentItem.
	ContentType ContentType
	ContentID   string

	// Index is the zero-based position within the item.
	Index int

	// Total is the number of sibling chunks produced from the item.
	Total int

	// Text is the chunk content, including any overlap prefix.
	Text string

	// Hash is the deterministic identity of the chunk.
	// Unchanged content always reproduces the same hash.
	Hash string

	// ContentHash is the hash of the normalised text alone.
	// Identical text shares a ContentHash across positions and items,
	// which lets an existing embedding be reused.
	ContentHash string
}

// ChunkHash derives the identity of a chunk from its owner, position and text.
func ChunkHash(contentType ContentType, contentID string, index int, text string) string {
	h := sha256.New()
	h.Write([]byte(contentType))
	h.Write([]byte{0})
	h.Write([]byte(contentID))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(index)))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// TextHash hashes chunk text alone.
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
