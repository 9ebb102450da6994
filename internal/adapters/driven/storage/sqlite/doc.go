// Package sqlite provides SQLite-backed implementations of the storekb
// persistence ports: the vector index, sync state and run history,
// checkpoints, leases and scheduler state.
//
// Embeddings are stored as little-endian float32 BLOBs and compared with
// cosine similarity at query time. Timestamps used in comparisons are
// stored as Unix milliseconds.
package sqlite
