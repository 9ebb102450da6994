// Package domain defines the core business entities for storekb.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - ContentItem: A snapshot of catalog content fetched from the host store
//   - Chunk: A bounded slice of an item's text, the unit of embedding
//   - IndexEntry: A persisted, embedded chunk owned by the vector index
//   - SyncState: The single process-wide record of a sync operation
//   - RetrievalResult: An ephemeral similarity hit for one query
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
