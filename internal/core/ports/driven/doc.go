// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
// These must be provided for the sync pipeline to function:
//
//   - ContentSource: Lists and fetches catalog content from the host store
//   - Normaliser / NormaliserRegistry: Turns raw payloads into plain text
//   - Chunker: Splits text into deterministic chunks
//   - EmbeddingProvider: Generates vector embeddings
//   - VectorIndex: Stores embedded chunks and answers similarity queries
//   - SyncStateStore: Persists the sync state machine and checkpoints
//   - LockStore: Single-instance lease for sync operations
//   - SchedulerStore: Scheduled task state and history
//
// # Optional Interfaces
//
// These can be nil - the application degrades gracefully:
//
//   - GenerationProvider: Without it, retrieval works but answers are disabled.
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter, content source, or normaliser package
package driven
