// Package services implements the driving port interfaces.
// Services contain the core business logic and orchestrate
// calls to driven ports (adapters).
//
// The sync path is Scheduler -> SyncOrchestrator -> Scanner -> Indexer.
// The query path is RetrievalEngine -> PromptAssembler -> GenerationProvider,
// wrapped by AnswerService. The two paths share only the vector index, which
// the query path reads without locking.
package services
