package mcp

import (
	"github.com/custodia-labs/storekb/internal/core/ports/driving"
)

// Ports aggregates all driving port interfaces required by the MCP server.
// This provides a single injection point for dependency injection.
type Ports struct {
	// Retrieval finds chunks relevant to a query.
	Retrieval driving.RetrievalService

	// Answer runs the retrieval-augmented question flow. Optional.
	Answer driving.AnswerService

	// Sync exposes sync state and index health. Optional.
	Sync driving.SyncOrchestrator

	// MaxChunks and MinSimilarity are the retrieval defaults used when a
	// tool call leaves them unset.
	MaxChunks     int
	MinSimilarity float64
}

// Validate ensures all required ports are set.
// Returns an error if any required port is nil.
func (p *Ports) Validate() error {
	if p.Retrieval == nil {
		return ErrMissingRetrievalService
	}
	return nil
}

func (p *Ports) maxChunks(n int) int {
	if n > 0 {
		return n
	}
	if p.MaxChunks > 0 {
		return p.MaxChunks
	}
	return defaultMaxChunks
}

func (p *Ports) minSimilarity(v float64) float64 {
	if v > 0 {
		return v
	}
	return p.MinSimilarity
}
