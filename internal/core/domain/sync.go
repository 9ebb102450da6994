package domain

import (
	"fmt"
	"time"
)

// SyncPhase is the state of the sync state machine.
//
//	idle -> running -> completed | failed | cancelled
type SyncPhase string

// Sync phases.
const (
	SyncPhaseIdle      SyncPhase = "idle"
	SyncPhaseRunning   SyncPhase = "running"
	SyncPhaseCompleted SyncPhase = "completed"
	SyncPhaseFailed    SyncPhase = "failed"
	SyncPhaseCancelled SyncPhase = "cancelled"
)

// IsTerminal reports whether the phase ends an operation.
func (p SyncPhase) IsTerminal() bool {
	switch p {
	case SyncPhaseCompleted, SyncPhaseFailed, SyncPhaseCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether the state machine allows moving from p to next.
func (p SyncPhase) CanTransition(next SyncPhase) bool {
	switch p {
	case SyncPhaseIdle, SyncPhaseCompleted, SyncPhaseFailed, SyncPhaseCancelled, "":
		return next == SyncPhaseRunning
	case SyncPhaseRunning:
		return next == SyncPhaseRunning || next.IsTerminal()
	default:
		return false
	}
}

// SyncOperation names what a sync run is doing.
type SyncOperation string

// Sync operations.
const (
	OperationFullSync        SyncOperation = "full_sync"
	OperationIncrementalSync SyncOperation = "incremental_sync"
	OperationMaintenance     SyncOperation = "maintenance"
	OperationReindex         SyncOperation = "reindex"
)

// Processing stages recorded on item errors.
const (
	StageScan      = "scan"
	StageNormalise = "normalise"
	StageChunk     = "chunk"
	StageEmbed     = "embed"
	StageStore     = "store"
	StageRemove    = "remove"
	StageFetch     = "fetch"
)

// ItemError records a per-item failure with enough identity to retry it.
type ItemError struct {
	ContentType ContentType `json:"content_type"`
	ContentID   string      `json:"content_id"`
	Stage       string      `json:"stage"`
	Message     string      `json:"message"`
}

// Ref returns the identity of the failed item.
func (e ItemError) Ref() ContentRef {
	return ContentRef{ContentType: e.ContentType, ContentID: e.ContentID}
}

// String formats the error for reports.
func (e ItemError) String() string {
	return fmt.Sprintf("%s/%s [%s]: %s", e.ContentType, e.ContentID, e.Stage, e.Message)
}

// NewItemError builds an ItemError from an error.
func NewItemError(ref ContentRef, stage string, err error) ItemError {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return ItemError{
		ContentType: ref.ContentType,
		ContentID:   ref.ContentID,
		Stage:       stage,
		Message:     msg,
	}
}

// SyncState is the process-wide record of the current or last sync operation.
// At most one SyncState may be running at a time; the lock enforces this.
type SyncState struct {
	// RunID uniquely identifies the operation.
	RunID string `json:"run_id"`

	// Phase is the state machine position.
	Phase SyncPhase `json:"phase"`

	// Operation is what the run is doing.
	Operation SyncOperation `json:"operation"`

	// ContentType scopes incremental runs. Empty for all types.
	ContentType ContentType `json:"content_type,omitempty"`

	// CurrentType is the type being processed right now.
	CurrentType ContentType `json:"current_type,omitempty"`

	// TotalItems and ProcessedItems track progress.
	TotalItems     int `json:"total_items"`
	ProcessedItems int `json:"processed_items"`

	// ChunksCreated, EmbeddingsGenerated and Removed aggregate results.
	ChunksCreated       int `json:"chunks_created"`
	EmbeddingsGenerated int `json:"embeddings_generated"`
	Removed             int `json:"removed"`

	// StartedAt, UpdatedAt and CompletedAt are lifecycle timestamps.
	StartedAt   time.Time `json:"started_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`

	// Errors accumulates item-level failures.
	Errors []ItemError `json:"errors,omitempty"`

	// Failure is the operation-level error for failed runs.
	Failure string `json:"failure,omitempty"`

	// CancelRequested is set by an operator; observed between batches.
	CancelRequested bool `json:"cancel_requested,omitempty"`
}

// IsRunning reports whether the state is in the running phase.
func (s *SyncState) IsRunning() bool {
	return s != nil && s.Phase == SyncPhaseRunning
}

// Progress returns processed/total in [0,1]; 0 when total is unknown.
func (s *SyncState) Progress() float64 {
	if s == nil || s.TotalItems <= 0 {
		return 0
	}
	p := float64(s.ProcessedItems) / float64(s.TotalItems)
	if p > 1 {
		return 1
	}
	return p
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s *SyncState) Clone() *SyncState {
	if s == nil {
		return nil
	}
	c := *s
	if s.Errors != nil {
		c.Errors = make([]ItemError, len(s.Errors))
		copy(c.Errors, s.Errors)
	}
	return &c
}

// IdleSyncState returns the state reported before any run has happened.
func IdleSyncState() *SyncState {
	return &SyncState{Phase: SyncPhaseIdle}
}

// TypeReport aggregates results for one content type.
type TypeReport struct {
	ContentType         ContentType `json:"content_type"`
	Indexed             int         `json:"indexed"`
	Removed             int         `json:"removed"`
	Invalid             int         `json:"invalid"`
	ChunksCreated       int         `json:"chunks_created"`
	EmbeddingsGenerated int         `json:"embeddings_generated"`
	Failed              int         `json:"failed"`
}

// SyncReport is the final outcome of a sync operation.
type SyncReport struct {
	RunID       string        `json:"run_id"`
	Operation   SyncOperation `json:"operation"`
	Phase       SyncPhase     `json:"phase"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Types       []TypeReport  `json:"types"`
	Errors      []ItemError   `json:"errors,omitempty"`
	Failure     string        `json:"failure,omitempty"`
}

// FailedRefs returns the distinct items that failed, for a targeted re-run.
func (r *SyncReport) FailedRefs() []ContentRef {
	seen := make(map[ContentRef]struct{}, len(r.Errors))
	refs := make([]ContentRef, 0, len(r.Errors))
	for _, e := range r.Errors {
		ref := e.Ref()
		if ref.ContentID == "" {
			continue
		}
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		refs = append(refs, ref)
	}
	return refs
}

// Totals sums the per-type counts.
func (r *SyncReport) Totals() TypeReport {
	var t TypeReport
	for _, tr := range r.Types {
		t.Indexed += tr.Indexed
		t.Removed += tr.Removed
		t.Invalid += tr.Invalid
		t.ChunksCreated += tr.ChunksCreated
		t.EmbeddingsGenerated += tr.EmbeddingsGenerated
		t.Failed += tr.Failed
	}
	return t
}

// IndexResult is the Indexer's output for a set of items.
type IndexResult struct {
	ItemsIndexed        int
	ChunksCreated       int
	EmbeddingsGenerated int
	Errors              []ItemError
}

// Merge adds other into r.
func (r *IndexResult) Merge(other IndexResult) {
	r.ItemsIndexed += other.ItemsIndexed
	r.ChunksCreated += other.ChunksCreated
	r.EmbeddingsGenerated += other.EmbeddingsGenerated
	r.Errors = append(r.Errors, other.Errors...)
}

// MaintenanceResult summarises a maintenance run.
type MaintenanceResult struct {
	PurgedEntries  int `json:"purged_entries"`
	PrunedRuns     int `json:"pruned_runs"`
	ReclaimedLocks int `json:"reclaimed_locks"`
}
