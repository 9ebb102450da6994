package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/storekb/internal/core/domain"
	"github.com/custodia-labs/storekb/internal/core/ports/driven"
)

// Ensure SyncStateStore implements the interface.
var _ driven.SyncStateStore = (*SyncStateStore)(nil)

// SyncStateStore is an in-memory implementation of driven.SyncStateStore.
type SyncStateStore struct {
	mu          sync.RWMutex
	current     *domain.SyncState
	history     []domain.SyncState
	checkpoints map[domain.ContentType]time.Time
}

// NewSyncStateStore creates a new in-memory sync state store.
func NewSyncStateStore() *SyncStateStore {
	return &SyncStateStore{
		checkpoints: make(map[domain.ContentType]time.Time),
	}
}

// Current returns a copy of the current state.
func (s *SyncStateStore) Current(_ context.Context) (*domain.SyncState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return domain.IdleSyncState(), nil
	}
	return s.current.Clone(), nil
}

// SaveCurrent replaces the current state, keeping a cancel flag already
// set for the same run.
func (s *SyncStateStore) SaveCurrent(_ context.Context, state *domain.SyncState) error {
	if state == nil {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := state.Clone()
	if s.current != nil && s.current.RunID == next.RunID && s.current.CancelRequested {
		next.CancelRequested = true
	}
	s.current = next
	return nil
}

// RequestCancel flags runID if it is running.
func (s *SyncStateStore) RequestCancel(_ context.Context, runID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.current.RunID != runID || !s.current.IsRunning() {
		return false, nil
	}
	s.current.CancelRequested = true
	return true, nil
}

// CancelRequested reports whether runID was flagged.
func (s *SyncStateStore) CancelRequested(_ context.Context, runID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current != nil && s.current.RunID == runID && s.current.CancelRequested, nil
}

// Archive appends a finished state, replacing an earlier copy of the run.
func (s *SyncStateStore) Archive(_ context.Context, state *domain.SyncState) error {
	if state == nil || state.RunID == "" {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.history {
		if s.history[i].RunID == state.RunID {
			s.history[i] = *state.Clone()
			return nil
		}
	}
	s.history = append(s.history, *state.Clone())
	return nil
}

// History returns archived runs, most recent first.
func (s *SyncStateStore) History(_ context.Context, limit int) ([]domain.SyncState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sorted := s.sortedLocked()
	if limit < len(sorted) {
		sorted = sorted[:max(limit, 0)]
	}
	return sorted, nil
}

// PruneHistory keeps the keep most recent runs.
func (s *SyncStateStore) PruneHistory(_ context.Context, keep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keep = max(keep, 0)
	sorted := s.sortedLocked()
	if len(sorted) <= keep {
		return 0, nil
	}
	removed := len(sorted) - keep
	s.history = sorted[:keep]
	return removed, nil
}

func (s *SyncStateStore) sortedLocked() []domain.SyncState {
	out := make([]domain.SyncState, len(s.history))
	for i := range s.history {
		out[i] = *s.history[i].Clone()
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].RunID > out[j].RunID
	})
	return out
}

// Checkpoint returns the last scan time for a content type.
func (s *SyncStateStore) Checkpoint(_ context.Context, contentType domain.ContentType) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.checkpoints[contentType]
	return at, ok, nil
}

// SaveCheckpoint records the scan time for a content type.
func (s *SyncStateStore) SaveCheckpoint(_ context.Context, contentType domain.ContentType, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[contentType] = at
	return nil
}
