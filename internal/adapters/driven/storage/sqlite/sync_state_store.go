package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/storekb/internal/core/domain"
	"github.com/custodia-labs/storekb/internal/core/ports/driven"
)

// syncStateStore implements driven.SyncStateStore.
type syncStateStore struct {
	store *Store
}

var _ driven.SyncStateStore = (*syncStateStore)(nil)

// Current returns the persisted state, or an idle state if none exists.
func (s *syncStateStore) Current(ctx context.Context) (*domain.SyncState, error) {
	var raw string
	var cancel int
	err := s.store.db.QueryRowContext(ctx,
		"SELECT state, cancel_requested FROM sync_state WHERE id = 1").Scan(&raw, &cancel)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IdleSyncState(), nil
	}
	if err != nil {
		return nil, &domain.StorageError{Op: "get sync state", Err: err}
	}

	var state domain.SyncState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, &domain.StorageError{Op: "get sync state", Err: fmt.Errorf("decoding state: %w", err)}
	}
	state.CancelRequested = cancel == 1
	return &state, nil
}

// SaveCurrent replaces the current state. A cancel flag already set for
// the same run survives the write.
func (s *syncStateStore) SaveCurrent(ctx context.Context, state *domain.SyncState) error {
	if state == nil {
		return domain.ErrInvalidInput
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding sync state: %w", err)
	}

	_, err = s.store.db.ExecContext(ctx, `
		INSERT INTO sync_state (id, run_id, phase, state, cancel_requested)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			cancel_requested = CASE
				WHEN sync_state.run_id = excluded.run_id
				THEN MAX(sync_state.cancel_requested, excluded.cancel_requested)
				ELSE excluded.cancel_requested
			END,
			run_id = excluded.run_id,
			phase = excluded.phase,
			state = excluded.state
	`, state.RunID, string(state.Phase), string(raw), boolToInt(state.CancelRequested))
	if err != nil {
		return &domain.StorageError{Op: "save sync state", Err: err}
	}
	return nil
}

// RequestCancel sets the cancel flag if runID is the running operation.
func (s *syncStateStore) RequestCancel(ctx context.Context, runID string) (bool, error) {
	res, err := s.store.db.ExecContext(ctx, `
		UPDATE sync_state SET cancel_requested = 1
		WHERE id = 1 AND run_id = ? AND phase = ?
	`, runID, string(domain.SyncPhaseRunning))
	if err != nil {
		return false, &domain.StorageError{Op: "request cancel", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &domain.StorageError{Op: "request cancel", Err: err}
	}
	return n > 0, nil
}

// CancelRequested reports whether runID has been flagged.
func (s *syncStateStore) CancelRequested(ctx context.Context, runID string) (bool, error) {
	var cancel int
	err := s.store.db.QueryRowContext(ctx,
		"SELECT cancel_requested FROM sync_state WHERE id = 1 AND run_id = ?", runID).Scan(&cancel)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, &domain.StorageError{Op: "check cancel", Err: err}
	}
	return cancel == 1, nil
}

// Archive appends a finished state to sync_runs.
func (s *syncStateStore) Archive(ctx context.Context, state *domain.SyncState) error {
	if state == nil || state.RunID == "" {
		return domain.ErrInvalidInput
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding sync state: %w", err)
	}

	_, err = s.store.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sync_runs (run_id, operation, phase, started_at, completed_at, state)
		VALUES (?, ?, ?, ?, ?, ?)
	`, state.RunID, string(state.Operation), string(state.Phase),
		toMillis(state.StartedAt), toMillis(state.CompletedAt), string(raw))
	if err != nil {
		return &domain.StorageError{Op: "archive sync run", Err: err}
	}
	return nil
}

// History returns archived runs, most recent first.
func (s *syncStateStore) History(ctx context.Context, limit int) ([]domain.SyncState, error) {
	if limit <= 0 {
		return []domain.SyncState{}, nil
	}
	rows, err := s.store.db.QueryContext(ctx,
		"SELECT state FROM sync_runs ORDER BY started_at DESC, run_id DESC LIMIT ?", limit)
	if err != nil {
		return nil, &domain.StorageError{Op: "sync history", Err: err}
	}
	defer rows.Close()

	states := make([]domain.SyncState, 0, limit)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, &domain.StorageError{Op: "sync history", Err: err}
		}
		var state domain.SyncState
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			return nil, &domain.StorageError{Op: "sync history", Err: fmt.Errorf("decoding state: %w", err)}
		}
		states = append(states, state)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "sync history", Err: err}
	}
	return states, nil
}

// PruneHistory keeps the keep most recent runs.
func (s *syncStateStore) PruneHistory(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.store.db.ExecContext(ctx, `
		DELETE FROM sync_runs WHERE run_id NOT IN (
			SELECT run_id FROM sync_runs ORDER BY started_at DESC, run_id DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, &domain.StorageError{Op: "prune sync history", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &domain.StorageError{Op: "prune sync history", Err: err}
	}
	return int(n), nil
}

// Checkpoint returns the last scan time for a content type.
func (s *syncStateStore) Checkpoint(ctx context.Context, contentType domain.ContentType) (time.Time, bool, error) {
	var ms int64
	err := s.store.db.QueryRowContext(ctx,
		"SELECT last_synced_at FROM sync_checkpoints WHERE content_type = ?", string(contentType)).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, &domain.StorageError{Op: "get checkpoint", Err: err}
	}
	return fromMillis(ms), true, nil
}

// SaveCheckpoint records the scan time for a content type.
func (s *syncStateStore) SaveCheckpoint(ctx context.Context, contentType domain.ContentType, at time.Time) error {
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO sync_checkpoints (content_type, last_synced_at) VALUES (?, ?)
		ON CONFLICT(content_type) DO UPDATE SET last_synced_at = excluded.last_synced_at
	`, string(contentType), toMillis(at))
	if err != nil {
		return &domain.StorageError{Op: "save checkpoint", Err: err}
	}
	return nil
}
