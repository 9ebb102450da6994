package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/storekb/internal/core/domain"
)

// SyncStateStore persists the sync state machine so that an external
// status surface can read it, and so incremental sync survives restarts.
type SyncStateStore interface {
	// Current returns the current or most recent state.
	// Returns domain.IdleSyncState() when nothing has run yet.
	Current(ctx context.Context) (*domain.SyncState, error)

	// SaveCurrent replaces the current state.
	SaveCurrent(ctx context.Context, state *domain.SyncState) error

	// RequestCancel flags the running operation for cancellation.
	// Returns false if no operation with runID is running.
	RequestCancel(ctx context.Context, runID string) (bool, error)

	// CancelRequested reports whether cancellation was requested for runID.
	CancelRequested(ctx context.Context, runID string) (bool, error)

	// Archive appends a finished state to the run history.
	Archive(ctx context.Context, state *domain.SyncState) error

	// History returns archived runs, most recent first.
	History(ctx context.Context, limit int) ([]domain.SyncState, error)

	// PruneHistory keeps the most recent keep runs and returns how many were removed.
	PruneHistory(ctx context.Context, keep int) (int, error)

	// Checkpoint returns the last successful scan time for a content type.
	Checkpoint(ctx context.Context, contentType domain.ContentType) (time.Time, bool, error)

	// SaveCheckpoint records the scan time for a content type.
	SaveCheckpoint(ctx context.Context, contentType domain.ContentType, at time.Time) error
}

// LockStore provides timeout-based leases with atomic acquisition.
// Acquisition must be a single compare-and-swap, never read-then-write.
type LockStore interface {
	// TryAcquire takes the named lock for owner. It succeeds if the lock is
	// free, expired, or already held by owner. Otherwise it returns a
	// *domain.LockContentionError.
	TryAcquire(ctx context.Context, name, owner string, ttl time.Duration) error

	// Refresh extends a lease held by owner. Returns domain.ErrLockContention
	// if owner no longer holds it.
	Refresh(ctx context.Context, name, owner string, ttl time.Duration) error

	// Release frees the lock if owner holds it. Releasing a lock that is
	// not held is not an error.
	Release(ctx context.Context, name, owner string) error

	// Holder returns the current lease, or nil if free.
	Holder(ctx context.Context, name string) (*domain.LockInfo, error)

	// ReclaimExpired deletes expired leases and returns how many were removed.
	ReclaimExpired(ctx context.Context) (int, error)
}

// SchedulerStore persists scheduler state for crash recovery.
// It stores task state and execution history.
type SchedulerStore interface {
	// GetTask retrieves a scheduled task by ID.
	// Returns nil and no error if the task does not exist.
	GetTask(ctx context.Context, taskID string) (*domain.ScheduledTask, error)

	// ListTasks returns all scheduled tasks.
	ListTasks(ctx context.Context) ([]domain.ScheduledTask, error)

	// SaveTask persists a task's state.
	SaveTask(ctx context.Context, task *domain.ScheduledTask) error

	// RecordResult logs a task execution result.
	RecordResult(ctx context.Context, result *domain.TaskResult) error

	// GetTaskHistory returns recent results for a task, most recent first.
	GetTaskHistory(ctx context.Context, taskID string, limit int) ([]domain.TaskResult, error)

	// PruneHistory keeps the most recent keep results per task.
	PruneHistory(ctx context.Context, keep int) error
}
