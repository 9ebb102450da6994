package driving

import (
	"context"

	"github.com/custodia-labs/storekb/internal/core/domain"
)

// SyncOrchestrator coordinates full rebuilds and incremental updates of the
// knowledge base. Only one operation runs at a time; a second request while
// one is running fails with domain.ErrLockContention rather than queueing.
type SyncOrchestrator interface {
	// RunFullSync rescans every configured content type.
	RunFullSync(ctx context.Context) (*domain.SyncReport, error)

	// RunIncrementalSync indexes items of one type modified since its last
	// checkpoint. Deletions are still detected by a full ID diff.
	RunIncrementalSync(ctx context.Context, contentType domain.ContentType) (*domain.SyncReport, error)

	// RunReindex refetches and re-indexes exactly the given items.
	RunReindex(ctx context.Context, refs []domain.ContentRef) (*domain.SyncReport, error)

	// RunMaintenance purges stale entries and history.
	RunMaintenance(ctx context.Context) (*domain.MaintenanceResult, error)

	// Cancel requests cancellation of the running operation.
	// Returns false if nothing is running.
	Cancel(ctx context.Context) (bool, error)

	// Status returns the current sync state.
	Status(ctx context.Context) (*domain.SyncState, error)

	// History returns archived runs, most recent first.
	History(ctx context.Context, limit int) ([]domain.SyncState, error)

	// Health returns vector index counters.
	Health(ctx context.Context) (*domain.IndexHealth, error)
}
