package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/custodia-labs/storekb/internal/core/domain"
	"github.com/custodia-labs/storekb/internal/core/ports/driven"
	"github.com/custodia-labs/storekb/internal/core/ports/driving"
	"github.com/custodia-labs/storekb/internal/metrics"
)

// Ensure SyncOrchestrator implements the interface.
var _ driving.SyncOrchestrator = (*SyncOrchestrator)(nil)

// SyncConfig controls sync operations.
type SyncConfig struct {
	// ContentTypes are the types a full sync walks, in order.
	ContentTypes []domain.ContentType

	// BatchSize is the number of items indexed between checkpoints.
	BatchSize int

	// LockTimeout is the lease length. A lease not refreshed for this long
	// is treated as abandoned.
	LockTimeout time.Duration

	// JobTimeout bounds a whole operation. Zero means no bound.
	// Provider call timeouts are configured on the providers.
	JobTimeout time.Duration

	// ProgressFlushInterval is the minimum time between progress writes.
	ProgressFlushInterval time.Duration

	// InactiveRetention is how long deactivated entries are kept.
	InactiveRetention time.Duration

	// HistoryKeep is the number of archived runs and task results kept.
	HistoryKeep int
}

// DefaultSyncConfig returns the defaults used when fields are zero.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		BatchSize:             DefaultBatchSize,
		LockTimeout:           domain.DefaultLockTimeout,
		ProgressFlushInterval: 2 * time.Second,
		InactiveRetention:     7 * 24 * time.Hour,
		HistoryKeep:           100,
	}
}

// SyncOrchestrator runs the sync state machine:
//
//	idle -> running -> completed | failed | cancelled
//
// A run starts only after the single-instance lock is acquired and always
// releases it, whatever the outcome.
type SyncOrchestrator struct {
	scanner    *Scanner
	indexer    *Indexer
	source     driven.ContentSource
	index      driven.VectorIndex
	states     driven.SyncStateStore
	locks      driven.LockStore
	schedStore driven.SchedulerStore

	cfg   SyncConfig
	now   func() time.Time
	newID func() string
	log   *zap.Logger
}

// SyncOption configures a SyncOrchestrator.
type SyncOption func(*SyncOrchestrator)

// WithSyncLogger sets the logger.
func WithSyncLogger(l *zap.Logger) SyncOption {
	return func(o *SyncOrchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// WithSyncClock overrides time.Now.
func WithSyncClock(now func() time.Time) SyncOption {
	return func(o *SyncOrchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithRunIDs overrides run ID generation.
func WithRunIDs(newID func() string) SyncOption {
	return func(o *SyncOrchestrator) {
		if newID != nil {
			o.newID = newID
		}
	}
}

// WithSchedulerStore lets maintenance prune scheduler history too.
func WithSchedulerStore(store driven.SchedulerStore) SyncOption {
	return func(o *SyncOrchestrator) {
		o.schedStore = store
	}
}

// NewSyncOrchestrator creates a sync orchestrator.
func NewSyncOrchestrator(
	scanner *Scanner,
	indexer *Indexer,
	source driven.ContentSource,
	index driven.VectorIndex,
	states driven.SyncStateStore,
	locks driven.LockStore,
	cfg SyncConfig,
	opts ...SyncOption,
) *SyncOrchestrator {
	def := DefaultSyncConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = def.LockTimeout
	}
	if cfg.ProgressFlushInterval < 0 {
		cfg.ProgressFlushInterval = 0
	}
	if cfg.InactiveRetention < 0 {
		cfg.InactiveRetention = 0
	}

	o := &SyncOrchestrator{
		scanner: scanner,
		indexer: indexer,
		source:  source,
		index:   index,
		states:  states,
		locks:   locks,
		cfg:     cfg,
		now:     time.Now,
		newID:   uuid.NewString,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunFullSync rescans every configured content type.
func (o *SyncOrchestrator) RunFullSync(ctx context.Context) (*domain.SyncReport, error) {
	return o.run(ctx, domain.OperationFullSync, "", func(r *syncRun) error {
		scanned := 0
		var lastErr error
		for _, t := range o.cfg.ContentTypes {
			err := o.syncType(r, t, nil)
			if err == nil {
				scanned++
				continue
			}
			if !errors.Is(err, errScan) {
				return err
			}
			lastErr = err
		}
		if scanned == 0 && lastErr != nil {
			return lastErr
		}
		return nil
	})
}

// RunIncrementalSync indexes items of contentType modified since the type's
// checkpoint. Without a checkpoint it falls back to a full diff of the type.
func (o *SyncOrchestrator) RunIncrementalSync(
	ctx context.Context, contentType domain.ContentType,
) (*domain.SyncReport, error) {
	if !o.configured(contentType) {
		return nil, domain.NewValidationError(domain.ContentRef{ContentType: contentType}, "content type not configured")
	}
	return o.run(ctx, domain.OperationIncrementalSync, contentType, func(r *syncRun) error {
		since, ok, err := o.states.Checkpoint(r.ctx, contentType)
		if err != nil {
			return fmt.Errorf("load checkpoint: %w", err)
		}
		var sincePtr *time.Time
		if ok {
			sincePtr = &since
		}
		return o.syncType(r, contentType, sincePtr)
	})
}

// RunReindex refetches and re-indexes exactly refs. Items that no longer
// exist upstream are deactivated.
func (o *SyncOrchestrator) RunReindex(ctx context.Context, refs []domain.ContentRef) (*domain.SyncReport, error) {
	for _, ref := range refs {
		if !o.configured(ref.ContentType) || ref.ContentID == "" {
			return nil, domain.NewValidationError(ref, "cannot reindex")
		}
	}
	return o.run(ctx, domain.OperationReindex, "", func(r *syncRun) error {
		return o.reindex(r, refs)
	})
}

// RunMaintenance purges long-inactive entries, prunes run and task history
// and reclaims expired locks.
func (o *SyncOrchestrator) RunMaintenance(ctx context.Context) (*domain.MaintenanceResult, error) {
	result := &domain.MaintenanceResult{}
	_, err := o.run(ctx, domain.OperationMaintenance, "", func(r *syncRun) error {
		// 1. PURGE INACTIVE ENTRIES
		cutoff := o.now().Add(-o.cfg.InactiveRetention)
		purged, err := o.index.PurgeInactive(r.ctx, cutoff)
		if err != nil {
			return fmt.Errorf("purge inactive: %w", err)
		}
		result.PurgedEntries = purged

		// 2. PRUNE HISTORY
		if o.cfg.HistoryKeep > 0 {
			pruned, err := o.states.PruneHistory(r.ctx, o.cfg.HistoryKeep)
			if err != nil {
				return fmt.Errorf("prune run history: %w", err)
			}
			result.PrunedRuns = pruned
			if o.schedStore != nil {
				if err := o.schedStore.PruneHistory(r.ctx, o.cfg.HistoryKeep); err != nil {
					return fmt.Errorf("prune task history: %w", err)
				}
			}
		}

		// 3. RECLAIM ABANDONED LOCKS
		reclaimed, err := o.locks.ReclaimExpired(r.ctx)
		if err != nil {
			return fmt.Errorf("reclaim locks: %w", err)
		}
		result.ReclaimedLocks = reclaimed
		r.state.Removed = purged
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.log.Info("maintenance complete",
		zap.Int("purged", result.PurgedEntries),
		zap.Int("pruned_runs", result.PrunedRuns),
		zap.Int("reclaimed_locks", result.ReclaimedLocks))
	return result, nil
}

// Cancel flags the running operation. It is observed between batches.
func (o *SyncOrchestrator) Cancel(ctx context.Context) (bool, error) {
	cur, err := o.states.Current(ctx)
	if err != nil {
		return false, fmt.Errorf("get sync state: %w", err)
	}
	if !cur.IsRunning() {
		return false, nil
	}
	return o.states.RequestCancel(ctx, cur.RunID)
}

// Status returns the current state. A state still marked running whose
// lease is gone belongs to a crashed worker and is reported as failed.
func (o *SyncOrchestrator) Status(ctx context.Context) (*domain.SyncState, error) {
	cur, err := o.states.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("get sync state: %w", err)
	}
	if !cur.IsRunning() {
		return cur, nil
	}
	holder, err := o.locks.Holder(ctx, domain.SyncLockName)
	if err != nil {
		return nil, fmt.Errorf("get lock holder: %w", err)
	}
	if holder == nil || holder.Owner != cur.RunID || holder.Expired(o.now()) {
		cur.Phase = domain.SyncPhaseFailed
		cur.Failure = "abandoned: lock no longer held by this run"
	}
	return cur, nil
}

// History returns archived runs, most recent first.
func (o *SyncOrchestrator) History(ctx context.Context, limit int) ([]domain.SyncState, error) {
	return o.states.History(ctx, limit)
}

// Health returns index counters and refreshes the index gauges.
func (o *SyncOrchestrator) Health(ctx context.Context) (*domain.IndexHealth, error) {
	h, err := o.index.Health(ctx)
	if err != nil {
		return nil, err
	}
	metrics.UpdateIndexHealth(h)
	return h, nil
}

// configured reports whether t is one of the configured content types.
func (o *SyncOrchestrator) configured(t domain.ContentType) bool {
	for _, c := range o.cfg.ContentTypes {
		if c == t {
			return true
		}
	}
	return false
}
