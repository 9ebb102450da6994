package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/custodia-labs/storekb/internal/core/domain"
	"github.com/custodia-labs/storekb/internal/metrics"
)

// errScan marks a content type whose listing failed. A full sync records
// it and moves on to the next type.
var errScan = errors.New("scan failed")

// syncRun is the mutable state of one running operation. It is only
// touched by the goroutine executing the operation.
type syncRun struct {
	ctx       context.Context
	runID     string
	log       *zap.Logger
	state     *domain.SyncState
	report    *domain.SyncReport
	lastFlush time.Time
}

func (r *syncRun) addErrors(errs ...domain.ItemError) {
	for _, e := range errs {
		r.log.Warn("item failed",
			zap.String("content_type", string(e.ContentType)),
			zap.String("content_id", e.ContentID),
			zap.String("stage", e.Stage),
			zap.String("error", e.Message))
	}
	r.state.Errors = append(r.state.Errors, errs...)
}

// run executes body inside the state machine. The lock is held for the
// whole operation and released on every path.
func (o *SyncOrchestrator) run(
	ctx context.Context,
	op domain.SyncOperation,
	contentType domain.ContentType,
	body func(r *syncRun) error,
) (*domain.SyncReport, error) {
	runID := o.newID()
	log := o.log.With(zap.String("run_id", runID), zap.String("operation", string(op)))

	// 1. ACQUIRE LOCK (idle -> running requires it)
	if err := o.locks.TryAcquire(ctx, domain.SyncLockName, runID, o.cfg.LockTimeout); err != nil {
		if errors.Is(err, domain.ErrLockContention) {
			metrics.LockContention.Inc()
			log.Info("sync rejected, lock held", zap.Error(err))
		}
		return nil, err
	}

	// Final writes must happen even when the caller's context is done.
	bg := context.WithoutCancel(ctx)
	defer func() {
		if err := o.locks.Release(bg, domain.SyncLockName, runID); err != nil {
			log.Error("release sync lock", zap.Error(err))
		}
	}()

	jobCtx, cancel := ctx, context.CancelFunc(func() {})
	if o.cfg.JobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, o.cfg.JobTimeout)
	}
	defer cancel()

	// 2. ENTER RUNNING
	now := o.now()
	r := &syncRun{
		ctx:   jobCtx,
		runID: runID,
		log:   log,
		state: &domain.SyncState{
			RunID:       runID,
			Phase:       domain.SyncPhaseRunning,
			Operation:   op,
			ContentType: contentType,
			StartedAt:   now,
			UpdatedAt:   now,
		},
		report: &domain.SyncReport{
			RunID:     runID,
			Operation: op,
			StartedAt: now,
		},
		lastFlush: now,
	}
	if err := o.states.SaveCurrent(jobCtx, r.state); err != nil {
		return nil, fmt.Errorf("save sync state: %w", err)
	}
	log.Info("sync started", zap.String("content_type", string(contentType)))

	// 3. RUN
	err := body(r)

	// 4. FINISH
	return o.finish(bg, r, err)
}

// finish moves the run to its terminal phase, persists and archives it.
func (o *SyncOrchestrator) finish(ctx context.Context, r *syncRun, runErr error) (*domain.SyncReport, error) {
	phase := domain.SyncPhaseCompleted
	switch {
	case runErr == nil:
	case errors.Is(runErr, domain.ErrCancelled), errors.Is(runErr, context.Canceled):
		phase = domain.SyncPhaseCancelled
		if !errors.Is(runErr, domain.ErrCancelled) {
			runErr = fmt.Errorf("%w: %w", domain.ErrCancelled, runErr)
		}
	case errors.Is(runErr, context.DeadlineExceeded):
		phase = domain.SyncPhaseFailed
		runErr = fmt.Errorf("job timeout %s exceeded: %w", o.cfg.JobTimeout, runErr)
	default:
		phase = domain.SyncPhaseFailed
	}

	now := o.now()
	r.state.Phase = phase
	r.state.CurrentType = ""
	r.state.UpdatedAt = now
	r.state.CompletedAt = now
	if runErr != nil {
		r.state.Failure = runErr.Error()
	}

	r.report.Phase = phase
	r.report.CompletedAt = now
	r.report.Errors = r.state.Errors
	r.report.Failure = r.state.Failure

	if err := o.states.SaveCurrent(ctx, r.state); err != nil {
		r.log.Error("save final sync state", zap.Error(err))
	}
	if err := o.states.Archive(ctx, r.state); err != nil {
		r.log.Error("archive sync run", zap.Error(err))
	}

	metrics.ObserveSyncRun(r.report)
	if h, err := o.index.Health(ctx); err == nil {
		metrics.UpdateIndexHealth(h)
	}

	fields := []zap.Field{
		zap.String("phase", string(phase)),
		zap.Int("processed", r.state.ProcessedItems),
		zap.Int("total", r.state.TotalItems),
		zap.Int("errors", len(r.state.Errors)),
		zap.Duration("elapsed", now.Sub(r.state.StartedAt)),
	}
	if phase == domain.SyncPhaseFailed {
		r.log.Error("sync failed", append(fields, zap.Error(runErr))...)
	} else {
		r.log.Info("sync finished", fields...)
	}

	return r.report, runErr
}

// between runs between batches: it refreshes the lease, observes the
// cancel flag and flushes progress at a bounded cadence.
func (o *SyncOrchestrator) between(r *syncRun, force bool) error {
	if err := o.locks.Refresh(r.ctx, domain.SyncLockName, r.runID, o.cfg.LockTimeout); err != nil {
		return fmt.Errorf("refresh sync lock: %w", err)
	}

	cancelled, err := o.states.CancelRequested(r.ctx, r.runID)
	if err != nil {
		return fmt.Errorf("check cancel flag: %w", err)
	}
	if cancelled {
		return domain.ErrCancelled
	}

	now := o.now()
	if !force && now.Sub(r.lastFlush) < o.cfg.ProgressFlushInterval {
		return nil
	}
	r.state.UpdatedAt = now
	if err := o.states.SaveCurrent(r.ctx, r.state); err != nil {
		return fmt.Errorf("save sync progress: %w", err)
	}
	r.lastFlush = now
	return nil
}

// syncType scans one content type, removes what disappeared, indexes what
// changed and advances the type's checkpoint.
func (o *SyncOrchestrator) syncType(r *syncRun, t domain.ContentType, since *time.Time) error {
	r.state.CurrentType = t
	tr := domain.TypeReport{ContentType: t}
	defer func() { r.report.Types = append(r.report.Types, tr) }()

	// 1. SCAN
	diff, err := o.scanner.Diff(r.ctx, t, since)
	if err != nil {
		if r.ctx.Err() != nil || domain.IsFatal(err) {
			return err
		}
		r.addErrors(domain.ItemError{ContentType: t, Stage: domain.StageScan, Message: err.Error()})
		return fmt.Errorf("%w: %s: %w", errScan, t, err)
	}

	r.state.TotalItems += len(diff.ToIndex) + len(diff.ToRemove) + len(diff.Invalid)
	r.state.ProcessedItems += len(diff.Invalid)
	tr.Invalid = len(diff.Invalid)
	r.addErrors(diff.Invalid...)
	if err := o.between(r, true); err != nil {
		return err
	}

	// 2. REMOVE
	for _, id := range diff.ToRemove {
		if err := o.deactivate(r, &tr, t, id); err != nil {
			return err
		}
	}
	if len(diff.ToRemove) > 0 {
		if err := o.between(r, false); err != nil {
			return err
		}
	}

	// 3. INDEX
	result, err := o.indexItems(r, &tr, diff.ToIndex)
	if err != nil {
		return err
	}

	// 4. CHECKPOINT
	// Items that failed to index keep the checkpoint before their
	// modification time so the next incremental sync retries them.
	at := diff.ScannedAt
	if len(result.Errors) > 0 {
		modified := make(map[string]time.Time, len(diff.ToIndex))
		for i := range diff.ToIndex {
			modified[diff.ToIndex[i].ID] = diff.ToIndex[i].ModifiedAt
		}
		for _, e := range result.Errors {
			if mt, ok := modified[e.ContentID]; ok && !mt.IsZero() {
				if retry := mt.Add(-time.Millisecond); retry.Before(at) {
					at = retry
				}
			}
		}
	}
	if err := o.states.SaveCheckpoint(r.ctx, t, at); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", t, err)
	}
	return o.between(r, true)
}

// reindex refetches refs and indexes them per content type.
func (o *SyncOrchestrator) reindex(r *syncRun, refs []domain.ContentRef) error {
	var order []domain.ContentType
	byType := make(map[domain.ContentType][]string)
	seen := make(map[domain.ContentRef]struct{}, len(refs))
	for _, ref := range refs {
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		if _, ok := byType[ref.ContentType]; !ok {
			order = append(order, ref.ContentType)
		}
		byType[ref.ContentType] = append(byType[ref.ContentType], ref.ContentID)
	}
	r.state.TotalItems = len(seen)

	for _, t := range order {
		if err := o.reindexType(r, t, byType[t]); err != nil {
			return err
		}
	}
	return nil
}

func (o *SyncOrchestrator) reindexType(r *syncRun, t domain.ContentType, ids []string) error {
	r.state.CurrentType = t
	tr := domain.TypeReport{ContentType: t}
	defer func() { r.report.Types = append(r.report.Types, tr) }()

	// 1. FETCH
	items := make([]domain.ContentItem, 0, len(ids))
	for _, id := range ids {
		ref := domain.ContentRef{ContentType: t, ContentID: id}
		item, err := o.source.Fetch(r.ctx, t, id)
		if err != nil {
			if r.ctx.Err() != nil || domain.IsFatal(err) {
				return err
			}
			r.addErrors(domain.NewItemError(ref, domain.StageFetch, err))
			tr.Failed++
			r.state.ProcessedItems++
			continue
		}

		// 2. GONE UPSTREAM
		if item == nil {
			if err := o.deactivate(r, &tr, t, id); err != nil {
				return err
			}
			continue
		}

		// 3. NORMALISE
		if item.ContentType == "" {
			item.ContentType = t
		}
		if err := o.scanner.Prepare(r.ctx, item); err != nil {
			r.addErrors(domain.NewItemError(ref, domain.StageNormalise, err))
			tr.Invalid++
			r.state.ProcessedItems++
			continue
		}
		items = append(items, *item)
	}
	if err := o.between(r, true); err != nil {
		return err
	}

	// 4. INDEX
	_, err := o.indexItems(r, &tr, items)
	if err != nil {
		return err
	}
	return o.between(r, true)
}

// deactivate soft-deletes one item. Storage failures are recorded against
// the item; only context errors stop the run.
func (o *SyncOrchestrator) deactivate(r *syncRun, tr *domain.TypeReport, t domain.ContentType, id string) error {
	r.state.ProcessedItems++
	n, err := o.index.Deactivate(r.ctx, t, id)
	if err != nil {
		if r.ctx.Err() != nil {
			return r.ctx.Err()
		}
		r.addErrors(domain.NewItemError(domain.ContentRef{ContentType: t, ContentID: id}, domain.StageRemove, err))
		tr.Failed++
		return nil
	}
	r.log.Debug("content removed",
		zap.String("content_type", string(t)),
		zap.String("content_id", id),
		zap.Int("entries", n))
	tr.Removed++
	r.state.Removed++
	return nil
}

// indexItems runs the indexer and folds its progress into the run.
func (o *SyncOrchestrator) indexItems(
	r *syncRun, tr *domain.TypeReport, items []domain.ContentItem,
) (domain.IndexResult, error) {
	base := r.state.ProcessedItems
	result, err := o.indexer.Process(r.ctx, items, o.cfg.BatchSize,
		func(_ context.Context, processed int, batch domain.IndexResult) error {
			r.state.ProcessedItems = base + processed
			r.state.ChunksCreated += batch.ChunksCreated
			r.state.EmbeddingsGenerated += batch.EmbeddingsGenerated
			r.addErrors(batch.Errors...)
			return o.between(r, false)
		})

	tr.Indexed += result.ItemsIndexed
	tr.ChunksCreated += result.ChunksCreated
	tr.EmbeddingsGenerated += result.EmbeddingsGenerated
	tr.Failed += len(result.Errors)
	return result, err
}
