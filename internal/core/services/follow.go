package services

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/custodia-labs/storekb/internal/core/domain"
)

// Follow runs an incremental sync for every content type announced on
// changes until ctx is done or changes is closed. Types rejected because
// another operation holds the lock are retried after retry.
func (o *SyncOrchestrator) Follow(ctx context.Context, changes <-chan domain.ContentType, retry time.Duration) error {
	if retry <= 0 {
		retry = defaultContentionWait
	}
	pending := make(map[domain.ContentType]struct{})

	timer := time.NewTimer(retry)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case t, ok := <-changes:
			if !ok {
				return nil
			}
			if !o.configured(t) {
				o.log.Debug("change ignored, type not configured", zap.String("content_type", string(t)))
				continue
			}
			pending[t] = struct{}{}
		case <-timer.C:
		}

		if o.syncPending(ctx, pending) {
			timer.Reset(retry)
		}
	}
}

// syncPending syncs every pending type in name order and reports whether
// any was deferred by lock contention.
func (o *SyncOrchestrator) syncPending(ctx context.Context, pending map[domain.ContentType]struct{}) bool {
	types := make([]domain.ContentType, 0, len(pending))
	for t := range pending {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	deferred := false
	for _, t := range types {
		if ctx.Err() != nil {
			return false
		}
		_, err := o.RunIncrementalSync(ctx, t)
		if errors.Is(err, domain.ErrLockContention) {
			deferred = true
			continue
		}
		delete(pending, t)
		if err != nil {
			o.log.Warn("watch sync failed", zap.String("content_type", string(t)), zap.Error(err))
		}
	}
	return deferred
}
