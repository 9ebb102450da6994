package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/custodia-labs/storekb/internal/core/domain"
	"github.com/custodia-labs/storekb/internal/core/ports/driven"
	"github.com/custodia-labs/storekb/internal/core/ports/driving"
)

// Ensure Scheduler implements the interface.
var _ driving.Scheduler = (*Scheduler)(nil)

// Scheduler defaults.
const (
	DefaultTickInterval   = time.Minute
	DefaultHistoryKeep    = 100
	defaultContentionWait = time.Minute
)

// Scheduler triggers full sync, incremental sync and maintenance on their
// intervals. Each trigger is a discrete task that runs to completion or
// failure; outcomes are read back from the sync state, not via callbacks.
type Scheduler struct {
	config       domain.SchedulerConfig
	store        driven.SchedulerStore
	syncOrch     driving.SyncOrchestrator
	contentTypes []domain.ContentType

	tick           time.Duration
	contentionWait time.Duration
	now            func() time.Time
	log            *zap.Logger

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	inFlight map[string]bool
	wg       sync.WaitGroup
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often due tasks are checked.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

// WithContentionRetry sets how soon a task rejected by the sync lock is retried.
func WithContentionRetry(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.contentionWait = d
		}
	}
}

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(l *zap.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithSchedulerClock overrides time.Now.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// NewScheduler creates a scheduler. contentTypes are visited in order by
// the incremental sync task.
func NewScheduler(
	config domain.SchedulerConfig,
	store driven.SchedulerStore,
	syncOrch driving.SyncOrchestrator,
	contentTypes []domain.ContentType,
	opts ...SchedulerOption,
) *Scheduler {
	s := &Scheduler{
		config:         config,
		store:          store,
		syncOrch:       syncOrch,
		contentTypes:   contentTypes,
		tick:           DefaultTickInterval,
		contentionWait: defaultContentionWait,
		now:            time.Now,
		log:            zap.NewNop(),
		inFlight:       make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the scheduler loop. This method blocks until Stop is called
// or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil // Already running
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	if !s.config.Enabled {
		s.log.Info("scheduler disabled")
	} else if err := s.initialiseTasks(ctx); err != nil {
		s.log.Error("initialise tasks", zap.Error(err))
	}

	return s.run(ctx, stopCh)
}

// Stop gracefully shuts down the scheduler and waits for running tasks.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// Wait blocks until every started task has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// initialiseTasks ensures all configured tasks exist in the store.
func (s *Scheduler) initialiseTasks(ctx context.Context) error {
	tasks := []struct {
		id   string
		name string
	}{
		{domain.TaskIDFullSync, "Full Sync"},
		{domain.TaskIDIncrementalSync, "Incremental Sync"},
		{domain.TaskIDMaintenance, "Maintenance"},
	}
	for _, t := range tasks {
		if err := s.ensureTask(ctx, t.id, t.name, s.config.GetTaskConfig(t.id)); err != nil {
			return fmt.Errorf("ensure task %s: %w", t.id, err)
		}
	}
	return nil
}

// ensureTask creates or updates a task in the store.
func (s *Scheduler) ensureTask(ctx context.Context, id, name string, cfg domain.TaskConfig) error {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}

	enabled := cfg.Enabled && cfg.Interval > 0
	if task == nil {
		if !enabled {
			return nil
		}
		// New tasks run on the first check.
		task = &domain.ScheduledTask{
			ID:       id,
			Name:     name,
			Interval: cfg.Interval,
			Enabled:  true,
		}
	} else {
		if enabled && task.Interval != cfg.Interval {
			task.Interval = cfg.Interval
			task.NextRun = s.now().Add(cfg.Interval)
		}
		task.Enabled = enabled
	}

	return s.store.SaveTask(ctx, task)
}

// run is the main scheduler loop.
func (s *Scheduler) run(ctx context.Context, stopCh <-chan struct{}) error {
	if s.config.Enabled {
		s.checkAndRunDueTasks(ctx)
	}

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stopCh:
			return nil
		case <-ticker.C:
			if s.config.Enabled {
				s.checkAndRunDueTasks(ctx)
			}
		}
	}
}

// checkAndRunDueTasks starts tasks that are due and not already running.
func (s *Scheduler) checkAndRunDueTasks(ctx context.Context) {
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		s.log.Error("list tasks", zap.Error(err))
		return
	}

	now := s.now()
	for i := range tasks {
		task := tasks[i]
		if !task.Enabled {
			continue
		}
		if task.NextRun.IsZero() || !task.NextRun.After(now) {
			s.runTask(ctx, &task)
		}
	}
}

// runTask executes a single task in the background.
func (s *Scheduler) runTask(ctx context.Context, task *domain.ScheduledTask) {
	s.mu.Lock()
	if s.inFlight[task.ID] {
		s.mu.Unlock()
		return
	}
	s.inFlight[task.ID] = true
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.inFlight, task.ID)
			s.mu.Unlock()
			s.wg.Done()
		}()

		log := s.log.With(zap.String("task", task.ID))
		result := &domain.TaskResult{
			TaskID:    task.ID,
			StartedAt: s.now(),
		}

		var err error
		switch task.ID {
		case domain.TaskIDFullSync:
			result.ItemsProcessed, err = s.runFullSync(ctx)
		case domain.TaskIDIncrementalSync:
			result.ItemsProcessed, err = s.runIncrementalSync(ctx)
		case domain.TaskIDMaintenance:
			result.ItemsProcessed, err = s.runMaintenance(ctx)
		default:
			log.Warn("unknown task")
			return
		}

		result.EndedAt = s.now()
		task.LastRun = result.StartedAt
		task.NextRun = result.EndedAt.Add(task.Interval)
		if err != nil {
			result.Error = err.Error()
			task.LastError = err.Error()
			if errors.Is(err, domain.ErrLockContention) {
				// Another operation holds the lock; poll again soon.
				task.NextRun = result.EndedAt.Add(s.contentionWait)
				log.Info("task deferred, sync lock held", zap.Time("next_run", task.NextRun))
			} else {
				log.Error("task failed", zap.Error(err))
			}
		} else {
			result.Success = true
			task.LastError = ""
			task.LastSuccess = result.EndedAt
			log.Info("task complete", zap.Int("items", result.ItemsProcessed))
		}

		// Bookkeeping outlives a cancelled scheduler context.
		bg := context.WithoutCancel(ctx)
		if err := s.store.SaveTask(bg, task); err != nil {
			log.Error("save task", zap.Error(err))
		}
		if err := s.store.RecordResult(bg, result); err != nil {
			log.Error("record result", zap.Error(err))
		}
		if err := s.store.PruneHistory(bg, DefaultHistoryKeep); err != nil {
			log.Error("prune history", zap.Error(err))
		}
	}()
}

func (s *Scheduler) runFullSync(ctx context.Context) (int, error) {
	report, err := s.syncOrch.RunFullSync(ctx)
	return processed(report), err
}

// runIncrementalSync syncs each type in turn. Lock contention stops the
// pass so the whole task is retried.
func (s *Scheduler) runIncrementalSync(ctx context.Context) (int, error) {
	total := 0
	var errs []error
	for _, t := range s.contentTypes {
		report, err := s.syncOrch.RunIncrementalSync(ctx, t)
		total += processed(report)
		if err != nil {
			if errors.Is(err, domain.ErrLockContention) || ctx.Err() != nil {
				return total, err
			}
			errs = append(errs, fmt.Errorf("%s: %w", t, err))
		}
	}
	return total, errors.Join(errs...)
}

func (s *Scheduler) runMaintenance(ctx context.Context) (int, error) {
	result, err := s.syncOrch.RunMaintenance(ctx)
	if err != nil {
		return 0, err
	}
	return result.PurgedEntries, nil
}

// processed counts items a report touched.
func processed(report *domain.SyncReport) int {
	if report == nil {
		return 0
	}
	t := report.Totals()
	return t.Indexed + t.Removed + t.Invalid + t.Failed
}
