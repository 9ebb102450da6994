// Package app assembles the storekb service graph from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/custodia-labs/storekb/internal/adapters/driven/ai"
	"github.com/custodia-labs/storekb/internal/adapters/driven/config/file"
	"github.com/custodia-labs/storekb/internal/adapters/driven/content/filesystem"
	"github.com/custodia-labs/storekb/internal/adapters/driven/content/rest"
	"github.com/custodia-labs/storekb/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/storekb/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/storekb/internal/adapters/driving/cli"
	"github.com/custodia-labs/storekb/internal/config"
	"github.com/custodia-labs/storekb/internal/core/domain"
	"github.com/custodia-labs/storekb/internal/core/ports/driven"
	"github.com/custodia-labs/storekb/internal/core/services"
	"github.com/custodia-labs/storekb/internal/logger"
	"github.com/custodia-labs/storekb/internal/normalisers"
	"github.com/custodia-labs/storekb/internal/postprocessors/chunker"
)

// Ensure Bootstrap satisfies the CLI hook.
var _ cli.Bootstrap = Bootstrap

// Bootstrap loads the configuration at configPath (or the default location)
// and builds the service graph.
func Bootstrap(_ context.Context, configPath string) (*cli.Services, func() error, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	return Build(cfg)
}

// LoadConfig reads the config file, applies STOREKB_* overrides and validates.
func LoadConfig(path string) (*config.Config, error) {
	var (
		store *file.ConfigStore
		err   error
	)
	if path != "" {
		store, err = file.NewConfigStoreFromFile(path)
	} else {
		store, err = file.NewConfigStore("")
	}
	if err != nil {
		return nil, err
	}

	cfg := store.Config()
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", store.Path(), err)
	}
	return cfg, nil
}

// Build wires adapters and services for cfg. The returned func closes
// everything Build opened, in reverse order.
func Build(cfg *config.Config) (*cli.Services, func() error, error) {
	var cl closers

	st, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	cl = append(cl, st.close)

	source, watcher, err := newContentSource(cfg)
	if err != nil {
		return nil, nil, errors.Join(err, cl.close())
	}

	embedder, err := ai.NewEmbeddingProvider(cfg.Embedding)
	if err != nil {
		return nil, nil, errors.Join(err, cl.close())
	}
	cl = append(cl, embedder.Close)

	generator, err := ai.NewGenerationProvider(cfg.Generation)
	if err != nil {
		// Retrieval and sync still work; ask is not offered.
		logger.Info("answers disabled: %v", err)
		generator = nil
	}
	if generator != nil {
		cl = append(cl, generator.Close)
	}

	prompts, err := file.NewPromptStore(cfg.Generation.PromptDir)
	if err != nil {
		return nil, nil, errors.Join(err, cl.close())
	}

	types := cfg.Content.ContentTypes()

	scanner := services.NewScanner(source, st.index, normalisers.NewDefaultRegistry())
	indexer := services.NewIndexer(
		chunker.New(
			chunker.WithChunkSize(cfg.Chunking.MaxChunkSize),
			chunker.WithOverlap(cfg.Chunking.Overlap),
		),
		embedder,
		st.index,
		services.WithWorkers(cfg.Sync.Workers),
		services.WithMaxConsecutiveFailures(cfg.Sync.MaxConsecutiveFailures),
		services.WithIndexerLogger(logger.Named("indexer")),
	)

	retrieval := services.NewRetrievalEngine(embedder, st.index, types...)
	assembler := services.NewPromptAssembler(prompts,
		services.WithContextBudget(cfg.Retrieval.ContextBudget),
		services.WithHistoryTurns(cfg.Retrieval.HistoryTurns),
		services.WithGenerationParams(cfg.Generation.MaxTokens, cfg.Generation.Temperature),
	)
	orch := services.NewSyncOrchestrator(scanner, indexer, source, st.index, st.states, st.locks,
		services.SyncConfig{
			ContentTypes:          types,
			BatchSize:             cfg.Sync.BatchSize,
			LockTimeout:           cfg.Sync.LockTimeout.Duration,
			JobTimeout:            cfg.Sync.JobTimeout.Duration,
			ProgressFlushInterval: cfg.Sync.ProgressFlushInterval.Duration,
			InactiveRetention:     cfg.Maintenance.InactiveRetention.Duration,
			HistoryKeep:           cfg.Maintenance.HistoryKeep,
		},
		services.WithSyncLogger(logger.Named("sync")),
		services.WithSchedulerStore(st.sched),
	)

	sched := services.NewScheduler(schedulerConfig(cfg.Scheduler), st.sched, orch, types,
		services.WithSchedulerLogger(logger.Named("scheduler")))

	svc := &cli.Services{
		Config:    cfg,
		Sync:      orch,
		Retrieval: retrieval,
		Scheduler: sched,
		Follower:  orch,
	}
	// Answer stays a nil interface without a generator so the CLI and MCP
	// surfaces leave ask out.
	if generator != nil {
		svc.Answer = services.NewAnswerService(retrieval, assembler, generator,
			cfg.Retrieval.MaxChunks, cfg.Retrieval.MinSimilarity)
	}
	if watcher != nil {
		svc.Watcher = watcher
	}

	logger.Debug("services ready: storage=%s source=%s embedding=%s/%s generation=%s",
		cfg.Storage.Driver, source.Name(), cfg.Embedding.Provider, embedder.ModelName(), cfg.Generation.Provider)
	return svc, cl.close, nil
}

// storage groups the stores one driver provides.
type storage struct {
	index  driven.VectorIndex
	states driven.SyncStateStore
	locks  driven.LockStore
	sched  driven.SchedulerStore
	close  func() error
}

func openStorage(cfg config.StorageConfig) (*storage, error) {
	switch cfg.Driver {
	case config.StorageMemory:
		return &storage{
			index:  memory.NewVectorIndex(),
			states: memory.NewSyncStateStore(),
			locks:  memory.NewLockStore(),
			sched:  memory.NewSchedulerStore(),
			close:  func() error { return nil },
		}, nil

	case config.StorageSQLite, "":
		store, err := sqlite.NewStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
		logger.Debug("opened database %s", store.Path())
		return &storage{
			index:  store.VectorIndex(),
			states: store.SyncStateStore(),
			locks:  store.LockStore(),
			sched:  store.SchedulerStore(),
			close:  store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// newContentSource returns the configured source, and the source again as
// a watcher when it can push changes.
func newContentSource(cfg *config.Config) (driven.ContentSource, *filesystem.Source, error) {
	switch cfg.Content.Source {
	case config.SourceFilesystem:
		src, err := filesystem.New(filesystem.Config{
			Root:     cfg.Content.Root,
			BaseURL:  cfg.Content.BaseURL,
			Debounce: cfg.Sync.WatchDebounce.Duration,
		})
		if err != nil {
			return nil, nil, err
		}
		return src, src, nil

	case config.SourceREST:
		src, err := rest.New(rest.Config{
			BaseURL:           cfg.Content.BaseURL,
			APIKey:            cfg.Content.APIKey,
			PageSize:          cfg.Content.PageSize,
			RequestsPerSecond: cfg.Content.RateLimit,
			Timeout:           cfg.Content.Timeout.Duration,
			MaxRetries:        cfg.Content.MaxRetries,
		})
		if err != nil {
			return nil, nil, err
		}
		return src, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown content source %q", cfg.Content.Source)
	}
}

// schedulerConfig maps config intervals to scheduler tasks. A zero interval
// disables the task.
func schedulerConfig(cfg config.SchedulerConfig) domain.SchedulerConfig {
	task := func(d config.Duration) domain.TaskConfig {
		return domain.TaskConfig{Enabled: d.Duration > 0, Interval: d.Duration}
	}
	return domain.SchedulerConfig{
		Enabled: cfg.Enabled,
		TaskConfigs: map[string]domain.TaskConfig{
			domain.TaskIDFullSync:        task(cfg.FullSyncInterval),
			domain.TaskIDIncrementalSync: task(cfg.IncrementalInterval),
			domain.TaskIDMaintenance:     task(cfg.MaintenanceInterval),
		},
	}
}

type closers []func() error

func (c closers) close() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
