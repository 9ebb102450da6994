package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/storekb/internal/config"
	"github.com/custodia-labs/storekb/internal/core/domain"
)

// testConfig returns a config that builds without network access.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Driver = config.StorageMemory
	cfg.Content.Root = t.TempDir()
	cfg.Embedding.Provider = config.ProviderOllama
	cfg.Embedding.Model = "nomic-embed-text"
	cfg.Generation.Provider = ""
	cfg.Generation.PromptDir = t.TempDir()
	return cfg
}

func TestBuild_Memory(t *testing.T) {
	cfg := testConfig(t)
	cfg.Generation.Provider = config.ProviderOllama

	svc, closeFn, err := Build(cfg)
	require.NoError(t, err)
	defer func() { assert.NoError(t, closeFn()) }()

	assert.Same(t, cfg, svc.Config)
	assert.NotNil(t, svc.Sync)
	assert.NotNil(t, svc.Retrieval)
	assert.NotNil(t, svc.Answer)
	assert.NotNil(t, svc.Scheduler)
	assert.NotNil(t, svc.Follower)
	assert.NotNil(t, svc.Watcher, "filesystem source should watch")

	state, err := svc.Sync.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.SyncPhaseIdle, state.Phase)
}

func TestBuild_AnswersDisabledWithoutGenerator(t *testing.T) {
	cfg := testConfig(t)

	svc, closeFn, err := Build(cfg)
	require.NoError(t, err)
	defer closeFn() //nolint:errcheck

	assert.Nil(t, svc.Answer)
	assert.NotNil(t, svc.Retrieval, "retrieval works without a generator")
}

func TestBuild_GeneratorMissingKeyDoesNotFail(t *testing.T) {
	cfg := testConfig(t)
	cfg.Generation.Provider = config.ProviderAnthropic
	cfg.Generation.APIKey = ""

	svc, closeFn, err := Build(cfg)
	require.NoError(t, err)
	defer closeFn() //nolint:errcheck

	assert.Nil(t, svc.Answer)
}

func TestBuild_EmbeddingErrorFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.Embedding.Provider = config.ProviderOpenAI
	cfg.Embedding.APIKey = ""

	_, _, err := Build(cfg)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
}

func TestBuild_MissingRoot(t *testing.T) {
	cfg := testConfig(t)
	cfg.Content.Root = filepath.Join(t.TempDir(), "missing")

	_, _, err := Build(cfg)
	assert.Error(t, err)
}

func TestBuild_RESTHasNoWatcher(t *testing.T) {
	cfg := testConfig(t)
	cfg.Content.Source = config.SourceREST
	cfg.Content.BaseURL = "https://shop.example/api"

	svc, closeFn, err := Build(cfg)
	require.NoError(t, err)
	defer closeFn() //nolint:errcheck

	assert.Nil(t, svc.Watcher)
}

func TestBuild_SQLite(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Driver = config.StorageSQLite
	cfg.Storage.Path = filepath.Join(t.TempDir(), "data", "storekb.db")

	svc, closeFn, err := Build(cfg)
	require.NoError(t, err)

	health, err := svc.Sync.Health(context.Background())
	require.NoError(t, err)
	assert.Zero(t, health.TotalEntries)

	require.NoError(t, closeFn())
	_, err = os.Stat(cfg.Storage.Path)
	assert.NoError(t, err)
}

func TestBootstrap_FromFile(t *testing.T) {
	dir := t.TempDir()
	root := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	data := `
[storage]
driver = "memory"

[content]
root = "` + filepath.ToSlash(root) + `"
types = ["product", "faq"]

[embedding]
provider = "ollama"
model = "all-minilm"
dimensions = 384

[generation]
provider = ""
prompt_dir = "` + filepath.ToSlash(dir) + `"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))

	svc, closeFn, err := Bootstrap(context.Background(), path)
	require.NoError(t, err)
	defer closeFn() //nolint:errcheck

	assert.Equal(t, []domain.ContentType{domain.ContentTypeProduct, domain.ContentTypeFAQ},
		svc.Config.Content.ContentTypes())
	assert.Equal(t, 384, svc.Config.Embedding.Dimensions)
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[content]\nroot = \"\"\n"), 0600))

	_, err := LoadConfig(path)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Contains(t, err.Error(), path)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	t.Setenv("STOREKB_CONTENT_ROOT", "/srv/catalog")
	t.Setenv("STOREKB_RETRIEVAL_MAX_CHUNKS", "8")

	cfg, err := LoadConfig(path)

	require.NoError(t, err)
	assert.Equal(t, "/srv/catalog", cfg.Content.Root)
	assert.Equal(t, 8, cfg.Retrieval.MaxChunks)
}

func TestSchedulerConfig(t *testing.T) {
	got := schedulerConfig(config.SchedulerConfig{
		Enabled:             true,
		FullSyncInterval:    config.Duration{Duration: 12 * time.Hour},
		IncrementalInterval: config.Duration{Duration: 15 * time.Minute},
	})

	assert.True(t, got.Enabled)
	assert.Equal(t, domain.TaskConfig{Enabled: true, Interval: 12 * time.Hour}, got.TaskConfigs[domain.TaskIDFullSync])
	assert.Equal(t, domain.TaskConfig{Enabled: true, Interval: 15 * time.Minute}, got.TaskConfigs[domain.TaskIDIncrementalSync])
	assert.False(t, got.TaskConfigs[domain.TaskIDMaintenance].Enabled)
}

func TestClosers_ReverseOrderAndJoin(t *testing.T) {
	var order []int
	errA := errors.New("a")
	cl := closers{
		func() error { order = append(order, 1); return errA },
		func() error { order = append(order, 2); return nil },
	}

	err := cl.close()

	assert.Equal(t, []int{2, 1}, order)
	assert.ErrorIs(t, err, errA)
}
