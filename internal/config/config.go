// Package config defines the typed storekb configuration.
//
// Values are resolved in order: Default, then a TOML file (see the file
// config adapter), then STOREKB_* environment overrides, then CLI flags.
package config

import (
	"fmt"
	"time"

	"github.com/custodia-labs/storekb/internal/core/domain"
)

// Duration wraps time.Duration so TOML files can use "30m" style strings.
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

// MarshalText renders the duration as a Go duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config is the full storekb configuration.
type Config struct {
	Storage     StorageConfig     `toml:"storage"`
	Content     ContentConfig     `toml:"content"`
	Chunking    ChunkingConfig    `toml:"chunking"`
	Embedding   EmbeddingConfig   `toml:"embedding"`
	Generation  GenerationConfig  `toml:"generation"`
	Retrieval   RetrievalConfig   `toml:"retrieval"`
	Sync        SyncConfig        `toml:"sync"`
	Scheduler   SchedulerConfig   `toml:"scheduler"`
	Maintenance MaintenanceConfig `toml:"maintenance"`
	Server      ServerConfig      `toml:"server"`
}

// Storage drivers.
const (
	StorageSQLite = "sqlite"
	StorageMemory = "memory"
)

// StorageConfig selects where the index and sync state live.
type StorageConfig struct {
	// Driver is sqlite (default) or memory. The memory driver keeps
	// nothing across restarts.
	Driver string `toml:"driver"`

	// Path is the database file. Empty means <data dir>/storekb.db.
	Path string `toml:"path"`
}

// Content source kinds.
const (
	SourceFilesystem = "filesystem"
	SourceREST       = "rest"
)

// ContentConfig selects the content source and the types it serves.
type ContentConfig struct {
	Types     []string `toml:"types"`
	Source    string   `toml:"source"`
	Root      string   `toml:"root"`
	BaseURL   string   `toml:"base_url"`
	APIKey    string   `toml:"api_key"`
	PageSize  int      `toml:"page_size"`
	RateLimit float64  `toml:"rate_limit"`
	Timeout   Duration `toml:"timeout"`

	// MaxRetries applies to the rest source's transient failures.
	MaxRetries int `toml:"max_retries"`
}

// ContentTypes returns the configured types as domain values.
func (c ContentConfig) ContentTypes() []domain.ContentType {
	out := make([]domain.ContentType, 0, len(c.Types))
	for _, t := range c.Types {
		out = append(out, domain.ContentType(t))
	}
	return out
}

// ChunkingConfig controls the chunker.
type ChunkingConfig struct {
	MaxChunkSize int `toml:"max_chunk_size"`
	Overlap      int `toml:"overlap"`
}

// Provider names.
const (
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
)

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	Provider   string   `toml:"provider"`
	Model      string   `toml:"model"`
	BaseURL    string   `toml:"base_url"`
	APIKey     string   `toml:"api_key"`
	Dimensions int      `toml:"dimensions"`
	BatchSize  int      `toml:"batch_size"`
	Timeout    Duration `toml:"timeout"`
	MaxRetries int      `toml:"max_retries"`
	RateLimit  float64  `toml:"rate_limit"`
}

// GenerationConfig configures the generation provider.
type GenerationConfig struct {
	Provider    string   `toml:"provider"`
	Model       string   `toml:"model"`
	BaseURL     string   `toml:"base_url"`
	APIKey      string   `toml:"api_key"`
	Timeout     Duration `toml:"timeout"`
	MaxRetries  int      `toml:"max_retries"`
	MaxTokens   int      `toml:"max_tokens"`
	Temperature float64  `toml:"temperature"`
	// PromptDir holds user-editable prompt templates. Empty means <data dir>/prompts.
	PromptDir string `toml:"prompt_dir"`
}

// RetrievalConfig sets query-time defaults.
type RetrievalConfig struct {
	MaxChunks     int     `toml:"max_chunks"`
	MinSimilarity float64 `toml:"min_similarity"`
	// ContextBudget caps the characters of retrieved text put into a prompt.
	ContextBudget int `toml:"context_budget"`
	HistoryTurns  int `toml:"history_turns"`
}

// SyncConfig controls sync runs.
type SyncConfig struct {
	BatchSize              int      `toml:"batch_size"`
	Workers                int      `toml:"workers"`
	LockTimeout            Duration `toml:"lock_timeout"`
	JobTimeout             Duration `toml:"job_timeout"`
	ProgressFlushInterval  Duration `toml:"progress_flush_interval"`
	MaxConsecutiveFailures int      `toml:"max_consecutive_failures"`
	WatchDebounce          Duration `toml:"watch_debounce"`
}

// SchedulerConfig sets periodic task intervals. Zero disables a task.
type SchedulerConfig struct {
	Enabled             bool     `toml:"enabled"`
	FullSyncInterval    Duration `toml:"full_sync_interval"`
	IncrementalInterval Duration `toml:"incremental_interval"`
	MaintenanceInterval Duration `toml:"maintenance_interval"`
}

// MaintenanceConfig sets retention for housekeeping.
type MaintenanceConfig struct {
	InactiveRetention Duration `toml:"inactive_retention"`
	HistoryKeep       int      `toml:"history_keep"`
}

// ServerConfig configures the serve command's HTTP listener.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Driver: StorageSQLite,
		},
		Content: ContentConfig{
			Types:     []string{"product", "page", "post", "faq"},
			Source:    SourceFilesystem,
			PageSize:  100,
			RateLimit:  5,
			Timeout:    Duration{30 * time.Second},
			MaxRetries: 3,
		},
		Chunking: ChunkingConfig{
			MaxChunkSize: 1000,
			Overlap:      200,
		},
		Embedding: EmbeddingConfig{
			Provider:   ProviderOpenAI,
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
			BatchSize:  50,
			Timeout:    Duration{60 * time.Second},
			MaxRetries: 3,
			RateLimit:  10,
		},
		Generation: GenerationConfig{
			Provider:    ProviderOpenAI,
			Model:       "gpt-4o-mini",
			Timeout:     Duration{60 * time.Second},
			MaxRetries:  2,
			MaxTokens:   1024,
			Temperature: 0.2,
		},
		Retrieval: RetrievalConfig{
			MaxChunks:     5,
			MinSimilarity: 0.3,
			ContextBudget: 6000,
			HistoryTurns:  6,
		},
		Sync: SyncConfig{
			BatchSize:              50,
			Workers:                4,
			LockTimeout:            Duration{domain.DefaultLockTimeout},
			JobTimeout:             Duration{2 * time.Hour},
			ProgressFlushInterval:  Duration{2 * time.Second},
			MaxConsecutiveFailures: 10,
			WatchDebounce:          Duration{2 * time.Second},
		},
		Scheduler: SchedulerConfig{
			Enabled:             true,
			FullSyncInterval:    Duration{24 * time.Hour},
			IncrementalInterval: Duration{time.Hour},
			MaintenanceInterval: Duration{6 * time.Hour},
		},
		Maintenance: MaintenanceConfig{
			InactiveRetention: Duration{7 * 24 * time.Hour},
			HistoryKeep:       100,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:9464",
		},
	}
}

// Validate checks the configuration for values the pipeline cannot run with.
//
//nolint:gocyclo // flat list of independent checks
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageSQLite, StorageMemory:
	default:
		return invalid("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if len(c.Content.Types) == 0 {
		return invalid("content.types must list at least one content type")
	}
	for _, t := range c.Content.Types {
		if !domain.ContentType(t).IsValid() {
			return invalid("content.types: invalid content type %q", t)
		}
	}
	switch c.Content.Source {
	case SourceFilesystem:
		if c.Content.Root == "" {
			return invalid("content.root is required for the filesystem source")
		}
	case SourceREST:
		if c.Content.BaseURL == "" {
			return invalid("content.base_url is required for the rest source")
		}
	default:
		return invalid("content.source: unknown source %q", c.Content.Source)
	}
	if c.Chunking.MaxChunkSize <= 0 {
		return invalid("chunking.max_chunk_size must be positive")
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.MaxChunkSize {
		return invalid("chunking.overlap must be in [0, max_chunk_size)")
	}
	if c.Embedding.BatchSize <= 0 {
		return invalid("embedding.batch_size must be positive")
	}
	if c.Embedding.Model == "" {
		return invalid("embedding.model is required")
	}
	if c.Retrieval.MaxChunks <= 0 {
		return invalid("retrieval.max_chunks must be positive")
	}
	if c.Retrieval.MinSimilarity < 0 || c.Retrieval.MinSimilarity > 1 {
		return invalid("retrieval.min_similarity must be in [0, 1]")
	}
	if c.Sync.BatchSize <= 0 {
		return invalid("sync.batch_size must be positive")
	}
	if c.Sync.Workers <= 0 {
		return invalid("sync.workers must be positive")
	}
	if c.Sync.LockTimeout.Duration <= 0 {
		return invalid("sync.lock_timeout must be positive")
	}
	if c.Sync.MaxConsecutiveFailures <= 0 {
		return invalid("sync.max_consecutive_failures must be positive")
	}
	if c.Maintenance.HistoryKeep < 0 {
		return invalid("maintenance.history_keep must not be negative")
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("config: %w", domain.NewValidationError(domain.ContentRef{}, fmt.Sprintf(format, args...)))
}
