package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/storekb/internal/core/domain"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Content.Root = "/tmp/catalog"
	return cfg
}

func TestDefault_Values(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 1000, cfg.Chunking.MaxChunkSize)
	assert.Equal(t, 200, cfg.Chunking.Overlap)
	assert.Equal(t, 5, cfg.Retrieval.MaxChunks)
	assert.Equal(t, StorageSQLite, cfg.Storage.Driver)
	assert.InDelta(t, 0.3, cfg.Retrieval.MinSimilarity, 1e-9)
	assert.Equal(t, 50, cfg.Sync.BatchSize)
	assert.Equal(t, 30*time.Minute, cfg.Sync.LockTimeout.Duration)
	assert.Equal(t, []domain.ContentType{"product", "page", "post", "faq"}, cfg.Content.ContentTypes())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		valid  bool
	}{
		{"defaults with root", func(*Config) {}, true},
		{"no types", func(c *Config) { c.Content.Types = nil }, false},
		{"bad type", func(c *Config) { c.Content.Types = []string{"Bad Type"} }, false},
		{"filesystem without root", func(c *Config) { c.Content.Root = "" }, false},
		{"rest without url", func(c *Config) { c.Content.Source = SourceREST }, false},
		{"rest with url", func(c *Config) {
			c.Content.Source = SourceREST
			c.Content.BaseURL = "https://shop.example"
		}, true},
		{"unknown source", func(c *Config) { c.Content.Source = "ftp" }, false},
		{"zero chunk size", func(c *Config) { c.Chunking.MaxChunkSize = 0 }, false},
		{"overlap equals size", func(c *Config) { c.Chunking.Overlap = c.Chunking.MaxChunkSize }, false},
		{"negative overlap", func(c *Config) { c.Chunking.Overlap = -1 }, false},
		{"similarity above one", func(c *Config) { c.Retrieval.MinSimilarity = 1.5 }, false},
		{"zero batch", func(c *Config) { c.Sync.BatchSize = 0 }, false},
		{"zero workers", func(c *Config) { c.Sync.Workers = 0 }, false},
		{"zero failure threshold", func(c *Config) { c.Sync.MaxConsecutiveFailures = 0 }, false},
		{"memory storage", func(c *Config) { c.Storage.Driver = StorageMemory }, true},
		{"unknown storage", func(c *Config) { c.Storage.Driver = "postgres" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrInvalidInput))
		})
	}
}

func TestDuration_Text(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("45m")))
	assert.Equal(t, 45*time.Minute, d.Duration)

	out, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "45m0s", string(out))

	assert.Error(t, d.UnmarshalText([]byte("soon")))
}

func TestApplyEnvFrom(t *testing.T) {
	env := map[string]string{
		"STOREKB_CONTENT_SOURCE":           "rest",
		"STOREKB_CONTENT_BASE_URL":         "https://shop.example",
		"STOREKB_CONTENT_TYPES":            "product, faq,",
		"STOREKB_SYNC_BATCH_SIZE":          "25",
		"STOREKB_RETRIEVAL_MIN_SIMILARITY": "0.5",
		"OPENAI_API_KEY":                   "sk-test",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.ApplyEnvFrom(lookup))

	assert.Equal(t, SourceREST, cfg.Content.Source)
	assert.Equal(t, "https://shop.example", cfg.Content.BaseURL)
	assert.Equal(t, []string{"product", "faq"}, cfg.Content.Types)
	assert.Equal(t, 25, cfg.Sync.BatchSize)
	assert.InDelta(t, 0.5, cfg.Retrieval.MinSimilarity, 1e-9)
	assert.Equal(t, "sk-test", cfg.Embedding.APIKey)
	assert.Equal(t, "sk-test", cfg.Generation.APIKey)
	require.NoError(t, cfg.Validate())
}

func TestApplyEnvFrom_ExplicitKeyWins(t *testing.T) {
	env := map[string]string{
		"STOREKB_EMBEDDING_API_KEY": "explicit",
		"OPENAI_API_KEY":            "vendor",
	}
	cfg := Default()
	require.NoError(t, cfg.ApplyEnvFrom(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))

	assert.Equal(t, "explicit", cfg.Embedding.APIKey)
	assert.Equal(t, "vendor", cfg.Generation.APIKey)
}

func TestApplyEnvFrom_BadInt(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnvFrom(func(k string) (string, bool) {
		if k == "STOREKB_SYNC_WORKERS" {
			return "many", true
		}
		return "", false
	})
	assert.Error(t, err)
}
