package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "STOREKB_"

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv applies STOREKB_* overrides from the process environment.
func (c *Config) ApplyEnv() error {
	return c.ApplyEnvFrom(os.LookupEnv)
}

// ApplyEnvFrom applies overrides using lookup. Provider API keys fall back
// to the vendor variables (OPENAI_API_KEY, ANTHROPIC_API_KEY) when unset.
func (c *Config) ApplyEnvFrom(lookup LookupFunc) error {
	strs := map[string]*string{
		"DB_PATH":             &c.Storage.Path,
		"STORAGE_DRIVER":      &c.Storage.Driver,
		"CONTENT_SOURCE":      &c.Content.Source,
		"CONTENT_ROOT":        &c.Content.Root,
		"CONTENT_BASE_URL":    &c.Content.BaseURL,
		"CONTENT_API_KEY":     &c.Content.APIKey,
		"EMBEDDING_PROVIDER":  &c.Embedding.Provider,
		"EMBEDDING_MODEL":     &c.Embedding.Model,
		"EMBEDDING_BASE_URL":  &c.Embedding.BaseURL,
		"EMBEDDING_API_KEY":   &c.Embedding.APIKey,
		"GENERATION_PROVIDER": &c.Generation.Provider,
		"GENERATION_MODEL":    &c.Generation.Model,
		"GENERATION_BASE_URL": &c.Generation.BaseURL,
		"GENERATION_API_KEY":  &c.Generation.APIKey,
		"SERVER_ADDR":         &c.Server.Addr,
	}
	for key, dst := range strs {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"EMBEDDING_DIMENSIONS": &c.Embedding.Dimensions,
		"EMBEDDING_BATCH_SIZE": &c.Embedding.BatchSize,
		"SYNC_BATCH_SIZE":      &c.Sync.BatchSize,
		"SYNC_WORKERS":         &c.Sync.Workers,
		"RETRIEVAL_MAX_CHUNKS": &c.Retrieval.MaxChunks,
	}
	for key, dst := range ints {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
	}

	if v, ok := lookup(EnvPrefix + "RETRIEVAL_MIN_SIMILARITY"); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("%sRETRIEVAL_MIN_SIMILARITY: %w", EnvPrefix, err)
		}
		c.Retrieval.MinSimilarity = f
	}

	if v, ok := lookup(EnvPrefix + "CONTENT_TYPES"); ok {
		c.Content.Types = splitList(v)
	}

	c.Embedding.APIKey = vendorKey(lookup, c.Embedding.Provider, c.Embedding.APIKey)
	c.Generation.APIKey = vendorKey(lookup, c.Generation.Provider, c.Generation.APIKey)
	return nil
}

func vendorKey(lookup LookupFunc, provider, current string) string {
	if current != "" {
		return current
	}
	var key string
	switch provider {
	case ProviderOpenAI:
		key = "OPENAI_API_KEY"
	case ProviderAnthropic:
		key = "ANTHROPIC_API_KEY"
	default:
		return current
	}
	if v, ok := lookup(key); ok {
		return v
	}
	return current
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
