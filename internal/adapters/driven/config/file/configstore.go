package file

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"github.com/custodia-labs/storekb/internal/config"
)

// FileName is the configuration file name inside the config directory.
const FileName = "config.toml"

// ConfigStore reads and writes config.Config as TOML.
// Keys absent from the file keep their default values.
type ConfigStore struct {
	mu       sync.RWMutex
	filePath string
	cfg      *config.Config
}

// DefaultDir returns ~/.storekb.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".storekb"), nil
}

// NewConfigStore creates a TOML config store rooted at configDir.
// If configDir is empty, defaults to ~/.storekb.
func NewConfigStore(configDir string) (*ConfigStore, error) {
	if configDir == "" {
		dir, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		configDir = dir
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return nil, fmt.Errorf("create config directory: %w", err)
	}

	s := &ConfigStore{
		filePath: filepath.Join(configDir, FileName),
		cfg:      config.Default(),
	}

	if err := s.Load(); err != nil {
		return nil, err
	}

	return s, nil
}

// NewConfigStoreFromFile opens an explicit config file path.
func NewConfigStoreFromFile(path string) (*ConfigStore, error) {
	s := &ConfigStore{
		filePath: path,
		cfg:      config.Default(),
	}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reads the TOML file over the defaults. A missing file is not an error.
func (s *ConfigStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := config.Default()
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.cfg = cfg
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", s.filePath, err)
	}

	s.cfg = cfg
	return nil
}

// Config returns a copy of the loaded configuration.
func (s *ConfigStore) Config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp := *s.cfg
	cp.Content.Types = append([]string(nil), s.cfg.Content.Types...)
	return &cp
}

// Save writes cfg to disk and makes it the current configuration.
func (s *ConfigStore) Save(cfg *config.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	// Restricted permissions: the file may hold API keys.
	if err := os.WriteFile(s.filePath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	s.cfg = cfg
	return nil
}

// Exists reports whether the config file is present on disk.
func (s *ConfigStore) Exists() bool {
	_, err := os.Stat(s.filePath)
	return err == nil
}

// Path returns the configuration file path.
func (s *ConfigStore) Path() string {
	return s.filePath
}
