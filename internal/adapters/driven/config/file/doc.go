// Package file provides file-based configuration adapters.
//
// Adapters:
//   - ConfigStore: TOML configuration file backed by config.Config
//   - PromptStore: user-editable prompt templates
package file
