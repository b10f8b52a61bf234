// Package config loads and persists the tool's configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config holds the user-editable settings consumed by the aggregation
// pipeline: which branches count as mainline work, and which repositories
// map to which billing project.
type Config struct {
	BaseBranches         []string          `json:"baseBranches"`
	RepositoryProjectIDs map[string]string `json:"repositoryProjectIds"`
}

// Default returns the configuration written on first run.
func Default() *Config {
	return &Config{
		BaseBranches:         []string{"main", "master", "develop"},
		RepositoryProjectIDs: map[string]string{},
	}
}

// Load reads the configuration file at path. A missing file is not an error:
// the default configuration is written there and returned. A file that exists
// but cannot be parsed is an error; silently replacing a user's edits with
// defaults would lose data.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := Default()
		if err := Save(path, cfg); err != nil {
			return nil, fmt.Errorf("writing default config: %w", err)
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if cfg.RepositoryProjectIDs == nil {
		cfg.RepositoryProjectIDs = map[string]string{}
	}
	return &cfg, nil
}

// Save writes the configuration as indented JSON, creating parent
// directories as needed.
func Save(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
