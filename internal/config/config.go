// Package config loads and saves the orchestrator's flat on-disk
// configuration, grounded on the teacher's internal/config/config.go
// load/save pair.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Defaults mirrored from spec.md's budgets (§4.F) and CLI surface (§6).
const (
	DefaultMaxVerify   = 5
	DefaultMaxReroutes = 2
	DefaultAgents      = 1
)

// Config is the orchestrator's persisted configuration, read from
// ~/.homer/config.json (spec.md §6) and overridable by CLI flags.
type Config struct {
	Tool           string `json:"tool,omitempty" yaml:"tool,omitempty"`
	Model          string `json:"model,omitempty" yaml:"model,omitempty"`
	Repo           string `json:"repo,omitempty" yaml:"repo,omitempty"`
	Auto           bool   `json:"auto,omitempty" yaml:"auto,omitempty"`
	Agents         int    `json:"agents,omitempty" yaml:"agents,omitempty"`
	LabelPrefix    string `json:"labelPrefix,omitempty" yaml:"labelPrefix,omitempty"`
	PermissionMode string `json:"permissionMode,omitempty" yaml:"permissionMode,omitempty"`
	MaxVerify      int    `json:"maxVerify,omitempty" yaml:"maxVerify,omitempty"`
	MaxReroutes    int    `json:"maxReroutes,omitempty" yaml:"maxReroutes,omitempty"`
}

// WithDefaults fills in zero-valued fields with the documented defaults.
func (c Config) WithDefaults() Config {
	if c.Agents == 0 {
		c.Agents = DefaultAgents
	}
	if c.MaxVerify == 0 {
		c.MaxVerify = DefaultMaxVerify
	}
	if c.MaxReroutes == 0 {
		c.MaxReroutes = DefaultMaxReroutes
	}
	return c
}

// HomeDir returns ~/.homer, creating it if needed.
func HomeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	dir := filepath.Join(home, ".homer")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create .homer directory: %w", err)
	}
	return dir, nil
}

// Path returns the path to the global config file.
func Path() (string, error) {
	dir, err := HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads ~/.homer/config.json. A missing file is not an error: the
// zero Config is returned. Load does not apply WithDefaults.
func Load() (Config, error) {
	path, err := Path()
	if err != nil {
		return Config{}, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// LoadYAML reads a `--config` override file (spec.md §6), the same field
// set as config.json but in YAML. A missing file is not an error: the
// zero Config is returned, same as Load's missing-file behavior.
func LoadYAML(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to ~/.homer/config.json.
func Save(cfg Config) error {
	path, err := Path()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
