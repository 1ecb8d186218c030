package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Loader loads and validates configuration files
type Loader struct {
	validator *Validator
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		validator: NewValidator(),
	}
}

// Load loads the config at path, falling back to defaults when the file does
// not exist. Fields absent from the file keep their default values.
func (l *Loader) Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := l.validator.Validate(config); err != nil {
				return nil, fmt.Errorf("default configuration invalid: %w", err)
			}
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config from %s: %w", path, err)
	}

	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := l.validator.Validate(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// SaveFile writes the config to path, creating parent directories.
func (l *Loader) SaveFile(config *Config, path string) error {
	if err := l.validator.Validate(config); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}
