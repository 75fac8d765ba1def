package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/agentmesh-ai/meshd/internal/errors"
	"github.com/agentmesh-ai/meshd/internal/flags"
)

// Loader loads a configuration document from a path.
type Loader interface {
	Load(path string) (*Config, error)
}

// DefaultLoader reads TOML (default) or YAML (by extension) config files.
type DefaultLoader struct{}

// NewDefaultLoader creates the standard file-backed loader.
func NewDefaultLoader() *DefaultLoader {
	return &DefaultLoader{}
}

// Load reads, decodes and validates the config file at path. The auth secret
// environment variable overrides the file value when set.
func (d *DefaultLoader) Load(path string) (*Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: path cannot be empty", errors.ErrConfigLoadFailed)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: config file cannot be found (%s)", errors.ErrConfigLoadFailed, path)
		}
		return nil, fmt.Errorf("%w: failed to read config file (%s): %w", errors.ErrConfigLoadFailed, path, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("%w: failed to decode config from file (%s): %w", errors.ErrConfigLoadFailed, path, err)
		}
	default:
		if err := toml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("%w: failed to decode config from file (%s): %w", errors.ErrConfigLoadFailed, path, err)
		}
	}

	if env := strings.TrimSpace(os.Getenv(flags.EnvVarAuthSecret)); env != "" {
		cfg.Auth.Secret = env
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: failed to validate config (%s): %w", errors.ErrConfigLoadFailed, path, err)
	}

	return &cfg, nil
}
