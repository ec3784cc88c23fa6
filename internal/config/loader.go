package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Environment overrides, applied after the file is parsed.
const (
	EnvModel   = "VIBECORE_MODEL"
	EnvBaseURL = "VIBECORE_BASE_URL"
	EnvBaseDir = "VIBECORE_BASE_DIR"
	EnvLog     = "VIBECORE_LOG_LEVEL"
)

// DefaultPath returns the conventional config location, ~/.vibecore/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".vibecore", "config.yaml")
	}
	return filepath.Join(home, ".vibecore", "config.yaml")
}

// Load reads a config file, expands $VAR references, applies environment
// overrides and defaults, and validates. A missing file at the default path
// yields the default configuration; an explicitly named missing file is an
// error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		cfg, err = parse(data)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		// Defaults only.
	default:
		return nil, err
	}

	applyEnv(cfg)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	decoder := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	decoder.KnownFields(true)

	var cfg Config
	if err := decoder.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return &Config{}, nil
		}
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("expected a single YAML document")
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvModel); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv(EnvBaseURL); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv(EnvBaseDir); v != "" {
		cfg.BaseDir = v
	}
	if v := os.Getenv(EnvLog); v != "" {
		cfg.Log.Level = v
	}
}
