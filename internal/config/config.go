// Package config provides configuration management for curator.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	curatorerrors "github.com/curator-ai/curator/internal/errors"
	"github.com/curator-ai/curator/internal/util"
)

const (
	// ConfigFileName is the default config file name
	ConfigFileName = "config.yaml"
	// CuratorDir is the curator data directory
	CuratorDir = ".curator"
)

// Load loads the config from the default location.
func Load() (*Config, error) {
	return LoadFrom(filepath.Join(CuratorDir, ConfigFileName))
}

// LoadFrom loads the config from a specific path. A missing file yields the
// defaults; a present file is parsed over the defaults so absent keys keep
// their default values.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// Save saves the config to the default location.
func (c *Config) Save() error {
	return c.SaveTo(filepath.Join(CuratorDir, ConfigFileName))
}

// SaveTo saves the config to a specific path atomically.
func (c *Config) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := util.AtomicWriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// Init initializes the curator directory structure.
func Init(force bool) error {
	if !force {
		if _, err := os.Stat(CuratorDir); err == nil {
			return curatorerrors.ErrAlreadyInitialized(CuratorDir)
		}
	}

	dirs := []string{
		CuratorDir,
		filepath.Join(CuratorDir, "cache"),
		filepath.Join(CuratorDir, "cache", "media"),
		filepath.Join(CuratorDir, "logs"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	cfg := Default()
	if err := cfg.Save(); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// IsInitialized returns true if curator is initialized in the current directory.
func IsInitialized() bool {
	_, err := os.Stat(CuratorDir)
	return err == nil
}

// RequireInit returns an error if curator is not initialized.
func RequireInit() error {
	if !IsInitialized() {
		return curatorerrors.ErrNotInitialized()
	}
	return nil
}
