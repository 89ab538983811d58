package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LoadWithSources loads configuration with source tracking.
// Load order (later sources override earlier):
//  1. Built-in defaults
//  2. User config (~/.curator/config.yaml) - optional
//  3. Project config (.curator/config.yaml)
//  4. Environment variables (CURATOR_*)
func LoadWithSources() (*TrackedConfig, error) {
	return LoadWithSourcesFrom(".")
}

// LoadWithSourcesFrom loads configuration treating dir as the project root.
func LoadWithSourcesFrom(dir string) (*TrackedConfig, error) {
	tc := NewTrackedConfig()

	if home, err := os.UserHomeDir(); err == nil {
		userPath := filepath.Join(home, CuratorDir, ConfigFileName)
		if _, err := os.Stat(userPath); err == nil {
			if err := mergeFromFile(tc, userPath, SourceUser); err != nil {
				slog.Warn("failed to load user config", "path", userPath, "error", err)
			}
		}
	}

	projectPath := filepath.Join(dir, CuratorDir, ConfigFileName)
	if _, err := os.Stat(projectPath); err == nil {
		if err := mergeFromFile(tc, projectPath, SourceProject); err != nil {
			return nil, err // Project config errors are fatal
		}
	}

	ApplyEnvVars(tc)

	return tc, nil
}

// mergeFromFile merges configuration from a file into tc. YAML decoding
// into the existing struct only touches keys present in the file, which
// gives field-level merge for free; the raw map records which paths the
// file actually set.
func mergeFromFile(tc *TrackedConfig, path string, source ConfigSource) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, tc.Config); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	for _, p := range leafPaths(raw, "") {
		tc.SetSourceWithPath(p, source, path)
	}

	return nil
}

// leafPaths flattens a raw YAML map into dotted paths ("retry.max_retries").
// List values count as leaves.
func leafPaths(raw map[string]interface{}, prefix string) []string {
	var out []string
	for key, value := range raw {
		p := key
		if prefix != "" {
			p = prefix + "." + key
		}
		if nested, ok := value.(map[string]interface{}); ok {
			out = append(out, leafPaths(nested, p)...)
			continue
		}
		out = append(out, p)
	}
	return out
}
