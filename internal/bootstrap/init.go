// Package bootstrap provides instant project initialization for curator.
// The init command completes with zero prompts.
package bootstrap

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/curator-ai/curator/internal/config"
	"github.com/curator-ai/curator/internal/db"
	"github.com/curator-ai/curator/internal/db/driver"
	"github.com/curator-ai/curator/internal/errors"
	"github.com/curator-ai/curator/internal/kb"
	"github.com/curator-ai/curator/internal/schedule"
)

// Options configures the init process.
type Options struct {
	// WorkDir is the directory to initialize (default: current directory)
	WorkDir string

	// Force overwrites existing configuration
	Force bool

	// Logger receives progress detail. Defaults to slog.Default.
	Logger *slog.Logger
}

// Result contains the results of initialization.
type Result struct {
	// Duration is how long init took
	Duration time.Duration

	// ConfigPath is the path to the created config file
	ConfigPath string

	// DatabasePath is the path to the project database
	DatabasePath string

	// KBRoot is the knowledge-base directory
	KBRoot string

	// Schedules is the number of recurring runs seeded from config
	Schedules int
}

// Run performs project initialization: the .curator directory tree, a
// default config, a migrated database, the knowledge-base skeleton,
// and the configured schedules.
func Run(opts Options) (*Result, error) {
	start := time.Now()

	if opts.WorkDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("get working directory: %w", err)
		}
		opts.WorkDir = wd
	}
	absPath, err := filepath.Abs(opts.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}
	opts.WorkDir = absPath

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	curatorDir := filepath.Join(opts.WorkDir, config.CuratorDir)
	if !opts.Force {
		if _, err := os.Stat(curatorDir); err == nil {
			return nil, errors.ErrAlreadyInitialized(curatorDir)
		}
	}

	// 1. Create the .curator directory structure.
	dirs := []string{
		curatorDir,
		filepath.Join(curatorDir, "cache"),
		filepath.Join(curatorDir, "cache", "media"),
		filepath.Join(curatorDir, "logs"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	// 2. Write the default config.
	cfg := config.Default()
	configPath := filepath.Join(curatorDir, config.ConfigFileName)
	if err := cfg.SaveTo(configPath); err != nil {
		return nil, fmt.Errorf("write config: %w", err)
	}

	// 3. Create the knowledge-base skeleton.
	layout := kb.NewLayout(cfg.KB)
	kbRoot := layout.Root
	if !filepath.IsAbs(kbRoot) {
		kbRoot = filepath.Join(opts.WorkDir, kbRoot)
	}
	synthesisDir := layout.SynthesisDir
	if !filepath.IsAbs(synthesisDir) {
		synthesisDir = filepath.Join(opts.WorkDir, synthesisDir)
	}
	for _, dir := range []string{kbRoot, synthesisDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	// 4. Create the database and run migrations.
	dbPath := cfg.Database.SQLite.Path
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(opts.WorkDir, dbPath)
	}
	dbs, err := db.OpenStoreWithDialect(dbPath, driver.DialectSQLite)
	if err != nil {
		return nil, fmt.Errorf("create database: %w", err)
	}
	defer dbs.Close()

	// 5. Seed the configured schedules.
	scheduleStore := schedule.NewStore(dbs, logger)
	if err := scheduleStore.EnsureConfigured(cfg.Schedules); err != nil {
		return nil, fmt.Errorf("seed schedules: %w", err)
	}

	// 6. Keep runtime state out of version control.
	if err := updateGitignore(opts.WorkDir); err != nil {
		logger.Warn("update .gitignore", "error", err)
	}

	return &Result{
		Duration:     time.Since(start),
		ConfigPath:   configPath,
		DatabasePath: dbPath,
		KBRoot:       kbRoot,
		Schedules:    len(cfg.Schedules),
	}, nil
}

// PrintResult writes a human summary of an initialization.
func PrintResult(r *Result) {
	fmt.Printf("Initialized curator in %v\n", r.Duration.Round(time.Millisecond))
	fmt.Printf("  Config:         %s\n", r.ConfigPath)
	fmt.Printf("  Database:       %s\n", r.DatabasePath)
	fmt.Printf("  Knowledge base: %s\n", r.KBRoot)
	if r.Schedules > 0 {
		fmt.Printf("  Schedules:      %d seeded\n", r.Schedules)
	}
	fmt.Printf("\nNext steps:\n")
	fmt.Printf("  curator run               # Execute one pipeline run\n")
	fmt.Printf("  curator run --daemon      # Run as a long-lived agent\n")
	fmt.Printf("  curator status            # Show agent and pipeline state\n")
}
