// Package cli implements the curator command-line interface.
// This file contains shared helper functions used across multiple commands.
package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/curator-ai/curator/internal/config"
	"github.com/curator-ai/curator/internal/events"
	"github.com/curator-ai/curator/internal/task"
)

// loadConfig resolves the effective configuration. An explicit --config
// path wins; otherwise defaults, the user file, the project file, and
// CURATOR_* environment variables merge in that order.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if cfgFile != "" {
		c, err := config.LoadFrom(cfgFile)
		if err != nil {
			return nil, err
		}
		cfg = c
	} else {
		tc, err := config.LoadWithSources()
		if err != nil {
			return nil, err
		}
		cfg = tc.Config
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger honoring --verbose and --quiet.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	if quiet {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// ANSI sequences for terminal output. Every use goes through paint so
// piped output stays plain.
const (
	ansiDim    = "\033[2m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiReset  = "\033[0m"
)

// useColor reports whether output decorations should be used.
func useColor() bool {
	return !noColor && isatty.IsTerminal(os.Stdout.Fd())
}

// paint wraps s in an ANSI sequence when color output is on.
func paint(color, s string) string {
	if !useColor() {
		return s
	}
	return color + s + ansiReset
}

// Helper functions

func statusIcon(status string) string {
	switch task.Status(status) {
	case task.StatusPending:
		return "○ pending"
	case task.StatusRunning:
		return "◐ running"
	case task.StatusRetrying:
		return "↻ retrying"
	case task.StatusSuccess:
		return "● success"
	case task.StatusFailure:
		return "✗ failure"
	case task.StatusCancelled:
		return "⊘ cancelled"
	default:
		return status
	}
}

func phaseStatusIcon(status string) string {
	switch status {
	case events.PhaseStarted, events.PhaseRunning:
		return "◐"
	case events.PhaseCompleted:
		return "●"
	case events.PhaseFailed:
		return "✗"
	case events.PhaseSkipped:
		return "⊘"
	case events.PhaseCancelled:
		return "⊘"
	default:
		return "○"
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// shortID trims a UUID down to its first group for table display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatTimeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		m := int(d.Minutes())
		if m == 1 {
			return "1 min ago"
		}
		return fmt.Sprintf("%d mins ago", m)
	case d < 24*time.Hour:
		h := int(d.Hours())
		if h == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", h)
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
}

// timeOrDash renders an optional timestamp for table cells.
func timeOrDash(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// printJSON writes v as indented JSON to stdout for --json output.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
