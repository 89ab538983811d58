package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PhaseStats is one row of accumulated per-phase runtime statistics.
type PhaseStats struct {
	Phase           string
	TotalItems      int
	TotalDurationMs int64
	AvgDurationMs   float64
	LastRunAt       *time.Time
	UpdatedAt       time.Time
}

// AvgDuration returns the historical average as a duration.
func (p *PhaseStats) AvgDuration() time.Duration {
	return time.Duration(p.AvgDurationMs * float64(time.Millisecond))
}

// LoadPhaseStats returns all accumulated phase statistics keyed by phase.
func (s *Store) LoadPhaseStats() (map[string]*PhaseStats, error) {
	rows, err := s.Query(`
		SELECT phase, total_items, total_duration_ms, avg_duration_ms, last_run_at, updated_at
		FROM phase_stats
	`)
	if err != nil {
		return nil, fmt.Errorf("load phase stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	stats := make(map[string]*PhaseStats)
	for rows.Next() {
		ps, err := scanPhaseStats(rows)
		if err != nil {
			return nil, fmt.Errorf("scan phase stats: %w", err)
		}
		stats[ps.Phase] = ps
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate phase stats: %w", err)
	}

	return stats, nil
}

// GetPhaseStats returns stats for one phase, or (nil, nil) when none exist.
func (s *Store) GetPhaseStats(phase string) (*PhaseStats, error) {
	row := s.QueryRow(`
		SELECT phase, total_items, total_duration_ms, avg_duration_ms, last_run_at, updated_at
		FROM phase_stats WHERE phase = ?
	`, phase)

	ps, err := scanPhaseStats(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get phase stats %s: %w", phase, err)
	}
	return ps, nil
}

// RecordPhaseRun folds one run's aggregate into the phase statistics.
// The read-modify-write happens inside a single transaction; callers
// serialize concurrent writers (the stats store holds a mutex).
func (s *Store) RecordPhaseRun(phase string, items int, duration time.Duration) error {
	if items <= 0 {
		return nil
	}

	now := time.Now().UTC()
	durMs := duration.Milliseconds()

	return s.RunInTx(context.Background(), func(tx *TxOps) error {
		var totalItems int
		var totalMs int64
		row := tx.QueryRow("SELECT total_items, total_duration_ms FROM phase_stats WHERE phase = ?", phase)
		if err := row.Scan(&totalItems, &totalMs); err != nil {
			if err != sql.ErrNoRows {
				return fmt.Errorf("read phase stats %s: %w", phase, err)
			}
			totalItems = 0
			totalMs = 0
		}

		totalItems += items
		totalMs += durMs
		avg := float64(totalMs) / float64(totalItems)

		_, err := tx.Exec(`
			INSERT INTO phase_stats (phase, total_items, total_duration_ms, avg_duration_ms, last_run_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (phase) DO UPDATE SET
				total_items = excluded.total_items,
				total_duration_ms = excluded.total_duration_ms,
				avg_duration_ms = excluded.avg_duration_ms,
				last_run_at = excluded.last_run_at,
				updated_at = excluded.updated_at
		`, phase, totalItems, totalMs, avg, formatTime(now), formatTime(now))
		if err != nil {
			return fmt.Errorf("upsert phase stats %s: %w", phase, err)
		}
		return nil
	})
}

func scanPhaseStats(row rowScanner) (*PhaseStats, error) {
	var ps PhaseStats
	var lastRun sql.NullString
	var updatedAt string

	err := row.Scan(&ps.Phase, &ps.TotalItems, &ps.TotalDurationMs, &ps.AvgDurationMs, &lastRun, &updatedAt)
	if err != nil {
		return nil, err
	}

	ps.LastRunAt = parseTimePtr(lastRun)
	ps.UpdatedAt = parseTime(updatedAt)

	return &ps, nil
}
