package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// ScheduleRunHistoryCap bounds the per-schedule run history.
const ScheduleRunHistoryCap = 20

// Schedule is the persisted row form of a schedule definition.
// Preferences holds the run preferences as JSON.
type Schedule struct {
	ID          string
	Name        string
	Frequency   string
	CronExpr    string
	Enabled     bool
	Preferences string // JSON
	LastRunAt   *time.Time
	NextRunAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ScheduleRun is one bounded history entry of a schedule firing.
type ScheduleRun struct {
	ID         int64
	ScheduleID string
	TaskID     string
	Status     string
	StartedAt  time.Time
}

const scheduleColumns = `id, name, frequency, cron_expr, enabled, preferences,
	last_run_at, next_run_at, created_at, updated_at`

// SaveSchedule inserts or updates a schedule row.
func (s *Store) SaveSchedule(sc *Schedule) error {
	_, err := s.Exec(`
		INSERT INTO schedules (`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			frequency = excluded.frequency,
			cron_expr = excluded.cron_expr,
			enabled = excluded.enabled,
			preferences = excluded.preferences,
			last_run_at = excluded.last_run_at,
			next_run_at = excluded.next_run_at,
			updated_at = excluded.updated_at
	`, sc.ID, sc.Name, sc.Frequency, sc.CronExpr, boolToInt(sc.Enabled), sc.Preferences,
		formatTimePtr(sc.LastRunAt), formatTimePtr(sc.NextRunAt),
		formatTime(sc.CreatedAt), formatTime(sc.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save schedule %s: %w", sc.ID, err)
	}
	return nil
}

// GetSchedule retrieves a schedule by id. A missing id returns (nil, nil).
func (s *Store) GetSchedule(id string) (*Schedule, error) {
	row := s.QueryRow("SELECT "+scheduleColumns+" FROM schedules WHERE id = ?", id)
	sc, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule %s: %w", id, err)
	}
	return sc, nil
}

// ListSchedules returns schedules ordered by name. When enabledOnly is
// set, disabled schedules are excluded.
func (s *Store) ListSchedules(enabledOnly bool) ([]*Schedule, error) {
	var query strings.Builder
	query.WriteString("SELECT " + scheduleColumns + " FROM schedules")
	if enabledOnly {
		query.WriteString(" WHERE enabled = 1")
	}
	query.WriteString(" ORDER BY name ASC, id ASC")

	rows, err := s.Query(query.String())
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var schedules []*Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedules: %w", err)
	}

	return schedules, nil
}

// DeleteSchedule removes a schedule and its run history (cascade).
func (s *Store) DeleteSchedule(id string) error {
	_, err := s.Exec("DELETE FROM schedules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete schedule %s: %w", id, err)
	}
	return nil
}

// RecordScheduleRun appends a run history entry and prunes the history
// beyond ScheduleRunHistoryCap, all in one transaction.
func (s *Store) RecordScheduleRun(run *ScheduleRun) error {
	return s.RunInTx(context.Background(), func(tx *TxOps) error {
		result, err := tx.Exec(`
			INSERT INTO schedule_runs (schedule_id, task_id, status, started_at)
			VALUES (?, ?, ?, ?)
		`, run.ScheduleID, run.TaskID, run.Status, formatTime(run.StartedAt))
		if err != nil {
			return fmt.Errorf("record schedule run: %w", err)
		}
		if id, err := result.LastInsertId(); err == nil {
			run.ID = id
		}

		_, err = tx.Exec(`
			DELETE FROM schedule_runs
			WHERE schedule_id = ?
				AND id NOT IN (
					SELECT id FROM schedule_runs
					WHERE schedule_id = ?
					ORDER BY started_at DESC, id DESC
					LIMIT ?
				)
		`, run.ScheduleID, run.ScheduleID, ScheduleRunHistoryCap)
		if err != nil {
			return fmt.Errorf("prune schedule runs: %w", err)
		}
		return nil
	})
}

// UpdateScheduleRunStatus rewrites the status of one run history entry,
// used to mark a fired run's outcome once it completes.
func (s *Store) UpdateScheduleRunStatus(id int64, status string) error {
	_, err := s.Exec("UPDATE schedule_runs SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("update schedule run %d: %w", id, err)
	}
	return nil
}

// ListScheduleRuns returns the bounded run history, newest first.
func (s *Store) ListScheduleRuns(scheduleID string) ([]*ScheduleRun, error) {
	rows, err := s.Query(`
		SELECT id, schedule_id, task_id, status, started_at
		FROM schedule_runs
		WHERE schedule_id = ?
		ORDER BY started_at DESC, id DESC
	`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("list schedule runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*ScheduleRun
	for rows.Next() {
		var r ScheduleRun
		var startedAt string
		if err := rows.Scan(&r.ID, &r.ScheduleID, &r.TaskID, &r.Status, &startedAt); err != nil {
			return nil, fmt.Errorf("scan schedule run: %w", err)
		}
		r.StartedAt = parseTime(startedAt)
		runs = append(runs, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedule runs: %w", err)
	}

	return runs, nil
}

func scanSchedule(row rowScanner) (*Schedule, error) {
	var sc Schedule
	var enabled int
	var lastRun, nextRun sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&sc.ID, &sc.Name, &sc.Frequency, &sc.CronExpr, &enabled, &sc.Preferences,
		&lastRun, &nextRun, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	sc.Enabled = enabled != 0
	sc.LastRunAt = parseTimePtr(lastRun)
	sc.NextRunAt = parseTimePtr(nextRun)
	sc.CreatedAt = parseTime(createdAt)
	sc.UpdatedAt = parseTime(updatedAt)

	return &sc, nil
}
