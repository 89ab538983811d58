package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Task is the persisted row form of a runtime task.
type Task struct {
	ID              string
	Queue           string
	Kind            string
	Description     string
	Phase           string
	ParentTaskID    string
	Status          string
	ProgressCurrent int
	ProgressTotal   int
	ProgressMessage string
	Error           string
	Result          string // JSON
	RetryCount      int
	CreatedAt       time.Time
	StartedAt       *time.Time
	FinishedAt      *time.Time
	LastHeartbeat   *time.Time
}

// TaskFilter restricts ListTasks.
type TaskFilter struct {
	Queue    string
	Kind     string
	Statuses []string
	Active   bool // only tasks not in a terminal status
	Limit    int
	Offset   int
}

const taskColumns = `id, queue, kind, description, phase, parent_task_id, status,
	progress_current, progress_total, progress_message,
	error, result, retry_count,
	created_at, started_at, finished_at, last_heartbeat`

// SaveTask inserts or updates a task row.
func (s *Store) SaveTask(t *Task) error {
	queue := t.Queue
	if queue == "" {
		queue = "default"
	}

	_, err := s.Exec(`
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			queue = excluded.queue,
			kind = excluded.kind,
			description = excluded.description,
			phase = excluded.phase,
			parent_task_id = excluded.parent_task_id,
			status = excluded.status,
			progress_current = excluded.progress_current,
			progress_total = excluded.progress_total,
			progress_message = excluded.progress_message,
			error = excluded.error,
			result = excluded.result,
			retry_count = excluded.retry_count,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			last_heartbeat = excluded.last_heartbeat
	`, t.ID, queue, t.Kind, t.Description, t.Phase, t.ParentTaskID, t.Status,
		t.ProgressCurrent, t.ProgressTotal, t.ProgressMessage,
		t.Error, t.Result, t.RetryCount,
		formatTime(t.CreatedAt), formatTimePtr(t.StartedAt),
		formatTimePtr(t.FinishedAt), formatTimePtr(t.LastHeartbeat))
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

// GetTask retrieves a task by id. A missing id returns (nil, nil).
func (s *Store) GetTask(id string) (*Task, error) {
	row := s.QueryRow("SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

// ListTasks retrieves tasks matching the filter, newest first.
func (s *Store) ListTasks(f TaskFilter) ([]*Task, error) {
	var query strings.Builder
	var args []any

	query.WriteString("SELECT " + taskColumns + " FROM tasks WHERE 1=1")

	if f.Queue != "" {
		query.WriteString(" AND queue = ?")
		args = append(args, f.Queue)
	}
	if f.Kind != "" {
		query.WriteString(" AND kind = ?")
		args = append(args, f.Kind)
	}
	if len(f.Statuses) > 0 {
		placeholders := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			placeholders[i] = "?"
			args = append(args, st)
		}
		query.WriteString(" AND status IN (")
		query.WriteString(strings.Join(placeholders, ", "))
		query.WriteString(")")
	}
	if f.Active {
		query.WriteString(" AND status NOT IN ('SUCCESS', 'FAILURE', 'CANCELLED')")
	}

	query.WriteString(" ORDER BY created_at DESC, id DESC")

	if f.Limit > 0 {
		query.WriteString(" LIMIT ?")
		args = append(args, f.Limit)
		if f.Offset > 0 {
			query.WriteString(" OFFSET ?")
			args = append(args, f.Offset)
		}
	}

	rows, err := s.Query(query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}

	return tasks, nil
}

// CountTasksByStatus returns how many task rows exist per status.
func (s *Store) CountTasksByStatus() (map[string]int64, error) {
	rows, err := s.Query("SELECT status, COUNT(*) FROM tasks GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan task count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task counts: %w", err)
	}
	return counts, nil
}

// DeleteTasksFinishedBefore removes terminal tasks whose finished_at is
// older than the cutoff. Returns the number of rows removed.
func (s *Store) DeleteTasksFinishedBefore(cutoff time.Time) (int64, error) {
	result, err := s.Exec(`
		DELETE FROM tasks
		WHERE status IN ('SUCCESS', 'FAILURE', 'CANCELLED')
			AND finished_at IS NOT NULL
			AND finished_at < ?
	`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete old tasks: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted tasks: %w", err)
	}
	return n, nil
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var createdAt string
	var startedAt, finishedAt, heartbeat sql.NullString

	err := row.Scan(
		&t.ID, &t.Queue, &t.Kind, &t.Description, &t.Phase, &t.ParentTaskID, &t.Status,
		&t.ProgressCurrent, &t.ProgressTotal, &t.ProgressMessage,
		&t.Error, &t.Result, &t.RetryCount,
		&createdAt, &startedAt, &finishedAt, &heartbeat,
	)
	if err != nil {
		return nil, err
	}

	t.CreatedAt = parseTime(createdAt)
	t.StartedAt = parseTimePtr(startedAt)
	t.FinishedAt = parseTimePtr(finishedAt)
	t.LastHeartbeat = parseTimePtr(heartbeat)

	return &t, nil
}
