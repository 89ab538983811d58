package db

import (
	"database/sql"
	"fmt"
	"time"
)

// AgentState is the singleton persisted agent status row. It survives
// restarts so `curator status` can report the previous run.
type AgentState struct {
	Running         bool
	CurrentTaskID   string
	StartedAt       *time.Time
	LastCompletedAt *time.Time
	LastSuccess     bool
	UpdatedAt       time.Time
}

// SaveAgentState writes the singleton agent state row.
func (s *Store) SaveAgentState(st *AgentState) error {
	_, err := s.Exec(`
		INSERT INTO agent_state (id, running, current_task_id, started_at, last_completed_at, last_success, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			running = excluded.running,
			current_task_id = excluded.current_task_id,
			started_at = excluded.started_at,
			last_completed_at = excluded.last_completed_at,
			last_success = excluded.last_success,
			updated_at = excluded.updated_at
	`, boolToInt(st.Running), st.CurrentTaskID,
		formatTimePtr(st.StartedAt), formatTimePtr(st.LastCompletedAt),
		boolToInt(st.LastSuccess), formatTime(st.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save agent state: %w", err)
	}
	return nil
}

// LoadAgentState reads the singleton agent state row, or (nil, nil) when
// the agent has never run.
func (s *Store) LoadAgentState() (*AgentState, error) {
	row := s.QueryRow(`
		SELECT running, current_task_id, started_at, last_completed_at, last_success, updated_at
		FROM agent_state WHERE id = 1
	`)

	var st AgentState
	var running, lastSuccess int
	var startedAt, lastCompletedAt sql.NullString
	var updatedAt string

	err := row.Scan(&running, &st.CurrentTaskID, &startedAt, &lastCompletedAt, &lastSuccess, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load agent state: %w", err)
	}

	st.Running = running != 0
	st.LastSuccess = lastSuccess != 0
	st.StartedAt = parseTimePtr(startedAt)
	st.LastCompletedAt = parseTimePtr(lastCompletedAt)
	st.UpdatedAt = parseTime(updatedAt)

	return &st, nil
}
