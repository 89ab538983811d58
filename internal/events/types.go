// Package events provides event types and publishing infrastructure for curator.
package events

import (
	"time"
)

// EventType defines the type of event.
type EventType string

const (
	// EventAgentStatus is a full agent state snapshot.
	EventAgentStatus EventType = "agent_status"
	// EventAgentStatusUpdate is an incremental agent state change.
	EventAgentStatusUpdate EventType = "agent_status_update"
	// EventProgress is a per-task progress update, coalesced to at most
	// ~10 per second per task.
	EventProgress EventType = "agent_progress_update"
	// EventPhase is a phase status change.
	EventPhase EventType = "phase_update"
	// EventLog is a structured log line mirrored onto the bus.
	EventLog EventType = "log_message"
	// EventGPUStats is periodic accelerator telemetry.
	EventGPUStats EventType = "gpu_stats"
	// EventSystemHealth is periodic component health telemetry.
	EventSystemHealth EventType = "system_health_update"
	// EventRunCompleted is the terminal summary of a pipeline run.
	EventRunCompleted EventType = "agent_run_completed"
	// EventRetryScheduled announces that a failed item has been queued
	// for another attempt.
	EventRetryScheduled EventType = "retry_scheduled"
	// EventScheduleTriggered announces that a schedule fired.
	EventScheduleTriggered EventType = "schedule_triggered"
)

// Event represents a published event.
type Event struct {
	Type   EventType `json:"type"`
	TaskID string    `json:"task_id"`
	Data   any       `json:"data"`
	Time   time.Time `json:"time"`
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType EventType, taskID string, data any) Event {
	return Event{
		Type:   eventType,
		TaskID: taskID,
		Data:   data,
		Time:   time.Now(),
	}
}

// PhaseStatus values used in PhaseUpdate.Status.
const (
	PhaseStarted   = "started"
	PhaseRunning   = "running"
	PhaseCompleted = "completed"
	PhaseFailed    = "failed"
	PhaseSkipped   = "skipped"
	PhaseCancelled = "cancelled"
)

// AgentStatus is the payload for agent_status and agent_status_update.
type AgentStatus struct {
	Running       bool    `json:"running"`
	CurrentTaskID string  `json:"current_task_id,omitempty"`
	CurrentPhase  string  `json:"current_phase,omitempty"`
	Progress      float64 `json:"progress"`
	Message       string  `json:"message,omitempty"`
	StartedAt     string  `json:"started_at,omitempty"`
	ETCSeconds    float64 `json:"etc_seconds,omitempty"`
}

// ProgressUpdate is the payload for agent_progress_update.
type ProgressUpdate struct {
	Progress float64 `json:"progress"`
	Phase    string  `json:"phase"`
	Message  string  `json:"message,omitempty"`
}

// PhaseUpdate is the payload for phase_update.
type PhaseUpdate struct {
	PhaseID   string   `json:"phase_id"`
	PhaseName string   `json:"phase_name"`
	Status    string   `json:"status"`
	Progress  *float64 `json:"progress,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// LogMessage is the payload for log_message.
type LogMessage struct {
	Level     string    `json:"level"`
	Module    string    `json:"module"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// GPUStats is the payload for gpu_stats.
type GPUStats struct {
	Device        string  `json:"device"`
	MemoryUsedMB  float64 `json:"memory_used_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	UtilizationPC float64 `json:"utilization_pct"`
}

// SystemHealth is the payload for system_health_update.
type SystemHealth struct {
	Component string `json:"component"`
	Healthy   bool   `json:"healthy"`
	Detail    string `json:"detail,omitempty"`
}

// RunCompleted is the payload for agent_run_completed.
type RunCompleted struct {
	Success  bool           `json:"success"`
	Duration string         `json:"duration"`
	Results  map[string]any `json:"results,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// RetryScheduled is the payload for retry_scheduled.
type RetryScheduled struct {
	ItemID      string    `json:"item_id"`
	Phase       string    `json:"phase"`
	Attempt     int       `json:"attempt"`
	FailureType string    `json:"failure_type"`
	NextRetryAt time.Time `json:"next_retry_at"`
}

// ScheduleTriggered is the payload for schedule_triggered.
type ScheduleTriggered struct {
	ScheduleID string    `json:"schedule_id"`
	Name       string    `json:"name"`
	FiredAt    time.Time `json:"fired_at"`
}
