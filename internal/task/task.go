// Package task defines the state model for background jobs: the status
// lifecycle, queue and type enums, and progress reporting. Persistence
// and scheduling live in internal/orchestrator; this package is pure
// data so any layer can inspect a task without touching the runtime.
package task

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the current state of a task.
type Status string

const (
	// StatusPending indicates the task is queued and waiting for a worker.
	StatusPending Status = "PENDING"
	// StatusRunning indicates a worker is executing the task.
	StatusRunning Status = "RUNNING"
	// StatusSuccess indicates the task finished cleanly. Terminal.
	StatusSuccess Status = "SUCCESS"
	// StatusFailure indicates the task failed with no retry scheduled. Terminal.
	StatusFailure Status = "FAILURE"
	// StatusCancelled indicates the task was cancelled before finishing. Terminal.
	StatusCancelled Status = "CANCELLED"
	// StatusRetrying indicates a failed attempt is waiting to run again.
	StatusRetrying Status = "RETRYING"
)

// ValidStatuses returns all valid status values.
func ValidStatuses() []Status {
	return []Status{
		StatusPending, StatusRunning, StatusSuccess,
		StatusFailure, StatusCancelled, StatusRetrying,
	}
}

// IsValidStatus returns true if the status is a valid status value.
func IsValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusRunning, StatusSuccess,
		StatusFailure, StatusCancelled, StatusRetrying:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if the status admits no further work. A
// FAILURE task can still be resurrected through an explicit retry,
// which is the one edge out of a terminal state.
func IsTerminal(s Status) bool {
	return s == StatusSuccess || s == StatusFailure || s == StatusCancelled
}

// CanTransition reports whether moving from one status to another is a
// legal lifecycle step. PENDING tasks cancel directly without ever
// running; RETRYING sits between a failed attempt and the next RUNNING.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusCancelled
	case StatusRunning:
		return to == StatusSuccess || to == StatusFailure ||
			to == StatusCancelled || to == StatusRetrying
	case StatusRetrying:
		return to == StatusRunning || to == StatusFailure || to == StatusCancelled
	case StatusFailure:
		return to == StatusRetrying
	default:
		return false
	}
}

// Type classifies what a task does.
type Type string

const (
	// TypeAgentRun is a full pipeline run covering all phases.
	TypeAgentRun Type = "agent_run"
	// TypePhaseExecution runs a single phase across its eligible items.
	TypePhaseExecution Type = "phase_execution"
	// TypeItemBatch processes one chunk of items within a phase.
	TypeItemBatch Type = "item_batch"
	// TypeStatusProbe checks connectivity of an external dependency.
	TypeStatusProbe Type = "status_probe"
	// TypeCleanup prunes aged task and event rows.
	TypeCleanup Type = "cleanup"
)

// ValidTypes returns all valid type values.
func ValidTypes() []Type {
	return []Type{TypeAgentRun, TypePhaseExecution, TypeItemBatch, TypeStatusProbe, TypeCleanup}
}

// IsValidType returns true if the type is a valid type value.
func IsValidType(t Type) bool {
	switch t {
	case TypeAgentRun, TypePhaseExecution, TypeItemBatch, TypeStatusProbe, TypeCleanup:
		return true
	default:
		return false
	}
}

// Queue names an execution queue. Each queue has its own worker pool
// and rate limit so one workload class cannot starve another.
type Queue string

const (
	// QueueContentFetching serves network-bound source and media downloads.
	QueueContentFetching Queue = "content_fetching"
	// QueueAIProcessing serves model-backed enrichment calls.
	QueueAIProcessing Queue = "ai_processing"
	// QueueSynthesis serves long-running corpus-wide generation.
	QueueSynthesis Queue = "synthesis"
	// QueueMonitoring serves periodic health and status probes.
	QueueMonitoring Queue = "monitoring"
	// QueueDefault serves everything not claimed by another queue.
	QueueDefault Queue = "default"
	// QueuePriority serves user-initiated work that should not wait
	// behind batch jobs.
	QueuePriority Queue = "priority"
)

// ValidQueues returns all valid queue values.
func ValidQueues() []Queue {
	return []Queue{
		QueueContentFetching, QueueAIProcessing, QueueSynthesis,
		QueueMonitoring, QueueDefault, QueuePriority,
	}
}

// IsValidQueue returns true if the queue is a valid queue value.
func IsValidQueue(q Queue) bool {
	switch q {
	case QueueContentFetching, QueueAIProcessing, QueueSynthesis,
		QueueMonitoring, QueueDefault, QueuePriority:
		return true
	default:
		return false
	}
}

// Progress tracks how far a task has advanced.
type Progress struct {
	// Current is the number of completed units.
	Current int `yaml:"current" json:"current"`
	// Total is the number of units overall. Zero means unknown.
	Total int `yaml:"total" json:"total"`
	// Message is a short human-readable description of the current step.
	Message string `yaml:"message,omitempty" json:"message,omitempty"`
}

// Fraction returns completion as a value in [0, 1]. Unknown totals
// report zero.
func (p Progress) Fraction() float64 {
	if p.Total <= 0 {
		return 0
	}
	f := float64(p.Current) / float64(p.Total)
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// Task is one scheduled unit of background work.
type Task struct {
	// ID uniquely identifies the task. Stable across retries.
	ID string `yaml:"task_id" json:"task_id"`

	// Type classifies the work.
	Type Type `yaml:"type" json:"type"`

	// Queue is the execution queue the task was submitted to.
	Queue Queue `yaml:"queue" json:"queue"`

	// Description is a short human-readable label.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Phase names the pipeline phase this task belongs to, when any.
	Phase string `yaml:"phase,omitempty" json:"phase,omitempty"`

	// ParentID links a batch task back to the task that spawned it.
	ParentID string `yaml:"parent_task_id,omitempty" json:"parent_task_id,omitempty"`

	// Status is the current lifecycle state.
	Status Status `yaml:"status" json:"status"`

	// Progress reports completed work units.
	Progress Progress `yaml:"progress" json:"progress"`

	// Error holds the failure message for FAILURE and RETRYING tasks.
	Error string `yaml:"error,omitempty" json:"error,omitempty"`

	// Result holds a JSON document describing the outcome of a
	// successful task.
	Result string `yaml:"result,omitempty" json:"result,omitempty"`

	// RetryCount is how many attempts have failed so far.
	RetryCount int `yaml:"retry_count,omitempty" json:"retry_count,omitempty"`

	// CreatedAt is when the task was submitted.
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`

	// StartedAt is when a worker first picked the task up.
	StartedAt *time.Time `yaml:"started_at,omitempty" json:"started_at,omitempty"`

	// CompletedAt is when the task reached a terminal status.
	CompletedAt *time.Time `yaml:"completed_at,omitempty" json:"completed_at,omitempty"`

	// LastHeartbeat is the most recent worker liveness signal.
	LastHeartbeat *time.Time `yaml:"last_heartbeat,omitempty" json:"last_heartbeat,omitempty"`
}

// New creates a pending task with a fresh id.
func New(typ Type, queue Queue, description string) *Task {
	if queue == "" {
		queue = QueueDefault
	}
	return &Task{
		ID:          uuid.NewString(),
		Type:        typ,
		Queue:       queue,
		Description: description,
		Status:      StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
}

// IsTerminal returns true if the task is in a terminal state.
func (t *Task) IsTerminal() bool {
	return IsTerminal(t.Status)
}

// IsActive returns true if the task still has work pending or running.
func (t *Task) IsActive() bool {
	return !t.IsTerminal()
}

// Start marks the task RUNNING and stamps the first-attempt start time.
// Later attempts keep the original StartedAt.
func (t *Task) Start(now time.Time) {
	t.Status = StatusRunning
	if t.StartedAt == nil {
		at := now
		t.StartedAt = &at
	}
	t.Heartbeat(now)
}

// Succeed marks the task SUCCESS with an optional JSON result document.
func (t *Task) Succeed(result string, now time.Time) {
	t.Status = StatusSuccess
	t.Result = result
	at := now
	t.CompletedAt = &at
}

// Fail marks the task FAILURE with the given message.
func (t *Task) Fail(message string, now time.Time) {
	t.Status = StatusFailure
	t.Error = message
	at := now
	t.CompletedAt = &at
}

// Cancel marks the task CANCELLED.
func (t *Task) Cancel(now time.Time) {
	t.Status = StatusCancelled
	at := now
	t.CompletedAt = &at
}

// MarkRetrying records a failed attempt that will run again. The error
// is kept so observers can see what went wrong while the task waits.
func (t *Task) MarkRetrying(message string) {
	t.Status = StatusRetrying
	t.Error = message
	t.RetryCount++
}

// Heartbeat stamps worker liveness.
func (t *Task) Heartbeat(now time.Time) {
	at := now
	t.LastHeartbeat = &at
}

// SetProgress replaces the progress counters.
func (t *Task) SetProgress(current, total int, message string) {
	t.Progress = Progress{Current: current, Total: total, Message: message}
}
