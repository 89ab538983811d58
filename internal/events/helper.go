package events

import (
	"time"
)

// PublishHelper wraps event publishing with nil-safety and convenience
// methods.
//
// Thread-safe: All methods can be called concurrently.
type PublishHelper struct {
	publisher Publisher
}

// NewPublishHelper creates a new PublishHelper wrapping the given publisher.
// If p is nil, all publish operations become no-ops.
func NewPublishHelper(p Publisher) *PublishHelper {
	return &PublishHelper{publisher: p}
}

// Publish sends an event to the underlying publisher.
// Safe to call with nil publisher (no-op).
func (ep *PublishHelper) Publish(ev Event) {
	if ep == nil || ep.publisher == nil {
		return
	}
	ep.publisher.Publish(ev)
}

// AgentStatus publishes a full agent state snapshot to all subscribers.
func (ep *PublishHelper) AgentStatus(status AgentStatus) {
	ep.Publish(NewEvent(EventAgentStatus, GlobalTaskID, status))
}

// AgentStatusUpdate publishes an incremental agent state change.
func (ep *PublishHelper) AgentStatusUpdate(status AgentStatus) {
	ep.Publish(NewEvent(EventAgentStatusUpdate, GlobalTaskID, status))
}

// Progress publishes a per-task progress update.
func (ep *PublishHelper) Progress(taskID string, progress float64, phase, message string) {
	ep.Publish(NewEvent(EventProgress, taskID, ProgressUpdate{
		Progress: progress,
		Phase:    phase,
		Message:  message,
	}))
}

// PhaseStart publishes a phase start event.
func (ep *PublishHelper) PhaseStart(taskID, phaseID, phaseName string) {
	ep.Publish(NewEvent(EventPhase, taskID, PhaseUpdate{
		PhaseID:   phaseID,
		PhaseName: phaseName,
		Status:    PhaseStarted,
	}))
}

// PhaseComplete publishes a phase completion event.
func (ep *PublishHelper) PhaseComplete(taskID, phaseID, phaseName string) {
	ep.Publish(NewEvent(EventPhase, taskID, PhaseUpdate{
		PhaseID:   phaseID,
		PhaseName: phaseName,
		Status:    PhaseCompleted,
	}))
}

// PhaseFailed publishes a phase failure event with the error message.
func (ep *PublishHelper) PhaseFailed(taskID, phaseID, phaseName string, err error) {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	ep.Publish(NewEvent(EventPhase, taskID, PhaseUpdate{
		PhaseID:   phaseID,
		PhaseName: phaseName,
		Status:    PhaseFailed,
		Error:     errMsg,
	}))
}

// PhaseSkipped publishes a phase skip event (nothing needed processing).
func (ep *PublishHelper) PhaseSkipped(taskID, phaseID, phaseName string) {
	ep.Publish(NewEvent(EventPhase, taskID, PhaseUpdate{
		PhaseID:   phaseID,
		PhaseName: phaseName,
		Status:    PhaseSkipped,
	}))
}

// PhaseCancelled publishes a phase cancellation event.
func (ep *PublishHelper) PhaseCancelled(taskID, phaseID, phaseName string) {
	ep.Publish(NewEvent(EventPhase, taskID, PhaseUpdate{
		PhaseID:   phaseID,
		PhaseName: phaseName,
		Status:    PhaseCancelled,
	}))
}

// PhaseProgress publishes a phase progress event.
func (ep *PublishHelper) PhaseProgress(taskID, phaseID, phaseName string, progress float64) {
	ep.Publish(NewEvent(EventPhase, taskID, PhaseUpdate{
		PhaseID:   phaseID,
		PhaseName: phaseName,
		Status:    PhaseRunning,
		Progress:  &progress,
	}))
}

// Log publishes a structured log line onto the bus.
func (ep *PublishHelper) Log(taskID, level, module, message string) {
	ep.Publish(NewEvent(EventLog, taskID, LogMessage{
		Level:     level,
		Module:    module,
		Message:   message,
		Timestamp: time.Now(),
	}))
}

// SystemHealth publishes a component health update.
func (ep *PublishHelper) SystemHealth(component string, healthy bool, detail string) {
	ep.Publish(NewEvent(EventSystemHealth, GlobalTaskID, SystemHealth{
		Component: component,
		Healthy:   healthy,
		Detail:    detail,
	}))
}

// RunCompleted publishes the terminal summary of a pipeline run.
func (ep *PublishHelper) RunCompleted(taskID string, success bool, duration time.Duration, results map[string]any, err error) {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	ep.Publish(NewEvent(EventRunCompleted, taskID, RunCompleted{
		Success:  success,
		Duration: duration.String(),
		Results:  results,
		Error:    errMsg,
	}))
}

// RetryScheduled publishes a retry announcement for a failed item.
func (ep *PublishHelper) RetryScheduled(taskID, itemID, phase string, attempt int, failureType string, nextRetryAt time.Time) {
	ep.Publish(NewEvent(EventRetryScheduled, taskID, RetryScheduled{
		ItemID:      itemID,
		Phase:       phase,
		Attempt:     attempt,
		FailureType: failureType,
		NextRetryAt: nextRetryAt,
	}))
}

// ScheduleTriggered publishes a schedule firing announcement.
func (ep *PublishHelper) ScheduleTriggered(scheduleID, name string) {
	ep.Publish(NewEvent(EventScheduleTriggered, GlobalTaskID, ScheduleTriggered{
		ScheduleID: scheduleID,
		Name:       name,
		FiredAt:    time.Now(),
	}))
}
