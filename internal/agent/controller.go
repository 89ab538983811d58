package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/curator-ai/curator/internal/config"
	"github.com/curator-ai/curator/internal/db"
	"github.com/curator-ai/curator/internal/errors"
	"github.com/curator-ai/curator/internal/events"
	"github.com/curator-ai/curator/internal/orchestrator"
	"github.com/curator-ai/curator/internal/pipeline"
	"github.com/curator-ai/curator/internal/task"
)

// State is the singleton agent status. StartedAt refers to the active
// run, or to the most recent one when idle.
type State struct {
	Running         bool
	TaskID          string
	PhaseMessage    string
	Progress        float64
	StartedAt       *time.Time
	StopRequested   bool
	QueuedRuns      int
	LastCompletedAt *time.Time
	LastSuccess     bool
}

// StatusPatch is an in-process status poke applied to the active run.
type StatusPatch struct {
	PhaseMessage *string
	Progress     *float64
}

type pendingRun struct {
	id    string
	prefs config.RunPreferences
}

// Controller owns the agent's run lifecycle: at most one pipeline run
// executes at a time, started as a priority task on the runtime. Start
// requests during a run fail with AGENT_BUSY, or wait their turn when
// queueing is configured.
type Controller struct {
	svc    *Services
	guard  *PIDGuard
	logger *slog.Logger

	mu            sync.Mutex
	running       bool
	taskID        string
	phaseMessage  string
	progress      float64
	startedAt     time.Time
	stopRequested bool
	pending       []pendingRun
	runDone       chan struct{}
	mirrorStop    func()
}

// NewController acquires the process guard and builds the controller
// over an already-started service graph.
func NewController(svc *Services) (*Controller, error) {
	logger := svc.Logger
	if logger == nil {
		logger = slog.Default()
	}
	guard := NewPIDGuard(svc.Config.Agent.PIDFile)
	if err := guard.Acquire(); err != nil {
		return nil, err
	}
	return &Controller{svc: svc, guard: guard, logger: logger}, nil
}

// Start launches a pipeline run with the given preferences and returns
// its task id. With queue_runs enabled a request during an active run
// returns the id the queued run will eventually execute under.
func (c *Controller) Start(prefs config.RunPreferences) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		if !c.svc.Config.Agent.QueueRuns {
			return "", errors.ErrAgentBusy(c.taskID)
		}
		id := uuid.NewString()
		c.pending = append(c.pending, pendingRun{id: id, prefs: prefs})
		c.logger.Info("run queued behind active run",
			"task_id", id, "active", c.taskID, "queued", len(c.pending))
		return id, nil
	}
	return c.submitLocked("", prefs)
}

// submitLocked submits the run task and transitions the controller to
// running. Callers hold c.mu.
func (c *Controller) submitLocked(id string, prefs config.RunPreferences) (string, error) {
	done := make(chan struct{})
	taskID, err := c.svc.Runtime.Submit(orchestrator.Job{
		Type:        task.TypeAgentRun,
		Queue:       task.QueuePriority,
		ID:          id,
		Description: runDescription(prefs),
		Run: func(jobCtx context.Context, h *orchestrator.Handle) (string, error) {
			defer close(done)
			sum, runErr := c.svc.Engine.Run(jobCtx, h.TaskID(), prefs)
			c.finishRun(h.TaskID(), sum, runErr)
			if runErr != nil {
				return "", runErr
			}
			return fmt.Sprintf("%d items ingested, %d kb items created",
				sum.ItemsIngested, sum.KBItemsCreated), nil
		},
	})
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	c.running = true
	c.taskID = taskID
	c.startedAt = now
	c.stopRequested = false
	c.progress = 0
	c.phaseMessage = "starting"
	c.runDone = done
	c.startMirrorLocked(taskID)

	c.persistRunning(taskID, now)
	c.svc.Events.AgentStatus(c.eventStatusLocked())
	c.logger.Info("run started", "task_id", taskID, "description", runDescription(prefs))
	return taskID, nil
}

// Stop cancels the active run, or removes a queued one. An empty
// taskID targets whatever is active. Returns false when nothing
// matched.
func (c *Controller) Stop(taskID string) bool {
	c.mu.Lock()
	if taskID != "" && taskID != c.taskID {
		for i, p := range c.pending {
			if p.id == taskID {
				c.pending = append(c.pending[:i], c.pending[i+1:]...)
				c.mu.Unlock()
				c.logger.Info("queued run removed", "task_id", taskID)
				return true
			}
		}
		c.mu.Unlock()
		return false
	}
	if !c.running {
		c.mu.Unlock()
		return false
	}
	id := c.taskID
	c.stopRequested = true
	status := c.eventStatusLocked()
	c.mu.Unlock()

	c.svc.Events.AgentStatusUpdate(status)
	c.logger.Info("stop requested", "task_id", id)
	return c.svc.Runtime.Cancel(id)
}

// Status reports the current agent state, folding in the persisted row
// for last-run details.
func (c *Controller) Status() State {
	c.mu.Lock()
	st := State{
		Running:       c.running,
		TaskID:        c.taskID,
		PhaseMessage:  c.phaseMessage,
		Progress:      c.progress,
		StopRequested: c.stopRequested,
		QueuedRuns:    len(c.pending),
	}
	if c.running {
		started := c.startedAt
		st.StartedAt = &started
	}
	c.mu.Unlock()

	if row, err := c.svc.DB.LoadAgentState(); err == nil && row != nil {
		st.LastCompletedAt = row.LastCompletedAt
		st.LastSuccess = row.LastSuccess
		if st.StartedAt == nil {
			st.StartedAt = row.StartedAt
		}
	}
	return st
}

// Progress applies an in-process status poke to the active run and
// publishes the update.
func (c *Controller) Progress(taskID string, patch StatusPatch) error {
	c.mu.Lock()
	if !c.running || c.taskID != taskID {
		c.mu.Unlock()
		return errors.ErrTaskNotFound(taskID)
	}
	if patch.PhaseMessage != nil {
		c.phaseMessage = *patch.PhaseMessage
	}
	if patch.Progress != nil {
		c.progress = clamp01(*patch.Progress)
	}
	status := c.eventStatusLocked()
	c.mu.Unlock()

	c.svc.Events.AgentStatusUpdate(status)
	return nil
}

// Close stops the active run, waits out the shutdown grace, drops any
// queued runs, and releases the process guard. The service graph is
// closed by its owner.
func (c *Controller) Close() {
	c.mu.Lock()
	running := c.running
	id := c.taskID
	done := c.runDone
	c.pending = nil
	c.mu.Unlock()

	if running {
		c.svc.Runtime.Cancel(id)
		grace := c.svc.Config.Agent.ShutdownGrace
		if grace <= 0 {
			grace = 30 * time.Second
		}
		select {
		case <-done:
		case <-time.After(grace):
			c.logger.Warn("run did not stop within shutdown grace", "task_id", id)
		}
	}
	c.guard.Release()
}

// finishRun transitions the controller out of running, persists the
// outcome, publishes the run summary, and starts the next queued run.
// It executes on the run task's worker before the job returns.
func (c *Controller) finishRun(taskID string, sum *pipeline.RunSummary, runErr error) {
	success := runErr == nil && sum != nil && sum.Success

	c.mu.Lock()
	startedAt := c.startedAt
	if c.mirrorStop != nil {
		c.mirrorStop()
		c.mirrorStop = nil
	}
	c.running = false
	c.taskID = ""
	c.stopRequested = false
	c.phaseMessage = ""
	c.progress = 0

	var next *pendingRun
	if len(c.pending) > 0 {
		n := c.pending[0]
		c.pending = c.pending[1:]
		next = &n
	}
	status := c.eventStatusLocked()
	c.mu.Unlock()

	c.persistFinished(success, startedAt)

	var (
		duration time.Duration
		results  map[string]any
	)
	if sum != nil {
		duration = sum.Duration
		results = sum.Results()
	}
	c.svc.Events.RunCompleted(taskID, success, duration, results, runErr)
	c.svc.Events.AgentStatus(status)

	if runErr != nil {
		c.logger.Error("run finished with error", "task_id", taskID, "error", runErr)
	} else {
		c.logger.Info("run finished", "task_id", taskID, "success", success, "duration", duration)
	}

	if next != nil {
		c.mu.Lock()
		if _, err := c.submitLocked(next.id, next.prefs); err != nil {
			c.logger.Error("queued run failed to start", "task_id", next.id, "error", err)
		}
		c.mu.Unlock()
	}
}

// startMirrorLocked follows the run's bus events so Status() reflects
// live phase and progress without polling. Callers hold c.mu.
func (c *Controller) startMirrorLocked(taskID string) {
	ch := c.svc.Bus.Subscribe(taskID)
	stop := make(chan struct{})
	c.mirrorStop = func() {
		close(stop)
		c.svc.Bus.Unsubscribe(taskID, ch)
	}
	go func() {
		for {
			select {
			case <-stop:
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				c.observe(ev)
			}
		}
	}()
}

func (c *Controller) observe(ev events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running || ev.TaskID != c.taskID {
		return
	}
	switch data := ev.Data.(type) {
	case events.PhaseUpdate:
		if data.Status == events.PhaseStarted {
			c.phaseMessage = data.PhaseName
		}
	case events.ProgressUpdate:
		c.progress = clamp01(data.Progress)
	}
}

// eventStatusLocked renders the bus payload form of the current state.
// Callers hold c.mu.
func (c *Controller) eventStatusLocked() events.AgentStatus {
	s := events.AgentStatus{
		Running:       c.running,
		CurrentTaskID: c.taskID,
		CurrentPhase:  c.phaseMessage,
		Progress:      c.progress,
	}
	if c.running {
		s.StartedAt = c.startedAt.Format(time.RFC3339)
		s.ETCSeconds = c.etcSeconds()
	}
	return s
}

// etcSeconds derives a completion horizon from the active phase
// estimates: the farthest estimated completion wins.
func (c *Controller) etcSeconds() float64 {
	var latest time.Time
	for _, snap := range c.svc.Estimator.Active() {
		if snap.EstimatedCompletion != nil && snap.EstimatedCompletion.After(latest) {
			latest = *snap.EstimatedCompletion
		}
	}
	if latest.IsZero() {
		return 0
	}
	secs := time.Until(latest).Seconds()
	if secs < 0 {
		return 0
	}
	return secs
}

func (c *Controller) persistRunning(taskID string, startedAt time.Time) {
	st := &db.AgentState{
		Running:       true,
		CurrentTaskID: taskID,
		StartedAt:     &startedAt,
		UpdatedAt:     startedAt,
	}
	if prev, err := c.svc.DB.LoadAgentState(); err == nil && prev != nil {
		st.LastCompletedAt = prev.LastCompletedAt
		st.LastSuccess = prev.LastSuccess
	}
	if err := c.svc.DB.SaveAgentState(st); err != nil {
		c.logger.Warn("persist agent state", "error", err)
	}
}

func (c *Controller) persistFinished(success bool, startedAt time.Time) {
	now := time.Now().UTC()
	st := &db.AgentState{
		Running:         false,
		StartedAt:       &startedAt,
		LastCompletedAt: &now,
		LastSuccess:     success,
		UpdatedAt:       now,
	}
	if err := c.svc.DB.SaveAgentState(st); err != nil {
		c.logger.Warn("persist agent state", "error", err)
	}
}

func runDescription(prefs config.RunPreferences) string {
	switch prefs.RunMode {
	case config.RunModeSynthesisOnly:
		return "synthesis rebuild"
	case config.RunModeEmbeddingOnly:
		return "embedding rebuild"
	case config.RunModeReadmeOnly:
		return "readme rebuild"
	}
	if len(prefs.ItemIDs) > 0 {
		return fmt.Sprintf("pipeline run (%d items)", len(prefs.ItemIDs))
	}
	return "pipeline run"
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
