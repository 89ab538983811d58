// Package orchestrator executes background jobs on per-queue worker
// pools. Each queue has its own worker count and token-bucket rate
// limit so network-bound fetching, model calls, and corpus-wide
// synthesis cannot starve one another. The runtime owns the task
// lifecycle: it persists every transition, coalesces progress writes,
// re-enqueues retryable failures, and declares workers lost when
// heartbeats stop.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/curator-ai/curator/internal/config"
	"github.com/curator-ai/curator/internal/db"
	"github.com/curator-ai/curator/internal/errors"
	"github.com/curator-ai/curator/internal/retry"
	"github.com/curator-ai/curator/internal/task"
)

// JobFunc is the work a task performs. It must honor ctx cancellation
// at its quantum boundaries (between items, between sub-operations) and
// report progress through the handle. The returned result is a JSON
// document stored on the task.
type JobFunc func(ctx context.Context, h *Handle) (result string, err error)

// Job describes one unit of work to submit.
type Job struct {
	// Type classifies the work.
	Type task.Type

	// Queue selects the worker pool. Unknown queues run on default.
	Queue task.Queue

	// ID fixes the task id. Empty means one is generated. Callers that
	// announce an id before submitting set this.
	ID string

	// Description is a short human-readable label.
	Description string

	// Phase names the pipeline phase this job belongs to, when any.
	Phase string

	// ParentID links the job to the task that spawned it.
	ParentID string

	// MaxRetries bounds re-enqueues after recoverable failures. Zero
	// means the first failure is final.
	MaxRetries int

	// Run executes the job.
	Run JobFunc
}

// Notifier receives task snapshots as they change. Implementations
// bridge runtime updates onto the event bus; they must not block.
type Notifier interface {
	TaskUpdated(t task.Task)
}

// Options configures a Runtime.
type Options struct {
	// Config sizes the queues and timers. Zero fields are normalized
	// to the documented defaults.
	Config config.RuntimeConfig

	// Store persists task rows. Required.
	Store *db.Store

	// Retry supplies backoff delays for re-enqueued failures. When nil
	// every failure is final.
	Retry *retry.Manager

	// Notifier observes task updates. Optional.
	Notifier Notifier

	// Logger receives runtime logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// Runtime runs submitted jobs on per-queue worker pools.
type Runtime struct {
	cfg      config.RuntimeConfig
	store    *db.Store
	retries  *retry.Manager
	notifier Notifier
	logger   *slog.Logger

	mu      sync.Mutex
	queues  map[task.Queue]*queueRunner
	managed map[string]*managed
	started bool
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

// managed pairs a live task with its control surfaces. The runtime's
// map lock and the per-task lock are never held together; the map lock
// guards membership only.
type managed struct {
	mu         sync.Mutex
	t          *task.Task
	run        JobFunc
	maxRetries int

	cancelJob   context.CancelFunc // set while the job runs
	cancelled   bool               // cancel requested by a caller
	retryTimer  *time.Timer        // set while waiting between attempts
	lastPersist time.Time
}

// NewRuntime creates a stopped runtime. Call Start to spawn workers.
func NewRuntime(opts Options) (*Runtime, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("orchestrator: store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg := opts.Config
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.WorkerLostMultiplier < 1 {
		cfg.WorkerLostMultiplier = 3
	}
	if cfg.ProgressCoalesce <= 0 {
		cfg.ProgressCoalesce = 100 * time.Millisecond
	}
	if cfg.RetentionDays < 1 {
		cfg.RetentionDays = 7
	}

	r := &Runtime{
		cfg:      cfg,
		store:    opts.Store,
		retries:  opts.Retry,
		notifier: opts.Notifier,
		logger:   logger,
		queues:   make(map[task.Queue]*queueRunner),
		managed:  make(map[string]*managed),
		now:      time.Now,
	}
	for _, name := range task.ValidQueues() {
		r.queues[name] = newQueueRunner(name, r.queueConfig(name))
	}
	return r, nil
}

// queueConfig resolves the sizing for a queue, falling back to the
// default entry and then to a single unthrottled worker.
func (r *Runtime) queueConfig(name task.Queue) config.QueueConfig {
	qc, ok := r.cfg.Queues[string(name)]
	if !ok {
		qc, ok = r.cfg.Queues[string(task.QueueDefault)]
	}
	if !ok || qc.Workers < 1 {
		qc.Workers = 1
	}
	if qc.RatePerSecond > 0 && qc.Burst < 1 {
		qc.Burst = 1
	}
	return qc
}

// Start fails over orphaned rows from a previous process and spawns
// the worker pools and the heartbeat monitor.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return fmt.Errorf("task runtime already running")
	}
	if r.stopped {
		r.mu.Unlock()
		return fmt.Errorf("task runtime already stopped")
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.started = true
	r.mu.Unlock()

	if err := r.failOrphans(); err != nil {
		return err
	}

	totalWorkers := 0
	for _, q := range r.queues {
		for i := 0; i < q.workers; i++ {
			r.wg.Add(1)
			go r.worker(q)
		}
		totalWorkers += q.workers
	}
	r.wg.Add(1)
	go r.monitor()

	r.logger.Info("task runtime started",
		"queues", len(r.queues),
		"workers", totalWorkers,
		"heartbeat_interval", r.cfg.HeartbeatInterval)
	return nil
}

// failOrphans marks non-terminal rows left behind by a dead process as
// FAILURE. Their job closures are gone; resubmission is the only way
// to run them again.
func (r *Runtime) failOrphans() error {
	rows, err := r.store.ListTasks(db.TaskFilter{Active: true})
	if err != nil {
		return fmt.Errorf("scan for orphaned tasks: %w", err)
	}
	now := r.now()
	for _, row := range rows {
		r.mu.Lock()
		_, isLive := r.managed[row.ID]
		r.mu.Unlock()
		if isLive {
			continue
		}
		row.Status = string(task.StatusFailure)
		row.Error = "worker_lost: owning process exited"
		at := now
		row.FinishedAt = &at
		if err := r.store.SaveTask(row); err != nil {
			return fmt.Errorf("fail orphaned task %s: %w", row.ID, err)
		}
		r.logger.Warn("orphaned task failed",
			"task_id", row.ID, "queue", row.Queue, "type", row.Kind)
	}
	return nil
}

// Stop cancels running jobs, waits for workers to honor the
// cancellation, and cancels everything still queued. The runtime
// cannot be restarted afterwards.
func (r *Runtime) Stop() {
	r.mu.Lock()
	if !r.started || r.stopped {
		r.stopped = true
		r.mu.Unlock()
		return
	}
	r.stopped = true
	cancel := r.cancel
	r.mu.Unlock()

	cancel()
	r.wg.Wait()

	r.mu.Lock()
	remaining := make([]*managed, 0, len(r.managed))
	for _, m := range r.managed {
		remaining = append(remaining, m)
	}
	r.managed = make(map[string]*managed)
	r.mu.Unlock()

	now := r.now()
	for _, m := range remaining {
		m.mu.Lock()
		if m.retryTimer != nil {
			m.retryTimer.Stop()
			m.retryTimer = nil
		}
		if !m.t.IsTerminal() {
			m.t.Cancel(now)
		}
		row := rowFromTask(m.t)
		snap := *m.t
		m.mu.Unlock()
		r.persist(row)
		r.notify(snap)
	}

	r.logger.Info("task runtime stopped", "cancelled", len(remaining))
}

// Submit queues a job and returns its task id. Jobs submitted before
// Start wait until workers exist.
func (r *Runtime) Submit(j Job) (string, error) {
	if j.Run == nil {
		return "", fmt.Errorf("submit: job has no run function")
	}
	queue := j.Queue
	if !task.IsValidQueue(queue) {
		if queue != "" {
			r.logger.Warn("unknown queue, using default", "queue", queue)
		}
		queue = task.QueueDefault
	}

	t := task.New(j.Type, queue, j.Description)
	if j.ID != "" {
		t.ID = j.ID
	}
	t.Phase = j.Phase
	t.ParentID = j.ParentID
	t.CreatedAt = r.now().UTC()

	m := &managed{t: t, run: j.Run, maxRetries: j.MaxRetries}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return "", fmt.Errorf("submit: task runtime is stopped")
	}
	q := r.queues[queue]
	r.managed[t.ID] = m
	r.mu.Unlock()

	if err := r.store.SaveTask(rowFromTask(t)); err != nil {
		r.mu.Lock()
		delete(r.managed, t.ID)
		r.mu.Unlock()
		return "", err
	}

	q.enqueue(m)
	r.notify(*t)
	r.logger.Debug("task submitted",
		"task_id", t.ID, "type", t.Type, "queue", queue, "phase", t.Phase)
	return t.ID, nil
}

// Cancel requests cancellation of a task. Pending and waiting tasks
// cancel immediately; running tasks are signalled and finish at their
// next cancellation point. Returns false when the task is unknown or
// already terminal.
func (r *Runtime) Cancel(taskID string) bool {
	r.mu.Lock()
	m, ok := r.managed[taskID]
	r.mu.Unlock()
	if !ok {
		return false
	}

	m.mu.Lock()
	if m.t.IsTerminal() {
		m.mu.Unlock()
		return false
	}
	m.cancelled = true
	switch m.t.Status {
	case task.StatusRunning:
		if m.cancelJob != nil {
			m.cancelJob()
		}
		m.mu.Unlock()
		r.logger.Info("task cancel requested", "task_id", taskID)
		return true
	default:
		// PENDING in queue, or RETRYING between attempts. Neither has
		// a worker; finish here and let workers skip the stale entry.
		if m.retryTimer != nil {
			m.retryTimer.Stop()
			m.retryTimer = nil
		}
		m.t.Cancel(r.now())
		row := rowFromTask(m.t)
		snap := *m.t
		m.mu.Unlock()

		r.persist(row)
		r.notify(snap)
		r.removeManaged(taskID)
		r.logger.Info("task cancelled before running", "task_id", taskID)
		return true
	}
}

// Status returns the current state of a task, preferring the live
// in-memory copy over the persisted row.
func (r *Runtime) Status(taskID string) (*task.Task, error) {
	r.mu.Lock()
	m, ok := r.managed[taskID]
	r.mu.Unlock()
	if ok {
		m.mu.Lock()
		snap := *m.t
		m.mu.Unlock()
		return &snap, nil
	}

	row, err := r.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, errors.ErrTaskNotFound(taskID)
	}
	return taskFromRow(row), nil
}

// Filter restricts List.
type Filter struct {
	Queue    task.Queue
	Type     task.Type
	Statuses []task.Status
	Active   bool
	Limit    int
	Offset   int
}

// List returns tasks matching the filter, newest first. Live tasks are
// overlaid with their in-memory state so callers see progress fresher
// than the last coalesced write.
func (r *Runtime) List(f Filter) ([]*task.Task, error) {
	dbf := db.TaskFilter{
		Queue:  string(f.Queue),
		Kind:   string(f.Type),
		Active: f.Active,
		Limit:  f.Limit,
		Offset: f.Offset,
	}
	for _, s := range f.Statuses {
		dbf.Statuses = append(dbf.Statuses, string(s))
	}

	rows, err := r.store.ListTasks(dbf)
	if err != nil {
		return nil, err
	}

	out := make([]*task.Task, 0, len(rows))
	for _, row := range rows {
		r.mu.Lock()
		m, ok := r.managed[row.ID]
		r.mu.Unlock()
		if ok {
			m.mu.Lock()
			snap := *m.t
			m.mu.Unlock()
			out = append(out, &snap)
			continue
		}
		out = append(out, taskFromRow(row))
	}
	return out, nil
}

// QueueSnapshot describes one queue's live load.
type QueueSnapshot struct {
	Workers int `json:"workers"`
	Pending int `json:"pending"`
	Running int `json:"running"`
}

// Statistics aggregates task counts for status surfaces.
type Statistics struct {
	ByStatus map[task.Status]int64        `json:"by_status"`
	Queues   map[task.Queue]QueueSnapshot `json:"queues"`
}

// Statistics reports per-status row counts and per-queue live load.
func (r *Runtime) Statistics() (*Statistics, error) {
	counts, err := r.store.CountTasksByStatus()
	if err != nil {
		return nil, err
	}

	stats := &Statistics{
		ByStatus: make(map[task.Status]int64, len(counts)),
		Queues:   make(map[task.Queue]QueueSnapshot, len(r.queues)),
	}
	for status, n := range counts {
		stats.ByStatus[task.Status(status)] = n
	}

	r.mu.Lock()
	live := make([]*managed, 0, len(r.managed))
	for _, m := range r.managed {
		live = append(live, m)
	}
	r.mu.Unlock()

	for name, q := range r.queues {
		stats.Queues[name] = QueueSnapshot{Workers: q.workers}
	}
	for _, m := range live {
		m.mu.Lock()
		queue, status := m.t.Queue, m.t.Status
		m.mu.Unlock()
		snap := stats.Queues[queue]
		switch status {
		case task.StatusRunning:
			snap.Running++
		case task.StatusPending, task.StatusRetrying:
			snap.Pending++
		}
		stats.Queues[queue] = snap
	}
	return stats, nil
}

// Cleanup purges terminal tasks older than the threshold. Zero or
// negative days use the configured retention.
func (r *Runtime) Cleanup(olderThanDays int) (int64, error) {
	if olderThanDays <= 0 {
		olderThanDays = r.cfg.RetentionDays
	}
	cutoff := r.now().Add(-time.Duration(olderThanDays) * 24 * time.Hour)
	n, err := r.store.DeleteTasksFinishedBefore(cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Info("pruned finished tasks", "removed", n, "older_than_days", olderThanDays)
	}
	return n, nil
}

func (r *Runtime) removeManaged(taskID string) {
	r.mu.Lock()
	delete(r.managed, taskID)
	r.mu.Unlock()
}

func (r *Runtime) persist(row *db.Task) {
	if err := r.store.SaveTask(row); err != nil {
		r.logger.Error("persist task state failed", "task_id", row.ID, "error", err)
	}
}

func (r *Runtime) notify(snap task.Task) {
	if r.notifier != nil {
		r.notifier.TaskUpdated(snap)
	}
}

// rowFromTask maps the domain task onto its persisted row.
func rowFromTask(t *task.Task) *db.Task {
	return &db.Task{
		ID:              t.ID,
		Queue:           string(t.Queue),
		Kind:            string(t.Type),
		Description:     t.Description,
		Phase:           t.Phase,
		ParentTaskID:    t.ParentID,
		Status:          string(t.Status),
		ProgressCurrent: t.Progress.Current,
		ProgressTotal:   t.Progress.Total,
		ProgressMessage: t.Progress.Message,
		Error:           t.Error,
		Result:          t.Result,
		RetryCount:      t.RetryCount,
		CreatedAt:       t.CreatedAt,
		StartedAt:       t.StartedAt,
		FinishedAt:      t.CompletedAt,
		LastHeartbeat:   t.LastHeartbeat,
	}
}

// taskFromRow rebuilds the domain task from a persisted row.
func taskFromRow(row *db.Task) *task.Task {
	return &task.Task{
		ID:            row.ID,
		Type:          task.Type(row.Kind),
		Queue:         task.Queue(row.Queue),
		Description:   row.Description,
		Phase:         row.Phase,
		ParentID:      row.ParentTaskID,
		Status:        task.Status(row.Status),
		Progress:      task.Progress{Current: row.ProgressCurrent, Total: row.ProgressTotal, Message: row.ProgressMessage},
		Error:         row.Error,
		Result:        row.Result,
		RetryCount:    row.RetryCount,
		CreatedAt:     row.CreatedAt,
		StartedAt:     row.StartedAt,
		CompletedAt:   row.FinishedAt,
		LastHeartbeat: row.LastHeartbeat,
	}
}
