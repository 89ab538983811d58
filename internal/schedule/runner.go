package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/curator-ai/curator/internal/config"
	"github.com/curator-ai/curator/internal/db"
	"github.com/curator-ai/curator/internal/errors"
	"github.com/curator-ai/curator/internal/events"
)

// Starter launches pipeline runs. The agent controller satisfies it.
type Starter interface {
	Start(prefs config.RunPreferences) (string, error)
}

const defaultSweepInterval = 30 * time.Second

// Runner sweeps definitions on a ticker and fires the due ones. It
// also watches the bus so fired history entries get a final outcome
// once their run completes.
type Runner struct {
	store    *Store
	starter  Starter
	bus      events.Publisher
	helper   *events.PublishHelper
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	mu    sync.Mutex
	fired map[string]int64 // task id -> schedule run row

	cancel context.CancelFunc
	done   chan struct{}
}

// RunnerOption adjusts runner construction.
type RunnerOption func(*Runner)

// WithInterval sets the sweep interval.
func WithInterval(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.interval = d
		}
	}
}

// NewRunner builds a runner over the store and starter. The bus is
// optional; without one, fired history entries keep their "started"
// status and no schedule_triggered events are published.
func NewRunner(store *Store, starter Starter, bus events.Publisher, logger *slog.Logger, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		store:    store,
		starter:  starter,
		bus:      bus,
		helper:   events.NewPublishHelper(bus),
		logger:   logger,
		interval: defaultSweepInterval,
		now:      time.Now,
		fired:    make(map[string]int64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins sweeping. The first sweep happens immediately, so
// schedules that came due while the agent was down fire at boot.
func (r *Runner) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	var evCh <-chan events.Event
	if r.bus != nil {
		evCh = r.bus.Subscribe(events.GlobalTaskID)
	}

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		r.sweep()
		for {
			select {
			case <-ctx.Done():
				if r.bus != nil && evCh != nil {
					r.bus.Unsubscribe(events.GlobalTaskID, evCh)
				}
				return
			case <-ticker.C:
				r.sweep()
			case ev, ok := <-evCh:
				if !ok {
					evCh = nil
					continue
				}
				r.observe(ev)
			}
		}
	}()
}

// Close stops the sweep loop and waits for it to exit.
func (r *Runner) Close() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}

// sweep fires every enabled definition whose due time has passed and
// returns how many fired.
func (r *Runner) sweep() int {
	now := r.now().UTC()
	defs, err := r.store.List(true)
	if err != nil {
		r.logger.Error("schedule sweep failed", "error", err)
		return 0
	}

	fired := 0
	for _, def := range defs {
		if def.NextRunAt == nil || def.NextRunAt.After(now) {
			continue
		}
		if r.fire(def, now) {
			fired++
		}
	}
	return fired
}

// fire starts one run. A busy agent leaves the definition due so the
// next sweep retries; other start failures advance the schedule to its
// next period so a broken definition cannot hot-loop.
func (r *Runner) fire(def *Definition, now time.Time) bool {
	taskID, err := r.starter.Start(def.Prefs)
	if err != nil {
		if errors.Is(err, errors.ErrAgentBusy("")) {
			r.logger.Debug("schedule due but agent busy", "schedule", def.Name)
			return false
		}
		r.logger.Error("schedule failed to start run", "schedule", def.Name, "error", err)
		run := &db.ScheduleRun{ScheduleID: def.ID, Status: "error: " + err.Error(), StartedAt: now}
		if rerr := r.store.db.RecordScheduleRun(run); rerr != nil {
			r.logger.Warn("record schedule run", "schedule", def.Name, "error", rerr)
		}
		if merr := r.store.MarkFired(def, now); merr != nil {
			r.logger.Warn("advance schedule", "schedule", def.Name, "error", merr)
		}
		return false
	}

	run := &db.ScheduleRun{ScheduleID: def.ID, TaskID: taskID, Status: "started", StartedAt: now}
	if err := r.store.db.RecordScheduleRun(run); err != nil {
		r.logger.Warn("record schedule run", "schedule", def.Name, "error", err)
	} else {
		r.mu.Lock()
		r.fired[taskID] = run.ID
		r.mu.Unlock()
	}
	if err := r.store.MarkFired(def, now); err != nil {
		r.logger.Warn("advance schedule", "schedule", def.Name, "error", err)
	}

	r.helper.ScheduleTriggered(def.ID, def.Name)
	r.logger.Info("schedule fired", "schedule", def.Name, "task_id", taskID)
	return true
}

// observe folds run completions into the fired history entries.
func (r *Runner) observe(ev events.Event) {
	if ev.Type != events.EventRunCompleted {
		return
	}

	r.mu.Lock()
	runID, ok := r.fired[ev.TaskID]
	if ok {
		delete(r.fired, ev.TaskID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	status := "completed"
	if rc, ok := ev.Data.(events.RunCompleted); ok && !rc.Success {
		status = "failed"
		if rc.Error != "" {
			status = "failed: " + rc.Error
		}
	}
	if err := r.store.db.UpdateScheduleRunStatus(runID, status); err != nil {
		r.logger.Warn("update schedule run status", "task_id", ev.TaskID, "error", err)
	}
}
