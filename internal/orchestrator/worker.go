package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/curator-ai/curator/internal/db"
	"github.com/curator-ai/curator/internal/errors"
	"github.com/curator-ai/curator/internal/retry"
	"github.com/curator-ai/curator/internal/task"
)

// Handle is the job's view of its own task. Progress writes are
// coalesced so observers see at most one persisted update per
// coalescing interval, with the final state always flushed when the
// job ends.
type Handle struct {
	r *Runtime
	m *managed
}

// TaskID returns the id of the task the job runs under.
func (h *Handle) TaskID() string {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	return h.m.t.ID
}

// SetProgress records completed work units. The in-memory task is
// updated immediately; the row write and notification are dropped when
// the previous one is younger than the coalescing interval.
func (h *Handle) SetProgress(current, total int, message string) {
	now := h.r.now()

	h.m.mu.Lock()
	h.m.t.SetProgress(current, total, message)
	h.m.t.Heartbeat(now)
	due := now.Sub(h.m.lastPersist) >= h.r.cfg.ProgressCoalesce
	if due {
		h.m.lastPersist = now
	}
	row := rowFromTask(h.m.t)
	snap := *h.m.t
	h.m.mu.Unlock()

	if due {
		h.r.persist(row)
		h.r.notify(snap)
	}
}

// worker drains one queue until the runtime shuts down. Each start is
// paced through the queue's rate limiter; waiters stay queued rather
// than being dropped.
func (r *Runtime) worker(q *queueRunner) {
	defer r.wg.Done()
	for {
		m, ok := q.next(r.ctx)
		if !ok {
			return
		}
		m.mu.Lock()
		terminal := m.t.IsTerminal()
		m.mu.Unlock()
		if terminal {
			// Cancelled while queued; nothing to run.
			continue
		}
		if q.limiter != nil {
			if err := q.limiter.Wait(r.ctx); err != nil {
				r.cancelQueued(m)
				continue
			}
		}
		r.execute(q, m)
	}
}

// cancelQueued finishes a popped task that never got to run because
// the runtime shut down while it waited for a rate token.
func (r *Runtime) cancelQueued(m *managed) {
	m.mu.Lock()
	if m.t.IsTerminal() {
		m.mu.Unlock()
		return
	}
	m.t.Cancel(r.now())
	row := rowFromTask(m.t)
	snap := *m.t
	taskID := m.t.ID
	m.mu.Unlock()

	r.persist(row)
	r.notify(snap)
	r.removeManaged(taskID)
}

type jobOutcome struct {
	result string
	err    error
}

// execute runs one attempt of a job, heartbeating on the worker's own
// loop until the job returns. A panic inside the job fails the task
// but never the runtime.
func (r *Runtime) execute(q *queueRunner, m *managed) {
	jobCtx, cancelJob := context.WithCancel(r.ctx)
	defer cancelJob()

	now := r.now()
	m.mu.Lock()
	if m.t.IsTerminal() {
		m.mu.Unlock()
		return
	}
	m.cancelJob = cancelJob
	m.t.Start(now)
	m.lastPersist = now
	row := rowFromTask(m.t)
	snap := *m.t
	taskID := m.t.ID
	m.mu.Unlock()

	r.persist(row)
	r.notify(snap)
	r.logger.Debug("task started", "task_id", taskID, "queue", q.name)

	done := make(chan jobOutcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- jobOutcome{err: fmt.Errorf("job panicked: %v", rec)}
			}
		}()
		result, err := m.run(jobCtx, &Handle{r: r, m: m})
		done <- jobOutcome{result: result, err: err}
	}()

	heartbeat := time.NewTicker(r.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case out := <-done:
			r.finish(q, m, jobCtx, out)
			return
		case <-heartbeat.C:
			m.mu.Lock()
			var hbRow *db.Task
			if !m.t.IsTerminal() {
				m.t.Heartbeat(r.now())
				hbRow = rowFromTask(m.t)
			}
			m.mu.Unlock()
			if hbRow != nil {
				r.persist(hbRow)
			}
		}
	}
}

// finish resolves one attempt: success, cancellation, a scheduled
// retry, or terminal failure.
func (r *Runtime) finish(q *queueRunner, m *managed, jobCtx context.Context, out jobOutcome) {
	now := r.now()

	m.mu.Lock()
	m.cancelJob = nil
	if m.t.IsTerminal() {
		// The monitor already declared this attempt lost; keep its
		// verdict and drop the late result.
		m.mu.Unlock()
		return
	}
	taskID := m.t.ID

	switch {
	case out.err == nil:
		m.t.Succeed(out.result, now)
	case jobCtx.Err() != nil && (m.cancelled || r.ctx.Err() != nil):
		m.t.Cancel(now)
	default:
		ftype := retry.Classify(out.err)
		if r.retries != nil && ftype != retry.FailurePermanent && m.t.RetryCount < m.maxRetries {
			m.t.MarkRetrying(out.err.Error())
			delay := r.retries.Delay(ftype, m.t.RetryCount)
			m.retryTimer = time.AfterFunc(delay, func() { r.requeue(q, m) })
			row := rowFromTask(m.t)
			snap := *m.t
			attempt := m.t.RetryCount
			m.mu.Unlock()

			r.persist(row)
			r.notify(snap)
			r.logger.Warn("task attempt failed, retry scheduled",
				"task_id", taskID,
				"attempt", attempt,
				"failure_type", ftype,
				"delay", delay,
				"error", out.err)
			return
		}
		m.t.Fail(out.err.Error(), now)
	}

	status := m.t.Status
	row := rowFromTask(m.t)
	snap := *m.t
	m.mu.Unlock()

	r.persist(row)
	r.notify(snap)
	r.removeManaged(taskID)

	switch status {
	case task.StatusSuccess:
		r.logger.Info("task succeeded", "task_id", taskID, "queue", q.name)
	case task.StatusCancelled:
		r.logger.Info("task cancelled", "task_id", taskID, "queue", q.name)
	default:
		r.logger.Error("task failed", "task_id", taskID, "queue", q.name, "error", out.err)
	}
}

// requeue puts a RETRYING task back on its queue once its backoff
// elapses. A cancel that raced the timer wins.
func (r *Runtime) requeue(q *queueRunner, m *managed) {
	m.mu.Lock()
	if m.t.Status != task.StatusRetrying {
		m.mu.Unlock()
		return
	}
	m.retryTimer = nil
	taskID := m.t.ID
	m.mu.Unlock()

	q.enqueue(m)
	r.logger.Debug("task re-enqueued", "task_id", taskID, "queue", q.name)
}

// monitor periodically declares tasks lost when their heartbeats go
// stale. With in-process workers this mainly guards against a worker
// goroutine that died without finishing its task.
func (r *Runtime) monitor() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.sweepLost()
		}
	}
}

// sweepLost fails every RUNNING task whose heartbeat is older than the
// lost threshold.
func (r *Runtime) sweepLost() {
	threshold := time.Duration(r.cfg.WorkerLostMultiplier) * r.cfg.HeartbeatInterval
	now := r.now()

	r.mu.Lock()
	live := make([]*managed, 0, len(r.managed))
	for _, m := range r.managed {
		live = append(live, m)
	}
	r.mu.Unlock()

	for _, m := range live {
		m.mu.Lock()
		lost := m.t.Status == task.StatusRunning &&
			m.t.LastHeartbeat != nil &&
			now.Sub(*m.t.LastHeartbeat) >= threshold
		if !lost {
			m.mu.Unlock()
			continue
		}
		silence := now.Sub(*m.t.LastHeartbeat)
		if m.cancelJob != nil {
			m.cancelJob()
		}
		m.t.Fail(fmt.Sprintf("worker_lost: no heartbeat for %s", silence), now)
		row := rowFromTask(m.t)
		snap := *m.t
		taskID := m.t.ID
		m.mu.Unlock()

		r.persist(row)
		r.notify(snap)
		r.removeManaged(taskID)
		r.logger.Error("worker lost", "task_id", taskID, "silence", silence,
			"error", errors.ErrWorkerLost(taskID, silence.String()))
	}
}
