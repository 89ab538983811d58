package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/curator-ai/curator/internal/errors"
	"github.com/curator-ai/curator/internal/events"
	"github.com/curator-ai/curator/internal/item"
	"github.com/curator-ai/curator/internal/orchestrator"
	"github.com/curator-ai/curator/internal/planner"
	"github.com/curator-ai/curator/internal/task"
)

// itemWorker performs one phase's work on one item. On success it has
// persisted the record with the phase flag set; on failure it returns
// the cause and leaves persistence to the outcome handler.
type itemWorker func(ctx context.Context, rec *item.Record) error

// itemOutcome reports one resolved work unit back to the collector.
type itemOutcome struct {
	id  string
	err error
	dur time.Duration
}

// runItemPhase executes one per-item phase: plan, dispatch batches to
// the runtime, fold outcomes into the store and the retry manager, and
// rerun items whose retry comes due within the run. Progress and retry
// events go out per outcome; stats fold in through the estimator's
// finalize.
func (e *Engine) runItemPhase(ctx context.Context, st *runState, phase item.Phase, queue task.Queue, worker itemWorker) *PhaseResult {
	res := &PhaseResult{}

	records, err := e.scopedRecords(st)
	if err != nil {
		res.Status = events.PhaseFailed
		res.Error = err.Error()
		return res
	}

	plan := planner.PlanPhase(phase, records, st.flags)
	res.Skipped = len(plan.AlreadyComplete)
	if plan.ShouldSkip() {
		res.Status = events.PhaseSkipped
		return res
	}

	total := len(plan.NeedsProcessing)
	e.estimator.Init(string(phase), total)
	defer func() {
		if err := e.estimator.Finalize(string(phase)); err != nil {
			e.logger.Warn("finalize estimate failed", "phase", phase, "error", err)
		}
	}()

	// outcomes holds the latest result per item across retry rounds.
	outcomes := make(map[string]error, total)
	processed := 0
	pending := plan.NeedsProcessing
	maxRounds := e.cfg.Retry.MaxRetries + 1

	for round := 0; len(pending) > 0 && round < maxRounds; round++ {
		if round > 0 {
			e.logger.Info("retrying failed items",
				"phase", phase, "round", round, "items", len(pending))
		}
		roundOut, cancelled := e.dispatchRound(ctx, st, phase, queue, pending, worker, &processed, total)
		for id, err := range roundOut {
			outcomes[id] = err
		}
		if cancelled || ctx.Err() != nil {
			res.Status = events.PhaseCancelled
			e.countOutcomes(res, outcomes)
			return res
		}
		pending = e.dueRetries(outcomes)
	}

	e.countOutcomes(res, outcomes)
	res.Deferred = len(e.dueLater(outcomes))
	if res.Attempted > 0 && res.Succeeded == 0 {
		res.Status = events.PhaseFailed
		res.Error = fmt.Sprintf("all %d items failed", res.Attempted)
		return res
	}
	res.Status = events.PhaseCompleted
	return res
}

// dispatchRound submits one round of batches and collects an outcome
// per item. Every dispatched item reports exactly once; items whose
// batch was cancelled report a cancel outcome and keep their records
// untouched. Run cancellation cancels the submitted tasks and returns
// the outcomes gathered so far.
func (e *Engine) dispatchRound(ctx context.Context, st *runState, phase item.Phase, queue task.Queue, ids []string, worker itemWorker, processed *int, total int) (map[string]error, bool) {
	out := make(map[string]error, len(ids))
	ch := make(chan itemOutcome, len(ids))

	batchSize := e.cfg.Pipeline.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}

	var taskIDs []string
	for _, batch := range chunkIDs(ids, batchSize) {
		taskID, err := e.runtime.Submit(orchestrator.Job{
			Type:        task.TypeItemBatch,
			Queue:       queue,
			Description: fmt.Sprintf("%s batch (%d items)", phase, len(batch)),
			Phase:       string(phase),
			ParentID:    st.taskID,
			Run:         e.batchJob(ctx, phase, batch, worker, ch),
		})
		if err != nil {
			// Runtime is shutting down; treat like a cancel.
			e.logger.Warn("batch submit failed", "phase", phase, "error", err)
			e.cancelTasks(taskIDs)
			return out, true
		}
		taskIDs = append(taskIDs, taskID)
	}

	for received := 0; received < len(ids); received++ {
		select {
		case o := <-ch:
			if o.err != nil && errors.Is(o.err, context.Canceled) {
				// Cancelled before or during the item; record untouched.
				continue
			}
			out[o.id] = o.err
			*processed++
			e.estimator.Update(string(phase), min(*processed, total), o.dur)
			e.handleOutcome(st, phase, o)
			e.progress(st, phase, min(*processed, total), total, o.id)
		case <-ctx.Done():
			e.cancelTasks(taskIDs)
			return out, true
		}
	}
	return out, false
}

// batchJob builds the runtime job for one batch. The job fans out over
// the batch with a bounded group and reports exactly one outcome per
// item, including a cancel outcome for items the job never got to.
// Cancelling either the run or the job stops it between items.
func (e *Engine) batchJob(runCtx context.Context, phase item.Phase, batch []string, worker itemWorker, ch chan<- itemOutcome) orchestrator.JobFunc {
	return func(jobCtx context.Context, h *orchestrator.Handle) (string, error) {
		ctx, cancel := context.WithCancel(jobCtx)
		defer cancel()
		stop := context.AfterFunc(runCtx, cancel)
		defer stop()

		g := &errgroup.Group{}
		g.SetLimit(e.maxConcurrent())
		var done atomic.Int64

		for _, id := range batch {
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					ch <- itemOutcome{id: id, err: err}
					return nil
				}
				start := time.Now()
				err := e.processOne(ctx, id, worker)
				ch <- itemOutcome{id: id, err: err, dur: time.Since(start)}
				h.SetProgress(int(done.Add(1)), len(batch), id)
				return nil
			})
		}
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return "", err
		}
		return fmt.Sprintf(`{"phase":%q,"items":%d}`, phase, done.Load()), nil
	}
}

// processOne loads the item fresh and hands it to the worker. Workers
// see the current record, not the snapshot the phase was planned from.
func (e *Engine) processOne(ctx context.Context, id string, worker itemWorker) error {
	rec, err := e.items.Get(id)
	if err != nil {
		return err
	}
	if rec == nil {
		return errors.ErrItemNotFound(id)
	}
	return worker(ctx, rec)
}

// handleOutcome folds one resolved item into the estimator, the store,
// and the retry manager. Successes clear stale retry state; failures
// annotate the record and schedule a retry when allowed.
func (e *Engine) handleOutcome(st *runState, phase item.Phase, o itemOutcome) {
	rec, err := e.items.Get(o.id)
	if err != nil {
		e.logger.Error("outcome readback failed", "item", o.id, "error", err)
		return
	}
	if rec == nil {
		// Deleted while the batch ran; do not recreate it.
		e.logger.Warn("outcome for missing item", "item", o.id, "phase", phase)
		return
	}

	if o.err == nil {
		if rec.RetryCount > 0 || rec.HasAnyError() {
			if _, err := e.items.Upsert(o.id, e.retries.Clear(o.id, rec)); err != nil {
				e.logger.Error("clear retry state failed", "item", o.id, "error", err)
			}
		}
		return
	}

	msg := o.err.Error()
	patch := phaseErrorPatch(phase, msg)
	if e.retries.ShouldRetry(o.id, rec, o.err) {
		rp := e.retries.ScheduleRetry(o.id, rec, phase, o.err)
		patch.RetryCount = rp.RetryCount
		patch.LastRetryAttempt = rp.LastRetryAttempt
		patch.NextRetryAfter = rp.NextRetryAfter
		patch.FailureType = rp.FailureType
		patch.RetryHistory = rp.RetryHistory
		if rp.RetryCount != nil && rp.FailureType != nil && rp.NextRetryAfter != nil {
			e.events.RetryScheduled(st.taskID, o.id, string(phase),
				*rp.RetryCount, *rp.FailureType, *rp.NextRetryAfter)
		}
	} else {
		e.logger.Warn("item parked", "item", o.id, "phase", phase, "error", msg)
	}
	if _, err := e.items.Upsert(o.id, patch); err != nil {
		e.logger.Error("record failure annotation failed", "item", o.id, "error", err)
	}
	e.events.Log(st.taskID, "error", "pipeline",
		fmt.Sprintf("%s failed for item %s: %s", phase, o.id, msg))
}

// progress publishes the phase's per-item progress.
func (e *Engine) progress(st *runState, phase item.Phase, processed, total int, itemID string) {
	frac := 0.0
	if total > 0 {
		frac = float64(processed) / float64(total)
	}
	e.events.Progress(st.taskID, frac, string(phase),
		fmt.Sprintf("%d/%d (%s)", processed, total, itemID))
}

// dueRetries returns the failed items whose retry is already due, for
// the next in-run round.
func (e *Engine) dueRetries(outcomes map[string]error) []string {
	failed := e.failedRecords(outcomes)
	if len(failed) == 0 {
		return nil
	}
	return e.retries.GetRetryable(failed)
}

// dueLater returns the failed items that are scheduled for a retry
// beyond this run.
func (e *Engine) dueLater(outcomes map[string]error) []string {
	now := time.Now()
	var ids []string
	for id, rec := range e.failedRecords(outcomes) {
		if !e.retries.ShouldRetry(id, rec, nil) {
			continue
		}
		if rec.NextRetryAfter != nil && rec.NextRetryAfter.After(now) {
			ids = append(ids, id)
		}
	}
	return ids
}

// failedRecords loads the current records for items whose latest
// outcome was a failure.
func (e *Engine) failedRecords(outcomes map[string]error) map[string]*item.Record {
	var ids []string
	for id, err := range outcomes {
		if err != nil {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	records, err := e.items.GetMany(ids)
	if err != nil {
		e.logger.Error("load failed items", "error", err)
		return nil
	}
	return records
}

// countOutcomes fills the attempted/succeeded/failed counters from the
// final per-item outcomes.
func (e *Engine) countOutcomes(res *PhaseResult, outcomes map[string]error) {
	res.Attempted = len(outcomes)
	for _, err := range outcomes {
		if err == nil {
			res.Succeeded++
		} else {
			res.Failed++
		}
	}
}

// cancelTasks cancels submitted batch tasks that are still pending or
// running.
func (e *Engine) cancelTasks(taskIDs []string) {
	for _, id := range taskIDs {
		e.runtime.Cancel(id)
	}
}

// maxConcurrent is the bounded fan-out inside one batch job.
func (e *Engine) maxConcurrent() int {
	if n := e.cfg.Pipeline.MaxConcurrent; n > 0 {
		return n
	}
	return 4
}

// phaseErrorPatch builds the patch annotating one phase's failure.
// Setting the error also forces the phase flag false.
func phaseErrorPatch(phase item.Phase, msg string) item.Patch {
	patch := item.Patch{}
	switch phase {
	case item.PhaseCache:
		patch.CacheError = &msg
	case item.PhaseMedia:
		patch.MediaError = &msg
	case item.PhaseLLM:
		patch.LLMError = &msg
	case item.PhaseKBItem:
		patch.KBItemError = &msg
	case item.PhaseDBSync:
		patch.DBSyncError = &msg
	}
	return patch
}

// chunkIDs splits ids into batches of at most size.
func chunkIDs(ids []string, size int) [][]string {
	var out [][]string
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}
