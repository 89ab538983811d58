package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/curator-ai/curator/internal/config"
	"github.com/curator-ai/curator/internal/db"
	"github.com/curator-ai/curator/internal/errors"
	"github.com/curator-ai/curator/internal/events"
	"github.com/curator-ai/curator/internal/item"
	"github.com/curator-ai/curator/internal/model"
	"github.com/curator-ai/curator/internal/planner"
)

// Pipeline phase identifiers. The per-item phases reuse the item store's
// phase names so estimator and stats keys line up with record flags; the
// run-level steps get their own ids.
const (
	PhaseInitialization = "initialization"
	PhaseReadme         = "readme_generation"
	PhaseGitSync        = "git_sync"
)

// StatusBlocked marks a phase that never ran because an upstream phase
// tripped the failure gate. The event stream reports these as skipped;
// the run summary keeps the distinction.
const StatusBlocked = "blocked"

// PhaseResult is the outcome of one phase within a run.
type PhaseResult struct {
	Phase  string `json:"phase"`
	Name   string `json:"name"`
	Status string `json:"status"`

	// Attempted counts work units dispatched: items for per-item
	// phases, categories or documents for the global ones.
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`

	// Skipped counts items the planner found already complete.
	Skipped int `json:"skipped"`

	// Deferred counts failed items whose retry is scheduled beyond this
	// run. They are included in Failed.
	Deferred int `json:"deferred,omitempty"`

	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// RunSummary is the terminal report of one pipeline run.
type RunSummary struct {
	TaskID     string        `json:"task_id"`
	Success    bool          `json:"success"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`

	ItemsIngested  int `json:"items_ingested"`
	KBItemsCreated int `json:"kb_items_created"`

	Phases []PhaseResult `json:"phases"`
	Error  string        `json:"error,omitempty"`
}

// Results flattens the per-phase counters into the map shape the
// run-completed event carries.
func (s *RunSummary) Results() map[string]any {
	out := map[string]any{
		"items_ingested":   s.ItemsIngested,
		"kb_items_created": s.KBItemsCreated,
	}
	for _, p := range s.Phases {
		out[p.Phase] = map[string]any{
			"status":    p.Status,
			"attempted": p.Attempted,
			"succeeded": p.Succeeded,
			"failed":    p.Failed,
			"skipped":   p.Skipped,
		}
	}
	return out
}

// runState carries the mutable run context between phases.
type runState struct {
	taskID string
	prefs  config.RunPreferences
	flags  planner.ForceFlags

	ingested         int
	kbCreated        int
	synthesisWritten int

	// gated holds phases that tripped the failure gate or were blocked
	// behind one; their dependents must not run.
	gated map[string]bool
}

// phaseStep is one entry of the run's phase table.
type phaseStep struct {
	id    string
	name  string
	after []string
	run   func(ctx context.Context, st *runState) *PhaseResult
}

// Run executes the configured phase sequence and returns its summary.
// taskID names the run task events are attributed to. A cancelled run
// returns the partial summary alongside a run-cancelled error; phase
// failures are reported in the summary, not as an error, unless
// initialization itself fails.
func (e *Engine) Run(ctx context.Context, taskID string, prefs config.RunPreferences) (*RunSummary, error) {
	started := time.Now().UTC()
	summary := &RunSummary{TaskID: taskID, StartedAt: started}
	finish := func() {
		summary.FinishedAt = time.Now().UTC()
		summary.Duration = summary.FinishedAt.Sub(summary.StartedAt)
	}

	st := &runState{
		taskID: taskID,
		prefs:  prefs,
		flags:  forceFlags(prefs),
		gated:  make(map[string]bool),
	}

	if res := e.initialize(ctx, st); res != nil {
		summary.Phases = append(summary.Phases, *res)
		if res.Status != events.PhaseCompleted {
			finish()
			summary.Error = res.Error
			return summary, errors.ErrPermanentFailure("pipeline initialization",
				fmt.Errorf("%s", res.Error))
		}
	}

	for _, step := range e.phaseSteps(st) {
		if ctx.Err() != nil {
			finish()
			summary.Error = "run cancelled"
			return summary, errors.ErrRunCancelled("pipeline run")
		}

		if blockedBy := e.blockedBy(st, step); blockedBy != "" {
			st.gated[step.id] = true
			e.events.PhaseSkipped(taskID, step.id, step.name)
			e.logger.Warn("phase blocked by upstream failure",
				"phase", step.id, "blocked_by", blockedBy)
			summary.Phases = append(summary.Phases, PhaseResult{
				Phase: step.id, Name: step.name, Status: StatusBlocked,
			})
			continue
		}

		res := e.executeStep(ctx, st, step)
		summary.Phases = append(summary.Phases, *res)

		if res.Status == events.PhaseCancelled {
			finish()
			summary.Error = "run cancelled"
			return summary, errors.ErrRunCancelled("pipeline run")
		}
		if e.gateTripped(res) {
			st.gated[step.id] = true
			e.logger.Warn("failure gate tripped",
				"phase", step.id, "attempted", res.Attempted, "failed", res.Failed)
		}
	}

	finish()
	summary.Success = true
	for _, p := range summary.Phases {
		if p.Status == events.PhaseFailed || p.Status == StatusBlocked {
			summary.Success = false
		}
	}
	summary.ItemsIngested = st.ingested
	summary.KBItemsCreated = st.kbCreated
	return summary, nil
}

// initialize is the run's first phase: validate the requested mode,
// verify storage, reset run-scoped flags, and resolve the routes the
// run cannot proceed without. Any failure here aborts the run.
func (e *Engine) initialize(ctx context.Context, st *runState) *PhaseResult {
	started := time.Now()
	res := &PhaseResult{Phase: PhaseInitialization, Name: "Initialization", Status: events.PhaseCompleted}
	e.events.PhaseStart(st.taskID, PhaseInitialization, res.Name)

	fail := func(err error) *PhaseResult {
		res.Status = events.PhaseFailed
		res.Error = err.Error()
		res.Duration = time.Since(started)
		e.events.PhaseFailed(st.taskID, PhaseInitialization, res.Name, err)
		return res
	}

	if !config.IsValidRunMode(st.prefs.RunMode) {
		return fail(errors.ErrConfigInvalid("run_mode", "unknown mode "+st.prefs.RunMode))
	}
	if err := e.db.Ping(ctx); err != nil {
		return fail(errors.ErrStorageFailed("ping database", err))
	}
	if err := e.items.ClearRuntimeFlags(st.prefs.ItemIDs...); err != nil {
		return fail(err)
	}
	for _, mp := range e.requiredRoutes(st.prefs) {
		if _, err := e.resolvePhase(st.prefs, mp); err != nil {
			return fail(err)
		}
	}

	res.Duration = time.Since(started)
	e.events.PhaseComplete(st.taskID, PhaseInitialization, res.Name)
	return res
}

// requiredRoutes lists the inference routes that must resolve before
// the run starts. Vision is deliberately absent: items without media
// never need it, so it resolves lazily at the media phase.
func (e *Engine) requiredRoutes(prefs config.RunPreferences) []model.Phase {
	switch prefs.RunMode {
	case config.RunModeSynthesisOnly:
		return []model.Phase{model.PhaseSynthesis}
	case config.RunModeEmbeddingOnly:
		return []model.Phase{model.PhaseEmbedding}
	case config.RunModeReadmeOnly:
		return nil // readme degrades to the deterministic index
	}
	if prefs.SkipProcessContent {
		return nil
	}
	return []model.Phase{model.PhaseKBGeneration}
}

// phaseSteps builds the run's phase table from the mode and skip flags.
func (e *Engine) phaseSteps(st *runState) []phaseStep {
	switch st.prefs.RunMode {
	case config.RunModeSynthesisOnly:
		st.flags.RegenerateSynthesis = true
		return []phaseStep{e.synthesisStep()}
	case config.RunModeEmbeddingOnly:
		st.flags.RegenerateEmbeddings = true
		return []phaseStep{e.embeddingStep()}
	case config.RunModeReadmeOnly:
		return []phaseStep{e.readmeStep(true)}
	}

	steps := []phaseStep{e.fetchStep()}
	if !st.prefs.SkipProcessContent {
		steps = append(steps,
			e.mediaStep(),
			e.understandStep(),
			e.kbItemStep(),
			e.dbSyncStep(),
		)
	}
	if !st.prefs.SkipSynthesis {
		steps = append(steps, e.synthesisStep())
	}
	if !st.prefs.SkipEmbedding {
		steps = append(steps, e.embeddingStep())
	}
	if !st.prefs.SkipReadme {
		steps = append(steps, e.readmeStep(st.prefs.ForceRegenerateReadme))
	}
	if !st.prefs.SkipGitSync {
		steps = append(steps, e.gitSyncStep())
	}
	return steps
}

// executeStep runs one phase with its event envelope.
func (e *Engine) executeStep(ctx context.Context, st *runState, step phaseStep) *PhaseResult {
	started := time.Now()
	e.events.PhaseStart(st.taskID, step.id, step.name)

	res := step.run(ctx, st)
	res.Phase = step.id
	res.Name = step.name
	res.Duration = time.Since(started)

	switch res.Status {
	case events.PhaseSkipped:
		e.events.PhaseSkipped(st.taskID, step.id, step.name)
	case events.PhaseCancelled:
		e.events.PhaseCancelled(st.taskID, step.id, step.name)
	case events.PhaseFailed:
		e.events.PhaseFailed(st.taskID, step.id, step.name, fmt.Errorf("%s", res.Error))
	default:
		res.Status = events.PhaseCompleted
		e.events.PhaseComplete(st.taskID, step.id, step.name)
	}

	// Item phases feed the estimator per outcome; the inline phases only
	// have their step-level totals to record.
	if step.id == PhaseReadme || step.id == PhaseGitSync {
		if err := e.stats.Record(step.id, res.Attempted, res.Duration); err != nil {
			e.logger.Warn("record phase stats failed", "phase", step.id, "error", err)
		}
	}

	e.logger.Info("phase finished",
		"phase", step.id,
		"status", res.Status,
		"attempted", res.Attempted,
		"succeeded", res.Succeeded,
		"failed", res.Failed,
		"duration", res.Duration)
	return res
}

// blockedBy returns the first gated dependency of the step, or "".
func (e *Engine) blockedBy(st *runState, step phaseStep) string {
	for _, dep := range step.after {
		if st.gated[dep] {
			return dep
		}
	}
	return ""
}

// gateTripped applies the failure-rate gate: a failed phase always
// gates its dependents; a completed per-item phase gates them when the
// failure fraction exceeds the configured threshold over a large
// enough sample.
func (e *Engine) gateTripped(res *PhaseResult) bool {
	if res.Status == events.PhaseFailed {
		return true
	}
	pc := e.cfg.Pipeline
	if pc.FailureRateThreshold >= 1 || res.Attempted == 0 {
		return false
	}
	if res.Attempted < pc.FailureRateMinItems {
		return false
	}
	return float64(res.Failed)/float64(res.Attempted) > pc.FailureRateThreshold
}

// forceFlags maps run preferences onto planner force flags.
func forceFlags(prefs config.RunPreferences) planner.ForceFlags {
	return planner.ForceFlags{
		RecacheItems:         prefs.ForceRecacheItems,
		ReprocessMedia:       prefs.ForceReprocessMedia,
		ReprocessLLM:         prefs.ForceReprocessLLM,
		ReprocessKBItem:      prefs.ForceReprocessKBItem,
		RegenerateSynthesis:  prefs.ForceRegenerateSynthesis,
		RegenerateEmbeddings: prefs.ForceRegenerateEmbeddings,
	}
}

// scopedRecords returns the run's item population: the named ids when
// the run is scoped, every record otherwise. Ids with no record are
// absent from the result, so scoped runs simply skip unknown items.
func (e *Engine) scopedRecords(st *runState) (map[string]*item.Record, error) {
	if len(st.prefs.ItemIDs) > 0 {
		return e.items.GetMany(st.prefs.ItemIDs)
	}
	records, err := e.items.List(db.ItemFilter{})
	if err != nil {
		return nil, err
	}
	out := make(map[string]*item.Record, len(records))
	for _, rec := range records {
		out[rec.ItemID] = rec
	}
	return out, nil
}
