package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/curator-ai/curator/internal/db"
	"github.com/curator-ai/curator/internal/errors"
	"github.com/curator-ai/curator/internal/events"
	"github.com/curator-ai/curator/internal/item"
	"github.com/curator-ai/curator/internal/kb"
	"github.com/curator-ai/curator/internal/model"
	"github.com/curator-ai/curator/internal/orchestrator"
	"github.com/curator-ai/curator/internal/task"
)

const synthesisPrompt = `You write a digest for one category of a personal knowledge base.
Identify the recurring themes across the items, connect related ones, and call out the most
useful references. Markdown with an H1 naming the category; output only the document body.`

const readmePrompt = `You write the overview at the top of a personal knowledge base index.
Summarize what the collection covers in at most two short paragraphs. Output only the
overview text.`

// synthesisExcerptRunes caps each item's contribution to the synthesis
// prompt.
const synthesisExcerptRunes = 1500

// globalUnit is one work unit of a global phase: a category digest or
// one document's embeddings. run reports whether it wrote anything.
type globalUnit struct {
	name string
	run  func(ctx context.Context) (bool, error)
}

// synthesisStep rebuilds the per-category digests. It runs when the run
// created new kb items or when regeneration was forced.
func (e *Engine) synthesisStep() phaseStep {
	return phaseStep{
		id:    string(item.PhaseSynthesis),
		name:  "Synthesis",
		after: []string{string(item.PhaseDBSync)},
		run:   e.runSynthesis,
	}
}

func (e *Engine) runSynthesis(ctx context.Context, st *runState) *PhaseResult {
	res := &PhaseResult{}
	if !st.flags.RegenerateSynthesis && st.kbCreated == 0 {
		res.Status = events.PhaseSkipped
		return res
	}

	mres, err := e.resolvePhase(st.prefs, model.PhaseSynthesis)
	if err != nil {
		res.Status = events.PhaseFailed
		res.Error = err.Error()
		return res
	}

	groups, err := e.categoryGroups()
	if err != nil {
		res.Status = events.PhaseFailed
		res.Error = err.Error()
		return res
	}

	minItems := e.cfg.Pipeline.SynthesisMinItems
	if minItems < 1 {
		minItems = 1
	}
	var cats []string
	for cat, group := range groups {
		if len(group) >= minItems {
			cats = append(cats, cat)
		}
	}
	sort.Strings(cats)
	if len(cats) == 0 {
		res.Status = events.PhaseSkipped
		return res
	}

	units := make([]globalUnit, 0, len(cats))
	for _, cat := range cats {
		group := groups[cat]
		units = append(units, globalUnit{name: cat, run: func(ctx context.Context) (bool, error) {
			return e.synthesizeCategory(ctx, mres, cat, group)
		}})
	}
	written, r := e.runGlobalPhase(ctx, st, string(item.PhaseSynthesis),
		fmt.Sprintf("synthesis (%d categories)", len(units)), units)
	st.synthesisWritten = written
	return r
}

// categoryGroups collects the items eligible for synthesis, grouped by
// main category. Only items with a created kb document participate.
func (e *Engine) categoryGroups() (map[string][]*item.Record, error) {
	records, err := e.items.List(db.ItemFilter{KBItemCreated: item.BoolPtr(true)})
	if err != nil {
		return nil, err
	}
	groups := make(map[string][]*item.Record)
	for _, rec := range records {
		if rec.MainCategory == "" {
			continue
		}
		groups[rec.MainCategory] = append(groups[rec.MainCategory], rec)
	}
	return groups, nil
}

// synthesizeCategory writes one category digest. Unchanged digests do
// not count as writes.
func (e *Engine) synthesizeCategory(ctx context.Context, mres *model.Resolution, category string, group []*item.Record) (bool, error) {
	callCtx, cancel := e.textCtx(ctx)
	defer cancel()

	req := model.Request{
		Messages: []model.Message{
			{Role: model.RoleSystem, Text: synthesisPrompt},
			{Role: model.RoleUser, Text: synthesisInput(category, group)},
		},
	}
	resp, err := e.complete(callCtx, model.PhaseSynthesis, mres, req)
	if err != nil {
		return false, err
	}
	body := strings.TrimSpace(resp.Text)
	if body == "" {
		return false, errors.ErrDataInvalid("synthesis for "+category,
			fmt.Errorf("empty model response"))
	}

	_, changed, err := e.writer.WriteSynthesis(category, body, len(group))
	return changed, err
}

// synthesisInput lists the category's items, in stable order so an
// unchanged category produces an unchanged prompt.
func synthesisInput(category string, group []*item.Record) string {
	sorted := append([]*item.Record(nil), group...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ItemID < sorted[j].ItemID })

	var b strings.Builder
	fmt.Fprintf(&b, "Category: %s\nItems: %d\n\n", category, len(sorted))
	for _, rec := range sorted {
		name := rec.ItemNameSuggestion
		if name == "" {
			name = rec.DisplayTitle
		}
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", name, excerpt(rec.FullText, synthesisExcerptRunes))
	}
	return b.String()
}

// embeddingStep indexes kb documents that have no stored vectors yet.
// Documents regenerated this run were invalidated by db_sync, so they
// land on the worklist without any force flag.
func (e *Engine) embeddingStep() phaseStep {
	return phaseStep{
		id:    string(item.PhaseEmbedding),
		name:  "Embedding generation",
		after: []string{string(item.PhaseDBSync)},
		run:   e.runEmbedding,
	}
}

func (e *Engine) runEmbedding(ctx context.Context, st *runState) *PhaseResult {
	res := &PhaseResult{}

	entries, err := e.writer.ScanItems()
	if err != nil {
		res.Status = events.PhaseFailed
		res.Error = err.Error()
		return res
	}

	worklist := entries
	if !st.flags.RegenerateEmbeddings {
		have, err := e.db.EmbeddedPaths()
		if err != nil {
			res.Status = events.PhaseFailed
			res.Error = err.Error()
			return res
		}
		worklist = nil
		for _, en := range entries {
			if !have[en.Path] {
				worklist = append(worklist, en)
			}
		}
	}
	if len(worklist) == 0 {
		res.Status = events.PhaseSkipped
		return res
	}

	mres, err := e.resolvePhase(st.prefs, model.PhaseEmbedding)
	if err != nil {
		res.Status = events.PhaseFailed
		res.Error = err.Error()
		return res
	}

	units := make([]globalUnit, 0, len(worklist))
	for _, en := range worklist {
		units = append(units, globalUnit{name: en.Path, run: func(ctx context.Context) (bool, error) {
			return e.embedDocument(ctx, mres, en.Path)
		}})
	}
	_, r := e.runGlobalPhase(ctx, st, string(item.PhaseEmbedding),
		fmt.Sprintf("embeddings (%d documents)", len(units)), units)
	return r
}

// embedDocument chunks one document and stores one vector per chunk. Old
// vectors are replaced only after the new ones arrive, so a failed call
// keeps the previous index coverage.
func (e *Engine) embedDocument(ctx context.Context, mres *model.Resolution, relPath string) (bool, error) {
	_, body, err := e.writer.ReadDocument(relPath)
	if err != nil {
		return false, err
	}
	chunks := kb.ChunkText(body, kb.DefaultChunkRunes, kb.DefaultChunkOverlap)
	if len(chunks) == 0 {
		err := e.db.DeleteEmbeddings(relPath)
		return false, err
	}

	callCtx, cancel := e.textCtx(ctx)
	defer cancel()
	eres, err := e.embed(callCtx, mres, chunks)
	if err != nil {
		return false, err
	}
	if len(eres.Vectors) != len(chunks) {
		return false, errors.ErrDataInvalid("embeddings for "+relPath,
			fmt.Errorf("%d vectors for %d chunks", len(eres.Vectors), len(chunks)))
	}

	if err := e.db.DeleteEmbeddings(relPath); err != nil {
		return false, err
	}
	for i, vec := range eres.Vectors {
		emb := &db.Embedding{
			KBItemPath: relPath,
			ChunkIndex: i,
			ChunkText:  chunks[i],
			Model:      eres.Model,
			Dims:       len(vec),
			Vector:     vec,
		}
		if err := e.db.UpsertEmbedding(emb); err != nil {
			// Drop the partial set so the next run redoes the document.
			_ = e.db.DeleteEmbeddings(relPath)
			return false, err
		}
	}
	return true, nil
}

// embed issues one embedding call through the resolved route, walking
// the phase's fallback chain on failure.
func (e *Engine) embed(ctx context.Context, mres *model.Resolution, texts []string) (*model.EmbedResponse, error) {
	attempt := func(r *model.Resolution) (*model.EmbedResponse, error) {
		return r.Backend.Embed(ctx, model.EmbedRequest{Model: r.Model, Texts: texts})
	}

	out, err := attempt(mres)
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	for _, fb := range e.router.Fallbacks(model.PhaseEmbedding) {
		e.logger.Warn("walking model fallback",
			"phase", model.PhaseEmbedding, "backend", fb.Backend.Name(), "model", fb.Model, "cause", err)
		out, err = attempt(fb)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, err
}

// readmeStep rebuilds the root index document.
func (e *Engine) readmeStep(force bool) phaseStep {
	return phaseStep{
		id:   PhaseReadme,
		name: "Readme generation",
		run: func(ctx context.Context, st *runState) *PhaseResult {
			return e.runReadme(ctx, st, force)
		},
	}
}

// runReadme regenerates the root index when the tree changed this run or
// when forced. The AI overview is optional: with no readme route or a
// failed call, the deterministic tree index is written without one.
func (e *Engine) runReadme(ctx context.Context, st *runState, force bool) *PhaseResult {
	res := &PhaseResult{}
	if !force && st.kbCreated == 0 && st.synthesisWritten == 0 {
		res.Status = events.PhaseSkipped
		return res
	}

	entries, err := e.writer.ScanItems()
	if err != nil {
		res.Status = events.PhaseFailed
		res.Error = err.Error()
		return res
	}

	res.Attempted = 1
	overview := e.readmeOverview(ctx, st, entries)
	content := kb.RenderIndex(entries, overview, time.Now())
	if _, err := e.writer.WriteReadme(content); err != nil {
		res.Failed = 1
		res.Status = events.PhaseFailed
		res.Error = err.Error()
		return res
	}
	res.Succeeded = 1
	res.Status = events.PhaseCompleted
	return res
}

// readmeOverview asks the readme route for the index overview, returning
// "" when no route resolves or the call fails.
func (e *Engine) readmeOverview(ctx context.Context, st *runState, entries []kb.IndexEntry) string {
	if len(entries) == 0 {
		return ""
	}
	mres, err := e.resolvePhase(st.prefs, model.PhaseReadmeGeneration)
	if err != nil {
		e.logger.Warn("readme overview skipped", "error", err)
		return ""
	}

	callCtx, cancel := e.textCtx(ctx)
	defer cancel()

	req := model.Request{
		Messages: []model.Message{
			{Role: model.RoleSystem, Text: readmePrompt},
			{Role: model.RoleUser, Text: readmeInput(entries)},
		},
	}
	resp, err := e.complete(callCtx, model.PhaseReadmeGeneration, mres, req)
	if err != nil {
		e.logger.Warn("readme overview skipped", "error", err)
		return ""
	}
	return strings.TrimSpace(resp.Text)
}

// readmeInput summarizes the tree shape for the overview call.
func readmeInput(entries []kb.IndexEntry) string {
	counts := make(map[string]int)
	for _, en := range entries {
		cat := en.MainCategory
		if cat == "" {
			cat = "uncategorized"
		}
		counts[cat]++
	}
	cats := make([]string, 0, len(counts))
	for cat := range counts {
		cats = append(cats, cat)
	}
	sort.Strings(cats)

	var b strings.Builder
	fmt.Fprintf(&b, "The knowledge base has %d items in %d categories:\n", len(entries), len(cats))
	for _, cat := range cats {
		fmt.Fprintf(&b, "- %s: %d items\n", cat, counts[cat])
	}
	return b.String()
}

// gitSyncStep hands the finished tree to the configured exporter.
func (e *Engine) gitSyncStep() phaseStep {
	return phaseStep{
		id:   PhaseGitSync,
		name: "Git sync",
		run: func(ctx context.Context, st *runState) *PhaseResult {
			res := &PhaseResult{}
			if e.syncer == nil {
				res.Status = events.PhaseSkipped
				return res
			}

			res.Attempted = 1
			msg := fmt.Sprintf("curator: %d kb items, %d synthesis docs (%s)",
				st.kbCreated, st.synthesisWritten, time.Now().UTC().Format("2006-01-02 15:04"))
			if err := e.syncer.Sync(ctx, msg); err != nil {
				res.Failed = 1
				res.Status = events.PhaseFailed
				res.Error = err.Error()
				return res
			}
			res.Succeeded = 1
			res.Status = events.PhaseCompleted
			return res
		},
	}
}

// runGlobalPhase executes a global phase as one task on the synthesis
// queue, one unit at a time, mirroring the per-item outcome plumbing:
// progress and estimator updates per unit, log events for failures. It
// returns the number of units that reported a write.
func (e *Engine) runGlobalPhase(ctx context.Context, st *runState, phase, desc string, units []globalUnit) (int, *PhaseResult) {
	res := &PhaseResult{}
	total := len(units)

	e.estimator.Init(phase, total)
	defer func() {
		if err := e.estimator.Finalize(phase); err != nil {
			e.logger.Warn("finalize estimate failed", "phase", phase, "error", err)
		}
	}()

	type outcome struct {
		name    string
		written bool
		err     error
		dur     time.Duration
	}
	ch := make(chan outcome, total)

	taskID, err := e.runtime.Submit(orchestrator.Job{
		Type:        task.TypePhaseExecution,
		Queue:       task.QueueSynthesis,
		Description: desc,
		Phase:       phase,
		ParentID:    st.taskID,
		Run: func(jobCtx context.Context, h *orchestrator.Handle) (string, error) {
			runCtx, cancel := context.WithCancel(jobCtx)
			defer cancel()
			stop := context.AfterFunc(ctx, cancel)
			defer stop()

			done := 0
			for _, u := range units {
				if err := runCtx.Err(); err != nil {
					ch <- outcome{name: u.name, err: err}
					continue
				}
				start := time.Now()
				written, err := u.run(runCtx)
				ch <- outcome{name: u.name, written: written, err: err, dur: time.Since(start)}
				done++
				h.SetProgress(done, total, u.name)
			}
			if err := runCtx.Err(); err != nil {
				return "", err
			}
			return fmt.Sprintf(`{"phase":%q,"units":%d}`, phase, done), nil
		},
	})
	if err != nil {
		res.Status = events.PhaseFailed
		res.Error = err.Error()
		return 0, res
	}

	written := 0
	processed := 0
	for received := 0; received < total; received++ {
		select {
		case o := <-ch:
			if o.err != nil && errors.Is(o.err, context.Canceled) {
				continue
			}
			processed++
			res.Attempted++
			if o.err != nil {
				res.Failed++
				e.logger.Warn("global phase unit failed",
					"phase", phase, "unit", o.name, "error", o.err)
				e.events.Log(st.taskID, "error", "pipeline",
					fmt.Sprintf("%s failed for %s: %s", phase, o.name, o.err))
			} else {
				res.Succeeded++
				if o.written {
					written++
				}
			}
			e.estimator.Update(phase, processed, o.dur)
			e.progress(st, item.Phase(phase), processed, total, o.name)
		case <-ctx.Done():
			e.runtime.Cancel(taskID)
			res.Status = events.PhaseCancelled
			return written, res
		}
	}

	if ctx.Err() != nil {
		res.Status = events.PhaseCancelled
		return written, res
	}
	if res.Attempted > 0 && res.Succeeded == 0 {
		res.Status = events.PhaseFailed
		res.Error = fmt.Sprintf("all %d units failed", res.Attempted)
		return written, res
	}
	res.Status = events.PhaseCompleted
	return written, res
}

// excerpt caps s to n runes on a rune boundary.
func excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return strings.TrimSpace(string(runes[:n])) + "..."
}
