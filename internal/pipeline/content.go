package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/curator-ai/curator/internal/errors"
	"github.com/curator-ai/curator/internal/events"
	"github.com/curator-ai/curator/internal/item"
	"github.com/curator-ai/curator/internal/model"
	"github.com/curator-ai/curator/internal/task"
)

const visionPrompt = `You describe images attached to bookmarked posts for a personal knowledge base.
State what the image shows: the subject, any visible text, code, charts, or diagrams.
Plain prose, no preamble.`

const categorizePrompt = `You organize a personal knowledge base built from bookmarked posts.
Categorize the item into a main category and a sub category (short, reusable, lowercase topic names)
and propose a concise item name. Respond with a single JSON object:
{"main_category": "...", "sub_category": "...", "item_name": "...", "tags": ["..."]}`

const kbItemPrompt = `You write knowledge-base documents from bookmarked posts.
Write a markdown document that starts with an H1 naming the item, explains what it is and
why it is worth keeping, and preserves code, commands, and technical detail verbatim.
No front matter and no meta commentary; output only the document body.`

// categoriesSchema constrains the categorization call's output.
const categoriesSchema = `{
	"type": "object",
	"required": ["main_category", "sub_category", "item_name"],
	"additionalProperties": false,
	"properties": {
		"main_category": {"type": "string", "minLength": 1},
		"sub_category": {"type": "string", "minLength": 1},
		"item_name": {"type": "string", "minLength": 1},
		"tags": {"type": "array", "items": {"type": "string"}, "maxItems": 10}
	}
}`

// mediaStep describes every cached media attachment through the vision
// route. Vision resolves here rather than at initialization: items
// without media never need it, and a text-only corpus must run without a
// vision backend.
func (e *Engine) mediaStep() phaseStep {
	return phaseStep{
		id:    string(item.PhaseMedia),
		name:  "Media analysis",
		after: []string{string(item.PhaseCache)},
		run: func(ctx context.Context, st *runState) *PhaseResult {
			vis, visErr := e.resolvePhase(st.prefs, model.PhaseVision)
			if visErr != nil {
				e.logger.Warn("vision route unavailable, image items will fail", "error", visErr)
			}
			worker := func(ctx context.Context, rec *item.Record) error {
				return e.analyzeMedia(ctx, vis, visErr, rec)
			}
			return e.runItemPhase(ctx, st, item.PhaseMedia, task.QueueAIProcessing, worker)
		},
	}
}

// analyzeMedia fills in a description for each image attachment. Videos
// and other non-image media keep their source alt text. An item without
// media completes trivially.
func (e *Engine) analyzeMedia(ctx context.Context, vis *model.Resolution, visErr error, rec *item.Record) error {
	refs := append([]item.MediaRef(nil), rec.MediaRefs...)
	for i := range refs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if refs[i].LocalPath == "" {
			return errors.ErrDataInvalid("media for item "+rec.ItemID,
				fmt.Errorf("ref %d has no cached file", i))
		}
		data, err := os.ReadFile(refs[i].LocalPath)
		if err != nil {
			return errors.ErrStorageFailed("read cached media for item "+rec.ItemID, err)
		}
		mediaType := http.DetectContentType(data)
		if !strings.HasPrefix(mediaType, "image/") {
			continue
		}
		if visErr != nil {
			return visErr
		}
		desc, err := e.describeImage(ctx, vis, data, mediaType)
		if err != nil {
			return err
		}
		refs[i].AltText = desc
	}

	patch := item.Patch{
		MediaRefs:             &refs,
		MediaProcessed:        item.BoolPtr(true),
		MediaSucceededThisRun: item.BoolPtr(true),
	}
	_, err := e.items.Upsert(rec.ItemID, patch)
	return err
}

// describeImage runs one vision completion for one attachment.
func (e *Engine) describeImage(ctx context.Context, vis *model.Resolution, data []byte, mediaType string) (string, error) {
	callCtx, cancel := e.visionCtx(ctx)
	defer cancel()

	req := model.Request{
		Messages: []model.Message{
			{Role: model.RoleSystem, Text: visionPrompt},
			{
				Role:   model.RoleUser,
				Text:   "Describe this image.",
				Images: []model.Image{{MediaType: mediaType, Data: data}},
			},
		},
	}
	resp, err := e.complete(callCtx, model.PhaseVision, vis, req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

// understandStep categorizes every cached item with a schema-validated
// completion. The whole phase fails up front when the route cannot
// resolve, since every item would fail the same way.
func (e *Engine) understandStep() phaseStep {
	return phaseStep{
		id:    string(item.PhaseLLM),
		name:  "Content understanding",
		after: []string{string(item.PhaseMedia)},
		run: func(ctx context.Context, st *runState) *PhaseResult {
			res, err := e.resolvePhase(st.prefs, model.PhaseKBGeneration)
			if err != nil {
				return &PhaseResult{Status: events.PhaseFailed, Error: err.Error()}
			}
			worker := func(ctx context.Context, rec *item.Record) error {
				return e.categorizeItem(ctx, res, rec)
			}
			return e.runItemPhase(ctx, st, item.PhaseLLM, task.QueueAIProcessing, worker)
		},
	}
}

// categorizeItem asks the model for the item's place in the tree and
// persists the validated result.
func (e *Engine) categorizeItem(ctx context.Context, res *model.Resolution, rec *item.Record) error {
	content := contentView(rec)
	if content == "" {
		return errors.ErrDataInvalid("item "+rec.ItemID, fmt.Errorf("nothing to categorize"))
	}

	callCtx, cancel := e.textCtx(ctx)
	defer cancel()

	req := model.Request{
		Messages: []model.Message{
			{Role: model.RoleSystem, Text: categorizePrompt},
			{Role: model.RoleUser, Text: content},
		},
	}
	sr, err := completeSchema[item.Categories](callCtx, e, model.PhaseKBGeneration, res, req, []byte(categoriesSchema))
	if err != nil {
		return err
	}

	cats := sr.Data
	cats.MainCategory = strings.TrimSpace(cats.MainCategory)
	cats.SubCategory = strings.TrimSpace(cats.SubCategory)
	cats.ItemName = strings.TrimSpace(cats.ItemName)
	if cats.MainCategory == "" || cats.ItemName == "" {
		return errors.ErrDataInvalid("categorization for item "+rec.ItemID,
			fmt.Errorf("model returned blank category fields"))
	}

	patch := item.Patch{
		MainCategory:        item.StringPtr(cats.MainCategory),
		SubCategory:         item.StringPtr(cats.SubCategory),
		ItemNameSuggestion:  item.StringPtr(cats.ItemName),
		Categories:          &cats,
		CategoriesProcessed: item.BoolPtr(true),
		LLMSucceededThisRun: item.BoolPtr(true),
	}
	_, err = e.items.Upsert(rec.ItemID, patch)
	return err
}

// kbItemStep turns each categorized item into a knowledge-base document.
func (e *Engine) kbItemStep() phaseStep {
	return phaseStep{
		id:    string(item.PhaseKBItem),
		name:  "KB item creation",
		after: []string{string(item.PhaseLLM)},
		run: func(ctx context.Context, st *runState) *PhaseResult {
			mres, err := e.resolvePhase(st.prefs, model.PhaseKBGeneration)
			if err != nil {
				return &PhaseResult{Status: events.PhaseFailed, Error: err.Error()}
			}
			worker := func(ctx context.Context, rec *item.Record) error {
				return e.createKBItem(ctx, mres, rec)
			}
			res := e.runItemPhase(ctx, st, item.PhaseKBItem, task.QueueAIProcessing, worker)
			st.kbCreated = res.Succeeded
			return res
		},
	}
}

// createKBItem generates the document body, writes the document and its
// media into the tree, and records the resulting paths.
func (e *Engine) createKBItem(ctx context.Context, mres *model.Resolution, rec *item.Record) error {
	if rec.MainCategory == "" || rec.ItemNameSuggestion == "" {
		return errors.ErrDataInvalid("item "+rec.ItemID, fmt.Errorf("record not categorized"))
	}

	callCtx, cancel := e.textCtx(ctx)
	defer cancel()

	req := model.Request{
		Messages: []model.Message{
			{Role: model.RoleSystem, Text: kbItemPrompt},
			{Role: model.RoleUser, Text: kbItemInput(rec)},
		},
	}
	resp, err := e.complete(callCtx, model.PhaseKBGeneration, mres, req)
	if err != nil {
		return err
	}
	body := strings.TrimSpace(resp.Text)
	if body == "" {
		return errors.ErrDataInvalid("kb document for item "+rec.ItemID,
			fmt.Errorf("empty model response"))
	}

	written, err := e.writer.WriteItem(rec, body)
	if err != nil {
		return err
	}

	patch := item.Patch{
		KBItemPath:             item.StringPtr(written.DocPath),
		KBMediaPaths:           &written.MediaPaths,
		KBItemCreated:          item.BoolPtr(true),
		KBItemSucceededThisRun: item.BoolPtr(true),
	}
	_, err = e.items.Upsert(rec.ItemID, patch)
	return err
}

// dbSyncStep settles each item's database state against its written
// document.
func (e *Engine) dbSyncStep() phaseStep {
	return phaseStep{
		id:    string(item.PhaseDBSync),
		name:  "DB sync",
		after: []string{string(item.PhaseKBItem)},
		run: func(ctx context.Context, st *runState) *PhaseResult {
			return e.runItemPhase(ctx, st, item.PhaseDBSync, task.QueueDefault, e.syncItem)
		},
	}
}

// syncItem verifies the written document belongs to the record, drops
// stored embeddings for documents regenerated this run so the embedding
// phase redoes them, and clears a reprocess request the run has honored.
func (e *Engine) syncItem(ctx context.Context, rec *item.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.KBItemPath == "" {
		return errors.ErrDataInvalid("item "+rec.ItemID, fmt.Errorf("no kb document recorded"))
	}

	fm, _, err := e.writer.ReadDocument(rec.KBItemPath)
	if err != nil {
		return err
	}
	if fm.ItemID != rec.ItemID {
		return errors.ErrDataInvalid("kb document "+rec.KBItemPath,
			fmt.Errorf("front matter names item %s, record is %s", fm.ItemID, rec.ItemID))
	}

	if rec.KBItemSucceededThisRun {
		if err := e.db.DeleteEmbeddings(rec.KBItemPath); err != nil {
			return err
		}
	}

	patch := item.Patch{
		DBSynced:               item.BoolPtr(true),
		DBSyncSucceededThisRun: item.BoolPtr(true),
		ClearReprocessRequest: rec.ForceReprocessPipeline || rec.ForceRecache ||
			rec.ReprocessRequestedAt != nil,
	}
	_, err = e.items.Upsert(rec.ItemID, patch)
	return err
}

// contentView renders an item the way the models see it: title, merged
// text, then media descriptions.
func contentView(rec *item.Record) string {
	var b strings.Builder
	if rec.DisplayTitle != "" {
		fmt.Fprintf(&b, "Title: %s\n\n", rec.DisplayTitle)
	}
	if rec.FullText != "" {
		b.WriteString(rec.FullText)
		b.WriteString("\n")
	}
	for i, ref := range rec.MediaRefs {
		if ref.AltText == "" {
			continue
		}
		fmt.Fprintf(&b, "\n[media %d: %s] %s\n", i+1, ref.Type, ref.AltText)
	}
	return strings.TrimSpace(b.String())
}

// kbItemInput is the generation prompt's user half: the decided
// placement plus the content view.
func kbItemInput(rec *item.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Category: %s / %s\n", rec.MainCategory, rec.SubCategory)
	fmt.Fprintf(&b, "Item name: %s\n", rec.ItemNameSuggestion)
	if rec.Categories != nil && len(rec.Categories.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(rec.Categories.Tags, ", "))
	}
	b.WriteString("\n")
	b.WriteString(contentView(rec))
	return b.String()
}

// completeSchema issues one schema-validated completion through the
// resolved route, walking the phase's fallback chain the same way
// Engine.complete does for plain completions.
func completeSchema[T any](ctx context.Context, e *Engine, mp model.Phase, res *model.Resolution, req model.Request, schema []byte) (*model.SchemaResult[T], error) {
	attempt := func(r *model.Resolution) (*model.SchemaResult[T], error) {
		call := req
		call.Model = r.Model
		if call.MaxTokens == 0 {
			call.MaxTokens = r.Params.MaxTokens
		}
		if call.Temperature == nil {
			call.Temperature = r.Params.Temperature
		}
		return model.CompleteWithSchema[T](ctx, r.Backend, call, schema)
	}

	out, err := attempt(res)
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	for _, fb := range e.router.Fallbacks(mp) {
		e.logger.Warn("walking model fallback",
			"phase", mp, "backend", fb.Backend.Name(), "model", fb.Model, "cause", err)
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
