package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/curator-ai/curator/internal/errors"
	"github.com/curator-ai/curator/internal/events"
	"github.com/curator-ai/curator/internal/ingest"
	"github.com/curator-ai/curator/internal/item"
	"github.com/curator-ai/curator/internal/task"
)

// fetchStep pulls bookmarks from the source, seeds records for them, then
// caches every pending item: payload parsing, media download, linked
// article extraction. Runs scoped to named items never pull new bookmarks.
func (e *Engine) fetchStep() phaseStep {
	return phaseStep{
		id:   string(item.PhaseCache),
		name: "Fetch bookmarks",
		run: func(ctx context.Context, st *runState) *PhaseResult {
			if !st.prefs.SkipFetchBookmarks && len(st.prefs.ItemIDs) == 0 {
				if res := e.fetchBookmarks(ctx, st); res != nil {
					return res
				}
			}
			return e.runItemPhase(ctx, st, item.PhaseCache, task.QueueContentFetching, e.cacheItem)
		},
	}
}

// fetchBookmarks reads the source export and upserts one record per
// bookmark. The raw payload is written only for records that lack one,
// unless a recache was forced; an already-cached record keeps the payload
// its derived fields came from.
func (e *Engine) fetchBookmarks(ctx context.Context, st *runState) *PhaseResult {
	fail := func(err error) *PhaseResult {
		return &PhaseResult{Status: events.PhaseFailed, Error: err.Error()}
	}

	if e.source == nil {
		return fail(errors.ErrConfigMissing("sources.provider"))
	}
	bookmarks, err := e.source.Fetch(ctx, e.cfg.Sources.FetchLimit)
	if err != nil {
		return fail(err)
	}

	seeded := 0
	for _, b := range bookmarks {
		if b.ItemID == "" {
			e.logger.Warn("bookmark without item id skipped", "source", e.source.Name())
			continue
		}
		rec, err := e.items.Get(b.ItemID)
		if err != nil {
			return fail(err)
		}
		patch := item.Patch{
			Source:           item.StringPtr(e.source.Name()),
			BookmarkedItemID: item.StringPtr(b.BookmarkedItemID),
		}
		if rec == nil || rec.RawContent == "" || st.prefs.ForceRecacheItems {
			patch.RawContent = item.StringPtr(b.RawJSON)
		}
		if _, err := e.items.Upsert(b.ItemID, patch); err != nil {
			return fail(err)
		}
		if rec == nil {
			seeded++
		}
	}

	st.ingested = seeded
	e.logger.Info("bookmarks fetched",
		"source", e.source.Name(), "total", len(bookmarks), "new", seeded)
	return nil
}

// cacheItem derives the record's content fields from its raw payload,
// downloads its media (thread siblings included), and folds linked
// articles into the full text.
func (e *Engine) cacheItem(ctx context.Context, rec *item.Record) error {
	if strings.TrimSpace(rec.RawContent) == "" {
		return errors.ErrDataInvalid("item "+rec.ItemID, fmt.Errorf("no raw payload to cache"))
	}

	payload := ingest.ParsePayload(rec.RawContent)
	patch := payload.Patch(rec.RawContent)

	refs := append([]item.MediaRef(nil), payload.Media...)
	for _, t := range payload.Thread {
		refs = append(refs, t.Media...)
	}
	if err := e.media.CacheAll(ctx, rec.ItemID, refs); err != nil {
		return err
	}
	patch.MediaRefs = &refs

	if text := e.linkedArticles(ctx, rec.ItemID, payload.LinkURLs); text != "" {
		merged := payload.MergedText()
		if merged != "" {
			merged += "\n\n"
		}
		patch.FullText = item.StringPtr(merged + text)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	patch.CacheComplete = item.BoolPtr(true)
	patch.CacheSucceededThisRun = item.BoolPtr(true)
	_, err := e.items.Upsert(rec.ItemID, patch)
	return err
}

// linkedArticles extracts readable text from the payload's links. A page
// that cannot be fetched degrades to a log line; link rot must not hold
// an item in the cache phase forever.
func (e *Engine) linkedArticles(ctx context.Context, itemID string, urls []string) string {
	var sections []string
	for _, u := range urls {
		if ctx.Err() != nil {
			break
		}
		art, err := e.articles.Extract(ctx, u)
		if err != nil {
			e.logger.Debug("article extraction failed", "item", itemID, "url", u, "error", err)
			continue
		}
		title := art.Title
		if title == "" {
			title = art.URL
		}
		sections = append(sections, fmt.Sprintf("## Linked article: %s\n\n%s", title, art.Text))
	}
	return strings.Join(sections, "\n\n")
}
