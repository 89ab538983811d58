package store

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/curator-ai/curator/internal/db"
	"github.com/curator-ai/curator/internal/errors"
	"github.com/curator-ai/curator/internal/item"
)

// setupItemStore creates an item store over an in-memory database.
func setupItemStore(t *testing.T) *ItemStore {
	t.Helper()
	return NewItemStore(db.NewTestStore(t), nil)
}

func TestItemStore_UpsertCreates(t *testing.T) {
	s := setupItemStore(t)

	rec, err := s.Upsert("tweet-1", item.Patch{
		Source:       item.StringPtr("twitter"),
		FullText:     item.StringPtr("a thread about WAL mode"),
		DisplayTitle: item.StringPtr("WAL mode"),
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if rec.ItemID != "tweet-1" {
		t.Errorf("ItemID = %s, want tweet-1", rec.ItemID)
	}
	if rec.Source != "twitter" {
		t.Errorf("Source = %s, want twitter", rec.Source)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("CreatedAt not set on create")
	}

	// Read back through the store
	got, err := s.Get("tweet-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil after Upsert")
	}
	if got.FullText != "a thread about WAL mode" {
		t.Errorf("FullText = %q", got.FullText)
	}
}

func TestItemStore_UpsertPreservesUnspecifiedFields(t *testing.T) {
	s := setupItemStore(t)

	if _, err := s.Upsert("tweet-2", item.Patch{
		Source:       item.StringPtr("twitter"),
		FullText:     item.StringPtr("original text"),
		MainCategory: item.StringPtr("databases"),
	}); err != nil {
		t.Fatalf("first Upsert failed: %v", err)
	}

	// Second patch touches only sub_category
	rec, err := s.Upsert("tweet-2", item.Patch{
		SubCategory: item.StringPtr("sqlite"),
	})
	if err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}
	if rec.FullText != "original text" {
		t.Errorf("FullText clobbered: got %q", rec.FullText)
	}
	if rec.MainCategory != "databases" {
		t.Errorf("MainCategory clobbered: got %q", rec.MainCategory)
	}
	if rec.SubCategory != "sqlite" {
		t.Errorf("SubCategory = %q, want sqlite", rec.SubCategory)
	}
}

func TestItemStore_UpsertNestedStructures(t *testing.T) {
	s := setupItemStore(t)

	media := []item.MediaRef{
		{Type: "photo", URL: "https://example.com/a.jpg", AltText: "diagram"},
		{Type: "video", URL: "https://example.com/b.mp4"},
	}
	cats := &item.Categories{
		MainCategory: "databases",
		SubCategory:  "sqlite",
		ItemName:     "wal-internals",
		Tags:         []string{"storage", "concurrency"},
	}

	if _, err := s.Upsert("tweet-3", item.Patch{
		Source:     item.StringPtr("twitter"),
		MediaRefs:  &media,
		Categories: cats,
	}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := s.Get("tweet-3")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.MediaRefs) != 2 {
		t.Fatalf("MediaRefs round-trip: got %d refs", len(got.MediaRefs))
	}
	if got.MediaRefs[0].AltText != "diagram" {
		t.Errorf("MediaRefs[0].AltText = %q", got.MediaRefs[0].AltText)
	}
	if got.Categories == nil {
		t.Fatal("Categories not persisted")
	}
	if got.Categories.ItemName != "wal-internals" {
		t.Errorf("Categories.ItemName = %q", got.Categories.ItemName)
	}
	if len(got.Categories.Tags) != 2 {
		t.Errorf("Categories.Tags round-trip: got %v", got.Categories.Tags)
	}
}

func TestItemStore_ErrorWinsOverFlag(t *testing.T) {
	s := setupItemStore(t)

	// A patch carrying both a flag and an error for the same phase:
	// the error annotation forces the flag false regardless of field order.
	rec, err := s.Upsert("tweet-4", item.Patch{
		Source:        item.StringPtr("twitter"),
		CacheComplete: item.BoolPtr(true),
		CacheError:    item.StringPtr("connection reset"),
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if rec.CacheComplete {
		t.Error("CacheComplete should be false when the same patch sets cache_error")
	}
	if rec.CacheError != "connection reset" {
		t.Errorf("CacheError = %q", rec.CacheError)
	}
}

func TestItemStore_GetMissing(t *testing.T) {
	s := setupItemStore(t)

	got, err := s.Get("nope")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing id, got %+v", got)
	}
}

func TestItemStore_GetMany(t *testing.T) {
	s := setupItemStore(t)

	for _, id := range []string{"m-1", "m-2"} {
		if _, err := s.Upsert(id, item.Patch{Source: item.StringPtr("twitter")}); err != nil {
			t.Fatalf("Upsert %s failed: %v", id, err)
		}
	}

	got, err := s.GetMany([]string{"m-1", "m-2", "m-3"})
	if err != nil {
		t.Fatalf("GetMany failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if _, ok := got["m-3"]; ok {
		t.Error("missing id should be absent, not present as nil")
	}
}

func TestItemStore_SetFlags(t *testing.T) {
	s := setupItemStore(t)

	if _, err := s.Upsert("f-1", item.Patch{
		Source:     item.StringPtr("twitter"),
		CacheError: item.StringPtr("stale cache"),
	}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	rec, err := s.SetFlags("f-1", map[item.Phase]bool{
		item.PhaseCache: true,
		item.PhaseMedia: true,
	})
	if err != nil {
		t.Fatalf("SetFlags failed: %v", err)
	}
	if !rec.CacheComplete || !rec.MediaProcessed {
		t.Error("flags not set")
	}
	if rec.CacheError != "" {
		t.Errorf("setting a flag true should clear its error, got %q", rec.CacheError)
	}

	// Persisted, not just in the returned copy
	got, err := s.Get("f-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.CacheComplete || got.CacheError != "" {
		t.Error("flag update not durable")
	}
}

func TestItemStore_SetFlagsUnknownID(t *testing.T) {
	s := setupItemStore(t)

	_, err := s.SetFlags("ghost", map[item.Phase]bool{item.PhaseCache: true})
	if err == nil {
		t.Fatal("expected error for unknown id")
	}
	ce := errors.AsCuratorError(err)
	if ce == nil || ce.Code != errors.CodeItemNotFound {
		t.Errorf("expected ITEM_NOT_FOUND, got %v", err)
	}
}

func TestItemStore_ConcurrentPatchesKeepAllFields(t *testing.T) {
	s := setupItemStore(t)

	if _, err := s.Upsert("c-1", item.Patch{Source: item.StringPtr("twitter")}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	// Concurrent patches touching different fields serialize on the item
	// lock; none of them may clobber another's field.
	patches := []item.Patch{
		{CacheSucceededThisRun: item.BoolPtr(true)},
		{MediaSucceededThisRun: item.BoolPtr(true)},
		{LLMSucceededThisRun: item.BoolPtr(true)},
		{KBItemSucceededThisRun: item.BoolPtr(true)},
		{DBSyncSucceededThisRun: item.BoolPtr(true)},
		{DisplayTitle: item.StringPtr("WAL internals")},
		{MainCategory: item.StringPtr("databases")},
		{SubCategory: item.StringPtr("sqlite")},
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(patches))
	for _, p := range patches {
		wg.Add(1)
		go func(p item.Patch) {
			defer wg.Done()
			if _, err := s.Upsert("c-1", p); err != nil {
				errs <- err
			}
		}(p)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent upsert error: %v", err)
	}

	got, err := s.Get("c-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.CacheSucceededThisRun || !got.MediaSucceededThisRun || !got.LLMSucceededThisRun ||
		!got.KBItemSucceededThisRun || !got.DBSyncSucceededThisRun {
		t.Error("a concurrent patch lost a run flag write")
	}
	if got.DisplayTitle != "WAL internals" || got.MainCategory != "databases" || got.SubCategory != "sqlite" {
		t.Error("a concurrent patch lost a string field write")
	}
}

func TestItemStore_ClearRuntimeFlags(t *testing.T) {
	s := setupItemStore(t)

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("rt-%d", i)
		if _, err := s.Upsert(id, item.Patch{
			Source:                item.StringPtr("twitter"),
			CacheSucceededThisRun: item.BoolPtr(true),
			MediaSucceededThisRun: item.BoolPtr(true),
		}); err != nil {
			t.Fatalf("Upsert %s failed: %v", id, err)
		}
	}

	// Scoped clear
	if err := s.ClearRuntimeFlags("rt-0", "rt-1"); err != nil {
		t.Fatalf("ClearRuntimeFlags scoped failed: %v", err)
	}
	got, err := s.Get("rt-2")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.CacheSucceededThisRun {
		t.Error("rt-2 should be untouched by the scoped clear")
	}
	got, err = s.Get("rt-0")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.CacheSucceededThisRun || got.MediaSucceededThisRun {
		t.Error("rt-0 runtime flags not cleared")
	}

	// Full clear
	if err := s.ClearRuntimeFlags(); err != nil {
		t.Fatalf("ClearRuntimeFlags failed: %v", err)
	}
	got, err = s.Get("rt-2")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.CacheSucceededThisRun {
		t.Error("rt-2 runtime flags not cleared by the full clear")
	}
}

func TestItemStore_ListAndCount(t *testing.T) {
	s := setupItemStore(t)

	for i := 0; i < 5; i++ {
		patch := item.Patch{Source: item.StringPtr("twitter")}
		if i < 2 {
			patch.KBItemCreated = item.BoolPtr(true)
		}
		if _, err := s.Upsert(fmt.Sprintf("l-%d", i), patch); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	created := true
	recs, err := s.List(db.ItemFilter{KBItemCreated: &created})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("expected 2 records with kb items, got %d", len(recs))
	}

	ids, err := s.ListIDs(db.ItemFilter{KBItemCreated: &created})
	if err != nil {
		t.Fatalf("ListIDs failed: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("expected 2 ids, got %d", len(ids))
	}

	n, err := s.Count(db.ItemFilter{})
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 5 {
		t.Errorf("Count = %d, want 5", n)
	}
}

func TestItemStore_RetryStateRoundTrip(t *testing.T) {
	s := setupItemStore(t)

	failedAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	nextAt := failedAt.Add(2 * time.Second)
	history := []item.RetryAttempt{{
		Attempt:     1,
		Phase:       item.PhaseMedia,
		FailureType: "network",
		Error:       "dial timeout",
		FailedAt:    failedAt,
		NextRetryAt: nextAt,
	}}

	if _, err := s.Upsert("ret-1", item.Patch{
		Source:           item.StringPtr("twitter"),
		RetryCount:       item.IntPtr(1),
		FailureType:      item.StringPtr("network"),
		NextRetryAfter:   item.TimePtr(nextAt),
		LastRetryAttempt: item.TimePtr(failedAt),
		RetryHistory:     &history,
	}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := s.Get("ret-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.RetryCount != 1 || got.FailureType != "network" {
		t.Errorf("retry scalars: count=%d type=%q", got.RetryCount, got.FailureType)
	}
	if got.NextRetryAfter == nil || !got.NextRetryAfter.Equal(nextAt) {
		t.Errorf("NextRetryAfter = %v", got.NextRetryAfter)
	}
	if len(got.RetryHistory) != 1 {
		t.Fatalf("RetryHistory round-trip: got %d entries", len(got.RetryHistory))
	}
	if got.RetryHistory[0].Phase != item.PhaseMedia {
		t.Errorf("history phase = %s", got.RetryHistory[0].Phase)
	}
	if !got.RetryHistory[0].FailedAt.Equal(failedAt) {
		t.Errorf("history FailedAt = %v", got.RetryHistory[0].FailedAt)
	}

	// Clearing retry state through a patch
	got, err = s.Upsert("ret-1", item.Patch{ClearRetryState: true})
	if err != nil {
		t.Fatalf("Upsert clear failed: %v", err)
	}
	if got.RetryCount != 0 || got.NextRetryAfter != nil || len(got.RetryHistory) != 0 {
		t.Error("ClearRetryState did not wipe retry metadata")
	}
}
