package item

import (
	"fmt"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	rec := New("1957495234837419112", "twitter")

	if rec.ItemID != "1957495234837419112" {
		t.Errorf("expected ItemID 1957495234837419112, got %s", rec.ItemID)
	}

	if rec.Source != "twitter" {
		t.Errorf("expected Source twitter, got %s", rec.Source)
	}

	if rec.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}

	if rec.CacheComplete || rec.MediaProcessed || rec.CategoriesProcessed || rec.KBItemCreated || rec.DBSynced {
		t.Error("expected all phase flags false on a new record")
	}
}

func TestSetFlagClearsError(t *testing.T) {
	rec := New("A", "twitter")
	rec.SetPhaseError(PhaseMedia, "vision model unavailable")

	if rec.MediaError == "" {
		t.Fatal("expected media error to be set")
	}

	rec.SetFlag(PhaseMedia, true)

	if !rec.MediaProcessed {
		t.Error("expected MediaProcessed true after SetFlag")
	}
	if rec.MediaError != "" {
		t.Errorf("expected media error cleared by SetFlag, got %q", rec.MediaError)
	}
}

func TestSetPhaseErrorForcesFlagFalse(t *testing.T) {
	for _, p := range PerItemPhases() {
		rec := New("A", "twitter")
		rec.SetFlag(p, true)
		rec.SetPhaseError(p, "boom")

		if rec.Flag(p) {
			t.Errorf("phase %s: flag still true after error annotation", p)
		}
		if rec.PhaseError(p) != "boom" {
			t.Errorf("phase %s: expected error boom, got %q", p, rec.PhaseError(p))
		}
		if err := rec.Validate(); err != nil {
			t.Errorf("phase %s: Validate() = %v after error annotation", p, err)
		}
	}
}

func TestFlagAccessorsCoverAllPhases(t *testing.T) {
	rec := New("A", "twitter")
	for _, p := range PerItemPhases() {
		if rec.Flag(p) {
			t.Errorf("phase %s: expected flag false on new record", p)
		}
		rec.SetFlag(p, true)
		if !rec.Flag(p) {
			t.Errorf("phase %s: SetFlag(true) not visible through Flag", p)
		}
	}
	if !rec.CacheComplete || !rec.MediaProcessed || !rec.CategoriesProcessed || !rec.KBItemCreated || !rec.DBSynced {
		t.Error("expected every named flag field set")
	}
}

func TestHasAnyError(t *testing.T) {
	rec := New("A", "twitter")
	if rec.HasAnyError() {
		t.Error("new record should have no errors")
	}

	rec.SetPhaseError(PhaseDBSync, "dialect rejected row")
	if !rec.HasAnyError() {
		t.Error("expected HasAnyError true after annotation")
	}

	rec.SetFlag(PhaseDBSync, true)
	if rec.HasAnyError() {
		t.Error("expected HasAnyError false after flag set")
	}
}

func TestValidateDependencyOrder(t *testing.T) {
	rec := New("A", "twitter")
	rec.KBItemCreated = true

	err := rec.Validate()
	if err == nil {
		t.Fatal("expected Validate to reject kb_item_created without upstream flags")
	}

	rec.CacheComplete = true
	rec.MediaProcessed = true
	rec.CategoriesProcessed = true
	if err := rec.Validate(); err != nil {
		t.Errorf("Validate() = %v with full dependency chain", err)
	}
}

func TestValidateRejectsFlagWithError(t *testing.T) {
	rec := New("A", "twitter")
	rec.CacheComplete = true
	rec.CacheError = "stale"

	if err := rec.Validate(); err == nil {
		t.Error("expected Validate to reject coexisting flag and error")
	}
}

func TestValidateRejectsEmptyID(t *testing.T) {
	rec := &Record{}
	if err := rec.Validate(); err == nil {
		t.Error("expected Validate to reject empty item_id")
	}
}

func TestRequestReprocessKeepsRetryStats(t *testing.T) {
	rec := New("A", "twitter")
	for _, p := range PerItemPhases() {
		rec.SetFlag(p, true)
	}
	rec.RetryCount = 3
	rec.FailureType = "NETWORK_ERROR"
	rec.AppendRetryAttempt(RetryAttempt{Attempt: 1, Phase: PhaseMedia})

	rec.RequestReprocess("operator", false)

	if rec.CacheComplete != true {
		t.Error("expected cache_complete untouched when recache is false")
	}
	if rec.MediaProcessed || rec.CategoriesProcessed || rec.KBItemCreated || rec.DBSynced {
		t.Error("expected downstream flags reset")
	}
	if !rec.ForceReprocessPipeline {
		t.Error("expected force_reprocess_pipeline set")
	}
	if rec.ForceRecache {
		t.Error("expected force_recache false")
	}
	if rec.ReprocessRequestedAt == nil || rec.ReprocessRequestedBy != "operator" {
		t.Error("expected reprocess request audit fields set")
	}
	if rec.RetryCount != 3 || rec.FailureType != "NETWORK_ERROR" || len(rec.RetryHistory) != 1 {
		t.Error("expected retry statistics to survive a reprocess request")
	}
}

func TestRequestReprocessWithRecache(t *testing.T) {
	rec := New("A", "twitter")
	rec.SetFlag(PhaseCache, true)
	rec.SetPhaseError(PhaseLLM, "bad json")

	rec.RequestReprocess("scheduler", true)

	if rec.CacheComplete {
		t.Error("expected cache_complete reset when recache is true")
	}
	if !rec.ForceRecache {
		t.Error("expected force_recache set")
	}
	if rec.LLMError != "" {
		t.Errorf("expected error annotations cleared, got %q", rec.LLMError)
	}
}

func TestAppendRetryAttemptBounded(t *testing.T) {
	rec := New("A", "twitter")
	for i := 1; i <= RetryHistoryCap+5; i++ {
		rec.AppendRetryAttempt(RetryAttempt{
			Attempt:     i,
			Phase:       PhaseMedia,
			FailureType: "NETWORK_ERROR",
			Error:       fmt.Sprintf("attempt %d", i),
			FailedAt:    time.Now(),
		})
	}

	if len(rec.RetryHistory) != RetryHistoryCap {
		t.Fatalf("expected history capped at %d, got %d", RetryHistoryCap, len(rec.RetryHistory))
	}
	if rec.RetryHistory[0].Attempt != 6 {
		t.Errorf("expected oldest surviving attempt 6, got %d", rec.RetryHistory[0].Attempt)
	}
	if rec.RetryHistory[len(rec.RetryHistory)-1].Attempt != RetryHistoryCap+5 {
		t.Errorf("expected newest attempt %d, got %d", RetryHistoryCap+5, rec.RetryHistory[len(rec.RetryHistory)-1].Attempt)
	}
}

func TestClearRetryState(t *testing.T) {
	now := time.Now()
	rec := New("A", "twitter")
	rec.RetryCount = 2
	rec.LastRetryAttempt = &now
	rec.NextRetryAfter = &now
	rec.FailureType = "RATE_LIMIT"
	rec.AppendRetryAttempt(RetryAttempt{Attempt: 1})

	rec.ClearRetryState()

	if rec.RetryCount != 0 || rec.LastRetryAttempt != nil || rec.NextRetryAfter != nil {
		t.Error("expected retry counters cleared")
	}
	if rec.FailureType != "" || rec.RetryHistory != nil {
		t.Error("expected failure type and history cleared")
	}
}

func TestClearRuntimeFlags(t *testing.T) {
	rec := New("A", "twitter")
	for _, p := range PerItemPhases() {
		rec.SetSucceededThisRun(p, true)
		if !rec.SucceededThisRun(p) {
			t.Errorf("phase %s: SetSucceededThisRun not visible", p)
		}
	}

	rec.ClearRuntimeFlags()

	for _, p := range PerItemPhases() {
		if rec.SucceededThisRun(p) {
			t.Errorf("phase %s: runtime flag survived ClearRuntimeFlags", p)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	now := time.Now().UTC()
	rec := New("A", "twitter")
	rec.MediaRefs = []MediaRef{{Type: "photo", URL: "https://example.com/a.jpg"}}
	rec.ThreadItems = []ThreadItem{{ItemID: "B", FullText: "second", Media: []MediaRef{{Type: "video", URL: "https://example.com/b.mp4"}}}}
	rec.Categories = &Categories{MainCategory: "software_engineering", Tags: []string{"go"}}
	rec.KBMediaPaths = []string{"kb/software_engineering/a/media/a.jpg"}
	rec.RetryHistory = []RetryAttempt{{Attempt: 1, Phase: PhaseCache}}
	rec.NextRetryAfter = &now

	clone := rec.Clone()

	clone.MediaRefs[0].URL = "mutated"
	clone.ThreadItems[0].Media[0].URL = "mutated"
	clone.Categories.Tags[0] = "mutated"
	clone.KBMediaPaths[0] = "mutated"
	clone.RetryHistory[0].Attempt = 99
	*clone.NextRetryAfter = now.Add(time.Hour)

	if rec.MediaRefs[0].URL == "mutated" {
		t.Error("MediaRefs aliased between record and clone")
	}
	if rec.ThreadItems[0].Media[0].URL == "mutated" {
		t.Error("ThreadItems media aliased between record and clone")
	}
	if rec.Categories.Tags[0] == "mutated" {
		t.Error("Categories tags aliased between record and clone")
	}
	if rec.KBMediaPaths[0] == "mutated" {
		t.Error("KBMediaPaths aliased between record and clone")
	}
	if rec.RetryHistory[0].Attempt == 99 {
		t.Error("RetryHistory aliased between record and clone")
	}
	if !rec.NextRetryAfter.Equal(now) {
		t.Error("NextRetryAfter aliased between record and clone")
	}
}

func TestCloneNil(t *testing.T) {
	var rec *Record
	if rec.Clone() != nil {
		t.Error("expected nil clone of nil record")
	}
}
