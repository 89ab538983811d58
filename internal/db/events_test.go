package db

import (
	"testing"
	"time"
)

func TestSaveEvent(t *testing.T) {
	store := NewTestStore(t)

	phase := "media-analysis"
	durationMs := int64(2500)
	event := &EventLog{
		TaskID:     "task-001",
		Phase:      &phase,
		EventType:  "phase_completed",
		Data:       map[string]any{"items_processed": float64(8), "items_failed": float64(1)},
		Source:     "pipeline",
		CreatedAt:  time.Now().UTC(),
		DurationMs: &durationMs,
	}

	if err := store.SaveEvent(event); err != nil {
		t.Fatalf("SaveEvent failed: %v", err)
	}
	if event.ID == 0 {
		t.Error("event ID not set after save")
	}

	// Query back and verify nullable fields are read correctly
	results, err := store.QueryEvents(QueryEventsOptions{TaskID: "task-001"})
	if err != nil {
		t.Fatalf("QueryEvents failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 event, got %d", len(results))
	}
	e := results[0]
	if e.Phase == nil || *e.Phase != "media-analysis" {
		t.Errorf("expected phase='media-analysis', got %v", e.Phase)
	}
	if e.DurationMs == nil || *e.DurationMs != 2500 {
		t.Errorf("expected durationMs=2500, got %v", e.DurationMs)
	}
	data, ok := e.Data.(map[string]any)
	if !ok {
		t.Fatalf("expected map data, got %T", e.Data)
	}
	if data["items_processed"] != float64(8) {
		t.Errorf("data round-trip: got %v", data["items_processed"])
	}
}

func TestSaveEvent_NullPhase(t *testing.T) {
	store := NewTestStore(t)

	event := &EventLog{
		TaskID:    "task-002",
		EventType: "agent_run_started",
		Source:    "agent",
		CreatedAt: time.Now().UTC(),
	}
	if err := store.SaveEvent(event); err != nil {
		t.Fatalf("SaveEvent failed: %v", err)
	}

	results, err := store.QueryEvents(QueryEventsOptions{TaskID: "task-002"})
	if err != nil {
		t.Fatalf("QueryEvents failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 event, got %d", len(results))
	}
	if results[0].Phase != nil {
		t.Errorf("expected nil phase, got %v", *results[0].Phase)
	}
	if results[0].DurationMs != nil {
		t.Errorf("expected nil duration, got %v", *results[0].DurationMs)
	}
	if results[0].Data != nil {
		t.Errorf("expected nil data, got %v", results[0].Data)
	}
}

// TestSaveEvent_IgnoresDuplicates verifies that saving the same event twice
// (same task_id, event_type, phase, created_at) doesn't create duplicates.
func TestSaveEvent_IgnoresDuplicates(t *testing.T) {
	store := NewTestStore(t)

	// Fixed timestamp for exact duplicate detection
	fixedTime := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	phase := "embedding"

	event1 := &EventLog{
		TaskID:    "task-dup",
		Phase:     &phase,
		EventType: "phase_started",
		Source:    "pipeline",
		CreatedAt: fixedTime,
	}
	event2 := &EventLog{
		TaskID:    "task-dup",
		Phase:     &phase,
		EventType: "phase_started",
		Source:    "pipeline",
		CreatedAt: fixedTime,
	}

	if err := store.SaveEvent(event1); err != nil {
		t.Fatalf("SaveEvent (first) failed: %v", err)
	}
	if err := store.SaveEvent(event2); err != nil {
		t.Fatalf("SaveEvent (duplicate) failed: %v", err)
	}
	if event2.ID != 0 {
		t.Errorf("duplicate should not receive an ID, got %d", event2.ID)
	}

	results, err := store.QueryEvents(QueryEventsOptions{TaskID: "task-dup"})
	if err != nil {
		t.Fatalf("QueryEvents failed: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("expected 1 event (deduped), got %d", len(results))
	}
}

func TestSaveEvent_NanosecondsAreDistinct(t *testing.T) {
	store := NewTestStore(t)

	base := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	phase := "embedding"

	for i := 0; i < 3; i++ {
		event := &EventLog{
			TaskID:    "task-ns",
			Phase:     &phase,
			EventType: "item_embedded",
			Source:    "pipeline",
			CreatedAt: base.Add(time.Duration(i) * time.Nanosecond),
		}
		if err := store.SaveEvent(event); err != nil {
			t.Fatalf("SaveEvent %d failed: %v", i, err)
		}
	}

	count, err := store.CountEvents(QueryEventsOptions{TaskID: "task-ns"})
	if err != nil {
		t.Fatalf("CountEvents failed: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 distinct events, got %d", count)
	}
}

func TestSaveEvents_Batch(t *testing.T) {
	store := NewTestStore(t)

	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	events := []*EventLog{
		{TaskID: "task-b", EventType: "agent_run_started", Source: "agent", CreatedAt: base},
		{TaskID: "task-b", EventType: "phase_started", Source: "pipeline", CreatedAt: base.Add(time.Second)},
		{TaskID: "task-b", EventType: "phase_started", Source: "pipeline", CreatedAt: base.Add(time.Second)}, // duplicate
		{TaskID: "task-b", EventType: "phase_completed", Source: "pipeline", CreatedAt: base.Add(2 * time.Second)},
	}

	if err := store.SaveEvents(events); err != nil {
		t.Fatalf("SaveEvents failed: %v", err)
	}

	count, err := store.CountEvents(QueryEventsOptions{TaskID: "task-b"})
	if err != nil {
		t.Fatalf("CountEvents failed: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 events after dedup, got %d", count)
	}
}

func TestQueryEvents_Filters(t *testing.T) {
	store := NewTestStore(t)

	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	events := []*EventLog{
		{TaskID: "task-f", EventType: "agent_run_started", Source: "agent", CreatedAt: base},
		{TaskID: "task-f", EventType: "phase_started", Source: "pipeline", CreatedAt: base.Add(time.Minute)},
		{TaskID: "task-f", EventType: "phase_completed", Source: "pipeline", CreatedAt: base.Add(2 * time.Minute)},
		{TaskID: "other", EventType: "phase_started", Source: "pipeline", CreatedAt: base.Add(3 * time.Minute)},
	}
	if err := store.SaveEvents(events); err != nil {
		t.Fatalf("SaveEvents failed: %v", err)
	}

	// By task, newest first
	got, err := store.QueryEvents(QueryEventsOptions{TaskID: "task-f"})
	if err != nil {
		t.Fatalf("QueryEvents by task failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if got[0].EventType != "phase_completed" {
		t.Errorf("expected newest first, got %s", got[0].EventType)
	}

	// By event types
	got, err = store.QueryEvents(QueryEventsOptions{EventTypes: []string{"phase_started"}})
	if err != nil {
		t.Fatalf("QueryEvents by type failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("type filter: expected 2 events, got %d", len(got))
	}

	// By time window
	since := base.Add(30 * time.Second)
	until := base.Add(90 * time.Second)
	got, err = store.QueryEvents(QueryEventsOptions{Since: &since, Until: &until})
	if err != nil {
		t.Fatalf("QueryEvents by window failed: %v", err)
	}
	if len(got) != 1 || got[0].EventType != "phase_started" {
		t.Errorf("window filter: expected [phase_started], got %d events", len(got))
	}

	// Limit
	got, err = store.QueryEvents(QueryEventsOptions{TaskID: "task-f", Limit: 2})
	if err != nil {
		t.Fatalf("QueryEvents with limit failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("limit: expected 2 events, got %d", len(got))
	}
}

func TestPruneEventsBefore(t *testing.T) {
	store := NewTestStore(t)

	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	events := []*EventLog{
		{TaskID: "task-p", EventType: "old_event", Source: "agent", CreatedAt: base.Add(-48 * time.Hour)},
		{TaskID: "task-p", EventType: "old_event", Source: "agent", CreatedAt: base.Add(-25 * time.Hour)},
		{TaskID: "task-p", EventType: "recent_event", Source: "agent", CreatedAt: base.Add(-time.Hour)},
	}
	if err := store.SaveEvents(events); err != nil {
		t.Fatalf("SaveEvents failed: %v", err)
	}

	n, err := store.PruneEventsBefore(base.Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("PruneEventsBefore failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 pruned, got %d", n)
	}

	remaining, err := store.QueryEvents(QueryEventsOptions{TaskID: "task-p"})
	if err != nil {
		t.Fatalf("QueryEvents failed: %v", err)
	}
	if len(remaining) != 1 || remaining[0].EventType != "recent_event" {
		t.Errorf("expected only recent_event to survive, got %d events", len(remaining))
	}
}
