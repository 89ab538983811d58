package db

import (
	"testing"
	"time"
)

func TestAgentState_RoundTrip(t *testing.T) {
	t.Parallel()

	store := NewTestStore(t)

	now := time.Now().UTC().Truncate(time.Second)
	started := now.Add(-time.Minute)

	st := &AgentState{
		Running:       true,
		CurrentTaskID: "task-agent",
		StartedAt:     &started,
		UpdatedAt:     now,
	}
	if err := store.SaveAgentState(st); err != nil {
		t.Fatalf("SaveAgentState failed: %v", err)
	}

	got, err := store.LoadAgentState()
	if err != nil {
		t.Fatalf("LoadAgentState failed: %v", err)
	}
	if got == nil {
		t.Fatal("LoadAgentState returned nil")
	}
	if !got.Running {
		t.Error("Running not persisted")
	}
	if got.CurrentTaskID != "task-agent" {
		t.Errorf("CurrentTaskID mismatch: got %s", got.CurrentTaskID)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt mismatch: got %v", got.StartedAt)
	}
	if got.LastCompletedAt != nil {
		t.Errorf("LastCompletedAt should be nil, got %v", got.LastCompletedAt)
	}

	// Overwrite the singleton on completion
	completed := now.Add(time.Minute)
	st.Running = false
	st.CurrentTaskID = ""
	st.LastCompletedAt = &completed
	st.LastSuccess = true
	if err := store.SaveAgentState(st); err != nil {
		t.Fatalf("SaveAgentState (update) failed: %v", err)
	}

	got, err = store.LoadAgentState()
	if err != nil {
		t.Fatalf("LoadAgentState after update failed: %v", err)
	}
	if got.Running {
		t.Error("Running not cleared")
	}
	if !got.LastSuccess {
		t.Error("LastSuccess not persisted")
	}
	if got.LastCompletedAt == nil || !got.LastCompletedAt.Equal(completed) {
		t.Errorf("LastCompletedAt mismatch: got %v", got.LastCompletedAt)
	}

	// Still a single row
	var count int
	if err := store.QueryRow("SELECT COUNT(*) FROM agent_state").Scan(&count); err != nil {
		t.Fatalf("count agent_state: %v", err)
	}
	if count != 1 {
		t.Errorf("expected singleton row, got %d", count)
	}
}

func TestLoadAgentState_NeverRun(t *testing.T) {
	t.Parallel()

	store := NewTestStore(t)

	got, err := store.LoadAgentState()
	if err != nil {
		t.Fatalf("LoadAgentState failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil before first run, got %+v", got)
	}
}
