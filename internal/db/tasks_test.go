package db

import (
	"testing"
	"time"
)

func TestTaskCRUD(t *testing.T) {
	t.Parallel()

	store := NewTestStore(t)

	now := time.Now().UTC().Truncate(time.Second)
	started := now.Add(time.Second)

	// Create
	task := &Task{
		ID:              "task-001",
		Queue:           "ai_processing",
		Kind:            "agent_run",
		Description:     "full pipeline run",
		Phase:           "content_processing",
		ParentTaskID:    "task-000",
		Status:          "RUNNING",
		ProgressCurrent: 3,
		ProgressTotal:   7,
		ProgressMessage: "content-processing",
		Result:          `{"items_processed": 12}`,
		CreatedAt:       now,
		StartedAt:       &started,
		LastHeartbeat:   &started,
	}
	if err := store.SaveTask(task); err != nil {
		t.Fatalf("SaveTask failed: %v", err)
	}

	// Read
	got, err := store.GetTask("task-001")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetTask returned nil")
	}
	if got.Queue != "ai_processing" {
		t.Errorf("Queue mismatch: got %s", got.Queue)
	}
	if got.Status != "RUNNING" {
		t.Errorf("Status mismatch: got %s", got.Status)
	}
	if got.Phase != "content_processing" || got.ParentTaskID != "task-000" {
		t.Errorf("phase/parent mismatch: got %q/%q", got.Phase, got.ParentTaskID)
	}
	if got.ProgressCurrent != 3 || got.ProgressTotal != 7 {
		t.Errorf("progress mismatch: got %d/%d", got.ProgressCurrent, got.ProgressTotal)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt mismatch: got %v", got.StartedAt)
	}
	if got.FinishedAt != nil {
		t.Errorf("FinishedAt should be nil, got %v", got.FinishedAt)
	}

	// Update
	finished := now.Add(time.Minute)
	task.Status = "SUCCESS"
	task.ProgressCurrent = 7
	task.FinishedAt = &finished
	if err := store.SaveTask(task); err != nil {
		t.Fatalf("SaveTask (update) failed: %v", err)
	}

	got, err = store.GetTask("task-001")
	if err != nil {
		t.Fatalf("GetTask after update failed: %v", err)
	}
	if got.Status != "SUCCESS" {
		t.Errorf("Status not updated: got %s", got.Status)
	}
	if got.FinishedAt == nil || !got.FinishedAt.Equal(finished) {
		t.Errorf("FinishedAt mismatch: got %v", got.FinishedAt)
	}
}

func TestGetTask_NotFound(t *testing.T) {
	t.Parallel()

	store := NewTestStore(t)

	got, err := store.GetTask("nonexistent")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing task, got %+v", got)
	}
}

func TestSaveTask_DefaultsQueue(t *testing.T) {
	t.Parallel()

	store := NewTestStore(t)

	task := &Task{ID: "task-q", Kind: "status_probe", Status: "PENDING", CreatedAt: time.Now()}
	if err := store.SaveTask(task); err != nil {
		t.Fatalf("SaveTask failed: %v", err)
	}

	got, err := store.GetTask("task-q")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Queue != "default" {
		t.Errorf("expected default queue, got %q", got.Queue)
	}
}

func TestListTasks(t *testing.T) {
	t.Parallel()

	store := NewTestStore(t)

	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	tasks := []*Task{
		{ID: "t-1", Queue: "ai_processing", Kind: "agent_run", Status: "SUCCESS", CreatedAt: base},
		{ID: "t-2", Queue: "ai_processing", Kind: "agent_run", Status: "RUNNING", CreatedAt: base.Add(time.Minute)},
		{ID: "t-3", Queue: "monitoring", Kind: "status_probe", Status: "PENDING", CreatedAt: base.Add(2 * time.Minute)},
		{ID: "t-4", Queue: "ai_processing", Kind: "agent_run", Status: "FAILURE", CreatedAt: base.Add(3 * time.Minute)},
		{ID: "t-5", Queue: "default", Kind: "cleanup", Status: "CANCELLED", CreatedAt: base.Add(4 * time.Minute)},
	}
	for _, task := range tasks {
		if err := store.SaveTask(task); err != nil {
			t.Fatalf("SaveTask %s failed: %v", task.ID, err)
		}
	}

	// All, newest first
	got, err := store.ListTasks(TaskFilter{})
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 tasks, got %d", len(got))
	}
	if got[0].ID != "t-5" || got[4].ID != "t-1" {
		t.Errorf("unexpected order: first=%s last=%s", got[0].ID, got[4].ID)
	}

	// By queue
	got, err = store.ListTasks(TaskFilter{Queue: "monitoring"})
	if err != nil {
		t.Fatalf("ListTasks by queue failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "t-3" {
		t.Errorf("queue filter: expected [t-3], got %d tasks", len(got))
	}

	// By status set
	got, err = store.ListTasks(TaskFilter{Statuses: []string{"SUCCESS", "FAILURE"}})
	if err != nil {
		t.Fatalf("ListTasks by statuses failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("status filter: expected 2 tasks, got %d", len(got))
	}

	// Active only excludes terminal statuses
	got, err = store.ListTasks(TaskFilter{Active: true})
	if err != nil {
		t.Fatalf("ListTasks active failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("active filter: expected 2 tasks, got %d", len(got))
	}
	for _, task := range got {
		if task.Status == "SUCCESS" || task.Status == "FAILURE" || task.Status == "CANCELLED" {
			t.Errorf("active filter returned terminal task %s (%s)", task.ID, task.Status)
		}
	}

	// Limit
	got, err = store.ListTasks(TaskFilter{Limit: 2})
	if err != nil {
		t.Fatalf("ListTasks with limit failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("limit: expected 2 tasks, got %d", len(got))
	}

	counts, err := store.CountTasksByStatus()
	if err != nil {
		t.Fatalf("CountTasksByStatus failed: %v", err)
	}
	want := map[string]int64{"SUCCESS": 1, "RUNNING": 1, "PENDING": 1, "FAILURE": 1, "CANCELLED": 1}
	for status, n := range want {
		if counts[status] != n {
			t.Errorf("count[%s] = %d, want %d", status, counts[status], n)
		}
	}
}

func TestDeleteTasksFinishedBefore(t *testing.T) {
	t.Parallel()

	store := NewTestStore(t)

	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	oldFinish := base.Add(-48 * time.Hour)
	newFinish := base.Add(-time.Hour)

	tasks := []*Task{
		{ID: "d-1", Status: "SUCCESS", CreatedAt: base, FinishedAt: &oldFinish},
		{ID: "d-2", Status: "FAILURE", CreatedAt: base, FinishedAt: &newFinish},
		{ID: "d-3", Status: "RUNNING", CreatedAt: base}, // no finished_at, never pruned
	}
	for _, task := range tasks {
		if err := store.SaveTask(task); err != nil {
			t.Fatalf("SaveTask failed: %v", err)
		}
	}

	n, err := store.DeleteTasksFinishedBefore(base.Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("DeleteTasksFinishedBefore failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 deleted, got %d", n)
	}

	got, err := store.GetTask("d-1")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got != nil {
		t.Error("d-1 should have been pruned")
	}

	for _, id := range []string{"d-2", "d-3"} {
		got, err := store.GetTask(id)
		if err != nil {
			t.Fatalf("GetTask %s failed: %v", id, err)
		}
		if got == nil {
			t.Errorf("%s should have survived pruning", id)
		}
	}
}
