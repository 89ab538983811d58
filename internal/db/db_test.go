package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestOpen(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = db.Close() }()

	if db.Path() != dbPath {
		t.Errorf("Path() = %q, want %q", db.Path(), dbPath)
	}

	// Verify pragmas are set
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %q, want wal", journalMode)
	}
}

func TestOpen_CreatesParentDir(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	_ = db.Close()
}

func TestMigrate(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	// Verify all tables exist
	tables := []string{"items", "phase_stats", "tasks", "schedules", "schedule_runs", "agent_state", "event_log", "embeddings"}
	for _, table := range tables {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not created: %v", table, err)
		}
	}

	// Run again - should be idempotent
	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}
}

func TestMigrate_Indexes(t *testing.T) {
	store := NewTestStore(t)

	indexes := []string{
		"idx_items_source",
		"idx_items_next_retry",
		"idx_tasks_status",
		"idx_event_log_task",
		"idx_event_log_dedup",
		"idx_embeddings_path",
	}
	for _, idx := range indexes {
		var name string
		err := store.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&name)
		if err != nil {
			t.Errorf("index %s not created: %v", idx, err)
		}
	}
}

func TestOpenStore(t *testing.T) {
	tmpDir := t.TempDir()

	store, err := OpenStore(tmpDir)
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	want := filepath.Join(tmpDir, ".curator", "curator.db")
	if store.Path() != want {
		t.Errorf("Path() = %q, want %q", store.Path(), want)
	}

	var count int
	if err := store.QueryRow("SELECT COUNT(*) FROM items").Scan(&count); err != nil {
		t.Errorf("items table not usable: %v", err)
	}
}

func TestRunInTx_Rollback(t *testing.T) {
	store := NewTestStore(t)

	it := &Item{ItemID: "tx-1", Source: "twitter"}
	wantErr := errors.New("boom")
	err := store.RunInTx(context.Background(), func(tx *TxOps) error {
		if _, err := tx.Exec(upsertItemSQL, upsertItemArgs(it)...); err != nil {
			t.Fatalf("insert in tx: %v", err)
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("RunInTx error = %v, want %v", err, wantErr)
	}

	got, err := store.GetItem("tx-1")
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if got != nil {
		t.Error("expected rollback to discard the insert")
	}
}
