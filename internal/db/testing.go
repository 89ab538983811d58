// Package db provides test utilities for database operations.
//
// Tests should use these helpers for database access: in-memory databases
// are much faster than file-based ones and cleanup is automatic.
package db

import (
	"testing"
)

// NewTestStore creates an in-memory store for testing. Migrations are
// applied and the store is closed when the test completes.
//
// Usage:
//
//	func TestSomething(t *testing.T) {
//	    t.Parallel()
//	    store := db.NewTestStore(t)
//	    // use store...
//	}
func NewTestStore(t testing.TB) *Store {
	t.Helper()

	store, err := OpenStoreInMemory()
	if err != nil {
		t.Fatalf("create test store: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}
