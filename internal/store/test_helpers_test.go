package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

// createTestStore creates a temporary store with a fixed, advancing clock.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	st, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	base := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	var tick int
	st.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return st
}

func beginTestRun(t *testing.T, st *Store, id string) {
	t.Helper()
	err := st.BeginRun(context.Background(), Run{
		ID: id, Flow: "schema", Mode: "apply",
		EnvURL: "https://org.crm.dynamics.com", Prefix: "po",
	})
	if err != nil {
		t.Fatalf("BeginRun(%s) failed: %v", id, err)
	}
}
