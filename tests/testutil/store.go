package testutil

import (
	"context"
	"testing"

	"calmirror/internal/model"
	"calmirror/internal/store"
)

// NewTestStore opens an in-memory SQLiteStore with migrations applied and
// closes it when the test finishes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// SeedMapping records a task-to-event mapping, failing the test on error.
func SeedMapping(t *testing.T, s *store.SQLiteStore, taskID string, entry model.MappingEntry) {
	t.Helper()

	if err := s.PutMapping(context.Background(), taskID, entry); err != nil {
		t.Fatalf("seeding mapping %s: %v", taskID, err)
	}
}
