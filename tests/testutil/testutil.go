package testutil

import (
	"context"
	"testing"

	"github.com/popsplit/popsplit/internal/engine"
	"github.com/popsplit/popsplit/internal/store"
)

// SetupTestStore creates a test database and returns the store with a cleanup
// function registered. Uses t.TempDir() for automatic cleanup on completion.
func SetupTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := tmpDir + "/test.db"

	s, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})

	return s
}

// CreateActiveTest creates a two-variant 50/50 test and activates it.
func CreateActiveTest(t *testing.T, eng *engine.Engine, name string) *store.Test {
	t.Helper()

	ctx := context.Background()
	test, err := eng.CreateTest(ctx, name, store.TypeConversion, []engine.VariantSpec{
		{CreativeID: "popup-a", TrafficSplit: 50},
		{CreativeID: "popup-b", TrafficSplit: 50},
	}, 100, 95, false)
	if err != nil {
		t.Fatalf("failed to create test: %v", err)
	}

	if err := eng.Activate(ctx, test.ID); err != nil {
		t.Fatalf("failed to activate test: %v", err)
	}

	test.Status = store.StatusActive
	return test
}
