package factory

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/inbetweenies/graphsync/internal/storage"
)

func TestNewMemoryBackend(t *testing.T) {
	store, err := New(context.Background(), "memory://")
	if err != nil {
		t.Fatalf("New(memory): %v", err)
	}
	defer store.Close()
}

func TestNewEmptyDSNDefaultsToMemory(t *testing.T) {
	store, err := New(context.Background(), "")
	if err != nil {
		t.Fatalf("New(\"\"): %v", err)
	}
	defer store.Close()
}

func TestNewSQLiteBackend(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "graph.db")
	store, err := New(context.Background(), "sqlite://"+dbPath)
	if err != nil {
		t.Fatalf("New(sqlite): %v", err)
	}
	defer store.Close()
}

func TestNewUnknownBackend(t *testing.T) {
	_, err := New(context.Background(), "postgres://localhost/x")
	if err == nil {
		t.Fatal("expected error for unregistered backend scheme")
	}
	if !strings.Contains(err.Error(), "unknown storage backend") {
		t.Errorf("expected unknown-backend message, got: %v", err)
	}
}

func TestRegisterBackendOverride(t *testing.T) {
	called := false
	RegisterBackend("test-backend", func(ctx context.Context, path string, opts Options) (storage.Storage, error) {
		t.Fatal("overwritten factory was invoked")
		return nil, nil
	})
	RegisterBackend("test-backend", func(ctx context.Context, path string, opts Options) (storage.Storage, error) {
		called = true
		return nil, nil
	})
	defer delete(backendRegistry, "test-backend")

	if _, err := New(context.Background(), "test-backend://anything"); err != nil {
		t.Fatalf("New(test-backend): %v", err)
	}
	if !called {
		t.Error("registered backend factory was not invoked")
	}
}
