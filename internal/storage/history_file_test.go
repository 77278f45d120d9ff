package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"modelgen/internal/domain"
)

func TestHistoryFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", ".3dgen-history.json")
	store, err := NewHistoryFile(path, nil)
	if err != nil {
		t.Fatalf("NewHistoryFile: %v", err)
	}

	completed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	jobs := []domain.Job{
		{ID: "b", Name: "second", Status: domain.StatusCompleted, Progress: 100, CompletedAt: &completed, Downloads: domain.Downloads{domain.FormatGLB: "u"}},
		{ID: "a", Name: "first", Status: domain.StatusProcessing, Progress: 40},
	}
	if err := store.Save(context.Background(), jobs); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 2 || loaded[0].ID != "b" || loaded[1].ID != "a" {
		t.Fatalf("loaded = %#v", loaded)
	}
	if loaded[0].CompletedAt == nil || !loaded[0].CompletedAt.Equal(completed) {
		t.Fatalf("completedAt = %v", loaded[0].CompletedAt)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("temporary files left behind: %v", entries)
	}
}

func TestHistoryFileMissingIsEmpty(t *testing.T) {
	store, _ := NewHistoryFile(filepath.Join(t.TempDir(), "none.json"), nil)
	jobs, err := store.Load(context.Background())
	if err != nil || len(jobs) != 0 {
		t.Fatalf("expected empty history, got %#v, %v", jobs, err)
	}
}

func TestHistoryFileCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	store, _ := NewHistoryFile(path, nil)
	_, err := store.Load(context.Background())
	var perr *domain.PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
}

func TestHistoryFileRequiresPath(t *testing.T) {
	if _, err := NewHistoryFile("  ", nil); err == nil {
		t.Fatalf("expected error for blank path")
	}
}
