package persistence

import (
	"os"
	"path/filepath"
	"testing"
)

type testState struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestJSONFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	store := NewJSONFileStore(path)

	var missing testState
	if err := store.Load(&missing); err != ErrNotExists {
		t.Fatalf("expected ErrNotExists, got %v", err)
	}

	if err := store.Save(&testState{Name: "x", Count: 3}); err != nil {
		t.Fatalf("save: %v", err)
	}

	var got testState
	if err := store.Load(&got); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Name != "x" || got.Count != 3 {
		t.Fatalf("unexpected state: %+v", got)
	}

	// 临时文件不能残留
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the state file, got %d entries", len(entries))
	}
}

func TestJSONFileStore_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	var got testState
	if err := NewJSONFileStore(path).Load(&got); err != ErrNotExists {
		t.Fatalf("empty file should read as not-exists, got %v", err)
	}
}
