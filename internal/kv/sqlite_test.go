package kv

import (
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_GetSet(t *testing.T) {
	store := newTestStore(t)

	if _, ok, err := store.Get("threads"); err != nil || ok {
		t.Fatalf("Get missing key: ok=%v err=%v, want absent", ok, err)
	}

	if err := store.Set("threads", `[{"id":"t1"}]`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	value, ok, err := store.Get("threads")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || value != `[{"id":"t1"}]` {
		t.Fatalf("Get=%q ok=%v, want stored value", value, ok)
	}

	// Overwrite
	if err := store.Set("threads", `[]`); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	value, _, _ = store.Get("threads")
	if value != `[]` {
		t.Fatalf("Get after overwrite=%q, want %q", value, `[]`)
	}
}

func TestSQLiteStore_Delete(t *testing.T) {
	store := newTestStore(t)

	if err := store.Set("rules", "[]"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Delete("rules"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := store.Get("rules"); ok {
		t.Fatal("key should be gone after Delete")
	}

	// Deleting a missing key is a no-op.
	if err := store.Delete("rules"); err != nil {
		t.Fatalf("Delete missing: %v", err)
	}
}

func TestSQLiteStore_EmptyKey(t *testing.T) {
	store := newTestStore(t)
	if err := store.Set("", "x"); err == nil {
		t.Fatal("expected error for empty key")
	}
	if _, _, err := store.Get(" "); err == nil {
		t.Fatal("expected error for blank key")
	}
}

func TestSQLiteStore_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := store.Set("k", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	value, ok, err := reopened.Get("k")
	if err != nil || !ok || value != "v" {
		t.Fatalf("Get after reopen=%q ok=%v err=%v, want v", value, ok, err)
	}
}
