package storage

import (
	"path/filepath"
	"testing"
	"time"
)

// setupTestDB creates a temporary database for testing.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("close failed: %v", err)
		}
	})

	if err := db.InitSchema(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}

	return db
}

func TestKVRoundTrip(t *testing.T) {
	db := setupTestDB(t)

	if _, ok, err := db.Get("missing"); err != nil || ok {
		t.Fatalf("expected absent key, got ok=%v err=%v", ok, err)
	}

	if err := db.Set("inklet/sync-state", `{"pendingQueue":[]}`); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	value, ok, err := db.Get("inklet/sync-state")
	if err != nil || !ok {
		t.Fatalf("get failed: ok=%v err=%v", ok, err)
	}
	if value != `{"pendingQueue":[]}` {
		t.Errorf("unexpected value: %q", value)
	}

	// Set replaces.
	if err := db.Set("inklet/sync-state", "v2"); err != nil {
		t.Fatal(err)
	}
	value, _, _ = db.Get("inklet/sync-state")
	if value != "v2" {
		t.Errorf("expected replacement, got %q", value)
	}

	if err := db.Remove("inklet/sync-state"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, ok, _ := db.Get("inklet/sync-state"); ok {
		t.Error("expected key removed")
	}

	// Remove is idempotent.
	if err := db.Remove("inklet/sync-state"); err != nil {
		t.Errorf("second remove failed: %v", err)
	}
}

func TestInitSchemaIdempotent(t *testing.T) {
	db := setupTestDB(t)
	if err := db.InitSchema(); err != nil {
		t.Fatalf("second InitSchema failed: %v", err)
	}
}

func TestVersionRoundTrip(t *testing.T) {
	db := setupTestDB(t)

	id, err := db.SaveVersion("doc-1", "My note", "# My note\n\ncontent")
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	v, err := db.GetVersion(id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if v.DocID != "doc-1" || v.Name != "My note" || v.Content != "# My note\n\ncontent" {
		t.Errorf("snapshot not preserved: %+v", v)
	}
	if v.SavedAt.IsZero() {
		t.Error("expected SavedAt to be stamped")
	}

	_, err = db.GetVersion("nope")
	if !ErrVersionNotFound(err) {
		t.Errorf("expected not-found sentinel, got %v", err)
	}
}

func TestListVersionsOldestFirst(t *testing.T) {
	db := setupTestDB(t)

	for i, content := range []string{"v1", "v2", "v3"} {
		if _, err := db.SaveVersion("doc-1", "Note", content); err != nil {
			t.Fatalf("save %d failed: %v", i, err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	if _, err := db.SaveVersion("doc-2", "Other", "x"); err != nil {
		t.Fatal(err)
	}

	versions, err := db.ListVersions("doc-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("expected 3 versions, got %d", len(versions))
	}
	if versions[0].Content != "v1" || versions[2].Content != "v3" {
		t.Errorf("expected oldest-first order, got [%s .. %s]",
			versions[0].Content, versions[2].Content)
	}
}

func TestPruneVersions(t *testing.T) {
	db := setupTestDB(t)

	for _, content := range []string{"v1", "v2", "v3", "v4", "v5"} {
		if _, err := db.SaveVersion("doc-1", "Note", content); err != nil {
			t.Fatal(err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	deleted, err := db.PruneVersions("doc-1", 2)
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if deleted != 3 {
		t.Errorf("expected 3 pruned, got %d", deleted)
	}

	versions, err := db.ListVersions("doc-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected 2 kept, got %d", len(versions))
	}
	if versions[0].Content != "v4" || versions[1].Content != "v5" {
		t.Errorf("expected the newest snapshots kept, got [%s %s]",
			versions[0].Content, versions[1].Content)
	}
}

func TestMemoryKV(t *testing.T) {
	kv := NewMemory()

	if err := kv.Set("k", "v"); err != nil {
		t.Fatal(err)
	}
	value, ok, err := kv.Get("k")
	if err != nil || !ok || value != "v" {
		t.Fatalf("unexpected get result: %q %v %v", value, ok, err)
	}
	if err := kv.Remove("k"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := kv.Get("k"); ok {
		t.Error("expected key removed")
	}
}
