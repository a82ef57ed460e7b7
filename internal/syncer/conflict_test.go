package syncer

import (
	"testing"
	"time"

	"github.com/inklet/inklet/internal/api"
	"github.com/inklet/inklet/internal/note"
)

func testConflict(docID string, serverVersion int64) *Conflict {
	return &Conflict{
		DocID:      docID,
		Local:      &note.Document{ID: docID, Content: "local"},
		Server:     api.ServerDocument{ID: docID, Content: "server", SyncVersion: serverVersion},
		DetectedAt: time.Now().UTC(),
	}
}

func TestAddReplacesUnresolved(t *testing.T) {
	c := NewConflicts()

	c.Add(testConflict("doc-1", 3))
	c.Add(testConflict("doc-1", 4))

	if c.UnresolvedCount() != 1 {
		t.Fatalf("expected single unresolved conflict per doc, got %d", c.UnresolvedCount())
	}
	if got := c.Get("doc-1").Server.SyncVersion; got != 4 {
		t.Errorf("expected latest detection kept, got version %d", got)
	}
}

func TestResolveStamps(t *testing.T) {
	c := NewConflicts()
	c.Add(testConflict("doc-1", 3))

	resolved, err := c.Resolve("doc-1", ResolutionLocal)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if !resolved.Resolved() {
		t.Error("expected resolution stamp")
	}
	if resolved.Resolution != ResolutionLocal {
		t.Errorf("expected local resolution, got %q", resolved.Resolution)
	}
	if c.UnresolvedCount() != 0 {
		t.Errorf("expected no unresolved conflicts, got %d", c.UnresolvedCount())
	}

	// A second detection after resolution is a new conflict.
	c.Add(testConflict("doc-1", 5))
	if c.UnresolvedCount() != 1 {
		t.Errorf("expected new conflict after resolution, got %d", c.UnresolvedCount())
	}
}

func TestResolveValidation(t *testing.T) {
	c := NewConflicts()
	c.Add(testConflict("doc-1", 3))

	if _, err := c.Resolve("doc-1", Resolution("merge")); err == nil {
		t.Error("expected error for unknown resolution")
	}
	if _, err := c.Resolve("doc-2", ResolutionLocal); err == nil {
		t.Error("expected error for unknown document")
	}
}

func TestActivePointer(t *testing.T) {
	c := NewConflicts()
	c.Add(testConflict("doc-1", 3))

	c.SetActive("doc-1")
	if got := c.Active(); got == nil || got.DocID != "doc-1" {
		t.Fatalf("expected doc-1 active, got %+v", got)
	}

	if _, err := c.Resolve("doc-1", ResolutionServer); err != nil {
		t.Fatal(err)
	}
	if c.Active() != nil {
		t.Error("resolving the active conflict should clear the pointer")
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	c := NewConflicts()
	c.Add(testConflict("doc-1", 3))
	c.Add(testConflict("doc-2", 8))

	restored := NewConflicts()
	restored.Restore(c.Snapshot())

	if restored.UnresolvedCount() != 2 {
		t.Errorf("expected 2 restored conflicts, got %d", restored.UnresolvedCount())
	}
	if restored.Get("doc-2") == nil {
		t.Error("expected doc-2 conflict restored")
	}
}
