package syncer

import (
	"log"
	"os"
	"testing"

	"github.com/inklet/inklet/internal/note"
)

func setupDetector(t *testing.T) (*Detector, *Engine, *note.Store) {
	t.Helper()

	remote := &fakeRemote{}
	engine, store, _ := setupEngine(t, remote)
	detector := NewDetector(engine, log.New(os.Stderr, "[test] ", 0))
	return detector, engine, store
}

func TestBaselineDoesNotEnqueue(t *testing.T) {
	detector, engine, store := setupDetector(t)

	putTestDoc(t, store, "doc-1", "existing")
	putTestDoc(t, store, "doc-2", "existing")

	detector.Enable(store)
	store.Notify()

	if engine.PendingCount() != 0 {
		t.Errorf("baseline observation must not stage uploads, got %d", engine.PendingCount())
	}
}

func TestEditAfterBaselineEnqueues(t *testing.T) {
	detector, engine, store := setupDetector(t)

	putTestDoc(t, store, "doc-1", "v1")
	detector.Enable(store)
	store.Notify()

	store.SetContent("doc-1", "v2")

	if !engine.Queue().Has("doc-1", ItemDocumentUpdate) {
		t.Fatal("expected edit staged for sync")
	}
	items := engine.Queue().Items()
	if items[0].Document.Content != "v2" {
		t.Errorf("expected latest content staged, got %q", items[0].Document.Content)
	}
}

func TestNewDocumentEnqueues(t *testing.T) {
	detector, engine, store := setupDetector(t)

	detector.Enable(store)
	store.Notify()

	putTestDoc(t, store, "doc-1", "fresh")

	if !engine.Queue().Has("doc-1", ItemDocumentUpdate) {
		t.Error("expected new document staged for sync")
	}
}

func TestDeletionEnqueuesDelete(t *testing.T) {
	detector, engine, store := setupDetector(t)

	putTestDoc(t, store, "doc-1", "v1")
	detector.Enable(store)
	store.Notify()

	store.Tombstone("doc-1")

	if !engine.Queue().Has("doc-1", ItemDocumentDelete) {
		t.Error("expected tombstoned document staged as a delete")
	}
}

func TestRecordSuppressesRemoteEcho(t *testing.T) {
	detector, engine, store := setupDetector(t)

	detector.Enable(store)
	store.Notify()

	// A remote-origin change is recorded before the store mutation,
	// so the observer sees it as already known.
	detector.Record("doc-1", "remote content")
	putTestDoc(t, store, "doc-1", "remote content")

	if engine.PendingCount() != 0 {
		t.Errorf("remote-origin change must not be re-uploaded, got %d staged", engine.PendingCount())
	}

	// A real local edit afterwards still stages.
	store.SetContent("doc-1", "local edit")
	if !engine.Queue().Has("doc-1", ItemDocumentUpdate) {
		t.Error("expected subsequent local edit staged")
	}
}

func TestForgetSuppressesRemoteDelete(t *testing.T) {
	detector, engine, store := setupDetector(t)

	putTestDoc(t, store, "doc-1", "v1")
	detector.Enable(store)
	store.Notify()

	// Remote delete: forget first, then remove.
	detector.Forget("doc-1")
	store.Remove("doc-1")

	if engine.Queue().Has("doc-1", ItemDocumentDelete) {
		t.Error("remote-origin delete must not be staged back to the server")
	}
}

func TestDisableStopsDetection(t *testing.T) {
	detector, engine, store := setupDetector(t)

	detector.Enable(store)
	store.Notify()
	detector.Disable()

	putTestDoc(t, store, "doc-1", "v1")

	if engine.PendingCount() != 0 {
		t.Errorf("disabled detector staged %d item(s)", engine.PendingCount())
	}

	// Re-enabling re-baselines instead of replaying history.
	detector.Enable(store)
	store.Notify()
	if engine.PendingCount() != 0 {
		t.Errorf("re-enable baseline staged %d item(s)", engine.PendingCount())
	}
}
