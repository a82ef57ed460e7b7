package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// setupWatcher starts a FileWatcher over a fresh temp workspace.
func setupWatcher(t *testing.T) (*FileWatcher, string) {
	t.Helper()

	dir := t.TempDir()
	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	if err := fw.Start(dir); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	t.Cleanup(func() {
		if fw.IsRunning() {
			if err := fw.Stop(); err != nil {
				t.Errorf("stop failed: %v", err)
			}
		}
	})
	return fw, dir
}

// awaitEvents drains watcher events until every wanted (doc id, op)
// pair has been seen. The platform may deliver extra writes around a
// change, so unmatched events are skipped, not failed.
func awaitEvents(t *testing.T, fw *FileWatcher, want ...FileEvent) {
	t.Helper()

	missing := make(map[string]bool, len(want))
	for _, w := range want {
		missing[w.DocID+"/"+w.Op.String()] = true
	}

	deadline := time.After(3 * time.Second)
	for len(missing) > 0 {
		select {
		case ev, ok := <-fw.Events():
			if !ok {
				t.Fatal("event channel closed while waiting")
			}
			delete(missing, ev.DocID+"/"+ev.Op.String())
		case <-deadline:
			t.Fatalf("timed out waiting for events, still missing %v", missing)
		}
	}
}

func writeWorkspaceFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestWatcherCreateModifyDelete(t *testing.T) {
	fw, dir := setupWatcher(t)

	path := writeWorkspaceFile(t, dir, "note.md", "# Note\n")
	awaitEvents(t, fw, FileEvent{DocID: "note", Op: OpCreate})

	writeWorkspaceFile(t, dir, "note.md", "# Note\n\nedited\n")
	awaitEvents(t, fw, FileEvent{DocID: "note", Op: OpModify})

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	awaitEvents(t, fw, FileEvent{DocID: "note", Op: OpDelete})
}

func TestWatcherRenameEmitsDeleteAndCreate(t *testing.T) {
	fw, dir := setupWatcher(t)

	old := writeWorkspaceFile(t, dir, "old.md", "content")
	awaitEvents(t, fw, FileEvent{DocID: "old", Op: OpCreate})

	if err := os.Rename(old, filepath.Join(dir, "new.md")); err != nil {
		t.Fatal(err)
	}

	awaitEvents(t, fw,
		FileEvent{DocID: "old", Op: OpDelete},
		FileEvent{DocID: "new", Op: OpCreate},
	)
}

func TestWatcherIgnoresNonMarkdownAndSwapFiles(t *testing.T) {
	fw, dir := setupWatcher(t)

	writeWorkspaceFile(t, dir, "notes.txt", "plain text")
	writeWorkspaceFile(t, dir, ".draft.md", "editor swap")
	writeWorkspaceFile(t, dir, "~draft.md", "editor backup")
	writeWorkspaceFile(t, dir, "real.md", "# Real")

	awaitEvents(t, fw, FileEvent{DocID: "real", Op: OpCreate})

	// Nothing but the real document's events came through.
	for {
		select {
		case ev := <-fw.Events():
			if ev.DocID != "real" {
				t.Fatalf("filtered file leaked through: %s", ev.Path)
			}
		case <-time.After(100 * time.Millisecond):
			return
		}
	}
}

func TestWatcherStop(t *testing.T) {
	fw, _ := setupWatcher(t)

	if !fw.IsRunning() {
		t.Fatal("expected watcher running after start")
	}
	if err := fw.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if fw.IsRunning() {
		t.Error("expected watcher stopped")
	}
	if _, ok := <-fw.Events(); ok {
		t.Error("expected events channel closed after stop")
	}

	// Stop is idempotent.
	if err := fw.Stop(); err != nil {
		t.Errorf("second stop failed: %v", err)
	}
}
