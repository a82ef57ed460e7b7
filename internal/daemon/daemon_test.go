package daemon

import (
	"context"
	"log"
	"os"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/inklet/inklet/internal/api"
	"github.com/inklet/inklet/internal/backoff"
	"github.com/inklet/inklet/internal/broadcast"
	"github.com/inklet/inklet/internal/note"
	"github.com/inklet/inklet/internal/storage"
	"github.com/inklet/inklet/internal/syncer"
)

// stubRemote accepts every write so the engine never holds work back.
type stubRemote struct{}

func (stubRemote) ListDocumentsSince(ctx context.Context, since time.Time) ([]api.ServerDocument, error) {
	return nil, nil
}

func (stubRemote) PutDocument(ctx context.Context, id string, req api.PutDocumentRequest) (*api.PutResponse, error) {
	return &api.PutResponse{SyncVersion: req.SyncVersion + 1, SyncedAt: time.Now().UTC()}, nil
}

func (stubRemote) DeleteDocument(ctx context.Context, id string) error { return nil }

func (stubRemote) ListFoldersSince(ctx context.Context, since time.Time) ([]api.ServerFolder, error) {
	return nil, nil
}

func (stubRemote) PutFolder(ctx context.Context, id string, req api.PutFolderRequest) (*api.PutResponse, error) {
	return &api.PutResponse{SyncVersion: req.SyncVersion + 1, SyncedAt: time.Now().UTC()}, nil
}

func (stubRemote) DeleteFolder(ctx context.Context, id string) error { return nil }

// setupDaemon wires a daemon with in-memory storage and an accepting
// remote. The daemon is not started; tests drive its handlers directly.
func setupDaemon(t *testing.T, bcast broadcast.Broadcaster) *Daemon {
	t.Helper()

	logger := log.New(os.Stderr, "[test] ", 0)
	store := note.NewStore()
	engine := syncer.New(syncer.Config{
		Store:   store,
		Remote:  stubRemote{},
		KV:      storage.NewMemory(),
		Backoff: backoff.Policy{InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1, JitterFactor: 0},
		Logger:  logger,
	})
	detector := syncer.NewDetector(engine, logger)
	engine.SetSnapshotRecorder(detector)

	cfg := DefaultConfig()
	cfg.WorkspaceDir = t.TempDir()
	cfg.Store = store
	cfg.Engine = engine
	cfg.Detector = detector
	cfg.Broadcaster = bcast
	cfg.Logger = logger

	d, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create daemon: %v", err)
	}

	detector.Enable(store)
	store.Notify()
	t.Cleanup(detector.Disable)

	return d
}

func TestDeriveName(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"heading", "# Meeting Notes\n\nbody", "Meeting Notes"},
		{"deep heading", "### Subsection\ntext", "Subsection"},
		{"no heading", "just a plain first line\nsecond", "just a plain first line"},
		{"leading blanks", "\n\n  \n# Late Title", "Late Title"},
		{"bare hashes skipped", "###\nreal title", "real title"},
		{"empty", "", "Untitled"},
		{"whitespace only", "  \n\t\n", "Untitled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveName(tt.content); got != tt.want {
				t.Errorf("DeriveName(%q) = %q, want %q", tt.content, got, tt.want)
			}
		})
	}
}

func TestDeriveNameTruncatesLongLines(t *testing.T) {
	long := ""
	for i := 0; i < 50; i++ {
		long += "abcdefghij"
	}
	got := DeriveName("# " + long)
	if len(got) != 120 {
		t.Errorf("expected 120-char name, got %d chars", len(got))
	}
}

func TestDeriveNameTruncatesOnRuneBoundary(t *testing.T) {
	got := DeriveName("# " + strings.Repeat("é", 130))
	if !utf8.ValidString(got) {
		t.Fatalf("truncated name is not valid UTF-8: %q", got)
	}
	if n := utf8.RuneCountInString(got); n != 120 {
		t.Errorf("expected 120 runes, got %d", n)
	}
}

func TestBroadcastUpdateAppliesNewerDocument(t *testing.T) {
	d := setupDaemon(t, broadcast.Noop{})

	old := note.NewDocument("Draft", "old body")
	old.UpdatedAt = time.Now().Add(-time.Minute)
	d.store.Put(old)

	newer := old.Clone()
	newer.Content = "revised body"
	newer.UpdatedAt = time.Now()

	d.handleBroadcast(broadcast.Message{Kind: broadcast.KindDocumentUpdated, Document: newer})

	got := d.store.Get(old.ID)
	if got == nil || got.Content != "revised body" {
		t.Fatalf("newer broadcast not applied: %+v", got)
	}
}

func TestBroadcastUpdateIgnoresStaleDocument(t *testing.T) {
	d := setupDaemon(t, broadcast.Noop{})

	current := note.NewDocument("Draft", "current body")
	current.UpdatedAt = time.Now()
	d.store.Put(current)

	stale := current.Clone()
	stale.Content = "stale body"
	stale.UpdatedAt = time.Now().Add(-time.Minute)

	d.handleBroadcast(broadcast.Message{Kind: broadcast.KindDocumentUpdated, Document: stale})

	got := d.store.Get(current.ID)
	if got.Content != "current body" {
		t.Errorf("stale broadcast overwrote newer local copy: %q", got.Content)
	}
}

func TestBroadcastUpdateDoesNotReEnqueue(t *testing.T) {
	d := setupDaemon(t, broadcast.Noop{})

	doc := note.NewDocument("Shared", "from the other process")
	d.handleBroadcast(broadcast.Message{Kind: broadcast.KindDocumentUpdated, Document: doc})

	if d.store.Get(doc.ID) == nil {
		t.Fatal("broadcast document not stored")
	}
	// The detector saw the content via Record, so nothing is staged
	// for upload: the originating process owns the server write.
	if d.engine.Queue().HasEntity(doc.ID) {
		t.Error("remote-origin document was staged for upload")
	}
}

func TestBroadcastDelete(t *testing.T) {
	d := setupDaemon(t, broadcast.Noop{})

	doc := note.NewDocument("Doomed", "body")
	d.detector.Record(doc.ID, doc.Content)
	d.store.Put(doc)

	d.handleBroadcast(broadcast.Message{Kind: broadcast.KindDocumentDeleted, DocID: doc.ID})

	if d.store.GetAny(doc.ID) != nil {
		t.Error("broadcast delete left the document in the store")
	}
	if d.engine.Queue().HasEntity(doc.ID) {
		t.Error("broadcast delete was staged for upload")
	}
}

func TestBroadcastSyncCompleteAdvancesBookkeeping(t *testing.T) {
	d := setupDaemon(t, broadcast.Noop{})

	doc := note.NewDocument("Synced elsewhere", "body")
	d.detector.Record(doc.ID, doc.Content)
	d.store.Put(doc)

	syncedAt := time.Now().UTC().Truncate(time.Second)
	d.handleBroadcast(broadcast.Message{
		Kind:        broadcast.KindServerSyncComplete,
		DocID:       doc.ID,
		SyncVersion: 7,
		SyncedAt:    &syncedAt,
	})

	got := d.store.Get(doc.ID)
	if got.SyncVersion != 7 {
		t.Errorf("expected sync version 7, got %d", got.SyncVersion)
	}
	if got.SyncedAt == nil || !got.SyncedAt.Equal(syncedAt) {
		t.Errorf("expected synced-at %v, got %v", syncedAt, got.SyncedAt)
	}
}

// TestBusLinksTwoDaemons drives an edit through one daemon and checks
// the sibling converges via the shared bus.
func TestBusLinksTwoDaemons(t *testing.T) {
	bus := broadcast.NewBus()

	a := setupDaemon(t, bus.Peer())
	b := setupDaemon(t, bus.Peer())

	// Each daemon applies incoming bus traffic, as Start would wire.
	unsubA := a.bcast.Subscribe(a.handleBroadcast)
	defer unsubA()
	unsubB := b.bcast.Subscribe(b.handleBroadcast)
	defer unsubB()

	doc := note.NewDocument("Shared note", "written in process A")
	a.detector.Record(doc.ID, doc.Content)
	a.store.Put(doc)
	a.publishUpdate(doc)

	got := b.store.Get(doc.ID)
	if got == nil || got.Content != "written in process A" {
		t.Fatalf("sibling did not receive the update: %+v", got)
	}

	// The sibling must not race A for the server write.
	if b.engine.Queue().HasEntity(doc.ID) {
		t.Error("sibling staged a remote-origin document for upload")
	}

	a.publishDelete(doc.ID)
	if b.store.GetAny(doc.ID) != nil {
		t.Error("sibling did not apply the delete")
	}
}
