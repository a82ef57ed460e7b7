package syncer

import (
	"testing"

	"github.com/inklet/inklet/internal/note"
)

func docItem(id, content string) *QueueItem {
	return &QueueItem{
		ID:   id,
		Type: ItemDocumentUpdate,
		Document: &note.Document{
			ID:      id,
			Content: content,
		},
	}
}

func TestEnqueueDedup(t *testing.T) {
	q := NewQueue()

	q.Enqueue(docItem("a", "v1"))
	q.Enqueue(docItem("b", "v1"))
	q.Enqueue(docItem("a", "v2"))

	if q.Len() != 2 {
		t.Fatalf("expected 2 items after re-enqueue, got %d", q.Len())
	}

	items := q.Items()
	// Replacement keeps the original queue position.
	if items[0].ID != "a" || items[1].ID != "b" {
		t.Errorf("expected order [a b], got [%s %s]", items[0].ID, items[1].ID)
	}
	if items[0].Document.Content != "v2" {
		t.Errorf("expected latest payload, got %q", items[0].Document.Content)
	}
}

func TestEnqueueResetsRetries(t *testing.T) {
	q := NewQueue()

	q.Enqueue(docItem("a", "v1"))
	q.IncrementRetries("a", ItemDocumentUpdate)
	q.IncrementRetries("a", ItemDocumentUpdate)

	q.Enqueue(docItem("a", "v2"))

	if got := q.Items()[0].Retries; got != 0 {
		t.Errorf("re-enqueue should reset retries, got %d", got)
	}
}

func TestSameIDDifferentTypes(t *testing.T) {
	q := NewQueue()

	q.Enqueue(docItem("a", "v1"))
	q.Enqueue(&QueueItem{ID: "a", Type: ItemFolderUpdate})

	if q.Len() != 2 {
		t.Errorf("different types for the same id are distinct items, got %d", q.Len())
	}
	if !q.Has("a", ItemDocumentUpdate) || !q.Has("a", ItemFolderUpdate) {
		t.Error("expected both typed items present")
	}
}

func TestDequeue(t *testing.T) {
	q := NewQueue()

	q.Enqueue(docItem("a", "v1"))
	q.Enqueue(docItem("b", "v1"))

	q.Dequeue("a", ItemDocumentUpdate)

	if q.Has("a", ItemDocumentUpdate) {
		t.Error("item a should be gone")
	}
	if !q.Has("b", ItemDocumentUpdate) {
		t.Error("item b should remain")
	}

	// Dequeueing something absent is fine.
	q.Dequeue("missing", ItemDocumentUpdate)
	if q.Len() != 1 {
		t.Errorf("expected 1 item, got %d", q.Len())
	}
}

func TestDequeueItemSkipsReplacedSlot(t *testing.T) {
	q := NewQueue()

	q.Enqueue(docItem("a", "v1"))
	sent := q.Items()[0]

	// The slot is replaced while the first snapshot is in flight.
	q.Enqueue(docItem("a", "v2"))

	q.DequeueItem(sent)
	if q.Len() != 1 {
		t.Fatalf("replacement must stay queued, got %d items", q.Len())
	}
	if got := q.Items()[0].Document.Content; got != "v2" {
		t.Errorf("expected v2 kept, got %q", got)
	}

	// An unreplaced slot is removed normally.
	current := q.Items()[0]
	q.DequeueItem(current)
	if q.Len() != 0 {
		t.Errorf("expected empty queue, got %d items", q.Len())
	}
}

func TestSetSendVersion(t *testing.T) {
	q := NewQueue()
	q.Enqueue(docItem("a", "v1"))

	q.SetSendVersion("a", ItemDocumentUpdate, 7)
	if got := q.Items()[0].SendVersion; got != 7 {
		t.Errorf("expected send version 7, got %d", got)
	}

	// Absent items are a no-op.
	q.SetSendVersion("missing", ItemDocumentUpdate, 9)
}

func TestIncrementRetries(t *testing.T) {
	q := NewQueue()
	q.Enqueue(docItem("a", "v1"))

	if got := q.IncrementRetries("a", ItemDocumentUpdate); got != 1 {
		t.Errorf("expected 1, got %d", got)
	}
	if got := q.IncrementRetries("a", ItemDocumentUpdate); got != 2 {
		t.Errorf("expected 2, got %d", got)
	}
	if got := q.IncrementRetries("missing", ItemDocumentUpdate); got != 0 {
		t.Errorf("expected 0 for missing item, got %d", got)
	}
}

func TestHasEntity(t *testing.T) {
	q := NewQueue()
	q.Enqueue(&QueueItem{ID: "a", Type: ItemDocumentDelete})

	if !q.HasEntity("a") {
		t.Error("expected entity a pending")
	}
	if q.HasEntity("b") {
		t.Error("entity b should not be pending")
	}
}
