package syncer

import (
	"sync"
	"time"

	"github.com/inklet/inklet/internal/note"
)

// ItemType identifies the remote operation a queue item represents.
type ItemType string

const (
	// ItemDocumentUpdate upserts a document on the server.
	ItemDocumentUpdate ItemType = "document-update"
	// ItemDocumentDelete removes a document from the server.
	ItemDocumentDelete ItemType = "document-delete"
	// ItemFolderUpdate upserts a folder on the server.
	ItemFolderUpdate ItemType = "folder-update"
	// ItemFolderDelete removes a folder from the server.
	ItemFolderDelete ItemType = "folder-delete"
)

// QueueItem is one pending outbound operation. The payload is a
// snapshot taken at enqueue time; re-enqueuing the same (ID, Type)
// replaces the snapshot so only the latest edit is ever sent.
type QueueItem struct {
	ID   string   `json:"id"`
	Type ItemType `json:"type"`

	// Document is the payload snapshot for document updates.
	Document *note.Document `json:"document,omitempty"`

	// Folder is the payload snapshot for folder updates.
	Folder *note.Folder `json:"folder,omitempty"`

	// SendVersion is the sync version the request will carry:
	// the last server-confirmed version when known, else the
	// document's own stored version.
	SendVersion int64 `json:"send_version"`

	EnqueuedAt time.Time `json:"enqueued_at"`
	Retries    int       `json:"retries"`
}

// Queue is the deduplicated staging area for outbound operations.
//
// Invariant: at most one item per (ID, Type) pair. Enqueue replaces an
// existing item in place, preserving its queue position, with a fresh
// timestamp and the retry counter reset. Ordering is otherwise FIFO.
type Queue struct {
	mu    sync.Mutex
	items []*QueueItem
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue adds an operation, replacing any existing item with the same
// id and type in place.
func (q *Queue) Enqueue(item *QueueItem) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item.EnqueuedAt = time.Now().UTC()
	item.Retries = 0

	for i, existing := range q.items {
		if existing.ID == item.ID && existing.Type == item.Type {
			q.items[i] = item
			return
		}
	}
	q.items = append(q.items, item)
}

// Dequeue removes the item with the given id and type. No error if
// absent.
func (q *Queue) Dequeue(id string, typ ItemType) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, item := range q.items {
		if item.ID == id && item.Type == typ {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return
		}
	}
}

// DequeueItem removes the slot for the item's id and type only if it
// still holds this exact item. If Enqueue replaced the slot while the
// item was in flight, the newer snapshot stays queued for the next
// drain pass.
func (q *Queue) DequeueItem(item *QueueItem) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, existing := range q.items {
		if existing == item {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return
		}
	}
}

// SetSendVersion updates the send version of a pending item. Used when
// a snapshot was replaced mid-flight: the replacement must carry the
// version the server just confirmed, not the one it was staged with.
func (q *Queue) SetSendVersion(id string, typ ItemType, version int64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, item := range q.items {
		if item.ID == id && item.Type == typ {
			item.SendVersion = version
			return
		}
	}
}

// IncrementRetries bumps the retry counter for the item and returns
// the new count, or 0 if the item is gone.
func (q *Queue) IncrementRetries(id string, typ ItemType) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, item := range q.items {
		if item.ID == id && item.Type == typ {
			item.Retries++
			return item.Retries
		}
	}
	return 0
}

// Items returns a snapshot of the pending items in queue order.
func (q *Queue) Items() []*QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*QueueItem, len(q.items))
	copy(out, q.items)
	return out
}

// Len returns the number of pending items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Has reports whether an item with the given id and type is pending.
func (q *Queue) Has(id string, typ ItemType) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, item := range q.items {
		if item.ID == id && item.Type == typ {
			return true
		}
	}
	return false
}

// HasEntity reports whether any operation for the id is pending.
func (q *Queue) HasEntity(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, item := range q.items {
		if item.ID == id {
			return true
		}
	}
	return false
}

// Replace swaps the queue contents, used when loading persisted state.
func (q *Queue) Replace(items []*QueueItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = items
}
