package syncer

import (
	"fmt"
	"sync"
	"time"

	"github.com/inklet/inklet/internal/api"
	"github.com/inklet/inklet/internal/note"
)

// Resolution is the user's choice for a sync conflict.
type Resolution string

const (
	// ResolutionLocal re-sends the local content at the server's
	// newer version, overwriting the server copy.
	ResolutionLocal Resolution = "local"

	// ResolutionServer discards local content in favor of the
	// server snapshot.
	ResolutionServer Resolution = "server"

	// ResolutionBoth keeps the local document unchanged and hands
	// the server snapshot back so the caller can materialize it as
	// a separate new document.
	ResolutionBoth Resolution = "both"
)

// Conflict records a detected divergence between the local document
// and a strictly newer server version. At most one unresolved conflict
// exists per document id.
type Conflict struct {
	DocID      string             `json:"doc_id"`
	Local      *note.Document     `json:"local"`
	Server     api.ServerDocument `json:"server"`
	DetectedAt time.Time          `json:"detected_at"`
	Resolution Resolution         `json:"resolution,omitempty"`
	ResolvedAt *time.Time         `json:"resolved_at,omitempty"`
}

// Resolved reports whether a resolution has been stamped.
func (c *Conflict) Resolved() bool {
	return c.ResolvedAt != nil
}

// Conflicts tracks unresolved conflicts and applies resolution stamps.
// Side effects of a resolution (re-enqueueing, overwriting local
// state) belong to the engine; this type only owns the records.
type Conflicts struct {
	mu     sync.Mutex
	list   []*Conflict
	active string
}

// NewConflicts creates an empty tracker.
func NewConflicts() *Conflicts {
	return &Conflicts{}
}

// Add records a conflict, replacing any existing unresolved conflict
// for the same document id. Conflicts are never accumulated per id, so
// detecting the same divergence twice before resolution stays a single
// entry.
func (t *Conflicts) Add(c *Conflict) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, existing := range t.list {
		if existing.DocID == c.DocID && !existing.Resolved() {
			t.list[i] = c
			return
		}
	}
	t.list = append(t.list, c)
}

// Get returns the unresolved conflict for the document id, or nil.
func (t *Conflicts) Get(docID string) *Conflict {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, c := range t.list {
		if c.DocID == docID && !c.Resolved() {
			return c
		}
	}
	return nil
}

// Unresolved returns all unresolved conflicts in detection order.
func (t *Conflicts) Unresolved() []*Conflict {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*Conflict
	for _, c := range t.list {
		if !c.Resolved() {
			out = append(out, c)
		}
	}
	return out
}

// UnresolvedCount returns the number of unresolved conflicts, the
// value status displays show and the gate for a fully synced state.
func (t *Conflicts) UnresolvedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, c := range t.list {
		if !c.Resolved() {
			n++
		}
	}
	return n
}

// Resolve stamps the resolution on the unresolved conflict for docID
// and returns it. If the conflict was the active one being viewed, the
// active pointer is cleared.
func (t *Conflicts) Resolve(docID string, res Resolution) (*Conflict, error) {
	switch res {
	case ResolutionLocal, ResolutionServer, ResolutionBoth:
	default:
		return nil, fmt.Errorf("unknown resolution %q", res)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, c := range t.list {
		if c.DocID == docID && !c.Resolved() {
			now := time.Now().UTC()
			c.Resolution = res
			c.ResolvedAt = &now
			if t.active == docID {
				t.active = ""
			}
			return c, nil
		}
	}
	return nil, fmt.Errorf("no unresolved conflict for document %s", docID)
}

// Snapshot returns the unresolved conflicts for persistence.
func (t *Conflicts) Snapshot() []*Conflict {
	return t.Unresolved()
}

// Restore replaces the tracker contents with persisted conflicts.
func (t *Conflicts) Restore(list []*Conflict) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.list = list
	t.active = ""
}

// SetActive marks the conflict currently shown in the resolution UI.
func (t *Conflicts) SetActive(docID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = docID
}

// Active returns the conflict currently being viewed, or nil.
func (t *Conflicts) Active() *Conflict {
	t.mu.Lock()
	active := t.active
	t.mu.Unlock()

	if active == "" {
		return nil
	}
	return t.Get(active)
}
