package syncer

import (
	"log"
	"os"
	"sync"

	"github.com/inklet/inklet/internal/note"
)

// Detector watches the document store and stages outbound sync work
// for anything that changed since the last observation.
//
// The first observation after Enable is a baseline: it seeds the
// content snapshots without enqueueing anything, so enabling sync on
// an existing workspace does not re-upload every document.
type Detector struct {
	engine *Engine
	logger *log.Logger

	mu        sync.Mutex
	enabled   bool
	baselined bool
	snapshots map[string]string
	unobserve func()
}

// NewDetector creates a detector feeding the given engine.
func NewDetector(engine *Engine, logger *log.Logger) *Detector {
	if logger == nil {
		logger = log.New(os.Stderr, "[detector] ", log.LstdFlags)
	}
	return &Detector{
		engine:    engine,
		logger:    logger,
		snapshots: make(map[string]string),
	}
}

// Enable registers the detector as a store observer. Calling Enable
// twice is a no-op.
func (d *Detector) Enable(store *note.Store) {
	d.mu.Lock()
	if d.enabled {
		d.mu.Unlock()
		return
	}
	d.enabled = true
	d.baselined = false
	d.mu.Unlock()

	unobserve := store.Observe(d.observe)

	d.mu.Lock()
	d.unobserve = unobserve
	d.mu.Unlock()
}

// Disable unregisters the observer and clears all snapshots. Pending
// queue items are left alone; only change detection stops.
func (d *Detector) Disable() {
	d.mu.Lock()
	if !d.enabled {
		d.mu.Unlock()
		return
	}
	d.enabled = false
	d.baselined = false
	unobserve := d.unobserve
	d.unobserve = nil
	d.snapshots = make(map[string]string)
	d.mu.Unlock()

	if unobserve != nil {
		unobserve()
	}
}

// Record updates the snapshot for a document whose content change
// originated remotely, so the next observation does not mistake it
// for a local edit and upload it back. Call before mutating the store.
func (d *Detector) Record(id, content string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.enabled {
		return
	}
	d.snapshots[id] = content
}

// Forget drops the snapshot for a document removed remotely, so its
// disappearance from the store is not staged as a local delete.
func (d *Detector) Forget(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.snapshots, id)
}

// observe diffs the current document set against the snapshots and
// stages sync work for additions, edits, and removals. Work is staged
// before any drain can run for it, so the queue is the single source
// of pending-change truth.
func (d *Detector) observe(docs []*note.Document) {
	d.mu.Lock()
	if !d.enabled {
		d.mu.Unlock()
		return
	}

	if !d.baselined {
		d.baselined = true
		for _, doc := range docs {
			d.snapshots[doc.ID] = doc.Content
		}
		d.mu.Unlock()
		return
	}

	seen := make(map[string]bool, len(docs))
	var changed []*note.Document
	for _, doc := range docs {
		seen[doc.ID] = true
		prev, ok := d.snapshots[doc.ID]
		if !ok || prev != doc.Content {
			d.snapshots[doc.ID] = doc.Content
			changed = append(changed, doc)
		}
	}

	var removed []string
	for id := range d.snapshots {
		if !seen[id] {
			removed = append(removed, id)
			delete(d.snapshots, id)
		}
	}
	d.mu.Unlock()

	for _, doc := range changed {
		d.engine.QueueDocumentSync(doc)
	}
	for _, id := range removed {
		d.engine.QueueDocumentDelete(id)
	}
	if len(changed) > 0 || len(removed) > 0 {
		d.logger.Printf("Staged %d update(s) and %d delete(s)", len(changed), len(removed))
	}
}
