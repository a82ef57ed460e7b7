package note

import (
	"sort"
	"sync"
	"time"
)

// Observer is invoked synchronously after every committed store
// mutation. Observers must not mutate the store from inside the
// callback; they receive cloned snapshots and may inspect them freely.
type Observer func(docs []*Document)

// Store is the in-memory authoritative document collection.
//
// All mutations notify registered observers synchronously after the
// change is committed, so a change detector sees every state the
// collection passes through. Reads return clones; callers never share
// memory with the store.
type Store struct {
	mu        sync.Mutex
	docs      map[string]*Document
	folders   map[string]*Folder
	observers map[int]Observer
	nextObsID int
}

// NewStore creates an empty document store.
func NewStore() *Store {
	return &Store{
		docs:      make(map[string]*Document),
		folders:   make(map[string]*Folder),
		observers: make(map[int]Observer),
	}
}

// Observe registers an observer and returns an unsubscribe function.
func (s *Store) Observe(fn Observer) func() {
	s.mu.Lock()
	id := s.nextObsID
	s.nextObsID++
	s.observers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

// notifyLocked snapshots the collection and invokes observers outside
// the lock, so an observer can call back into read methods.
func (s *Store) notifyLocked() ([]*Document, []Observer) {
	snapshot := make([]*Document, 0, len(s.docs))
	for _, d := range s.docs {
		if d.Deleted {
			continue
		}
		snapshot = append(snapshot, d.Clone())
	}
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].ID < snapshot[j].ID })

	obs := make([]Observer, 0, len(s.observers))
	for _, fn := range s.observers {
		obs = append(obs, fn)
	}
	return snapshot, obs
}

func (s *Store) commit() {
	snapshot, obs := s.notifyLocked()
	s.mu.Unlock()
	for _, fn := range obs {
		fn(snapshot)
	}
}

// Notify invokes observers with the current snapshot without any
// mutation. Used to seed a freshly registered observer.
func (s *Store) Notify() {
	s.mu.Lock()
	s.commit()
}

// Put inserts or replaces a document.
func (s *Store) Put(doc *Document) {
	s.mu.Lock()
	s.docs[doc.ID] = doc.Clone()
	s.commit()
}

// SetContent replaces a document's content and bumps UpdatedAt.
// It is a no-op for unknown ids.
func (s *Store) SetContent(id, content string) {
	s.mu.Lock()
	doc, ok := s.docs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	doc.Content = content
	doc.UpdatedAt = time.Now().UTC()
	s.commit()
}

// AdvanceSynced records a server-confirmed sync version for a document
// without touching its content or UpdatedAt.
func (s *Store) AdvanceSynced(id string, version int64, syncedAt time.Time) {
	s.mu.Lock()
	doc, ok := s.docs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	doc.SyncVersion = version
	t := syncedAt
	doc.SyncedAt = &t
	s.commit()
}

// Tombstone soft-deletes a document. The entry stays in the map until
// Remove confirms the remote delete, but observers no longer see it.
func (s *Store) Tombstone(id string) {
	s.mu.Lock()
	doc, ok := s.docs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	doc.Deleted = true
	doc.UpdatedAt = time.Now().UTC()
	s.commit()
}

// Remove hard-deletes a document. Idempotent.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	if _, ok := s.docs[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.docs, id)
	s.commit()
}

// Get returns a clone of the document, or nil if absent or tombstoned.
func (s *Store) Get(id string) *Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok || doc.Deleted {
		return nil
	}
	return doc.Clone()
}

// GetAny returns a clone of the document even if tombstoned.
func (s *Store) GetAny(id string) *Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil
	}
	return doc.Clone()
}

// List returns clones of all live documents, ordered by id.
func (s *Store) List() []*Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Document, 0, len(s.docs))
	for _, d := range s.docs {
		if d.Deleted {
			continue
		}
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of live documents.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.docs {
		if !d.Deleted {
			n++
		}
	}
	return n
}

// PutFolder inserts or replaces a folder.
func (s *Store) PutFolder(f *Folder) {
	s.mu.Lock()
	s.folders[f.ID] = f.Clone()
	s.commit()
}

// RemoveFolder hard-deletes a folder. Documents keep their FolderID;
// the server is the authority on reparenting.
func (s *Store) RemoveFolder(id string) {
	s.mu.Lock()
	if _, ok := s.folders[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.folders, id)
	s.commit()
}

// GetFolder returns a clone of the folder, or nil if absent.
func (s *Store) GetFolder(id string) *Folder {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.folders[id]
	if !ok || f.Deleted {
		return nil
	}
	return f.Clone()
}

// ListFolders returns clones of all live folders, ordered by id.
func (s *Store) ListFolders() []*Folder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Folder, 0, len(s.folders))
	for _, f := range s.folders {
		if f.Deleted {
			continue
		}
		out = append(out, f.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
