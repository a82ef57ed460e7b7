// Package note provides the document and folder data model for inklet.
package note

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Document represents a single markdown document.
// Fields are flat with last-write-wins semantics: UpdatedAt resolves
// races between devices, SyncVersion tracks the server's view.
type Document struct {
	// ===== Core Identification =====
	ID string `json:"id"`

	// ===== Content =====
	Name    string `json:"name"`
	Content string `json:"content"`

	// FolderID is empty for documents at the workspace root.
	FolderID string `json:"folder_id,omitempty"`

	// ManualName is true once the user has renamed the document,
	// which stops automatic titling from the first heading.
	ManualName bool `json:"manual_name,omitempty"`

	// ===== Ephemeral editor state (never synced authoritatively) =====
	Cursor int `json:"cursor,omitempty"`
	Scroll int `json:"scroll,omitempty"`

	// ===== Sync bookkeeping =====
	// SyncVersion is the last version confirmed by the server. Starts at 0.
	SyncVersion int64      `json:"sync_version"`
	SyncedAt    *time.Time `json:"synced_at,omitempty"`

	// ===== Timestamps =====
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Deleted marks a local tombstone awaiting remote delete confirmation.
	Deleted bool `json:"deleted,omitempty"`
}

// Folder groups documents.
type Folder struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	SyncVersion int64     `json:"sync_version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Deleted     bool      `json:"deleted,omitempty"`
}

// NewDocument creates a document with a fresh client-generated id.
func NewDocument(name, content string) *Document {
	now := time.Now().UTC()
	return &Document{
		ID:        uuid.NewString(),
		Name:      name,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewFolder creates a folder with a fresh client-generated id.
func NewFolder(name string) *Folder {
	now := time.Now().UTC()
	return &Folder{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks that the document has valid field values.
func (d *Document) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("id is required")
	}
	if d.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(d.Name) > 500 {
		return fmt.Errorf("name must be 500 characters or less (got %d)", len(d.Name))
	}
	if d.SyncVersion < 0 {
		return fmt.Errorf("sync_version must not be negative (got %d)", d.SyncVersion)
	}
	if d.UpdatedAt.IsZero() {
		return fmt.Errorf("updated_at is required")
	}
	return nil
}

// Validate checks that the folder has valid field values.
func (f *Folder) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("id is required")
	}
	if f.Name == "" {
		return fmt.Errorf("name is required")
	}
	if f.UpdatedAt.IsZero() {
		return fmt.Errorf("updated_at is required")
	}
	return nil
}

// Clone returns a deep copy. Document has no reference fields beyond
// the timestamp pointer, so a shallow copy plus SyncedAt is enough.
func (d *Document) Clone() *Document {
	c := *d
	if d.SyncedAt != nil {
		t := *d.SyncedAt
		c.SyncedAt = &t
	}
	return &c
}

// Clone returns a copy of the folder.
func (f *Folder) Clone() *Folder {
	c := *f
	return &c
}

// NewerThan reports whether this document's UpdatedAt is strictly
// newer than other's. Used for last-write-wins application of pushed
// and broadcast copies.
func (d *Document) NewerThan(other *Document) bool {
	if other == nil {
		return true
	}
	return d.UpdatedAt.After(other.UpdatedAt)
}

// Filename returns the canonical workspace filename for this document.
func (d *Document) Filename() string {
	return d.ID + ".md"
}
