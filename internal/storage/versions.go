package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Version is a point-in-time snapshot of a document's content, taken
// before destructive operations (conflict resolution, remote
// overwrite) so no edit is silently lost.
type Version struct {
	ID      string    `json:"id"`
	DocID   string    `json:"doc_id"`
	Name    string    `json:"name"`
	Content string    `json:"content"`
	SavedAt time.Time `json:"saved_at"`
}

// SaveVersion stores a snapshot and returns its generated id.
func (db *DB) SaveVersion(docID, name, content string) (string, error) {
	id := uuid.NewString()
	query := `INSERT INTO versions (id, doc_id, name, content, saved_at) VALUES (?, ?, ?, ?, ?)`
	_, err := db.conn.Exec(query, id, docID, name, content,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("failed to save version for %s: %w", docID, err)
	}
	return id, nil
}

// GetVersion retrieves a snapshot by version id.
// Returns sql.ErrNoRows if not found.
func (db *DB) GetVersion(id string) (*Version, error) {
	row := db.conn.QueryRow(
		"SELECT id, doc_id, name, content, saved_at FROM versions WHERE id = ?", id)

	var v Version
	var savedAt string
	if err := row.Scan(&v.ID, &v.DocID, &v.Name, &v.Content, &savedAt); err != nil {
		return nil, err
	}
	if t, err := time.Parse(time.RFC3339Nano, savedAt); err == nil {
		v.SavedAt = t
	}
	return &v, nil
}

// ListVersions returns all snapshots for a document, oldest first.
func (db *DB) ListVersions(docID string) ([]*Version, error) {
	rows, err := db.conn.Query(
		"SELECT id, doc_id, name, content, saved_at FROM versions WHERE doc_id = ? ORDER BY saved_at ASC",
		docID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions for %s: %w", docID, err)
	}
	defer rows.Close()

	var out []*Version
	for rows.Next() {
		var v Version
		var savedAt string
		if err := rows.Scan(&v.ID, &v.DocID, &v.Name, &v.Content, &savedAt); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, savedAt); err == nil {
			v.SavedAt = t
		}
		out = append(out, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating versions: %w", err)
	}
	return out, nil
}

// PruneVersions removes all but the most recent keep snapshots for a
// document. Returns the number of rows deleted.
func (db *DB) PruneVersions(docID string, keep int) (int64, error) {
	query := `
	DELETE FROM versions WHERE doc_id = ? AND id NOT IN (
		SELECT id FROM versions WHERE doc_id = ? ORDER BY saved_at DESC LIMIT ?
	)`
	res, err := db.conn.Exec(query, docID, docID, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune versions for %s: %w", docID, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ErrVersionNotFound reports whether err is the not-found sentinel
// from GetVersion.
func ErrVersionNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
