package syncer

import (
	"encoding/json"
	"log"
	"time"

	"github.com/inklet/inklet/internal/api"
	"github.com/inklet/inklet/internal/storage"
)

// stateKey is the single namespaced storage entry holding all durable
// sync state. Connection state is deliberately not persisted; it is
// re-established after reload.
const stateKey = "inklet/sync-state"

// persistedState is the JSON shape of the durable sync state.
type persistedState struct {
	LastSyncedAt    *time.Time           `json:"lastSyncedAt,omitempty"`
	PendingQueue    []*QueueItem         `json:"pendingQueue"`
	ServerDocuments []api.ServerDocument `json:"serverDocuments"`
	ServerFolders   []api.ServerFolder   `json:"serverFolders"`
	Conflicts       []*Conflict          `json:"conflicts,omitempty"`
}

// loadState reads the persisted sync state. Missing or corrupted state
// degrades to empty defaults rather than failing: losing the pending
// queue is recoverable (the change detector re-detects diffs), whereas
// refusing to start is not.
func loadState(kv storage.KV, logger *log.Logger) *persistedState {
	empty := &persistedState{}

	raw, ok, err := kv.Get(stateKey)
	if err != nil {
		logger.Printf("Warning: failed to read persisted sync state, starting empty: %v", err)
		return empty
	}
	if !ok {
		return empty
	}

	var st persistedState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		logger.Printf("Warning: corrupted persisted sync state, starting empty: %v", err)
		return empty
	}
	return &st
}

// saveState writes the persisted sync state.
func saveState(kv storage.KV, st *persistedState, logger *log.Logger) {
	data, err := json.Marshal(st)
	if err != nil {
		logger.Printf("Warning: failed to marshal sync state: %v", err)
		return
	}
	if err := kv.Set(stateKey, string(data)); err != nil {
		logger.Printf("Warning: failed to persist sync state: %v", err)
	}
}
