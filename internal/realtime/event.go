package realtime

import (
	"time"

	"github.com/inklet/inklet/internal/api"
)

// Event types pushed by the server.
const (
	// EventConnected is the first frame after a successful dial and
	// carries the server-assigned connection id.
	EventConnected = "connected"
	// EventHeartbeat is a periodic keepalive.
	EventHeartbeat = "heartbeat"
	// EventDocumentUpdated announces a document changed by another
	// device. The full server record rides along.
	EventDocumentUpdated = "document:updated"
	// EventDocumentDeleted announces a document deleted by another
	// device.
	EventDocumentDeleted = "document:deleted"
	// EventFolderUpdated announces a folder change.
	EventFolderUpdated = "folder:updated"
	// EventFolderDeleted announces a folder deletion.
	EventFolderDeleted = "folder:deleted"
)

// Event is one server push frame. Origin carries the device id that
// caused the event, when the server knows it.
type Event struct {
	Type         string              `json:"type"`
	ConnectionID string              `json:"connection_id,omitempty"`
	Origin       string              `json:"origin,omitempty"`
	Document     *api.ServerDocument `json:"document,omitempty"`
	Folder       *api.ServerFolder   `json:"folder,omitempty"`
	DocID        string              `json:"doc_id,omitempty"`
	FolderID     string              `json:"folder_id,omitempty"`
	Timestamp    time.Time           `json:"timestamp,omitempty"`
}
