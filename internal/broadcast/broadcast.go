// Package broadcast keeps sibling inklet processes on the same machine
// in sync without waiting for the network round trip.
//
// It is the same-machine analog of a browser BroadcastChannel: every
// process publishes its locally applied changes on a fixed channel and
// applies changes published by siblings. Three message kinds exist:
// a full-document update, a deletion by id, and a server-sync-complete
// notice that lets a sibling advance its synced-version bookkeeping for
// a request it didn't originate.
//
// Implementations: Bus (in-process, for tests and single-process use),
// the hub/peer pair (a localhost websocket relay), and Noop (used when
// the hub is unreachable, degrading to network-only sync).
package broadcast

import (
	"time"

	"github.com/inklet/inklet/internal/note"
)

// ChannelName is the fixed channel shared by all inklet processes of
// one user on one machine.
const ChannelName = "inklet-sync"

// Kind discriminates broadcast messages.
type Kind string

const (
	// KindDocumentUpdated carries the full document payload.
	KindDocumentUpdated Kind = "document-updated"

	// KindDocumentDeleted carries only the document id.
	KindDocumentDeleted Kind = "document-deleted"

	// KindServerSyncComplete announces that the server confirmed a
	// sync, carrying the id, new sync version, and server timestamp.
	KindServerSyncComplete Kind = "server-sync-complete"
)

// Message is the JSON-serializable payload published on the channel.
type Message struct {
	Kind Kind `json:"kind"`

	// Document is set for KindDocumentUpdated.
	Document *note.Document `json:"document,omitempty"`

	// DocID is set for KindDocumentDeleted and KindServerSyncComplete.
	DocID string `json:"doc_id,omitempty"`

	// SyncVersion and SyncedAt are set for KindServerSyncComplete.
	SyncVersion int64      `json:"sync_version,omitempty"`
	SyncedAt    *time.Time `json:"synced_at,omitempty"`
}

// Handler receives messages published by sibling processes. A process
// never receives its own publications.
type Handler func(Message)

// Broadcaster publishes to and subscribes on the shared channel.
type Broadcaster interface {
	// Publish sends the message to all sibling subscribers.
	Publish(Message) error

	// Subscribe registers a handler and returns an unsubscribe function.
	Subscribe(Handler) func()

	// Close releases the underlying transport.
	Close() error
}

// Noop is the degraded Broadcaster used when no relay is available.
// Publishes succeed silently and handlers never fire; sibling
// convergence then happens through the server only.
type Noop struct{}

var _ Broadcaster = Noop{}

// Publish implements Broadcaster.
func (Noop) Publish(Message) error { return nil }

// Subscribe implements Broadcaster.
func (Noop) Subscribe(Handler) func() { return func() {} }

// Close implements Broadcaster.
func (Noop) Close() error { return nil }
