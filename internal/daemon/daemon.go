// Package daemon runs the inklet sync daemon: it keeps the workspace
// directory, the in-memory document store, the remote server, and any
// sibling inklet processes consistent with each other.
//
// The daemon:
// 1. Loads workspace *.md files into the document store
// 2. Watches the workspace for edits and feeds them to the sync engine
// 3. Applies realtime pushes and cross-process broadcasts
// 4. Projects remote-origin changes back onto disk
// 5. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/inklet/inklet/internal/api"
	"github.com/inklet/inklet/internal/broadcast"
	"github.com/inklet/inklet/internal/note"
	"github.com/inklet/inklet/internal/realtime"
	"github.com/inklet/inklet/internal/syncer"
)

// Config holds configuration for the daemon.
type Config struct {
	// WorkspaceDir contains the markdown documents.
	WorkspaceDir string

	// Store is the shared document store.
	Store *note.Store

	// Engine drains local changes to the server. Required.
	Engine *syncer.Engine

	// Detector stages local changes. Required.
	Detector *syncer.Detector

	// Channel receives server pushes. Nil disables realtime.
	Channel *realtime.Channel

	// Broadcaster links sibling processes. Nil degrades to none.
	Broadcaster broadcast.Broadcaster

	// DebounceInterval batches rapid file updates together.
	DebounceInterval time.Duration

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults. Store, Engine, and
// Detector must still be set by the caller.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 100 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates file watching, sync, realtime, and broadcast.
type Daemon struct {
	config   *Config
	store    *note.Store
	engine   *syncer.Engine
	detector *syncer.Detector
	channel  *realtime.Channel
	bcast    broadcast.Broadcaster

	watcher *FileWatcher

	// pending batches file events by document id until the debounce
	// interval passes without further writes.
	pending   map[string]time.Time
	pendingMu sync.Mutex

	// disk mirrors file contents so self-writes and echoes are told
	// apart from real edits.
	disk   map[string]string
	diskMu sync.Mutex

	unsubs []func()
	wg     sync.WaitGroup
}

// New creates a daemon. Use Start() to begin.
func New(config *Config) (*Daemon, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.WorkspaceDir == "" {
		return nil, fmt.Errorf("workspace directory cannot be empty")
	}
	if config.Store == nil || config.Engine == nil || config.Detector == nil {
		return nil, fmt.Errorf("store, engine, and detector are required")
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = 100 * time.Millisecond
	}
	if config.Broadcaster == nil {
		config.Broadcaster = broadcast.Noop{}
	}

	watcher, err := NewFileWatcher()
	if err != nil {
		return nil, err
	}

	return &Daemon{
		config:   config,
		store:    config.Store,
		engine:   config.Engine,
		detector: config.Detector,
		channel:  config.Channel,
		bcast:    config.Broadcaster,
		watcher:  watcher,
		pending:  make(map[string]time.Time),
		disk:     make(map[string]string),
	}, nil
}

// Start runs the daemon until ctx is cancelled.
//
// Startup order matters: the workspace is loaded before the detector
// enables, so existing documents seed the baseline instead of being
// re-uploaded; the detector enables before the watcher starts, so no
// edit lands between baseline and detection.
func (d *Daemon) Start(ctx context.Context) error {
	logger := d.config.Logger
	logger.Println("Starting daemon")

	if err := os.MkdirAll(d.config.WorkspaceDir, 0755); err != nil {
		return fmt.Errorf("failed to create workspace directory: %w", err)
	}

	if err := d.loadWorkspace(); err != nil {
		return fmt.Errorf("failed to load workspace: %w", err)
	}
	logger.Printf("Loaded %d document(s) from %s", d.store.Count(), d.config.WorkspaceDir)

	d.detector.Enable(d.store)
	// Seed the baseline observation now, while the store is quiet.
	d.store.Notify()

	d.engine.SetSnapshotRecorder(d.detector)
	d.engine.Start(ctx)
	defer d.engine.Stop()

	d.unsubs = append(d.unsubs, d.store.Observe(d.projectToDisk))
	d.unsubs = append(d.unsubs, d.bcast.Subscribe(d.handleBroadcast))

	if d.channel != nil {
		for _, typ := range []string{
			realtime.EventDocumentUpdated,
			realtime.EventDocumentDeleted,
			realtime.EventFolderUpdated,
			realtime.EventFolderDeleted,
		} {
			d.unsubs = append(d.unsubs, d.channel.OnEvent(typ, func(ev realtime.Event) {
				d.handlePush(ctx, ev)
			}))
		}
		d.unsubs = append(d.unsubs, d.channel.OnStateChange(func(s realtime.ConnState) {
			if s == realtime.StateConnected {
				// Connectivity is back; catch up on the missed window.
				d.engine.SetOnline(true)
				d.wg.Add(1)
				go func() {
					defer d.wg.Done()
					if err := d.engine.RefreshSince(ctx); err != nil {
						logger.Printf("Warning: failed to refresh after reconnect: %v", err)
					}
				}()
			}
		}))
		d.channel.Connect(ctx)
		defer d.channel.Destroy()
	}

	if err := d.watcher.Start(d.config.WorkspaceDir); err != nil {
		return err
	}
	defer d.watcher.Stop()

	defer func() {
		for _, unsub := range d.unsubs {
			unsub()
		}
		d.detector.Disable()
		d.wg.Wait()
	}()

	d.engine.ForceSyncNow()

	debounce := time.NewTicker(d.config.DebounceInterval)
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Println("Daemon shutting down")
			return nil

		case ev, ok := <-d.watcher.Events():
			if !ok {
				return nil
			}
			d.handleFileEvent(ev)

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return nil
			}
			logger.Printf("Watcher error: %v", err)

		case <-debounce.C:
			d.flushPending()
		}
	}
}

// loadWorkspace reads all workspace markdown files into the store.
func (d *Daemon) loadWorkspace() error {
	entries, err := os.ReadDir(d.config.WorkspaceDir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".md") || strings.HasPrefix(name, ".") {
			continue
		}

		path := filepath.Join(d.config.WorkspaceDir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			d.config.Logger.Printf("Warning: skipping unreadable file %s: %v", path, err)
			continue
		}

		id := strings.TrimSuffix(name, ".md")
		content := string(data)

		info, _ := entry.Info()
		modTime := time.Now().UTC()
		if info != nil {
			modTime = info.ModTime().UTC()
		}

		d.diskMu.Lock()
		d.disk[id] = content
		d.diskMu.Unlock()

		if existing := d.store.GetAny(id); existing != nil {
			continue
		}
		d.store.Put(&note.Document{
			ID:        id,
			Name:      DeriveName(content),
			Content:   content,
			CreatedAt: modTime,
			UpdatedAt: modTime,
		})
	}

	return nil
}

// handleFileEvent stages updates for debouncing and applies deletes
// immediately.
func (d *Daemon) handleFileEvent(ev FileEvent) {
	switch ev.Op {
	case OpCreate, OpModify:
		d.pendingMu.Lock()
		d.pending[ev.DocID] = time.Now()
		d.pendingMu.Unlock()

	case OpDelete:
		d.pendingMu.Lock()
		delete(d.pending, ev.DocID)
		d.pendingMu.Unlock()

		d.diskMu.Lock()
		_, known := d.disk[ev.DocID]
		delete(d.disk, ev.DocID)
		d.diskMu.Unlock()

		if known && d.store.Get(ev.DocID) != nil {
			d.config.Logger.Printf("Document %s deleted from workspace", ev.DocID)
			// Tombstoning drops the doc from detector observations,
			// which stages the remote delete.
			d.store.Tombstone(ev.DocID)
			d.publishDelete(ev.DocID)
		}
	}
}

// flushPending applies file updates whose debounce window has passed.
func (d *Daemon) flushPending() {
	cutoff := time.Now().Add(-d.config.DebounceInterval)

	d.pendingMu.Lock()
	var ready []string
	for id, stamp := range d.pending {
		if stamp.Before(cutoff) {
			ready = append(ready, id)
			delete(d.pending, id)
		}
	}
	d.pendingMu.Unlock()

	for _, id := range ready {
		d.applyFileUpdate(id)
	}
}

// applyFileUpdate reads the document file and merges it into the
// store when it really changed. Writes the daemon itself performed
// are recognized by content and skipped.
func (d *Daemon) applyFileUpdate(id string) {
	path := filepath.Join(d.config.WorkspaceDir, id+".md")
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			d.config.Logger.Printf("Warning: failed to read %s: %v", path, err)
		}
		return
	}
	content := string(data)

	d.diskMu.Lock()
	prev, known := d.disk[id]
	d.disk[id] = content
	d.diskMu.Unlock()

	if known && prev == content {
		return
	}

	existing := d.store.Get(id)
	if existing == nil {
		doc := &note.Document{
			ID:        id,
			Name:      DeriveName(content),
			Content:   content,
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		}
		d.store.Put(doc)
		d.publishUpdate(doc)
		return
	}

	if existing.Content == content {
		return
	}

	updated := existing.Clone()
	updated.Content = content
	updated.UpdatedAt = time.Now().UTC()
	if !existing.ManualName {
		updated.Name = DeriveName(content)
	}
	d.store.Put(updated)
	d.publishUpdate(updated)
}

// projectToDisk mirrors the live document set onto the workspace
// directory. It runs as a store observer, so remote-origin changes
// reach disk through the same path as everything else.
func (d *Daemon) projectToDisk(docs []*note.Document) {
	seen := make(map[string]bool, len(docs))

	for _, doc := range docs {
		seen[doc.ID] = true

		d.diskMu.Lock()
		prev, known := d.disk[doc.ID]
		if known && prev == doc.Content {
			d.diskMu.Unlock()
			continue
		}
		d.disk[doc.ID] = doc.Content
		d.diskMu.Unlock()

		path := filepath.Join(d.config.WorkspaceDir, doc.Filename())
		if err := os.WriteFile(path, []byte(doc.Content), 0644); err != nil {
			d.config.Logger.Printf("Warning: failed to write %s: %v", path, err)
		}
	}

	d.diskMu.Lock()
	var stale []string
	for id := range d.disk {
		if !seen[id] {
			stale = append(stale, id)
			delete(d.disk, id)
		}
	}
	d.diskMu.Unlock()

	for _, id := range stale {
		path := filepath.Join(d.config.WorkspaceDir, id+".md")
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			d.config.Logger.Printf("Warning: failed to remove %s: %v", path, err)
		}
	}
}

// handlePush applies one realtime server event.
func (d *Daemon) handlePush(ctx context.Context, ev realtime.Event) {
	if d.channel != nil && ev.Origin != "" && ev.Origin == d.channel.DeviceID() {
		// Our own write echoed back; the engine already has the result.
		return
	}

	switch ev.Type {
	case realtime.EventDocumentUpdated:
		if ev.Document == nil {
			return
		}
		d.config.Logger.Printf("Push: document %s updated remotely", ev.Document.ID)
		d.engine.NotifyRemoteChange(ctx, ev.Document.ID)

	case realtime.EventDocumentDeleted:
		if ev.DocID == "" {
			return
		}
		d.config.Logger.Printf("Push: document %s deleted remotely", ev.DocID)
		d.engine.ApplyServerDocument(api.ServerDocument{ID: ev.DocID, Deleted: true})

	case realtime.EventFolderUpdated:
		if ev.Folder != nil {
			d.engine.ApplyServerFolder(*ev.Folder)
		}

	case realtime.EventFolderDeleted:
		if ev.FolderID != "" {
			d.engine.ApplyServerFolder(api.ServerFolder{ID: ev.FolderID, Deleted: true})
		}
	}
}

// handleBroadcast applies one message from a sibling inklet process.
func (d *Daemon) handleBroadcast(msg broadcast.Message) {
	switch msg.Kind {
	case broadcast.KindDocumentUpdated:
		if msg.Document == nil {
			return
		}
		local := d.store.GetAny(msg.Document.ID)
		if local != nil && !msg.Document.NewerThan(local) {
			return
		}
		// Record first so the detector sees this as already known,
		// not as a fresh local edit to upload.
		d.detector.Record(msg.Document.ID, msg.Document.Content)
		d.store.Put(msg.Document.Clone())

	case broadcast.KindDocumentDeleted:
		if msg.DocID == "" {
			return
		}
		d.detector.Forget(msg.DocID)
		d.store.Remove(msg.DocID)

	case broadcast.KindServerSyncComplete:
		if msg.DocID == "" || msg.SyncedAt == nil {
			return
		}
		d.engine.AdvanceSyncedVersion(msg.DocID, msg.SyncVersion, *msg.SyncedAt)
	}
}

func (d *Daemon) publishUpdate(doc *note.Document) {
	if err := d.bcast.Publish(broadcast.Message{
		Kind:     broadcast.KindDocumentUpdated,
		Document: doc,
	}); err != nil {
		d.config.Logger.Printf("Warning: failed to broadcast update for %s: %v", doc.ID, err)
	}
}

func (d *Daemon) publishDelete(id string) {
	if err := d.bcast.Publish(broadcast.Message{
		Kind:  broadcast.KindDocumentDeleted,
		DocID: id,
	}); err != nil {
		d.config.Logger.Printf("Warning: failed to broadcast delete for %s: %v", id, err)
	}
}

// DeriveName extracts a display name from markdown content: the first
// heading if present, else the first non-empty line, else "Untitled".
func DeriveName(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line = strings.TrimLeft(line, "#")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if runes := []rune(line); len(runes) > 120 {
			line = string(runes[:120])
		}
		return line
	}
	return "Untitled"
}
