package syncer

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"github.com/inklet/inklet/internal/api"
	"github.com/inklet/inklet/internal/backoff"
	"github.com/inklet/inklet/internal/broadcast"
	"github.com/inklet/inklet/internal/note"
	"github.com/inklet/inklet/internal/storage"
)

// Status is the engine's externally visible state.
type Status int

const (
	// StatusIdle: nothing pending or the last drain completed but
	// unresolved conflicts block a fully synced state.
	StatusIdle Status = iota
	// StatusSyncing: a drain is in progress or retries are pending.
	StatusSyncing
	// StatusSynced: queue empty, no errors, no unresolved conflicts.
	StatusSynced
	// StatusError: the last drain surfaced an error.
	StatusError
	// StatusOffline: the network is unreachable; drains resume
	// automatically when connectivity returns.
	StatusOffline
)

// String returns a human-readable representation of the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusSyncing:
		return "syncing"
	case StatusSynced:
		return "synced"
	case StatusError:
		return "error"
	case StatusOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// Remote is the server surface the engine drains against.
// *api.Client satisfies it; tests substitute fakes.
type Remote interface {
	ListDocumentsSince(ctx context.Context, since time.Time) ([]api.ServerDocument, error)
	PutDocument(ctx context.Context, id string, req api.PutDocumentRequest) (*api.PutResponse, error)
	DeleteDocument(ctx context.Context, id string) error
	ListFoldersSince(ctx context.Context, since time.Time) ([]api.ServerFolder, error)
	PutFolder(ctx context.Context, id string, req api.PutFolderRequest) (*api.PutResponse, error)
	DeleteFolder(ctx context.Context, id string) error
}

// SnapshotRecorder lets the engine inform the change detector that a
// content change originated remotely, so the detector records it as
// already synced instead of re-uploading it.
type SnapshotRecorder interface {
	Record(id, content string)
	Forget(id string)
}

// Config holds engine construction parameters.
type Config struct {
	Store       *note.Store
	Remote      Remote
	KV          storage.KV
	Broadcaster broadcast.Broadcaster

	// Interval between automatic drains (default: 30s).
	Interval time.Duration

	// MaxRetries before a transiently failing item is abandoned
	// (default: 5).
	MaxRetries int

	// Backoff policy between failed drain attempts.
	Backoff backoff.Policy

	// Logger for engine activity. If nil, a default logger writing
	// to stderr is used.
	Logger *log.Logger
}

// Engine drains the sync queue against the remote API, classifies
// outcomes, and maintains the externally visible sync status.
//
// Drains are strictly sequential: never more than one outbound write
// in flight, so two updates to the same document reach the server in
// local commit order and a conflict response is attributable to a
// known prior version. Concurrent drain triggers are coalesced by an
// in-progress flag, not queued.
type Engine struct {
	store  *note.Store
	remote Remote
	kv     storage.KV
	bcast  broadcast.Broadcaster
	logger *log.Logger

	interval   time.Duration
	maxRetries int
	backoff    backoff.Policy

	queue     *Queue
	conflicts *Conflicts
	recorder  SnapshotRecorder

	mu            sync.Mutex
	status        Status
	lastError     string
	lastSyncedAt  *time.Time
	serverDocs    map[string]api.ServerDocument
	serverFolders map[string]api.ServerFolder
	inProgress    bool
	online        bool
	failStreak    int
	handlers      map[int]func(Status)
	nextHandler   int

	runCtx  context.Context
	cancel  context.CancelFunc
	kick    chan struct{}
	wg      sync.WaitGroup
	started bool
}

// New creates an engine and loads its persisted state (pending queue,
// server mirrors, last-synced timestamp). Corrupted state degrades to
// empty defaults.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.Backoff == (backoff.Policy{}) {
		cfg.Backoff = backoff.Default()
	}
	if cfg.Broadcaster == nil {
		cfg.Broadcaster = broadcast.Noop{}
	}

	e := &Engine{
		store:         cfg.Store,
		remote:        cfg.Remote,
		kv:            cfg.KV,
		bcast:         cfg.Broadcaster,
		logger:        cfg.Logger,
		interval:      cfg.Interval,
		maxRetries:    cfg.MaxRetries,
		backoff:       cfg.Backoff,
		queue:         NewQueue(),
		conflicts:     NewConflicts(),
		status:        StatusIdle,
		serverDocs:    make(map[string]api.ServerDocument),
		serverFolders: make(map[string]api.ServerFolder),
		online:        true,
		handlers:      make(map[int]func(Status)),
		kick:          make(chan struct{}, 1),
	}

	st := loadState(cfg.KV, cfg.Logger)
	e.queue.Replace(st.PendingQueue)
	e.lastSyncedAt = st.LastSyncedAt
	for _, sd := range st.ServerDocuments {
		e.serverDocs[sd.ID] = sd
	}
	for _, sf := range st.ServerFolders {
		e.serverFolders[sf.ID] = sf
	}
	e.conflicts.Restore(st.Conflicts)

	return e
}

// SetSnapshotRecorder wires the change detector in so remote-origin
// content changes are not re-uploaded. Must be called before Start.
func (e *Engine) SetSnapshotRecorder(r SnapshotRecorder) {
	e.recorder = r
}

// Start launches the interval drain loop. It returns immediately.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.runCtx, e.cancel = context.WithCancel(ctx)
	e.mu.Unlock()

	e.wg.Add(1)
	go e.loop()
}

// Stop cancels the drain loop and waits for it to exit. An in-flight
// HTTP request is not aborted; its eventual response is discarded.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
}

func (e *Engine) loop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.runCtx.Done():
			return
		case <-ticker.C:
			e.ForceSyncNow()
		case <-e.kick:
			e.ForceSyncNow()
		}
	}
}

// scheduleRetry kicks the loop after the backoff delay for the given
// consecutive-failure count.
func (e *Engine) scheduleRetry(streak int) {
	delay := e.backoff.Delay(streak - 1)
	time.AfterFunc(delay, func() {
		select {
		case e.kick <- struct{}{}:
		default:
		}
	})
}

// QueueDocumentSync stages an update for the document. The item
// carries the sync version the server last confirmed when known, else
// the document's own stored version.
func (e *Engine) QueueDocumentSync(doc *note.Document) {
	e.mu.Lock()
	sendVersion := doc.SyncVersion
	if mirror, ok := e.serverDocs[doc.ID]; ok {
		sendVersion = mirror.SyncVersion
	}
	e.mu.Unlock()

	e.queue.Enqueue(&QueueItem{
		ID:          doc.ID,
		Type:        ItemDocumentUpdate,
		Document:    doc.Clone(),
		SendVersion: sendVersion,
	})
	e.persist()
}

// QueueDocumentDelete stages a remote delete for the document id.
// Any pending update for the same id is dropped; deleting supersedes it.
func (e *Engine) QueueDocumentDelete(id string) {
	e.queue.Dequeue(id, ItemDocumentUpdate)
	e.queue.Enqueue(&QueueItem{ID: id, Type: ItemDocumentDelete})
	e.persist()
}

// QueueFolderSync stages an update for the folder.
func (e *Engine) QueueFolderSync(f *note.Folder) {
	e.mu.Lock()
	sendVersion := f.SyncVersion
	if mirror, ok := e.serverFolders[f.ID]; ok {
		sendVersion = mirror.SyncVersion
	}
	e.mu.Unlock()

	e.queue.Enqueue(&QueueItem{
		ID:          f.ID,
		Type:        ItemFolderUpdate,
		Folder:      f.Clone(),
		SendVersion: sendVersion,
	})
	e.persist()
}

// QueueFolderDelete stages a remote delete for the folder id.
func (e *Engine) QueueFolderDelete(id string) {
	e.queue.Dequeue(id, ItemFolderUpdate)
	e.queue.Enqueue(&QueueItem{ID: id, Type: ItemFolderDelete})
	e.persist()
}

// StageDrift diffs the document store against the server mirror and
// stages whatever drifted: updates for documents whose content no
// longer matches the mirror, deletes for mirror entries whose
// documents are gone. One-shot runs use it in place of a live
// detector. Returns the number of staged operations.
func (e *Engine) StageDrift() int {
	staged := 0

	live := make(map[string]bool)
	for _, doc := range e.store.List() {
		live[doc.ID] = true
		e.mu.Lock()
		mirror, ok := e.serverDocs[doc.ID]
		e.mu.Unlock()
		if ok && mirror.Content == doc.Content {
			continue
		}
		e.QueueDocumentSync(doc)
		staged++
	}

	// A mirror entry without a workspace file means the file was
	// removed while nothing was watching.
	e.mu.Lock()
	var gone []string
	for id := range e.serverDocs {
		if !live[id] {
			gone = append(gone, id)
		}
	}
	e.mu.Unlock()

	for _, id := range gone {
		e.QueueDocumentDelete(id)
		staged++
	}
	return staged
}

// ForceSyncNow attempts a drain immediately, bypassing the timer.
// If a drain is already in progress the call is a no-op.
func (e *Engine) ForceSyncNow() {
	e.mu.Lock()
	if e.inProgress || !e.online {
		e.mu.Unlock()
		return
	}
	e.inProgress = true
	ctx := e.runCtx
	e.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	e.drain(ctx)
}

// SetOnline reports a connectivity change. Going online triggers an
// immediate drain; going offline flips the status and suppresses
// drains until connectivity returns.
func (e *Engine) SetOnline(online bool) {
	e.mu.Lock()
	was := e.online
	e.online = online
	e.mu.Unlock()

	if online && !was {
		e.setStatus(StatusIdle, "")
		e.ForceSyncNow()
	} else if !online && was {
		e.setStatus(StatusOffline, "")
	}
}

// NotifyRemoteChange handles a realtime push for an entity: if local
// state for it is still unsynced the queue is drained right away, and
// the remote change is pulled in either way.
func (e *Engine) NotifyRemoteChange(ctx context.Context, id string) {
	if e.queue.HasEntity(id) {
		e.ForceSyncNow()
	}
	if err := e.RefreshSince(ctx); err != nil {
		e.logger.Printf("Warning: failed to refresh after push for %s: %v", id, err)
	}
}

// drain processes queue items sequentially. The caller must have set
// the in-progress flag; drain clears it on exit.
func (e *Engine) drain(ctx context.Context) {
	defer func() {
		e.mu.Lock()
		e.inProgress = false
		e.mu.Unlock()
	}()

	e.setStatus(StatusSyncing, "")

	var firstErr string
	transient := false

	for _, item := range e.queue.Items() {
		if ctx.Err() != nil {
			break
		}

		err := e.processItem(ctx, item)
		if err == nil {
			continue
		}

		if api.IsTransient(err) {
			transient = true
			retries := e.queue.IncrementRetries(item.ID, item.Type)
			if retries >= e.maxRetries {
				e.logger.Printf("Abandoning %s %s after %d attempts: %v", item.Type, item.ID, retries, err)
				e.queue.DequeueItem(item)
				if firstErr == "" {
					firstErr = err.Error()
				}
				continue
			}

			var status *api.StatusError
			if !errors.As(err, &status) {
				// Transport-level failure: the network is gone, not
				// the item. Stop the drain and wait for connectivity.
				e.logger.Printf("Network unreachable during drain: %v", err)
				e.persist()
				e.mu.Lock()
				e.online = false
				e.mu.Unlock()
				e.setStatus(StatusOffline, "")
				return
			}

			e.logger.Printf("Transient failure for %s %s (attempt %d): %v", item.Type, item.ID, retries, err)
			continue
		}

		// Fatal: validation, permission, or other non-retryable 4xx.
		e.logger.Printf("Fatal failure for %s %s: %v", item.Type, item.ID, err)
		e.queue.DequeueItem(item)
		if firstErr == "" {
			firstErr = err.Error()
		}
	}

	e.persist()

	switch {
	case firstErr != "":
		e.mu.Lock()
		e.failStreak = 0
		e.mu.Unlock()
		e.setStatus(StatusError, firstErr)
	case transient:
		e.mu.Lock()
		e.failStreak++
		streak := e.failStreak
		e.mu.Unlock()
		e.setStatus(StatusSyncing, "")
		e.scheduleRetry(streak)
	case e.queue.Len() == 0 && e.conflicts.UnresolvedCount() == 0:
		e.mu.Lock()
		e.failStreak = 0
		e.mu.Unlock()
		e.setStatus(StatusSynced, "")
	default:
		// Drain finished cleanly but unresolved conflicts (or items
		// enqueued mid-drain) block a fully synced state.
		e.mu.Lock()
		e.failStreak = 0
		e.mu.Unlock()
		e.setStatus(StatusIdle, "")
		if e.queue.Len() > 0 {
			// Items staged mid-drain go out now, not on the next tick.
			select {
			case e.kick <- struct{}{}:
			default:
			}
		}
	}
}

// processItem issues the remote request for one queue item and applies
// the outcome. A nil return means the item is settled (success or a
// recorded conflict); any returned error leaves classification to the
// drain loop.
func (e *Engine) processItem(ctx context.Context, item *QueueItem) error {
	switch item.Type {
	case ItemDocumentUpdate:
		return e.processDocumentUpdate(ctx, item)
	case ItemDocumentDelete:
		return e.processDocumentDelete(ctx, item)
	case ItemFolderUpdate:
		return e.processFolderUpdate(ctx, item)
	case ItemFolderDelete:
		return e.processFolderDelete(ctx, item)
	default:
		e.logger.Printf("Warning: dropping queue item with unknown type %q", item.Type)
		e.queue.DequeueItem(item)
		return nil
	}
}

func (e *Engine) processDocumentUpdate(ctx context.Context, item *QueueItem) error {
	doc := item.Document
	resp, err := e.remote.PutDocument(ctx, item.ID, api.PutDocumentRequest{
		Name:        doc.Name,
		Content:     doc.Content,
		FolderID:    doc.FolderID,
		SyncVersion: item.SendVersion,
		UpdatedAt:   doc.UpdatedAt.UTC().Format(time.RFC3339Nano),
	})

	var conflict *api.ConflictError
	if errors.As(err, &conflict) {
		// Never retried blindly: record the conflict for explicit
		// resolution and leave local content untouched.
		e.queue.DequeueItem(item)
		local := e.store.Get(item.ID)
		if local == nil {
			local = doc
		}
		e.conflicts.Add(&Conflict{
			DocID:      item.ID,
			Local:      local,
			Server:     conflict.Server,
			DetectedAt: time.Now().UTC(),
		})
		e.mu.Lock()
		e.serverDocs[item.ID] = conflict.Server
		e.mu.Unlock()
		e.logger.Printf("Version conflict for document %s (server at %d, sent %d)",
			item.ID, conflict.Server.SyncVersion, item.SendVersion)
		return nil
	}
	if err != nil {
		return err
	}

	// Remove only the snapshot that was actually sent. An edit staged
	// while the request was in flight replaced the slot, stays queued,
	// and goes out against the version just confirmed.
	e.queue.DequeueItem(item)
	e.queue.SetSendVersion(item.ID, item.Type, resp.SyncVersion)
	e.store.AdvanceSynced(item.ID, resp.SyncVersion, resp.SyncedAt)

	e.mu.Lock()
	e.serverDocs[item.ID] = api.ServerDocument{
		ID:          item.ID,
		Name:        doc.Name,
		Content:     doc.Content,
		FolderID:    doc.FolderID,
		SyncVersion: resp.SyncVersion,
		UpdatedAt:   doc.UpdatedAt,
	}
	syncedAt := resp.SyncedAt
	e.lastSyncedAt = &syncedAt
	e.mu.Unlock()

	// Let sibling processes advance their synced-version bookkeeping
	// without their own round trip.
	if err := e.bcast.Publish(broadcast.Message{
		Kind:        broadcast.KindServerSyncComplete,
		DocID:       item.ID,
		SyncVersion: resp.SyncVersion,
		SyncedAt:    &syncedAt,
	}); err != nil {
		e.logger.Printf("Warning: failed to broadcast sync completion for %s: %v", item.ID, err)
	}

	return nil
}

func (e *Engine) processDocumentDelete(ctx context.Context, item *QueueItem) error {
	if err := e.remote.DeleteDocument(ctx, item.ID); err != nil {
		return err
	}

	e.queue.DequeueItem(item)
	e.store.Remove(item.ID)

	now := time.Now().UTC()
	e.mu.Lock()
	delete(e.serverDocs, item.ID)
	e.lastSyncedAt = &now
	e.mu.Unlock()

	return nil
}

func (e *Engine) processFolderUpdate(ctx context.Context, item *QueueItem) error {
	f := item.Folder
	resp, err := e.remote.PutFolder(ctx, item.ID, api.PutFolderRequest{
		Name:        f.Name,
		SyncVersion: item.SendVersion,
		UpdatedAt:   f.UpdatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}

	e.queue.DequeueItem(item)
	e.queue.SetSendVersion(item.ID, item.Type, resp.SyncVersion)

	e.mu.Lock()
	e.serverFolders[item.ID] = api.ServerFolder{
		ID:          item.ID,
		Name:        f.Name,
		SyncVersion: resp.SyncVersion,
		UpdatedAt:   f.UpdatedAt,
	}
	syncedAt := resp.SyncedAt
	e.lastSyncedAt = &syncedAt
	e.mu.Unlock()

	return nil
}

func (e *Engine) processFolderDelete(ctx context.Context, item *QueueItem) error {
	if err := e.remote.DeleteFolder(ctx, item.ID); err != nil {
		return err
	}

	e.queue.DequeueItem(item)
	e.store.RemoveFolder(item.ID)

	now := time.Now().UTC()
	e.mu.Lock()
	delete(e.serverFolders, item.ID)
	e.lastSyncedAt = &now
	e.mu.Unlock()

	return nil
}

// RefreshSince pulls documents and folders changed since the last
// synced timestamp and applies them with newer-timestamp-wins.
func (e *Engine) RefreshSince(ctx context.Context) error {
	e.mu.Lock()
	var since time.Time
	if e.lastSyncedAt != nil {
		since = *e.lastSyncedAt
	}
	e.mu.Unlock()

	return e.PullSince(ctx, since)
}

// PullSince pulls documents and folders changed since the given time
// and applies them with newer-timestamp-wins. A zero since pulls
// everything.
func (e *Engine) PullSince(ctx context.Context, since time.Time) error {
	docs, err := e.remote.ListDocumentsSince(ctx, since)
	if err != nil {
		return err
	}
	for i := range docs {
		e.ApplyServerDocument(docs[i])
	}

	folders, err := e.remote.ListFoldersSince(ctx, since)
	if err != nil {
		return err
	}
	for i := range folders {
		e.ApplyServerFolder(folders[i])
	}

	e.persist()
	return nil
}

// ApplyServerDocument merges one remote-origin document record into
// local state: deletion markers purge the mirror entry and remove the
// local copy, updates land only when strictly newer than the local
// UpdatedAt.
func (e *Engine) ApplyServerDocument(sd api.ServerDocument) {
	if sd.Deleted {
		e.mu.Lock()
		delete(e.serverDocs, sd.ID)
		e.mu.Unlock()
		if e.recorder != nil {
			e.recorder.Forget(sd.ID)
		}
		e.store.Remove(sd.ID)
		return
	}

	e.mu.Lock()
	e.serverDocs[sd.ID] = sd
	e.mu.Unlock()

	local := e.store.GetAny(sd.ID)
	if local != nil && !sd.UpdatedAt.After(local.UpdatedAt) {
		// Never overwrite a strictly newer (or equal) local edit that
		// hasn't propagated yet.
		return
	}

	doc := serverToLocal(sd, local)
	if e.recorder != nil {
		e.recorder.Record(doc.ID, doc.Content)
	}
	e.store.Put(doc)
}

// ApplyServerFolder merges one remote-origin folder record.
func (e *Engine) ApplyServerFolder(sf api.ServerFolder) {
	if sf.Deleted {
		e.mu.Lock()
		delete(e.serverFolders, sf.ID)
		e.mu.Unlock()
		e.store.RemoveFolder(sf.ID)
		return
	}

	e.mu.Lock()
	e.serverFolders[sf.ID] = sf
	e.mu.Unlock()

	local := e.store.GetFolder(sf.ID)
	if local != nil && !sf.UpdatedAt.After(local.UpdatedAt) {
		return
	}

	f := &note.Folder{
		ID:          sf.ID,
		Name:        sf.Name,
		SyncVersion: sf.SyncVersion,
		UpdatedAt:   sf.UpdatedAt,
	}
	if local != nil {
		f.CreatedAt = local.CreatedAt
	} else {
		f.CreatedAt = sf.UpdatedAt
	}
	e.store.PutFolder(f)
}

// serverToLocal builds the local document for a server record,
// preserving local-only fields when a prior copy exists.
func serverToLocal(sd api.ServerDocument, local *note.Document) *note.Document {
	doc := &note.Document{
		ID:          sd.ID,
		Name:        sd.Name,
		Content:     sd.Content,
		FolderID:    sd.FolderID,
		SyncVersion: sd.SyncVersion,
		UpdatedAt:   sd.UpdatedAt,
		CreatedAt:   sd.UpdatedAt,
	}
	if local != nil {
		doc.CreatedAt = local.CreatedAt
		doc.ManualName = local.ManualName
		doc.Cursor = local.Cursor
		doc.Scroll = local.Scroll
	}
	return doc
}

// ResolveConflict applies the user's choice for the document's
// unresolved conflict.
//
// "local" re-enqueues the local content at the server's newer version.
// "server" overwrites the local document with the server snapshot.
// "both" keeps the local document unchanged and returns the server
// snapshot; materializing it as a new document is the caller's
// responsibility.
func (e *Engine) ResolveConflict(docID string, res Resolution) (*api.ServerDocument, error) {
	c, err := e.conflicts.Resolve(docID, res)
	if err != nil {
		return nil, err
	}

	switch res {
	case ResolutionLocal:
		doc := c.Local.Clone()
		doc.SyncVersion = c.Server.SyncVersion
		e.mu.Lock()
		e.serverDocs[docID] = c.Server
		e.mu.Unlock()
		e.QueueDocumentSync(doc)
		return nil, nil

	case ResolutionServer:
		e.queue.Dequeue(docID, ItemDocumentUpdate)
		e.ApplyServerDocumentForced(c.Server)
		e.persist()
		return nil, nil

	case ResolutionBoth:
		// Local stays untouched; hand back the server snapshot so the
		// caller can store it as a separate document.
		e.persist()
		server := c.Server
		return &server, nil
	}

	return nil, nil
}

// ApplyServerDocumentForced overwrites the local copy with the server
// snapshot regardless of timestamps, used by the "server" resolution.
func (e *Engine) ApplyServerDocumentForced(sd api.ServerDocument) {
	e.mu.Lock()
	e.serverDocs[sd.ID] = sd
	e.mu.Unlock()

	local := e.store.GetAny(sd.ID)
	doc := serverToLocal(sd, local)
	if e.recorder != nil {
		e.recorder.Record(doc.ID, doc.Content)
	}
	e.store.Put(doc)
}

// Queue exposes the pending queue, mainly for status displays.
func (e *Engine) Queue() *Queue { return e.queue }

// Conflicts exposes the conflict tracker.
func (e *Engine) Conflicts() *Conflicts { return e.conflicts }

// PendingCount returns the number of queued operations.
func (e *Engine) PendingCount() int { return e.queue.Len() }

// ConflictCount returns the number of unresolved conflicts.
func (e *Engine) ConflictCount() int { return e.conflicts.UnresolvedCount() }

// Status returns the engine's current status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// LastError returns the first error message of the last failed drain.
func (e *Engine) LastError() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastError
}

// LastSyncedAt returns the time of the last confirmed sync, or nil.
func (e *Engine) LastSyncedAt() *time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastSyncedAt == nil {
		return nil
	}
	t := *e.lastSyncedAt
	return &t
}

// ServerDocument returns the mirror record for the id, if cached.
func (e *Engine) ServerDocument(id string) (api.ServerDocument, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sd, ok := e.serverDocs[id]
	return sd, ok
}

// OnStatusChange registers a handler invoked on every status
// transition. Returns an unsubscribe function.
func (e *Engine) OnStatusChange(fn func(Status)) func() {
	e.mu.Lock()
	id := e.nextHandler
	e.nextHandler++
	e.handlers[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.handlers, id)
		e.mu.Unlock()
	}
}

// AdvanceSyncedVersion records a server confirmation observed through
// a sibling process's broadcast, so this process's bookkeeping matches
// without its own request.
func (e *Engine) AdvanceSyncedVersion(docID string, version int64, syncedAt time.Time) {
	e.store.AdvanceSynced(docID, version, syncedAt)

	e.mu.Lock()
	if sd, ok := e.serverDocs[docID]; ok {
		sd.SyncVersion = version
		e.serverDocs[docID] = sd
	}
	if e.lastSyncedAt == nil || syncedAt.After(*e.lastSyncedAt) {
		t := syncedAt
		e.lastSyncedAt = &t
	}
	e.mu.Unlock()

	e.persist()
}

func (e *Engine) setStatus(s Status, errMsg string) {
	e.mu.Lock()
	if e.status == s && e.lastError == errMsg {
		e.mu.Unlock()
		return
	}
	e.status = s
	e.lastError = errMsg
	handlers := make([]func(Status), 0, len(e.handlers))
	for _, fn := range e.handlers {
		handlers = append(handlers, fn)
	}
	e.mu.Unlock()

	for _, fn := range handlers {
		fn(s)
	}
}

// persist writes the durable sync state: queue contents, last-synced
// timestamp, the server mirror caches, and recorded conflicts.
// Connection state and in-flight flags reset to defaults on load.
func (e *Engine) persist() {
	e.mu.Lock()
	st := &persistedState{
		LastSyncedAt: e.lastSyncedAt,
		PendingQueue: e.queue.Items(),
		Conflicts:    e.conflicts.Snapshot(),
	}
	for _, sd := range e.serverDocs {
		st.ServerDocuments = append(st.ServerDocuments, sd)
	}
	for _, sf := range e.serverFolders {
		st.ServerFolders = append(st.ServerFolders, sf)
	}
	e.mu.Unlock()

	saveState(e.kv, st, e.logger)
}
