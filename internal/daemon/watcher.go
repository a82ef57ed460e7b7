package daemon

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates a new document file was created.
	OpCreate EventOp = iota
	// OpModify indicates an existing document file was modified.
	OpModify
	// OpDelete indicates a document file was deleted.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// FileEvent represents a file system event for a markdown document.
type FileEvent struct {
	// Path is the absolute path to the file that changed.
	Path string
	// DocID is the document id derived from the file stem.
	DocID string
	// Op is the operation that occurred.
	Op EventOp
}

// FileWatcher watches the workspace directory for markdown changes.
// It uses fsnotify for cross-platform file system event monitoring.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	events  chan FileEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	dir     string
}

// NewFileWatcher creates a new FileWatcher instance.
// The watcher must be started with Start() before it will emit events.
func NewFileWatcher() (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FileWatcher{
		watcher: watcher,
		events:  make(chan FileEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching the workspace directory for *.md file events.
func (fw *FileWatcher) Start(dir string) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return fmt.Errorf("watcher already running")
	}

	fw.dir = dir

	if err := fw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch workspace directory %s: %w", dir, err)
	}

	fw.running = true
	fw.wg.Add(1)
	go fw.processEvents()

	return nil
}

// Stop stops watching for file system events and cleans up resources.
// It blocks until the event processing goroutine has exited.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if !fw.running {
		fw.mu.Unlock()
		return nil
	}
	fw.running = false
	fw.mu.Unlock()

	close(fw.done)

	if err := fw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	fw.wg.Wait()

	close(fw.events)
	close(fw.errors)

	return nil
}

// Events returns the channel that emits FileEvent notifications.
// This channel is closed when the watcher is stopped.
func (fw *FileWatcher) Events() <-chan FileEvent {
	return fw.events
}

// Errors returns the channel that emits error notifications.
// This channel is closed when the watcher is stopped.
func (fw *FileWatcher) Errors() <-chan error {
	return fw.errors
}

// processEvents is the main event loop that converts fsnotify events
// to FileEvent notifications.
func (fw *FileWatcher) processEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}

			if fileEvent, ok := fw.convertEvent(event); ok {
				select {
				case fw.events <- fileEvent:
				case <-fw.done:
					return
				}
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}

			select {
			case fw.errors <- err:
			case <-fw.done:
				return
			}
		}
	}
}

// convertEvent converts an fsnotify event to a FileEvent.
// Returns (FileEvent, true) if the event should be processed,
// or (FileEvent{}, false) if the event should be ignored.
func (fw *FileWatcher) convertEvent(event fsnotify.Event) (FileEvent, bool) {
	if !strings.HasSuffix(event.Name, ".md") {
		return FileEvent{}, false
	}

	// Editors drop swap and hidden files next to the document.
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "~") {
		return FileEvent{}, false
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove):
		op = OpDelete
	case event.Has(fsnotify.Rename):
		// Treat rename as delete (the new name will trigger a create)
		op = OpDelete
	default:
		// Ignore chmod and other events
		return FileEvent{}, false
	}

	return FileEvent{
		Path:  event.Name,
		DocID: strings.TrimSuffix(base, ".md"),
		Op:    op,
	}, true
}

// IsRunning returns true if the watcher is currently running.
func (fw *FileWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}
