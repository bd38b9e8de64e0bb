// Package watch emits stable file events for configured roots. Raw fsnotify
// notifications are filtered by ignore/include patterns, then held until the
// file's content digest is unchanged across the stability delay, so files
// still being written are never handed to the pipeline.
package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"repoops/internal/digest"
	"repoops/internal/logging"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

// Kind classifies a file event.
type Kind string

const (
	KindCreated  Kind = "created"
	KindModified Kind = "modified"
	KindDeleted  Kind = "deleted"
	KindMoved    Kind = "moved"
)

// FileEvent is a settled filesystem change.
type FileEvent struct {
	ID         string
	Kind       Kind
	Path       string
	ObservedAt time.Time
	Stable     bool
	Digest     string
}

// Callback receives settled events. Callbacks run on the watcher goroutine
// and must be cheap: filter and enqueue only, never heavy I/O.
type Callback func(FileEvent)

// Stats tracks watcher activity for status reporting and tests.
type Stats struct {
	RawEvents     int
	Filtered      int
	Emitted       int
	Deleted       int
	Errors        int
	LastEventPath string
	LastEventTime time.Time
}

// pending tracks a path waiting out the stability delay.
type pending struct {
	kind      Kind
	eventAt   time.Time
	digest    string
	sampledAt time.Time
}

// Watcher watches roots recursively and emits stable FileEvents.
type Watcher struct {
	mu        sync.RWMutex
	fsw       *fsnotify.Watcher
	roots     []string
	include   []string
	ignore    []string
	delay     time.Duration
	pending   map[string]*pending
	callbacks []Callback
	stopCh    chan struct{}
	doneCh    chan struct{}
	running   bool
	stats     Stats
	now       func() time.Time
}

// New creates a Watcher for the given roots. Include patterns empty means
// every non-ignored path matches.
func New(roots, include, ignore []string, stabilityDelay time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		fsw:     fsw,
		roots:   roots,
		include: include,
		ignore:  ignore,
		delay:   stabilityDelay,
		pending: make(map[string]*pending),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		now:     time.Now,
	}, nil
}

// OnEvent registers a callback. Must be called before Start.
func (w *Watcher) OnEvent(cb Callback) {
	w.callbacks = append(w.callbacks, cb)
}

// Start begins watching. Non-blocking; the event loop runs in a goroutine.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	for _, root := range w.roots {
		if err := w.addRecursive(root); err != nil {
			logging.WatcherWarn("initial watch failed for %s: %v", root, err)
		}
	}
	logging.Watcher("watching %d roots (stability delay %v)", len(w.roots), w.delay)

	go w.run(ctx)
	return nil
}

// Stop stops the watcher cooperatively and waits for the loop to exit.
// Pending paths that have not settled are dropped; a restart re-detects them
// only if they change again, which is why shutdown drains the queue first.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.fsw.Close(); err != nil {
		logging.WatcherError("error closing watcher: %v", err)
	}
	logging.Watcher("stopped")
}

// IsWatching reports whether the watcher loop is running.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// GetStats returns a snapshot of watcher statistics.
func (w *Watcher) GetStats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

// addRecursive watches root and every non-ignored subdirectory.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && matchesAny(w.relPath(p), d.Name(), w.ignore) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			logging.WatcherWarn("could not watch %s: %v", p, err)
		}
		return nil
	})
}

// relPath returns p relative to its containing root, or p unchanged.
func (w *Watcher) relPath(p string) string {
	for _, root := range w.roots {
		rel, err := filepath.Rel(root, p)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		return rel
	}
	return p
}

// run is the main event loop.
func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := w.delay / 4
	if tick < 50*time.Millisecond {
		tick = 50 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Watcher("context cancelled")
			return

		case <-w.stopCh:
			logging.WatcherDebug("stop signal received")
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.WatcherError("watch error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-ticker.C:
			w.settlePending()
		}
	}
}

// handleEvent filters a raw notification and records it for settling.
// No hashing happens here; the event path stays cheap.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	var kind Kind
	switch {
	case event.Op&fsnotify.Create != 0:
		kind = KindCreated
	case event.Op&fsnotify.Write != 0:
		kind = KindModified
	case event.Op&fsnotify.Remove != 0:
		kind = KindDeleted
	case event.Op&fsnotify.Rename != 0:
		kind = KindMoved
	default:
		return // chmod etc.
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.stats.RawEvents++
	w.stats.LastEventPath = event.Name
	w.stats.LastEventTime = w.now()

	// New directories join the watch set so nested changes are seen
	if kind == KindCreated {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !matchesAny(w.relPath(event.Name), filepath.Base(event.Name), w.ignore) {
				if err := w.fsw.Add(event.Name); err != nil {
					logging.WatcherWarn("could not watch new dir %s: %v", event.Name, err)
				}
			}
			return
		}
	}

	rel := w.relPath(event.Name)
	name := filepath.Base(event.Name)
	if matchesAny(rel, name, w.ignore) {
		w.stats.Filtered++
		return
	}
	if len(w.include) > 0 && !matchesAny(rel, name, w.include) {
		w.stats.Filtered++
		return
	}

	logging.WatcherDebug("%s event for %s", kind, event.Name)

	entry, exists := w.pending[event.Name]
	if !exists {
		w.pending[event.Name] = &pending{kind: kind, eventAt: w.now()}
		return
	}
	// A freshly created file that keeps being written is still "created"
	if !(entry.kind == KindCreated && kind == KindModified) {
		entry.kind = kind
	}
	entry.eventAt = w.now()
	entry.digest = ""
	entry.sampledAt = time.Time{}
}

// settlePending samples pending paths and emits events once stable. A path
// is stable when its digest is unchanged across two samples separated by the
// stability delay; a path that disappears emits a deleted event instead.
func (w *Watcher) settlePending() {
	w.mu.Lock()
	now := w.now()
	var toEmit []FileEvent

	for p, entry := range w.pending {
		// First sample happens once the raw events quiesce
		if entry.digest == "" && entry.sampledAt.IsZero() {
			d, err := digest.File(p)
			if err != nil {
				if os.IsNotExist(err) {
					toEmit = append(toEmit, FileEvent{
						ID:         uuid.NewString(),
						Kind:       KindDeleted,
						Path:       p,
						ObservedAt: now,
						Stable:     true,
					})
					delete(w.pending, p)
					continue
				}
				logging.WatcherWarn("digest failed for %s: %v", p, err)
				w.stats.Errors++
				delete(w.pending, p)
				continue
			}
			entry.digest = d
			entry.sampledAt = now
			continue
		}

		if now.Sub(entry.sampledAt) < w.delay {
			continue
		}

		// Second sample after the stability delay
		d, err := digest.File(p)
		if err != nil {
			if os.IsNotExist(err) {
				toEmit = append(toEmit, FileEvent{
					ID:         uuid.NewString(),
					Kind:       KindDeleted,
					Path:       p,
					ObservedAt: now,
					Stable:     true,
				})
				delete(w.pending, p)
				continue
			}
			logging.WatcherWarn("digest failed for %s: %v", p, err)
			w.stats.Errors++
			delete(w.pending, p)
			continue
		}

		if d != entry.digest {
			// Still being written; restart the stability wait
			entry.digest = d
			entry.sampledAt = now
			continue
		}

		toEmit = append(toEmit, FileEvent{
			ID:         uuid.NewString(),
			Kind:       entry.kind,
			Path:       p,
			ObservedAt: now,
			Stable:     true,
			Digest:     d,
		})
		delete(w.pending, p)
	}

	for _, e := range toEmit {
		w.stats.Emitted++
		if e.Kind == KindDeleted {
			w.stats.Deleted++
		}
	}
	callbacks := w.callbacks
	w.mu.Unlock()

	for _, e := range toEmit {
		logging.Watcher("emit %s %s", e.Kind, e.Path)
		for _, cb := range callbacks {
			cb(e)
		}
	}
}
