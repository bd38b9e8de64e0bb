// Package loopguard suppresses filesystem events caused by the pipeline's own
// mutations. The orchestrator brackets every mutating operation with
// StartOperation/EndOperation; the watcher callback asks IsSelfInduced before
// enqueueing. This breaks the watch -> mutate -> detect -> re-process cycle
// without disabling the watcher during writes.
package loopguard

import (
	"sync"
	"time"

	"repoops/internal/logging"

	"github.com/google/uuid"
)

// Operation tracks an in-flight mutating operation.
type Operation struct {
	ID        string
	Type      string
	Paths     []string
	StartedAt time.Time
}

// completed is a time-stamped record of a finished operation for one path.
type completed struct {
	endedAt time.Time
}

// Guard is an owned loop-prevention instance. Multiple watch roots or test
// harnesses can run isolated Guards; nothing here is process-global.
type Guard struct {
	mu        sync.Mutex
	window    time.Duration
	open      map[string]*Operation // operation id -> operation
	openPaths map[string]string     // path -> operation id
	recent    map[string]completed  // path -> completion record
	now       func() time.Time      // injectable clock for tests
}

// New creates a Guard with the given suppression window.
func New(window time.Duration) *Guard {
	return &Guard{
		window:    window,
		open:      make(map[string]*Operation),
		openPaths: make(map[string]string),
		recent:    make(map[string]completed),
		now:       time.Now,
	}
}

// StartOperation registers a mutating operation on a path and returns its id.
func (g *Guard) StartOperation(path, opType string) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	op := &Operation{
		ID:        uuid.NewString(),
		Type:      opType,
		Paths:     []string{path},
		StartedAt: g.now(),
	}
	g.open[op.ID] = op
	g.openPaths[path] = op.ID

	logging.PipelineDebug("loopguard: start op=%s type=%s path=%s", op.ID, opType, path)
	return op.ID
}

// RegisterPath adds another path to an open operation. Used when a mutation
// renames a file: the original and resulting path must both suppress events
// under the same operation.
func (g *Guard) RegisterPath(opID, path string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	op, ok := g.open[opID]
	if !ok {
		return
	}
	for _, p := range op.Paths {
		if p == path {
			return
		}
	}
	op.Paths = append(op.Paths, path)
	g.openPaths[path] = opID
	logging.PipelineDebug("loopguard: op=%s also covers path=%s", opID, path)
}

// EndOperation closes an operation. Every path it covered gets a completion
// record that keeps suppressing events for the length of the window.
func (g *Guard) EndOperation(opID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	op, ok := g.open[opID]
	if !ok {
		return
	}
	delete(g.open, opID)

	end := g.now()
	for _, p := range op.Paths {
		if g.openPaths[p] == opID {
			delete(g.openPaths, p)
		}
		g.recent[p] = completed{endedAt: end}
	}
	logging.PipelineDebug("loopguard: end op=%s paths=%d", opID, len(op.Paths))
}

// IsSelfInduced reports whether an event for path at eventTime was caused by
// the pipeline itself: either an operation is still open for the path, or one
// completed within the suppression window of eventTime.
func (g *Guard) IsSelfInduced(path string, eventTime time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	// Lazy purge keeps the maps bounded without a background sweep.
	g.purgeLocked()

	if _, open := g.openPaths[path]; open {
		return true
	}
	if rec, ok := g.recent[path]; ok {
		if eventTime.Sub(rec.endedAt) <= g.window {
			return true
		}
	}
	return false
}

// OpenOperations returns the number of currently open operations.
func (g *Guard) OpenOperations() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.open)
}

func (g *Guard) purgeLocked() {
	cutoff := g.now().Add(-g.window)
	for p, rec := range g.recent {
		if rec.endedAt.Before(cutoff) {
			delete(g.recent, p)
		}
	}
}
