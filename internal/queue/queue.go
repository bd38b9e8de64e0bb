// Package queue implements the durable, restart-safe work queue backed by
// SQLite. Items are keyed by path while non-terminal: re-enqueueing a path
// updates the existing item instead of duplicating it, and claiming a batch
// atomically moves items to processing, so at most one in-flight processing
// operation exists per path.
package queue

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"repoops/internal/logging"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Status is the lifecycle state of a WorkItem.
type Status string

const (
	StatusPending     Status = "pending"
	StatusProcessing  Status = "processing"
	StatusDone        Status = "done"
	StatusFailed      Status = "failed"
	StatusQuarantined Status = "quarantined"
)

// Terminal reports whether the status is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusQuarantined
}

// WorkItem is a queued, path-keyed unit of pending work.
type WorkItem struct {
	ID          string
	Path        string
	EventKind   string
	FirstSeen   time.Time
	LastSeen    time.Time
	Attempts    int
	Occurrences int
	Status      Status
	Error       string
}

// Stats holds per-status item counts.
type Stats struct {
	Pending     int
	Processing  int
	Done        int
	Failed      int
	Quarantined int
}

// Total returns the total number of items.
func (s Stats) Total() int {
	return s.Pending + s.Processing + s.Done + s.Failed + s.Quarantined
}

// Store is the SQLite-backed queue store.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
}

// Open initializes the queue database at the given path.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryQueue, "queue.Open")
	defer timer.Stop()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create queue directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.QueueDebug("failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.QueueDebug("failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.QueueDebug("failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	logging.Queue("queue store ready at %s", path)
	return s, nil
}

// initialize creates the required tables.
func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS work_items (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		event_kind TEXT NOT NULL,
		first_seen INTEGER NOT NULL,
		last_seen INTEGER NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		occurrences INTEGER NOT NULL DEFAULT 1,
		status TEXT NOT NULL DEFAULT 'pending',
		error TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_work_items_status ON work_items(status);
	CREATE INDEX IF NOT EXISTS idx_work_items_path ON work_items(path);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize queue schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Enqueue inserts or refreshes a work item for the path. While an item for
// the path is non-terminal the enqueue is an upsert: last_seen, occurrences
// and event_kind are updated in place. Terminal items get a fresh row.
func (s *Store) Enqueue(path, eventKind string) (*WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("enqueue begin: %w", err)
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRow(
		`SELECT id FROM work_items WHERE path = ? AND status IN ('pending', 'processing')`,
		path,
	).Scan(&id)

	switch {
	case err == sql.ErrNoRows:
		id = uuid.NewString()
		_, err = tx.Exec(
			`INSERT INTO work_items (id, path, event_kind, first_seen, last_seen, status)
			 VALUES (?, ?, ?, ?, ?, 'pending')`,
			id, path, eventKind, now, now,
		)
		if err != nil {
			return nil, fmt.Errorf("enqueue insert: %w", err)
		}
		logging.QueueDebug("enqueued new item %s for %s (%s)", id, path, eventKind)
	case err != nil:
		return nil, fmt.Errorf("enqueue lookup: %w", err)
	default:
		_, err = tx.Exec(
			`UPDATE work_items SET last_seen = ?, occurrences = occurrences + 1, event_kind = ?
			 WHERE id = ?`,
			now, eventKind, id,
		)
		if err != nil {
			return nil, fmt.Errorf("enqueue refresh: %w", err)
		}
		logging.QueueDebug("refreshed item %s for %s (%s)", id, path, eventKind)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("enqueue commit: %w", err)
	}
	return s.getLocked(id)
}

// DequeueBatch atomically claims up to limit pending items, transitioning
// them to processing and bumping attempts.
func (s *Store) DequeueBatch(limit int) ([]*WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("dequeue begin: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(
		`SELECT id FROM work_items WHERE status = 'pending' ORDER BY first_seen ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("dequeue select: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("dequeue scan: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dequeue rows: %w", err)
	}

	for _, id := range ids {
		if _, err := tx.Exec(
			`UPDATE work_items SET status = 'processing', attempts = attempts + 1 WHERE id = ?`,
			id,
		); err != nil {
			return nil, fmt.Errorf("dequeue claim: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("dequeue commit: %w", err)
	}

	items := make([]*WorkItem, 0, len(ids))
	for _, id := range ids {
		item, err := s.getLocked(id)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if len(items) > 0 {
		logging.QueueDebug("claimed %d items", len(items))
	}
	return items, nil
}

// MarkDone transitions an item to done.
func (s *Store) MarkDone(id string) error {
	return s.setStatus(id, StatusDone, "")
}

// MarkFailed transitions an item to failed with an error message.
func (s *Store) MarkFailed(id, errMsg string) error {
	return s.setStatus(id, StatusFailed, errMsg)
}

// MarkQuarantined transitions an item to quarantined with a reason.
func (s *Store) MarkQuarantined(id, reason string) error {
	return s.setStatus(id, StatusQuarantined, reason)
}

// Requeue moves a failed item back to pending for another attempt.
func (s *Store) Requeue(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE work_items SET status = 'pending', error = '' WHERE id = ? AND status = 'failed'`,
		id,
	)
	if err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("requeue: item %s not found or not failed", id)
	}
	logging.Queue("requeued item %s", id)
	return nil
}

// RecoverStale requeues items left processing by a previous crash.
// Call once on startup before the polling loop begins.
func (s *Store) RecoverStale() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE work_items SET status = 'pending' WHERE status = 'processing'`)
	if err != nil {
		return 0, fmt.Errorf("recover stale: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.QueueWarn("recovered %d stale processing items to pending", n)
	}
	return int(n), nil
}

// Cleanup removes terminal items whose last_seen is older than the cutoff.
func (s *Store) Cleanup(olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan).UnixMilli()
	res, err := s.db.Exec(
		`DELETE FROM work_items
		 WHERE status IN ('done', 'failed', 'quarantined') AND last_seen < ?`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.Queue("cleanup removed %d terminal items", n)
	}
	return int(n), nil
}

// Get returns a work item by id.
func (s *Store) Get(id string) (*WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(id)
}

// GetByPath returns the current non-terminal item for a path, if any.
func (s *Store) GetByPath(path string) (*WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(
		`SELECT id, path, event_kind, first_seen, last_seen, attempts, occurrences, status, error
		 FROM work_items WHERE path = ? AND status IN ('pending', 'processing')`,
		path,
	)
	return scanItem(row)
}

// List returns items with the given status, newest first.
func (s *Store) List(status Status, limit int) ([]*WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, path, event_kind, first_seen, last_seen, attempts, occurrences, status, error
		 FROM work_items WHERE status = ? ORDER BY last_seen DESC LIMIT ?`,
		string(status), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	defer rows.Close()

	var items []*WorkItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Stats returns item counts per status.
func (s *Store) Stats() (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM work_items GROUP BY status`)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, fmt.Errorf("stats scan: %w", err)
		}
		switch Status(status) {
		case StatusPending:
			stats.Pending = count
		case StatusProcessing:
			stats.Processing = count
		case StatusDone:
			stats.Done = count
		case StatusFailed:
			stats.Failed = count
		case StatusQuarantined:
			stats.Quarantined = count
		}
	}
	return stats, rows.Err()
}

func (s *Store) setStatus(id string, status Status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE work_items SET status = ?, error = ?, last_seen = ? WHERE id = ?`,
		string(status), errMsg, time.Now().UnixMilli(), id,
	)
	if err != nil {
		return fmt.Errorf("set status %s: %w", status, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("set status: item %s not found", id)
	}
	logging.QueueDebug("item %s -> %s", id, status)
	return nil
}

func (s *Store) getLocked(id string) (*WorkItem, error) {
	row := s.db.QueryRow(
		`SELECT id, path, event_kind, first_seen, last_seen, attempts, occurrences, status, error
		 FROM work_items WHERE id = ?`,
		id,
	)
	return scanItem(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*WorkItem, error) {
	var item WorkItem
	var firstSeen, lastSeen int64
	var status string
	err := row.Scan(
		&item.ID, &item.Path, &item.EventKind,
		&firstSeen, &lastSeen,
		&item.Attempts, &item.Occurrences, &status, &item.Error,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan work item: %w", err)
	}
	item.FirstSeen = time.UnixMilli(firstSeen)
	item.LastSeen = time.UnixMilli(lastSeen)
	item.Status = Status(status)
	return &item, nil
}
