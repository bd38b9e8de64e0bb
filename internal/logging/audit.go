// Audit logging for the automation pipeline. Every processed path produces one
// append-only JSON line recording the outcome of each stage, so dry-run and
// execute runs can be diffed directly.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType identifies the pipeline event being recorded.
type AuditEventType string

const (
	AuditFileProcessed AuditEventType = "file_processed"
	AuditFileSkipped   AuditEventType = "file_skipped"
	AuditFileFailed    AuditEventType = "file_failed"
	AuditQuarantined   AuditEventType = "file_quarantined"
	AuditReconcile     AuditEventType = "reconcile"
	AuditGitOperation  AuditEventType = "git_operation"
)

// AuditRecord is a single append-only audit line.
type AuditRecord struct {
	Timestamp         time.Time      `json:"timestamp"`
	Event             AuditEventType `json:"event"`
	Path              string         `json:"path"`
	Classification    string         `json:"classification,omitempty"`
	ValidationSummary string         `json:"validation_summary,omitempty"`
	IdentityAssigned  bool           `json:"identity_assigned"`
	Staged            bool           `json:"staged"`
	DryRun            bool           `json:"dry_run"`
	Result            string         `json:"result"`
	Error             string         `json:"error,omitempty"`
}

// AuditSink writes audit records to one JSON-lines file per day.
// It is an owned component: the orchestrator holds an instance, tests can
// create throwaway sinks against a temp dir.
type AuditSink struct {
	mu   sync.Mutex
	dir  string
	date string
	file *os.File
}

// NewAuditSink creates the audit directory and returns a sink.
func NewAuditSink(dir string) (*AuditSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	return &AuditSink{dir: dir}, nil
}

// Write appends one record. The file rolls over when the date changes.
func (s *AuditSink) Write(rec AuditRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	date := rec.Timestamp.Format("2006-01-02")
	if s.file == nil || date != s.date {
		if s.file != nil {
			s.file.Close()
			s.file = nil
		}
		path := filepath.Join(s.dir, date+".jsonl")
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		s.file = file
		s.date = date
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}
	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit record: %w", err)
	}
	return nil
}

// Close closes the current audit file.
func (s *AuditSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		return err
	}
	return nil
}

// CurrentFile returns the path of the file the next record would land in.
func (s *AuditSink) CurrentFile() string {
	return filepath.Join(s.dir, time.Now().UTC().Format("2006-01-02")+".jsonl")
}
