// Package orchestrator drives the processing pipeline: it drains the work
// queue on a polling loop, runs each item through classification,
// validation, identity, and staging, and records every outcome in the
// audit log. Watcher events enter the queue through HandleFileEvent after
// the loop-prevention check.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"repoops/internal/config"
	"repoops/internal/gitops"
	"repoops/internal/identity"
	"repoops/internal/logging"
	"repoops/internal/loopguard"
	"repoops/internal/policy"
	"repoops/internal/queue"
	"repoops/internal/validate"
	"repoops/internal/watch"
)

// cleanupEvery is how often terminal items older than the retention window
// are purged. Deliberately much slower than the poll interval.
const cleanupEvery = time.Hour

// Orchestrator owns the processing loop and its collaborators.
type Orchestrator struct {
	cfg    *config.Config
	store  *queue.Store
	gate   *policy.Gate
	runner *validate.Runner
	ident  *identity.Pipeline
	git    *gitops.Adapter
	guard  *loopguard.Guard
	audit  *logging.AuditSink

	mu      sync.Mutex
	running bool
}

// New wires an Orchestrator from its collaborators.
func New(cfg *config.Config, store *queue.Store, gate *policy.Gate,
	runner *validate.Runner, ident *identity.Pipeline, git *gitops.Adapter,
	guard *loopguard.Guard, audit *logging.AuditSink) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		store:  store,
		gate:   gate,
		runner: runner,
		ident:  ident,
		git:    git,
		guard:  guard,
		audit:  audit,
	}
}

// HandleFileEvent is the watcher callback: drop self-induced events,
// enqueue everything else. Cheap by contract; the heavy work happens on
// the polling loop.
func (o *Orchestrator) HandleFileEvent(e watch.FileEvent) {
	if o.guard.IsSelfInduced(e.Path, e.ObservedAt) {
		logging.PipelineDebug("suppressed self-induced event for %s", e.Path)
		return
	}
	if _, err := o.store.Enqueue(e.Path, string(e.Kind)); err != nil {
		logging.PipelineError("enqueue failed for %s: %v", e.Path, err)
		return
	}
	logging.Pipeline("enqueued %s (%s)", e.Path, e.Kind)
}

// Run executes the polling loop until ctx is cancelled. Items already
// claimed when shutdown begins run to completion before Run returns.
// A queue store error is fatal and halts the loop.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already running")
	}
	o.running = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	// Items stranded in processing by a previous crash go back to pending
	recovered, err := o.store.RecoverStale()
	if err != nil {
		return fmt.Errorf("stale recovery failed: %w", err)
	}
	if recovered > 0 {
		logging.Pipeline("recovered %d stale work items", recovered)
	}

	poll := time.NewTicker(o.cfg.Queue.PollIntervalDuration())
	defer poll.Stop()
	cleanup := time.NewTicker(cleanupEvery)
	defer cleanup.Stop()

	logging.Pipeline("processing loop started (poll %v, %d workers, dry_run=%v)",
		o.cfg.Queue.PollIntervalDuration(), o.workers(), o.git.DryRun())

	for {
		select {
		case <-ctx.Done():
			logging.Pipeline("processing loop stopping")
			return nil

		case <-cleanup.C:
			removed, err := o.store.Cleanup(o.cfg.Queue.RetentionDuration())
			if err != nil {
				return fmt.Errorf("queue cleanup failed: %w", err)
			}
			if removed > 0 {
				logging.Pipeline("cleaned up %d terminal work items", removed)
			}

		case <-poll.C:
			if err := o.processBatch(ctx); err != nil {
				return err
			}
		}
	}
}

// Running reports whether the polling loop is active.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

func (o *Orchestrator) workers() int {
	if o.cfg.Queue.Workers > 0 {
		return o.cfg.Queue.Workers
	}
	return 1
}

// processBatch claims up to batchSize items and processes them across a
// bounded worker pool. The queue guarantees at most one non-terminal item
// per path, so no two workers ever touch the same file.
func (o *Orchestrator) processBatch(ctx context.Context) error {
	batch, err := o.store.DequeueBatch(o.cfg.Queue.BatchSize)
	if err != nil {
		return fmt.Errorf("dequeue failed: %w", err)
	}
	if len(batch) == 0 {
		return nil
	}
	logging.PipelineDebug("claimed %d work items", len(batch))

	sem := make(chan struct{}, o.workers())
	errCh := make(chan error, len(batch))
	var wg sync.WaitGroup

	for _, item := range batch {
		wg.Add(1)
		sem <- struct{}{}
		go func(item *queue.WorkItem) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := o.processItem(ctx, item); err != nil {
				errCh <- err
			}
		}(item)
	}
	wg.Wait()
	close(errCh)

	// Only store-level failures are fatal; per-file failures were already
	// recorded against their items.
	for err := range errCh {
		return err
	}
	return nil
}

// processItem runs one work item through the full pipeline. The returned
// error is non-nil only for queue store failures.
func (o *Orchestrator) processItem(ctx context.Context, item *queue.WorkItem) error {
	opID := o.guard.StartOperation(item.Path, "process")
	defer o.guard.EndOperation(opID)

	rec := logging.AuditRecord{
		Timestamp: time.Now().UTC(),
		Path:      item.Path,
		DryRun:    o.git.DryRun(),
	}

	// The file may have changed or vanished between enqueue and claim
	if _, err := os.Stat(item.Path); os.IsNotExist(err) {
		rec.Event = logging.AuditFileSkipped
		rec.Result = "file no longer exists"
		o.writeAudit(rec)
		return o.store.MarkDone(item.ID)
	}

	cls := o.gate.ClassifyFile(item.Path)
	rec.Classification = string(cls.Category)

	switch cls.Category {
	case policy.CategoryGenerated, policy.CategoryRunArtifact:
		logging.PipelineDebug("skipping %s file %s", cls.Category, item.Path)
		rec.Event = logging.AuditFileSkipped
		rec.Result = cls.Reason
		o.writeAudit(rec)
		return o.store.MarkDone(item.ID)

	case policy.CategoryQuarantine:
		logging.PipelineWarn("quarantining %s: %s", item.Path, cls.Reason)
		rec.Event = logging.AuditQuarantined
		rec.Result = cls.Reason
		o.writeAudit(rec)
		return o.store.MarkQuarantined(item.ID, cls.Reason)
	}

	results := o.runner.ValidateFile(item.Path)
	rec.ValidationSummary = validate.Summarize(results)
	if !validate.AllPassed(results) {
		logging.PipelineWarn("validation failed for %s: %s", item.Path, rec.ValidationSummary)
		rec.Event = logging.AuditFileFailed
		rec.Result = "validation failed"
		o.writeAudit(rec)
		return o.store.MarkFailed(item.ID, rec.ValidationSummary)
	}

	finalPath := item.Path
	if o.git.DryRun() {
		has, err := o.ident.HasIdentity(item.Path)
		if err != nil {
			rec.Event = logging.AuditFileFailed
			rec.Error = err.Error()
			rec.Result = "identity check failed"
			o.writeAudit(rec)
			return o.store.MarkFailed(item.ID, err.Error())
		}
		if !has {
			rec.Result = "dry-run: would assign identity"
		}
	} else {
		res, err := o.ident.ProcessFile(item.Path, "")
		if err != nil {
			logging.PipelineError("identity failed for %s: %v", item.Path, err)
			rec.Event = logging.AuditFileFailed
			rec.Error = err.Error()
			rec.Result = "identity assignment failed"
			o.writeAudit(rec)
			return o.store.MarkFailed(item.ID, err.Error())
		}
		finalPath = res.FinalPath
		rec.IdentityAssigned = res.Renamed || res.HeaderAdded
		if res.Renamed {
			// The rename belongs to this operation, not to the author
			o.guard.RegisterPath(opID, finalPath)
		}
	}

	stage := o.git.StageFiles(ctx, []string{finalPath})
	if !stage.Success {
		logging.GitWarn("staging failed for %s: %s", finalPath, stage.Message)
		rec.Event = logging.AuditFileFailed
		rec.Error = stage.Message
		rec.Result = "staging failed"
		o.writeAudit(rec)
		return o.store.MarkFailed(item.ID, stage.Message)
	}
	rec.Staged = !o.git.DryRun()

	rec.Event = logging.AuditFileProcessed
	if rec.Result == "" {
		rec.Result = "processed"
	}
	o.writeAudit(rec)
	logging.Pipeline("processed %s", finalPath)
	return o.store.MarkDone(item.ID)
}

// Reconcile runs contract enforcement for the named modules (all loaded
// modules when none are given) and audits each report. When enqueue is set,
// unexpected files are queued for normal processing; otherwise the run is
// report-only.
func (o *Orchestrator) Reconcile(enqueue bool, moduleIDs ...string) (map[string]policy.ContractReport, error) {
	if len(moduleIDs) == 0 {
		for _, c := range o.gate.Contracts() {
			moduleIDs = append(moduleIDs, c.ModuleID)
		}
	}

	reports := make(map[string]policy.ContractReport, len(moduleIDs))
	for _, id := range moduleIDs {
		contract := o.gate.Contract(id)
		report, err := o.gate.EnforceContract(id)
		if err != nil {
			return reports, err
		}
		reports[id] = report

		result := "clean"
		if !report.Clean() {
			result = fmt.Sprintf("%d missing, %d unexpected, %d forbidden",
				len(report.MissingRequired), len(report.Unexpected), len(report.Forbidden))
		}
		o.writeAudit(logging.AuditRecord{
			Timestamp: time.Now().UTC(),
			Event:     logging.AuditReconcile,
			Path:      id,
			DryRun:    o.git.DryRun(),
			Result:    result,
		})

		if !enqueue {
			continue
		}

		// Unexpected files feed back into the queue for normal processing
		for _, p := range report.Unexpected {
			abs := filepath.Join(contract.Root, filepath.FromSlash(p))
			if _, err := o.store.Enqueue(abs, "reconcile"); err != nil {
				return reports, fmt.Errorf("reconcile enqueue failed: %w", err)
			}
		}
	}
	return reports, nil
}

func (o *Orchestrator) writeAudit(rec logging.AuditRecord) {
	if o.audit == nil {
		return
	}
	if err := o.audit.Write(rec); err != nil {
		logging.PipelineError("audit write failed: %v", err)
	}
}

// FormatReport renders a reconcile report for CLI output.
func FormatReport(moduleID string, r policy.ContractReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "module %s:", moduleID)
	if r.Clean() {
		b.WriteString(" clean\n")
		return b.String()
	}
	b.WriteString("\n")
	for _, p := range r.MissingRequired {
		fmt.Fprintf(&b, "  missing required: %s\n", p)
	}
	for _, p := range r.Unexpected {
		fmt.Fprintf(&b, "  unexpected: %s\n", p)
	}
	for _, p := range r.Forbidden {
		fmt.Fprintf(&b, "  forbidden: %s\n", p)
	}
	return b.String()
}
