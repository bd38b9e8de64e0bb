// Package gitops wraps the git CLI for staging, committing, and pushing
// pipeline output. Every mutating call honors dry-run, and push retries
// transient failures with bounded backoff.
package gitops

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"repoops/internal/logging"
)

// ErrorKind classifies a failed git operation so the caller can decide
// between retrying, surfacing, and halting.
type ErrorKind string

const (
	KindNone         ErrorKind = "none"
	KindPrecondition ErrorKind = "precondition"
	KindTransient    ErrorKind = "transient"
	KindAuth         ErrorKind = "auth"
	KindConflict     ErrorKind = "conflict"
	KindFatal        ErrorKind = "fatal"
)

// OperationResult reports the outcome of one git operation.
type OperationResult struct {
	Success  bool
	Message  string
	Output   string
	Kind     ErrorKind
	Metadata map[string]string
}

// pushBackoff is the fixed retry schedule for transient push failures.
var pushBackoff = []time.Duration{5 * time.Second, 15 * time.Second, 45 * time.Second}

// runner executes a git subcommand and returns combined output.
type runner func(ctx context.Context, dir string, args ...string) (string, error)

// Adapter runs git operations against a single repository.
type Adapter struct {
	repoRoot    string
	remote      string
	dryRun      bool
	pushRetries int

	run   runner              // swapped in tests
	sleep func(time.Duration) // swapped in tests
}

// NewAdapter creates an Adapter rooted at repoRoot. Dry-run is the safe
// default; callers opt into real mutations explicitly.
func NewAdapter(repoRoot, remote string, dryRun bool, pushRetries int) *Adapter {
	if remote == "" {
		remote = "origin"
	}
	if pushRetries <= 0 {
		pushRetries = len(pushBackoff)
	}
	return &Adapter{
		repoRoot:    repoRoot,
		remote:      remote,
		dryRun:      dryRun,
		pushRetries: pushRetries,
		run:         runGit,
		sleep:       time.Sleep,
	}
}

// DryRun reports whether the adapter is in dry-run mode.
func (a *Adapter) DryRun() bool {
	return a.dryRun
}

// runGit executes git with combined stdout/stderr capture.
func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	return strings.TrimSpace(out.String()), err
}

// classify maps git output to an ErrorKind. Matching is textual because
// git does not expose structured errors over the CLI.
func classify(output string) ErrorKind {
	lower := strings.ToLower(output)
	switch {
	case strings.Contains(lower, "authentication failed"),
		strings.Contains(lower, "permission denied"),
		strings.Contains(lower, "could not read username"),
		strings.Contains(lower, "invalid credentials"):
		return KindAuth
	case strings.Contains(lower, "conflict"),
		strings.Contains(lower, "non-fast-forward"),
		strings.Contains(lower, "fetch first"),
		strings.Contains(lower, "rejected"):
		return KindConflict
	case strings.Contains(lower, "could not resolve host"),
		strings.Contains(lower, "connection refused"),
		strings.Contains(lower, "connection reset"),
		strings.Contains(lower, "timed out"),
		strings.Contains(lower, "early eof"),
		strings.Contains(lower, "remote end hung up"):
		return KindTransient
	case strings.Contains(lower, "not a git repository"),
		strings.Contains(lower, "nothing to commit"),
		strings.Contains(lower, "pathspec"),
		strings.Contains(lower, "did not match any"):
		return KindPrecondition
	default:
		return KindFatal
	}
}

// dryRunResult reports the command that would have run.
func (a *Adapter) dryRunResult(args ...string) OperationResult {
	cmdline := "git " + strings.Join(args, " ")
	logging.Git("dry-run: %s", cmdline)
	return OperationResult{
		Success:  true,
		Message:  "dry-run: " + cmdline,
		Kind:     KindNone,
		Metadata: map[string]string{"dry_run": "true", "command": cmdline},
	}
}

// exec runs one git command and wraps the outcome.
func (a *Adapter) exec(ctx context.Context, args ...string) OperationResult {
	output, err := a.run(ctx, a.repoRoot, args...)
	if err != nil {
		kind := classify(output)
		logging.GitWarn("git %s failed (%s): %v", args[0], kind, err)
		return OperationResult{
			Message: fmt.Sprintf("git %s failed: %v", args[0], err),
			Output:  output,
			Kind:    kind,
		}
	}
	logging.GitDebug("git %s ok", strings.Join(args, " "))
	return OperationResult{
		Success: true,
		Message: "git " + args[0] + " succeeded",
		Output:  output,
		Kind:    KindNone,
	}
}

// StageFiles adds the given paths to the index.
func (a *Adapter) StageFiles(ctx context.Context, paths []string) OperationResult {
	if len(paths) == 0 {
		return OperationResult{
			Message: "no paths to stage",
			Kind:    KindPrecondition,
		}
	}
	args := append([]string{"add", "--"}, paths...)
	if a.dryRun {
		return a.dryRunResult(args...)
	}
	return a.exec(ctx, args...)
}

// Commit records staged changes. Paths, when given, narrow the commit.
func (a *Adapter) Commit(ctx context.Context, message string, paths []string) OperationResult {
	if message == "" {
		return OperationResult{
			Message: "commit message is required",
			Kind:    KindPrecondition,
		}
	}
	args := []string{"commit", "-m", message}
	if len(paths) > 0 {
		args = append(append(args, "--"), paths...)
	}
	if a.dryRun {
		return a.dryRunResult(args...)
	}
	return a.exec(ctx, args...)
}

// PullRebase rebases local work onto the remote branch.
func (a *Adapter) PullRebase(ctx context.Context) OperationResult {
	args := []string{"pull", "--rebase", a.remote}
	if a.dryRun {
		return a.dryRunResult(args...)
	}
	return a.exec(ctx, args...)
}

// Push pushes to the remote, retrying transient failures with fixed
// backoff. Auth and conflict errors surface immediately.
func (a *Adapter) Push(ctx context.Context) OperationResult {
	args := []string{"push", a.remote}
	if a.dryRun {
		return a.dryRunResult(args...)
	}

	var last OperationResult
	retries := 0
	for attempt := 0; ; attempt++ {
		last = a.exec(ctx, args...)
		if last.Success || last.Kind != KindTransient || attempt >= a.pushRetries {
			break
		}
		delay := pushBackoff[min(attempt, len(pushBackoff)-1)]
		logging.GitWarn("push attempt %d failed (transient), retrying in %v", attempt+1, delay)
		a.sleep(delay)
		retries++
	}
	last.Metadata = map[string]string{"retries": strconv.Itoa(retries)}
	return last
}

// CreateBranch creates and checks out a branch.
func (a *Adapter) CreateBranch(ctx context.Context, name string) OperationResult {
	if name == "" {
		return OperationResult{
			Message: "branch name is required",
			Kind:    KindPrecondition,
		}
	}
	args := []string{"checkout", "-b", name}
	if a.dryRun {
		return a.dryRunResult(args...)
	}
	return a.exec(ctx, args...)
}

// CheckCleanTree reports whether the working tree has no changes.
// Read-only, so it runs even in dry-run mode.
func (a *Adapter) CheckCleanTree(ctx context.Context) (bool, OperationResult) {
	res := a.exec(ctx, "status", "--porcelain")
	if !res.Success {
		return false, res
	}
	return res.Output == "", res
}

// CurrentBranch returns the checked-out branch name. Read-only.
func (a *Adapter) CurrentBranch(ctx context.Context) (string, OperationResult) {
	res := a.exec(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if !res.Success {
		return "", res
	}
	return res.Output, res
}
