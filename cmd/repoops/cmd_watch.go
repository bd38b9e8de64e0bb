package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"repoops/internal/config"
	"repoops/internal/gitops"
	"repoops/internal/identity"
	"repoops/internal/logging"
	"repoops/internal/loopguard"
	"repoops/internal/orchestrator"
	"repoops/internal/policy"
	"repoops/internal/queue"
	"repoops/internal/validate"
	"repoops/internal/watch"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	watchDryRun  bool
	watchExecute bool
)

// watchCmd runs the full pipeline: watcher, queue, and processing loop
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch configured roots and process changes",
	Long: `Starts the file watcher and the processing loop. Settled file events
are classified, validated, given identities, and staged into git.

Dry-run is the default: intended mutations are logged and audited but not
applied. Pass --execute to apply them.

Example:
  repoops watch
  repoops watch --execute`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchDryRun, "dry-run", false, "Force dry-run mode")
	watchCmd.Flags().BoolVar(&watchExecute, "execute", false, "Apply mutations (overrides configured dry_run)")
}

// effectiveDryRun resolves the dry-run mode from flags and config.
// --dry-run wins over --execute; both win over the config file.
func effectiveDryRun(cfg *config.Config) bool {
	if watchDryRun {
		return true
	}
	if watchExecute {
		return false
	}
	return cfg.Git.DryRun
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dryRun := effectiveDryRun(cfg)

	contractsDir := resolvePath(cfg.Policy.ContractsDir)
	contracts, err := policy.LoadContracts(contractsDir)
	if err != nil {
		return exitWith(exitConfig, fmt.Errorf("failed to load contracts: %w", err))
	}
	if len(contracts) == 0 {
		return exitWith(exitConfig, fmt.Errorf("no module contracts in %s", contractsDir))
	}

	store, err := queue.Open(resolvePath(cfg.Queue.DatabasePath))
	if err != nil {
		return fmt.Errorf("failed to open queue: %w", err)
	}
	defer store.Close()

	audit, err := logging.NewAuditSink(resolvePath(cfg.Audit.Dir))
	if err != nil {
		return fmt.Errorf("failed to open audit sink: %w", err)
	}
	defer audit.Close()

	repoRoot := resolvePath(cfg.Git.RepoRoot)
	if repoRoot == "" {
		repoRoot = workspace
	}
	git := gitops.NewAdapter(repoRoot, cfg.Git.Remote, dryRun, cfg.Git.PushRetries)
	guard := loopguard.New(cfg.Watch.SuppressionWindowDuration())
	runner := validate.NewRunner(
		&validate.IdentityValidator{Required: cfg.Validation.RequireIdentity},
		&validate.SecretScanner{},
	)

	orch := orchestrator.New(cfg, store, policy.NewGate(contracts), runner,
		identity.New(), git, guard, audit)

	roots := make([]string, 0, len(cfg.Watch.Roots))
	for _, r := range cfg.Watch.Roots {
		roots = append(roots, resolvePath(r))
	}
	watcher, err := watch.New(roots, cfg.Watch.IncludePatterns, cfg.Watch.IgnorePatterns,
		cfg.Watch.StabilityDelayDuration())
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	watcher.OnEvent(orch.HandleFileEvent)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Graceful shutdown: stop the watcher first so no new events arrive,
	// then cancel the loop and let in-flight items drain
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		watcher.Stop()
		cancel()
	}()

	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	logger.Info("watching",
		zap.Strings("roots", roots),
		zap.Int("contracts", len(contracts)),
		zap.Bool("dry_run", dryRun))

	if err := orch.Run(ctx); err != nil {
		watcher.Stop()
		return err
	}
	if watcher.IsWatching() {
		watcher.Stop()
	}
	stats := watcher.GetStats()
	logger.Info("shutdown complete",
		zap.Int("raw_events", stats.RawEvents),
		zap.Int("filtered", stats.Filtered),
		zap.Int("emitted", stats.Emitted),
		zap.Int("deleted", stats.Deleted))
	return nil
}
