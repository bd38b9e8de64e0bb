package main

import (
	"fmt"

	"repoops/internal/gitops"
	"repoops/internal/identity"
	"repoops/internal/logging"
	"repoops/internal/loopguard"
	"repoops/internal/orchestrator"
	"repoops/internal/policy"
	"repoops/internal/queue"
	"repoops/internal/validate"

	"github.com/spf13/cobra"
)

var reconcileDryRun bool

// reconcileCmd audits module trees against their contracts
var reconcileCmd = &cobra.Command{
	Use:   "reconcile [module-id]...",
	Short: "Audit module trees against their contracts",
	Long: `Walks each module root and reports contract violations: missing
required files, unexpected files, and forbidden files. With --dry-run=false,
unexpected files are queued for normal processing.

With no arguments every loaded contract is reconciled.

Example:
  repoops reconcile
  repoops reconcile docs-module`,
	RunE: runReconcile,
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileDryRun, "dry-run", true, "Report only; do not queue unexpected files")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	contracts, err := policy.LoadContracts(resolvePath(cfg.Policy.ContractsDir))
	if err != nil {
		return exitWith(exitConfig, fmt.Errorf("failed to load contracts: %w", err))
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

	// Reconcile never mutates git, so the adapter stays in dry-run
	git := gitops.NewAdapter(workspace, cfg.Git.Remote, true, cfg.Git.PushRetries)
	runner := validate.NewRunner(
		&validate.IdentityValidator{Required: cfg.Validation.RequireIdentity},
		&validate.SecretScanner{},
	)
	orch := orchestrator.New(cfg, store, policy.NewGate(contracts), runner,
		identity.New(), git, loopguard.New(cfg.Watch.SuppressionWindowDuration()), audit)

	reports, err := orch.Reconcile(!reconcileDryRun, args...)
	if err != nil {
		return err
	}

	dirty := false
	for id, report := range reports {
		fmt.Print(orchestrator.FormatReport(id, report))
		if !report.Clean() {
			dirty = true
		}
	}
	if dirty {
		return exitWith(exitGeneral, fmt.Errorf("contract violations found"))
	}
	fmt.Println("all modules clean")
	return nil
}
