package main

import (
	"fmt"
	"os"

	"repoops/internal/policy"
	"repoops/internal/queue"

	"github.com/spf13/cobra"
)

// statusCmd reports queue and contract state
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue and contract status",
	Long: `Prints work queue statistics and the loaded module contracts.

Example:
  repoops status
  repoops status -w /path/to/workspace`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Printf("workspace: %s\n", workspace)
	fmt.Printf("dry_run:   %v\n", cfg.Git.DryRun)

	store, err := queue.Open(resolvePath(cfg.Queue.DatabasePath))
	if err != nil {
		return fmt.Errorf("failed to open queue: %w", err)
	}
	defer store.Close()

	stats, err := store.Stats()
	if err != nil {
		return fmt.Errorf("failed to read queue stats: %w", err)
	}
	fmt.Printf("\nqueue (%d items):\n", stats.Total())
	fmt.Printf("  pending:     %d\n", stats.Pending)
	fmt.Printf("  processing:  %d\n", stats.Processing)
	fmt.Printf("  done:        %d\n", stats.Done)
	fmt.Printf("  failed:      %d\n", stats.Failed)
	fmt.Printf("  quarantined: %d\n", stats.Quarantined)

	contractsDir := resolvePath(cfg.Policy.ContractsDir)
	if _, statErr := os.Stat(contractsDir); os.IsNotExist(statErr) {
		fmt.Printf("\ncontracts: none (%s does not exist)\n", contractsDir)
		return nil
	}
	contracts, err := policy.LoadContracts(contractsDir)
	if err != nil {
		return fmt.Errorf("failed to load contracts: %w", err)
	}
	fmt.Printf("\ncontracts (%d):\n", len(contracts))
	for _, c := range contracts {
		fmt.Printf("  %s -> %s\n", c.ModuleID, c.Root)
	}

	failed, err := store.List(queue.StatusFailed, 10)
	if err != nil {
		return fmt.Errorf("failed to list failed items: %w", err)
	}
	if len(failed) > 0 {
		fmt.Printf("\nrecent failures:\n")
		for _, item := range failed {
			fmt.Printf("  %s: %s\n", item.Path, item.Error)
		}
	}
	return nil
}
