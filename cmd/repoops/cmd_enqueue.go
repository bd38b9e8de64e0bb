package main

import (
	"fmt"
	"path/filepath"

	"repoops/internal/queue"

	"github.com/spf13/cobra"
)

// enqueueCmd adds files to the work queue by hand
var enqueueCmd = &cobra.Command{
	Use:   "enqueue <path>...",
	Short: "Queue files for processing",
	Long: `Adds the given files to the work queue as if the watcher had seen
them change. Useful for backfilling files that predate the watcher.

Example:
  repoops enqueue docs/notes.md
  repoops enqueue src/*.py`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEnqueue,
}

// requeueCmd returns failed items to the queue
var requeueCmd = &cobra.Command{
	Use:   "requeue <item-id>...",
	Short: "Retry failed work items",
	Long: `Moves failed work items back to pending so the next processing run
picks them up again. Item ids come from "repoops status".

Example:
  repoops requeue 3f1c9a2e-8b6d-4f07-a1c5-2d9e4b7a6c01`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRequeue,
}

func init() {
	rootCmd.AddCommand(requeueCmd)
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := queue.Open(resolvePath(cfg.Queue.DatabasePath))
	if err != nil {
		return fmt.Errorf("failed to open queue: %w", err)
	}
	defer store.Close()

	for _, arg := range args {
		abs, err := filepath.Abs(resolvePath(arg))
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", arg, err)
		}
		item, err := store.Enqueue(abs, "manual")
		if err != nil {
			return fmt.Errorf("failed to enqueue %s: %w", abs, err)
		}
		fmt.Printf("enqueued %s (item %s, seen %d times)\n", abs, item.ID, item.Occurrences)
	}
	return nil
}

func runRequeue(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := queue.Open(resolvePath(cfg.Queue.DatabasePath))
	if err != nil {
		return fmt.Errorf("failed to open queue: %w", err)
	}
	defer store.Close()

	for _, id := range args {
		if err := store.Requeue(id); err != nil {
			return exitWith(exitGeneral, err)
		}
		fmt.Printf("requeued item %s\n", id)
	}
	return nil
}
