package main

import (
	"fmt"

	"repoops/internal/gitops"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	pushMessage string
	pushExecute bool
	pushBranch  string
)

// pushCmd commits staged pipeline output and pushes it
var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Commit staged pipeline output and push to the remote",
	Long: `Commits whatever the pipeline has staged and pushes to the
configured remote. On a rejected push the command pulls with rebase and
retries once. Transient network failures retry with backoff.

Dry-run by default; pass --execute to run the git commands.

Example:
  repoops push -m "automated intake"
  repoops push -m "automated intake" --execute`,
	RunE: runPush,
}

func init() {
	pushCmd.Flags().StringVarP(&pushMessage, "message", "m", "automated repository intake", "Commit message")
	pushCmd.Flags().BoolVar(&pushExecute, "execute", false, "Run the git commands (default is dry-run)")
	pushCmd.Flags().StringVar(&pushBranch, "branch", "", "Create and push a new branch instead of the current one")

	rootCmd.AddCommand(pushCmd)
}

func runPush(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	repoRoot := resolvePath(cfg.Git.RepoRoot)
	if repoRoot == "" {
		repoRoot = workspace
	}
	dryRun := !pushExecute && cfg.Git.DryRun
	git := gitops.NewAdapter(repoRoot, cfg.Git.Remote, dryRun, cfg.Git.PushRetries)
	ctx := cmd.Context()

	clean, res := git.CheckCleanTree(ctx)
	if !res.Success {
		return exitWith(exitGit, fmt.Errorf("git status failed: %s", res.Message))
	}
	if clean {
		fmt.Println("nothing to push, working tree clean")
		return nil
	}

	branch, res := git.CurrentBranch(ctx)
	if !res.Success {
		return exitWith(exitGit, fmt.Errorf("could not determine branch: %s", res.Message))
	}
	logger.Info("pushing", zap.String("branch", branch), zap.Bool("dry_run", dryRun))

	if pushBranch != "" {
		if res := git.CreateBranch(ctx, pushBranch); !res.Success {
			return exitWith(exitGit, fmt.Errorf("branch creation failed: %s", res.Message))
		}
	}

	if res := git.Commit(ctx, pushMessage, nil); !res.Success {
		if res.Kind == gitops.KindPrecondition {
			fmt.Println("nothing to commit")
			return nil
		}
		return exitWith(exitGit, fmt.Errorf("commit failed: %s", res.Message))
	}

	res = git.Push(ctx)
	if !res.Success && res.Kind == gitops.KindConflict {
		// Remote moved ahead; rebase and try once more
		logger.Warn("push rejected, rebasing", zap.String("branch", branch))
		if pull := git.PullRebase(ctx); !pull.Success {
			return exitWith(exitGit, fmt.Errorf("pull --rebase failed: %s", pull.Message))
		}
		res = git.Push(ctx)
	}
	if !res.Success {
		return exitWith(exitGit, fmt.Errorf("push failed (%s): %s", res.Kind, res.Message))
	}

	fmt.Println(res.Message)
	return nil
}
