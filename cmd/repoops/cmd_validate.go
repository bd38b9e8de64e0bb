package main

import (
	"fmt"
	"path/filepath"

	"repoops/internal/validate"

	"github.com/spf13/cobra"
)

// validateCmd runs the validator set against files without queueing them
var validateCmd = &cobra.Command{
	Use:   "validate <path>...",
	Short: "Validate files without processing them",
	Long: `Runs the configured validators (identity header, secret scanner)
against the given files and prints each result. Nothing is queued, renamed,
or staged.

Example:
  repoops validate docs/notes.md src/config.py`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	runner := validate.NewRunner(
		&validate.IdentityValidator{Required: cfg.Validation.RequireIdentity},
		&validate.SecretScanner{},
	)

	failed := false
	for _, arg := range args {
		path := resolvePath(arg)
		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", arg, err)
		}

		results := runner.ValidateFile(abs)
		fmt.Printf("%s:\n", abs)
		for _, res := range results {
			mark := "ok"
			if !res.Passed {
				mark = "FAIL"
				failed = true
			}
			fmt.Printf("  [%s] %s: %s\n", mark, res.ValidatorName, res.Message)
			for _, d := range res.Details {
				fmt.Printf("         %s\n", d)
			}
			for _, s := range res.Suggestions {
				fmt.Printf("         suggestion: %s\n", s)
			}
		}
	}

	if failed {
		return exitWith(exitValidation, fmt.Errorf("validation failed"))
	}
	return nil
}
