package main

import (
	"fmt"
	"os"
	"path/filepath"

	"repoops/internal/config"

	"github.com/spf13/cobra"
)

// initCmd writes a default configuration into the workspace
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a workspace",
	Long: `Creates the .repoops directory with a default configuration and an
example module contract. Existing configuration is never overwritten.

Example:
  repoops init
  repoops init -w /path/to/workspace`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

const exampleContract = `# Example module contract. Adjust and rename, or add more
# yaml files alongside it; one file per module.
module_id: example-module
root: .
canonical_allowlist:
  - "*.md"
  - "src/*"
required_paths: []
optional_paths: []
generated_patterns:
  - "*_generated.*"
run_artifact_patterns:
  - "*.log"
forbidden_patterns:
  - "*.tmp"
quarantine_path: _quarantine
`

func runInit(cmd *cobra.Command, args []string) error {
	cfgPath := filepath.Join(workspace, ".repoops", "config.yaml")
	if _, err := os.Stat(cfgPath); err == nil {
		return exitWith(exitConfig, fmt.Errorf("workspace already initialized: %s exists", cfgPath))
	}

	cfg := config.DefaultConfig()
	if err := cfg.Save(workspace); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Printf("wrote %s\n", cfgPath)

	contractsDir := resolvePath(cfg.Policy.ContractsDir)
	if err := os.MkdirAll(contractsDir, 0755); err != nil {
		return fmt.Errorf("failed to create contracts dir: %w", err)
	}
	contractPath := filepath.Join(contractsDir, "example-module.yaml")
	if _, err := os.Stat(contractPath); os.IsNotExist(err) {
		if err := os.WriteFile(contractPath, []byte(exampleContract), 0644); err != nil {
			return fmt.Errorf("failed to write example contract: %w", err)
		}
		fmt.Printf("wrote %s\n", contractPath)
	}

	fmt.Println("edit the contract, then run: repoops watch")
	return nil
}
