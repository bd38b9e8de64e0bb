// Package policy loads per-module contracts and classifies changed paths
// against them. A contract declares what files a module may, must, and must
// not contain; classification decides whether the pipeline stages, ignores,
// or quarantines a path.
package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"repoops/internal/logging"

	"gopkg.in/yaml.v3"
)

// ModuleContract declares the policy for one module root.
type ModuleContract struct {
	ModuleID            string   `yaml:"module_id"`
	Root                string   `yaml:"root"`
	CanonicalAllowlist  []string `yaml:"canonical_allowlist"`
	RequiredPaths       []string `yaml:"required_paths"`
	OptionalPaths       []string `yaml:"optional_paths"`
	GeneratedPatterns   []string `yaml:"generated_patterns"`
	RunArtifactPatterns []string `yaml:"run_artifact_patterns"`
	ForbiddenPatterns   []string `yaml:"forbidden_patterns"`
	QuarantinePath      string   `yaml:"quarantine_path"`
	ValidationRules     []string `yaml:"validation_rules"`
}

// LoadContracts reads every *.yaml file in dir as a module contract.
func LoadContracts(dir string) ([]*ModuleContract, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read contracts directory: %w", err)
	}

	var contracts []*ModuleContract
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read contract %s: %w", name, err)
		}

		var c ModuleContract
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("failed to parse contract %s: %w", name, err)
		}
		if c.ModuleID == "" {
			return nil, fmt.Errorf("contract %s: module_id is required", name)
		}
		if c.Root == "" {
			return nil, fmt.Errorf("contract %s: root is required", name)
		}
		c.Root = filepath.Clean(c.Root)
		contracts = append(contracts, &c)
		logging.PolicyDebug("loaded contract %s (root=%s)", c.ModuleID, c.Root)
	}

	// Longest root first so the most specific module owns nested paths
	sort.Slice(contracts, func(i, j int) bool {
		return len(contracts[i].Root) > len(contracts[j].Root)
	})

	logging.Policy("loaded %d module contracts from %s", len(contracts), dir)
	return contracts, nil
}

// Owns reports whether a path falls under this contract's root.
func (c *ModuleContract) Owns(path string) bool {
	rel, err := filepath.Rel(c.Root, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

// RelPath returns the path relative to the contract root, slash-separated.
func (c *ModuleContract) RelPath(path string) string {
	rel, err := filepath.Rel(c.Root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
