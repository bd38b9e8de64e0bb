package policy

import (
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"repoops/internal/logging"
)

// Category is the classification outcome for a path.
type Category string

const (
	CategoryCanonical   Category = "canonical"
	CategoryGenerated   Category = "generated"
	CategoryRunArtifact Category = "run_artifact"
	CategoryQuarantine  Category = "quarantine"
)

// Classification is the result of evaluating a path against its owning
// module's contract. Derived, not persisted beyond the audit log.
type Classification struct {
	Category        Category
	Reason          string
	MatchedPattern  string
	SuggestedAction string
	ModuleID        string
}

// Gate evaluates paths against loaded module contracts.
// Contracts are immutable during a processing cycle; Reload swaps the set.
type Gate struct {
	contracts []*ModuleContract
}

// NewGate creates a Gate over a contract set.
func NewGate(contracts []*ModuleContract) *Gate {
	return &Gate{contracts: contracts}
}

// Contracts returns the loaded contract set.
func (g *Gate) Contracts() []*ModuleContract {
	return g.contracts
}

// Contract returns the contract with the given module id, or nil.
func (g *Gate) Contract(moduleID string) *ModuleContract {
	for _, c := range g.contracts {
		if c.ModuleID == moduleID {
			return c
		}
	}
	return nil
}

// owningContract returns the most specific contract whose root contains path.
// Contracts are sorted longest-root-first at load time.
func (g *Gate) owningContract(path string) *ModuleContract {
	for _, c := range g.contracts {
		if c.Owns(path) {
			return c
		}
	}
	return nil
}

// ClassifyFile classifies a path with strict precedence:
//  1. no owning module           -> quarantine
//  2. forbidden pattern          -> quarantine (wins over canonical)
//  3. canonical allowlist        -> canonical
//  4. required or optional path  -> canonical (declared expected content)
//  5. generated pattern          -> generated
//  6. run artifact pattern       -> run_artifact
//  7. anything else              -> quarantine
func (g *Gate) ClassifyFile(p string) Classification {
	c := g.owningContract(p)
	if c == nil {
		logging.PolicyDebug("classify %s: no owning module", p)
		return Classification{
			Category:        CategoryQuarantine,
			Reason:          "no module contract",
			SuggestedAction: "add a module contract covering this path or move the file",
		}
	}

	rel := c.RelPath(p)
	name := path.Base(rel)

	if pat, ok := matchAny(rel, name, c.ForbiddenPatterns); ok {
		logging.Policy("classify %s: forbidden (%s) in module %s", p, pat, c.ModuleID)
		return Classification{
			Category:        CategoryQuarantine,
			Reason:          "forbidden pattern",
			MatchedPattern:  pat,
			SuggestedAction: "move to " + c.QuarantinePath + " and review",
			ModuleID:        c.ModuleID,
		}
	}

	if pat, ok := matchAny(rel, name, c.CanonicalAllowlist); ok {
		return Classification{
			Category:        CategoryCanonical,
			Reason:          "canonical allowlist",
			MatchedPattern:  pat,
			SuggestedAction: "validate and stage",
			ModuleID:        c.ModuleID,
		}
	}

	if p2, ok := declaredPath(rel, c.RequiredPaths); ok {
		return Classification{
			Category:        CategoryCanonical,
			Reason:          "required path",
			MatchedPattern:  p2,
			SuggestedAction: "validate and stage",
			ModuleID:        c.ModuleID,
		}
	}

	if p2, ok := declaredPath(rel, c.OptionalPaths); ok {
		return Classification{
			Category:        CategoryCanonical,
			Reason:          "optional path",
			MatchedPattern:  p2,
			SuggestedAction: "validate and stage",
			ModuleID:        c.ModuleID,
		}
	}

	if pat, ok := matchAny(rel, name, c.GeneratedPatterns); ok {
		return Classification{
			Category:        CategoryGenerated,
			Reason:          "generated pattern",
			MatchedPattern:  pat,
			SuggestedAction: "ignore",
			ModuleID:        c.ModuleID,
		}
	}

	if pat, ok := matchAny(rel, name, c.RunArtifactPatterns); ok {
		return Classification{
			Category:        CategoryRunArtifact,
			Reason:          "run artifact pattern",
			MatchedPattern:  pat,
			SuggestedAction: "ignore",
			ModuleID:        c.ModuleID,
		}
	}

	logging.Policy("classify %s: not in any allowlist of module %s", p, c.ModuleID)
	return Classification{
		Category:        CategoryQuarantine,
		Reason:          "not in any allowlist",
		SuggestedAction: "add to the canonical allowlist or move to " + c.QuarantinePath,
		ModuleID:        c.ModuleID,
	}
}

// ContractReport is the result of auditing a whole module against its
// contract. Used by periodic reconcile runs, not per-event processing.
type ContractReport struct {
	ModuleID        string
	MissingRequired []string
	Unexpected      []string
	Forbidden       []string
}

// Clean reports whether the module satisfies its contract.
func (r ContractReport) Clean() bool {
	return len(r.MissingRequired) == 0 && len(r.Unexpected) == 0 && len(r.Forbidden) == 0
}

// EnforceContract audits a module's tree against its contract.
func (g *Gate) EnforceContract(moduleID string) (ContractReport, error) {
	c := g.Contract(moduleID)
	if c == nil {
		return ContractReport{}, &UnknownModuleError{ModuleID: moduleID}
	}

	report := ContractReport{ModuleID: moduleID}

	seen := make(map[string]bool)
	err := filepath.WalkDir(c.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			// Never descend into the quarantine area itself
			if c.QuarantinePath != "" && c.RelPath(p) == filepath.ToSlash(c.QuarantinePath) {
				return filepath.SkipDir
			}
			return nil
		}

		rel := c.RelPath(p)
		seen[rel] = true

		cls := g.ClassifyFile(p)
		switch {
		case cls.Reason == "forbidden pattern":
			report.Forbidden = append(report.Forbidden, rel)
		case cls.Category == CategoryQuarantine:
			report.Unexpected = append(report.Unexpected, rel)
		}
		return nil
	})
	if err != nil {
		return ContractReport{}, err
	}

	for _, req := range c.RequiredPaths {
		if !seen[filepath.ToSlash(req)] {
			report.MissingRequired = append(report.MissingRequired, req)
		}
	}

	logging.Policy("enforce %s: missing=%d unexpected=%d forbidden=%d",
		moduleID, len(report.MissingRequired), len(report.Unexpected), len(report.Forbidden))
	return report, nil
}

// UnknownModuleError is returned when a module id has no loaded contract.
type UnknownModuleError struct {
	ModuleID string
}

func (e *UnknownModuleError) Error() string {
	return "no contract loaded for module " + e.ModuleID
}

// declaredPath reports whether rel exactly equals one of the declared paths.
// Unlike matchAny this never matches by basename or glob: required_paths and
// optional_paths name specific files.
func declaredPath(rel string, paths []string) (string, bool) {
	for _, p := range paths {
		if rel == filepath.ToSlash(p) {
			return p, true
		}
	}
	return "", false
}

// matchAny reports whether rel (slash-separated, relative to the module root)
// or its basename matches any pattern. Patterns follow the watcher's rules:
// globs match the relative path or the basename, "dir/*" covers the subtree,
// and a bare name matches the basename or any path prefix.
func matchAny(rel, name string, patterns []string) (string, bool) {
	for _, raw := range patterns {
		p := normalizePattern(raw)
		if p == "" {
			continue
		}
		if strings.ContainsAny(p, "*?[]") {
			if ok, _ := path.Match(p, rel); ok {
				return raw, true
			}
			if ok, _ := path.Match(p, name); ok {
				return raw, true
			}
			// Handle directory globs like "artifacts/*"
			if strings.HasSuffix(p, "/*") {
				prefix := strings.TrimSuffix(p, "/*")
				if strings.HasPrefix(rel, prefix+"/") {
					return raw, true
				}
			}
			continue
		}
		if name == p || rel == p {
			return raw, true
		}
		if strings.HasPrefix(rel, p+"/") {
			return raw, true
		}
	}
	return "", false
}

func normalizePattern(p string) string {
	p = strings.TrimSpace(p)
	p = strings.TrimSuffix(p, "/")
	p = strings.TrimSuffix(p, "\\")
	return filepath.ToSlash(p)
}
