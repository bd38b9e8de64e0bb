// Package identity assigns stable identity markers to files: a
// lexicographically time-sortable filename prefix and an in-content
// identifier header. Both operations are idempotent, so the pipeline can
// safely re-run over files it has already touched.
package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"repoops/internal/logging"
)

// HeaderMarker is the tag that introduces an identifier header line.
const HeaderMarker = "REPO-ID:"

// prefixPattern matches the 16-digit sortable prefix: UTC timestamp
// YYYYMMDDHHMMSS plus centiseconds, followed by an underscore.
var prefixPattern = regexp.MustCompile(`^\d{16}_`)

// headerPattern matches an identifier header in any recognized comment form
// near the top of a file.
var headerPattern = regexp.MustCompile(
	`(?m)^\s*(//|#|--|;|/\*|<!--)?\s*` + HeaderMarker + `\s*(\S+)`)

// CollisionError is returned when a prefix rename would overwrite an
// existing file. The pipeline never overwrites; this is a blocking error.
type CollisionError struct {
	Source string
	Target string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("identity prefix collision: %s already exists (renaming %s)", e.Target, e.Source)
}

// Result reports what ProcessFile did.
type Result struct {
	FinalPath   string
	Renamed     bool
	HeaderAdded bool
	Identifier  string
}

// Pipeline assigns prefixes and headers. The clock is injectable for tests.
type Pipeline struct {
	now func() time.Time
}

// New creates a Pipeline.
func New() *Pipeline {
	return &Pipeline{now: time.Now}
}

// Prefix returns the current 16-digit sortable prefix.
func (p *Pipeline) Prefix() string {
	t := p.now().UTC()
	return t.Format("20060102150405") + fmt.Sprintf("%02d", t.Nanosecond()/1e7)
}

// HasPrefix reports whether the filename carries a sortable prefix.
func HasPrefix(path string) bool {
	return prefixPattern.MatchString(filepath.Base(path))
}

// HeaderIdentifier extracts the identifier from a header in content, or "".
func HeaderIdentifier(content []byte) string {
	m := headerPattern.FindSubmatch(content)
	if m == nil {
		return ""
	}
	// Strip a markup-comment closer glued to the identifier
	id := strings.TrimSuffix(string(m[2]), "-->")
	return strings.TrimSuffix(id, "*/")
}

// HasHeader reports whether content carries an identifier header.
func HasHeader(content []byte) bool {
	return HeaderIdentifier(content) != ""
}

// HasIdentity reports whether the file has both a prefixed name and a
// recognized identifier header in its content.
func (p *Pipeline) HasIdentity(path string) (bool, error) {
	if !HasPrefix(path) {
		return false, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return HasHeader(content), nil
}

// AssignPrefix renames the file to {prefix}_{name}. A no-op if the name is
// already prefixed. Fails loudly on collision: the target is never
// overwritten.
func (p *Pipeline) AssignPrefix(path string) (string, error) {
	if HasPrefix(path) {
		return path, nil
	}

	dir := filepath.Dir(path)
	name := filepath.Base(path)
	target := filepath.Join(dir, p.Prefix()+"_"+name)

	if _, err := os.Stat(target); err == nil {
		return "", &CollisionError{Source: path, Target: target}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to stat rename target: %w", err)
	}

	if err := os.Rename(path, target); err != nil {
		return "", fmt.Errorf("failed to rename %s: %w", path, err)
	}
	logging.Identity("assigned prefix: %s -> %s", name, filepath.Base(target))
	return target, nil
}

// headerFor picks a header syntax for the file type: line comments for code,
// markup comments for structured text, hash comments for scripts and config.
func headerFor(path, identifier string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go", ".c", ".h", ".cpp", ".hpp", ".java", ".js", ".ts", ".tsx", ".jsx", ".rs", ".scala", ".kt":
		return "// " + HeaderMarker + " " + identifier + "\n"
	case ".html", ".htm", ".xml", ".md", ".svg":
		return "<!-- " + HeaderMarker + " " + identifier + " -->\n"
	case ".css", ".scss":
		return "/* " + HeaderMarker + " " + identifier + " */\n"
	case ".sql", ".lua":
		return "-- " + HeaderMarker + " " + identifier + "\n"
	case ".ini", ".cfg":
		return "; " + HeaderMarker + " " + identifier + "\n"
	default:
		// python, shell, yaml, toml, makefiles, plain text
		return "# " + HeaderMarker + " " + identifier + "\n"
	}
}

// AssignIdentifier prepends an identifier header if the content has none.
// Idempotent: a file that already carries a header is left untouched, even
// if the identifier differs (an existing identity is never rewritten).
func (p *Pipeline) AssignIdentifier(path, identifier string) (bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if HasHeader(content) {
		return false, nil
	}

	header := headerFor(path, identifier)

	// Shebang lines must stay first
	if rest, ok := afterShebang(content); ok {
		updated := append([]byte{}, content[:len(content)-len(rest)]...)
		updated = append(updated, []byte(header)...)
		updated = append(updated, rest...)
		if err := os.WriteFile(path, updated, 0644); err != nil {
			return false, fmt.Errorf("failed to write header to %s: %w", path, err)
		}
	} else {
		updated := append([]byte(header), content...)
		if err := os.WriteFile(path, updated, 0644); err != nil {
			return false, fmt.Errorf("failed to write header to %s: %w", path, err)
		}
	}

	logging.Identity("assigned identifier %s to %s", identifier, filepath.Base(path))
	return true, nil
}

// afterShebang returns the content following the shebang line, if any.
func afterShebang(content []byte) ([]byte, bool) {
	if !strings.HasPrefix(string(content), "#!") {
		return nil, false
	}
	idx := strings.IndexByte(string(content), '\n')
	if idx < 0 {
		return []byte{}, true
	}
	return content[idx+1:], true
}

// ProcessFile assigns both the prefix and the identifier header in sequence.
// Idempotent: running it twice on an already-identified file changes nothing.
// When identifier is empty, one is derived from the original filename.
func (p *Pipeline) ProcessFile(path, identifier string) (Result, error) {
	if identifier == "" {
		identifier = derivedIdentifier(path)
	}

	res := Result{FinalPath: path, Identifier: identifier}

	finalPath, err := p.AssignPrefix(path)
	if err != nil {
		return res, err
	}
	res.Renamed = finalPath != path
	res.FinalPath = finalPath

	added, err := p.AssignIdentifier(finalPath, identifier)
	if err != nil {
		return res, err
	}
	res.HeaderAdded = added

	return res, nil
}

// derivedIdentifier builds an identifier from the bare filename.
func derivedIdentifier(path string) string {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	name = prefixPattern.ReplaceAllString(name, "")
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		default:
			return '-'
		}
	}, name)
	return "FILE-" + strings.ToUpper(name)
}
