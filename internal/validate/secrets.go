package validate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Finding is one secret match in a file.
type Finding struct {
	Type  string
	Line  int
	Match string // truncated, never the full secret
}

// secretPattern pairs a finding type with its detection regexp.
type secretPattern struct {
	kind string
	re   *regexp.Regexp
}

// The pattern set is fixed: password/credential assignment, API-key
// assignment, private-key block markers, and cloud credential variables.
var secretPatterns = []secretPattern{
	{"password", regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[:=]\s*["'][^"']{3,}["']`)},
	{"api_key", regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret[_-]?key|access[_-]?token|auth[_-]?token)\s*[:=]\s*["'][^"']{8,}["']`)},
	{"private_key", regexp.MustCompile(`-----BEGIN (RSA |EC |DSA |OPENSSH |PGP )?PRIVATE KEY( BLOCK)?-----`)},
	{"cloud_credential", regexp.MustCompile(`(?i)(AWS_SECRET_ACCESS_KEY|AWS_ACCESS_KEY_ID|AWS_SESSION_TOKEN|GOOGLE_APPLICATION_CREDENTIALS|AZURE_CLIENT_SECRET|GCP_SERVICE_ACCOUNT)\s*[:=]\s*\S+`)},
}

// binaryExtensions are skipped entirely; regex scanning binary blobs only
// produces noise.
var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".ico": true,
	".pdf": true, ".zip": true, ".gz": true, ".tar": true, ".7z": true,
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".bin": true,
	".woff": true, ".woff2": true, ".ttf": true, ".eot": true,
	".db": true, ".sqlite": true, ".pyc": true, ".class": true, ".o": true,
}

const maxMatchLen = 40

// SecretScanner scans text content for credential material.
type SecretScanner struct{}

// Name implements Validator.
func (v *SecretScanner) Name() string {
	return "secret_scanner"
}

// Validate implements Validator.
func (v *SecretScanner) Validate(path string) Result {
	if binaryExtensions[strings.ToLower(filepath.Ext(path))] {
		return Result{
			Passed:        true,
			ValidatorName: v.Name(),
			Message:       "binary extension, skipped",
		}
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Result{
			ValidatorName: v.Name(),
			Message:       fmt.Sprintf("could not read file: %v", err),
		}
	}

	findings := Scan(content)
	if len(findings) == 0 {
		return Result{
			Passed:        true,
			ValidatorName: v.Name(),
			Message:       "no secrets detected",
		}
	}

	details := make([]string, 0, len(findings))
	for _, f := range findings {
		details = append(details, fmt.Sprintf("%s at line %d: %s", f.Type, f.Line, f.Match))
	}
	return Result{
		ValidatorName: v.Name(),
		Message:       fmt.Sprintf("%d potential secret(s) detected", len(findings)),
		Details:       details,
		Suggestions: []string{
			"move credentials to environment variables or a secret manager",
			"rotate any credential that was committed",
		},
	}
}

// Scan returns all findings in content, with 1-based line numbers.
func Scan(content []byte) []Finding {
	var findings []Finding
	for i, line := range strings.Split(string(content), "\n") {
		for _, sp := range secretPatterns {
			if m := sp.re.FindString(line); m != "" {
				findings = append(findings, Finding{
					Type:  sp.kind,
					Line:  i + 1,
					Match: truncate(m, maxMatchLen),
				})
			}
		}
	}
	return findings
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
