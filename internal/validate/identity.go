package validate

import (
	"fmt"
	"os"

	"repoops/internal/identity"
)

// IdentityValidator checks for an identifier header in the file content.
// When not required, absence is a pass with an informational message.
type IdentityValidator struct {
	Required bool
}

// Name implements Validator.
func (v *IdentityValidator) Name() string {
	return "identity"
}

// Validate implements Validator.
func (v *IdentityValidator) Validate(path string) Result {
	content, err := os.ReadFile(path)
	if err != nil {
		return Result{
			ValidatorName: v.Name(),
			Message:       fmt.Sprintf("could not read file: %v", err),
		}
	}

	if id := identity.HeaderIdentifier(content); id != "" {
		return Result{
			Passed:        true,
			ValidatorName: v.Name(),
			Message:       "identifier header present: " + id,
		}
	}

	if !v.Required {
		return Result{
			Passed:        true,
			ValidatorName: v.Name(),
			Message:       "no identifier header (not required)",
		}
	}

	return Result{
		ValidatorName: v.Name(),
		Message:       "identifier header missing",
		Suggestions: []string{
			"run the identity pipeline over this file",
			fmt.Sprintf("or add a comment line containing %q near the top", identity.HeaderMarker+" <id>"),
		},
	}
}
