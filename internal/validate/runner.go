// Package validate runs an ordered set of content validators over a file and
// aggregates pass/fail. The orchestrator is fail-closed: any failing result
// blocks staging.
package validate

import (
	"repoops/internal/logging"
)

// Result is the outcome of one validator over one file.
type Result struct {
	Passed        bool
	ValidatorName string
	Message       string
	Details       []string
	Suggestions   []string
}

// Validator checks one aspect of a file's content.
type Validator interface {
	Name() string
	Validate(path string) Result
}

// Runner holds an explicit ordered list of validators. Registration is by
// list, not runtime discovery, so the execution order is visible in one place.
type Runner struct {
	validators []Validator
}

// NewRunner creates a Runner over the given validators, run in order.
func NewRunner(validators ...Validator) *Runner {
	return &Runner{validators: validators}
}

// Register appends a validator to the end of the run order.
func (r *Runner) Register(v Validator) {
	r.validators = append(r.validators, v)
}

// ValidateFile runs every validator against the path.
func (r *Runner) ValidateFile(path string) []Result {
	timer := logging.StartTimer(logging.CategoryValidate, "ValidateFile")
	defer timer.Stop()

	results := make([]Result, 0, len(r.validators))
	for _, v := range r.validators {
		res := v.Validate(path)
		if !res.Passed {
			logging.Validate("%s failed for %s: %s", v.Name(), path, res.Message)
		} else {
			logging.ValidateDebug("%s passed for %s", v.Name(), path)
		}
		results = append(results, res)
	}
	return results
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// Summarize joins failure messages for audit records and work item errors.
func Summarize(results []Result) string {
	summary := ""
	for _, r := range results {
		if r.Passed {
			continue
		}
		if summary != "" {
			summary += "; "
		}
		summary += r.ValidatorName + ": " + r.Message
	}
	if summary == "" {
		return "all validators passed"
	}
	return summary
}
