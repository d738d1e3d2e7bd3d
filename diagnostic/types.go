// Package diagnostic provides isolated shader compilation diagnostics,
// repeated-failure loop detection, and ordered error recovery for the preset
// compile pipeline. No component in this package ever propagates a panic or an
// unhandled error to its caller: every internal fault is converted into a
// result-object entry.
package diagnostic

import "time"

// ErrorType classifies one diagnostic error.
type ErrorType string

const (
	// ErrorSyntax is a source-text syntax failure.
	ErrorSyntax ErrorType = "syntax"

	// ErrorLinking is a program link failure, including compile timeouts.
	ErrorLinking ErrorType = "linking"

	// ErrorValidation is a structural or internal validation failure.
	ErrorValidation ErrorType = "validation"

	// ErrorRedefinition is a duplicate macro/function/global name within one file.
	ErrorRedefinition ErrorType = "redefinition"

	// ErrorMissingDependency is an unreachable include or asset.
	ErrorMissingDependency ErrorType = "missing_dependency"

	// ErrorCircularInclude is an include cycle.
	ErrorCircularInclude ErrorType = "circular_include"
)

// typePriority orders error types for primary-error selection when severities
// tie. Higher wins.
var typePriority = map[ErrorType]int{
	ErrorLinking:           10,
	ErrorValidation:        9,
	ErrorSyntax:            8,
	ErrorRedefinition:      7,
	ErrorMissingDependency: 6,
	ErrorCircularInclude:   5,
}

// Severity grades one diagnostic entry.
type Severity string

const (
	// SeverityError marks a failure that prevents the shader from running.
	SeverityError Severity = "error"

	// SeverityWarning marks a condition worth surfacing that does not block.
	SeverityWarning Severity = "warning"

	// SeverityInfo marks informational findings.
	SeverityInfo Severity = "info"
)

// severityRank orders severities for primary-error selection. Higher wins.
var severityRank = map[Severity]int{
	SeverityError:   3,
	SeverityWarning: 2,
	SeverityInfo:    1,
}

// CompileError is one structured diagnostic error.
type CompileError struct {
	// Type classifies the error.
	Type ErrorType

	// Severity grades the error.
	Severity Severity

	// Message is the human-readable description.
	Message string

	// Line is the 1-based source line, or 0 when unknown.
	Line int

	// Context is an optional source excerpt or component name.
	Context string
}

// Warning is one non-blocking diagnostic finding.
type Warning struct {
	// Type names the heuristic that produced the warning, e.g. "performance"
	// or "compatibility".
	Type string

	// Message describes the finding.
	Message string

	// Suggestion optionally proposes a remedy.
	Suggestion string
}

// Stats summarizes one diagnostic run.
type Stats struct {
	// CompileTime is the wall time of the full compile attempt.
	CompileTime time.Duration

	// ShaderSize is the source size in bytes.
	ShaderSize int

	// UniformsCount, SamplersCount, and ParametersCount count declared resources.
	UniformsCount, SamplersCount, ParametersCount int

	// IncludesCount and DefinesCount count preprocessor directives.
	IncludesCount, DefinesCount int
}

// Result is the outcome of one diagnostic run. Results are ephemeral and
// cached briefly per shader path.
type Result struct {
	// Success is true when no error-severity entry was produced.
	Success bool

	// Errors holds the structured errors in detection order.
	Errors []CompileError

	// Warnings holds the non-blocking findings.
	Warnings []Warning

	// Stats summarizes the run.
	Stats Stats

	// Recommendations are human-readable next steps.
	Recommendations []string
}

// PrimaryError returns the error that recovery should target: the entry with
// the highest severity, ties broken by the fixed type-priority ordering
// linking > validation > syntax > redefinition > missing_dependency >
// circular_include.
//
// Parameters:
//   - errors: the diagnostic error list
//
// Returns:
//   - CompileError: the primary error
//   - bool: false if the list is empty
func PrimaryError(errors []CompileError) (CompileError, bool) {
	if len(errors) == 0 {
		return CompileError{}, false
	}
	best := errors[0]
	for _, e := range errors[1:] {
		if severityRank[e.Severity] > severityRank[best.Severity] {
			best = e
			continue
		}
		if severityRank[e.Severity] == severityRank[best.Severity] && typePriority[e.Type] > typePriority[best.Type] {
			best = e
		}
	}
	return best, true
}
