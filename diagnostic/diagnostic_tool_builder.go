package diagnostic

import "time"

// ToolOption configures a diagnostic Tool during construction.
type ToolOption func(*diagnosticTool)

// WithFullCompile sets the full-compile collaborator Diagnose races against
// its timeout.
//
// Parameters:
//   - compile: the compile function invoked per diagnosed path
//
// Returns:
//   - ToolOption: the option to pass to NewTool
func WithFullCompile(compile CompileFunc) ToolOption {
	return func(t *diagnosticTool) {
		t.fullCompile = compile
	}
}

// WithSourceCheck sets the isolated test-compile collaborator used when
// Options.TestCompile is enabled.
//
// Parameters:
//   - check: the source checker invoked on the raw shader text
//
// Returns:
//   - ToolOption: the option to pass to NewTool
func WithSourceCheck(check SourceCheckFunc) ToolOption {
	return func(t *diagnosticTool) {
		t.checkSource = check
	}
}

// WithCacheTTL overrides how long cached results stay fresh.
//
// Parameters:
//   - ttl: the cache entry lifetime; non-positive values are ignored
//
// Returns:
//   - ToolOption: the option to pass to NewTool
func WithCacheTTL(ttl time.Duration) ToolOption {
	return func(t *diagnosticTool) {
		if ttl > 0 {
			t.cacheTTL = ttl
		}
	}
}

// WithSweepConcurrency overrides the worker cap of ValidateFiles.
//
// Parameters:
//   - workers: the maximum concurrent diagnoses; values below 1 are ignored
//
// Returns:
//   - ToolOption: the option to pass to NewTool
func WithSweepConcurrency(workers int) ToolOption {
	return func(t *diagnosticTool) {
		if workers >= 1 {
			t.sweepWorkers = workers
		}
	}
}
