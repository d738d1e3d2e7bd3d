package diagnostic

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/retrofx/slangport/shader"
)

// expensiveCallRegex matches transcendental and power calls that dominate
// fragment cost when used in bulk.
var expensiveCallRegex = regexp.MustCompile(`\b(pow|exp|exp2|log|log2|sin|cos|tan|asin|acos|atan)\s*\(`)

// incompatibleFeatures lists source constructs the weaker target dialect does
// not support, paired with the suggestion surfaced in the warning.
var incompatibleFeatures = []struct {
	pattern    string
	suggestion string
}{
	{"textureLod(", "replace textureLod with a plain texture lookup; explicit LOD selection is unavailable in the target dialect"},
	{"textureGrad(", "replace textureGrad with a plain texture lookup"},
	{"dFdx(", "screen-space derivatives require an extension in the target dialect"},
	{"dFdy(", "screen-space derivatives require an extension in the target dialect"},
	{"fwidth(", "screen-space derivatives require an extension in the target dialect"},
	{"switch (", "rewrite switch statements as if/else chains for the target dialect"},
	{"switch(", "rewrite switch statements as if/else chains for the target dialect"},
}

const (
	// defaultDiagnosticTTL bounds how long a cached Result may be served.
	defaultDiagnosticTTL = 5 * time.Second

	// defaultDiagnosticCacheCap bounds the cache size; the oldest entry is
	// evicted when full.
	defaultDiagnosticCacheCap = 128

	// defaultCompileTimeout bounds the full compile attempt.
	defaultCompileTimeout = 10 * time.Second

	// defaultSweepConcurrency caps the parallel validation sweep.
	defaultSweepConcurrency = 4

	// performance heuristic thresholds.
	largeShaderBytes   = 64 * 1024
	manyUniforms       = 64
	manyExpensiveCalls = 32
)

// CompileFunc attempts a full compile of the shader at path and returns the
// failure, if any. The diagnostic tool races it against a timeout.
type CompileFunc func(path string) error

// SourceCheckFunc test-compiles one candidate source in isolation.
type SourceCheckFunc func(source string) error

// Options configures one Diagnose call.
type Options struct {
	// TestCompile enables the isolated candidate compile when a source
	// checker collaborator is configured.
	TestCompile bool

	// Timeout bounds the full compile attempt. Zero selects the default.
	Timeout time.Duration
}

// cachedResult is one diagnostic cache entry.
type cachedResult struct {
	result Result
	at     time.Time
}

// diagnosticTool is the implementation of the Tool interface.
type diagnosticTool struct {
	mu sync.Mutex

	resolver    shader.FileResolver
	fullCompile CompileFunc
	checkSource SourceCheckFunc

	cache    map[string]cachedResult
	cacheTTL time.Duration
	cacheCap int

	sweepWorkers int
}

// Tool diagnoses shader files in isolation, producing structured error and
// warning reports. Diagnose never panics and never returns an error: every
// internal fault becomes a validation-type entry on the Result.
type Tool interface {
	// Diagnose analyzes the shader at path: it loads the source, extracts
	// metadata, optionally test-compiles the isolated source, checks for
	// redefinition conflicts, validates include reachability, races a full
	// compile against a timeout, and derives performance and compatibility
	// warnings. Results are cached briefly per path.
	//
	// Parameters:
	//   - path: the shader file path
	//   - opts: per-call options
	//
	// Returns:
	//   - Result: the structured diagnostic report
	Diagnose(path string, opts Options) Result

	// ValidateFiles runs Diagnose across distinct shader files in parallel
	// under a small concurrency cap and returns the per-path results.
	//
	// Parameters:
	//   - paths: the shader file paths to validate; duplicates are collapsed
	//   - opts: per-call options applied to every file
	//
	// Returns:
	//   - map[string]Result: the report for each distinct path
	ValidateFiles(paths []string, opts Options) map[string]Result

	// InvalidateCache drops all cached results.
	InvalidateCache()
}

var _ Tool = &diagnosticTool{}

// NewTool creates a diagnostic Tool reading sources through the given
// resolver. Panics if resolver is nil.
//
// Parameters:
//   - resolver: the FileResolver used to load shader and include text
//   - options: builder options configuring collaborators and cache behavior
//
// Returns:
//   - Tool: a ready-to-use diagnostic tool
func NewTool(resolver shader.FileResolver, options ...ToolOption) Tool {
	if resolver == nil {
		panic("diagnostic: NewTool requires a non-nil FileResolver")
	}
	t := &diagnosticTool{
		resolver:     resolver,
		cache:        make(map[string]cachedResult),
		cacheTTL:     defaultDiagnosticTTL,
		cacheCap:     defaultDiagnosticCacheCap,
		sweepWorkers: defaultSweepConcurrency,
	}
	for _, option := range options {
		option(t)
	}
	return t
}

func (t *diagnosticTool) Diagnose(path string, opts Options) (result Result) {
	if cached, ok := t.cachedResult(path); ok {
		return cached
	}

	// The tool's contract is that no internal fault ever escapes.
	defer func() {
		if r := recover(); r != nil {
			result = Result{
				Success: false,
				Errors: []CompileError{{
					Type:     ErrorValidation,
					Severity: SeverityError,
					Message:  fmt.Sprintf("internal diagnostic fault: %v", r),
				}},
				Recommendations: []string{"re-run diagnostics; report this shader if the fault persists"},
			}
		}
		t.storeResult(path, result)
	}()

	if opts.Timeout <= 0 {
		opts.Timeout = defaultCompileTimeout
	}

	source, err := t.resolver.Resolve(path)
	if err != nil {
		return Result{
			Success: false,
			Errors: []CompileError{{
				Type:     ErrorMissingDependency,
				Severity: SeverityError,
				Message:  fmt.Sprintf("cannot load shader %q: %v", path, err),
			}},
			Recommendations: []string{"verify the shader path exists and is readable"},
		}
	}

	info := shader.ParseSource(source, nil)
	result.Stats = statsFor(source, info)

	if opts.TestCompile && t.checkSource != nil {
		if err := t.checkSource(source); err != nil {
			result.Errors = append(result.Errors, CompileError{
				Type:     ErrorSyntax,
				Severity: SeverityError,
				Message:  fmt.Sprintf("isolated compile failed: %v", err),
			})
		}
	}

	result.Errors = append(result.Errors, redefinitionErrors(info)...)
	result.Errors = append(result.Errors, t.includeErrors(path, info.Includes)...)

	if t.fullCompile != nil {
		start := time.Now()
		result.Errors = append(result.Errors, t.raceFullCompile(path, opts.Timeout)...)
		result.Stats.CompileTime = time.Since(start)
	}

	result.Success = true
	for _, e := range result.Errors {
		if e.Severity == SeverityError {
			result.Success = false
			break
		}
	}

	if result.Success {
		result.Warnings = append(result.Warnings, performanceWarnings(source, result.Stats)...)
		result.Warnings = append(result.Warnings, compatibilityWarnings(source)...)
	}

	result.Recommendations = recommendationsFor(result.Errors)
	return result
}

func (t *diagnosticTool) ValidateFiles(paths []string, opts Options) map[string]Result {
	distinct := make([]string, 0, len(paths))
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		if !seen[p] {
			seen[p] = true
			distinct = append(distinct, p)
		}
	}

	results := make(map[string]Result, len(distinct))
	var resultsMu sync.Mutex

	pool := worker.NewDynamicWorkerPool(t.sweepWorkers, len(distinct)+1, time.Second)

	// A WaitGroup provides the sweep barrier; pool.Wait blocks until workers
	// idle-exit, which is unsuitable for a bounded batch.
	var wg sync.WaitGroup
	for i, path := range distinct {
		wg.Add(1)
		p := path
		pool.SubmitTask(worker.Task{
			ID: i,
			Do: func() (any, error) {
				defer wg.Done()
				r := t.Diagnose(p, opts)
				resultsMu.Lock()
				results[p] = r
				resultsMu.Unlock()
				return nil, nil
			},
		})
	}
	wg.Wait()

	return results
}

func (t *diagnosticTool) InvalidateCache() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache = make(map[string]cachedResult)
}

// raceFullCompile races the full compile against the timeout. A lost race is
// reported as a linking-type error; the in-flight compile is abandoned, not
// terminated.
func (t *diagnosticTool) raceFullCompile(path string, timeout time.Duration) []CompileError {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("compile fault: %v", r)
			}
		}()
		done <- t.fullCompile(path)
	}()

	select {
	case err := <-done:
		if err != nil {
			return []CompileError{{
				Type:     ErrorLinking,
				Severity: SeverityError,
				Message:  fmt.Sprintf("full compile failed: %v", err),
			}}
		}
		return nil
	case <-time.After(timeout):
		return []CompileError{{
			Type:     ErrorLinking,
			Severity: SeverityError,
			Message:  fmt.Sprintf("compile timed out after %s", timeout),
		}}
	}
}

func (t *diagnosticTool) cachedResult(path string) (Result, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.cache[path]
	if !ok || time.Since(entry.at) > t.cacheTTL {
		return Result{}, false
	}
	return entry.result, true
}

func (t *diagnosticTool) storeResult(path string, result Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.cache) >= t.cacheCap {
		var oldestKey string
		var oldestAt time.Time
		for k, v := range t.cache {
			if oldestKey == "" || v.at.Before(oldestAt) {
				oldestKey, oldestAt = k, v.at
			}
		}
		delete(t.cache, oldestKey)
	}
	t.cache[path] = cachedResult{result: result, at: time.Now()}
}

// includeErrors verifies every include target is reachable from the shader's
// directory. A file including itself is reported as a circular include.
func (t *diagnosticTool) includeErrors(path string, includes []string) []CompileError {
	var errs []CompileError
	dir := filepath.Dir(path)
	for _, include := range includes {
		target := filepath.Clean(filepath.Join(dir, include))
		if target == filepath.Clean(path) {
			errs = append(errs, CompileError{
				Type:     ErrorCircularInclude,
				Severity: SeverityError,
				Message:  fmt.Sprintf("shader includes itself via %q", include),
			})
			continue
		}
		if _, err := t.resolver.Resolve(target); err != nil {
			errs = append(errs, CompileError{
				Type:     ErrorMissingDependency,
				Severity: SeverityError,
				Message:  fmt.Sprintf("include %q is unreachable: %v", include, err),
			})
		}
	}
	return errs
}

// redefinitionErrors reports duplicate macro, function, and global names
// within one file.
func redefinitionErrors(info shader.SourceInfo) []CompileError {
	var errs []CompileError
	report := func(kind, name string) {
		errs = append(errs, CompileError{
			Type:     ErrorRedefinition,
			Severity: SeverityError,
			Message:  fmt.Sprintf("%s %q defined more than once", kind, name),
			Context:  name,
		})
	}

	seen := make(map[string]bool)
	for _, d := range info.Definitions.Defines {
		if seen["define:"+d.Name] {
			report("macro", d.Name)
		}
		seen["define:"+d.Name] = true
	}
	for _, f := range info.Definitions.Functions {
		if seen["func:"+f.Name] {
			report("function", f.Name)
		}
		seen["func:"+f.Name] = true
	}
	for _, g := range info.Definitions.Globals {
		if seen["global:"+g.Name] {
			report("global", g.Name)
		}
		seen["global:"+g.Name] = true
	}
	return errs
}

func statsFor(source string, info shader.SourceInfo) Stats {
	uniforms := 0
	samplers := 0
	for _, b := range info.Bindings {
		if b.Kind == shader.BindingSampler {
			samplers++
			continue
		}
		uniforms += len(b.Members)
	}
	return Stats{
		ShaderSize:      len(source),
		UniformsCount:   uniforms,
		SamplersCount:   samplers,
		ParametersCount: len(info.Parameters),
		IncludesCount:   len(info.Includes),
		DefinesCount:    len(info.Defines),
	}
}

func performanceWarnings(source string, stats Stats) []Warning {
	var warnings []Warning
	if stats.ShaderSize > largeShaderBytes {
		warnings = append(warnings, Warning{
			Type:       "performance",
			Message:    fmt.Sprintf("shader source is %d bytes", stats.ShaderSize),
			Suggestion: "split the pass or trim unused helper code",
		})
	}
	if stats.UniformsCount > manyUniforms {
		warnings = append(warnings, Warning{
			Type:       "performance",
			Message:    fmt.Sprintf("shader declares %d uniforms", stats.UniformsCount),
			Suggestion: "uniform upload cost scales with count; consider consolidating",
		})
	}
	if n := len(expensiveCallRegex.FindAllString(source, -1)); n > manyExpensiveCalls {
		warnings = append(warnings, Warning{
			Type:       "performance",
			Message:    fmt.Sprintf("shader makes %d transcendental/power calls", n),
			Suggestion: "precompute repeated trig/pow results or use lookup textures",
		})
	}
	return warnings
}

func compatibilityWarnings(source string) []Warning {
	var warnings []Warning
	for _, f := range incompatibleFeatures {
		if strings.Contains(source, f.pattern) {
			warnings = append(warnings, Warning{
				Type:       "compatibility",
				Message:    fmt.Sprintf("uses %q which the target dialect may not support", strings.TrimSuffix(f.pattern, "(")),
				Suggestion: f.suggestion,
			})
		}
	}
	return warnings
}

// recommendationsFor derives one human-readable next step per distinct error type.
func recommendationsFor(errors []CompileError) []string {
	var recs []string
	seen := make(map[ErrorType]bool)
	for _, e := range errors {
		if seen[e.Type] {
			continue
		}
		seen[e.Type] = true
		switch e.Type {
		case ErrorSyntax:
			recs = append(recs, "fix the reported syntax errors before retrying")
		case ErrorLinking:
			recs = append(recs, "simplify the shader or raise the compile timeout")
		case ErrorValidation:
			recs = append(recs, "re-run diagnostics; the failure was internal to validation")
		case ErrorRedefinition:
			recs = append(recs, "remove or rename the duplicated definitions")
		case ErrorMissingDependency:
			recs = append(recs, "verify include paths relative to the shader file")
		case ErrorCircularInclude:
			recs = append(recs, "break the include cycle; the preprocessor will not re-expand visited files")
		}
	}
	return recs
}
