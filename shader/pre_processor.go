// pre_processor.go implements the slangport include pre-processor. It expands
// #include directives recursively, evaluates #ifdef/#ifndef/#else/#endif
// conditionals to decide which includes are actually fetched, and guards the
// expansion with a visited set and a bounded include stack so broken shader
// graphs degrade to comment markers instead of infinite recursion.
//
// The pre-processor maintains three pieces of state per root compile:
//   - processedFiles: absolute paths already expanded in this compile. An
//     include revisiting one of them is treated as a cycle and replaced with a
//     comment marker (non-fatal).
//   - includeStack: the active expansion chain, bounded at maxIncludeDepth.
//     Exceeding the bound is the one fatal pre-processing condition and the
//     error names the full chain.
//   - definedMacros: the macro set, copied (never shared) into each recursive
//     call so sibling include branches cannot pollute one another.
package shader

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// maxIncludeDepth bounds the include expansion chain. Exceeding it aborts the
// whole compile with a stack-depth error naming the chain.
const maxIncludeDepth = 20

// FileResolver loads shader source text by path. Implementations may read the
// local filesystem, an archive, or a remote store; resolution may block, and
// the pre-processor runs each fetch to completion before continuing.
type FileResolver interface {
	// Resolve loads the source text for the given path.
	//
	// Parameters:
	//   - path: the already-joined path of the file to load
	//
	// Returns:
	//   - string: the file's text content
	//   - error: an error if the file could not be loaded
	Resolve(path string) (string, error)
}

// osFileResolver is the default FileResolver reading from the local filesystem.
type osFileResolver struct{}

// NewOSFileResolver creates a FileResolver backed by the local filesystem.
//
// Returns:
//   - FileResolver: a resolver that reads files with os.ReadFile
func NewOSFileResolver() FileResolver {
	return &osFileResolver{}
}

func (r *osFileResolver) Resolve(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// MapFileResolver is a FileResolver backed by an in-memory path→source map,
// keyed by cleaned paths. Primarily used in tests and tooling.
type MapFileResolver map[string]string

func (r MapFileResolver) Resolve(path string) (string, error) {
	src, ok := r[filepath.Clean(path)]
	if !ok {
		return "", fmt.Errorf("no source registered for %q", path)
	}
	return src, nil
}

// preProcessor is the implementation of the PreProcessor interface.
type preProcessor struct {
	resolver FileResolver

	// processedFiles and includeStack are reset at the start of each Process
	// call; they exist per root compile so unrelated compiles never interact.
	processedFiles map[string]bool
	includeStack   []string
}

// PreProcessor expands a shader source graph rooted at one file into a single
// flat source string. Include cycles and fetch failures degrade to inline
// comment markers; only include-stack depth overflow aborts the compile.
type PreProcessor interface {
	// Process loads the root file and recursively expands its includes.
	// Conditional compilation directives gate which includes are fetched but
	// remain in the output text for the downstream dialect's own preprocessor.
	//
	// Parameters:
	//   - path: the root shader file path
	//
	// Returns:
	//   - string: the fully expanded source
	//   - error: a fatal error if the root cannot be loaded or the include
	//     stack depth bound is exceeded
	Process(path string) (string, error)
}

var _ PreProcessor = &preProcessor{}

// NewPreProcessor creates a PreProcessor using the given resolver for all
// source fetches. Panics if resolver is nil.
//
// Parameters:
//   - resolver: the FileResolver used to fetch the root file and every include
//
// Returns:
//   - PreProcessor: a ready-to-use pre-processor instance
func NewPreProcessor(resolver FileResolver) PreProcessor {
	if resolver == nil {
		panic("shader: NewPreProcessor requires a non-nil FileResolver")
	}
	return &preProcessor{resolver: resolver}
}

func (p *preProcessor) Process(path string) (string, error) {
	p.processedFiles = make(map[string]bool)
	p.includeStack = p.includeStack[:0]

	source, err := p.resolver.Resolve(path)
	if err != nil {
		return "", fmt.Errorf("failed to load shader source %q: %w", path, err)
	}

	return p.expand(path, source, make(map[string]bool))
}

// conditionalFrame is one entry of the #ifdef/#ifndef conditional stack.
type conditionalFrame struct {
	macro   string
	enabled bool
}

// expand processes one file's source: grows the macro set from its #define
// lines, then walks its lines expanding includes that are active under the
// current conditional stack. The macros map is owned by this call; recursive
// calls receive a copy.
func (p *preProcessor) expand(path, source string, macros map[string]bool) (string, error) {
	if len(p.includeStack) >= maxIncludeDepth {
		chain := strings.Join(append(append([]string{}, p.includeStack...), path), " -> ")
		return "", fmt.Errorf("include stack depth exceeded (%d): %s", maxIncludeDepth, chain)
	}

	abs := filepath.Clean(path)
	p.processedFiles[abs] = true
	p.includeStack = append(p.includeStack, abs)
	defer func() { p.includeStack = p.includeStack[:len(p.includeStack)-1] }()

	// Grow the macro set from every single-line #define in this file before
	// evaluating any conditional, matching the source dialect's observed
	// whole-file define visibility.
	for _, name := range ScanDefines(source) {
		macros[name] = true
	}

	var conditionals []conditionalFrame
	lines := strings.Split(source, "\n")
	out := make([]string, 0, len(lines))

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(trimmed, "#ifdef "):
			macro := strings.TrimSpace(strings.TrimPrefix(trimmed, "#ifdef "))
			conditionals = append(conditionals, conditionalFrame{macro: macro, enabled: macros[macro]})
			out = append(out, line)
			continue
		case strings.HasPrefix(trimmed, "#ifndef "):
			macro := strings.TrimSpace(strings.TrimPrefix(trimmed, "#ifndef "))
			conditionals = append(conditionals, conditionalFrame{macro: macro, enabled: !macros[macro]})
			out = append(out, line)
			continue
		case trimmed == "#else" || strings.HasPrefix(trimmed, "#else "):
			// An #else with no open conditional is a silent no-op.
			if len(conditionals) > 0 {
				conditionals[len(conditionals)-1].enabled = !conditionals[len(conditionals)-1].enabled
			}
			out = append(out, line)
			continue
		case trimmed == "#endif" || strings.HasPrefix(trimmed, "#endif "):
			if len(conditionals) > 0 {
				conditionals = conditionals[:len(conditionals)-1]
			}
			out = append(out, line)
			continue
		}

		m := includeDirectiveRegex.FindStringSubmatch(line)
		if m == nil {
			out = append(out, line)
			continue
		}
		include := m[1]

		if !conditionalsActive(conditionals) {
			out = append(out, fmt.Sprintf("// include %q skipped (inactive conditional)", include))
			continue
		}

		target := filepath.Clean(filepath.Join(filepath.Dir(abs), include))
		if p.processedFiles[target] {
			out = append(out, fmt.Sprintf("// include %q skipped (already included)", include))
			continue
		}

		content, err := p.resolver.Resolve(target)
		if err != nil {
			log.Printf("[Preprocessor] failed to fetch include %q from %q: %v", include, abs, err)
			out = append(out, fmt.Sprintf("// ERROR: failed to include %q: %v", include, err))
			continue
		}

		// Sibling branches each get their own macro-set copy.
		branchMacros := make(map[string]bool, len(macros))
		for k, v := range macros {
			branchMacros[k] = v
		}

		expanded, err := p.expand(target, content, branchMacros)
		if err != nil {
			return "", err
		}

		out = append(out, fmt.Sprintf("// ---- begin include: %s ----", target))
		out = append(out, expanded)
		out = append(out, fmt.Sprintf("// ---- end include: %s ----", target))
	}

	return strings.Join(out, "\n"), nil
}

// conditionalsActive reports whether every enclosing conditional frame is enabled.
func conditionalsActive(frames []conditionalFrame) bool {
	for _, f := range frames {
		if !f.enabled {
			return false
		}
	}
	return true
}
