package shader

import (
	"log"
	"regexp"
	"strings"
)

var (
	// functionHeadRegex locates candidate function definitions: a return type
	// followed by an identifier and an opening parenthesis. The parameter list
	// and body are located by manual balancing from the match.
	functionHeadRegex = regexp.MustCompile(`(?m)\b(void|float|int|uint|bool|vec[234]|ivec[234]|uvec[234]|mat[234])\s+(\w+)\s*\(`)

	// constDeclRegex matches single-line const declarations.
	constDeclRegex = regexp.MustCompile(`(?m)^[ \t]*const\s+(\w+)\s+(\w+)\s*=[^;]*;`)

	// globalDeclRegex matches mutable top-level scalar/vector/matrix/bool
	// declarations, initialized or bare.
	globalDeclRegex = regexp.MustCompile(`(?m)^[ \t]*(float|int|uint|bool|vec[234]|ivec[234]|uvec[234]|mat[234])\s+(\w+)\s*(=\s*[^;]*)?;`)

	// intLiteralInitRegex matches an initializer consisting of a bare integer
	// literal, which float-typed globals must not carry in the target dialect.
	intLiteralInitRegex = regexp.MustCompile(`^=\s*(\d+)\s*$`)
)

// DefineDef is one single-line macro definition from the pre-stage text.
type DefineDef struct {
	// Name is the macro identifier.
	Name string

	// Text is the complete #define line, re-emitted verbatim into stages.
	Text string
}

// FunctionDef is one top-level function definition with its covered byte range.
type FunctionDef struct {
	// Name is the function identifier.
	Name string

	// ReturnType is the declared return type keyword.
	ReturnType string

	// Start and End delimit the [Start, End) byte range of the definition,
	// from the return type through the closing body brace.
	Start, End int

	// Text is the full definition source slice.
	Text string
}

// ConstDef is one single-line const declaration outside any function body.
type ConstDef struct {
	// Name is the constant identifier.
	Name string

	// Text is the complete declaration line.
	Text string

	// Offset is the declaration's byte offset in the scanned text.
	Offset int
}

// GlobalDef is one mutable top-level variable declaration.
type GlobalDef struct {
	// Name is the variable identifier.
	Name string

	// Type is the declared type keyword.
	Type string

	// Text is the declaration, possibly rewritten to carry a fractional
	// suffix on integer literal initializers of float-typed globals.
	Text string

	// Offset is the declaration's byte offset in the scanned text.
	Offset int
}

// GlobalDefinitions is the inventory of top-level items pulled out of the
// pre-stage source for re-emission into each compiled stage.
type GlobalDefinitions struct {
	// Defines are single-line macro definitions in source order.
	Defines []DefineDef

	// Functions are top-level function definitions in source order.
	Functions []FunctionDef

	// Consts are single-line const declarations outside function bodies.
	Consts []ConstDef

	// Globals are mutable top-level declarations outside function bodies,
	// uniform blocks, and push-constant blocks.
	Globals []GlobalDef
}

// ExtractGlobalDefinitions scans the text preceding the first stage pragma and
// extracts macro defines, function definitions, consts, and mutable globals.
// Function bodies are located by balancing parentheses and braces on a
// comment-masked copy of the text, so string offsets stay aligned with the
// original. This function never fails: malformed input simply yields fewer
// extracted items plus a logged note.
//
// Parameters:
//   - prelude: the pre-stage source text (see StagePrelude)
//   - bindings: the bindings parsed from the same text, whose source ranges
//     exclude their members from global classification
//   - exclude: identifier names that must not be classified as globals
//     (shader parameter names); nil is treated as empty
//
// Returns:
//   - GlobalDefinitions: the extracted inventory
func ExtractGlobalDefinitions(prelude string, bindings []Binding, exclude map[string]bool) GlobalDefinitions {
	var defs GlobalDefinitions
	masked := maskComments(prelude)

	// (a) single-line macro defines.
	for _, line := range strings.Split(prelude, "\n") {
		if m := defineDirectiveRegex.FindStringSubmatch(line); m != nil {
			defs.Defines = append(defs.Defines, DefineDef{Name: m[1], Text: strings.TrimSpace(line)})
		}
	}

	// (b) function definitions with covered byte ranges.
	var funcRanges [][2]int
	for _, m := range functionHeadRegex.FindAllStringSubmatchIndex(masked, -1) {
		start := m[0]
		if insideAny(start, funcRanges) {
			continue
		}
		parenOpen := m[1] - 1
		parenClose, ok := balanceFrom(masked, parenOpen, '(', ')')
		if !ok {
			log.Printf("[Extractor] unbalanced parameter list for %q, skipping", masked[m[4]:m[5]])
			continue
		}
		bodyOpen := skipSpace(masked, parenClose+1)
		if bodyOpen >= len(masked) || masked[bodyOpen] != '{' {
			// A prototype or a declaration such as `vec4 color;` matched by the
			// head pattern through a later call; not a definition.
			continue
		}
		bodyClose, ok := balanceFrom(masked, bodyOpen, '{', '}')
		if !ok {
			log.Printf("[Extractor] unbalanced body for %q, skipping", masked[m[4]:m[5]])
			continue
		}
		end := bodyClose + 1
		defs.Functions = append(defs.Functions, FunctionDef{
			Name:       prelude[m[4]:m[5]],
			ReturnType: prelude[m[2]:m[3]],
			Start:      start,
			End:        end,
			Text:       prelude[start:end],
		})
		funcRanges = append(funcRanges, [2]int{start, end})
	}

	var blockRanges [][2]int
	for _, b := range bindings {
		if b.Kind != BindingSampler && b.SourceRange[1] > b.SourceRange[0] {
			blockRanges = append(blockRanges, [2]int{b.SourceRange[0], b.SourceRange[1]})
		}
	}

	// (c) consts outside function bodies.
	for _, m := range constDeclRegex.FindAllStringSubmatchIndex(masked, -1) {
		if insideAny(m[0], funcRanges) {
			continue
		}
		defs.Consts = append(defs.Consts, ConstDef{
			Name:   prelude[m[4]:m[5]],
			Text:   strings.TrimSpace(prelude[m[0]:m[1]]),
			Offset: m[0],
		})
	}

	// (d) mutable globals outside functions and uniform/push-constant blocks.
	for _, m := range globalDeclRegex.FindAllStringSubmatchIndex(masked, -1) {
		offset := m[0]
		if insideAny(offset, funcRanges) || insideAny(offset, blockRanges) {
			continue
		}
		name := prelude[m[4]:m[5]]
		if exclude[name] || IsReservedUniform(name) {
			continue
		}
		typeName := prelude[m[2]:m[3]]
		text := strings.TrimSpace(prelude[m[0]:m[1]])
		if isFloatTyped(typeName) && m[6] >= 0 {
			init := strings.TrimSpace(prelude[m[6]:m[7]])
			if lit := intLiteralInitRegex.FindStringSubmatch(init); lit != nil {
				text = strings.Replace(text, init, "= "+lit[1]+".0", 1)
			}
		}
		defs.Globals = append(defs.Globals, GlobalDef{
			Name:   name,
			Type:   typeName,
			Text:   text,
			Offset: offset,
		})
	}

	return defs
}

// isFloatTyped reports whether the type keyword stores floating-point data.
func isFloatTyped(typeName string) bool {
	switch typeName {
	case "float", "vec2", "vec3", "vec4", "mat2", "mat3", "mat4":
		return true
	}
	return false
}

// insideAny reports whether offset falls inside any of the [start, end) ranges.
func insideAny(offset int, ranges [][2]int) bool {
	for _, r := range ranges {
		if offset >= r[0] && offset < r[1] {
			return true
		}
	}
	return false
}

// balanceFrom scans forward from the opening delimiter at start and returns
// the index of the matching closing delimiter.
func balanceFrom(s string, start int, open, close byte) (int, bool) {
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// skipSpace returns the index of the first non-whitespace byte at or after i.
// Comments have already been blanked out by maskComments, so whitespace is the
// only thing that can separate a parameter list from its body brace.
func skipSpace(s string, i int) int {
	for i < len(s) {
		switch s[i] {
		case ' ', '\t', '\r', '\n':
			i++
		default:
			return i
		}
	}
	return i
}

// maskComments replaces the contents of line and block comments with spaces,
// preserving byte offsets so ranges found on the masked copy index directly
// into the original text. Newlines inside block comments are kept.
func maskComments(source string) string {
	b := []byte(source)
	i := 0
	for i < len(b) {
		if i+1 < len(b) && b[i] == '/' && b[i+1] == '/' {
			for i < len(b) && b[i] != '\n' {
				b[i] = ' '
				i++
			}
			continue
		}
		if i+1 < len(b) && b[i] == '/' && b[i+1] == '*' {
			for i < len(b) {
				if i+1 < len(b) && b[i] == '*' && b[i+1] == '/' {
					b[i], b[i+1] = ' ', ' '
					i += 2
					break
				}
				if b[i] != '\n' {
					b[i] = ' '
				}
				i++
			}
			continue
		}
		i++
	}
	return string(b)
}
