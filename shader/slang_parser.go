package shader

import (
	"log"
	"regexp"
	"strconv"
	"strings"
)

var (
	// samplerBindingRegex captures set, binding, and name from combined
	// image/sampler declarations like:
	//   layout(set = 0, binding = 2) uniform sampler2D Source;
	samplerBindingRegex = regexp.MustCompile(`layout\s*\(\s*set\s*=\s*(\d+)\s*,\s*binding\s*=\s*(\d+)\s*\)\s*uniform\s+sampler2D\s+(\w+)\s*;`)

	// uboBindingRegex captures set, binding, block name, member body, and the
	// optional instance name from uniform block declarations like:
	//   layout(std140, set = 0, binding = 0) uniform UBO { mat4 MVP; } global;
	uboBindingRegex = regexp.MustCompile(`layout\s*\(\s*(?:std140\s*,\s*)?set\s*=\s*(\d+)\s*,\s*binding\s*=\s*(\d+)\s*\)\s*uniform\s+(\w+)\s*\{([^}]*)\}\s*(\w*)\s*;`)

	// pushConstantRegex captures block name, member body, and the optional
	// instance name from push-constant block declarations like:
	//   layout(push_constant) uniform Push { float x; } params;
	pushConstantRegex = regexp.MustCompile(`layout\s*\(\s*push_constant\s*\)\s*uniform\s+(\w+)\s*\{([^}]*)\}\s*(\w*)\s*;`)

	// blockMemberRegex matches one block member declaration: type, name, and an
	// optional fixed array length.
	blockMemberRegex = regexp.MustCompile(`^\s*(\w+)\s+(\w+)\s*(?:\[\s*(\d+)\s*\])?\s*;?\s*$`)

	// flatUniformRegex matches an already-materialized flat uniform declaration,
	// used to seed the declared-uniform set before binding conversion.
	flatUniformRegex = regexp.MustCompile(`(?m)^\s*uniform\s+(\w+)\s+(\w+)\s*(?:\[\s*\d+\s*\])?\s*;`)

	// parameterPragmaRegex captures NAME, "Label", and the numeric fields of
	//   #pragma parameter NAME "Label" default min max step
	// The step field is optional.
	parameterPragmaRegex = regexp.MustCompile(`#pragma\s+parameter\s+(\w+)\s+"([^"]*)"\s+(-?[\d.]+)\s+(-?[\d.]+)\s+(-?[\d.]+)(?:\s+(-?[\d.]+))?`)

	// includeDirectiveRegex captures the quoted path of an #include directive.
	includeDirectiveRegex = regexp.MustCompile(`^\s*#include\s+"([^"]+)"`)

	// defineDirectiveRegex captures the name and optional value of a single-line
	// #define directive.
	defineDirectiveRegex = regexp.MustCompile(`^\s*#define\s+(\w+)(?:[ \t]+(.*))?$`)

	// stagePragmaRegex matches a stage-announcing pragma and captures the stage keyword.
	stagePragmaRegex = regexp.MustCompile(`^\s*#pragma\s+stage\s+(\w+)\s*$`)

	// identRegex matches a bare identifier, used for referenced-name scanning.
	identRegex = regexp.MustCompile(`[A-Za-z_]\w*`)
)

// SourceInfo is the stable scanning facade over one shader source: everything
// downstream components need without re-deriving offsets themselves. The
// line/offset scanner behind it can be swapped for a real tokenizer without
// touching callers.
type SourceInfo struct {
	// Bindings are the descriptor-qualified resources in declaration order:
	// samplers first sorted by (set, binding), then UBO blocks, then push constants.
	Bindings []Binding

	// Definitions are the top-level functions, macros, consts, and globals
	// extracted from the pre-stage text.
	Definitions GlobalDefinitions

	// Parameters are the #pragma parameter declarations in source order.
	Parameters []Parameter

	// Includes are the #include target paths in source order.
	Includes []string

	// Defines are the single-line macro names in source order.
	Defines []string
}

// ParseSource scans a complete shader source and returns its binding,
// definition, parameter, include, and define inventory. Scanning never fails:
// text that matches no pattern contributes nothing.
//
// Parameters:
//   - source: the raw shader source text
//   - excludeGlobals: identifier names that must not be classified as globals
//     (typically the preset's shader parameter names)
//
// Returns:
//   - SourceInfo: the scanned inventory
func ParseSource(source string, excludeGlobals map[string]bool) SourceInfo {
	bindings := ParseBindings(source)
	return SourceInfo{
		Bindings:    bindings,
		Definitions: ExtractGlobalDefinitions(StagePrelude(source), bindings, excludeGlobals),
		Parameters:  ScanParameters(source),
		Includes:    ScanIncludes(source),
		Defines:     ScanDefines(source),
	}
}

// ParseBindings extracts all descriptor-qualified bindings from shader source:
// sampler declarations, uniform buffer blocks, and push-constant blocks. Block
// members carry std140 offsets and sizes. Malformed declarations are skipped
// with a logged note rather than failing the scan.
//
// Parameters:
//   - source: the raw shader source text
//
// Returns:
//   - []Binding: all recognized bindings, samplers first, then UBOs, then push constants
func ParseBindings(source string) []Binding {
	var bindings []Binding

	for _, m := range samplerBindingRegex.FindAllStringSubmatchIndex(source, -1) {
		set, _ := strconv.Atoi(source[m[2]:m[3]])
		binding, _ := strconv.Atoi(source[m[4]:m[5]])
		bindings = append(bindings, Binding{
			Kind:        BindingSampler,
			Set:         set,
			Binding:     binding,
			Name:        source[m[6]:m[7]],
			SourceRange: [2]int{m[0], m[1]},
		})
	}

	for _, m := range uboBindingRegex.FindAllStringSubmatchIndex(source, -1) {
		set, _ := strconv.Atoi(source[m[2]:m[3]])
		binding, _ := strconv.Atoi(source[m[4]:m[5]])
		members, size := parseBlockMembers(source[m[8]:m[9]])
		bindings = append(bindings, Binding{
			Kind:         BindingUBO,
			Set:          set,
			Binding:      binding,
			Name:         source[m[6]:m[7]],
			InstanceName: source[m[10]:m[11]],
			Members:      members,
			Size:         size,
			SourceRange:  [2]int{m[0], m[1]},
		})
	}

	for _, m := range pushConstantRegex.FindAllStringSubmatchIndex(source, -1) {
		members, size := parseBlockMembers(source[m[4]:m[5]])
		bindings = append(bindings, Binding{
			Kind:         BindingPushConstant,
			Name:         source[m[2]:m[3]],
			InstanceName: source[m[6]:m[7]],
			Members:      members,
			Size:         size,
			SourceRange:  [2]int{m[0], m[1]},
		})
	}

	return bindings
}

// parseBlockMembers parses the body of a uniform block into members and
// computes their std140 placement. Unrecognized member lines are skipped with
// a logged note.
func parseBlockMembers(body string) ([]BlockMember, uint32) {
	var members []BlockMember
	for _, line := range strings.Split(stripComments(body), "\n") {
		for _, decl := range strings.Split(line, ";") {
			decl = strings.TrimSpace(decl)
			if decl == "" {
				continue
			}
			m := blockMemberRegex.FindStringSubmatch(decl + ";")
			if m == nil {
				log.Printf("[SlangParser] skipping unrecognized block member %q", decl)
				continue
			}
			t, ok := ParseGLSLType(m[1])
			if !ok {
				log.Printf("[SlangParser] skipping block member %q with unknown type %q", m[2], m[1])
				continue
			}
			member := BlockMember{Name: m[2], Type: t}
			if m[3] != "" {
				if n, err := strconv.Atoi(m[3]); err == nil {
					member.ArrayLen = n
				}
			}
			members = append(members, member)
		}
	}
	return ComputeBlockLayout(members)
}

// ScanParameters extracts every #pragma parameter declaration in source order.
// Malformed parameter pragmas are skipped.
//
// Parameters:
//   - source: the raw shader source text
//
// Returns:
//   - []Parameter: the declared parameters
func ScanParameters(source string) []Parameter {
	var params []Parameter
	for _, m := range parameterPragmaRegex.FindAllStringSubmatch(source, -1) {
		def, err1 := strconv.ParseFloat(m[3], 64)
		min, err2 := strconv.ParseFloat(m[4], 64)
		max, err3 := strconv.ParseFloat(m[5], 64)
		if err1 != nil || err2 != nil || err3 != nil {
			log.Printf("[SlangParser] skipping malformed parameter pragma for %q", m[1])
			continue
		}
		p := Parameter{Name: m[1], Label: m[2], Default: def, Min: min, Max: max}
		if m[6] != "" {
			p.Step, _ = strconv.ParseFloat(m[6], 64)
		}
		params = append(params, p)
	}
	return params
}

// ScanIncludes returns the quoted paths of all #include directives in source order.
//
// Parameters:
//   - source: the raw shader source text
//
// Returns:
//   - []string: the include target paths
func ScanIncludes(source string) []string {
	var includes []string
	for _, line := range strings.Split(source, "\n") {
		if m := includeDirectiveRegex.FindStringSubmatch(line); m != nil {
			includes = append(includes, m[1])
		}
	}
	return includes
}

// ScanDefines returns the names of all single-line #define directives in source order.
//
// Parameters:
//   - source: the raw shader source text
//
// Returns:
//   - []string: the defined macro names
func ScanDefines(source string) []string {
	var defines []string
	for _, line := range strings.Split(source, "\n") {
		if m := defineDirectiveRegex.FindStringSubmatch(line); m != nil {
			defines = append(defines, m[1])
		}
	}
	return defines
}

// scanDeclaredUniforms seeds the declared-uniform set from flat uniform
// declarations already present in the source, so conversion never emits a
// duplicate declaration for an already-materialized name.
func scanDeclaredUniforms(source string) map[string]bool {
	declared := make(map[string]bool)
	for _, m := range flatUniformRegex.FindAllStringSubmatch(source, -1) {
		if m[1] == "sampler2D" {
			continue
		}
		declared[m[2]] = true
	}
	return declared
}

// ReferencedIdentifiers returns the set of identifiers that appear in the
// source outside of comments. Used to record which uniform, sampler, and
// parameter names a compiled stage actually references.
//
// Parameters:
//   - source: the shader source text
//
// Returns:
//   - map[string]bool: every identifier appearing in the source
func ReferencedIdentifiers(source string) map[string]bool {
	refs := make(map[string]bool)
	for _, id := range identRegex.FindAllString(stripComments(source), -1) {
		refs[id] = true
	}
	return refs
}
