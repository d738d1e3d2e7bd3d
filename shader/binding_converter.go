// binding_converter.go rewrites descriptor-qualified bindings (samplers,
// uniform buffer blocks, push-constant blocks) into the flat-uniform dialect.
// The converter is strictly best-effort: unmatched patterns leave the text
// unchanged plus a logged note, and no input can make it fail.
package shader

import (
	"fmt"
	"log"
	"regexp"
	"strings"
)

// conventionalInstanceNames are the block instance identifiers commonly used
// by shared shader headers for the two binding styles. When a push-constant
// block uses one of them, leftover references through a different conventional
// name are artifacts of headers written for the other style and are remapped.
var conventionalInstanceNames = []string{"params", "global", "registers", "push"}

// UniformDecl describes one flat uniform declaration emitted or kept by the
// converter.
type UniformDecl struct {
	// Name is the uniform identifier.
	Name string

	// Type is the declared type tag after integer-to-float coercion.
	Type GLSLType

	// ArrayLen is the declared array length, or 0 for non-array uniforms.
	ArrayLen int
}

// ConversionResult is the outcome of one binding conversion over one stage source.
type ConversionResult struct {
	// Source is the rewritten stage text.
	Source string

	// Uniforms are the flat uniforms the converted text declares, in emission
	// order, excluding samplers.
	Uniforms []UniformDecl

	// Samplers are the plain sampler uniform names present after conversion.
	Samplers []string

	// PreservedBlocks records the std140 member layout of every uniform block
	// kept in block form, for host-side buffer packing at draw time.
	PreservedBlocks []BlockLayout
}

// bindingConverter is the implementation of the BindingConverter interface.
type bindingConverter struct{}

// BindingConverter rewrites descriptor-qualified bindings in one stage source
// into flat uniforms runnable under a weaker binding model.
type BindingConverter interface {
	// Convert processes every binding against the stage source. Samplers lose
	// their descriptor qualifier. Uniform blocks are either preserved with a
	// buffer-object-compatible layout tag plus flat fallback uniforms
	// (preserveUBO true) or replaced entirely by flat member uniforms
	// (preserveUBO false). Push-constant blocks are always flattened and their
	// instance-qualified accesses rewritten to bare member names.
	//
	// Parameters:
	//   - source: one stage's source text
	//   - bindings: the bindings parsed from the original combined source
	//   - preserveUBO: true to keep uniform blocks in block form
	//
	// Returns:
	//   - ConversionResult: the rewritten source and its uniform inventory
	Convert(source string, bindings []Binding, preserveUBO bool) ConversionResult
}

var _ BindingConverter = &bindingConverter{}

// NewBindingConverter creates a BindingConverter.
//
// Returns:
//   - BindingConverter: a ready-to-use converter instance
func NewBindingConverter() BindingConverter {
	return &bindingConverter{}
}

func (c *bindingConverter) Convert(source string, bindings []Binding, preserveUBO bool) ConversionResult {
	result := ConversionResult{}

	// Uniforms already materialized in the source (e.g. parameters declared by
	// an earlier conversion) must never be declared twice.
	declared := scanDeclaredUniforms(source)

	text := source
	var pushInstance string

	for _, b := range bindings {
		switch b.Kind {
		case BindingSampler:
			text = c.convertSampler(text, b)
			result.Samplers = append(result.Samplers, b.Name)

		case BindingUBO:
			if preserveUBO {
				text = c.preserveBlock(text, b, declared, &result)
			} else {
				text = c.flattenBlock(text, b, declared, &result)
			}

		case BindingPushConstant:
			text = c.flattenBlock(text, b, declared, &result)
			if b.InstanceName != "" {
				pushInstance = b.InstanceName
			}
		}
	}

	text = c.rewriteMacroAliases(text, bindings, preserveUBO)

	if pushInstance != "" {
		text = c.remapConventionalInstances(text, pushInstance, bindings, preserveUBO)
	}

	result.Source = text
	return result
}

// convertSampler strips the descriptor qualifier from a sampler declaration,
// keeping it as a plain sampler uniform. If the declaration is not present in
// this stage's text (removed by stage splitting), the text is left unchanged.
func (c *bindingConverter) convertSampler(text string, b Binding) string {
	re, err := bindingPattern(`layout\s*\(\s*set\s*=\s*%d\s*,\s*binding\s*=\s*%d\s*\)\s*uniform\s+sampler2D\s+%s\s*;`, b)
	if err != nil {
		return text
	}
	if !re.MatchString(text) {
		return text
	}
	return re.ReplaceAllString(text, fmt.Sprintf("uniform sampler2D %s;", b.Name))
}

// preserveBlock keeps a uniform block, rewriting its descriptor qualifier to a
// buffer-object-compatible layout tag, and additionally emits flat fallback
// uniforms for every member not already declared. The fallbacks cover runtimes
// where block binding fails at draw time. The block's std140 layout is
// recorded for host-side packing.
func (c *bindingConverter) preserveBlock(text string, b Binding, declared map[string]bool, result *ConversionResult) string {
	re, err := bindingPattern(`layout\s*\(\s*(?:std140\s*,\s*)?set\s*=\s*%d\s*,\s*binding\s*=\s*%d\s*\)\s*uniform\s+%s\s*\{`, b)
	if err != nil {
		return text
	}
	loc := re.FindStringIndex(text)
	if loc == nil {
		// The block was declared for the other stage and removed by splitting.
		// There is no block to keep, so this stage gets only the flat
		// fallbacks, with instance accesses rewritten to match.
		log.Printf("[Converter] block %q not present in stage text, emitting flat fallbacks only", b.Name)
		if decls := c.memberUniformDecls(b, declared, result); decls != "" {
			text = injectAfterPreamble(text, decls)
		}
		if b.InstanceName != "" {
			text = rewriteInstanceAccesses(text, b.InstanceName, b.Members)
		}
		return text
	}

	text = text[:loc[0]] + fmt.Sprintf("layout(std140) uniform %s {", b.Name) + text[loc[1]:]

	fallbacks := c.memberUniformDecls(b, declared, result)
	if fallbacks != "" {
		// Inject the fallback uniforms right after the rewritten block's
		// closing brace and instance-name semicolon.
		if brace := strings.Index(text[loc[0]:], "}"); brace >= 0 {
			if semi := strings.Index(text[loc[0]+brace:], ";"); semi >= 0 {
				at := loc[0] + brace + semi + 1
				text = text[:at] + "\n" + strings.TrimSuffix(fallbacks, "\n") + text[at:]
			}
		}
	}

	result.PreservedBlocks = append(result.PreservedBlocks, BlockLayout{
		Name:         b.Name,
		InstanceName: b.InstanceName,
		Binding:      b.Binding,
		Members:      b.Members,
		Size:         b.Size,
	})
	return text
}

// flattenBlock replaces a uniform or push-constant block with one flat uniform
// declaration per member. If the block's textual definition is absent from
// this stage's text (declared for the other stage and removed by splitting),
// the flat uniforms are injected after the precision declaration, or after the
// version directive if no precision declaration exists. Instance-qualified
// member accesses are rewritten to bare member names.
func (c *bindingConverter) flattenBlock(text string, b Binding, declared map[string]bool, result *ConversionResult) string {
	var re *regexp.Regexp
	var err error
	if b.Kind == BindingPushConstant {
		re, err = bindingPattern(`layout\s*\(\s*push_constant\s*\)\s*uniform\s+%s\s*\{[^}]*\}\s*\w*\s*;`, b)
	} else {
		re, err = bindingPattern(`layout\s*\(\s*(?:std140\s*,\s*)?set\s*=\s*%d\s*,\s*binding\s*=\s*%d\s*\)\s*uniform\s+%s\s*\{[^}]*\}\s*\w*\s*;`, b)
	}
	if err != nil {
		return text
	}

	decls := c.memberUniformDecls(b, declared, result)

	if loc := re.FindStringIndex(text); loc != nil {
		text = text[:loc[0]] + strings.TrimSuffix(decls, "\n") + text[loc[1]:]
	} else if decls != "" {
		text = injectAfterPreamble(text, decls)
	}

	if b.InstanceName != "" {
		text = rewriteInstanceAccesses(text, b.InstanceName, b.Members)
	}
	return text
}

// memberUniformDecls renders one flat uniform declaration per block member not
// already declared, coercing integer and unsigned member types to their
// floating-point variants, and records each emission in the result.
func (c *bindingConverter) memberUniformDecls(b Binding, declared map[string]bool, result *ConversionResult) string {
	var sb strings.Builder
	for _, m := range b.Members {
		if declared[m.Name] {
			continue
		}
		declared[m.Name] = true
		t := m.Type.FloatVariant()
		if m.ArrayLen > 0 {
			sb.WriteString(fmt.Sprintf("uniform %s %s[%d];\n", t, m.Name, m.ArrayLen))
		} else {
			sb.WriteString(fmt.Sprintf("uniform %s %s;\n", t, m.Name))
		}
		result.Uniforms = append(result.Uniforms, UniformDecl{Name: m.Name, Type: t, ArrayLen: m.ArrayLen})
	}
	return sb.String()
}

// rewriteMacroAliases rewrites `#define ALIAS block.member` lines to reference
// the bare member name once the block has been flattened. Aliases through a
// preserved block's instance remain valid and are left alone.
func (c *bindingConverter) rewriteMacroAliases(text string, bindings []Binding, preserveUBO bool) string {
	instances := make(map[string]bool)
	for _, b := range bindings {
		if b.InstanceName == "" {
			continue
		}
		if b.Kind == BindingUBO && preserveUBO {
			continue
		}
		instances[b.InstanceName] = true
	}
	if len(instances) == 0 {
		return text
	}

	aliasRegex := regexp.MustCompile(`(?m)^(\s*#define\s+\w+\s+)(\w+)\.(\w+)\s*$`)
	return aliasRegex.ReplaceAllStringFunc(text, func(match string) string {
		m := aliasRegex.FindStringSubmatch(match)
		if !instances[m[2]] {
			return match
		}
		return m[1] + m[3]
	})
}

// remapConventionalInstances rewrites leftover references that use a
// conventional instance name different from the push-constant's own instance,
// mapping them onto the push-constant's flattened members. Instance names
// belonging to preserved blocks stay untouched since their accesses remain valid.
func (c *bindingConverter) remapConventionalInstances(text string, pushInstance string, bindings []Binding, preserveUBO bool) string {
	var pushMembers []BlockMember
	preserved := make(map[string]bool)
	for _, b := range bindings {
		if b.Kind == BindingPushConstant && b.InstanceName == pushInstance {
			pushMembers = b.Members
		}
		if b.Kind == BindingUBO && preserveUBO && b.InstanceName != "" {
			preserved[b.InstanceName] = true
		}
	}

	isConventional := false
	for _, name := range conventionalInstanceNames {
		if name == pushInstance {
			isConventional = true
		}
	}
	if !isConventional || len(pushMembers) == 0 {
		return text
	}

	for _, other := range conventionalInstanceNames {
		if other == pushInstance || preserved[other] {
			continue
		}
		text = rewriteInstanceAccesses(text, other, pushMembers)
	}
	return text
}

// rewriteInstanceAccesses rewrites `instance.member` accesses to the bare
// member name for every given member, using word-boundary-safe substitution.
func rewriteInstanceAccesses(text, instance string, members []BlockMember) string {
	for _, m := range members {
		re, err := regexp.Compile(`\b` + regexp.QuoteMeta(instance) + `\.` + regexp.QuoteMeta(m.Name) + `\b`)
		if err != nil {
			continue
		}
		text = re.ReplaceAllString(text, m.Name)
	}
	return text
}

// injectAfterPreamble inserts decls immediately after the precision
// declaration, or after the version directive if no precision declaration
// exists, or at the top of the text as a last resort.
func injectAfterPreamble(text, decls string) string {
	decls = strings.TrimSuffix(decls, "\n")
	lines := strings.Split(text, "\n")

	at := -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "precision ") {
			at = i
			break
		}
	}
	if at < 0 {
		for i, line := range lines {
			if strings.HasPrefix(strings.TrimSpace(line), "#version") {
				at = i
				break
			}
		}
	}

	if at < 0 {
		return decls + "\n" + text
	}
	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:at+1]...)
	out = append(out, decls)
	out = append(out, lines[at+1:]...)
	return strings.Join(out, "\n")
}

// bindingPattern compiles a binding-specific pattern, substituting the
// binding's set, binding index, and name where the format expects them.
func bindingPattern(format string, b Binding) (*regexp.Regexp, error) {
	var pattern string
	if strings.Contains(format, "%d") {
		pattern = fmt.Sprintf(format, b.Set, b.Binding, regexp.QuoteMeta(b.Name))
	} else {
		pattern = fmt.Sprintf(format, regexp.QuoteMeta(b.Name))
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		log.Printf("[Converter] internal pattern error for binding %q: %v", b.Name, err)
		return nil, err
	}
	return re, nil
}
