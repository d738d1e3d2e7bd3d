// Package compiler orchestrates the per-pass build pipeline: include
// pre-processing, stage splitting, global definition extraction, and binding
// conversion, producing compiled passes ready for scheduling. Compiled passes
// are memoized in a path+options-keyed cache.
package compiler

import (
	"fmt"
	"log"
	"math"
	"strings"

	"github.com/retrofx/slangport/preset"
	"github.com/retrofx/slangport/shader"
)

// defaultVertexSource is the synthetic passthrough vertex stage supplied when
// a shader declares no vertex stage.
const defaultVertexSource = `#version 450
uniform mat4 MVP;
layout(location = 0) in vec4 Position;
layout(location = 1) in vec2 TexCoord;
layout(location = 0) out vec2 vTexCoord;
void main()
{
	gl_Position = MVP * Position;
	vTexCoord = TexCoord;
}
`

// Options selects compilation behavior and participates in the cache key.
type Options struct {
	// PreserveUBO keeps uniform blocks in block form with flat fallback
	// uniforms instead of flattening them entirely.
	PreserveUBO bool
}

// fingerprint renders the options into the cache key.
func (o Options) fingerprint() string {
	return fmt.Sprintf("preserve=%t", o.PreserveUBO)
}

// RenderTargetPolicy sizes one pass's render target from its scale directives.
type RenderTargetPolicy struct {
	// TypeX and TypeY select the sizing rule per axis.
	TypeX, TypeY preset.ScaleType

	// FactorX and FactorY are the per-axis factors; literal pixel dimensions
	// for absolute sizing.
	FactorX, FactorY float64
}

// Size computes the render target dimensions for the current frame.
//
// Parameters:
//   - sourceW, sourceH: the previous pass's output size (the pipeline input
//     size for the first pass)
//   - viewportW, viewportH: the final viewport size
//
// Returns:
//   - int: the target width, at least 1
//   - int: the target height, at least 1
func (p RenderTargetPolicy) Size(sourceW, sourceH, viewportW, viewportH int) (int, int) {
	axis := func(t preset.ScaleType, factor float64, source, viewport int) int {
		var v float64
		switch t {
		case preset.ScaleViewport:
			v = float64(viewport) * factor
		case preset.ScaleAbsolute:
			v = factor
		default:
			v = float64(source) * factor
		}
		if v < 1 {
			return 1
		}
		return int(math.Round(v))
	}
	return axis(p.TypeX, p.FactorX, sourceW, viewportW), axis(p.TypeY, p.FactorY, sourceH, viewportH)
}

// CompiledStage is one converted stage of a compiled pass.
type CompiledStage struct {
	// Kind is the stage kind.
	Kind shader.StageKind

	// Source is the fully assembled and converted stage text.
	Source string

	// Uniforms are the flat uniforms the stage declares, excluding samplers.
	Uniforms []shader.UniformDecl

	// Samplers are the sampler uniform names the stage declares.
	Samplers []string

	// PreservedBlocks are the uniform blocks kept in block form, with their
	// std140 layouts for host-side packing.
	PreservedBlocks []shader.BlockLayout
}

// CompiledPass is one pass after the full build pipeline.
type CompiledPass struct {
	// Pass is the preset declaration the compilation ran for.
	Pass preset.Pass

	// Vertex and Fragment are the compiled stages.
	Vertex, Fragment CompiledStage

	// Parameters are the #pragma parameter declarations across all includes.
	Parameters []shader.Parameter

	// Target is the render target sizing policy from the pass's scale directives.
	Target RenderTargetPolicy

	// ReferencedUniforms, ReferencedSamplers, and ReferencedParameters record
	// which names the converted stages actually reference.
	ReferencedUniforms   map[string]bool
	ReferencedSamplers   map[string]bool
	ReferencedParameters map[string]bool
}

// CompiledPreset is a fully compiled pass chain. Every pass but the last
// renders to an intermediate target sized by its policy; the last renders to
// the externally supplied output.
type CompiledPreset struct {
	// Preset is the declaration the compilation ran for.
	Preset *preset.Preset

	// Passes are the compiled passes in chain order.
	Passes []CompiledPass
}

// HasRenderTarget reports whether the pass at index writes to an intermediate
// render target rather than the final output.
func (c *CompiledPreset) HasRenderTarget(index int) bool {
	return index < len(c.Passes)-1
}

// compiler is the implementation of the Compiler interface.
type compiler struct {
	resolver  shader.FileResolver
	converter shader.BindingConverter
	cache     *passCache
}

// Compiler builds presets and individual passes into scheduler-ready form.
type Compiler interface {
	// CompilePreset validates the preset and compiles every declared pass in
	// order. No partially compiled preset is ever returned: the first pass
	// failure aborts the whole compile.
	//
	// Parameters:
	//   - p: the parsed preset
	//   - opts: compilation options
	//
	// Returns:
	//   - *CompiledPreset: the compiled pass chain
	//   - error: the first validation or pass compilation failure
	CompilePreset(p *preset.Preset, opts Options) (*CompiledPreset, error)

	// CompilePass compiles one pass's shader through the full pipeline,
	// serving repeat requests from the path+options cache within its TTL.
	//
	// Parameters:
	//   - pass: the pass declaration
	//   - opts: compilation options
	//
	// Returns:
	//   - *CompiledPass: the compiled pass
	//   - error: a fatal pre-processing or assembly failure
	CompilePass(pass preset.Pass, opts Options) (*CompiledPass, error)

	// InvalidateCache drops all memoized pass compilations.
	InvalidateCache()
}

var _ Compiler = &compiler{}

// NewCompiler creates a Compiler reading shader sources through the given
// resolver. Panics if resolver is nil.
//
// Parameters:
//   - resolver: the FileResolver used for shader and include text
//   - options: builder options configuring cache behavior
//
// Returns:
//   - Compiler: a ready-to-use compiler
func NewCompiler(resolver shader.FileResolver, options ...CompilerOption) Compiler {
	if resolver == nil {
		panic("compiler: NewCompiler requires a non-nil FileResolver")
	}
	c := &compiler{
		resolver:  resolver,
		converter: shader.NewBindingConverter(),
		cache:     newPassCache(defaultCacheTTL, defaultCacheCap),
	}
	for _, option := range options {
		option(c)
	}
	return c
}

func (c *compiler) CompilePreset(p *preset.Preset, opts Options) (*CompiledPreset, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	compiled := &CompiledPreset{Preset: p, Passes: make([]CompiledPass, 0, len(p.Passes))}
	for _, pass := range p.Passes {
		cp, err := c.CompilePass(pass, opts)
		if err != nil {
			return nil, fmt.Errorf("pass %d (%s): %w", pass.Index, pass.ShaderPath, err)
		}
		compiled.Passes = append(compiled.Passes, *cp)
	}
	return compiled, nil
}

func (c *compiler) CompilePass(pass preset.Pass, opts Options) (*CompiledPass, error) {
	key := pass.ShaderPath + "|" + opts.fingerprint()
	if cached, ok := c.cache.get(key); ok {
		cp := *cached
		cp.Pass = pass
		cp.Target = targetPolicy(pass)
		return &cp, nil
	}

	// Each compile gets its own pre-processor so concurrent compiles never
	// share include state.
	expanded, err := shader.NewPreProcessor(c.resolver).Process(pass.ShaderPath)
	if err != nil {
		return nil, err
	}

	parameters := shader.ScanParameters(expanded)
	paramNames := make(map[string]bool, len(parameters))
	for _, p := range parameters {
		paramNames[p.Name] = true
	}

	bindings := shader.ParseBindings(expanded)
	prelude := shader.StagePrelude(expanded)
	defs := shader.ExtractGlobalDefinitions(prelude, bindings, paramNames)

	// Synthetic stages are complete sources; assembly applies only to split
	// stage bodies, which carry neither the version directive nor the
	// extracted definitions.
	stages := shader.SplitStages(expanded)
	selfContained := make(map[shader.StageKind]bool)
	if len(stages) == 0 {
		log.Printf("[Compiler] shader %q declares no stages, compiling the whole source as the fragment stage", pass.ShaderPath)
		stages = []shader.Stage{{Kind: shader.StageFragment, Source: expanded}}
		selfContained[shader.StageFragment] = true
	}
	hasVertex := false
	for _, stage := range stages {
		if stage.Kind == shader.StageVertex {
			hasVertex = true
			break
		}
	}
	if !hasVertex {
		log.Printf("[Compiler] shader %q declares no vertex stage, supplying the passthrough vertex", pass.ShaderPath)
		stages = append(stages, shader.Stage{Kind: shader.StageVertex, Source: defaultVertexSource})
		selfContained[shader.StageVertex] = true
	}

	compiled := &CompiledPass{
		Pass:                 pass,
		Parameters:           parameters,
		Target:               targetPolicy(pass),
		ReferencedUniforms:   make(map[string]bool),
		ReferencedSamplers:   make(map[string]bool),
		ReferencedParameters: make(map[string]bool),
	}

	for _, stage := range stages {
		assembled := stage.Source
		if !selfContained[stage.Kind] {
			assembled = assembleStage(prelude, defs, stage)
		}
		converted := c.converter.Convert(assembled, bindings, opts.PreserveUBO)

		source := converted.Source
		if stage.Kind == shader.StageFragment {
			source = ensureSamplerDecls(source, converted.Samplers)
		}
		source, paramUniforms := ensureParameterDecls(source, parameters)

		cs := CompiledStage{
			Kind:            stage.Kind,
			Source:          source,
			Uniforms:        append(converted.Uniforms, paramUniforms...),
			Samplers:        converted.Samplers,
			PreservedBlocks: converted.PreservedBlocks,
		}

		refs := shader.ReferencedIdentifiers(source)
		for _, u := range cs.Uniforms {
			if refs[u.Name] {
				compiled.ReferencedUniforms[u.Name] = true
			}
		}
		for _, s := range cs.Samplers {
			if refs[s] {
				compiled.ReferencedSamplers[s] = true
			}
		}
		for name := range paramNames {
			if refs[name] {
				compiled.ReferencedParameters[name] = true
			}
		}

		switch stage.Kind {
		case shader.StageVertex:
			compiled.Vertex = cs
		case shader.StageFragment:
			compiled.Fragment = cs
		}
	}

	c.cache.put(key, compiled)
	return compiled, nil
}

func (c *compiler) InvalidateCache() {
	c.cache.clear()
}

// targetPolicy derives the render target sizing policy from the pass's scale
// directives.
func targetPolicy(pass preset.Pass) RenderTargetPolicy {
	return RenderTargetPolicy{
		TypeX:   pass.ScaleTypeX,
		TypeY:   pass.ScaleTypeY,
		FactorX: pass.ScaleX,
		FactorY: pass.ScaleY,
	}
}

// assembleStage builds one complete stage source: the prelude's version
// directive, then the extracted defines, consts, globals, and functions, then
// the stage body.
func assembleStage(prelude string, defs shader.GlobalDefinitions, stage shader.Stage) string {
	var sb strings.Builder

	if version := versionLine(prelude); version != "" && !strings.Contains(stage.Source, "#version") {
		sb.WriteString(version)
		sb.WriteString("\n")
	}
	for _, d := range defs.Defines {
		sb.WriteString(d.Text)
		sb.WriteString("\n")
	}
	for _, c := range defs.Consts {
		sb.WriteString(c.Text)
		sb.WriteString("\n")
	}
	for _, g := range defs.Globals {
		sb.WriteString(g.Text)
		sb.WriteString("\n")
	}
	for _, f := range defs.Functions {
		sb.WriteString(f.Text)
		sb.WriteString("\n")
	}
	sb.WriteString(stage.Source)
	return sb.String()
}

// versionLine returns the prelude's #version directive, or "".
func versionLine(prelude string) string {
	for line := range strings.SplitSeq(prelude, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#version") {
			return strings.TrimSpace(line)
		}
	}
	return ""
}

// ensureSamplerDecls injects a plain sampler declaration for every converted
// sampler the stage text does not already declare. Sampler bindings declared
// in the prelude are not carried into stage bodies by splitting, so the
// declarations are re-materialized here.
func ensureSamplerDecls(source string, samplers []string) string {
	var missing []string
	for _, name := range samplers {
		if !strings.Contains(source, "uniform sampler2D "+name) {
			missing = append(missing, fmt.Sprintf("uniform sampler2D %s;", name))
		}
	}
	if len(missing) == 0 {
		return source
	}
	return injectDecls(source, strings.Join(missing, "\n"))
}

// ensureParameterDecls injects a float uniform for every referenced parameter
// the stage text does not already declare, and returns the emitted decls.
func ensureParameterDecls(source string, parameters []shader.Parameter) (string, []shader.UniformDecl) {
	refs := shader.ReferencedIdentifiers(source)
	var missing []string
	var decls []shader.UniformDecl
	for _, p := range parameters {
		if !refs[p.Name] {
			continue
		}
		if strings.Contains(source, "uniform float "+p.Name) {
			continue
		}
		missing = append(missing, fmt.Sprintf("uniform float %s;", p.Name))
		decls = append(decls, shader.UniformDecl{Name: p.Name, Type: shader.TypeFloat})
	}
	if len(missing) == 0 {
		return source, decls
	}
	return injectDecls(source, strings.Join(missing, "\n")), decls
}

// injectDecls places declarations after the version directive, or at the top
// when no version directive exists.
func injectDecls(source, decls string) string {
	lines := strings.Split(source, "\n")
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "#version") {
			out := make([]string, 0, len(lines)+1)
			out = append(out, lines[:i+1]...)
			out = append(out, decls)
			out = append(out, lines[i+1:]...)
			return strings.Join(out, "\n")
		}
	}
	return decls + "\n" + source
}
