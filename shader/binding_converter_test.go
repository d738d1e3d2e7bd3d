package shader

import (
	"strings"
	"testing"
)

func convertSource(t *testing.T, source string, preserveUBO bool) ConversionResult {
	t.Helper()
	return NewBindingConverter().Convert(source, ParseBindings(source), preserveUBO)
}

func TestConvertStripsSamplerQualifier(t *testing.T) {
	src := `layout(set = 0, binding = 2) uniform sampler2D Source;
void main() { color = texture(Source, uv); }`
	result := convertSource(t, src, false)

	if !strings.Contains(result.Source, "uniform sampler2D Source;") {
		t.Fatalf("stripped sampler declaration missing:\n%s", result.Source)
	}
	if strings.Contains(result.Source, "layout(set") {
		t.Fatalf("descriptor qualifier left behind:\n%s", result.Source)
	}
	if len(result.Samplers) != 1 || result.Samplers[0] != "Source" {
		t.Fatalf("samplers = %v", result.Samplers)
	}
}

func TestConvertFlattensPushConstants(t *testing.T) {
	src := `#version 450
layout(push_constant) uniform Push
{
	float BRIGHTNESS;
	int PASSES;
} params;
void main() { c = params.BRIGHTNESS * float(params.PASSES); }`
	result := convertSource(t, src, false)

	if strings.Contains(result.Source, "push_constant") {
		t.Fatalf("push-constant block left behind:\n%s", result.Source)
	}
	if !strings.Contains(result.Source, "uniform float BRIGHTNESS;") {
		t.Fatalf("flat BRIGHTNESS declaration missing:\n%s", result.Source)
	}
	// Integer members coerce to float so the weaker dialect never compares
	// integer uniforms.
	if !strings.Contains(result.Source, "uniform float PASSES;") {
		t.Fatalf("PASSES not coerced to float:\n%s", result.Source)
	}
	if strings.Contains(result.Source, "params.") {
		t.Fatalf("instance-qualified access left behind:\n%s", result.Source)
	}
	if len(result.Uniforms) != 2 || result.Uniforms[1].Type != TypeFloat {
		t.Fatalf("uniforms = %+v", result.Uniforms)
	}
}

func TestConvertFlattensUBO(t *testing.T) {
	src := `layout(std140, set = 0, binding = 0) uniform UBO
{
	mat4 MVP;
} global;
void main() { gl_Position = global.MVP * Position; }`
	result := convertSource(t, src, false)

	if !strings.Contains(result.Source, "uniform mat4 MVP;") {
		t.Fatalf("flat MVP declaration missing:\n%s", result.Source)
	}
	if strings.Contains(result.Source, "global.MVP") {
		t.Fatalf("instance access not rewritten:\n%s", result.Source)
	}
	if len(result.PreservedBlocks) != 0 {
		t.Fatalf("flatten mode recorded preserved blocks: %+v", result.PreservedBlocks)
	}
}

func TestConvertPreservesUBOWithFallbacks(t *testing.T) {
	src := `layout(std140, set = 0, binding = 0) uniform UBO
{
	mat4 MVP;
	vec4 Tint;
} global;
void main() { gl_Position = global.MVP * Position; }`
	result := convertSource(t, src, true)

	if !strings.Contains(result.Source, "layout(std140) uniform UBO {") {
		t.Fatalf("block not rewritten to buffer-object layout:\n%s", result.Source)
	}
	// Fallback uniforms follow the block so member names resolve even when
	// block binding fails at draw time.
	closing := strings.Index(result.Source, "} global;")
	if closing < 0 {
		t.Fatalf("block closing lost:\n%s", result.Source)
	}
	after := result.Source[closing:]
	if !strings.Contains(after, "uniform mat4 MVP;") || !strings.Contains(after, "uniform vec4 Tint;") {
		t.Fatalf("fallback uniforms missing after block:\n%s", result.Source)
	}
	// Accesses through a preserved block's instance stay valid.
	if !strings.Contains(result.Source, "global.MVP") {
		t.Fatalf("preserved instance access rewritten:\n%s", result.Source)
	}

	if len(result.PreservedBlocks) != 1 {
		t.Fatalf("preserved blocks = %+v", result.PreservedBlocks)
	}
	layout := result.PreservedBlocks[0]
	if layout.Name != "UBO" || layout.InstanceName != "global" || layout.Size != 80 {
		t.Fatalf("preserved layout = %+v", layout)
	}
}

func TestConvertInjectsAbsentBlockDecls(t *testing.T) {
	// The block was declared in the combined source but split into the other
	// stage; this stage only references the members.
	combined := `#version 450
layout(push_constant) uniform Push
{
	float BRIGHTNESS;
} params;`
	bindings := ParseBindings(combined)

	stage := "#version 450\nprecision mediump float;\nvoid main() { c = params.BRIGHTNESS; }"
	result := NewBindingConverter().Convert(stage, bindings, false)

	lines := strings.Split(result.Source, "\n")
	if len(lines) < 3 || lines[1] != "precision mediump float;" || lines[2] != "uniform float BRIGHTNESS;" {
		t.Fatalf("declaration not injected after precision line:\n%s", result.Source)
	}
	if strings.Contains(result.Source, "params.") {
		t.Fatalf("instance access not rewritten:\n%s", result.Source)
	}
}

func TestConvertInjectsAfterVersionWithoutPrecision(t *testing.T) {
	combined := `layout(push_constant) uniform Push
{
	float BRIGHTNESS;
} params;`
	bindings := ParseBindings(combined)

	stage := "#version 450\nvoid main() { c = params.BRIGHTNESS; }"
	result := NewBindingConverter().Convert(stage, bindings, false)

	lines := strings.Split(result.Source, "\n")
	if len(lines) < 2 || lines[0] != "#version 450" || lines[1] != "uniform float BRIGHTNESS;" {
		t.Fatalf("declaration not injected after version directive:\n%s", result.Source)
	}
}

func TestConvertRewritesMacroAliases(t *testing.T) {
	src := `layout(push_constant) uniform Push
{
	float SCANLINE_WEIGHT;
} params;
#define WEIGHT params.SCANLINE_WEIGHT
void main() { c = WEIGHT; }`
	result := convertSource(t, src, false)

	if !strings.Contains(result.Source, "#define WEIGHT SCANLINE_WEIGHT") {
		t.Fatalf("macro alias not rewritten:\n%s", result.Source)
	}
}

func TestConvertRemapsConventionalInstances(t *testing.T) {
	// Shared headers written for the UBO style reference `global.X`; with the
	// member actually living in the push-constant block the reference must be
	// remapped onto the flattened name.
	src := `layout(push_constant) uniform Push
{
	float BRIGHTNESS;
} params;
void main() { c = global.BRIGHTNESS; }`
	result := convertSource(t, src, false)

	if strings.Contains(result.Source, "global.BRIGHTNESS") {
		t.Fatalf("conventional instance reference not remapped:\n%s", result.Source)
	}
	if !strings.Contains(result.Source, "c = BRIGHTNESS;") {
		t.Fatalf("remapped access missing:\n%s", result.Source)
	}
}

func TestConvertLeavesPreservedInstanceUntouchedByRemap(t *testing.T) {
	src := `layout(std140, set = 0, binding = 0) uniform UBO
{
	mat4 MVP;
} global;
layout(push_constant) uniform Push
{
	mat4 MVP;
} params;
void main() { m = global.MVP; }`
	result := convertSource(t, src, true)

	if !strings.Contains(result.Source, "global.MVP") {
		t.Fatalf("preserved block's instance access was remapped:\n%s", result.Source)
	}
}

func TestConvertSkipsAlreadyDeclaredUniforms(t *testing.T) {
	src := `uniform float BRIGHTNESS;
layout(push_constant) uniform Push
{
	float BRIGHTNESS;
	float CONTRAST;
} params;
void main() {}`
	result := convertSource(t, src, false)

	if got := strings.Count(result.Source, "uniform float BRIGHTNESS;"); got != 1 {
		t.Fatalf("BRIGHTNESS declared %d times, want 1:\n%s", got, result.Source)
	}
	if len(result.Uniforms) != 1 || result.Uniforms[0].Name != "CONTRAST" {
		t.Fatalf("uniforms = %+v, want only CONTRAST emitted", result.Uniforms)
	}
}

func TestConvertArrayMemberKeepsLength(t *testing.T) {
	src := `layout(push_constant) uniform Push
{
	vec4 palette[4];
} params;
void main() {}`
	result := convertSource(t, src, false)

	if !strings.Contains(result.Source, "uniform vec4 palette[4];") {
		t.Fatalf("array declaration missing:\n%s", result.Source)
	}
	if len(result.Uniforms) != 1 || result.Uniforms[0].ArrayLen != 4 {
		t.Fatalf("uniforms = %+v", result.Uniforms)
	}
}
