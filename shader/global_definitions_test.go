package shader

import (
	"strings"
	"testing"
)

func extractFrom(t *testing.T, source string, exclude map[string]bool) GlobalDefinitions {
	t.Helper()
	return ExtractGlobalDefinitions(StagePrelude(source), ParseBindings(source), exclude)
}

func TestExtractFunctionsConstsAndGlobals(t *testing.T) {
	src := `#define HALATION
const float PI = 3.14159;
float phase = 0.0;

vec3 tonemap(vec3 c)
{
	float local = 1.0;
	return c / (c + vec3(local));
}

#pragma stage fragment
void main() {}
`
	defs := extractFrom(t, src, nil)

	if len(defs.Defines) != 1 || defs.Defines[0].Name != "HALATION" {
		t.Fatalf("defines = %+v", defs.Defines)
	}
	if len(defs.Consts) != 1 || defs.Consts[0].Name != "PI" {
		t.Fatalf("consts = %+v", defs.Consts)
	}
	if len(defs.Functions) != 1 || defs.Functions[0].Name != "tonemap" || defs.Functions[0].ReturnType != "vec3" {
		t.Fatalf("functions = %+v", defs.Functions)
	}
	if !strings.Contains(defs.Functions[0].Text, "return c / (c + vec3(local));") {
		t.Fatalf("function text truncated:\n%s", defs.Functions[0].Text)
	}

	// `float local` lives in a function body, `void main` lives past the stage
	// pragma; only `phase` is a true global.
	if len(defs.Globals) != 1 || defs.Globals[0].Name != "phase" {
		t.Fatalf("globals = %+v", defs.Globals)
	}
}

func TestExtractSkipsBlockMembersAndReservedNames(t *testing.T) {
	src := `layout(std140, set = 0, binding = 0) uniform UBO
{
	mat4 MVP;
	vec4 OutputSize;
} global;
layout(push_constant) uniform Push
{
	float BRIGHTNESS;
} params;
float FrameCount;
float genuine;
`
	defs := extractFrom(t, src, nil)

	if len(defs.Globals) != 1 || defs.Globals[0].Name != "genuine" {
		t.Fatalf("globals = %+v, want only genuine", defs.Globals)
	}
}

func TestExtractRespectsExcludeSet(t *testing.T) {
	src := "float BRIGHTNESS = 1.0;\nfloat other = 0.5;\n"
	defs := extractFrom(t, src, map[string]bool{"BRIGHTNESS": true})

	if len(defs.Globals) != 1 || defs.Globals[0].Name != "other" {
		t.Fatalf("globals = %+v, want BRIGHTNESS excluded", defs.Globals)
	}
}

func TestExtractMasksCommentedDeclarations(t *testing.T) {
	src := `// const float OLD = 1.0;
/* float dead = 2.0; */
const float LIVE = 3.0;
`
	defs := extractFrom(t, src, nil)

	if len(defs.Consts) != 1 || defs.Consts[0].Name != "LIVE" {
		t.Fatalf("consts = %+v, want only LIVE", defs.Consts)
	}
	if len(defs.Globals) != 0 {
		t.Fatalf("globals = %+v, want none", defs.Globals)
	}
}

func TestExtractIgnoresPrototypes(t *testing.T) {
	src := `vec3 tonemap(vec3 c);
vec3 tonemap(vec3 c)
{
	return c;
}
`
	defs := extractFrom(t, src, nil)

	if len(defs.Functions) != 1 {
		t.Fatalf("functions = %+v, want the definition only", defs.Functions)
	}
	if defs.Functions[0].Start == 0 {
		t.Fatal("prototype at offset 0 classified as the definition")
	}
}

func TestExtractRewritesIntegerInitOnFloatGlobals(t *testing.T) {
	src := "float drift = 2;\nint counter = 2;\nfloat exact = 2.5;\n"
	defs := extractFrom(t, src, nil)

	byName := make(map[string]GlobalDef, len(defs.Globals))
	for _, g := range defs.Globals {
		byName[g.Name] = g
	}

	if got := byName["drift"].Text; got != "float drift = 2.0;" {
		t.Fatalf("drift text = %q, want fractional suffix added", got)
	}
	if got := byName["counter"].Text; got != "int counter = 2;" {
		t.Fatalf("counter text = %q, want int initializer untouched", got)
	}
	if got := byName["exact"].Text; got != "float exact = 2.5;" {
		t.Fatalf("exact text = %q, want fractional initializer untouched", got)
	}
}
