package preset

import (
	"path/filepath"
	"strings"
	"testing"
)

func parseText(t *testing.T, text string) *Preset {
	t.Helper()
	p, err := ParsePreset(text, filepath.Join("presets", "crt.slangp"))
	if err != nil {
		t.Fatalf("ParsePreset failed: %v", err)
	}
	return p
}

func TestParsePresetFullGrammar(t *testing.T) {
	text := `shaders = 2

shader0 = shaders/blur.slang
filter_linear0 = true
wrap_mode0 = repeat
alias0 = BlurPass
scale_type0 = source
scale0 = 0.5
float_framebuffer0 = true
frame_count_mod0 = 120

shader1 = "shaders/final.slang"
scale_type_x1 = viewport
scale_type_y1 = absolute
scale_x1 = 1.0
scale_y1 = 480
srgb_framebuffer1 = true
mipmap_input1 = on
`
	p := parseText(t, text)

	if len(p.Passes) != 2 {
		t.Fatalf("parsed %d passes, want 2", len(p.Passes))
	}

	blur := p.Passes[0]
	if blur.ShaderPath != filepath.Join("presets", "shaders", "blur.slang") {
		t.Fatalf("pass 0 shader path = %q", blur.ShaderPath)
	}
	if !blur.FilterLinear || blur.WrapMode != WrapRepeat || blur.Alias != "BlurPass" {
		t.Fatalf("pass 0 = %+v", blur)
	}
	if blur.ScaleTypeX != ScaleSource || blur.ScaleTypeY != ScaleSource || blur.ScaleX != 0.5 || blur.ScaleY != 0.5 {
		t.Fatalf("pass 0 scale = %+v", blur)
	}
	if !blur.FloatFramebuffer || blur.FrameCountMod != 120 {
		t.Fatalf("pass 0 framebuffer flags = %+v", blur)
	}

	final := p.Passes[1]
	if final.ShaderPath != filepath.Join("presets", "shaders", "final.slang") {
		t.Fatalf("quoted pass 1 shader path = %q", final.ShaderPath)
	}
	if final.ScaleTypeX != ScaleViewport || final.ScaleTypeY != ScaleAbsolute {
		t.Fatalf("pass 1 scale types = %+v", final)
	}
	if final.ScaleX != 1.0 || final.ScaleY != 480 {
		t.Fatalf("pass 1 scale factors = %+v", final)
	}
	if !final.SRGBFramebuffer || !final.MipmapInput {
		t.Fatalf("pass 1 framebuffer flags = %+v", final)
	}
}

func TestParsePresetDefaults(t *testing.T) {
	p := parseText(t, "shader0 = a.slang\n")
	pass := p.Passes[0]

	if pass.ScaleX != 1 || pass.ScaleY != 1 {
		t.Fatalf("default scale = %g x %g, want 1 x 1", pass.ScaleX, pass.ScaleY)
	}
	if pass.ScaleTypeX != ScaleSource || pass.WrapMode != WrapClampToBorder || pass.FilterLinear {
		t.Fatalf("defaults = %+v", pass)
	}
}

func TestParsePresetTextureSection(t *testing.T) {
	text := `shader0 = a.slang
textures = "LUT;Noise"
LUT = lut/palette.png
LUT_linear = true
LUT_wrap_mode = mirrored_repeat
LUT_mipmap = true
Noise = noise.png
`
	p := parseText(t, text)

	if len(p.Textures) != 2 {
		t.Fatalf("parsed %d textures, want 2", len(p.Textures))
	}

	lut := p.Textures[0]
	if lut.Name != "LUT" || lut.Path != filepath.Join("presets", "lut", "palette.png") {
		t.Fatalf("LUT = %+v", lut)
	}
	if !lut.Linear || lut.WrapMode != WrapMirroredRepeat || !lut.Mipmap {
		t.Fatalf("LUT settings = %+v", lut)
	}

	noise := p.Textures[1]
	if noise.Name != "Noise" || noise.Linear || noise.Mipmap {
		t.Fatalf("Noise = %+v", noise)
	}
}

func TestParsePresetParameterAndMetadataFallthrough(t *testing.T) {
	text := `shader0 = a.slang
BRIGHTNESS = 1.25
CURVE = -0.4
author = some person
`
	p := parseText(t, text)

	if p.Parameters["BRIGHTNESS"] != 1.25 || p.Parameters["CURVE"] != -0.4 {
		t.Fatalf("parameters = %v", p.Parameters)
	}
	if p.Metadata["author"] != "some person" {
		t.Fatalf("metadata = %v", p.Metadata)
	}
	if _, ok := p.Parameters["author"]; ok {
		t.Fatal("string value classified as a numeric parameter")
	}
}

func TestParsePresetComments(t *testing.T) {
	text := `# full-line comment
shader0 = a.slang # trailing comment
BRIGHTNESS = 2.0 # tuned by hand
`
	p := parseText(t, text)

	if got := filepath.Base(p.Passes[0].ShaderPath); got != "a.slang" {
		t.Fatalf("shader path = %q, trailing comment not stripped", got)
	}
	if p.Parameters["BRIGHTNESS"] != 2.0 {
		t.Fatalf("parameters = %v", p.Parameters)
	}
}

func TestParsePresetSparseIndicesRejected(t *testing.T) {
	text := "shader0 = a.slang\nshader2 = c.slang\n"
	if _, err := ParsePreset(text, "p.slangp"); err == nil {
		t.Fatal("sparse pass indices accepted")
	} else if !strings.Contains(err.Error(), "missing pass 1") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParsePresetNoPassesRejected(t *testing.T) {
	if _, err := ParsePreset("BRIGHTNESS = 1.0\n", "p.slangp"); err == nil {
		t.Fatal("pass-free preset accepted")
	}
}

func TestParsePresetMissingShaderPathRejected(t *testing.T) {
	if _, err := ParsePreset("filter_linear0 = true\n", "p.slangp"); err == nil {
		t.Fatal("pass without a shader path accepted")
	}
}

func TestParsePresetDuplicateAliasRejected(t *testing.T) {
	text := `shader0 = a.slang
alias0 = Shared
shader1 = b.slang
alias1 = Shared
`
	if _, err := ParsePreset(text, "p.slangp"); err == nil {
		t.Fatal("duplicate alias accepted")
	} else if !strings.Contains(err.Error(), `alias "Shared"`) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParsePresetStemWithTrailingDigitIsNotAPassKey(t *testing.T) {
	// "box9" splits as stem "box" index 9, but "box" is not a pass key, so
	// the whole key must fall through to the parameter map untouched.
	text := "shader0 = a.slang\nbox9 = 3.0\n"
	p := parseText(t, text)

	if p.Parameters["box9"] != 3.0 {
		t.Fatalf("parameters = %v, want box9 kept as a parameter", p.Parameters)
	}
	if len(p.Passes) != 1 {
		t.Fatalf("parsed %d passes, want 1", len(p.Passes))
	}
}
