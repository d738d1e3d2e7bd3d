package preset

import (
	"fmt"
	"log"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// passKeyRegex captures the key stem and the numeric pass suffix of per-pass
// keys like shader0, filter_linear2, scale_type_x1.
var passKeyRegex = regexp.MustCompile(`^([a-z_]+?)(\d+)$`)

// ParsePreset parses preset config text into a Preset. Passes may appear
// sparse-indexed in the text; the result is validated contiguous. Lines that
// fail to parse as a known key become global parameter overrides when numeric
// and opaque string overrides otherwise.
//
// Parameters:
//   - text: the preset config text
//   - path: the preset file path, used for error messages and as the base for
//     resolving shader and texture paths
//
// Returns:
//   - *Preset: the parsed and validated preset
//   - error: a validation error if no passes are declared or an invariant fails
func ParsePreset(text, path string) (*Preset, error) {
	p := &parser{
		preset: &Preset{
			Path:       path,
			BasePath:   filepath.Dir(path),
			Parameters: make(map[string]float64),
			Metadata:   make(map[string]string),
		},
		passes:   make(map[int]*Pass),
		textures: make(map[string]*Texture),
	}

	for _, line := range strings.Split(text, "\n") {
		p.parseLine(line)
	}

	if err := p.finish(); err != nil {
		return nil, err
	}
	return p.preset, nil
}

// parser accumulates sparse parse state before contiguity validation.
type parser struct {
	preset *Preset

	passes map[int]*Pass

	// textureMode is switched on by a textures= line; afterwards bare
	// name=value lines are texture paths and settings rather than parameters.
	textureMode  bool
	textureOrder []string
	textures     map[string]*Texture
}

func (p *parser) pass(index int) *Pass {
	if existing, ok := p.passes[index]; ok {
		return existing
	}
	pass := &Pass{Index: index, ScaleX: 1, ScaleY: 1}
	p.passes[index] = pass
	return pass
}

func (p *parser) parseLine(raw string) {
	line := stripLineComment(raw)
	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return
	}
	key = strings.TrimSpace(key)
	value = strings.Trim(strings.TrimSpace(value), `"`)
	if key == "" {
		return
	}

	if key == "shaders" {
		// The declared count is advisory; contiguity validation is what
		// actually enforces the pass chain's shape.
		return
	}

	if key == "textures" {
		p.textureMode = true
		for _, name := range strings.Split(value, ";") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			p.textureOrder = append(p.textureOrder, name)
			p.textures[name] = &Texture{Name: name}
		}
		return
	}

	if m := passKeyRegex.FindStringSubmatch(key); m != nil {
		index, err := strconv.Atoi(m[2])
		if err == nil && p.parsePassKey(m[1], index, value) {
			return
		}
	}

	if p.textureMode && p.parseTextureKey(key, value) {
		return
	}

	if f, err := strconv.ParseFloat(value, 64); err == nil {
		p.preset.Parameters[key] = f
		return
	}
	p.preset.Metadata[key] = value
}

// parsePassKey applies one per-pass key. Returns false if the stem is not a
// recognized pass key, letting the caller fall through to parameter handling.
func (p *parser) parsePassKey(stem string, index int, value string) bool {
	switch stem {
	case "shader":
		p.pass(index).ShaderPath = filepath.Join(p.preset.BasePath, value)
	case "filter_linear":
		p.pass(index).FilterLinear = parseBool(value)
	case "wrap_mode":
		p.pass(index).WrapMode = parseWrapMode(value)
	case "alias":
		p.pass(index).Alias = value
	case "scale_type":
		t := parseScaleType(value)
		p.pass(index).ScaleTypeX = t
		p.pass(index).ScaleTypeY = t
	case "scale_type_x":
		p.pass(index).ScaleTypeX = parseScaleType(value)
	case "scale_type_y":
		p.pass(index).ScaleTypeY = parseScaleType(value)
	case "scale":
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			p.pass(index).ScaleX = f
			p.pass(index).ScaleY = f
		}
	case "scale_x":
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			p.pass(index).ScaleX = f
		}
	case "scale_y":
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			p.pass(index).ScaleY = f
		}
	case "float_framebuffer":
		p.pass(index).FloatFramebuffer = parseBool(value)
	case "srgb_framebuffer":
		p.pass(index).SRGBFramebuffer = parseBool(value)
	case "mipmap_input":
		p.pass(index).MipmapInput = parseBool(value)
	case "frame_count_mod":
		if n, err := strconv.Atoi(value); err == nil {
			p.pass(index).FrameCountMod = n
		}
	default:
		return false
	}
	return true
}

// parseTextureKey applies one texture-section key: either a declared texture's
// path or a name_<setting> line. Returns false for keys naming no declared texture.
func (p *parser) parseTextureKey(key, value string) bool {
	if tex, ok := p.textures[key]; ok {
		tex.Path = filepath.Join(p.preset.BasePath, value)
		return true
	}
	for _, suffix := range []string{"_linear", "_wrap_mode", "_mipmap"} {
		name, found := strings.CutSuffix(key, suffix)
		if !found {
			continue
		}
		tex, ok := p.textures[name]
		if !ok {
			return false
		}
		switch suffix {
		case "_linear":
			tex.Linear = parseBool(value)
		case "_wrap_mode":
			tex.WrapMode = parseWrapMode(value)
		case "_mipmap":
			tex.Mipmap = parseBool(value)
		}
		return true
	}
	return false
}

// finish validates pass contiguity and assembles the final Preset.
func (p *parser) finish() error {
	if len(p.passes) == 0 {
		return fmt.Errorf("preset %q declares no passes", p.preset.Path)
	}

	indices := make([]int, 0, len(p.passes))
	for i := range p.passes {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	for want, got := range indices {
		if want != got {
			return fmt.Errorf("preset %q pass indices are not contiguous: missing pass %d", p.preset.Path, want)
		}
	}

	p.preset.Passes = make([]Pass, len(indices))
	for _, i := range indices {
		p.preset.Passes[i] = *p.passes[i]
	}

	for _, name := range p.textureOrder {
		p.preset.Textures = append(p.preset.Textures, *p.textures[name])
	}

	return p.preset.Validate()
}

// stripLineComment removes a #-prefixed comment from a preset line. A #
// counts as a comment start at the beginning of the line or after whitespace,
// so paths containing # survive.
func stripLineComment(line string) string {
	if idx := strings.Index(strings.TrimSpace(line), "#"); idx == 0 {
		return ""
	}
	for i := 1; i < len(line); i++ {
		if line[i] == '#' && (line[i-1] == ' ' || line[i-1] == '\t') {
			return line[:i]
		}
	}
	return line
}

func parseBool(value string) bool {
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}

func parseScaleType(value string) ScaleType {
	switch strings.ToLower(value) {
	case "viewport":
		return ScaleViewport
	case "absolute":
		return ScaleAbsolute
	case "source":
		return ScaleSource
	default:
		log.Printf("[PresetParser] unknown scale type %q, defaulting to source", value)
		return ScaleSource
	}
}

func parseWrapMode(value string) WrapMode {
	switch strings.ToLower(value) {
	case "clamp_to_edge":
		return WrapClampToEdge
	case "repeat":
		return WrapRepeat
	case "mirrored_repeat":
		return WrapMirroredRepeat
	case "clamp_to_border":
		return WrapClampToBorder
	default:
		log.Printf("[PresetParser] unknown wrap mode %q, defaulting to clamp_to_border", value)
		return WrapClampToBorder
	}
}
