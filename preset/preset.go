// Package preset models multi-pass shader preset configurations: an ordered
// list of passes, a texture map, and global parameter overrides, parsed from
// the line-oriented key=value preset grammar.
package preset

import "fmt"

// ScaleType selects how a pass's render target is sized.
type ScaleType int

const (
	// ScaleSource sizes the target relative to the previous pass's output
	// (the base viewport for the first pass), multiplied by the scale factor.
	ScaleSource ScaleType = iota

	// ScaleViewport sizes the target relative to the final viewport,
	// multiplied by the scale factor.
	ScaleViewport

	// ScaleAbsolute sizes the target to the literal pixel dimensions given by
	// the scale factor.
	ScaleAbsolute
)

// String returns the preset-grammar keyword for the scale type.
func (s ScaleType) String() string {
	switch s {
	case ScaleViewport:
		return "viewport"
	case ScaleAbsolute:
		return "absolute"
	default:
		return "source"
	}
}

// WrapMode selects texture coordinate addressing outside [0, 1].
type WrapMode int

const (
	// WrapClampToBorder clamps to a transparent black border. The default.
	WrapClampToBorder WrapMode = iota

	// WrapClampToEdge clamps to the edge texel.
	WrapClampToEdge

	// WrapRepeat tiles the texture.
	WrapRepeat

	// WrapMirroredRepeat tiles the texture with alternating mirroring.
	WrapMirroredRepeat
)

// Pass is one shader pass declaration from a preset: its shader path and the
// filter, wrap, scale, and framebuffer policy the scheduler applies to it.
type Pass struct {
	// Index is the pass's position in the chain, equal to its array position.
	Index int

	// ShaderPath is the pass's shader source path, resolved against the
	// preset's base path.
	ShaderPath string

	// FilterLinear selects linear (true) or nearest (false) input filtering.
	FilterLinear bool

	// WrapMode is the pass input's texture addressing mode.
	WrapMode WrapMode

	// ScaleTypeX and ScaleTypeY select how the pass's render target is sized
	// on each axis.
	ScaleTypeX, ScaleTypeY ScaleType

	// ScaleX and ScaleY are the per-axis scale factors. For ScaleAbsolute
	// they are literal pixel dimensions.
	ScaleX, ScaleY float64

	// Alias names this pass's output so any later pass can bind it as an
	// input. Empty if the pass is unaliased.
	Alias string

	// FloatFramebuffer requests a floating-point render target format.
	FloatFramebuffer bool

	// SRGBFramebuffer requests an sRGB render target format.
	SRGBFramebuffer bool

	// MipmapInput requests mipmap generation on the pass's input.
	MipmapInput bool

	// FrameCountMod wraps the FrameCount uniform at this modulus. Zero means
	// no wrapping.
	FrameCountMod int
}

// Texture is one external texture referenced by a preset.
type Texture struct {
	// Name is the sampler uniform name the texture binds to.
	Name string

	// Path is the image path, resolved against the preset's base path.
	Path string

	// Linear selects linear filtering for the texture.
	Linear bool

	// WrapMode is the texture's addressing mode.
	WrapMode WrapMode

	// Mipmap requests mipmap generation for the texture.
	Mipmap bool
}

// Preset is one parsed multi-pass shader configuration. Passes are ordered and
// contiguously indexed from 0; exactly the last pass renders to the externally
// supplied output rather than an intermediate render target.
type Preset struct {
	// Path is the preset file path the configuration was parsed from.
	Path string

	// BasePath is the directory shader and texture paths resolve against.
	BasePath string

	// Passes is the ordered pass chain.
	Passes []Pass

	// Textures are the external textures by declaration order.
	Textures []Texture

	// Parameters holds numeric global parameter overrides keyed by name.
	Parameters map[string]float64

	// Metadata holds opaque string overrides that parsed as neither a known
	// key nor a numeric parameter.
	Metadata map[string]string
}

// Validate checks the preset's structural invariants: at least one pass,
// contiguous indices matching array order, and alias uniqueness.
//
// Returns:
//   - error: a validation error describing the first violated invariant, or nil
func (p *Preset) Validate() error {
	if len(p.Passes) == 0 {
		return fmt.Errorf("preset %q declares no passes", p.Path)
	}
	aliases := make(map[string]int)
	for i, pass := range p.Passes {
		if pass.Index != i {
			return fmt.Errorf("preset %q pass %d carries index %d; passes must be contiguous from 0", p.Path, i, pass.Index)
		}
		if pass.ShaderPath == "" {
			return fmt.Errorf("preset %q pass %d has no shader path", p.Path, i)
		}
		if pass.Alias != "" {
			if prev, dup := aliases[pass.Alias]; dup {
				return fmt.Errorf("preset %q alias %q declared by both pass %d and pass %d", p.Path, pass.Alias, prev, i)
			}
			aliases[pass.Alias] = i
		}
	}
	return nil
}
