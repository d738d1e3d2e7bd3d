package scheduler

import (
	"image"

	"github.com/retrofx/slangport/preset"
	"github.com/retrofx/slangport/shader"
)

// ProgramID identifies one compiled GPU program on a backend. Zero is invalid.
type ProgramID uint32

// TextureID identifies one texture or render target on a backend.
type TextureID uint32

// OutputTarget is the TextureID denoting the externally supplied final output.
const OutputTarget TextureID = 0

// SamplerOptions selects filtering and addressing for one texture bind.
type SamplerOptions struct {
	// Linear selects linear (true) or nearest (false) filtering.
	Linear bool

	// WrapMode is the addressing mode outside [0, 1].
	WrapMode preset.WrapMode

	// Mipmap requests mipmapped sampling.
	Mipmap bool
}

// TargetOptions selects the storage format of one render target.
type TargetOptions struct {
	// Float requests a floating-point color format.
	Float bool

	// SRGB requests an sRGB color format.
	SRGB bool
}

// Backend is the GPU abstraction the scheduler drives. One implementation
// exists per GPU API; tests substitute a recording fake.
type Backend interface {
	// CreateProgram compiles and links one pass's stages into a program.
	// The uniform list fixes the program's std140 uniform block layout.
	//
	// Parameters:
	//   - vertex: the final vertex stage text
	//   - fragment: the final fragment stage text
	//   - uniforms: the flat uniforms the program declares, in block order
	//   - samplers: the sampler uniform names in binding order
	//
	// Returns:
	//   - ProgramID: the program handle
	//   - error: a compile or link failure
	CreateProgram(vertex, fragment string, uniforms []shader.UniformDecl, samplers []string) (ProgramID, error)

	// CreateTarget allocates one render target.
	//
	// Parameters:
	//   - width, height: the target dimensions in pixels
	//   - opts: the storage format selection
	//
	// Returns:
	//   - TextureID: the target handle
	//   - error: an allocation failure
	CreateTarget(width, height int, opts TargetOptions) (TextureID, error)

	// ResizeTarget reallocates a target's storage at new dimensions.
	ResizeTarget(id TextureID, width, height int) error

	// UploadTexture creates an immutable texture from a decoded image.
	UploadTexture(img image.Image) (TextureID, error)

	// TextureSize reports a texture or target's current dimensions.
	TextureSize(id TextureID) (int, int)

	// SetUniform stages one uniform value for the program's next draw.
	SetUniform(program ProgramID, name string, value shader.UniformValue)

	// BindTexture stages one sampler binding for the program's next draw.
	BindTexture(program ProgramID, samplerName string, texture TextureID, opts SamplerOptions)

	// Draw renders one fullscreen pass with the program's staged state into
	// the given target, or into the external output when target is OutputTarget.
	//
	// Parameters:
	//   - program: the program to draw with
	//   - target: the destination target, or OutputTarget
	//   - width, height: the destination dimensions
	//
	// Returns:
	//   - error: an encoding or submission failure
	Draw(program ProgramID, target TextureID, width, height int) error

	// CopyTexture copies src's full contents into dst. Both must share dimensions.
	CopyTexture(src, dst TextureID) error

	// ReleaseTarget frees one target's GPU storage.
	ReleaseTarget(id TextureID)
}
