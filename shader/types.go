package shader

import "strings"

// GLSLType is a closed tag for the scalar, vector, and matrix types that can
// appear as members of uniform blocks and push-constant blocks. Every switch
// over GLSLType at the std140 pack/unpack boundary must be exhaustive.
type GLSLType int

const (
	// TypeFloat is a 32-bit float scalar.
	TypeFloat GLSLType = iota

	// TypeInt is a 32-bit signed integer scalar.
	TypeInt

	// TypeUint is a 32-bit unsigned integer scalar.
	TypeUint

	// TypeBool is a boolean scalar (4 bytes under std140).
	TypeBool

	// TypeVec2 is a 2-component float vector.
	TypeVec2

	// TypeVec3 is a 3-component float vector.
	TypeVec3

	// TypeVec4 is a 4-component float vector.
	TypeVec4

	// TypeIVec2 is a 2-component signed integer vector.
	TypeIVec2

	// TypeIVec3 is a 3-component signed integer vector.
	TypeIVec3

	// TypeIVec4 is a 4-component signed integer vector.
	TypeIVec4

	// TypeUVec2 is a 2-component unsigned integer vector.
	TypeUVec2

	// TypeUVec3 is a 3-component unsigned integer vector.
	TypeUVec3

	// TypeUVec4 is a 4-component unsigned integer vector.
	TypeUVec4

	// TypeMat2 is a 2x2 float matrix (2 columns, each 16-byte aligned under std140).
	TypeMat2

	// TypeMat3 is a 3x3 float matrix (3 columns, each 16-byte aligned under std140).
	TypeMat3

	// TypeMat4 is a 4x4 float matrix (4 columns, each 16-byte aligned under std140).
	TypeMat4
)

// glslTypeNames maps source-dialect type keywords to their GLSLType tags.
var glslTypeNames = map[string]GLSLType{
	"float": TypeFloat,
	"int":   TypeInt,
	"uint":  TypeUint,
	"bool":  TypeBool,
	"vec2":  TypeVec2,
	"vec3":  TypeVec3,
	"vec4":  TypeVec4,
	"ivec2": TypeIVec2,
	"ivec3": TypeIVec3,
	"ivec4": TypeIVec4,
	"uvec2": TypeUVec2,
	"uvec3": TypeUVec3,
	"uvec4": TypeUVec4,
	"mat2":  TypeMat2,
	"mat3":  TypeMat3,
	"mat4":  TypeMat4,
}

// glslTypeStrings is the inverse of glslTypeNames, used when re-emitting declarations.
var glslTypeStrings = map[GLSLType]string{
	TypeFloat: "float",
	TypeInt:   "int",
	TypeUint:  "uint",
	TypeBool:  "bool",
	TypeVec2:  "vec2",
	TypeVec3:  "vec3",
	TypeVec4:  "vec4",
	TypeIVec2: "ivec2",
	TypeIVec3: "ivec3",
	TypeIVec4: "ivec4",
	TypeUVec2: "uvec2",
	TypeUVec3: "uvec3",
	TypeUVec4: "uvec4",
	TypeMat2:  "mat2",
	TypeMat3:  "mat3",
	TypeMat4:  "mat4",
}

// ParseGLSLType resolves a source-dialect type keyword to its GLSLType tag.
//
// Parameters:
//   - name: the type keyword, e.g. "float", "vec4", "mat4"
//
// Returns:
//   - GLSLType: the resolved tag
//   - bool: false if the keyword is not a recognized scalar/vector/matrix type
func ParseGLSLType(name string) (GLSLType, bool) {
	t, ok := glslTypeNames[name]
	return t, ok
}

// String returns the source-dialect keyword for the type tag.
func (t GLSLType) String() string {
	if s, ok := glslTypeStrings[t]; ok {
		return s
	}
	return "float"
}

// FloatVariant returns the floating-point type a member of this type is coerced
// to when declared as a flat uniform. Integer and unsigned scalars/vectors map
// to their float counterparts so the weaker target dialect never performs
// integer/float comparisons against uniform data. Float types map to themselves.
func (t GLSLType) FloatVariant() GLSLType {
	switch t {
	case TypeInt, TypeUint, TypeBool:
		return TypeFloat
	case TypeIVec2, TypeUVec2:
		return TypeVec2
	case TypeIVec3, TypeUVec3:
		return TypeVec3
	case TypeIVec4, TypeUVec4:
		return TypeVec4
	case TypeFloat, TypeVec2, TypeVec3, TypeVec4, TypeMat2, TypeMat3, TypeMat4:
		return t
	default:
		return t
	}
}

// BindingKind identifies the descriptor category of a parsed binding.
type BindingKind int

const (
	// BindingSampler is a combined image/sampler binding (sampler2D in the source dialect).
	BindingSampler BindingKind = iota

	// BindingUBO is a uniform buffer object block binding.
	BindingUBO

	// BindingPushConstant is a push-constant block. Push constants carry no
	// set/binding indices and are always converted to flat uniforms.
	BindingPushConstant
)

// BlockMember describes one member of a UBO or push-constant block with its
// std140 placement. Offsets and sizes are computed by ComputeBlockLayout.
type BlockMember struct {
	// Name is the member's identifier within the block.
	Name string

	// Type is the member's GLSL type tag.
	Type GLSLType

	// Offset is the member's byte offset within the block under std140 rules.
	Offset uint32

	// Size is the member's byte size under std140 rules, including array padding.
	Size uint32

	// ArrayLen is the declared array length, or 0 for non-array members.
	ArrayLen int
}

// Binding describes one descriptor-qualified resource extracted from shader
// source: a sampler, a uniform buffer block, or a push-constant block.
type Binding struct {
	// Kind is the descriptor category.
	Kind BindingKind

	// Set is the descriptor set index. Always 0 for push constants.
	Set int

	// Binding is the binding index within the set. Always 0 for push constants.
	Binding int

	// Name is the sampler uniform name for BindingSampler, or the block type
	// name (e.g. "UBO", "Push") for aggregate kinds.
	Name string

	// InstanceName is the block's instance identifier (e.g. "global", "params").
	// Empty for samplers and for anonymous blocks.
	InstanceName string

	// Members holds the block's member layout for aggregate kinds, in
	// declaration order with std140 offsets applied. Nil for samplers.
	Members []BlockMember

	// Size is the total std140 byte size of the block, rounded up to the
	// block's alignment. Zero for samplers.
	Size uint32

	// SourceRange is the [start, end) byte range of the binding's textual
	// definition within the scanned source, or [0, 0) if it was not located.
	SourceRange [2]int
}

// BlockLayout records the std140 member layout of a preserved uniform block so
// the host side can pack uniform values into a backing buffer at draw time.
type BlockLayout struct {
	// Name is the block type name.
	Name string

	// InstanceName is the block instance identifier used in member accesses.
	InstanceName string

	// Binding is the binding index the block was declared with.
	Binding int

	// Members holds the std140 member placements.
	Members []BlockMember

	// Size is the total std140 byte size of the block.
	Size uint32
}

// StageKind identifies which pipeline stage a split sub-source belongs to.
type StageKind int

const (
	// StageVertex is the vertex stage.
	StageVertex StageKind = iota

	// StageFragment is the fragment stage.
	StageFragment
)

// String returns the pragma keyword for the stage kind.
func (k StageKind) String() string {
	if k == StageVertex {
		return "vertex"
	}
	return "fragment"
}

// Stage is one stage sub-source produced by SplitStages.
type Stage struct {
	// Kind identifies the pipeline stage.
	Kind StageKind

	// Source is the accumulated stage body with stage pragmas removed.
	Source string
}

// Parameter is a user-tunable shader parameter declared via
// `#pragma parameter NAME "Label" default min max step`. Current values live
// in a registry keyed by Name; compiled passes record only the names they use.
type Parameter struct {
	// Name is the uniform identifier the parameter materializes as.
	Name string

	// Label is the human-readable display label.
	Label string

	// Default is the initial value.
	Default float64

	// Min and Max bound the adjustable range.
	Min, Max float64

	// Step is the UI adjustment increment. Zero means unspecified.
	Step float64

	// Category is an optional grouping label for parameter UIs.
	Category string
}

// reservedUniformNames are builtin uniforms supplied by the scheduler every
// frame. Globals with these names are never extracted as user globals, and the
// scheduler refuses to treat them as shader parameters.
var reservedUniformNames = map[string]bool{
	"MVP":               true,
	"OutputSize":        true,
	"OriginalSize":      true,
	"SourceSize":        true,
	"FinalViewportSize": true,
	"FrameCount":        true,
	"FrameDirection":    true,
	"Original":          true,
	"Source":            true,
}

// IsReservedUniform reports whether name is a builtin uniform supplied by the
// scheduler (including the OriginalHistory#, PassOutput#, and PassFeedback#
// families).
//
// Parameters:
//   - name: the uniform name to test
//
// Returns:
//   - bool: true if the name is reserved for scheduler-supplied data
func IsReservedUniform(name string) bool {
	if reservedUniformNames[name] {
		return true
	}
	for _, prefix := range []string{"OriginalHistory", "PassOutput", "PassFeedback"} {
		if rest, ok := strings.CutPrefix(name, prefix); ok && isDigits(rest) {
			return true
		}
	}
	return false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
