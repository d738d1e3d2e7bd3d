package shader

import (
	"encoding/binary"
	"math"
)

// UniformValueKind is the closed tag of the UniformValue variant.
type UniformValueKind int

const (
	// UniformScalar is a single float value.
	UniformScalar UniformValueKind = iota

	// UniformVec2 is a 2-component float vector.
	UniformVec2

	// UniformVec3 is a 3-component float vector.
	UniformVec3

	// UniformVec4 is a 4-component float vector.
	UniformVec4

	// UniformMat4 is a 4x4 column-major float matrix.
	UniformMat4
)

// UniformValue is the closed tagged variant for host-side uniform data. Every
// switch over Kind at the std140 pack boundary handles all five cases.
type UniformValue struct {
	// Kind selects which payload field is meaningful.
	Kind UniformValueKind

	// Scalar is the payload for UniformScalar.
	Scalar float32

	// Vec holds up to four components for the vector kinds.
	Vec [4]float32

	// Mat holds sixteen column-major components for UniformMat4.
	Mat [16]float32
}

// ScalarValue creates a scalar uniform value.
func ScalarValue(v float32) UniformValue {
	return UniformValue{Kind: UniformScalar, Scalar: v}
}

// Vec2Value creates a 2-component vector uniform value.
func Vec2Value(x, y float32) UniformValue {
	return UniformValue{Kind: UniformVec2, Vec: [4]float32{x, y, 0, 0}}
}

// Vec3Value creates a 3-component vector uniform value.
func Vec3Value(x, y, z float32) UniformValue {
	return UniformValue{Kind: UniformVec3, Vec: [4]float32{x, y, z, 0}}
}

// Vec4Value creates a 4-component vector uniform value.
func Vec4Value(x, y, z, w float32) UniformValue {
	return UniformValue{Kind: UniformVec4, Vec: [4]float32{x, y, z, w}}
}

// Mat4Identity creates a 4x4 identity matrix uniform value.
func Mat4Identity() UniformValue {
	return UniformValue{Kind: UniformMat4, Mat: [16]float32{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}}
}

// ComponentCount returns the number of float components the value carries.
func (v UniformValue) ComponentCount() int {
	switch v.Kind {
	case UniformScalar:
		return 1
	case UniformVec2:
		return 2
	case UniformVec3:
		return 3
	case UniformVec4:
		return 4
	case UniformMat4:
		return 16
	default:
		return 0
	}
}

// Components returns the value's float components in order. Scalars yield one
// element; matrices yield sixteen column-major elements.
func (v UniformValue) Components() []float32 {
	switch v.Kind {
	case UniformScalar:
		return []float32{v.Scalar}
	case UniformVec2:
		return v.Vec[:2]
	case UniformVec3:
		return v.Vec[:3]
	case UniformVec4:
		return v.Vec[:4]
	case UniformMat4:
		return v.Mat[:]
	default:
		return nil
	}
}

// PackSTD140 writes the value into dst at the member's std140 offset. The
// destination must be at least member.Offset+member.Size bytes. Values with
// fewer components than the member's slot leave the remainder untouched;
// values with more are truncated to the slot. This is the single exhaustive
// pack boundary for the uniform value variant.
//
// Parameters:
//   - dst: the block's backing byte buffer
//   - member: the std140-placed member to write
func (v UniformValue) PackSTD140(dst []byte, member BlockMember) {
	if int(member.Offset)+int(member.Size) > len(dst) {
		return
	}
	components := v.Components()
	limit := int(member.Size) / 4
	if len(components) < limit {
		limit = len(components)
	}
	for i := 0; i < limit; i++ {
		binary.LittleEndian.PutUint32(dst[int(member.Offset)+i*4:], math.Float32bits(components[i]))
	}
}
