package shader

import "strings"

// glslTypeLayout pairs a byte size with a byte alignment.
type glslTypeLayout struct {
	size  uint32
	align uint32
}

// std140LayoutMap maps each GLSLType to its base size and alignment under
// std140 rules: scalars are 4-byte aligned, vec2 is 8-byte aligned, vec3 and
// vec4 are 16-byte aligned, and matrix columns are stored as 16-byte aligned
// vec4 slots regardless of column width.
//
// Reference: OpenGL 4.6 core specification §7.6.2.2 (std140 layout).
var std140LayoutMap = map[GLSLType]glslTypeLayout{
	TypeFloat: {4, 4},
	TypeInt:   {4, 4},
	TypeUint:  {4, 4},
	TypeBool:  {4, 4},

	TypeVec2:  {8, 8},
	TypeVec3:  {12, 16},
	TypeVec4:  {16, 16},
	TypeIVec2: {8, 8},
	TypeIVec3: {12, 16},
	TypeIVec4: {16, 16},
	TypeUVec2: {8, 8},
	TypeUVec3: {12, 16},
	TypeUVec4: {16, 16},

	TypeMat2: {32, 16},
	TypeMat3: {48, 16},
	TypeMat4: {64, 16},
}

// roundUpAlign rounds value up to the next multiple of alignment.
// Alignment must be a power of two.
//
// Parameters:
//   - alignment: the required alignment (must be a power of two)
//   - value: the value to align
//
// Returns:
//   - uint32: value rounded up to the next multiple of alignment
func roundUpAlign(alignment, value uint32) uint32 {
	if alignment == 0 {
		return value
	}
	return (value + alignment - 1) &^ (alignment - 1)
}

// ComputeBlockLayout assigns std140 offsets and sizes to the given members in
// declaration order and returns the placed members together with the block's
// total byte size (rounded up to 16). Array members use the std140 array rule:
// the element stride is the element size rounded up to 16 bytes.
//
// Parameters:
//   - members: the block members in declaration order, offsets/sizes unset
//
// Returns:
//   - []BlockMember: the members with Offset and Size populated
//   - uint32: the total block size in bytes
func ComputeBlockLayout(members []BlockMember) ([]BlockMember, uint32) {
	var offset uint32
	placed := make([]BlockMember, 0, len(members))

	for _, m := range members {
		layout, ok := std140LayoutMap[m.Type]
		if !ok {
			layout = glslTypeLayout{4, 4}
		}

		size := layout.size
		align := layout.align
		if m.ArrayLen > 0 {
			// std140 arrays: each element occupies a 16-byte aligned slot.
			stride := roundUpAlign(16, layout.size)
			size = stride * uint32(m.ArrayLen)
			align = 16
		}

		offset = roundUpAlign(align, offset)
		m.Offset = offset
		m.Size = size
		offset += size
		placed = append(placed, m)
	}

	return placed, roundUpAlign(16, offset)
}

// stripComments removes both single-line (//) and block (/* */) comments from
// shader source.
//
// Parameters:
//   - source: raw shader source string
//
// Returns:
//   - string: source with all comments removed
func stripComments(source string) string {
	return stripLineComments(stripBlockComments(source))
}

// stripLineComments removes single-line // comments so they do not interfere
// with declaration scanning.
func stripLineComments(source string) string {
	var sb strings.Builder
	lines := strings.SplitSeq(source, "\n")
	for line := range lines {
		if idx := strings.Index(line, "//"); idx >= 0 {
			line = line[:idx]
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// stripBlockComments removes block comments (/* ... */) from shader source.
func stripBlockComments(source string) string {
	var sb strings.Builder
	sb.Grow(len(source))
	depth := 0
	i := 0
	for i < len(source) {
		if i+1 < len(source) {
			if source[i] == '/' && source[i+1] == '*' && depth == 0 {
				depth++
				i += 2
				continue
			}
			if source[i] == '*' && source[i+1] == '/' && depth > 0 {
				depth--
				i += 2
				continue
			}
		}
		if depth == 0 {
			sb.WriteByte(source[i])
		}
		i++
	}
	return sb.String()
}
