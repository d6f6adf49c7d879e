// Package layout plans how tensors are packed into 2D textures.
//
// A TextureLayout describes the texture a tensor's flat, row-major element
// sequence is packed into: its width and height in texels, the number of
// channels per texel and the padded row pitch. Layouts are pure functions of
// (shape, dtype, packing) and are cached by the Planner.
package layout

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"

	"github.com/born-ml/texkernel/internal/indexmap"
	"github.com/born-ml/texkernel/internal/tensor"
)

// ErrUnsupportedType reports an element type that has no texture encoding.
var ErrUnsupportedType = errors.New("unsupported element type")

// Packing is the channel packing policy of a texture.
type Packing int

const (
	// Unpacked stores one element per texel (r32float).
	Unpacked Packing = iota
	// PackedRGBA stores four consecutive elements per texel (rgba32float).
	PackedRGBA
)

// Channels returns the number of elements stored per texel.
func (p Packing) Channels() int {
	if p == PackedRGBA {
		return 4
	}
	return 1
}

// Format returns the texel format name.
func (p Packing) Format() string {
	if p == PackedRGBA {
		return "rgba32float"
	}
	return "r32float"
}

// String returns the packing name.
func (p Packing) String() string {
	switch p {
	case Unpacked:
		return "unpacked"
	case PackedRGBA:
		return "packed-rgba"
	default:
		return "unknown"
	}
}

const (
	// DefaultMaxTextureSize is the maximum texture width or height.
	DefaultMaxTextureSize = 8192

	// rowAlignment is the byte alignment of a texture row, as required for
	// texture-to-buffer copies by WebGPU.
	rowAlignment = 256

	// texelComponentSize is the byte size of one stored channel (f32).
	texelComponentSize = 4
)

// Key identifies a layout: two tensors with equal keys share a layout.
type Key struct {
	Shape   string
	DType   tensor.DataType
	Packing Packing
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return fmt.Sprintf("[%s]%s/%s", k.Shape, k.DType, k.Packing)
}

// TextureLayout describes how a tensor is packed into a 2D texture.
// It is immutable and may be shared.
type TextureLayout struct {
	Key      Key
	Shape    tensor.Shape
	Strides  []int
	DType    tensor.DataType
	Packing  Packing
	Width    int // texels per row
	Height   int // rows
	Channels int // elements per texel
	Pitch    int // texels per row including alignment padding
}

// NumElements returns the number of logical elements.
func (l *TextureLayout) NumElements() int {
	return l.Shape.NumElements()
}

// StorageLen returns the number of f32 values backing the texture, including
// row padding.
func (l *TextureLayout) StorageLen() int {
	return l.Pitch * l.Height * l.Channels
}

// ByteSize returns the size in bytes of the texture storage.
func (l *TextureLayout) ByteSize() uint64 {
	//nolint:gosec // G115: StorageLen is non-negative
	return uint64(l.StorageLen() * texelComponentSize)
}

// Coords returns the texel coordinates and channel of a flat element offset.
func (l *TextureLayout) Coords(offset int) (x, y, channel int) {
	texel := offset / l.Channels
	return texel % l.Width, texel / l.Width, offset % l.Channels
}

// Offset is the inverse of Coords.
func (l *TextureLayout) Offset(x, y, channel int) int {
	return (y*l.Width+x)*l.Channels + channel
}

// StorageIndex returns the index in texture storage of texel (x, y) channel c.
func (l *TextureLayout) StorageIndex(x, y, channel int) int {
	return (y*l.Pitch+x)*l.Channels + channel
}

// Pack lays out row-major values into texture storage.
func (l *TextureLayout) Pack(values []float32) ([]float32, error) {
	n := l.NumElements()
	if len(values) != n {
		return nil, errors.Errorf("layout %s: got %d values, want %d", l.Key, len(values), n)
	}
	storage := make([]float32, l.StorageLen())
	for offset, v := range values {
		x, y, c := l.Coords(offset)
		storage[l.StorageIndex(x, y, c)] = v
	}
	return storage, nil
}

// Unpack reads row-major values back from texture storage.
func (l *TextureLayout) Unpack(storage []float32) ([]float32, error) {
	if len(storage) < l.StorageLen() {
		return nil, errors.Errorf("layout %s: storage has %d values, want %d", l.Key, len(storage), l.StorageLen())
	}
	values := make([]float32, l.NumElements())
	for offset := range values {
		x, y, c := l.Coords(offset)
		values[offset] = storage[l.StorageIndex(x, y, c)]
	}
	return values, nil
}

// IndicesToOffset returns the flat offset of a logical index tuple.
func (l *TextureLayout) IndicesToOffset(indices []int) int {
	offset := 0
	for i, s := range l.Strides {
		offset += indices[i] * s
	}
	return offset
}

// OffsetToIndices writes into dst the logical index tuple of a flat offset.
func (l *TextureLayout) OffsetToIndices(offset int, dst []int) {
	for i, s := range l.Strides {
		dst[i] = offset / s
		offset %= s
	}
}

// EmitSampler returns the WGSL function _<name> reading one element of this
// texture by logical index, from the storage binding tex_<name>.
func (l *TextureLayout) EmitSampler(name string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "fn _%s(indices: array<i32, %d>) -> f32 {\n", name, indexmap.ArrayLen(len(l.Shape)))
	fmt.Fprintf(&sb, "    let offset = %s;\n", l.offsetExpr())
	l.emitStorageIndex(&sb)
	fmt.Fprintf(&sb, "    return tex_%s[index];\n}\n", name)
	return sb.String()
}

// EmitOffsetToIndices returns the WGSL function fnName turning a flat offset
// into the logical index tuple of this layout.
func (l *TextureLayout) EmitOffsetToIndices(fnName string) string {
	var sb strings.Builder
	rank := indexmap.ArrayLen(len(l.Shape))
	fmt.Fprintf(&sb, "fn %s(offset: i32) -> array<i32, %d> {\n", fnName, rank)
	fmt.Fprintf(&sb, "    var indices: array<i32, %d>;\n", rank)
	if len(l.Strides) > 0 {
		sb.WriteString("    var rem = offset;\n")
		for i, s := range l.Strides {
			fmt.Fprintf(&sb, "    indices[%d] = rem / %d;\n", i, s)
			if i < len(l.Strides)-1 {
				fmt.Fprintf(&sb, "    rem = rem %% %d;\n", s)
			}
		}
	}
	sb.WriteString("    return indices;\n}\n")
	return sb.String()
}

// EmitStore returns the WGSL function store_<name>(offset, value) writing one
// element into the storage binding tex_<name>.
func (l *TextureLayout) EmitStore(name string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "fn store_%s(offset: i32, value: f32) {\n", name)
	l.emitStorageIndex(&sb)
	fmt.Fprintf(&sb, "    tex_%s[index] = value;\n}\n", name)
	return sb.String()
}

func (l *TextureLayout) offsetExpr() string {
	if len(l.Strides) == 0 {
		return "0"
	}
	terms := make([]string, len(l.Strides))
	for i, s := range l.Strides {
		if s == 1 {
			terms[i] = fmt.Sprintf("indices[%d]", i)
		} else {
			terms[i] = fmt.Sprintf("indices[%d] * %d", i, s)
		}
	}
	return strings.Join(terms, " + ")
}

func (l *TextureLayout) emitStorageIndex(sb *strings.Builder) {
	if l.Channels == 1 {
		fmt.Fprintf(sb, "    let x = offset %% %d;\n", l.Width)
		fmt.Fprintf(sb, "    let y = offset / %d;\n", l.Width)
		fmt.Fprintf(sb, "    let index = y * %d + x;\n", l.Pitch)
		return
	}
	fmt.Fprintf(sb, "    let texel = offset / %d;\n", l.Channels)
	fmt.Fprintf(sb, "    let x = texel %% %d;\n", l.Width)
	fmt.Fprintf(sb, "    let y = texel / %d;\n", l.Width)
	fmt.Fprintf(sb, "    let index = (y * %d + x) * %d + offset %% %d;\n", l.Pitch, l.Channels, l.Channels)
}

// newTextureLayout computes the layout for a key. It is deterministic.
func newTextureLayout(shape tensor.Shape, dtype tensor.DataType, packing Packing, maxSize int) (*TextureLayout, error) {
	if !supported(dtype) {
		return nil, errors.Wrapf(ErrUnsupportedType, "no texture encoding for %s", dtype)
	}
	if err := shape.Validate(); err != nil {
		return nil, errors.Wrap(err, "layout")
	}

	channels := packing.Channels()
	texels := (shape.NumElements() + channels - 1) / channels
	width, height, err := textureSize(shape, texels, channels, maxSize)
	if err != nil {
		return nil, err
	}

	texelBytes := channels * texelComponentSize
	pitchBytes := (width*texelBytes + rowAlignment - 1) / rowAlignment * rowAlignment

	return &TextureLayout{
		Key:      Key{Shape: shape.Key(), DType: dtype, Packing: packing},
		Shape:    shape.Clone(),
		Strides:  shape.ComputeStrides(),
		DType:    dtype,
		Packing:  packing,
		Width:    width,
		Height:   height,
		Channels: channels,
		Pitch:    pitchBytes / texelBytes,
	}, nil
}

// textureSize picks the texture width and height. Unpacked tensors prefer the
// logical split (trailing dims along the width, leading dims along the
// height); anything else falls back to a near-square texture.
func textureSize(shape tensor.Shape, texels, channels, maxSize int) (width, height int, err error) {
	if texels == 0 {
		return 1, 1, nil
	}
	if channels == 1 {
		for split := len(shape) - 1; split >= 0; split-- {
			w := tensor.Shape(shape[split:]).NumElements()
			h := tensor.Shape(shape[:split]).NumElements()
			if w <= maxSize && h <= maxSize {
				return w, h, nil
			}
		}
	}

	width = int(math.Ceil(math.Sqrt(float64(texels))))
	if width > maxSize {
		width = maxSize
	}
	height = (texels + width - 1) / width
	if height > maxSize {
		return 0, 0, errors.Errorf("layout: %d texels do not fit a %dx%d texture", texels, maxSize, maxSize)
	}
	return width, height, nil
}

func supported(dtype tensor.DataType) bool {
	switch dtype {
	case tensor.Float32, tensor.Float16, tensor.Float64, tensor.Int32:
		return true
	default:
		return false
	}
}
