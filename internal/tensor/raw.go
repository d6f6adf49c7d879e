package tensor

import (
	"fmt"
	"unsafe"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// RawTensor is the low-level tensor representation: a shape, an element type
// and a host buffer. RawTensors are treated as immutable once constructed, so
// the ID identifies the data handle for texture caching.
type RawTensor struct {
	id     uuid.UUID
	data   []byte
	shape  Shape
	stride []int
	dtype  DataType
}

// NewRaw creates a new zero-filled RawTensor with the given shape and type.
func NewRaw(shape Shape, dtype DataType) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid shape")
	}
	return &RawTensor{
		id:     uuid.New(),
		data:   make([]byte, shape.NumElements()*dtype.Size()),
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  dtype,
	}, nil
}

// FromSlice creates a RawTensor holding a copy of data in row-major order.
func FromSlice[T DType](data []T, shape Shape) (*RawTensor, error) {
	var zero T
	dtype := inferDataType(zero)
	if len(data) != shape.NumElements() {
		return nil, errors.Errorf("data length %d does not match shape %v (%d elements)",
			len(data), shape, shape.NumElements())
	}
	r, err := NewRaw(shape, dtype)
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		//nolint:gosec // unsafe.Slice for byte view of a typed slice, length derived from len(data)
		src := unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), len(data)*dtype.Size())
		copy(r.data, src)
	}
	return r, nil
}

// FromFloat32s creates a RawTensor of the given type from float32 values,
// narrowing or converting each element. It is the inverse of Float32s.
func FromFloat32s(values []float32, shape Shape, dtype DataType) (*RawTensor, error) {
	r, err := NewRaw(shape, dtype)
	if err != nil {
		return nil, err
	}
	n := r.NumElements()
	if len(values) < n {
		return nil, errors.Errorf("got %d values for shape %v (%d elements)", len(values), shape, n)
	}
	switch dtype {
	case Float32:
		copy(r.AsFloat32(), values[:n])
	case Float16:
		dst := r.AsFloat16()
		for i := range dst {
			dst[i] = float16.Fromfloat32(values[i])
		}
	case Float64:
		dst := r.AsFloat64()
		for i := range dst {
			dst[i] = float64(values[i])
		}
	case Int32:
		dst := r.AsInt32()
		for i := range dst {
			dst[i] = int32(values[i])
		}
	default:
		return nil, errors.Errorf("cannot convert float32 values to %s", dtype)
	}
	return r, nil
}

// ID returns the identity of the tensor's data handle.
func (r *RawTensor) ID() uuid.UUID {
	return r.id
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// Dims returns the tensor's dimensions as a plain slice.
func (r *RawTensor) Dims() []int {
	return r.shape
}

// Strides returns the tensor's memory strides.
func (r *RawTensor) Strides() []int {
	return r.stride
}

// DType returns the tensor's data type.
func (r *RawTensor) DType() DataType {
	return r.dtype
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// ByteSize returns the total memory size in bytes.
func (r *RawTensor) ByteSize() int {
	return r.NumElements() * r.dtype.Size()
}

// Data returns the raw byte slice.
// WARNING: Direct access to underlying memory. Use with caution.
func (r *RawTensor) Data() []byte {
	return r.data
}

// String implements fmt.Stringer.
func (r *RawTensor) String() string {
	return fmt.Sprintf("RawTensor(%s, %v)", r.dtype, []int(r.shape))
}

// AsFloat32 interprets the data as []float32.
// Panics if the tensor's dtype is not Float32.
func (r *RawTensor) AsFloat32() []float32 {
	if r.dtype != Float32 {
		panic(fmt.Sprintf("tensor dtype is %s, not float32", r.dtype))
	}
	if len(r.data) == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy performance, bounds checked by NumElements()
	return unsafe.Slice((*float32)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// AsFloat16 interprets the data as []float16.Float16.
// Panics if the tensor's dtype is not Float16.
func (r *RawTensor) AsFloat16() []float16.Float16 {
	if r.dtype != Float16 {
		panic(fmt.Sprintf("tensor dtype is %s, not float16", r.dtype))
	}
	if len(r.data) == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy performance, bounds checked by NumElements()
	return unsafe.Slice((*float16.Float16)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// AsFloat64 interprets the data as []float64.
// Panics if the tensor's dtype is not Float64.
func (r *RawTensor) AsFloat64() []float64 {
	if r.dtype != Float64 {
		panic(fmt.Sprintf("tensor dtype is %s, not float64", r.dtype))
	}
	if len(r.data) == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy performance, bounds checked by NumElements()
	return unsafe.Slice((*float64)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// AsInt32 interprets the data as []int32.
// Panics if the tensor's dtype is not Int32.
func (r *RawTensor) AsInt32() []int32 {
	if r.dtype != Int32 {
		panic(fmt.Sprintf("tensor dtype is %s, not int32", r.dtype))
	}
	if len(r.data) == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy performance, bounds checked by NumElements()
	return unsafe.Slice((*int32)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// Float32s returns the elements widened or converted to float32, the texel
// format every texture is stored in.
func (r *RawTensor) Float32s() ([]float32, error) {
	switch r.dtype {
	case Float32:
		return append([]float32(nil), r.AsFloat32()...), nil
	case Float16:
		src := r.AsFloat16()
		out := make([]float32, len(src))
		for i, v := range src {
			out[i] = v.Float32()
		}
		return out, nil
	case Float64:
		src := r.AsFloat64()
		out := make([]float32, len(src))
		for i, v := range src {
			out[i] = float32(v)
		}
		return out, nil
	case Int32:
		src := r.AsInt32()
		out := make([]float32, len(src))
		for i, v := range src {
			out[i] = float32(v)
		}
		return out, nil
	default:
		return nil, errors.Errorf("tensor dtype %s has no float32 texel form", r.dtype)
	}
}
