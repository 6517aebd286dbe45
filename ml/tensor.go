package ml

import (
	"fmt"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// Tensor is a dense row-major buffer of float32 values tagged with a
// declared DType. Dimensions are listed fastest-to-slowest (ggml
// convention): Stride(0) is always 1, and the last dimension is the one
// with the largest stride — in every tensor this module builds, that is
// the token axis, which keeps slicing along it a cheap contiguous view.
type Tensor struct {
	data  []float32
	dims  []int
	dtype DType
}

// Zeros allocates a zero-filled tensor of the given shape.
func Zeros(dtype DType, dims ...int) *Tensor {
	n := 1
	for _, d := range dims {
		n *= d
	}
	return &Tensor{data: make([]float32, n), dims: append([]int{}, dims...), dtype: dtype}
}

// FromFloats wraps data (copied) as a tensor of the given shape.
func FromFloats(data []float32, dims ...int) *Tensor {
	n := 1
	for _, d := range dims {
		n *= d
	}
	if n != len(data) {
		panic(fmt.Sprintf("ml: shape %v does not match %d elements", dims, len(data)))
	}
	cp := make([]float32, len(data))
	copy(cp, data)
	return &Tensor{data: cp, dims: append([]int{}, dims...), dtype: DTypeF32}
}

func (t *Tensor) Dims() []int  { return t.dims }
func (t *Tensor) Dim(i int) int {
	if i < 0 || i >= len(t.dims) {
		return 1
	}
	return t.dims[i]
}
func (t *Tensor) DType() DType { return t.dtype }

// Stride returns the number of elements between consecutive indices along
// axis i, i.e. the product of all faster (lower-indexed) axes' sizes.
func (t *Tensor) Stride(i int) int {
	s := 1
	for j := 0; j < i && j < len(t.dims); j++ {
		s *= t.dims[j]
	}
	return s
}

func (t *Tensor) Numel() int { return len(t.data) }

// Data returns the raw backing slice. Callers that mutate it are expected to
// respect the tensor's declared shape; this is the escape hatch the kernel
// functions in ml/nn use to do the actual arithmetic.
func (t *Tensor) Data() []float32 { return t.data }

// Floats returns a copy of the backing slice, matching the teacher's
// ml.Tensor.Floats() used to read logits back out to Go-land after compute.
func (t *Tensor) Floats() []float32 {
	cp := make([]float32, len(t.data))
	copy(cp, t.data)
	return cp
}

// Clone deep-copies the tensor.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{data: t.Floats(), dims: append([]int{}, t.dims...), dtype: t.dtype}
}

// Reshape returns a view over the same backing array under a new shape.
// Panics if the element count would change, matching ggml's own contract.
func (t *Tensor) Reshape(dims ...int) *Tensor {
	n := 1
	for _, d := range dims {
		n *= d
	}
	if n != len(t.data) {
		panic(fmt.Sprintf("ml: cannot reshape %v (%d elements) to %v (%d elements)", t.dims, len(t.data), dims, n))
	}
	return &Tensor{data: t.data, dims: append([]int{}, dims...), dtype: t.dtype}
}

// SliceLast returns a view over the half-open range [start, end) of the last
// (slowest-varying, token) axis. Because later axes are contiguous blocks of
// size Stride(lastAxis), this is always a contiguous sub-slice.
func (t *Tensor) SliceLast(start, end int) *Tensor {
	last := len(t.dims) - 1
	if last < 0 {
		panic("ml: cannot slice a scalar tensor")
	}
	if start < 0 || end > t.dims[last] || start > end {
		panic(fmt.Sprintf("ml: slice [%d:%d) out of range for axis of size %d", start, end, t.dims[last]))
	}
	block := t.Stride(last)
	newDims := append([]int{}, t.dims...)
	newDims[last] = end - start
	return &Tensor{data: t.data[start*block : end*block], dims: newDims, dtype: t.dtype}
}

// Add returns the elementwise sum of two equal-shaped tensors.
func (t *Tensor) Add(o *Tensor) *Tensor {
	if len(t.data) != len(o.data) {
		panic("ml: Add shape mismatch")
	}
	out := make([]float32, len(t.data))
	for i := range out {
		out[i] = t.data[i] + o.data[i]
	}
	return &Tensor{data: out, dims: append([]int{}, t.dims...), dtype: t.dtype}
}

// AddInPlace accumulates o onto t, matching the residual-accumulation pattern
// in spec.md §4.2 step 5 ("X ← X + X1 @ W_o").
func (t *Tensor) AddInPlace(o *Tensor) {
	if len(t.data) != len(o.data) {
		panic("ml: AddInPlace shape mismatch")
	}
	for i := range t.data {
		t.data[i] += o.data[i]
	}
}

// Scale multiplies every element by s.
func (t *Tensor) Scale(s float32) *Tensor {
	out := make([]float32, len(t.data))
	for i, v := range t.data {
		out[i] = v * s
	}
	return &Tensor{data: out, dims: append([]int{}, t.dims...), dtype: t.dtype}
}

// Cast round-trips the tensor's values through the target dtype's reduced
// precision representation, simulating compute in that declared dtype per
// spec.md §4.2, then stores the result back as float32 (our only storage
// format) tagged with the new DType.
func (t *Tensor) Cast(dtype DType) *Tensor {
	out := make([]float32, len(t.data))
	switch dtype {
	case DTypeF16:
		for i, v := range t.data {
			out[i] = float16.Fromfloat32(v).Float32()
		}
	case DTypeBF16:
		raw := bfloat16.EncodeFloat32(t.data)
		decoded := bfloat16.DecodeFloat32(raw)
		copy(out, decoded)
	default:
		copy(out, t.data)
	}
	return &Tensor{data: out, dims: append([]int{}, t.dims...), dtype: dtype}
}
