// Package ml is the kernel library (§6) and the raw tensor/context primitives
// the forward pipeline (C2) is built from. It plays the role the teacher's own
// ml package plays for the ggml backend, but with a pure-Go dense-float32
// tensor instead of a cgo-bound compute graph, since no GPU/ggml runtime is
// available in this environment. Dimension order follows the teacher's ggml
// convention: Dim(0) is the fastest-varying (innermost) axis, the last axis is
// the slowest-varying one — in this module that's always the token axis.
package ml

// DType names the storage/compute precision a Tensor is declared in, mirroring
// spec.md §4.2's "all math in the model's declared dtype (typically
// half-precision)".
type DType int

const (
	DTypeF32 DType = iota
	DTypeF16
	DTypeBF16
	DTypeOther
)

func (d DType) String() string {
	switch d {
	case DTypeF32:
		return "f32"
	case DTypeF16:
		return "f16"
	case DTypeBF16:
		return "bf16"
	default:
		return "other"
	}
}

// Token is a vocabulary identifier.
type Token = uint32
