// Package nn provides the per-layer building blocks of the forward pipeline
// (C2): linear projections, RMSNorm, rotary embeddings, attention, and the
// dense/MoE feed-forward variants, grounded in the teacher's ml/nn usage seen
// from model/models/gemma3n (TextAttention/TextMLP) and
// model/models/glm4moelite (sparse/dense MLP), backed by
// gonum.org/v1/gonum/mat for the actual matrix multiplies.
package nn

import (
	"gonum.org/v1/gonum/mat"

	"github.com/kilnrun/kiln/ml"
)

// Linear is a weight-only linear layer (no bias), matching the teacher's
// nn.Linear tagged `gguf:"..."` fields. Weight is stored as
// [inFeatures, outFeatures] (ggml convention: dim0 fastest = inFeatures).
type Linear struct {
	Weight *ml.Tensor
}

// NewLinear allocates a linear layer's weight tensor.
func NewLinear(in, out int, dtype ml.DType) *Linear {
	return &Linear{Weight: ml.Zeros(dtype, in, out)}
}

// Forward computes x @ W for x shaped [inFeatures, numTokens], returning
// [outFeatures, numTokens].
func (l *Linear) Forward(ctx *ml.Context, x *ml.Tensor) *ml.Tensor {
	in := l.Weight.Dim(0)
	out := l.Weight.Dim(1)
	n := x.Dim(len(x.Dims()) - 1)

	xm := mat.NewDense(n, in, nil)
	xd := x.Data()
	for i := 0; i < n; i++ {
		for j := 0; j < in; j++ {
			xm.Set(i, j, float64(xd[i*in+j]))
		}
	}

	wm := mat.NewDense(in, out, nil)
	wd := l.Weight.Data()
	for i := 0; i < in; i++ {
		for j := 0; j < out; j++ {
			wm.Set(i, j, float64(wd[j*in+i]))
		}
	}

	var ym mat.Dense
	ym.Mul(xm, wm)

	result := make([]float32, n*out)
	for i := 0; i < n; i++ {
		for j := 0; j < out; j++ {
			result[i*out+j] = float32(ym.At(i, j))
		}
	}

	// result is row-major [token, outFeature]; transpose into ggml order
	// [outFeature (fastest), token].
	y := ml.Zeros(x.DType(), out, n)
	yd := y.Data()
	for i := 0; i < n; i++ {
		for j := 0; j < out; j++ {
			yd[j+i*out] = result[i*out+j]
		}
	}
	return ctx.Track(y)
}
