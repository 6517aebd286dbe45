package nn

import (
	"math"

	"github.com/kilnrun/kiln/ml"
)

// RMSNorm is root-mean-square normalization (spec.md §4.2 step 1/6), applied
// independently to each token's feature vector (the fastest axis).
type RMSNorm struct {
	Weight *ml.Tensor // [hidden]
	Eps    float32
}

func NewRMSNorm(hidden int, eps float32, dtype ml.DType) *RMSNorm {
	w := ml.Zeros(dtype, hidden)
	wd := w.Data()
	for i := range wd {
		wd[i] = 1
	}
	return &RMSNorm{Weight: w, Eps: eps}
}

// Forward returns a new tensor holding x ([hidden, numTokens]) normalized
// per token; x itself is not modified.
func (n *RMSNorm) Forward(ctx *ml.Context, x *ml.Tensor) *ml.Tensor {
	hidden := x.Dim(0)
	numTokens := x.Dim(len(x.Dims()) - 1)
	xd := x.Data()
	wd := n.Weight.Data()

	out := ctx.Zeros(x.DType(), x.Dims()...)
	od := out.Data()

	for t := 0; t < numTokens; t++ {
		base := t * hidden
		var sumSq float64
		for i := 0; i < hidden; i++ {
			v := float64(xd[base+i])
			sumSq += v * v
		}
		scale := float32(1.0 / math.Sqrt(sumSq/float64(hidden)+float64(n.Eps)))
		for i := 0; i < hidden; i++ {
			od[base+i] = xd[base+i] * scale * wd[i]
		}
	}
	return out
}
