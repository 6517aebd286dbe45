package nn

import (
	"math"

	"github.com/kilnrun/kiln/ml"
)

// RoPE applies rotary position embeddings to x ([headDim, numHeads,
// numTokens]) using the absolute positions vector and the configured theta,
// per spec.md §4.2 step 3. Rotation pairs adjacent half-dimensions
// (i, i+headDim/2), the NeoX-style convention the teacher's nn.RoPE
// (model/models/gemma3n/text_options.go's applyRotaryPositionEmbeddings)
// also uses.
func RoPE(ctx *ml.Context, x *ml.Tensor, positions []int32, theta float32) *ml.Tensor {
	headDim := x.Dim(0)
	numHeads := x.Dim(1)
	numTokens := x.Dim(2)
	half := headDim / 2

	out := ctx.Zeros(x.DType(), x.Dims()...)
	xd := x.Data()
	od := out.Data()

	for t := 0; t < numTokens; t++ {
		pos := float64(positions[t])
		for h := 0; h < numHeads; h++ {
			base := t*numHeads*headDim + h*headDim
			for i := 0; i < half; i++ {
				freq := 1.0 / math.Pow(float64(theta), float64(2*i)/float64(headDim))
				angle := pos * freq
				cos := float32(math.Cos(angle))
				sin := float32(math.Sin(angle))

				a := xd[base+i]
				b := xd[base+i+half]
				od[base+i] = a*cos - b*sin
				od[base+i+half] = a*sin + b*cos
			}
		}
	}
	return out
}
