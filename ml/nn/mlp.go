package nn

import (
	"math"
	"sort"

	"github.com/kilnrun/kiln/ml"
	"github.com/kilnrun/kiln/sample"
)

// silu is the SiLU/Swish activation used by the dense and MoE feed-forward
// variants (spec.md §4.2 step 7).
func silu(x float32) float32 {
	return x / (1 + float32(math.Exp(float64(-x))))
}

// Dense is the standard gate/up/down feed-forward block: down(silu(gate(x))
// ⊙ up(x)), per spec.md §4.2 step 7's dense variant.
type Dense struct {
	Gate, Up, Down *Linear
}

func NewDense(hidden, intermediate int, dtype ml.DType) *Dense {
	return &Dense{
		Gate: NewLinear(hidden, intermediate, dtype),
		Up:   NewLinear(hidden, intermediate, dtype),
		Down: NewLinear(intermediate, hidden, dtype),
	}
}

func (d *Dense) Forward(ctx *ml.Context, x *ml.Tensor) *ml.Tensor {
	g := d.Gate.Forward(ctx, x)
	u := d.Up.Forward(ctx, x)
	gd := g.Data()
	ud := u.Data()
	h := ctx.Zeros(x.DType(), g.Dims()...)
	hd := h.Data()
	for i := range hd {
		hd[i] = silu(gd[i]) * ud[i]
	}
	return d.Down.Forward(ctx, h)
}

// Expert is one Mixtral-style expert MLP (no shared expert, unlike
// GLM-4-MoE's sparse mlp — Mixtral routes 100% of the FFN compute through the
// selected experts).
type Expert = Dense

// MoE implements spec.md §4.2 step 7's Mixture-of-Experts variant: a linear
// gate → softmax → top-k router, with per-token, per-selected-expert
// contributions accumulated in ascending expert-rank order (spec.md §9's
// resolved open question).
type MoE struct {
	Router         *Linear
	Experts        []*Expert
	NumExpertsUsed int
}

func NewMoE(hidden, intermediate, numExperts, numExpertsUsed int, dtype ml.DType) *MoE {
	experts := make([]*Expert, numExperts)
	for i := range experts {
		experts[i] = NewDense(hidden, intermediate, dtype)
	}
	return &MoE{
		Router:         NewLinear(hidden, numExperts, dtype),
		Experts:        experts,
		NumExpertsUsed: numExpertsUsed,
	}
}

func (m *MoE) Forward(ctx *ml.Context, x *ml.Tensor) *ml.Tensor {
	hidden := x.Dim(0)
	numTokens := x.Dim(len(x.Dims()) - 1)

	routerLogits := m.Router.Forward(ctx, x)
	numExperts := routerLogits.Dim(0)
	rld := routerLogits.Data()

	out := ctx.Zeros(x.DType(), hidden, numTokens)
	od := out.Data()
	xd := x.Data()

	for t := 0; t < numTokens; t++ {
		scores := stableSoftmax(append([]float32{}, rld[t*numExperts:(t+1)*numExperts]...))
		indices, weights := sample.TopKWeighted(scores, m.NumExpertsUsed)

		var sum float32
		for _, w := range weights {
			sum += w
		}

		// Ascending expert-rank accumulation order, per spec.md §9.
		order := make([]int, len(indices))
		for i := range order {
			order[i] = i
		}
		sort.Slice(order, func(a, b int) bool { return indices[order[a]] < indices[order[b]] })

		tokenX := ml.FromFloats(xd[t*hidden:(t+1)*hidden], hidden, 1)

		for _, oi := range order {
			e := indices[oi]
			w := weights[oi] / sum
			contribution := m.Experts[e].Forward(ctx, tokenX)
			cd := contribution.Data()
			for i := 0; i < hidden; i++ {
				od[t*hidden+i] += w * cd[i]
			}
		}
	}

	return out
}
