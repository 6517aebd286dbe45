package cpu

import (
	"math/rand"

	"github.com/kilnrun/kiln/backend"
	"github.com/kilnrun/kiln/ml"
	"github.com/kilnrun/kiln/ml/nn"
	"github.com/kilnrun/kiln/sample"
)

// Forward runs spec.md §4.2's per-layer pipeline over the concatenated token
// batch embedded holds, one contiguous run of columns per query in the order
// queries lists them. Each query attends only against its own cache; model
// weights (norms, projections, experts) are shared across the whole batch,
// which is the entire point of cross-request batching (spec.md §4.5).
func (b *Backend) Forward(ctx *ml.Context, queries []backend.QueryContext, embedded *ml.Tensor) (*ml.Tensor, error) {
	hidden := b.cfg.HiddenSize
	hd := headDim(b.cfg)
	numHeads := b.cfg.NumAttentionHeads
	numKVHeads := b.cfg.NumKeyValueHeads
	total := embedded.Dim(len(embedded.Dims()) - 1)

	x := embedded
	for l := range b.layers {
		layer := &b.layers[l]

		normed := layer.InputNorm.Forward(ctx, x)
		qkv := layer.WQKV.Forward(ctx, normed)

		attnOut := ctx.Zeros(x.DType(), hd*numHeads, total)
		attnOutD := attnOut.Data()

		offset := 0
		for _, q := range queries {
			n := int(q.Len)
			qkvSlice := qkv.SliceLast(offset, offset+n)
			qd := qkvSlice.Data()

			qBuf := make([]float32, n*numHeads*hd)
			kBuf := make([]float32, n*numKVHeads*hd)
			vBuf := make([]float32, n*numKVHeads*hd)
			qkvOut := numHeads*hd + 2*numKVHeads*hd
			for t := 0; t < n; t++ {
				base := t * qkvOut
				copy(qBuf[t*numHeads*hd:(t+1)*numHeads*hd], qd[base:base+numHeads*hd])
				base += numHeads * hd
				copy(kBuf[t*numKVHeads*hd:(t+1)*numKVHeads*hd], qd[base:base+numKVHeads*hd])
				base += numKVHeads * hd
				copy(vBuf[t*numKVHeads*hd:(t+1)*numKVHeads*hd], qd[base:base+numKVHeads*hd])
			}

			qT := ml.FromFloats(qBuf, hd, numHeads, n)
			kT := ml.FromFloats(kBuf, hd, numKVHeads, n)
			vT := ml.FromFloats(vBuf, hd, numKVHeads, n)

			positions := make([]int32, n)
			for t := range positions {
				positions[t] = q.Pos + int32(t)
			}
			qT = nn.RoPE(ctx, qT, positions, b.cfg.RopeTheta)
			kT = nn.RoPE(ctx, kT, positions, b.cfg.RopeTheta)

			out := nn.Attention(ctx, l, q.Cache, q.Pos, qT, kT, vT, numHeads, numKVHeads, hd)
			q.Cache.Advance(q.Pos + int32(n))

			outD := out.Data()
			for t := 0; t < n; t++ {
				dst := (offset + t) * (hd * numHeads)
				src := t * (hd * numHeads)
				copy(attnOutD[dst:dst+hd*numHeads], outD[src:src+hd*numHeads])
			}
			offset += n
		}

		attnProj := layer.WO.Forward(ctx, attnOut)
		x = x.Clone()
		x.AddInPlace(attnProj)

		postNormed := layer.PostNorm.Forward(ctx, x)
		ffnOut := layer.FFN.Forward(ctx, postNormed)
		x = x.Clone()
		x.AddInPlace(ffnOut)
	}

	return x, nil
}

// Decode applies the final norm and LM head to the trailing meta[i].NumDecode
// rows of each query's segment in hidden, per spec.md §4.1.
func (b *Backend) Decode(ctx *ml.Context, meta []backend.DecodingMeta, hidden *ml.Tensor) (*ml.Tensor, error) {
	hiddenDim := b.cfg.HiddenSize
	hd := hidden.Data()

	total := 0
	for _, m := range meta {
		total += m.NumDecode
	}

	sel := ctx.Zeros(hidden.DType(), hiddenDim, total)
	selD := sel.Data()

	offset := 0
	outIdx := 0
	for _, m := range meta {
		start := offset + m.NumQueryTokens - m.NumDecode
		for i := 0; i < m.NumDecode; i++ {
			srcTok := start + i
			copy(selD[outIdx*hiddenDim:(outIdx+1)*hiddenDim], hd[srcTok*hiddenDim:(srcTok+1)*hiddenDim])
			outIdx++
		}
		offset += m.NumQueryTokens
	}

	normed := b.finalNorm.Forward(ctx, sel)
	logits := b.lmHead.Forward(ctx, normed)
	return logits, nil
}

// Sample draws one token per entry in args from logits, a flat
// [vocabSize * len(args)] buffer, per spec.md §4.1's sample contract.
func (b *Backend) Sample(args []backend.SampleMeta, logits *ml.Tensor) ([]ml.Token, error) {
	vocab := b.cfg.VocabSize
	ld := logits.Data()
	out := make([]ml.Token, len(args))
	for i, a := range args {
		row := ld[i*vocab : (i+1)*vocab]
		sa := sample.Args{Temperature: a.Temperature, TopK: a.TopK, TopP: a.TopP}
		out[i] = sample.Pick(sa, row, rand.New(rand.NewSource(int64(i)+1)))
	}
	return out, nil
}
