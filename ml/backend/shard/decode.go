package shard

import (
	"math/rand"

	"github.com/kilnrun/kiln/backend"
	"github.com/kilnrun/kiln/ml"
	"github.com/kilnrun/kiln/sample"
)

// Decode and Sample are replicated across shards (the final norm and LM head
// are small relative to the transformer body and not worth partitioning), so
// they run once against the Backend's own full-width weights rather than
// per-shard state.

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
