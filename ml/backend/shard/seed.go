package shard

import (
	"fmt"

	"github.com/kilnrun/kiln/ml/backend/cpu"
	"github.com/kilnrun/kiln/ml/nn"
)

// sliceCols extracts out-dimension columns [start, start+count) from a
// Linear weight's flat [in, out] storage (column-major blocks of length in,
// per ml/nn/linear.go's layout: data[j*in+i] is (inFeature i, outFeature
// j)), returning a contiguous [in, count] buffer — used to build a
// column-parallel shard's slice of a larger matrix.
func sliceCols(data []float32, in, start, count int) []float32 {
	out := make([]float32, in*count)
	copy(out, data[start*in:(start+count)*in])
	return out
}

// sliceRows extracts in-dimension rows [start, start+count) from every
// out-column block of a Linear weight's flat [in, out] storage, returning a
// contiguous [count, out] buffer — used to build a row-parallel shard's
// slice of a larger matrix.
func sliceRows(data []float32, in, out, start, count int) []float32 {
	dst := make([]float32, count*out)
	for j := 0; j < out; j++ {
		copy(dst[j*count:(j+1)*count], data[j*in+start:j*in+start+count])
	}
	return dst
}

// SeedFromCPU copies src's weights into b, slicing each shard's
// column/row-parallel range directly out of src's full matrices, so b and
// src compute from literally identical weights — the basis for spec.md §8
// property 6 (tensor-parallel equivalence): independently-seeded fakes
// could only be expected to match by coincidence, but a shared weight
// source makes the two backends' outputs comparable for equality testing.
// src and b must share the same cpu.Config (hidden size, head counts,
// expert counts, ...); b's numShards determines the partition.
func (b *Backend) SeedFromCPU(src *cpu.Backend) {
	copy(b.embedTokens.Data(), src.EmbedTokens().Data())
	copy(b.finalNorm.Weight.Data(), src.FinalNorm().Weight.Data())
	copy(b.lmHead.Weight.Data(), src.LMHead().Weight.Data())

	hidden := b.cfg.HiddenSize
	hd := hidden / b.cfg.NumAttentionHeads
	numHeads := b.cfg.NumAttentionHeads
	numKVHeads := b.cfg.NumKeyValueHeads
	headsPerShard := numHeads / b.numShards
	kvHeadsPerShard := numKVHeads / b.numShards
	interPerShard := b.cfg.IntermediateSize / b.numShards

	qCols := numHeads * hd
	kCols := numKVHeads * hd

	for r, st := range b.shards {
		for l := range st.layers {
			sl := &st.layers[l]
			srcLayer := src.Layer(l)

			copy(sl.inputNorm.Weight.Data(), srcLayer.InputNorm.Weight.Data())
			copy(sl.postNorm.Weight.Data(), srcLayer.PostNorm.Weight.Data())

			srcWQKV := srcLayer.WQKV.Weight.Data()
			dstWQKV := sl.wqkv.Weight.Data()
			qLocal := headsPerShard * hd
			kvLocal := kvHeadsPerShard * hd

			copy(dstWQKV[:qLocal*hidden], sliceCols(srcWQKV, hidden, r*qLocal, qLocal))
			copy(dstWQKV[qLocal*hidden:(qLocal+kvLocal)*hidden], sliceCols(srcWQKV, hidden, qCols+r*kvLocal, kvLocal))
			copy(dstWQKV[(qLocal+kvLocal)*hidden:(qLocal+2*kvLocal)*hidden], sliceCols(srcWQKV, hidden, qCols+kCols+r*kvLocal, kvLocal))

			copy(sl.wo.Weight.Data(), sliceRows(srcLayer.WO.Weight.Data(), numHeads*hd, hidden, r*qLocal, qLocal))

			if b.cfg.NumLocalExperts > 0 {
				srcFFN, ok := srcLayer.FFN.(*nn.MoE)
				if !ok {
					panic(fmt.Sprintf("shard: layer %d: expected MoE FFN, backend configs disagree on MoE", l))
				}
				copy(sl.router.Weight.Data(), srcFFN.Router.Weight.Data())
				for i, id := range sl.expertIDs {
					srcExpert := srcFFN.Experts[id]
					copy(sl.experts[i].Gate.Weight.Data(), srcExpert.Gate.Weight.Data())
					copy(sl.experts[i].Up.Weight.Data(), srcExpert.Up.Weight.Data())
					copy(sl.experts[i].Down.Weight.Data(), srcExpert.Down.Weight.Data())
				}
			} else {
				srcFFN, ok := srcLayer.FFN.(*nn.Dense)
				if !ok {
					panic(fmt.Sprintf("shard: layer %d: expected dense FFN, backend configs disagree on MoE", l))
				}
				copy(sl.gate.Weight.Data(), sliceCols(srcFFN.Gate.Weight.Data(), hidden, r*interPerShard, interPerShard))
				copy(sl.up.Weight.Data(), sliceCols(srcFFN.Up.Weight.Data(), hidden, r*interPerShard, interPerShard))
				copy(sl.down.Weight.Data(), sliceRows(srcFFN.Down.Weight.Data(), b.cfg.IntermediateSize, hidden, r*interPerShard, interPerShard))
			}
		}
	}
}
