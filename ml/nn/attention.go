package nn

import (
	"math"

	"github.com/kilnrun/kiln/kvcache"
	"github.com/kilnrun/kiln/ml"
)

// Attention performs spec.md §4.2 step 4 for a single request at a single
// layer: it writes the request's new K/V into the cache at the cache's
// current start-relative slot for pos, then computes
// softmax(Q·Kᵀ/√dh)·V over the full attended history (grouped-query
// attention: each KV head serves numHeads/numKVHeads query heads), causally
// masked so token t only attends to history up to and including t.
//
// q is [headDim, numHeads, seqLen]; k, v are [headDim, numKVHeads, seqLen]
// — all already RoPE'd (q, k) for the new tokens only. The result is
// [headDim*numHeads, seqLen], ready to be written into the per-request slice
// of the post-QKV workspace tensor X1.
func Attention(ctx *ml.Context, layer int, cache *kvcache.Cache, pos int32, q, k, v *ml.Tensor, numHeads, numKVHeads, headDim int) *ml.Tensor {
	return AttentionShard(ctx, layer, cache, pos, q, k, v, numHeads, numKVHeads, headDim, 0, cache.NumKVHeads())
}

// AttentionShard is Attention generalized with a KV-head offset/count into
// the cache's full [headDim, cache.NumKVHeads(), maxSeqLen] storage, letting
// a tensor-parallel shard (ml/backend/shard) address its own disjoint
// KV-head range of one cache shared across shards without needing a
// separate physical cache per shard.
func AttentionShard(ctx *ml.Context, layer int, cache *kvcache.Cache, pos int32, q, k, v *ml.Tensor, numHeads, numKVHeads, headDim, kvHeadOffset, cacheNumKVHeads int) *ml.Tensor {
	seqLen := q.Dim(2)
	groupSize := numHeads / numKVHeads

	putKV(cache, layer, pos, k, v, kvHeadOffset, cacheNumKVHeads, headDim)

	keyCache := cache.KeyLayer(layer).Data()
	valCache := cache.ValueLayer(layer).Data()
	maxSlots := int(cache.MaxSeqLen())

	out := ctx.Zeros(q.DType(), headDim*numHeads, seqLen)
	od := out.Data()
	qd := q.Data()

	scale := float32(1.0 / math.Sqrt(float64(headDim)))

	for h := 0; h < numHeads; h++ {
		kvh := kvHeadOffset + h/groupSize
		for t := 0; t < seqLen; t++ {
			curPos := int(pos) + t
			curSlot := curPos - int(cache.Start())
			qbase := t*numHeads*headDim + h*headDim

			scores := make([]float32, curSlot+1)
			for j := 0; j <= curSlot; j++ {
				kbase := (j*cacheNumKVHeads + kvh) * headDim
				if kbase+headDim > len(keyCache) || j >= maxSlots {
					continue
				}
				var dot float32
				for d := 0; d < headDim; d++ {
					dot += qd[qbase+d] * keyCache[kbase+d]
				}
				scores[j] = dot * scale
			}

			probs := stableSoftmax(scores)

			obase := t*numHeads*headDim + h*headDim
			for j := 0; j <= curSlot && j < maxSlots; j++ {
				vbase := (j*cacheNumKVHeads + kvh) * headDim
				w := probs[j]
				for d := 0; d < headDim; d++ {
					od[obase+d] += w * valCache[vbase+d]
				}
			}
		}
	}

	return out
}

func putKV(cache *kvcache.Cache, layer int, pos int32, k, v *ml.Tensor, kvHeadOffset, cacheNumKVHeads, headDim int) {
	numKVHeads := k.Dim(1)
	seqLen := k.Dim(2)
	keyCache := cache.KeyLayer(layer).Data()
	valCache := cache.ValueLayer(layer).Data()
	kd := k.Data()
	vd := v.Data()

	for t := 0; t < seqLen; t++ {
		slot := cache.Slot(pos) + t
		if slot < 0 || slot >= int(cache.MaxSeqLen()) {
			continue
		}
		src := t * numKVHeads * headDim
		dst := (slot*cacheNumKVHeads + kvHeadOffset) * headDim
		copy(keyCache[dst:dst+numKVHeads*headDim], kd[src:src+numKVHeads*headDim])
		copy(valCache[dst:dst+numKVHeads*headDim], vd[src:src+numKVHeads*headDim])
	}
}

func stableSoftmax(scores []float32) []float32 {
	if len(scores) == 0 {
		return scores
	}
	max := scores[0]
	for _, s := range scores[1:] {
		if s > max {
			max = s
		}
	}
	out := make([]float32, len(scores))
	var sum float32
	for i, s := range scores {
		e := float32(math.Exp(float64(s - max)))
		out[i] = e
		sum += e
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
