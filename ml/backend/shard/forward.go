package shard

import (
	"math"
	"sort"
	"sync"

	"github.com/kilnrun/kiln/backend"
	"github.com/kilnrun/kiln/ml"
	"github.com/kilnrun/kiln/ml/nn"
	"github.com/kilnrun/kiln/sample"
)

// Forward runs the tensor-parallel pipeline: every layer's attention and
// feed-forward sublayers compute concurrently on each shard's local slice of
// heads/intermediate channels (in a private scratch Context, since
// ml.Context is not safe for concurrent allocation), then synchronize with
// one collective.AllReduce(SUM) per sublayer before the residual is applied
// once to the shared hidden state.
func (b *Backend) Forward(ctx *ml.Context, queries []backend.QueryContext, embedded *ml.Tensor) (*ml.Tensor, error) {
	hidden := b.cfg.HiddenSize
	total := embedded.Dim(len(embedded.Dims()) - 1)

	x := embedded
	for l := 0; l < b.cfg.NumHiddenLayers; l++ {
		attnSum := b.runShards(func(r int) []float32 {
			return b.attnShard(r, l, queries, x, total)
		}, hidden*total)
		x = x.Clone()
		x.AddInPlace(ml.FromFloats(attnSum, hidden, total))

		for _, q := range queries {
			q.Cache.Advance(q.Pos + q.Len)
		}

		ffnSum := b.runShards(func(r int) []float32 {
			return b.ffnShard(r, l, x, total)
		}, hidden*total)
		x = x.Clone()
		x.AddInPlace(ml.FromFloats(ffnSum, hidden, total))
	}

	return x, nil
}

// runShards computes fn for every shard concurrently, AllReduce(SUM)s the
// results through the group, and returns the (identical, on every rank)
// summed buffer.
func (b *Backend) runShards(fn func(rank int) []float32, n int) []float32 {
	results := make([][]float32, b.numShards)
	var wg sync.WaitGroup
	for r := 0; r < b.numShards; r++ {
		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := fn(r)
			results[r] = b.group.AllReduce(r, local)
		}()
	}
	wg.Wait()
	if len(results) == 0 {
		return make([]float32, n)
	}
	return results[0]
}

func (b *Backend) attnShard(rank, layer int, queries []backend.QueryContext, x *ml.Tensor, total int) []float32 {
	hidden := b.cfg.HiddenSize
	hd := hidden / b.cfg.NumAttentionHeads
	st := b.shards[rank]
	sl := st.layers[layer]
	lctx := ml.NewContextForDevice(rank)

	normed := sl.inputNorm.Forward(lctx, x)
	qkv := sl.wqkv.Forward(lctx, normed)

	kvHeadsPerShard := b.cfg.NumKeyValueHeads / b.numShards
	kvHeadOffset := rank * kvHeadsPerShard

	out := ml.Zeros(x.DType(), st.numHeads*hd, total)
	outD := out.Data()

	offset := 0
	for _, q := range queries {
		n := int(q.Len)
		qkvSlice := qkv.SliceLast(offset, offset+n)
		qd := qkvSlice.Data()

		qBuf := make([]float32, n*st.numHeads*hd)
		kBuf := make([]float32, n*kvHeadsPerShard*hd)
		vBuf := make([]float32, n*kvHeadsPerShard*hd)
		localOut := st.numHeads*hd + 2*kvHeadsPerShard*hd
		for t := 0; t < n; t++ {
			base := t * localOut
			copy(qBuf[t*st.numHeads*hd:(t+1)*st.numHeads*hd], qd[base:base+st.numHeads*hd])
			base += st.numHeads * hd
			copy(kBuf[t*kvHeadsPerShard*hd:(t+1)*kvHeadsPerShard*hd], qd[base:base+kvHeadsPerShard*hd])
			base += kvHeadsPerShard * hd
			copy(vBuf[t*kvHeadsPerShard*hd:(t+1)*kvHeadsPerShard*hd], qd[base:base+kvHeadsPerShard*hd])
		}

		qT := ml.FromFloats(qBuf, hd, st.numHeads, n)
		kT := ml.FromFloats(kBuf, hd, kvHeadsPerShard, n)
		vT := ml.FromFloats(vBuf, hd, kvHeadsPerShard, n)

		positions := make([]int32, n)
		for t := range positions {
			positions[t] = q.Pos + int32(t)
		}
		qT = nn.RoPE(lctx, qT, positions, b.cfg.RopeTheta)
		kT = nn.RoPE(lctx, kT, positions, b.cfg.RopeTheta)

		attn := nn.AttentionShard(lctx, layer, q.Cache, q.Pos, qT, kT, vT, st.numHeads, kvHeadsPerShard, hd, kvHeadOffset, b.cfg.NumKeyValueHeads)
		attnD := attn.Data()
		for t := 0; t < n; t++ {
			dst := (offset + t) * (st.numHeads * hd)
			src := t * (st.numHeads * hd)
			copy(outD[dst:dst+st.numHeads*hd], attnD[src:src+st.numHeads*hd])
		}
		offset += n
	}

	proj := sl.wo.Forward(lctx, out)
	return proj.Floats()
}

func (b *Backend) ffnShard(rank, layer int, x *ml.Tensor, total int) []float32 {
	st := b.shards[rank]
	sl := st.layers[layer]
	lctx := ml.NewContextForDevice(rank)

	normed := sl.postNorm.Forward(lctx, x)

	if sl.router != nil {
		return b.moeShard(lctx, sl, normed, total)
	}

	g := sl.gate.Forward(lctx, normed)
	u := sl.up.Forward(lctx, normed)
	gd := g.Data()
	ud := u.Data()
	h := lctx.Zeros(normed.DType(), g.Dims()...)
	hd := h.Data()
	for i := range hd {
		hd[i] = silu(gd[i]) * ud[i]
	}
	down := sl.down.Forward(lctx, h)
	return down.Floats()
}

func silu(v float32) float32 {
	return v / (1 + float32(math.Exp(float64(-v))))
}

func softmaxLocal(logits []float32) []float32 {
	max := logits[0]
	for _, v := range logits[1:] {
		if v > max {
			max = v
		}
	}
	out := make([]float32, len(logits))
	var sum float32
	for i, v := range logits {
		e := float32(math.Exp(float64(v - max)))
		out[i] = e
		sum += e
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// moeShard evaluates every expert this shard locally owns for every token
// and accumulates weighted contributions from just this shard's experts; the
// AllReduce in runShards combines every shard's partial contribution into the
// full top-k-weighted sum, matching spec.md §9's ascending expert-rank
// accumulation order (the order contributions are summed does not change the
// result of a commutative SUM all-reduce).
func (b *Backend) moeShard(ctx *ml.Context, sl shardLayer, x *ml.Tensor, total int) []float32 {
	hidden := x.Dim(0)
	routerLogits := sl.router.Forward(ctx, x)
	numExperts := routerLogits.Dim(0)
	rld := routerLogits.Data()
	xd := x.Data()

	out := make([]float32, hidden*total)

	owned := make(map[int]int, len(sl.expertIDs))
	for i, id := range sl.expertIDs {
		owned[id] = i
	}

	for t := 0; t < total; t++ {
		scores := softmaxLocal(append([]float32{}, rld[t*numExperts:(t+1)*numExperts]...))
		indices, weights := sample.TopKWeighted(scores, b.cfg.NumExpertsPerTok)
		var sum float32
		for _, w := range weights {
			sum += w
		}
		order := make([]int, len(indices))
		for i := range order {
			order[i] = i
		}
		sort.Slice(order, func(a, c int) bool { return indices[order[a]] < indices[order[c]] })
		for _, i := range order {
			e := indices[i]
			localIdx, ok := owned[e]
			if !ok {
				continue
			}
			w := weights[i] / sum
			tokenX := ml.FromFloats(xd[t*hidden:(t+1)*hidden], hidden, 1)
			contribution := sl.experts[localIdx].Forward(ctx, tokenX)
			cd := contribution.Data()
			for d := 0; d < hidden; d++ {
				out[t*hidden+d] += w * cd[d]
			}
		}
	}
	return out
}
