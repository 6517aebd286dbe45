// Package sample implements temperature / top-k / top-p sampling (spec.md
// §4.1's Backend.sample) and the generic top-k-by-score selection the MoE
// feed-forward variant (spec.md §4.2) reuses for expert routing. Grounded in
// the teacher's sample.Sampler surface (referenced from
// runner/ollamarunner/runner_types.go) and the top-k pattern in
// model/models/glm4moelite/mlp.go's topKIndices, generalized to a
// bias-free top-k since Mixtral-style routing has no probability bias term.
package sample

import (
	"math"
	"math/rand"
	"sort"

	"github.com/kilnrun/kiln/ml"
)

// Args is spec.md §3's SampleArgs: value-typed and cheaply copied.
type Args struct {
	Temperature float32
	TopK        int
	TopP        float32
}

// Greedy is the deterministic temperature=0 configuration spec.md's S1/S5
// scenarios rely on for reproducible argmax sampling.
var Greedy = Args{Temperature: 0}

// Pick samples one token from a row of logits according to args. A rng of
// nil uses the package-level source; tests pass a seeded *rand.Rand for
// determinism.
func Pick(args Args, logits []float32, rng *rand.Rand) ml.Token {
	if args.Temperature <= 0 {
		return ml.Token(argmax(logits))
	}

	scaled := make([]float32, len(logits))
	for i, v := range logits {
		scaled[i] = v / args.Temperature
	}

	probs := softmax(scaled)

	idx := make([]int, len(probs))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(i, j int) bool { return probs[idx[i]] > probs[idx[j]] })

	if args.TopK > 0 && args.TopK < len(idx) {
		idx = idx[:args.TopK]
	}

	if args.TopP > 0 && args.TopP < 1 {
		idx = nucleus(idx, probs, args.TopP)
	}

	var sum float32
	for _, i := range idx {
		sum += probs[i]
	}

	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	r := rng.Float32() * sum

	var cum float32
	for _, i := range idx {
		cum += probs[i]
		if r <= cum {
			return ml.Token(i)
		}
	}
	return ml.Token(idx[len(idx)-1])
}

func nucleus(idx []int, probs []float32, topP float32) []int {
	var cum float32
	for i, id := range idx {
		cum += probs[id]
		if cum >= topP {
			return idx[:i+1]
		}
	}
	return idx
}

func argmax(logits []float32) int {
	best := 0
	for i, v := range logits {
		if v > logits[best] {
			best = i
		}
	}
	return best
}

// softmax uses the numerically stable subtract-max form, per spec.md §4.2.
func softmax(logits []float32) []float32 {
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

// TopKWeighted returns the indices and weights of the k highest-scoring
// entries of scores, sorted by descending score, in ascending expert-rank
// order for ties (spec.md §9: "the source accumulates in ascending
// expert-rank order"). Used both for MoE routing and as the generic building
// block scenario S5 exercises directly.
func TopKWeighted(scores []float32, k int) (indices []int, weights []float32) {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool { return scores[idx[i]] > scores[idx[j]] })
	if k > len(idx) {
		k = len(idx)
	}
	idx = idx[:k]

	weights = make([]float32, k)
	for i, id := range idx {
		weights[i] = scores[id]
	}
	return idx, weights
}
