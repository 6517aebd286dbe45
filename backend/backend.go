// Package backend defines the Causal-LM Backend Contract (C1): the uniform
// capability surface any backend — CPU, single-GPU-shaped, or multi-GPU-MoE —
// must honor, per spec.md §4.1. It sits above ml (raw tensors/contexts) and
// kvcache (per-session KV storage) the way the teacher's model.Model sits
// above ml.Backend, except here the whole forward/decode/sample contract is
// one interface, matching spec.md's C1 rather than the teacher's split.
package backend

import (
	"github.com/kilnrun/kiln/kvcache"
	"github.com/kilnrun/kiln/ml"
)

// QueryContext is a borrowed view of a cache plus the token range currently
// being forwarded, per spec.md §3.
type QueryContext struct {
	Cache *kvcache.Cache
	Pos   int32 // number of prior tokens (range start)
	Len   int32 // seq_len_i (range length)
}

// DecodingMeta selects which rows of a forward's hidden state contribute to
// decode: num_query_tokens is implicit in the matching QueryContext, and
// num_decode picks how many trailing rows produce logits (almost always 1;
// spec.md leaves room for more, used by no backend here).
type DecodingMeta struct {
	NumQueryTokens int
	NumDecode      int
}

// SampleMeta is the per-request sampling configuration passed alongside a
// logits batch; it is spec.md's SampleArgs under the Sample call.
type SampleMeta struct {
	Temperature float32
	TopK        int
	TopP        float32
}

// Backend is the Causal-LM Backend Contract from spec.md §4.1. All methods
// may be called from any thread but are internally serialized by the
// Dispatcher, so implementations need not be reentrant — only Forward is
// stateful with respect to caches; TokenEmbed, Decode, and Sample are pure
// with respect to session state.
type Backend interface {
	MaxSeqLen() int32
	BOSToken() ml.Token
	EOSToken() ml.Token

	// NewCache returns an empty cache, zero tokens.
	NewCache() *kvcache.Cache

	// DuplicateCache produces a cache holding the first pos tokens of src,
	// with KV tensors physically copied for that window.
	DuplicateCache(src *kvcache.Cache, pos int32) *kvcache.Cache

	// TokenEmbed gathers embeddings into a dense [hidden, numTokens] tensor.
	TokenEmbed(ctx *ml.Context, tokens []ml.Token) *ml.Tensor

	// Forward runs all transformer layers over the concatenated token batch,
	// mutating each query's cache in place, and returns the same hidden-state
	// tensor it was given.
	Forward(ctx *ml.Context, queries []QueryContext, embedded *ml.Tensor) (*ml.Tensor, error)

	// Decode applies the final norm and LM head to the last-token-per-request
	// subset selected by meta.
	Decode(ctx *ml.Context, meta []DecodingMeta, hidden *ml.Tensor) (*ml.Tensor, error)

	// Sample performs temperature/top-k/top-p sampling, one token per entry
	// in args, reading logits as a flat [vocabSize * len(args)] buffer.
	Sample(args []SampleMeta, logits *ml.Tensor) ([]ml.Token, error)
}
