// Package kvcache implements the KV-Cache Object (C3): token-indexed
// key/value storage for one session, supporting append, slice, duplicate,
// revert, and sliding-window eviction. It is grounded in the teacher's
// kvcache.Causal (constructors.go, sequence_ops.go, tensor_ops.go,
// forward.go) but simplified from that package's shared multi-sequence cell
// array down to the single-sequence-per-Cache model spec.md §3 describes:
// every session owns one Cache, rather than many sequences sharing one cell
// table, so there is no cellRanges bookkeeping — only the start/end/tokens
// triple the spec names.
package kvcache

import (
	"fmt"

	"github.com/kilnrun/kiln/kilnerr"
	"github.com/kilnrun/kiln/ml"
)

// Cache is the KV-cache object described in spec.md §3. Physically it holds
// one key and one value tensor per transformer layer, each shaped
// [headDim, numKVHeads, maxSeqLen] (ggml dimension order: fastest axis
// first). The physical slot for absolute token position p is p-start; the
// cache never needs to wrap because Session-level sliding-window eviction
// (ResetWith) always rebases start forward before the physical window would
// overflow.
type Cache struct {
	tokens []ml.Token // tokens[i] is absolute position base+i
	base   int32      // absolute position of tokens[0]
	start  int32       // first token physically retained (cached_range lower bound)
	end    int32       // one past the last token whose KV has been computed

	maxSeqLen  int32
	numLayers  int
	numKVHeads int
	headDim    int
	dtype      ml.DType

	keys   []*ml.Tensor // per layer
	values []*ml.Tensor // per layer
}

// New allocates an empty cache (per spec.md §4.1 Backend.new_cache / §4.3
// Cache.new) for a backend whose shape is (numLayers, numKVHeads, headDim,
// maxSeqLen) in the given dtype, optionally seeded with initialTokens.
func New(numLayers, numKVHeads, headDim int, maxSeqLen int32, dtype ml.DType, initialTokens []ml.Token) *Cache {
	c := &Cache{
		maxSeqLen:  maxSeqLen,
		numLayers:  numLayers,
		numKVHeads: numKVHeads,
		headDim:    headDim,
		dtype:      dtype,
		keys:       make([]*ml.Tensor, numLayers),
		values:     make([]*ml.Tensor, numLayers),
	}
	c.tokens = append([]ml.Token{}, initialTokens...)
	for l := 0; l < numLayers; l++ {
		c.keys[l] = ml.Zeros(dtype, headDim, numKVHeads, int(maxSeqLen))
		c.values[l] = ml.Zeros(dtype, headDim, numKVHeads, int(maxSeqLen))
	}
	return c
}

func (c *Cache) NumLayers() int   { return c.numLayers }
func (c *Cache) NumKVHeads() int  { return c.numKVHeads }
func (c *Cache) HeadDim() int     { return c.headDim }
func (c *Cache) MaxSeqLen() int32 { return c.maxSeqLen }
func (c *Cache) DType() ml.DType  { return c.dtype }

// Start is the absolute index of the first physically retained token.
func (c *Cache) Start() int32 { return c.start }

// End returns the index one past the last token whose KV has been computed.
func (c *Cache) End() int32 { return c.end }

// CachedRange returns [start, end), the window whose KV tensors are valid.
func (c *Cache) CachedRange() (int32, int32) { return c.start, c.end }

// Len returns the length of the full logical token prefix the cache
// represents (spec.md §3's len(tokens)).
func (c *Cache) Len() int32 { return c.base + int32(len(c.tokens)) }

// Tokens returns the full logical token list the cache represents, from its
// base position onward (tokens the cache's history before base have already
// been dropped by CleanupBeforeStart).
func (c *Cache) Tokens() []ml.Token { return c.tokens }

// SliceTail borrows tokens from absolute position from to the end.
func (c *Cache) SliceTail(from int32) []ml.Token {
	return c.tokens[from-c.base:]
}

// TokenAt returns the token at absolute position pos.
func (c *Cache) TokenAt(pos int32) ml.Token {
	return c.tokens[pos-c.base]
}

// Extend appends tokens to the logical token list. It does not advance end —
// KV is only produced by a forward pass.
func (c *Cache) Extend(tokens []ml.Token) {
	c.tokens = append(c.tokens, tokens...)
}

// Push appends a single token.
func (c *Cache) Push(token ml.Token) { c.Extend([]ml.Token{token}) }

// Revert shrinks the logical token list to length n. If n < start the
// physical window cannot be rolled back that far and ErrRevertPastStart is
// returned; the cache is left unchanged in that case.
func (c *Cache) Revert(n int32) error {
	if n < c.start {
		return fmt.Errorf("kvcache: revert to %d: %w (start=%d)", n, kilnerr.ErrRevertPastStart, c.start)
	}
	if n < c.base {
		return fmt.Errorf("kvcache: revert to %d: before retained prefix (base=%d)", n, c.base)
	}
	c.tokens = c.tokens[:n-c.base]
	if c.end > n {
		c.end = n
	}
	return nil
}

// ResetWith discards the KV window but keeps the logical token list,
// rebasing base, start, and end to pos — the absolute position of tokens[0].
// This is the sliding-window eviction policy spec.md §4.5/§9 leaves as an
// implementation choice: drop the tokens that no longer fit, recompute their
// KV lazily on the next forward pass. start and end land on pos, not on
// pos+len(tokens): none of the retained suffix's KV survives the reset, so
// end must stay behind Len() for the next forward to see a pending range and
// actually recompute it, instead of mistaking the slide for already-decoded
// history. The physical key/value storage is zeroed since its contents at
// the old offsets are no longer addressable (slot = position - start, and
// start just moved).
func (c *Cache) ResetWith(tokens []ml.Token, pos int32) {
	c.tokens = append([]ml.Token{}, tokens...)
	c.base = pos
	c.start = pos
	c.end = pos
	for l := range c.keys {
		c.keys[l] = ml.Zeros(c.dtype, c.headDim, c.numKVHeads, int(c.maxSeqLen))
		c.values[l] = ml.Zeros(c.dtype, c.headDim, c.numKVHeads, int(c.maxSeqLen))
	}
}

// CleanupBeforeStart drops tokens physically preceding start from the
// logical token list, once they are no longer needed to satisfy a Revert.
func (c *Cache) CleanupBeforeStart() {
	if c.start <= c.base {
		return
	}
	cut := c.start - c.base
	c.tokens = c.tokens[cut:]
	c.base = c.start
}

// Duplicate deep-copies both the token list and the physical KV tensors for
// the valid [start, end) window, grounded in the teacher's CopyPrefix
// (kvcache/sequence_ops.go), generalized from "copy a prefix between shared
// sequences in one cell table" to "copy this session's whole cache".
func (c *Cache) Duplicate() *Cache {
	d := &Cache{
		tokens:     append([]ml.Token{}, c.tokens...),
		base:       c.base,
		start:      c.start,
		end:        c.end,
		maxSeqLen:  c.maxSeqLen,
		numLayers:  c.numLayers,
		numKVHeads: c.numKVHeads,
		headDim:    c.headDim,
		dtype:      c.dtype,
		keys:       make([]*ml.Tensor, c.numLayers),
		values:     make([]*ml.Tensor, c.numLayers),
	}
	for l := range c.keys {
		d.keys[l] = c.keys[l].Clone()
		d.values[l] = c.values[l].Clone()
	}
	return d
}

// KeyLayer returns the physical key tensor for layer l, shaped
// [headDim, numKVHeads, maxSeqLen].
func (c *Cache) KeyLayer(l int) *ml.Tensor { return c.keys[l] }

// ValueLayer returns the physical value tensor for layer l.
func (c *Cache) ValueLayer(l int) *ml.Tensor { return c.values[l] }

// Slot returns the physical storage index for absolute position pos.
func (c *Cache) Slot(pos int32) int { return int(pos - c.start) }

// Advance marks KV as computed through position end, called by a Backend's
// Forward once it has written a query's last layer's KV for this pass.
func (c *Cache) Advance(end int32) {
	if end > c.end {
		c.end = end
	}
}
