// Package session implements the Session & Generator (C6): user-visible
// handles that maintain dialog history, own a KV-cache, submit tasks to a
// Dispatcher, and stream decoded strings, per spec.md §4.6.
package session

import "github.com/kilnrun/kiln/ml"

// Dialog is the session's conversation history, modeled per spec.md §9 as a
// sum type with parity: rather than tagging each sentence with a role,
// index parity (even=user, odd=assistant) suffices given the chat
// template's strict alternation. Each sentence retains its own token list
// so a revert whose target predates the cache's physically retained window
// (kvcache.Cache.start) can still be rebuilt — Dialog, unlike Cache, never
// forgets tokens on its own.
type Dialog struct {
	sentences [][]ml.Token
}

// NewDialog returns an empty dialog.
func NewDialog() *Dialog {
	return &Dialog{}
}

// NumSentences reports how many sentences the dialog holds.
func (d *Dialog) NumSentences() int { return len(d.sentences) }

// NumTokens returns the total token count across every sentence
// (spec.md §8 property 2's dialog.num_tokens()).
func (d *Dialog) NumTokens() int32 {
	var n int32
	for _, s := range d.sentences {
		n += int32(len(s))
	}
	return n
}

// IsUserTurn reports whether the next pushed sentence would be a user turn
// (even index), per the parity convention.
func (d *Dialog) IsUserTurn() bool { return len(d.sentences)%2 == 0 }

// Push appends a new sentence.
func (d *Dialog) Push(tokens []ml.Token) {
	d.sentences = append(d.sentences, append([]ml.Token{}, tokens...))
}

// Revert truncates the dialog to its first n sentences.
func (d *Dialog) Revert(n int) {
	d.sentences = d.sentences[:n]
}

// Tokens flattens every retained sentence into one token slice, in order.
func (d *Dialog) Tokens() []ml.Token {
	var out []ml.Token
	for _, s := range d.sentences {
		out = append(out, s...)
	}
	return out
}

// Clone deep-copies the dialog, used by Session.Fork so the new session's
// history diverges independently of the original's.
func (d *Dialog) Clone() *Dialog {
	c := &Dialog{sentences: make([][]ml.Token, len(d.sentences))}
	for i, s := range d.sentences {
		c.sentences[i] = append([]ml.Token{}, s...)
	}
	return c
}

// window returns the most recent suffix of tokens that fits within
// maxSeqLen, paired with the base position that suffix starts at — the
// helper spec.md §4.6 names for reset_with(window(max_seq_len)) sliding-
// window eviction, used both for a cache outgrowing the physical window
// during chat() and for reverting past the cache's retained start. total is
// the absolute position one past tokens' last element; the returned base is
// total minus the kept suffix's length, i.e. where the retained window
// begins and the KV cache must recompute from on the next forward pass.
func window(tokens []ml.Token, total int32, maxSeqLen int32) ([]ml.Token, int32) {
	if int32(len(tokens)) > maxSeqLen {
		tokens = tokens[int32(len(tokens))-maxSeqLen:]
	}
	return tokens, total - int32(len(tokens))
}
