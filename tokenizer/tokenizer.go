// Package tokenizer implements the Tokenizer external interface (spec.md §6):
// encode/decode between text and Token, with two auto-detected variants
// selected by file presence in the model directory. The byte-pair-common /
// identity Normalizer that runs ahead of encoding is in package normalizer.
package tokenizer

import (
	"github.com/kilnrun/kiln/kilnerr"
	"github.com/kilnrun/kiln/ml"
)

// Tokenizer is spec.md §6's consumed Tokenizer interface.
type Tokenizer interface {
	Encode(s string) []ml.Token
	Decode(tokens ...ml.Token) string
}

// Detect picks a Tokenizer implementation by file presence, per spec.md §6:
// tokenizer.model → BPE; vocabs.txt → linear-piece; neither is fatal.
func Detect(files map[string][]byte) (Tokenizer, error) {
	if vocab, ok := files["tokenizer.model"]; ok {
		return NewBPE(vocab)
	}
	if vocab, ok := files["vocabs.txt"]; ok {
		return NewLinear(vocab)
	}
	return nil, kilnerr.ErrMissingTokenizer
}
