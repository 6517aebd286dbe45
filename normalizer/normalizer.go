// Package normalizer implements the Normalizer external interface (spec.md
// §6): text normalization ahead of tokenization. golang.org/x/text is a
// direct dependency of the teacher's go.mod; text normalization is its
// canonical use, so NFC normalization is delegated to
// golang.org/x/text/unicode/norm rather than hand-rolled.
package normalizer

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// sentencePieceSpace is the metaspace marker SentencePiece-style byte-pair
// tokenizers use in place of a literal space.
const sentencePieceSpace = "▁"

// Normalizer is spec.md §6's consumed Normalizer interface.
type Normalizer interface {
	Encode(s string) string
}

// Identity returns its input unchanged, for tokenizers that need no
// pre-processing.
type Identity struct{}

func (Identity) Encode(s string) string { return s }

// BytePairCommon NFC-normalizes, then inserts a leading metaspace marker and
// maps every space to it, matching the SentencePiece convention BPE models
// in this family expect (spec.md §6).
type BytePairCommon struct{}

func (BytePairCommon) Encode(s string) string {
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, " ", sentencePieceSpace)
	if !strings.HasPrefix(s, sentencePieceSpace) {
		s = sentencePieceSpace + s
	}
	return s
}
