package tokenizer

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"

	"github.com/dlclark/regexp2"

	"github.com/kilnrun/kiln/ml"
)

// gpt2SplitPattern is the classic GPT-2 pretokenizer split pattern; its
// negative lookahead (`(?!\S)`) is why this package reaches for
// github.com/dlclark/regexp2 rather than the stdlib regexp package, the same
// reason the teacher's go.mod carries it (grounded in
// convert/tokenizer_parser.go's pretokenizer-hash detection, which
// recognizes exactly this family of Split patterns).
const gpt2SplitPattern = `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+(?!\S)|\s+`

// byteToRune is the GPT-2 byte-level encoding table: every byte value maps
// to a printable rune so arbitrary binary input can be represented as text
// before BPE merging, grounded in the teacher's x/imagegen/tokenizer
// byteToRune lookup used the same way in encodeChunkInto.
var byteToRune [256]rune
var runeToByte map[rune]byte

func init() {
	n := rune(0)
	next := rune(256)
	for b := 0; b < 256; b++ {
		printable := (b >= '!' && b <= '~') || (b >= 0xA1 && b <= 0xAC) || (b >= 0xAE && b <= 0xFF)
		if printable {
			byteToRune[b] = rune(b)
		} else {
			byteToRune[b] = next
			next++
		}
		n++
	}
	runeToByte = make(map[rune]byte, 256)
	for b, r := range byteToRune {
		runeToByte[r] = byte(b)
	}
}

// BPE is a byte-level BPE encoder/decoder, selected when tokenizer.model is
// present (spec.md §6).
type BPE struct {
	vocab    map[string]int32
	reverse  map[int32]string
	merges   map[string]int
	splitter *regexp2.Regexp
}

// NewBPE parses a vocab file of the simplified line format "<token> <id>"
// followed by a blank line and then BPE merge rules "<a> <b>" in priority
// order — the minimal subset of a real tokenizer.model's information this
// module needs, mirroring how the teacher's own convert/tokenizer_parser.go
// reduces a much richer HuggingFace tokenizer.json down to a Vocabulary +
// Merges pair before use.
func NewBPE(data []byte) (*BPE, error) {
	b := &BPE{
		vocab:    make(map[string]int32),
		reverse:  make(map[int32]string),
		merges:   make(map[string]int),
		splitter: regexp2.MustCompile(gpt2SplitPattern, regexp2.None),
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	inMerges := false
	rank := 0
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			inMerges = true
			continue
		}
		if !inMerges {
			parts := strings.Fields(line)
			if len(parts) != 2 {
				continue
			}
			id, err := strconv.ParseInt(parts[1], 10, 32)
			if err != nil {
				continue
			}
			b.vocab[parts[0]] = int32(id)
			b.reverse[int32(id)] = parts[0]
		} else {
			b.merges[line] = rank
			rank++
		}
	}
	return b, nil
}

func (b *BPE) Encode(s string) []ml.Token {
	var ids []int32
	m, _ := b.splitter.FindStringMatch(s)
	for m != nil {
		ids = b.encodeChunk(m.String(), ids)
		m, _ = b.splitter.FindNextMatch(m)
	}
	tokens := make([]ml.Token, len(ids))
	for i, id := range ids {
		tokens[i] = ml.Token(id)
	}
	return tokens
}

func (b *BPE) encodeChunk(chunk string, ids []int32) []int32 {
	var sb strings.Builder
	sb.Grow(len(chunk) * 2)
	for i := 0; i < len(chunk); i++ {
		sb.WriteRune(byteToRune[chunk[i]])
	}
	encoded := sb.String()

	if id, ok := b.vocab[encoded]; ok {
		return append(ids, id)
	}
	return b.mergeAndEmit(encoded, ids)
}

// mergeAndEmit repeatedly merges the lowest-rank adjacent pair until none
// apply, then emits each resulting piece's vocab id (falling back to
// per-byte emission for a piece the vocab never learned), grounded directly
// in the teacher's encodeBPEMerge.
func (b *BPE) mergeAndEmit(encoded string, ids []int32) []int32 {
	runes := []rune(encoded)
	parts := make([]string, len(runes))
	for i, r := range runes {
		parts[i] = string(r)
	}

	for len(parts) > 1 {
		minRank := int(^uint(0) >> 1)
		minIdx := -1
		for i := 0; i < len(parts)-1; i++ {
			key := parts[i] + " " + parts[i+1]
			if rank, ok := b.merges[key]; ok && rank < minRank {
				minRank = rank
				minIdx = i
			}
		}
		if minIdx < 0 {
			break
		}
		parts[minIdx] += parts[minIdx+1]
		parts = append(parts[:minIdx+1], parts[minIdx+2:]...)
	}

	for _, part := range parts {
		if id, ok := b.vocab[part]; ok {
			ids = append(ids, id)
			continue
		}
		for _, r := range part {
			if by, ok := runeToByte[r]; ok {
				if id, ok := b.vocab[string(byteToRune[by])]; ok {
					ids = append(ids, id)
				}
			}
		}
	}
	return ids
}

func (b *BPE) Decode(tokens ...ml.Token) string {
	var sb strings.Builder
	for _, t := range tokens {
		piece, ok := b.reverse[int32(t)]
		if !ok {
			continue
		}
		for _, r := range piece {
			if by, ok := runeToByte[r]; ok {
				sb.WriteByte(by)
			} else {
				sb.WriteRune(r)
			}
		}
	}
	return sb.String()
}
