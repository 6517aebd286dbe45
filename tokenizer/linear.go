package tokenizer

import (
	"bufio"
	"bytes"
	"sort"
	"strconv"
	"strings"

	"github.com/kilnrun/kiln/ml"
)

// Linear is the sorted-vocab greedy longest-match tokenizer selected when
// vocabs.txt is present (spec.md §6) — no merges, no pretokenizer, a single
// flat piece table tried longest-first, grounded in the teacher's
// convert/tokenizer_parser.go encodeWordPieceInto greedy-longest-match loop
// but without the "##" continuation-piece distinction WordPiece needs, since
// this format carries no such marker.
type Linear struct {
	vocab   map[string]int32
	reverse map[int32]string
	pieces  []string // sorted longest-first
	maxLen  int
}

// NewLinear parses a vocabs.txt of "<piece> <id>" lines.
func NewLinear(data []byte) (*Linear, error) {
	l := &Linear{
		vocab:   make(map[string]int32),
		reverse: make(map[int32]string),
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) != 2 {
			continue
		}
		id, err := strconv.ParseInt(parts[1], 10, 32)
		if err != nil {
			continue
		}
		l.vocab[parts[0]] = int32(id)
		l.reverse[int32(id)] = parts[0]
		l.pieces = append(l.pieces, parts[0])
		if len(parts[0]) > l.maxLen {
			l.maxLen = len(parts[0])
		}
	}
	sort.Slice(l.pieces, func(i, j int) bool { return len(l.pieces[i]) > len(l.pieces[j]) })
	return l, nil
}

func (l *Linear) Encode(s string) []ml.Token {
	var tokens []ml.Token
	b := []byte(s)
	for len(b) > 0 {
		matched := false
		limit := l.maxLen
		if limit > len(b) {
			limit = len(b)
		}
		for n := limit; n > 0; n-- {
			candidate := string(b[:n])
			if id, ok := l.vocab[candidate]; ok {
				tokens = append(tokens, ml.Token(id))
				b = b[n:]
				matched = true
				break
			}
		}
		if !matched {
			// Unknown byte: skip it rather than emit a malformed token,
			// since this format has no dedicated unk piece guaranteed.
			b = b[1:]
		}
	}
	return tokens
}

func (l *Linear) Decode(tokens ...ml.Token) string {
	var sb strings.Builder
	for _, t := range tokens {
		if piece, ok := l.reverse[int32(t)]; ok {
			sb.WriteString(piece)
		}
	}
	return sb.String()
}
