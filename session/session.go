package session

import (
	"sync"

	"github.com/kilnrun/kiln/backend"
	"github.com/kilnrun/kiln/batcher"
	"github.com/kilnrun/kiln/dispatcher"
	"github.com/kilnrun/kiln/kilnerr"
	"github.com/kilnrun/kiln/kvcache"
	"github.com/kilnrun/kiln/normalizer"
	"github.com/kilnrun/kiln/template"
	"github.com/kilnrun/kiln/tokenizer"
)

// Session is spec.md §3's `{backend ref, tokenizer ref, template ref,
// dialog, cache?, sample}`: a user-visible handle owning one conversation's
// dialog and KV-cache. The backend, tokenizer, normalizer, template, and
// dispatcher are shared, read-only, multi-owner collaborators (spec.md §9) —
// every Session holds the same references, never its own copy.
type Session struct {
	mu sync.Mutex

	be         backend.Backend
	tok        tokenizer.Tokenizer
	norm       normalizer.Normalizer
	tmpl       template.Template
	dispatcher *dispatcher.Dispatcher

	dialog *Dialog
	cache  *kvcache.Cache // nil while a BusySession has borrowed it
	sample backend.SampleMeta
}

// New constructs an empty Session over the given shared collaborators.
func New(be backend.Backend, tok tokenizer.Tokenizer, norm normalizer.Normalizer, tmpl template.Template, disp *dispatcher.Dispatcher, sample backend.SampleMeta) *Session {
	return &Session{
		be:         be,
		tok:        tok,
		norm:       norm,
		tmpl:       tmpl,
		dispatcher: disp,
		dialog:     NewDialog(),
		cache:      be.NewCache(),
		sample:     sample,
	}
}

// SetSample updates the sampling configuration applied to this session's
// future chat() calls, backing the CLI's `/args` command.
func (s *Session) SetSample(sample backend.SampleMeta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sample = sample
}

// Extend renders each message through the template, normalizes, tokenizes,
// extends the cache, and pushes a dialog sentence per message, per
// spec.md §4.6. The chat template's bos is only emitted ahead of the very
// first sentence; eos (the EOS token's decoded text) is passed to the
// template for every turn, and the rendered text, eos included, is
// tokenized as a whole.
func (s *Session) Extend(messages []template.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	eos := s.tok.Decode(s.be.EOSToken())
	for _, m := range messages {
		bos := ""
		if s.dialog.NumSentences() == 0 {
			bos = s.tok.Decode(s.be.BOSToken())
		}
		rendered := s.tmpl.Render([]template.Message{m}, bos, eos, false)
		normalized := s.norm.Encode(rendered)
		tokens := s.tok.Encode(normalized)
		s.cache.Extend(tokens)
		s.dialog.Push(tokens)
	}
}

// Revert rolls the dialog and cache back to the first n sentences. If n
// exceeds the dialog's current sentence count, it returns a *kilnerr.ChatError
// and leaves the session unchanged (spec.md §7, §8 property 4 — repeated
// calls with the same valid n are idempotent since Revert is computed from
// the dialog's current state each time).
func (s *Session) Revert(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	have := s.dialog.NumSentences()
	if n > have {
		return &kilnerr.ChatError{Kind: kilnerr.ChatErrorRevertOutOfRange, Requests: n, Have: have}
	}

	s.dialog.Revert(n)
	newLen := s.dialog.NumTokens()

	if err := s.cache.Revert(newLen); err != nil {
		// The physical window no longer reaches back to newLen (its tokens
		// were dropped by a prior CleanupBeforeStart); rebuild the cache's
		// logical token list from the dialog, which never forgets, and
		// drop the KV window entirely for lazy recomputation.
		tokens := s.dialog.Tokens()
		kept, pos := window(tokens, int32(len(tokens)), s.be.MaxSeqLen())
		s.cache.ResetWith(kept, pos)
	}
	return nil
}

// Fork clones the dialog and duplicates the cache, returning an independent
// Session sharing every other collaborator (spec.md §4.6, §8 property 3).
func (s *Session) Fork() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	return &Session{
		be:         s.be,
		tok:        s.tok,
		norm:       s.norm,
		tmpl:       s.tmpl,
		dispatcher: s.dispatcher,
		dialog:     s.dialog.Clone(),
		cache:      s.be.DuplicateCache(s.cache, s.cache.Len()),
		sample:     s.sample,
	}
}

// Chat consumes the session's cache, submits a Task to the Dispatcher, and
// returns a BusySession borrowing it, per spec.md §4.6. Call Extend with the
// pending user turn before calling Chat.
func (s *Session) Chat() *BusySession {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cache.Len() >= s.be.MaxSeqLen() {
		tokens, pos := window(s.cache.Tokens(), s.cache.Len(), s.be.MaxSeqLen())
		s.cache.ResetWith(tokens, pos)
	}

	cache := s.cache
	s.cache = nil

	task := batcher.NewTask(cache, s.sample)
	s.dispatcher.Submit(task)

	return &BusySession{session: s, task: task}
}
