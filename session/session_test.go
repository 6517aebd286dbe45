package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kilnrun/kiln/backend"
	"github.com/kilnrun/kiln/dispatcher"
	"github.com/kilnrun/kiln/kvcache"
	"github.com/kilnrun/kiln/ml"
	"github.com/kilnrun/kiln/normalizer"
	"github.com/kilnrun/kiln/template"
)

// fakeTokenizer encodes one token per rune (the rune value itself), so
// Encode/Decode round-trip losslessly for any printable text; control
// tokens (bos/eos, both below 32) decode to nothing, matching how a real
// tokenizer's special tokens render as empty strings.
type fakeTokenizer struct{}

func (fakeTokenizer) Encode(s string) []ml.Token {
	toks := make([]ml.Token, 0, len(s))
	for _, r := range s {
		toks = append(toks, ml.Token(r))
	}
	return toks
}

func (fakeTokenizer) Decode(tokens ...ml.Token) string {
	var sb strings.Builder
	for _, t := range tokens {
		if t < 32 {
			continue
		}
		sb.WriteRune(rune(t))
	}
	return sb.String()
}

// fakeBackend is a minimal backend.Backend whose Sample always returns EOS:
// Forward still advances each query's cache the way a real backend's
// attention step does (the Dispatcher relies on that to make progress), but
// every generation is exactly one (empty-text) assistant turn, which is
// enough to exercise Session/BusySession's dialog-reconciliation paths
// without needing a real model.
type fakeBackend struct {
	maxSeqLen int32
}

func newFakeBackend() *fakeBackend { return &fakeBackend{maxSeqLen: 4096} }

// newFakeBackendWithMaxSeqLen builds a backend with a small physical window,
// so a test can submit a prompt longer than maxSeqLen without needing
// thousands of tokens to exercise the sliding-window eviction path.
func newFakeBackendWithMaxSeqLen(n int32) *fakeBackend { return &fakeBackend{maxSeqLen: n} }

func (f *fakeBackend) MaxSeqLen() int32   { return f.maxSeqLen }
func (f *fakeBackend) BOSToken() ml.Token { return 1 }
func (f *fakeBackend) EOSToken() ml.Token { return 2 }

func (f *fakeBackend) NewCache() *kvcache.Cache {
	return kvcache.New(1, 1, 4, f.maxSeqLen, ml.DTypeF32, nil)
}

func (f *fakeBackend) DuplicateCache(src *kvcache.Cache, pos int32) *kvcache.Cache {
	dup := src.Duplicate()
	_ = dup.Revert(pos)
	return dup
}

func (f *fakeBackend) TokenEmbed(ctx *ml.Context, tokens []ml.Token) *ml.Tensor {
	return ctx.Zeros(ml.DTypeF32, 1, len(tokens))
}

func (f *fakeBackend) Forward(ctx *ml.Context, queries []backend.QueryContext, embedded *ml.Tensor) (*ml.Tensor, error) {
	for _, q := range queries {
		q.Cache.Advance(q.Pos + q.Len)
	}
	return embedded, nil
}

func (f *fakeBackend) Decode(ctx *ml.Context, meta []backend.DecodingMeta, hidden *ml.Tensor) (*ml.Tensor, error) {
	return ctx.Zeros(ml.DTypeF32, len(meta)), nil
}

func (f *fakeBackend) Sample(args []backend.SampleMeta, logits *ml.Tensor) ([]ml.Token, error) {
	out := make([]ml.Token, len(args))
	for i := range args {
		out[i] = 2 // EOS, always
	}
	return out, nil
}

func newTestSession(t *testing.T, be *fakeBackend) (*Session, *dispatcher.Dispatcher) {
	t.Helper()
	disp := dispatcher.New(be, 64)
	s := New(be, fakeTokenizer{}, normalizer.Identity{}, template.CJK{}, disp, backend.SampleMeta{Temperature: 1})
	return s, disp
}

func TestSessionExtendPushesDialogAndCache(t *testing.T) {
	be := newFakeBackend()
	s, disp := newTestSession(t, be)
	defer disp.Shutdown()

	s.Extend([]template.Message{{Role: template.RoleUser, Content: "hi"}})

	if got := s.dialog.NumSentences(); got != 1 {
		t.Errorf("NumSentences() = %d, want 1", got)
	}
	if s.cache.Len() == 0 {
		t.Errorf("cache.Len() = 0 after Extend, want > 0")
	}
}

func TestSessionRevertOutOfRangeReturnsChatError(t *testing.T) {
	be := newFakeBackend()
	s, disp := newTestSession(t, be)
	defer disp.Shutdown()

	s.Extend([]template.Message{{Role: template.RoleUser, Content: "hi"}})

	err := s.Revert(5)
	if err == nil {
		t.Fatalf("Revert(5) with only 1 sentence: want error, got nil")
	}
	if s.dialog.NumSentences() != 1 {
		t.Errorf("Revert with out-of-range n mutated the dialog: NumSentences() = %d, want unchanged 1", s.dialog.NumSentences())
	}
}

func TestSessionRevertIsIdempotentForValidN(t *testing.T) {
	be := newFakeBackend()
	s, disp := newTestSession(t, be)
	defer disp.Shutdown()

	s.Extend([]template.Message{
		{Role: template.RoleUser, Content: "one"},
		{Role: template.RoleAssistant, Content: "two"},
		{Role: template.RoleUser, Content: "three"},
	})

	if err := s.Revert(1); err != nil {
		t.Fatalf("Revert(1): unexpected error %v", err)
	}
	lenAfterFirst := s.cache.Len()

	if err := s.Revert(1); err != nil {
		t.Fatalf("second Revert(1): unexpected error %v", err)
	}
	if s.cache.Len() != lenAfterFirst {
		t.Errorf("repeated Revert(1) changed cache.Len(): %d vs %d", s.cache.Len(), lenAfterFirst)
	}
	if s.dialog.NumSentences() != 1 {
		t.Errorf("NumSentences() after Revert(1) = %d, want 1", s.dialog.NumSentences())
	}
}

func TestSessionForkIsIndependent(t *testing.T) {
	be := newFakeBackend()
	s, disp := newTestSession(t, be)
	defer disp.Shutdown()

	s.Extend([]template.Message{{Role: template.RoleUser, Content: "hi"}})

	forked := s.Fork()
	forked.Extend([]template.Message{{Role: template.RoleAssistant, Content: "yo"}})

	if s.dialog.NumSentences() == forked.dialog.NumSentences() {
		t.Errorf("Fork: extending the fork affected the original session's dialog")
	}
	if s.cache == forked.cache {
		t.Errorf("Fork: forked session shares the same cache pointer as the original")
	}
}

func TestBusySessionDecodeStreamsUntilEOSAndReconcilesDialog(t *testing.T) {
	be := newFakeBackend()
	s, disp := newTestSession(t, be)
	defer disp.Shutdown()

	s.Extend([]template.Message{{Role: template.RoleUser, Content: "hi"}})
	bs := s.Chat()

	// The dispatcher's step() calls fakeBackend.Sample once per cycle; we
	// can't script per-call return values from outside easily, so instead
	// rely on the always-EOS fakeBackend.Sample: the very first cycle
	// returns EOS, and Decode should observe it immediately.
	ctx := context.Background()
	text, more, err := bs.Decode(ctx)
	if err != nil {
		t.Fatalf("Decode: unexpected error %v", err)
	}
	if more {
		t.Fatalf("Decode with an always-EOS backend: more = true, want false")
	}
	if text != "" {
		t.Errorf("Decode on EOS: text = %q, want empty", text)
	}

	if s.cache == nil {
		t.Fatalf("session cache was not returned to the session after EOS close")
	}
	if s.dialog.NumSentences() != 2 {
		t.Errorf("NumSentences() after EOS-only generation = %d, want 2 (prompt + a recorded, empty-text assistant turn)", s.dialog.NumSentences())
	}
}

func TestBusySessionCancelReturnsCacheAndReconcilesDialog(t *testing.T) {
	be := newFakeBackend()
	s, disp := newTestSession(t, be)
	defer disp.Shutdown()

	s.Extend([]template.Message{{Role: template.RoleUser, Content: "hi"}})
	bs := s.Chat()

	// Give the dispatcher a moment to push at least the scripted EOS once;
	// Cancel before reading Decode at all models an early abandonment.
	time.Sleep(20 * time.Millisecond)
	bs.Cancel()

	if s.cache == nil {
		t.Fatalf("session cache was not returned to the session after Cancel")
	}
	if s.dialog.NumSentences() != 2 {
		t.Errorf("NumSentences() after Cancel = %d, want 2 (prompt + reconciled assistant sentence)", s.dialog.NumSentences())
	}
}

func TestBusySessionCancelIsIdempotent(t *testing.T) {
	be := newFakeBackend()
	s, disp := newTestSession(t, be)
	defer disp.Shutdown()

	s.Extend([]template.Message{{Role: template.RoleUser, Content: "hi"}})
	bs := s.Chat()

	bs.Cancel()
	bs.Cancel() // must not panic or double-append a dialog sentence
}

// TestSessionChatSlidesWindowAndStillGenerates submits a prompt 3 tokens
// longer than the backend's maxSeqLen. Chat() must evict via window/
// ResetWith and still leave the task with a nonempty pending range, or the
// Dispatcher's step() sees cache.End() == cache.Len() forever and
// BusySession.Decode never returns (the hang this test guards against).
func TestSessionChatSlidesWindowAndStillGenerates(t *testing.T) {
	const maxSeqLen = int32(8)
	be := newFakeBackendWithMaxSeqLen(maxSeqLen)
	s, disp := newTestSession(t, be)
	defer disp.Shutdown()

	// CJK's user marker "<用户>" is 4 runes; 7 more of content makes an
	// 11-token prompt, maxSeqLen+3.
	s.Extend([]template.Message{{Role: template.RoleUser, Content: "abcdefg"}})
	if got := s.cache.Len(); got <= maxSeqLen {
		t.Fatalf("test setup: cache.Len() = %d, want > maxSeqLen (%d)", got, maxSeqLen)
	}

	bs := s.Chat()

	done := make(chan struct{})
	var decodeErr error
	go func() {
		defer close(done)
		for {
			_, more, err := bs.Decode(context.Background())
			if err != nil {
				decodeErr = err
				return
			}
			if !more {
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Decode did not return: the sliding-window eviction left the task with no pending range")
	}
	if decodeErr != nil {
		t.Fatalf("Decode: unexpected error %v", decodeErr)
	}
}
