// Package kilnerr collects the sentinel errors shared across the module, and
// the one error type ("ChatError") that is allowed to cross a Session's public
// API. Everything else is either fatal at load (returned straight from the
// caller's Load path) or a non-error (task cancellation, dropped enqueue).
package kilnerr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotSupported is returned by Cache operations a particular cache
	// variant does not implement.
	ErrNotSupported = errors.New("operation not supported by this cache")

	// ErrCacheFull is returned when a backend cannot find room for a batch.
	ErrCacheFull = errors.New("kv cache is full")

	// ErrRevertPastStart is returned by Cache.Revert when n is smaller than
	// the physically retained window's start.
	ErrRevertPastStart = errors.New("cannot revert before the start of the retained window")

	// ErrUnsupportedModel is returned by a backend Load when the requested
	// architecture or config is not implemented.
	ErrUnsupportedModel = errors.New("model architecture not supported")

	// ErrMissingTokenizer is a fatal load error: neither tokenizer.model nor
	// vocabs.txt was found next to the weights.
	ErrMissingTokenizer = errors.New("no tokenizer.model or vocabs.txt found")
)

// ChatErrorKind distinguishes the recoverable session-level failure modes.
type ChatErrorKind int

const (
	// ChatErrorRevertOutOfRange is returned when Session.Revert is asked to
	// roll back past the number of sentences actually in the dialog.
	ChatErrorRevertOutOfRange ChatErrorKind = iota
)

func (k ChatErrorKind) String() string {
	switch k {
	case ChatErrorRevertOutOfRange:
		return "revert out of range"
	default:
		return "unknown chat error"
	}
}

// ChatError is the only error type a Session's public API may return. The
// session is left unchanged when a ChatError is returned.
type ChatError struct {
	Kind     ChatErrorKind
	Requests int // the n the caller asked to revert to
	Have     int // the number of sentences actually present
}

func (e *ChatError) Error() string {
	return fmt.Sprintf("%s: requested %d, dialog has %d sentences", e.Kind, e.Requests, e.Have)
}

// AsChatError reports whether err is a *ChatError, unwrapping as needed.
func AsChatError(err error) (*ChatError, bool) {
	var ce *ChatError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
