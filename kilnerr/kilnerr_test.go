package kilnerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestChatErrorString(t *testing.T) {
	err := &ChatError{Kind: ChatErrorRevertOutOfRange, Requests: 5, Have: 2}
	want := "revert out of range: requested 5, dialog has 2 sentences"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestAsChatError(t *testing.T) {
	wrapped := fmt.Errorf("session: %w", &ChatError{Kind: ChatErrorRevertOutOfRange, Requests: 1, Have: 0})

	ce, ok := AsChatError(wrapped)
	if !ok {
		t.Fatalf("AsChatError: expected a match")
	}
	if ce.Requests != 1 {
		t.Errorf("Requests = %d, want 1", ce.Requests)
	}

	if _, ok := AsChatError(errors.New("plain")); ok {
		t.Errorf("AsChatError: unexpected match on a plain error")
	}
}

func TestChatErrorKindString(t *testing.T) {
	var unknown ChatErrorKind = 99
	if got := unknown.String(); got != "unknown chat error" {
		t.Errorf("String() = %q, want unknown chat error", got)
	}
}
