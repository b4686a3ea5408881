package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	base := New(KindInvalidAmount, "invalid amount")
	wrapped := fmt.Errorf("ledger.Execute: %w", base)

	if got := KindOf(wrapped); got != KindInvalidAmount {
		t.Errorf("expected %s, got %s", KindInvalidAmount, got)
	}
	if got := KindOf(errors.New("boom")); got != KindInternal {
		t.Errorf("expected %s for plain error, got %s", KindInternal, got)
	}
	if Is(nil, KindInternal) {
		t.Error("nil error must not match any kind")
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(KindUnavailable, "storage unavailable", cause)

	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable through Unwrap")
	}
	if err.Message != "storage unavailable" {
		t.Errorf("unexpected message %q", err.Message)
	}
}

func TestWithCode(t *testing.T) {
	err := New(KindConflict, "username already exists").WithCode(CodeDuplicateUsername)
	if err.Code != CodeDuplicateUsername {
		t.Errorf("expected code %s, got %s", CodeDuplicateUsername, err.Code)
	}
}
