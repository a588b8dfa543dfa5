package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapMatchesSentinelByKind(t *testing.T) {
	cause := errors.New("daemon unreachable")
	err := Wrap(KindRuntime, "deploy", "my-app", cause)
	if !errors.Is(err, ErrRuntime) {
		t.Fatalf("expected ErrRuntime match, got %v", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("runtime error must not match ErrNotFound")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable through Unwrap")
	}
	if got := err.Error(); got != `deploy "my-app": daemon unreachable` {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", New(KindAmbiguous, "stop", "app", "matches 2 projects"))
	if got := KindOf(wrapped); got != KindAmbiguous {
		t.Fatalf("expected %s, got %s", KindAmbiguous, got)
	}
	if got := KindOf(errors.New("plain")); got != KindInternal {
		t.Fatalf("expected internal kind for plain error, got %s", got)
	}
	if got := KindOf(nil); got != "" {
		t.Fatalf("expected empty kind for nil, got %s", got)
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap(KindRuntime, "op", "ref", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestErrorWithoutMessageUsesKind(t *testing.T) {
	if got := ErrNotFound.Error(); got != "not found" {
		t.Fatalf("unexpected sentinel message %q", got)
	}
}
