package core

import (
	"errors"
	"testing"
)

func TestMeshError_UnwrapAndIsKind(t *testing.T) {
	cause := errors.New("boom")
	err := Wrapf(KindRoutingError, cause, "sending to %s", "peer")

	if !IsKind(err, KindRoutingError) {
		t.Fatal("expected IsKind to match")
	}
	if IsKind(err, KindReplayDetected) {
		t.Fatal("expected IsKind to reject the wrong kind")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to see through Unwrap to the cause")
	}
}

func TestMeshError_PlainError(t *testing.T) {
	err := NewError(KindConfigError, "bad config")
	if IsKind(nil, KindConfigError) {
		t.Fatal("a nil error must never match a kind")
	}
	if err.Error() == "" {
		t.Fatal("expected a non-empty error message")
	}
}
