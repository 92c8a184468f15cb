package shared

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestCoordinationError_FormatsKindAndMessage(t *testing.T) {
	err := NewError(ErrAgentNotFound, "agent %s is not registered", "agent-1")
	if !strings.Contains(err.Error(), "AGENT_NOT_FOUND") {
		t.Fatalf("expected error text to carry the kind, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), "agent-1") {
		t.Fatalf("expected error text to carry the agent id, got %q", err.Error())
	}
}

func TestCoordinationError_MatchesByKind(t *testing.T) {
	err := NewError(ErrResourceNotAvailable, "resource db is missing")
	wrapped := fmt.Errorf("request failed: %w", err)

	if !errors.Is(wrapped, &CoordinationError{Kind: ErrResourceNotAvailable}) {
		t.Fatal("expected wrapped error to match its kind")
	}
	if errors.Is(wrapped, &CoordinationError{Kind: ErrPermissionDenied}) {
		t.Fatal("expected wrapped error not to match a different kind")
	}
}

func TestKindOf(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewError(ErrSessionNotFound, "session missing"))
	if got := KindOf(err); got != ErrSessionNotFound {
		t.Fatalf("expected kind SESSION_NOT_FOUND, got %q", got)
	}
	if got := KindOf(errors.New("plain")); got != "" {
		t.Fatalf("expected empty kind for plain error, got %q", got)
	}
}

func TestMessage_Expired(t *testing.T) {
	msg := Message{ExpiresAt: 0}
	if msg.Expired(Now()) {
		t.Fatal("message without expiry must never expire")
	}

	msg.ExpiresAt = Now() - 1
	if !msg.Expired(Now()) {
		t.Fatal("expected message with past expiry to be expired")
	}
}
