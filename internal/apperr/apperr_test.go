package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestUserMessagePrefersBackendText(t *testing.T) {
	err := fmt.Errorf("ask: %w", &RemoteError{Op: "send question", Message: "Question cannot be empty"})
	if got := UserMessage(err); got != "Question cannot be empty" {
		t.Fatalf("unexpected message: %q", got)
	}
}

func TestUserMessageGenericRemote(t *testing.T) {
	err := Remote("load sessions", errors.New("connection refused"))
	if got := UserMessage(err); got != "Failed to load sessions. Please try again." {
		t.Fatalf("unexpected message: %q", got)
	}
}

func TestRemoteKeepsExistingRemoteError(t *testing.T) {
	orig := &RemoteError{Op: "create session", Message: "boom"}
	wrapped := Remote("other", orig)
	var re *RemoteError
	if !errors.As(wrapped, &re) || re.Op != "create session" {
		t.Fatalf("expected original remote error, got %v", wrapped)
	}
	if Remote("x", nil) != nil {
		t.Fatal("expected nil for nil error")
	}
}

func TestValidationAndDeviceMessages(t *testing.T) {
	if got := UserMessage(Validation("title", "Title cannot be empty")); got != "Title cannot be empty" {
		t.Fatalf("unexpected validation message: %q", got)
	}
	dev := &DeviceError{Code: "no-device", Message: "No microphone found.", Err: errors.New("enoent")}
	if got := UserMessage(dev); got != "No microphone found." {
		t.Fatalf("unexpected device message: %q", got)
	}
	if !errors.Is(dev, dev.Err) {
		t.Fatal("device error should unwrap")
	}
}

func TestUserMessageStaleResponse(t *testing.T) {
	err := fmt.Errorf("session change superseded: %w", ErrStaleResponse)
	if got := UserMessage(err); got != "Another session change finished first" {
		t.Fatalf("unexpected message: %q", got)
	}
}
