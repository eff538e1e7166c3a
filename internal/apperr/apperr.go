// Package apperr defines the error kinds surfaced by the assistant controllers.
package apperr

import (
	"errors"
	"fmt"
)

// ErrStaleResponse marks a remote response that arrived after a newer one was
// already applied.
var ErrStaleResponse = errors.New("stale response discarded")

// ValidationError is a locally rejected input. No remote call was made.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validation builds a ValidationError.
func Validation(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// DeviceError reports a capture or playback device failure.
type DeviceError struct {
	Code    string
	Message string
	Err     error
}

func (e *DeviceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("device %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("device %s: %s", e.Code, e.Message)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// RemoteError reports a failed backend or session store call. Message holds
// the backend supplied text when there is one.
type RemoteError struct {
	Op      string
	Message string
	Err     error
}

func (e *RemoteError) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Op + ": remote call failed"
	}
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Remote wraps err as a RemoteError for op unless it already is one.
func Remote(op string, err error) error {
	if err == nil {
		return nil
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return err
	}
	return &RemoteError{Op: op, Err: err}
}

// UserMessage renders err for the notification channel.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var (
		ve *ValidationError
		de *DeviceError
		re *RemoteError
	)
	switch {
	case errors.Is(err, ErrStaleResponse):
		return "Another session change finished first"
	case errors.As(err, &ve):
		return ve.Message
	case errors.As(err, &de):
		return de.Message
	case errors.As(err, &re):
		if re.Message != "" {
			return re.Message
		}
		return fmt.Sprintf("Failed to %s. Please try again.", humanOp(re.Op))
	default:
		return err.Error()
	}
}

func humanOp(op string) string {
	if op == "" {
		return "reach the server"
	}
	return op
}
