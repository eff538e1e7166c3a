package dictation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/loqalabs/loqa-assist/internal/apperr"
	"github.com/loqalabs/loqa-assist/internal/transcript"
)

var (
	ErrAlreadyListening  = errors.New("dictation already in progress")
	ErrNotListening      = errors.New("dictation is not listening")
	ErrDeviceUnavailable = errors.New("capture device unavailable")
)

// Phase is the dictation lifecycle position.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseStarting  Phase = "starting"
	PhaseListening Phase = "listening"
	PhaseStopping  Phase = "stopping"
)

// ErrorCode classifies capture device failures.
type ErrorCode string

const (
	CodePermissionDenied  ErrorCode = "permission-denied"
	CodeNoDevice          ErrorCode = "no-device"
	CodeCaptureFailed     ErrorCode = "capture-failed"
	CodeNetwork           ErrorCode = "network"
	CodeServiceNotAllowed ErrorCode = "service-not-allowed"
	CodeUnknown           ErrorCode = "unknown"
)

const (
	StatusReady        = "Ready. Start dictation or type a question."
	StatusStarting     = "Starting microphone..."
	StatusListening    = "Listening... Speak your interview question clearly"
	StatusStopping     = "Finishing transcription..."
	StatusStopped      = "Dictation stopped. Review the transcript or dictate again."
	StatusSubmitting   = "Question captured. Getting an answer..."
	StatusNothingHeard = "No speech detected. Please try again."
)

// StatusFor maps a device error to the message shown to the user.
func StatusFor(code ErrorCode, detail string) string {
	switch code {
	case CodePermissionDenied:
		return "Microphone access denied. Please allow microphone access and try again."
	case CodeNoDevice:
		return "No microphone found. Please check your microphone connection."
	case CodeCaptureFailed:
		return "Audio capture failed. Please check your microphone and try again."
	case CodeNetwork:
		return "Network error during speech recognition. Please check your connection."
	case CodeServiceNotAllowed:
		return "Speech recognition service is not allowed. Please check your settings."
	default:
		if detail == "" {
			return "Speech recognition error."
		}
		return fmt.Sprintf("Speech recognition error: %s", detail)
	}
}

// EventKind identifies a capture device lifecycle event.
type EventKind string

const (
	EventStarted EventKind = "started"
	EventResult  EventKind = "result"
	EventError   EventKind = "error"
	EventEnded   EventKind = "ended"
)

// DeviceEvent is emitted by a Capture on its events channel.
type DeviceEvent struct {
	Kind   EventKind
	Result transcript.Event
	Code   ErrorCode
	Detail string
}

// CaptureState is what the device reports about itself.
type CaptureState string

const (
	CaptureActive   CaptureState = "active"
	CaptureInactive CaptureState = "inactive"
)

// Device opens capture episodes. Open fails when there is no usable
// microphone or permission; a *apperr.DeviceError carries the code.
type Device interface {
	Open(ctx context.Context) (Capture, error)
}

// Capture is one live capture episode. Stop only requests termination; the
// device confirms with an ended event and then closes the events channel.
type Capture interface {
	Events() <-chan DeviceEvent
	Stop() error
	State() CaptureState
}

// Snapshot is what the UI needs to render dictation.
type Snapshot struct {
	Phase             Phase     `json:"phase"`
	Status            string    `json:"status"`
	Display           string    `json:"display"`
	AutoSubmitPending bool      `json:"auto_submit_pending"`
	Episode           uint64    `json:"episode"`
	ErrorCode         ErrorCode `json:"error_code,omitempty"`
}

// Observer is told about every dictation transition.
type Observer interface {
	DictationChanged(Snapshot)
}

// SubmitFunc receives the finalized transcript of a stop-and-submit episode.
type SubmitFunc func(ctx context.Context, question string)

func deviceError(code ErrorCode, detail string, err error) error {
	return &apperr.DeviceError{Code: string(code), Message: StatusFor(code, detail), Err: err}
}

// NewDeviceError lets devices report a classified failure.
func NewDeviceError(code ErrorCode, err error) error {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	return deviceError(code, detail, err)
}

func classify(err error) (ErrorCode, string) {
	var de *apperr.DeviceError
	switch {
	case errors.As(err, &de):
		if de.Err != nil {
			return ErrorCode(de.Code), de.Err.Error()
		}
		return ErrorCode(de.Code), de.Message
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, os.ErrNotExist):
		return CodeNoDevice, err.Error()
	case errors.Is(err, os.ErrPermission):
		return CodePermissionDenied, err.Error()
	default:
		return CodeUnknown, err.Error()
	}
}
