package dictation

import "github.com/loqalabs/loqa-assist/internal/transcript"

// State is the complete dictation state. Transitions happen only in Reduce.
type State struct {
	Phase             Phase
	Episode           uint64
	Transcript        transcript.Transcript
	AutoSubmitPending bool
	Status            string
	ErrorCode         ErrorCode
}

// Initial returns the idle state shown before any dictation.
func Initial() State {
	return State{Phase: PhaseIdle, Status: StatusReady}
}

func (s State) Snapshot() Snapshot {
	return Snapshot{
		Phase:             s.Phase,
		Status:            s.Status,
		Display:           s.Transcript.Display(),
		AutoSubmitPending: s.AutoSubmitPending,
		Episode:           s.Episode,
		ErrorCode:         s.ErrorCode,
	}
}

// Event is an input to Reduce.
type Event interface{ dictationEvent() }

// StartRequested opens a new episode.
type StartRequested struct{ Episode uint64 }

// DeviceOpened confirms the device accepted the episode.
type DeviceOpened struct{ Episode uint64 }

// OpenFailed reports that the device refused the episode.
type OpenFailed struct {
	Episode uint64
	Code    ErrorCode
	Detail  string
}

// StopRequested asks the device to terminate, optionally submitting after.
type StopRequested struct{ Submit bool }

// DeviceSignal wraps an event emitted by the capture of Episode.
type DeviceSignal struct {
	Episode uint64
	Event   DeviceEvent
}

func (StartRequested) dictationEvent() {}
func (DeviceOpened) dictationEvent()   {}
func (OpenFailed) dictationEvent()     {}
func (StopRequested) dictationEvent()  {}
func (DeviceSignal) dictationEvent()   {}

// Effect lists the side effects the controller must perform after a transition.
type Effect struct {
	Err        error
	StopDevice bool
	Submit     string
	Stale      bool
}

// Reduce is the dictation state machine.
func Reduce(s State, ev Event) (State, Effect) {
	switch ev := ev.(type) {
	case StartRequested:
		if s.Phase != PhaseIdle {
			return s, Effect{Err: ErrAlreadyListening}
		}
		s.Phase = PhaseStarting
		s.Episode = ev.Episode
		s.AutoSubmitPending = false
		s.ErrorCode = ""
		s.Status = StatusStarting
		return s, Effect{}

	case DeviceOpened:
		if ev.Episode != s.Episode || s.Phase != PhaseStarting {
			return s, Effect{Stale: true, StopDevice: true}
		}
		s.Phase = PhaseListening
		s.Transcript = transcript.Transcript{}
		s.Status = StatusListening
		return s, Effect{}

	case OpenFailed:
		if ev.Episode != s.Episode || s.Phase != PhaseStarting {
			return s, Effect{Stale: true}
		}
		return failed(s, ev.Code, ev.Detail), Effect{}

	case StopRequested:
		if s.Phase != PhaseListening {
			return s, Effect{Err: ErrNotListening}
		}
		s.Phase = PhaseStopping
		s.AutoSubmitPending = ev.Submit
		s.Status = StatusStopping
		return s, Effect{StopDevice: true}

	case DeviceSignal:
		if ev.Episode != s.Episode {
			return s, Effect{Stale: true}
		}
		return onDevice(s, ev.Event)
	}
	return s, Effect{}
}

func onDevice(s State, ev DeviceEvent) (State, Effect) {
	capturing := s.Phase == PhaseListening || s.Phase == PhaseStopping
	switch ev.Kind {
	case EventStarted:
		if s.Phase == PhaseListening {
			s.Status = StatusListening
		}
		return s, Effect{}

	case EventResult:
		// Results racing the termination event still count toward the
		// transcript read at termination.
		if capturing {
			s.Transcript = s.Transcript.Apply(ev.Result)
		}
		return s, Effect{}

	case EventError:
		if s.Phase == PhaseIdle {
			return s, Effect{}
		}
		return failed(s, ev.Code, ev.Detail), Effect{StopDevice: true}

	case EventEnded:
		if !capturing {
			return s, Effect{}
		}
		var eff Effect
		s.Phase = PhaseIdle
		s.Status = StatusStopped
		if s.AutoSubmitPending {
			if text := s.Transcript.Submission(); text != "" {
				eff.Submit = text
				s.Status = StatusSubmitting
			} else {
				s.Status = StatusNothingHeard
			}
		}
		s.AutoSubmitPending = false
		return s, eff
	}
	return s, Effect{}
}

func failed(s State, code ErrorCode, detail string) State {
	if code == "" {
		code = CodeUnknown
	}
	s.Phase = PhaseIdle
	s.AutoSubmitPending = false
	s.ErrorCode = code
	s.Status = StatusFor(code, detail)
	return s
}
