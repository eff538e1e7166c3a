package tui

import "github.com/loqalabs/loqa-assist/internal/protocol"

// EventMsg wraps an event from the assistant hub.
type EventMsg struct {
	Event protocol.Event
}

// EventsClosedMsg is sent when the hub subscription ends.
type EventsClosedMsg struct{}

// ViewLoadedMsg carries a full state snapshot.
type ViewLoadedMsg struct {
	View protocol.View
}

// OpDoneMsg reports that a controller operation returned. Failures have
// already been published as notices.
type OpDoneMsg struct {
	Op  string
	Err error
}

// ClearNoticeMsg clears the notice line if it is still showing notice Seq.
type ClearNoticeMsg struct {
	Seq int
}
