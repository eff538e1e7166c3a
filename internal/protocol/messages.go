// Package protocol defines the JSON messages the assistant exchanges over NATS.
package protocol

import "time"

// EventKind names a UI-facing state change.
type EventKind string

const (
	KindDictation      EventKind = "dictation"
	KindInteraction    EventKind = "interaction"
	KindInteractions   EventKind = "interactions"
	KindSessionCurrent EventKind = "session.current"
	KindSessionList    EventKind = "session.list"
	KindNotice         EventKind = "notice"
	KindSpeech         EventKind = "speech"
	// KindResync tells a subscriber that Dropped events were lost and its
	// state should be reloaded from a View.
	KindResync EventKind = "resync"
)

// NoticeLevel grades a transient notification.
type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Dictation mirrors the dictation snapshot shown to the user.
type Dictation struct {
	Phase             string `json:"phase"`
	Status            string `json:"status"`
	Display           string `json:"display"`
	AutoSubmitPending bool   `json:"auto_submit_pending"`
	Episode           uint64 `json:"episode"`
	ErrorCode         string `json:"error_code,omitempty"`
}

// Interaction is one question/answer pair.
type Interaction struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is a named interaction container.
type Session struct {
	ID               int64     `json:"id"`
	Title            string    `json:"title"`
	IsActive         bool      `json:"is_active"`
	InteractionCount int       `json:"interaction_count"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Notice is a transient success or error message.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
}

// Speech reports the playback switch and whether an utterance is audible.
type Speech struct {
	Enabled  bool `json:"enabled"`
	Speaking bool `json:"speaking"`
}

// Event is published on EventSubject(prefix, Kind). Only the field matching
// Kind is set; a session.current event with a nil Session means no session.
type Event struct {
	Kind         EventKind     `json:"kind"`
	Timestamp    time.Time     `json:"timestamp"`
	Dictation    *Dictation    `json:"dictation,omitempty"`
	Interaction  *Interaction  `json:"interaction,omitempty"`
	Interactions []Interaction `json:"interactions,omitempty"`
	Session      *Session      `json:"session,omitempty"`
	Sessions     []Session     `json:"sessions,omitempty"`
	Notice       *Notice       `json:"notice,omitempty"`
	Speech       *Speech       `json:"speech,omitempty"`
	Dropped      int           `json:"dropped,omitempty"`
}

// View is the full UI state.
type View struct {
	Dictation    Dictation     `json:"dictation"`
	Interactions []Interaction `json:"interactions"`
	Current      *Session      `json:"current,omitempty"`
	Sessions     []Session     `json:"sessions"`
	Speech       Speech        `json:"speech"`
}

// AudioChunk carries synthesized PCM for one utterance.
type AudioChunk struct {
	UtteranceID string `json:"utterance_id"`
	Sequence    int    `json:"sequence"`
	SampleRate  int    `json:"sample_rate"`
	Channels    int    `json:"channels"`
	PCM         []byte `json:"pcm"`
	Final       bool   `json:"final"`
}
