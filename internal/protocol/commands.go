package protocol

import "strings"

// Command names, appended to "<prefix>.cmd.".
const (
	CmdAsk               = "ask"
	CmdDictationStart    = "dictation.start"
	CmdDictationStop     = "dictation.stop"
	CmdDictationStopAsk  = "dictation.stop_and_ask"
	CmdSpeechToggle      = "speech.toggle"
	CmdInteractionsClear = "interactions.clear"
	CmdSessionCreate     = "session.create"
	CmdSessionActivate   = "session.activate"
	CmdSessionRename     = "session.rename"
	CmdSessionDelete     = "session.delete"
	CmdSessionRefresh    = "session.refresh"
	CmdView              = "view"
)

// Commands lists every command the bridge serves.
var Commands = []string{
	CmdAsk,
	CmdDictationStart,
	CmdDictationStop,
	CmdDictationStopAsk,
	CmdSpeechToggle,
	CmdInteractionsClear,
	CmdSessionCreate,
	CmdSessionActivate,
	CmdSessionRename,
	CmdSessionDelete,
	CmdSessionRefresh,
	CmdView,
}

// CommandRequest is the payload of every command. Unused fields are ignored.
type CommandRequest struct {
	RequestID string `json:"request_id,omitempty"`
	Text      string `json:"text,omitempty"`
	Title     string `json:"title,omitempty"`
	SessionID int64  `json:"session_id,omitempty"`
}

// Answer is the reply detail of an ask command.
type Answer struct {
	Question  string  `json:"question"`
	Answer    string  `json:"answer"`
	Timestamp float64 `json:"timestamp"`
	SessionID int64   `json:"session_id,omitempty"`
}

// CommandReply answers a CommandRequest. Message is user-facing.
type CommandReply struct {
	RequestID string   `json:"request_id,omitempty"`
	OK        bool     `json:"ok"`
	Message   string   `json:"message,omitempty"`
	Answer    *Answer  `json:"answer,omitempty"`
	Session   *Session `json:"session,omitempty"`
	Enabled   *bool    `json:"enabled,omitempty"`
	View      *View    `json:"view,omitempty"`
}

// CommandSubject returns the request/reply subject for name.
func CommandSubject(prefix, name string) string {
	return join(prefix, "cmd", name)
}

// EventSubject returns the subject events of kind are published on.
func EventSubject(prefix string, kind EventKind) string {
	return join(prefix, "event", string(kind))
}

// EventWildcard matches every event subject.
func EventWildcard(prefix string) string {
	return join(prefix, "event", ">")
}

// AudioSubject carries AudioChunk messages from the bus playback sink.
func AudioSubject(prefix string) string {
	return join(prefix, "audio")
}

func join(parts ...string) string {
	out := parts[:0:0]
	for _, p := range parts {
		if p = strings.Trim(p, "."); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ".")
}
