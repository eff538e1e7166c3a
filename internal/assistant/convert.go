package assistant

import (
	"github.com/loqalabs/loqa-assist/internal/dictation"
	"github.com/loqalabs/loqa-assist/internal/interaction"
	"github.com/loqalabs/loqa-assist/internal/playback"
	"github.com/loqalabs/loqa-assist/internal/protocol"
	"github.com/loqalabs/loqa-assist/internal/sessions"
)

func dictationMessage(s dictation.Snapshot) protocol.Dictation {
	return protocol.Dictation{
		Phase:             string(s.Phase),
		Status:            s.Status,
		Display:           s.Display,
		AutoSubmitPending: s.AutoSubmitPending,
		Episode:           s.Episode,
		ErrorCode:         string(s.ErrorCode),
	}
}

func interactionMessage(it interaction.Interaction) protocol.Interaction {
	return protocol.Interaction{Question: it.Question, Answer: it.Answer, CreatedAt: it.CreatedAt}
}

func interactionMessages(list []interaction.Interaction) []protocol.Interaction {
	out := make([]protocol.Interaction, 0, len(list))
	for _, it := range list {
		out = append(out, interactionMessage(it))
	}
	return out
}

// SessionMessage converts a session for the wire.
func SessionMessage(s sessions.Session) protocol.Session {
	return protocol.Session{
		ID:               s.ID,
		Title:            s.Title,
		IsActive:         s.IsActive,
		InteractionCount: s.InteractionCount,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}

func sessionPointer(s *sessions.Session) *protocol.Session {
	if s == nil {
		return nil
	}
	m := SessionMessage(*s)
	return &m
}

func sessionMessages(list []sessions.Session) []protocol.Session {
	out := make([]protocol.Session, 0, len(list))
	for _, s := range list {
		out = append(out, SessionMessage(s))
	}
	return out
}

func speechMessage(s playback.Status) protocol.Speech {
	return protocol.Speech{Enabled: s.Enabled, Speaking: s.Speaking}
}
