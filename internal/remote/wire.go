package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/loqalabs/loqa-assist/internal/interaction"
	"github.com/loqalabs/loqa-assist/internal/sessions"
)

type envelope struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
}

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Timestamp Timestamp `json:"timestamp"`
	SessionID *int64    `json:"session_id"`
}

type titleRequest struct {
	Title string `json:"title"`
}

type sessionWire struct {
	ID               int64     `json:"id"`
	Title            string    `json:"title"`
	CreatedAt        Timestamp `json:"created_at"`
	UpdatedAt        Timestamp `json:"updated_at"`
	IsActive         bool      `json:"is_active"`
	InteractionCount int       `json:"interaction_count"`
}

func (w sessionWire) session() sessions.Session {
	return sessions.Session{
		ID:               w.ID,
		Title:            w.Title,
		IsActive:         w.IsActive,
		InteractionCount: w.InteractionCount,
		CreatedAt:        w.CreatedAt.Time,
		UpdatedAt:        w.UpdatedAt.Time,
	}
}

type interactionWire struct {
	ID               int64     `json:"id"`
	Question         string    `json:"question"`
	Answer           string    `json:"answer"`
	CreatedAt        Timestamp `json:"created_at"`
	InteractionOrder int       `json:"interaction_order"`
}

type sessionResponse struct {
	Session *sessionWire `json:"session"`
}

type listResponse struct {
	Sessions []sessionWire `json:"sessions"`
}

type detailResponse struct {
	Session      sessionWire       `json:"session"`
	Interactions []interactionWire `json:"interactions"`
}

func (d detailResponse) detail() sessions.Detail {
	out := sessions.Detail{Session: d.Session.session()}
	for _, it := range d.Interactions {
		out.Interactions = append(out.Interactions, interaction.Interaction{
			Question:  it.Question,
			Answer:    it.Answer,
			CreatedAt: it.CreatedAt.Time,
		})
	}
	return out
}

// Timestamp accepts unix seconds or the string layouts the backend emits:
// RFC 3339, naive ISO 8601 (UTC) and "YYYY-MM-DD HH:MM:SS" (local time).
type Timestamp struct {
	time.Time
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	if data[0] != '"' {
		var secs float64
		if err := json.Unmarshal(data, &secs); err != nil {
			return fmt.Errorf("timestamp: %w", err)
		}
		whole, frac := math.Modf(secs)
		t.Time = time.Unix(int64(whole), int64(frac*1e9))
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// ParseTimestamp parses the string forms of Timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts, nil
	}
	for _, layout := range naiveLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts, nil
		}
	}
	if ts, err := time.ParseInLocation(time.DateTime, s, time.Local); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
