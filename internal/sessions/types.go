package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-assist/internal/apperr"
	"github.com/loqalabs/loqa-assist/internal/interaction"
)

// Session is a named container of interactions.
type Session struct {
	ID               int64
	Title            string
	IsActive         bool
	InteractionCount int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Detail is a session with its interactions, oldest first.
type Detail struct {
	Session      Session
	Interactions []interaction.Interaction
}

// Store is the remote session store. ActiveSession returns nil without an
// error when no session is active.
type Store interface {
	ActiveSession(ctx context.Context) (*Session, error)
	ListSessions(ctx context.Context) ([]Session, error)
	CreateSession(ctx context.Context, title string) (Session, error)
	SessionDetail(ctx context.Context, id int64) (Detail, error)
	ActivateSession(ctx context.Context, id int64) error
	RenameSession(ctx context.Context, id int64, title string) (Session, error)
	DeleteSession(ctx context.Context, id int64) error
}

// Observer is told whenever either cached view changes.
type Observer interface {
	CurrentSessionChanged(current *Session)
	SessionsChanged(sessions []Session)
}

var (
	ErrEmptyTitle = &apperr.ValidationError{Field: "title", Message: "Please enter a session title"}
	ErrInvalidID  = &apperr.ValidationError{Field: "id", Message: "Invalid session id"}

	// ErrSuperseded means the store call succeeded but its result was not
	// applied because a later-issued change to the current session won.
	ErrSuperseded = fmt.Errorf("session change superseded: %w", apperr.ErrStaleResponse)
)
