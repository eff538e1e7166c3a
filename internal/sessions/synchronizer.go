// Package sessions keeps the local view of the session store: the current
// session and the full listing.
package sessions

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-assist/internal/apperr"
	"github.com/loqalabs/loqa-assist/internal/interaction"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Synchronizer is the single writer of the current session and listing
// caches. Store calls run outside the lock; each result that would replace
// a cache carries the sequence number taken when the call was issued and is
// dropped if a later-issued result has already been applied. Rename and
// Delete only patch the cached value and take no sequence number.
//
// current and sessions are refreshed independently and may disagree until
// the next reload.
type Synchronizer struct {
	store    Store
	log      *interaction.Log
	observer Observer
	logger   *slog.Logger
	tracer   trace.Tracer

	mu          sync.Mutex
	seq         uint64
	applied     uint64
	listSeq     uint64
	listApplied uint64
	current     *Session
	sessions    []Session
	deleted     map[int64]struct{}

	operations metric.Int64Counter
	stale      metric.Int64Counter
}

func NewSynchronizer(store Store, log *interaction.Log, observer Observer, logger *slog.Logger) *Synchronizer {
	s := &Synchronizer{
		store:    store,
		log:      log,
		observer: observer,
		logger:   logger.With(slog.String("component", "sessions")),
		tracer:   otel.Tracer("github.com/loqalabs/loqa-assist/sessions"),
		deleted:  make(map[int64]struct{}),
	}
	if err := s.initMetrics(); err != nil {
		s.logger.Warn("failed to initialize metrics", slogError(err))
	}
	return s
}

// Current returns a copy of the current session, or nil.
func (s *Synchronizer) Current() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSession(s.current)
}

// Sessions returns a copy of the last listing.
func (s *Synchronizer) Sessions() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Session(nil), s.sessions...)
}

// LoadCurrent replaces the current session with the store's active one. On
// failure the cached value is kept.
func (s *Synchronizer) LoadCurrent(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "sessions.load_current")
	defer span.End()

	n := s.issue()
	active, err := s.store.ActiveSession(ctx)
	if err != nil {
		return s.fail(ctx, span, "load current session", err)
	}
	s.count(ctx, "load_current")
	var target int64
	if active != nil {
		target = active.ID
	}
	s.applyCurrent(ctx, n, "load_current", target, func() {
		s.current = cloneSession(active)
	})
	return nil
}

// ListAll replaces the listing wholesale.
func (s *Synchronizer) ListAll(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "sessions.list")
	defer span.End()

	s.mu.Lock()
	s.listSeq++
	n := s.listSeq
	s.mu.Unlock()

	list, err := s.store.ListSessions(ctx)
	if err != nil {
		return s.fail(ctx, span, "load sessions", err)
	}
	s.count(ctx, "list")

	s.mu.Lock()
	if n <= s.listApplied {
		s.mu.Unlock()
		s.discard(ctx, "list", n)
		return nil
	}
	s.listApplied = n
	s.sessions = append([]Session(nil), list...)
	snapshot := append([]Session(nil), s.sessions...)
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.SessionsChanged(snapshot)
	}
	return nil
}

// Create makes a new session that becomes current. The interaction log is
// cleared because the new session starts empty. ErrSuperseded is returned
// when a later-issued change to the current session was applied first.
func (s *Synchronizer) Create(ctx context.Context, title string) (Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Session{}, ErrEmptyTitle
	}
	ctx, span := s.tracer.Start(ctx, "sessions.create")
	defer span.End()

	n := s.issue()
	created, err := s.store.CreateSession(ctx, title)
	if err != nil {
		return Session{}, s.fail(ctx, span, "create session", err)
	}
	s.count(ctx, "create")
	created.IsActive = true
	span.SetAttributes(attribute.Int64("session.id", created.ID))

	if !s.applyCurrent(ctx, n, "create", 0, func() {
		s.current = cloneSession(&created)
		s.log.Clear()
	}) {
		return Session{}, ErrSuperseded
	}
	return created, nil
}

// Activate makes id the active session and replays its interactions. The
// activation and the detail fetch form one operation: if the detail fetch
// fails, current and the interaction log keep their previous values, as they
// do when the result is superseded.
func (s *Synchronizer) Activate(ctx context.Context, id int64) (Session, error) {
	if id <= 0 {
		return Session{}, ErrInvalidID
	}
	ctx, span := s.tracer.Start(ctx, "sessions.activate", trace.WithAttributes(attribute.Int64("session.id", id)))
	defer span.End()

	n := s.issue()
	if err := s.store.ActivateSession(ctx, id); err != nil {
		return Session{}, s.fail(ctx, span, "activate session", err)
	}
	detail, err := s.store.SessionDetail(ctx, id)
	if err != nil {
		s.logger.Warn("session activated but detail fetch failed; keeping previous session",
			slog.Int64("session_id", id), slogError(err))
		return Session{}, s.fail(ctx, span, "load session", err)
	}
	s.count(ctx, "activate")
	detail.Session.IsActive = true

	if !s.applyCurrent(ctx, n, "activate", id, func() {
		s.current = cloneSession(&detail.Session)
		s.log.Replace(detail.Interactions)
	}) {
		return Session{}, ErrSuperseded
	}
	return detail.Session, nil
}

// Rename changes a session title. The current session title is patched from
// the store's response when id is current.
func (s *Synchronizer) Rename(ctx context.Context, id int64, title string) (Session, error) {
	title = strings.TrimSpace(title)
	if id <= 0 {
		return Session{}, ErrInvalidID
	}
	if title == "" {
		return Session{}, ErrEmptyTitle
	}
	ctx, span := s.tracer.Start(ctx, "sessions.rename", trace.WithAttributes(attribute.Int64("session.id", id)))
	defer span.End()

	renamed, err := s.store.RenameSession(ctx, id, title)
	if err != nil {
		return Session{}, s.fail(ctx, span, "rename session", err)
	}
	s.count(ctx, "rename")

	s.mu.Lock()
	if s.current == nil || s.current.ID != id {
		s.mu.Unlock()
		return renamed, nil
	}
	s.current.Title = renamed.Title
	if !renamed.UpdatedAt.IsZero() {
		s.current.UpdatedAt = renamed.UpdatedAt
	}
	current := cloneSession(s.current)
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.CurrentSessionChanged(current)
	}
	return renamed, nil
}

// Delete removes a session. Deleting the current session leaves no current
// session; nothing is promoted.
func (s *Synchronizer) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return ErrInvalidID
	}
	ctx, span := s.tracer.Start(ctx, "sessions.delete", trace.WithAttributes(attribute.Int64("session.id", id)))
	defer span.End()

	if err := s.store.DeleteSession(ctx, id); err != nil {
		return s.fail(ctx, span, "delete session", err)
	}
	s.count(ctx, "delete")

	// In-flight results naming id are dropped when they land.
	s.mu.Lock()
	s.deleted[id] = struct{}{}
	cleared := s.current != nil && s.current.ID == id
	if cleared {
		s.current = nil
	}
	s.mu.Unlock()
	if cleared && s.observer != nil {
		s.observer.CurrentSessionChanged(nil)
	}
	return nil
}

func (s *Synchronizer) issue() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// applyCurrent runs mutate under the lock if n is newer than the last applied
// result and notifies the observer. It reports false when the result was
// dropped, either as stale or because target has since been deleted.
func (s *Synchronizer) applyCurrent(ctx context.Context, n uint64, op string, target int64, mutate func()) bool {
	s.mu.Lock()
	_, gone := s.deleted[target]
	if n <= s.applied || (target != 0 && gone) {
		s.mu.Unlock()
		s.discard(ctx, op, n)
		return false
	}
	s.applied = n
	mutate()
	current := cloneSession(s.current)
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.CurrentSessionChanged(current)
	}
	return true
}

func (s *Synchronizer) discard(ctx context.Context, op string, n uint64) {
	if s.stale != nil {
		s.stale.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	}
	s.logger.Debug(apperr.ErrStaleResponse.Error(), slog.String("op", op), slog.Uint64("seq", n))
}

func (s *Synchronizer) fail(ctx context.Context, span trace.Span, op string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, op)
	if s.operations != nil {
		s.operations.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op), attribute.Bool("ok", false)))
	}
	s.logger.Warn("session store call failed", slog.String("op", op), slogError(err))
	return apperr.Remote(op, err)
}

func (s *Synchronizer) count(ctx context.Context, op string) {
	if s.operations == nil {
		return
	}
	s.operations.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op), attribute.Bool("ok", true)))
}

func (s *Synchronizer) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-assist/sessions")
	var err error
	if s.operations, err = meter.Int64Counter("assist.sessions.operations", metric.WithDescription("Session store calls by operation and outcome")); err != nil {
		return err
	}
	s.stale, err = meter.Int64Counter("assist.sessions.stale_discarded", metric.WithDescription("Store responses dropped because a newer one was applied"))
	return err
}

func cloneSession(sess *Session) *Session {
	if sess == nil {
		return nil
	}
	c := *sess
	return &c
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
