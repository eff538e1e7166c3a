// Package assistant wires dictation, dispatch, playback and sessions together
// and publishes every user-visible change on a Hub.
package assistant

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-assist/internal/apperr"
	"github.com/loqalabs/loqa-assist/internal/dictation"
	"github.com/loqalabs/loqa-assist/internal/dispatch"
	"github.com/loqalabs/loqa-assist/internal/interaction"
	"github.com/loqalabs/loqa-assist/internal/playback"
	"github.com/loqalabs/loqa-assist/internal/protocol"
	"github.com/loqalabs/loqa-assist/internal/sessions"
)

// Components are the external collaborators the assistant drives.
type Components struct {
	Backend       dispatch.Backend
	Store         sessions.Store
	Device        dictation.Device
	Synth         playback.Synthesizer
	Sink          playback.Sink
	Voice         string
	Format        playback.Format
	SpeechEnabled bool
}

// Assistant is the single controller behind every front end.
type Assistant struct {
	hub       *Hub
	log       *interaction.Log
	dictation *dictation.Controller
	playback  *playback.Controller
	sessions  *sessions.Synchronizer
	dispatch  *dispatch.Dispatcher
	logger    *slog.Logger
	clock     func() time.Time
}

func New(parent context.Context, comps Components, logger *slog.Logger) *Assistant {
	a := &Assistant{
		log:    interaction.NewLog(),
		logger: logger.With(slog.String("component", "assistant")),
		clock:  time.Now,
	}
	a.hub = NewHub(logger)
	a.playback = playback.NewController(parent, comps.Synth, comps.Sink, comps.Voice, comps.Format, comps.SpeechEnabled, a, logger)
	a.dispatch = dispatch.NewDispatcher(comps.Backend, a.log, a.playback, a, logger)
	a.sessions = sessions.NewSynchronizer(comps.Store, a.log, a, logger)
	a.dictation = dictation.NewController(parent, comps.Device, a.askFromDictation, a, logger)
	return a
}

// Hub returns the event fan-out.
func (a *Assistant) Hub() *Hub { return a.hub }

// Close stops capture and playback and ends every subscription.
func (a *Assistant) Close() {
	a.dictation.Close()
	a.playback.Close()
	a.hub.Close()
}

// Boot loads the session state shown on startup. A failure to load the
// current session is a warning; the assistant works without one.
func (a *Assistant) Boot(ctx context.Context) {
	if err := a.sessions.LoadCurrent(ctx); err != nil {
		a.logger.Warn("could not load current session", slogError(err))
		a.notice(protocol.NoticeWarning, "Could not load the current session: "+apperr.UserMessage(err))
	}
	if err := a.sessions.ListAll(ctx); err != nil {
		a.logger.Warn("could not load sessions", slogError(err))
		a.notice(protocol.NoticeWarning, apperr.UserMessage(err))
	}
}

// Ask submits a typed question.
func (a *Assistant) Ask(ctx context.Context, text string) (dispatch.Answer, error) {
	ans, err := a.dispatch.Ask(ctx, text)
	if err != nil {
		a.fail(err)
		return dispatch.Answer{}, err
	}
	return ans, nil
}

func (a *Assistant) askFromDictation(ctx context.Context, question string) {
	_, _ = a.Ask(ctx, question)
}

func (a *Assistant) StartDictation() error {
	return a.reportDictation(a.dictation.Start())
}

func (a *Assistant) StopDictation() error {
	return a.reportDictation(a.dictation.Stop())
}

// StopAndAsk stops dictation and submits the transcript once the device has
// finished.
func (a *Assistant) StopAndAsk() error {
	return a.reportDictation(a.dictation.StopAndSubmit())
}

func (a *Assistant) reportDictation(err error) error {
	switch {
	case err == nil:
	case errors.Is(err, dictation.ErrAlreadyListening), errors.Is(err, dictation.ErrNotListening):
		a.notice(protocol.NoticeWarning, capitalize(err.Error()))
	default:
		a.fail(err)
	}
	return err
}

// ToggleSpeech flips the speech switch and returns the new value.
func (a *Assistant) ToggleSpeech() bool {
	return a.playback.Toggle()
}

// ClearInteractions empties the displayed log. Stored sessions are untouched.
func (a *Assistant) ClearInteractions() {
	a.log.Clear()
	a.publishInteractions()
}

func (a *Assistant) CreateSession(ctx context.Context, title string) (sessions.Session, error) {
	created, err := a.sessions.Create(ctx, title)
	if err != nil {
		a.sessionFailed(ctx, err)
		return sessions.Session{}, err
	}
	a.publishInteractions()
	a.notice(protocol.NoticeSuccess, "Session created: "+created.Title)
	a.refresh(ctx)
	return created, nil
}

func (a *Assistant) ActivateSession(ctx context.Context, id int64) (sessions.Session, error) {
	activated, err := a.sessions.Activate(ctx, id)
	if err != nil {
		a.sessionFailed(ctx, err)
		return sessions.Session{}, err
	}
	a.publishInteractions()
	a.notice(protocol.NoticeSuccess, "Session loaded: "+activated.Title)
	a.refresh(ctx)
	return activated, nil
}

func (a *Assistant) RenameSession(ctx context.Context, id int64, title string) (sessions.Session, error) {
	renamed, err := a.sessions.Rename(ctx, id, title)
	if err != nil {
		a.fail(err)
		return sessions.Session{}, err
	}
	a.notice(protocol.NoticeSuccess, "Session renamed")
	a.refresh(ctx)
	return renamed, nil
}

// DeleteSession removes a session. Confirmation is the caller's job.
func (a *Assistant) DeleteSession(ctx context.Context, id int64) error {
	if err := a.sessions.Delete(ctx, id); err != nil {
		a.fail(err)
		return err
	}
	a.notice(protocol.NoticeSuccess, "Session deleted")
	a.refresh(ctx)
	return nil
}

// RefreshSessions reloads both session views.
func (a *Assistant) RefreshSessions(ctx context.Context) error {
	if err := a.sessions.LoadCurrent(ctx); err != nil {
		a.fail(err)
		return err
	}
	if err := a.sessions.ListAll(ctx); err != nil {
		a.fail(err)
		return err
	}
	return nil
}

// sessionFailed reports a create or activate error. A superseded result is a
// warning; the listing is reloaded so it matches whichever change won.
func (a *Assistant) sessionFailed(ctx context.Context, err error) {
	if !errors.Is(err, apperr.ErrStaleResponse) {
		a.fail(err)
		return
	}
	a.logger.Info("session change superseded", slogError(err))
	a.notice(protocol.NoticeWarning, apperr.UserMessage(err))
	a.refresh(ctx)
}

func (a *Assistant) refresh(ctx context.Context) {
	if err := a.sessions.ListAll(ctx); err != nil {
		a.logger.Warn("session list refresh failed", slogError(err))
	}
}

// View returns the complete UI state.
func (a *Assistant) View() protocol.View {
	return protocol.View{
		Dictation:    dictationMessage(a.dictation.Snapshot()),
		Interactions: interactionMessages(a.log.Snapshot()),
		Current:      sessionPointer(a.sessions.Current()),
		Sessions:     sessionMessages(a.sessions.Sessions()),
		Speech:       speechMessage(a.playback.Status()),
	}
}

func (a *Assistant) DictationChanged(s dictation.Snapshot) {
	m := dictationMessage(s)
	a.publish(protocol.Event{Kind: protocol.KindDictation, Dictation: &m})
}

func (a *Assistant) SpeechChanged(s playback.Status) {
	m := speechMessage(s)
	a.publish(protocol.Event{Kind: protocol.KindSpeech, Speech: &m})
}

func (a *Assistant) CurrentSessionChanged(current *sessions.Session) {
	a.publish(protocol.Event{Kind: protocol.KindSessionCurrent, Session: sessionPointer(current)})
}

func (a *Assistant) SessionsChanged(list []sessions.Session) {
	a.publish(protocol.Event{Kind: protocol.KindSessionList, Sessions: sessionMessages(list)})
}

func (a *Assistant) InteractionAdded(it interaction.Interaction) {
	m := interactionMessage(it)
	a.publish(protocol.Event{Kind: protocol.KindInteraction, Interaction: &m})
}

func (a *Assistant) publishInteractions() {
	a.publish(protocol.Event{Kind: protocol.KindInteractions, Interactions: interactionMessages(a.log.Snapshot())})
}

func (a *Assistant) fail(err error) {
	a.notice(protocol.NoticeError, apperr.UserMessage(err))
}

func (a *Assistant) notice(level protocol.NoticeLevel, message string) {
	a.publish(protocol.Event{Kind: protocol.KindNotice, Notice: &protocol.Notice{Level: level, Message: message}})
}

func (a *Assistant) publish(ev protocol.Event) {
	ev.Timestamp = a.clock().UTC()
	a.hub.Publish(ev)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	if c := s[0]; c >= 'a' && c <= 'z' {
		return string(c-'a'+'A') + s[1:]
	}
	return s
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
