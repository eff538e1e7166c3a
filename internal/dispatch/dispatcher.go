// Package dispatch sends questions to the QA backend and routes answers to
// the interaction log and playback.
package dispatch

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/loqa-assist/internal/apperr"
	"github.com/loqalabs/loqa-assist/internal/interaction"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ErrEmptyInput rejects a blank question before any backend call.
var ErrEmptyInput = &apperr.ValidationError{Field: "question", Message: "Please enter a question"}

// Answer is a successful backend response. SessionID is zero when the backend
// recorded the interaction under no session.
type Answer struct {
	Question  string
	Answer    string
	Timestamp time.Time
	SessionID int64
}

// Backend is the QA backend. Failures it can describe should be returned as
// *apperr.RemoteError with Message set.
type Backend interface {
	Submit(ctx context.Context, question string) (Answer, error)
}

// Speaker receives answers to read aloud. It decides whether speech is on.
type Speaker interface {
	Speak(text string)
}

// Observer is told about each recorded interaction.
type Observer interface {
	InteractionAdded(interaction.Interaction)
}

type Dispatcher struct {
	backend  Backend
	log      *interaction.Log
	speaker  Speaker
	observer Observer
	logger   *slog.Logger
	tracer   trace.Tracer

	asked  metric.Int64Counter
	failed metric.Int64Counter
}

func NewDispatcher(backend Backend, log *interaction.Log, speaker Speaker, observer Observer, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		backend:  backend,
		log:      log,
		speaker:  speaker,
		observer: observer,
		logger:   logger.With(slog.String("component", "dispatch")),
		tracer:   otel.Tracer("github.com/loqalabs/loqa-assist/dispatch"),
	}
	if err := d.initMetrics(); err != nil {
		d.logger.Warn("failed to initialize metrics", slogError(err))
	}
	return d
}

// Ask submits text. On success the interaction is prepended to the log and
// the answer handed to the speaker; on failure nothing is recorded.
// Persisting into the active session is the backend's job.
func (d *Dispatcher) Ask(ctx context.Context, text string) (Answer, error) {
	question := strings.TrimSpace(text)
	if question == "" {
		return Answer{}, ErrEmptyInput
	}

	ctx, span := d.tracer.Start(ctx, "dispatch.ask", trace.WithAttributes(attribute.Int("question.length", len(question))))
	defer span.End()

	start := time.Now()
	ans, err := d.backend.Submit(ctx, question)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit failed")
		if d.failed != nil {
			d.failed.Add(ctx, 1)
		}
		d.logger.Warn("question failed", slogError(err))
		return Answer{}, apperr.Remote("send question", err)
	}
	if ans.Question == "" {
		ans.Question = question
	}
	if ans.Timestamp.IsZero() {
		ans.Timestamp = time.Now()
	}
	if d.asked != nil {
		d.asked.Add(ctx, 1)
	}
	d.logger.Info("answer received",
		slog.String("question", truncate(ans.Question, 50)),
		slog.Int64("session_id", ans.SessionID),
		slog.Duration("latency", time.Since(start)))

	it := interaction.Interaction{Question: ans.Question, Answer: ans.Answer, CreatedAt: ans.Timestamp}
	d.log.Prepend(it)
	if d.observer != nil {
		d.observer.InteractionAdded(it)
	}
	if d.speaker != nil {
		d.speaker.Speak(ans.Answer)
	}
	return ans, nil
}

func (d *Dispatcher) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-assist/dispatch")
	var err error
	if d.asked, err = meter.Int64Counter("assist.questions.answered", metric.WithDescription("Questions answered by the backend")); err != nil {
		return err
	}
	d.failed, err = meter.Int64Counter("assist.questions.failed", metric.WithDescription("Questions the backend failed to answer"))
	return err
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
