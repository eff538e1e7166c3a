package embedded

import (
	"context"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-assist/internal/apperr"
	"github.com/loqalabs/loqa-assist/internal/config"
	"github.com/loqalabs/loqa-assist/internal/dispatch"
	"github.com/loqalabs/loqa-assist/internal/llm"
)

// Backend answers questions with an llm.Generator and records them in the
// active session of a Store.
type Backend struct {
	store  *Store
	gen    llm.Generator
	cfg    config.LLMConfig
	logger *slog.Logger
	clock  func() time.Time
}

var _ dispatch.Backend = (*Backend)(nil)

func NewBackend(store *Store, gen llm.Generator, cfg config.LLMConfig, logger *slog.Logger) *Backend {
	return &Backend{
		store:  store,
		gen:    gen,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "embedded-backend")),
		clock:  time.Now,
	}
}

// Submit generates an answer. Failing to record it is logged and does not
// fail the call.
func (b *Backend) Submit(ctx context.Context, question string) (dispatch.Answer, error) {
	req := llm.QuestionRequest(b.cfg, question)
	answer, err := llm.Collect(ctx, b.gen, req)
	if err != nil {
		b.logger.Error("answer generation failed", slog.String("trace_id", req.TraceID), slogError(err))
		return dispatch.Answer{}, &apperr.RemoteError{
			Op:      "send question",
			Message: "Failed to generate answer: " + err.Error(),
			Err:     err,
		}
	}

	sessionID, err := b.store.RecordInteraction(ctx, question, answer)
	if err != nil {
		b.logger.Warn("failed to save interaction to session", slogError(err))
	}
	b.logger.Info("generated answer",
		slog.String("trace_id", req.TraceID),
		slog.String("question", truncate(question, 50)),
		slog.Int64("session_id", sessionID))

	return dispatch.Answer{
		Question:  question,
		Answer:    answer,
		Timestamp: b.clock(),
		SessionID: sessionID,
	}, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
