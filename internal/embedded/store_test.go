package embedded

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-assist/internal/apperr"
	"github.com/loqalabs/loqa-assist/internal/config"
	"github.com/loqalabs/loqa-assist/internal/llm"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T, cfg config.StoreConfig) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "sessions.db")
	}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateKeepsOneActive(t *testing.T) {
	s := openStore(t, config.StoreConfig{})
	ctx := context.Background()

	first, err := s.CreateSession(ctx, "First")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := s.CreateSession(ctx, "  ")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if second.Title != DefaultTitle || !second.IsActive {
		t.Fatalf("unexpected session %+v", second)
	}

	current, err := s.ActiveSession(ctx)
	if err != nil || current == nil || current.ID != second.ID {
		t.Fatalf("unexpected current %+v %v", current, err)
	}

	if err := s.ActivateSession(ctx, first.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	list, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var active int
	for _, sess := range list {
		if sess.IsActive {
			active++
			if sess.ID != first.ID {
				t.Fatalf("wrong session active: %+v", sess)
			}
		}
	}
	if active != 1 {
		t.Fatalf("expected exactly one active session, got %d", active)
	}
}

func TestRecordInteractionOrder(t *testing.T) {
	s := openStore(t, config.StoreConfig{})
	ctx := context.Background()

	id, err := s.RecordInteraction(ctx, "q0", "a0")
	if err != nil || id != 0 {
		t.Fatalf("expected no session without an active one, got %d %v", id, err)
	}

	sess, err := s.CreateSession(ctx, "Onsite")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, q := range []string{"q1", "q2", "q3"} {
		got, err := s.RecordInteraction(ctx, q, "a")
		if err != nil || got != sess.ID {
			t.Fatalf("record %s: %d %v", q, got, err)
		}
	}

	detail, err := s.SessionDetail(ctx, sess.ID)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if detail.Session.InteractionCount != 3 || len(detail.Interactions) != 3 {
		t.Fatalf("unexpected detail %+v", detail)
	}
	for i, want := range []string{"q1", "q2", "q3"} {
		if detail.Interactions[i].Question != want {
			t.Fatalf("interaction %d: expected %s, got %s", i, want, detail.Interactions[i].Question)
		}
	}
}

func TestRenameAndDelete(t *testing.T) {
	s := openStore(t, config.StoreConfig{})
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "Old")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	s.clock = func() time.Time { return time.Now().Add(time.Hour) }
	renamed, err := s.RenameSession(ctx, sess.ID, " New ")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if renamed.Title != "New" || !renamed.UpdatedAt.After(sess.UpdatedAt) {
		t.Fatalf("unexpected rename result %+v", renamed)
	}
	if _, err := s.RenameSession(ctx, sess.ID, ""); apperr.UserMessage(err) != "Please enter a session title" {
		t.Fatalf("expected validation error, got %v", err)
	}

	if _, err := s.RecordInteraction(ctx, "q", "a"); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	var orphans int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM session_interactions`).Scan(&orphans); err != nil {
		t.Fatalf("count: %v", err)
	}
	if orphans != 0 {
		t.Fatalf("expected cascade delete, %d interactions left", orphans)
	}

	err = s.DeleteSession(ctx, sess.ID)
	if !errors.Is(err, ErrNotFound) || apperr.UserMessage(err) != "Session not found" {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := s.SessionDetail(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := s.ActivateSession(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPruneKeepsActive(t *testing.T) {
	s := openStore(t, config.StoreConfig{RetentionDays: 1, MaxSessions: 2})
	ctx := context.Background()

	s.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	old, err := s.CreateSession(ctx, "old")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	s.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := s.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}
	if _, err := s.SessionDetail(ctx, old.ID); err != nil {
		t.Fatalf("active session must survive prune: %v", err)
	}

	a, _ := s.CreateSession(ctx, "a")
	b, _ := s.CreateSession(ctx, "b")
	c, _ := s.CreateSession(ctx, "c")
	if err := s.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}
	list, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != c.ID || list[1].ID != b.ID {
		t.Fatalf("unexpected sessions after prune: %+v", list)
	}
	if _, err := s.SessionDetail(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected %d pruned", a.ID)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sessions.db")
	s, err := Open(context.Background(), config.StoreConfig{Path: path, VacuumOnStart: true}, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	created, err := s.CreateSession(context.Background(), "persisted")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_ = s.Close()

	s2 := openStore(t, config.StoreConfig{Path: path})
	current, err := s2.ActiveSession(context.Background())
	if err != nil || current == nil || current.ID != created.ID || current.Title != "persisted" {
		t.Fatalf("unexpected current after reopen %+v %v", current, err)
	}
}

type failingGenerator struct{}

func (failingGenerator) Generate(context.Context, llm.Request, func(llm.Chunk) error) error {
	return errors.New("model overloaded")
}

func TestBackendSubmit(t *testing.T) {
	s := openStore(t, config.StoreConfig{})
	ctx := context.Background()
	backend := NewBackend(s, llm.NewMockGenerator(), config.Default().LLM, newLogger())
	fixed := time.Unix(1700000000, 0)
	backend.clock = func() time.Time { return fixed }

	ans, err := backend.Submit(ctx, "Tell me about yourself")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if ans.Answer != "[mock answer for Tell me about yourself]" || ans.SessionID != 0 || !ans.Timestamp.Equal(fixed) {
		t.Fatalf("unexpected answer %+v", ans)
	}

	sess, err := s.CreateSession(ctx, "Practice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ans, err = backend.Submit(ctx, "Why us?")
	if err != nil || ans.SessionID != sess.ID {
		t.Fatalf("expected answer recorded under %d, got %+v %v", sess.ID, ans, err)
	}
	detail, err := s.SessionDetail(ctx, sess.ID)
	if err != nil || len(detail.Interactions) != 1 {
		t.Fatalf("unexpected detail %+v %v", detail, err)
	}
}

func TestBackendSubmitFailure(t *testing.T) {
	s := openStore(t, config.StoreConfig{})
	backend := NewBackend(s, failingGenerator{}, config.Default().LLM, newLogger())
	_, err := backend.Submit(context.Background(), "q")
	if got := apperr.UserMessage(err); got != "Failed to generate answer: model overloaded" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestBackendRecordFailureIsNotFatal(t *testing.T) {
	s := openStore(t, config.StoreConfig{})
	backend := NewBackend(s, llm.NewMockGenerator(), config.Default().LLM, newLogger())
	if _, err := s.CreateSession(context.Background(), "x"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.db.Exec(`DROP TABLE session_interactions`); err != nil {
		t.Fatalf("drop: %v", err)
	}
	ans, err := backend.Submit(context.Background(), "q")
	if err != nil {
		t.Fatalf("submit should not fail when recording fails: %v", err)
	}
	if ans.SessionID != 0 {
		t.Fatalf("expected no session id, got %d", ans.SessionID)
	}
}
