package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-assist/internal/apperr"
	"github.com/loqalabs/loqa-assist/internal/config"
)

// fakeBackend mimics the interview backend: the active session id lives in a
// cookie, interactions are recorded against it.
type fakeBackend struct {
	mu         sync.Mutex
	nextID     int64
	titles     map[int64]string
	active     map[int64]bool
	questions  map[int64][]string
	requestIDs []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{nextID: 1, titles: map[int64]string{}, active: map[int64]bool{}, questions: map[int64][]string{}}
}

func (b *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	write := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	sessionJSON := func(id int64) map[string]any {
		return map[string]any{
			"id":                id,
			"title":             b.titles[id],
			"created_at":        "2024-05-01T10:00:00.123456",
			"updated_at":        "2024-05-01T10:05:00",
			"is_active":         b.active[id],
			"interaction_count": len(b.questions[id]),
		}
	}
	activeFromCookie := func(r *http.Request) int64 {
		c, err := r.Cookie("active_session_id")
		if err != nil {
			return 0
		}
		id, _ := strconv.ParseInt(c.Value, 10, 64)
		return id
	}
	record := func(r *http.Request) {
		b.requestIDs = append(b.requestIDs, r.Header.Get("X-Request-ID"))
	}

	mux.HandleFunc("POST /send_question", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		record(r)
		var req struct {
			Question string `json:"question"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Question == "fail" {
			write(w, http.StatusInternalServerError, map[string]any{"success": false, "message": "Failed to generate answer: model overloaded"})
			return
		}
		sid := activeFromCookie(r)
		var sessionID any
		if sid != 0 {
			b.questions[sid] = append(b.questions[sid], req.Question)
			sessionID = sid
		}
		write(w, http.StatusOK, map[string]any{
			"success":    true,
			"question":   req.Question,
			"answer":     "I am a software engineer...",
			"timestamp":  1700000000,
			"session_id": sessionID,
		})
	})
	mux.HandleFunc("POST /sessions", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		record(r)
		var req struct {
			Title string `json:"title"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		for id := range b.active {
			b.active[id] = false
		}
		id := b.nextID
		b.nextID++
		b.titles[id] = req.Title
		b.active[id] = true
		http.SetCookie(w, &http.Cookie{Name: "active_session_id", Value: strconv.FormatInt(id, 10), Path: "/"})
		write(w, http.StatusOK, map[string]any{"success": true, "session": sessionJSON(id)})
	})
	mux.HandleFunc("GET /sessions", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		record(r)
		var list []map[string]any
		for id := int64(1); id < b.nextID; id++ {
			if _, ok := b.titles[id]; ok {
				list = append(list, sessionJSON(id))
			}
		}
		write(w, http.StatusOK, map[string]any{"success": true, "sessions": list})
	})
	mux.HandleFunc("GET /sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		record(r)
		id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if _, ok := b.titles[id]; !ok {
			http.Error(w, "<html>404 Not Found</html>", http.StatusNotFound)
			return
		}
		var its []map[string]any
		for i, q := range b.questions[id] {
			its = append(its, map[string]any{
				"id": i + 1, "question": q, "answer": "a", "created_at": "2024-05-01T10:01:00", "interaction_order": i + 1,
			})
		}
		write(w, http.StatusOK, map[string]any{"success": true, "session": sessionJSON(id), "interactions": its})
	})
	mux.HandleFunc("POST /sessions/{id}/activate", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		record(r)
		id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
		for sid := range b.active {
			b.active[sid] = sid == id
		}
		http.SetCookie(w, &http.Cookie{Name: "active_session_id", Value: strconv.FormatInt(id, 10), Path: "/"})
		write(w, http.StatusOK, map[string]any{"success": true, "session": sessionJSON(id)})
	})
	mux.HandleFunc("PUT /sessions/{id}/rename", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		record(r)
		id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
		var req struct {
			Title string `json:"title"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Title == "" {
			write(w, http.StatusBadRequest, map[string]any{"success": false, "message": "Title cannot be empty"})
			return
		}
		b.titles[id] = req.Title
		write(w, http.StatusOK, map[string]any{"success": true, "session": sessionJSON(id)})
	})
	mux.HandleFunc("DELETE /sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		record(r)
		id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
		delete(b.titles, id)
		delete(b.active, id)
		if activeFromCookie(r) == id {
			http.SetCookie(w, &http.Cookie{Name: "active_session_id", Value: "", Path: "/", MaxAge: -1})
		}
		write(w, http.StatusOK, map[string]any{"success": true, "message": "Session deleted successfully"})
	})
	mux.HandleFunc("GET /current_session", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		record(r)
		id := activeFromCookie(r)
		if id == 0 || !b.active[id] {
			write(w, http.StatusOK, map[string]any{"success": true, "session": nil})
			return
		}
		write(w, http.StatusOK, map[string]any{"success": true, "session": sessionJSON(id)})
	})
	return mux
}

func newTestClient(t *testing.T) (*Client, *fakeBackend) {
	t.Helper()
	backend := newFakeBackend()
	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := New(config.BackendConfig{Mode: "remote", Endpoint: srv.URL + "/", TimeoutMS: 5000}, logger)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client, backend
}

func TestSubmitParsesAnswer(t *testing.T) {
	client, backend := newTestClient(t)
	ans, err := client.Submit(context.Background(), "Tell me about yourself")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if ans.Question != "Tell me about yourself" || ans.Answer != "I am a software engineer..." {
		t.Fatalf("unexpected answer %+v", ans)
	}
	if !ans.Timestamp.Equal(time.Unix(1700000000, 0)) || ans.SessionID != 0 {
		t.Fatalf("unexpected metadata %+v", ans)
	}
	if len(backend.requestIDs) != 1 || backend.requestIDs[0] == "" {
		t.Fatalf("expected a request id header, got %v", backend.requestIDs)
	}
}

func TestSubmitSurfacesBackendMessage(t *testing.T) {
	client, _ := newTestClient(t)
	_, err := client.Submit(context.Background(), "fail")
	var re *apperr.RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("expected remote error, got %v", err)
	}
	if apperr.UserMessage(err) != "Failed to generate answer: model overloaded" {
		t.Fatalf("unexpected message %q", apperr.UserMessage(err))
	}
}

func TestSessionLifecycleUsesCookie(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	current, err := client.ActiveSession(ctx)
	if err != nil || current != nil {
		t.Fatalf("expected no active session, got %+v %v", current, err)
	}

	created, err := client.CreateSession(ctx, "Session A")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Title != "Session A" || !created.IsActive {
		t.Fatalf("unexpected session %+v", created)
	}
	if created.CreatedAt.IsZero() || created.CreatedAt.Nanosecond() != 123456000 {
		t.Fatalf("unexpected created_at %v", created.CreatedAt)
	}

	ans, err := client.Submit(ctx, "Why us?")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if ans.SessionID != created.ID {
		t.Fatalf("cookie not sent: session id %d", ans.SessionID)
	}

	current, err = client.ActiveSession(ctx)
	if err != nil || current == nil || current.ID != created.ID {
		t.Fatalf("unexpected current %+v %v", current, err)
	}

	detail, err := client.SessionDetail(ctx, created.ID)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if len(detail.Interactions) != 1 || detail.Interactions[0].Question != "Why us?" {
		t.Fatalf("unexpected interactions %+v", detail.Interactions)
	}

	renamed, err := client.RenameSession(ctx, created.ID, "Session B")
	if err != nil || renamed.Title != "Session B" {
		t.Fatalf("rename: %+v %v", renamed, err)
	}

	second, err := client.CreateSession(ctx, "Second")
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if err := client.ActivateSession(ctx, created.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	list, err := client.ListSessions(ctx)
	if err != nil || len(list) != 2 {
		t.Fatalf("list: %+v %v", list, err)
	}
	if !list[0].IsActive || list[1].IsActive || list[1].ID != second.ID {
		t.Fatalf("unexpected active flags %+v", list)
	}

	if err := client.DeleteSession(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	current, err = client.ActiveSession(ctx)
	if err != nil || current != nil {
		t.Fatalf("expected no current session after delete, got %+v %v", current, err)
	}
}

func TestRenameEmptyTitleMessage(t *testing.T) {
	client, _ := newTestClient(t)
	created, err := client.CreateSession(context.Background(), "x")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = client.RenameSession(context.Background(), created.ID, "")
	if apperr.UserMessage(err) != "Title cannot be empty" {
		t.Fatalf("unexpected message %q", apperr.UserMessage(err))
	}
}

func TestNonJSONErrorIsGeneric(t *testing.T) {
	client, _ := newTestClient(t)
	_, err := client.SessionDetail(context.Background(), 99)
	if got := apperr.UserMessage(err); got != "Failed to load session. Please try again." {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestParseTimestamp(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"2024-05-01T10:00:00Z", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{"2024-05-01T10:00:00", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{"2024-05-01 10:00:00", time.Date(2024, 5, 1, 10, 0, 0, 0, time.Local)},
	}
	for _, tc := range cases {
		got, err := ParseTimestamp(tc.in)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.in, err)
		}
		if !got.Equal(tc.want) {
			t.Fatalf("parse %q: expected %v, got %v", tc.in, tc.want, got)
		}
	}
	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewRejectsRelativeEndpoint(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := New(config.BackendConfig{Endpoint: "localhost"}, logger); err == nil {
		t.Fatal("expected error")
	}
}
