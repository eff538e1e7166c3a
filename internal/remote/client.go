// Package remote talks to the HTTP interview backend: the QA endpoint and the
// session store behind it.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-assist/internal/apperr"
	"github.com/loqalabs/loqa-assist/internal/config"
	"github.com/loqalabs/loqa-assist/internal/dispatch"
	"github.com/loqalabs/loqa-assist/internal/sessions"
)

const maxBody = 4 << 20

// Client implements dispatch.Backend and sessions.Store over HTTP. The
// backend tracks the active session in a cookie, so one Client must be used
// for both roles.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger *slog.Logger
}

var (
	_ dispatch.Backend = (*Client)(nil)
	_ sessions.Store   = (*Client)(nil)
)

func New(cfg config.BackendConfig, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.Endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend endpoint: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("backend endpoint %q must be an absolute URL", cfg.Endpoint)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		base: base,
		http: &http.Client{
			Jar:     jar,
			Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		},
		logger: logger.With(slog.String("component", "remote"), slog.String("endpoint", base.String())),
	}, nil
}

func (c *Client) Submit(ctx context.Context, question string) (dispatch.Answer, error) {
	var resp askResponse
	if err := c.do(ctx, "send question", http.MethodPost, "/send_question", askRequest{Question: question}, &resp); err != nil {
		return dispatch.Answer{}, err
	}
	ans := dispatch.Answer{
		Question:  resp.Question,
		Answer:    resp.Answer,
		Timestamp: resp.Timestamp.Time,
	}
	if resp.SessionID != nil {
		ans.SessionID = *resp.SessionID
	}
	return ans, nil
}

func (c *Client) ActiveSession(ctx context.Context) (*sessions.Session, error) {
	var resp sessionResponse
	if err := c.do(ctx, "load current session", http.MethodGet, "/current_session", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Session == nil {
		return nil, nil
	}
	s := resp.Session.session()
	return &s, nil
}

func (c *Client) ListSessions(ctx context.Context) ([]sessions.Session, error) {
	var resp listResponse
	if err := c.do(ctx, "load sessions", http.MethodGet, "/sessions", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]sessions.Session, 0, len(resp.Sessions))
	for _, w := range resp.Sessions {
		out = append(out, w.session())
	}
	return out, nil
}

func (c *Client) CreateSession(ctx context.Context, title string) (sessions.Session, error) {
	var resp sessionResponse
	if err := c.do(ctx, "create session", http.MethodPost, "/sessions", titleRequest{Title: title}, &resp); err != nil {
		return sessions.Session{}, err
	}
	if resp.Session == nil {
		return sessions.Session{}, &apperr.RemoteError{Op: "create session", Err: errors.New("response has no session")}
	}
	return resp.Session.session(), nil
}

func (c *Client) SessionDetail(ctx context.Context, id int64) (sessions.Detail, error) {
	var resp detailResponse
	if err := c.do(ctx, "load session", http.MethodGet, sessionPath(id, ""), nil, &resp); err != nil {
		return sessions.Detail{}, err
	}
	return resp.detail(), nil
}

func (c *Client) ActivateSession(ctx context.Context, id int64) error {
	var resp sessionResponse
	return c.do(ctx, "activate session", http.MethodPost, sessionPath(id, "/activate"), struct{}{}, &resp)
}

func (c *Client) RenameSession(ctx context.Context, id int64, title string) (sessions.Session, error) {
	var resp sessionResponse
	if err := c.do(ctx, "rename session", http.MethodPut, sessionPath(id, "/rename"), titleRequest{Title: title}, &resp); err != nil {
		return sessions.Session{}, err
	}
	if resp.Session == nil {
		return sessions.Session{}, &apperr.RemoteError{Op: "rename session", Err: errors.New("response has no session")}
	}
	return resp.Session.session(), nil
}

func (c *Client) DeleteSession(ctx context.Context, id int64) error {
	var resp envelope
	return c.do(ctx, "delete session", http.MethodDelete, sessionPath(id, ""), nil, &resp)
}

func sessionPath(id int64, suffix string) string {
	return "/sessions/" + strconv.FormatInt(id, 10) + suffix
}

// do performs one call. Any failure is returned as *apperr.RemoteError; a
// backend-supplied message is kept verbatim in Message.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &apperr.RemoteError{Op: op, Err: err}
		}
		reader = bytes.NewReader(data)
	}

	target := c.base.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return &apperr.RemoteError{Op: op, Err: err}
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("backend request failed", slog.String("op", op), slog.String("request_id", requestID), slogError(err))
		return &apperr.RemoteError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return &apperr.RemoteError{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}
	c.logger.Debug("backend call",
		slog.String("op", op),
		slog.String("request_id", requestID),
		slog.Int("status", resp.StatusCode),
		slog.Duration("latency", time.Since(start)))

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		if resp.StatusCode >= 300 {
			return &apperr.RemoteError{Op: op, Err: fmt.Errorf("backend returned %s", resp.Status)}
		}
		return &apperr.RemoteError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	if resp.StatusCode >= 300 || (env.Success != nil && !*env.Success) {
		return &apperr.RemoteError{Op: op, Message: env.Message, Err: fmt.Errorf("backend returned %s", resp.Status)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &apperr.RemoteError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
