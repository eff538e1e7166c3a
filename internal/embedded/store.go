// Package embedded provides an in-process session store and QA backend on
// SQLite, for running without a remote interview backend.
package embedded

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loqalabs/loqa-assist/internal/apperr"
	"github.com/loqalabs/loqa-assist/internal/config"
	"github.com/loqalabs/loqa-assist/internal/interaction"
	"github.com/loqalabs/loqa-assist/internal/sessions"
	_ "modernc.org/sqlite"
)

// DefaultTitle is used when a session is created without a title.
const DefaultTitle = "Untitled Session"

// Fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned for an unknown session id.
var ErrNotFound = errors.New("session not found")

// Store is a SQLite-backed sessions.Store. The active session is the single
// row with is_active set.
type Store struct {
	db    *sql.DB
	cfg   config.StoreConfig
	log   *slog.Logger
	clock func() time.Time
}

var _ sessions.Store = (*Store)(nil)

// Open creates the database file if needed, applies the schema and prunes.
func Open(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps the per-connection pragmas and serializes writers.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{
		db:    db,
		cfg:   cfg,
		log:   log.With(slog.String("component", "embedded-store")),
		clock: time.Now,
	}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			s.log.Warn("session store vacuum failed", slogError(err))
		}
	}
	if err := s.Prune(ctx); err != nil {
		s.log.Warn("session store prune on start failed", slogError(err))
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS interview_sessions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL DEFAULT 'Untitled Session',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    is_active INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS session_interactions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id INTEGER NOT NULL,
    question TEXT NOT NULL,
    answer TEXT NOT NULL,
    created_at TEXT NOT NULL,
    interaction_order INTEGER NOT NULL,
    FOREIGN KEY(session_id) REFERENCES interview_sessions(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_interactions_session_order ON session_interactions(session_id, interaction_order);
CREATE INDEX IF NOT EXISTS idx_sessions_updated ON interview_sessions(updated_at);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) now() string {
	return s.clock().UTC().Format(timeLayout)
}

const sessionColumns = `s.id, s.title, s.created_at, s.updated_at, s.is_active,
	(SELECT COUNT(*) FROM session_interactions i WHERE i.session_id = s.id)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (sessions.Session, error) {
	var (
		sess             sessions.Session
		created, updated string
		active           int
	)
	if err := row.Scan(&sess.ID, &sess.Title, &created, &updated, &active, &sess.InteractionCount); err != nil {
		return sessions.Session{}, err
	}
	sess.IsActive = active != 0
	sess.CreatedAt = parseTime(created)
	sess.UpdatedAt = parseTime(updated)
	return sess, nil
}

func parseTime(v string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return ts
}

func (s *Store) getSession(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, id int64) (sessions.Session, error) {
	sess, err := scanSession(q.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM interview_sessions s WHERE s.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return sessions.Session{}, ErrNotFound
	}
	return sess, err
}

// ActiveSession returns the active session or nil.
func (s *Store) ActiveSession(ctx context.Context) (*sessions.Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM interview_sessions s WHERE s.is_active = 1 ORDER BY s.updated_at DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("load current session", err)
	}
	return &sess, nil
}

// ListSessions returns every session, most recently updated first.
func (s *Store) ListSessions(ctx context.Context) ([]sessions.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM interview_sessions s ORDER BY s.updated_at DESC, s.id DESC`)
	if err != nil {
		return nil, storeError("load sessions", err)
	}
	defer rows.Close()

	var out []sessions.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, storeError("load sessions", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("load sessions", err)
	}
	return out, nil
}

// CreateSession inserts a session and makes it the only active one.
func (s *Store) CreateSession(ctx context.Context, title string) (sessions.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}
	var created sessions.Session
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE interview_sessions SET is_active = 0 WHERE is_active = 1`); err != nil {
			return err
		}
		now := s.now()
		res, err := tx.ExecContext(ctx,
			`INSERT INTO interview_sessions(title, created_at, updated_at, is_active) VALUES(?, ?, ?, 1)`,
			title, now, now)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		created, err = s.getSession(ctx, tx, id)
		return err
	})
	if err != nil {
		return sessions.Session{}, storeError("create session", err)
	}
	s.log.Info("session created", slog.Int64("session_id", created.ID), slog.String("title", created.Title))
	return created, nil
}

// SessionDetail returns a session with its interactions in order.
func (s *Store) SessionDetail(ctx context.Context, id int64) (sessions.Detail, error) {
	sess, err := s.getSession(ctx, s.db, id)
	if err != nil {
		return sessions.Detail{}, storeError("load session", err)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT question, answer, created_at FROM session_interactions WHERE session_id = ? ORDER BY interaction_order ASC`, id)
	if err != nil {
		return sessions.Detail{}, storeError("load session", err)
	}
	defer rows.Close()

	detail := sessions.Detail{Session: sess}
	for rows.Next() {
		var it interaction.Interaction
		var created string
		if err := rows.Scan(&it.Question, &it.Answer, &created); err != nil {
			return sessions.Detail{}, storeError("load session", err)
		}
		it.CreatedAt = parseTime(created)
		detail.Interactions = append(detail.Interactions, it)
	}
	if err := rows.Err(); err != nil {
		return sessions.Detail{}, storeError("load session", err)
	}
	return detail, nil
}

// ActivateSession deactivates every other session and activates id.
func (s *Store) ActivateSession(ctx context.Context, id int64) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.getSession(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE interview_sessions SET is_active = 0 WHERE is_active = 1 AND id != ?`, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE interview_sessions SET is_active = 1 WHERE id = ?`, id)
		return err
	})
	if err != nil {
		return storeError("activate session", err)
	}
	return nil
}

// RenameSession sets a new title and bumps updated_at.
func (s *Store) RenameSession(ctx context.Context, id int64, title string) (sessions.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return sessions.Session{}, sessions.ErrEmptyTitle
	}
	var renamed sessions.Session
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE interview_sessions SET title = ?, updated_at = ? WHERE id = ?`, title, s.now(), id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		renamed, err = s.getSession(ctx, tx, id)
		return err
	})
	if err != nil {
		return sessions.Session{}, storeError("rename session", err)
	}
	return renamed, nil
}

// DeleteSession removes a session and its interactions.
func (s *Store) DeleteSession(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM interview_sessions WHERE id = ?`, id)
	if err != nil {
		return storeError("delete session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storeError("delete session", ErrNotFound)
	}
	s.log.Info("session deleted", slog.Int64("session_id", id))
	return nil
}

// RecordInteraction appends to the active session. It returns the session id
// it recorded under, or zero when no session is active.
func (s *Store) RecordInteraction(ctx context.Context, question, answer string) (int64, error) {
	var sessionID int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM interview_sessions WHERE is_active = 1 ORDER BY updated_at DESC LIMIT 1`).Scan(&sessionID)
		if errors.Is(err, sql.ErrNoRows) {
			sessionID = 0
			return nil
		}
		if err != nil {
			return err
		}
		var order int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(interaction_order), 0) + 1 FROM session_interactions WHERE session_id = ?`,
			sessionID).Scan(&order); err != nil {
			return err
		}
		now := s.now()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO session_interactions(session_id, question, answer, created_at, interaction_order) VALUES(?, ?, ?, ?, ?)`,
			sessionID, question, answer, now, order); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE interview_sessions SET updated_at = ? WHERE id = ?`, now, sessionID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("record interaction: %w", err)
	}
	return sessionID, nil
}

// Prune drops inactive sessions past the retention window and beyond the
// session cap. The active session is never pruned.
func (s *Store) Prune(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if s.cfg.RetentionDays > 0 {
			cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UTC().Format(timeLayout)
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM interview_sessions WHERE is_active = 0 AND updated_at < ?`, cutoff); err != nil {
				return err
			}
		}
		if s.cfg.MaxSessions > 0 {
			var active int
			if err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM interview_sessions WHERE is_active = 1`).Scan(&active); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM interview_sessions WHERE id IN (
				SELECT id FROM interview_sessions WHERE is_active = 0
				ORDER BY updated_at DESC, id DESC LIMIT -1 OFFSET ?
			)`, max(s.cfg.MaxSessions-active, 0)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func storeError(op string, err error) error {
	var ve *apperr.ValidationError
	if errors.As(err, &ve) {
		return err
	}
	if errors.Is(err, ErrNotFound) {
		return &apperr.RemoteError{Op: op, Message: "Session not found", Err: err}
	}
	return &apperr.RemoteError{Op: op, Err: err}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
