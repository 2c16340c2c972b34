package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

// SessionStore keeps session records in the same file as the frontier.
type SessionStore struct {
	db *sql.DB
}

// Sessions returns a session store sharing the frontier's connection.
func (s *FrontierStore) Sessions() *SessionStore {
	return &SessionStore{db: s.db}
}

// CreateSession inserts a new session row.
func (s *SessionStore) CreateSession(ctx context.Context, sess crawler.Session) error {
	seeds, err := json.Marshal(append([]string{}, sess.Seeds...))
	if err != nil {
		return fmt.Errorf("encode seeds: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO crawl_sessions (id, status, seeds, previous_session_id, created_at)
VALUES (?, ?, ?, ?, ?)`,
		sess.ID, string(sess.Status), string(seeds), sess.PreviousSessionID, sess.Created.UnixNano(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return crawler.ErrSessionExists
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// UpdateSessionStatus sets the status. Terminal states stamp finished_at
// once; other states clear it.
func (s *SessionStore) UpdateSessionStatus(ctx context.Context, id string, status crawler.SessionStatus, errText string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE crawl_sessions
SET status = ?, error_message = ?,
    finished_at = CASE WHEN ? THEN COALESCE(finished_at, ?) ELSE NULL END
WHERE id = ?`,
		string(status), errText, status.Terminal(), time.Now().UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return crawler.ErrSessionNotFound
	}
	return nil
}

// GetSession fetches a session by ID.
func (s *SessionStore) GetSession(ctx context.Context, id string) (crawler.Session, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, status, seeds, previous_session_id, created_at, finished_at, error_message
FROM crawl_sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.Session{}, crawler.ErrSessionNotFound
	}
	return sess, err
}

// ListSessions returns all sessions, oldest first.
func (s *SessionStore) ListSessions(ctx context.Context) ([]crawler.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, status, seeds, previous_session_id, created_at, finished_at, error_message
FROM crawl_sessions ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []crawler.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (crawler.Session, error) {
	var (
		sess     crawler.Session
		status   string
		seeds    string
		created  int64
		finished sql.NullInt64
	)
	if err := row.Scan(&sess.ID, &status, &seeds, &sess.PreviousSessionID, &created, &finished, &sess.ErrorText); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return crawler.Session{}, err
		}
		return crawler.Session{}, fmt.Errorf("scan session: %w", err)
	}
	if err := json.Unmarshal([]byte(seeds), &sess.Seeds); err != nil {
		return crawler.Session{}, fmt.Errorf("decode seeds: %w", err)
	}
	sess.Status = crawler.SessionStatus(status)
	sess.Created = fromNanos(created)
	if finished.Valid {
		t := fromNanos(finished.Int64)
		sess.Finished = &t
	}
	return sess, nil
}
