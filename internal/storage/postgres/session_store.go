package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

// SessionStore keeps crawl session records in Postgres.
type SessionStore struct {
	pool pool
}

// NewSessionStoreWithPool builds a SessionStore on an existing pool.
func NewSessionStoreWithPool(p pool) (*SessionStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &SessionStore{pool: p}, nil
}

// CreateSession inserts a new session row.
func (s *SessionStore) CreateSession(ctx context.Context, sess crawler.Session) error {
	query := `
		INSERT INTO crawl_sessions (id, status, seeds, previous_session_id, created_at)
		VALUES ($1, $2, $3, $4, $5);
	`
	_, err := s.pool.Exec(ctx, query,
		sess.ID,
		string(sess.Status),
		sess.Seeds,
		sess.PreviousSessionID,
		sess.Created.UTC(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return crawler.ErrSessionExists
		}
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// UpdateSessionStatus sets the status, stamping finished_at for terminal
// states and clearing it when a session resumes.
func (s *SessionStore) UpdateSessionStatus(ctx context.Context, id string, status crawler.SessionStatus, errText string) error {
	query := `
		UPDATE crawl_sessions
		SET status = $1, error_message = $2,
		    finished_at = CASE WHEN $3 THEN COALESCE(finished_at, $4) ELSE NULL END
		WHERE id = $5;
	`
	tag, err := s.pool.Exec(ctx, query, string(status), errText, status.Terminal(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrSessionNotFound
	}
	return nil
}

const sessionColumns = `id, status, seeds, previous_session_id, created_at, finished_at, error_message`

// GetSession retrieves a single session by its ID.
func (s *SessionStore) GetSession(ctx context.Context, id string) (crawler.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM crawl_sessions WHERE id = $1;`
	sess, err := scanSession(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Session{}, crawler.ErrSessionNotFound
		}
		return crawler.Session{}, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns every session, oldest first.
func (s *SessionStore) ListSessions(ctx context.Context) ([]crawler.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM crawl_sessions ORDER BY created_at, id;`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []crawler.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return out, nil
}

func scanSession(row pgx.Row) (crawler.Session, error) {
	var (
		sess   crawler.Session
		status string
	)
	err := row.Scan(
		&sess.ID,
		&status,
		&sess.Seeds,
		&sess.PreviousSessionID,
		&sess.Created,
		&sess.Finished,
		&sess.ErrorText,
	)
	if err != nil {
		return crawler.Session{}, err
	}
	sess.Status = crawler.SessionStatus(status)
	return sess, nil
}
