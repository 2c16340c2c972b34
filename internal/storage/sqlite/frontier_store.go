// Package sqlite persists the frontier of local, resumable crawls in a single
// SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/frontier"
)

// FrontierStore implements frontier.Store on SQLite. The pool is limited to
// one connection, so every statement and transaction is serialised.
type FrontierStore struct {
	db   *sql.DB
	path string
}

var _ frontier.Store = (*FrontierStore)(nil)

// Options configures Open.
type Options struct {
	// EnableWAL switches the journal to write-ahead logging.
	EnableWAL bool
	// BusyTimeout bounds how long a statement waits on a locked file.
	BusyTimeout time.Duration
}

// DefaultOptions enables WAL with a five second busy timeout.
func DefaultOptions() Options {
	return Options{EnableWAL: true, BusyTimeout: 5 * time.Second}
}

// Open opens or creates the database file at path.
func Open(path string, opts Options) (*FrontierStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", dsn(path, opts))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &FrontierStore{db: db, path: path}, nil
}

// dsn carries the pragmas in the connection string so every pooled
// connection gets them, not only the first one.
func dsn(path string, opts Options) string {
	q := url.Values{"mode": {"rwc"}}
	if opts.EnableWAL {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	if opts.BusyTimeout > 0 {
		q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", opts.BusyTimeout.Milliseconds()))
	}
	return path + "?" + q.Encode()
}

// Path returns the database file location.
func (s *FrontierStore) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *FrontierStore) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS crawl_tasks (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id  TEXT    NOT NULL,
	method      TEXT    NOT NULL,
	url         TEXT    NOT NULL,
	parent_url  TEXT    NOT NULL DEFAULT '',
	depth       INTEGER NOT NULL,
	encoding    TEXT    NOT NULL DEFAULT '',
	create_time INTEGER NOT NULL,
	claimed_by  TEXT,
	claimed_at  INTEGER,
	UNIQUE (session_id, url)
);
CREATE INDEX IF NOT EXISTS idx_crawl_tasks_pending
	ON crawl_tasks (session_id, depth, create_time, id) WHERE claimed_by IS NULL;

CREATE TABLE IF NOT EXISTS access_results (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id     TEXT    NOT NULL,
	url            TEXT    NOT NULL,
	parent_url     TEXT    NOT NULL DEFAULT '',
	method         TEXT    NOT NULL,
	status         TEXT    NOT NULL,
	http_status    INTEGER NOT NULL DEFAULT 0,
	content_hash   TEXT    NOT NULL DEFAULT '',
	last_modified  INTEGER,
	mime_type      TEXT    NOT NULL DEFAULT '',
	content_length INTEGER NOT NULL DEFAULT 0,
	fetch_time     INTEGER NOT NULL,
	execution_ms   INTEGER NOT NULL DEFAULT 0,
	error          TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_access_results_lookup ON access_results (session_id, url, id);

CREATE TABLE IF NOT EXISTS crawl_sessions (
	id                  TEXT    PRIMARY KEY,
	status              TEXT    NOT NULL,
	seeds               TEXT    NOT NULL DEFAULT '[]',
	previous_session_id TEXT    NOT NULL DEFAULT '',
	created_at          INTEGER NOT NULL,
	finished_at         INTEGER,
	error_message       TEXT    NOT NULL DEFAULT ''
);
`

// Enqueue inserts a task unless its URL is live or already fetched.
func (s *FrontierStore) Enqueue(ctx context.Context, task crawler.CrawlTask) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin enqueue: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var duplicate bool
	err = tx.QueryRowContext(ctx, `
SELECT EXISTS (SELECT 1 FROM crawl_tasks WHERE session_id = ? AND url = ?)
    OR EXISTS (SELECT 1 FROM access_results
               WHERE session_id = ? AND url = ? AND status IN ('completed', 'not_modified'))`,
		task.SessionID, task.URL, task.SessionID, task.URL,
	).Scan(&duplicate)
	if err != nil {
		return 0, fmt.Errorf("check duplicate: %w", err)
	}
	if duplicate {
		return 0, crawler.ErrDuplicateTask
	}

	res, err := tx.ExecContext(ctx, `
INSERT INTO crawl_tasks (session_id, method, url, parent_url, depth, encoding, create_time)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		task.SessionID, string(task.Method), task.URL, task.ParentURL, task.Depth, task.Encoding,
		task.CreateTime.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("task id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit enqueue: %w", err)
	}
	return id, nil
}

// Claim marks the next pending task of the session as held by workerID in a
// single statement.
func (s *FrontierStore) Claim(ctx context.Context, sessionID, workerID string, now time.Time) (crawler.CrawlTask, error) {
	var (
		task       crawler.CrawlTask
		method     string
		createTime int64
		claimedBy  sql.NullString
		claimedAt  sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
UPDATE crawl_tasks SET claimed_by = ?, claimed_at = ?
WHERE id = (
	SELECT id FROM crawl_tasks
	WHERE session_id = ? AND claimed_by IS NULL
	ORDER BY depth, create_time, id
	LIMIT 1
)
RETURNING id, session_id, method, url, parent_url, depth, encoding, create_time, claimed_by, claimed_at`,
		workerID, now.UnixNano(), sessionID,
	).Scan(
		&task.ID, &task.SessionID, &method, &task.URL, &task.ParentURL,
		&task.Depth, &task.Encoding, &createTime, &claimedBy, &claimedAt,
	)
	if err == nil {
		task.Method = crawler.Method(method)
		task.CreateTime = fromNanos(createTime)
		task.ClaimedBy = claimedBy.String
		if claimedAt.Valid {
			task.ClaimedAt = fromNanos(claimedAt.Int64)
		}
		return task, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return crawler.CrawlTask{}, fmt.Errorf("claim task: %w", err)
	}

	var live int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM crawl_tasks WHERE session_id = ?`, sessionID).Scan(&live); err != nil {
		return crawler.CrawlTask{}, fmt.Errorf("count tasks: %w", err)
	}
	if live > 0 {
		return crawler.CrawlTask{}, frontier.ErrNoTaskAvailable
	}
	return crawler.CrawlTask{}, frontier.ErrSessionExhausted
}

// Complete deletes the task and appends the ledger row in one transaction.
func (s *FrontierStore) Complete(ctx context.Context, taskID int64, result crawler.AccessResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin complete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var method string
	err = tx.QueryRowContext(ctx,
		`DELETE FROM crawl_tasks WHERE id = ? RETURNING session_id, url, parent_url, method`, taskID,
	).Scan(&result.SessionID, &result.URL, &result.ParentURL, &method)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	result.Method = crawler.Method(method)

	var lastModified sql.NullInt64
	if !result.LastModified.IsZero() {
		lastModified = sql.NullInt64{Int64: result.LastModified.UnixNano(), Valid: true}
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO access_results (
	session_id, url, parent_url, method, status, http_status, content_hash,
	last_modified, mime_type, content_length, fetch_time, execution_ms, error
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.SessionID, result.URL, result.ParentURL, string(result.Method), string(result.Status),
		result.HTTPStatus, result.ContentHash, lastModified, result.MimeType, result.ContentLength,
		result.FetchTime.UnixNano(), result.ExecutionTime.Milliseconds(), result.Error,
	)
	if err != nil {
		return fmt.Errorf("insert access result: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit complete: %w", err)
	}
	return nil
}

// Release clears the claim on a task.
func (s *FrontierStore) Release(ctx context.Context, taskID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE crawl_tasks SET claimed_by = NULL, claimed_at = NULL WHERE id = ? AND claimed_by IS NOT NULL`, taskID)
	if err != nil {
		return fmt.Errorf("release task: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM crawl_tasks WHERE id = ?)`, taskID).Scan(&exists); err != nil {
		return fmt.Errorf("lookup task: %w", err)
	}
	if !exists {
		return crawler.ErrTaskNotFound
	}
	return crawler.ErrTaskNotClaimed
}

// ReleaseExpired clears claims taken before cutoff.
func (s *FrontierStore) ReleaseExpired(ctx context.Context, sessionID string, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE crawl_tasks SET claimed_by = NULL, claimed_at = NULL
WHERE session_id = ? AND claimed_by IS NOT NULL AND claimed_at < ?`,
		sessionID, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("release expired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// LastAccess returns the newest ledger row for the URL.
func (s *FrontierStore) LastAccess(ctx context.Context, sessionID, url string) (crawler.AccessResult, bool, error) {
	var (
		res          crawler.AccessResult
		method       string
		status       string
		lastModified sql.NullInt64
		fetchTime    int64
		executionMS  int64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT session_id, url, parent_url, method, status, http_status, content_hash,
       last_modified, mime_type, content_length, fetch_time, execution_ms, error
FROM access_results
WHERE session_id = ? AND url = ?
ORDER BY id DESC
LIMIT 1`, sessionID, url).Scan(
		&res.SessionID, &res.URL, &res.ParentURL, &method, &status, &res.HTTPStatus, &res.ContentHash,
		&lastModified, &res.MimeType, &res.ContentLength, &fetchTime, &executionMS, &res.Error,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.AccessResult{}, false, nil
	}
	if err != nil {
		return crawler.AccessResult{}, false, fmt.Errorf("query access result: %w", err)
	}
	res.Method = crawler.Method(method)
	res.Status = crawler.AccessStatus(status)
	if lastModified.Valid {
		res.LastModified = fromNanos(lastModified.Int64)
	}
	res.FetchTime = fromNanos(fetchTime)
	res.ExecutionTime = time.Duration(executionMS) * time.Millisecond
	return res, true, nil
}

// Stats counts tasks and ledger rows of the session.
func (s *FrontierStore) Stats(ctx context.Context, sessionID string) (frontier.Stats, error) {
	var st frontier.Stats
	err := s.db.QueryRowContext(ctx, `
SELECT
	(SELECT count(*) FROM crawl_tasks WHERE session_id = ?1 AND claimed_by IS NULL),
	(SELECT count(*) FROM crawl_tasks WHERE session_id = ?1 AND claimed_by IS NOT NULL),
	(SELECT count(*) FROM access_results WHERE session_id = ?1 AND status = 'completed'),
	(SELECT count(*) FROM access_results WHERE session_id = ?1 AND status = 'not_modified'),
	(SELECT count(*) FROM access_results WHERE session_id = ?1 AND status = 'abandoned')`,
		sessionID,
	).Scan(&st.Pending, &st.Claimed, &st.Completed, &st.NotModified, &st.Abandoned)
	if err != nil {
		return frontier.Stats{}, fmt.Errorf("query stats: %w", err)
	}
	return st, nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
