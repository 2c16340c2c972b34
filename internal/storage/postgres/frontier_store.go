package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/frontier"
)

// FrontierStore persists tasks and the access ledger in Postgres. Enqueue
// takes a transaction-scoped advisory lock on (session, url); claims use
// FOR UPDATE SKIP LOCKED so concurrent workers never pick the same row.
type FrontierStore struct {
	pool pool
}

var _ frontier.Store = (*FrontierStore)(nil)

// NewFrontierStore connects to Postgres and ensures the schema exists.
func NewFrontierStore(ctx context.Context, cfg Config) (*FrontierStore, error) {
	p, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, p); err != nil {
		p.Close()
		return nil, err
	}
	return &FrontierStore{pool: p}, nil
}

// NewFrontierStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewFrontierStoreWithPool(p pool) (*FrontierStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &FrontierStore{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *FrontierStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

const (
	lockURLQuery = `SELECT pg_advisory_xact_lock(hashtextextended($1 || chr(0) || $2, 0))`

	duplicateQuery = `
SELECT EXISTS (SELECT 1 FROM crawl_tasks WHERE session_id = $1 AND url = $2)
    OR EXISTS (SELECT 1 FROM access_results
               WHERE session_id = $1 AND url = $2 AND status IN ('completed', 'not_modified'))`

	insertTaskQuery = `
INSERT INTO crawl_tasks (session_id, method, url, parent_url, depth, encoding, create_time)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`

	claimQuery = `
UPDATE crawl_tasks SET claimed_by = $2, claimed_at = $3
WHERE id = (
	SELECT id FROM crawl_tasks
	WHERE session_id = $1 AND claimed_by IS NULL
	ORDER BY depth, create_time, id
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING id, session_id, method, url, parent_url, depth, encoding, create_time, claimed_by, claimed_at`

	countTasksQuery = `SELECT count(*) FROM crawl_tasks WHERE session_id = $1`

	deleteTaskQuery = `DELETE FROM crawl_tasks WHERE id = $1 RETURNING session_id, url, parent_url, method`

	insertResultQuery = `
INSERT INTO access_results (
	session_id, url, parent_url, method, status, http_status, content_hash,
	last_modified, mime_type, content_length, fetch_time, execution_ms, error
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	releaseQuery = `UPDATE crawl_tasks SET claimed_by = NULL, claimed_at = NULL WHERE id = $1 AND claimed_by IS NOT NULL`

	taskExistsQuery = `SELECT EXISTS (SELECT 1 FROM crawl_tasks WHERE id = $1)`

	releaseExpiredQuery = `
UPDATE crawl_tasks SET claimed_by = NULL, claimed_at = NULL
WHERE session_id = $1 AND claimed_by IS NOT NULL AND claimed_at < $2`

	lastAccessQuery = `
SELECT session_id, url, parent_url, method, status, http_status, content_hash,
       last_modified, mime_type, content_length, fetch_time, execution_ms, error
FROM access_results
WHERE session_id = $1 AND url = $2
ORDER BY id DESC
LIMIT 1`

	statsQuery = `
SELECT
	(SELECT count(*) FROM crawl_tasks WHERE session_id = $1 AND claimed_by IS NULL),
	(SELECT count(*) FROM crawl_tasks WHERE session_id = $1 AND claimed_by IS NOT NULL),
	(SELECT count(*) FROM access_results WHERE session_id = $1 AND status = 'completed'),
	(SELECT count(*) FROM access_results WHERE session_id = $1 AND status = 'not_modified'),
	(SELECT count(*) FROM access_results WHERE session_id = $1 AND status = 'abandoned')`
)

// Enqueue inserts a task unless its URL is live or already fetched.
func (s *FrontierStore) Enqueue(ctx context.Context, task crawler.CrawlTask) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin enqueue: %w", err)
	}
	if _, err := tx.Exec(ctx, lockURLQuery, task.SessionID, task.URL); err != nil {
		rollback(ctx, tx)
		return 0, fmt.Errorf("lock url: %w", err)
	}
	var duplicate bool
	if err := tx.QueryRow(ctx, duplicateQuery, task.SessionID, task.URL).Scan(&duplicate); err != nil {
		rollback(ctx, tx)
		return 0, fmt.Errorf("check duplicate: %w", err)
	}
	if duplicate {
		rollback(ctx, tx)
		return 0, crawler.ErrDuplicateTask
	}
	var id int64
	err = tx.QueryRow(ctx, insertTaskQuery,
		task.SessionID,
		string(task.Method),
		task.URL,
		task.ParentURL,
		task.Depth,
		task.Encoding,
		task.CreateTime.UTC(),
	).Scan(&id)
	if err != nil {
		rollback(ctx, tx)
		return 0, fmt.Errorf("insert task: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit enqueue: %w", err)
	}
	return id, nil
}

// Claim marks the next pending task of the session as held by workerID.
func (s *FrontierStore) Claim(ctx context.Context, sessionID, workerID string, now time.Time) (crawler.CrawlTask, error) {
	var (
		task      crawler.CrawlTask
		method    string
		claimedBy *string
		claimedAt *time.Time
	)
	err := s.pool.QueryRow(ctx, claimQuery, sessionID, workerID, now.UTC()).Scan(
		&task.ID,
		&task.SessionID,
		&method,
		&task.URL,
		&task.ParentURL,
		&task.Depth,
		&task.Encoding,
		&task.CreateTime,
		&claimedBy,
		&claimedAt,
	)
	if err == nil {
		task.Method = crawler.Method(method)
		if claimedBy != nil {
			task.ClaimedBy = *claimedBy
		}
		if claimedAt != nil {
			task.ClaimedAt = *claimedAt
		}
		return task, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return crawler.CrawlTask{}, fmt.Errorf("claim task: %w", err)
	}

	var live int64
	if err := s.pool.QueryRow(ctx, countTasksQuery, sessionID).Scan(&live); err != nil {
		return crawler.CrawlTask{}, fmt.Errorf("count tasks: %w", err)
	}
	if live > 0 {
		return crawler.CrawlTask{}, frontier.ErrNoTaskAvailable
	}
	return crawler.CrawlTask{}, frontier.ErrSessionExhausted
}

// Complete deletes the task and appends the ledger row in one transaction.
func (s *FrontierStore) Complete(ctx context.Context, taskID int64, result crawler.AccessResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin complete: %w", err)
	}
	var method string
	err = tx.QueryRow(ctx, deleteTaskQuery, taskID).Scan(
		&result.SessionID,
		&result.URL,
		&result.ParentURL,
		&method,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		rollback(ctx, tx)
		return nil
	}
	if err != nil {
		rollback(ctx, tx)
		return fmt.Errorf("delete task: %w", err)
	}
	result.Method = crawler.Method(method)

	_, err = tx.Exec(ctx, insertResultQuery,
		result.SessionID,
		result.URL,
		result.ParentURL,
		string(result.Method),
		string(result.Status),
		result.HTTPStatus,
		result.ContentHash,
		nullTime(result.LastModified),
		result.MimeType,
		result.ContentLength,
		result.FetchTime.UTC(),
		result.ExecutionTime.Milliseconds(),
		result.Error,
	)
	if err != nil {
		rollback(ctx, tx)
		return fmt.Errorf("insert access result: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit complete: %w", err)
	}
	return nil
}

// Release clears the claim on a task.
func (s *FrontierStore) Release(ctx context.Context, taskID int64) error {
	tag, err := s.pool.Exec(ctx, releaseQuery, taskID)
	if err != nil {
		return fmt.Errorf("release task: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, taskExistsQuery, taskID).Scan(&exists); err != nil {
		return fmt.Errorf("lookup task: %w", err)
	}
	if !exists {
		return crawler.ErrTaskNotFound
	}
	return crawler.ErrTaskNotClaimed
}

// ReleaseExpired clears claims taken before cutoff.
func (s *FrontierStore) ReleaseExpired(ctx context.Context, sessionID string, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, releaseExpiredQuery, sessionID, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("release expired: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// LastAccess returns the newest ledger row for the URL.
func (s *FrontierStore) LastAccess(ctx context.Context, sessionID, url string) (crawler.AccessResult, bool, error) {
	var (
		res          crawler.AccessResult
		method       string
		status       string
		lastModified *time.Time
		executionMS  int64
	)
	err := s.pool.QueryRow(ctx, lastAccessQuery, sessionID, url).Scan(
		&res.SessionID,
		&res.URL,
		&res.ParentURL,
		&method,
		&status,
		&res.HTTPStatus,
		&res.ContentHash,
		&lastModified,
		&res.MimeType,
		&res.ContentLength,
		&res.FetchTime,
		&executionMS,
		&res.Error,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.AccessResult{}, false, nil
	}
	if err != nil {
		return crawler.AccessResult{}, false, fmt.Errorf("query access result: %w", err)
	}
	res.Method = crawler.Method(method)
	res.Status = crawler.AccessStatus(status)
	if lastModified != nil {
		res.LastModified = *lastModified
	}
	res.ExecutionTime = time.Duration(executionMS) * time.Millisecond
	return res, true, nil
}

// Stats counts tasks and ledger rows of the session.
func (s *FrontierStore) Stats(ctx context.Context, sessionID string) (frontier.Stats, error) {
	var pending, claimed, completed, notModified, abandoned int64
	err := s.pool.QueryRow(ctx, statsQuery, sessionID).Scan(&pending, &claimed, &completed, &notModified, &abandoned)
	if err != nil {
		return frontier.Stats{}, fmt.Errorf("query stats: %w", err)
	}
	return frontier.Stats{
		Pending:     int(pending),
		Claimed:     int(claimed),
		Completed:   int(completed),
		NotModified: int(notModified),
		Abandoned:   int(abandoned),
	}, nil
}
