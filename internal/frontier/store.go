// Package frontier manages the set of not-yet-fetched URLs of a crawl
// session: claiming tasks, recording their outcome, and recovering leases
// held by workers that stopped responding.
package frontier

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

var (
	// ErrNoTaskAvailable means every pending task is currently claimed. Back off and retry.
	ErrNoTaskAvailable = errors.New("no task available")
	// ErrSessionExhausted means the session has no pending or claimed task left.
	ErrSessionExhausted = errors.New("session exhausted")
)

// Stats counts the tasks and ledger entries of one session.
type Stats struct {
	Pending     int `json:"pending"`
	Claimed     int `json:"claimed"`
	Completed   int `json:"completed"`
	NotModified int `json:"not_modified"`
	Abandoned   int `json:"abandoned"`
}

// Live returns the number of tasks still in the frontier.
func (s Stats) Live() int {
	return s.Pending + s.Claimed
}

// Store persists tasks and the access ledger. Implementations serialise
// conflicting operations on the same task id or (session, url).
type Store interface {
	// Enqueue inserts task and returns its id. It fails with
	// crawler.ErrDuplicateTask when a live task or a final AccessResult
	// exists for the same (session, url). Check and insert are atomic.
	Enqueue(ctx context.Context, task crawler.CrawlTask) (int64, error)
	// Claim marks the next pending task of the session as held by workerID.
	// Order: depth, then create time, then id.
	Claim(ctx context.Context, sessionID, workerID string, now time.Time) (crawler.CrawlTask, error)
	// Complete removes the task and appends result in one unit. The task row
	// supplies the session, URL, parent, and method of the result. Unknown ids
	// are a no-op.
	Complete(ctx context.Context, taskID int64, result crawler.AccessResult) error
	// Release returns a claimed task to pending.
	Release(ctx context.Context, taskID int64) error
	// ReleaseExpired returns tasks claimed before cutoff to pending.
	ReleaseExpired(ctx context.Context, sessionID string, cutoff time.Time) (int, error)
	// LastAccess returns the newest ledger entry for (session, url).
	LastAccess(ctx context.Context, sessionID, url string) (crawler.AccessResult, bool, error)
	// Stats summarises a session.
	Stats(ctx context.Context, sessionID string) (Stats, error)
	// Close releases store resources.
	Close() error
}
