package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/frontier"
)

type sessionURL struct {
	session string
	url     string
}

// FrontierStore keeps tasks and the access ledger in process memory. A single
// mutex serialises every operation.
type FrontierStore struct {
	mu     sync.Mutex
	nextID int64
	tasks  map[int64]crawler.CrawlTask
	live   map[sessionURL]int64
	ledger map[sessionURL][]crawler.AccessResult
}

// NewFrontierStore constructs an empty FrontierStore.
func NewFrontierStore() *FrontierStore {
	return &FrontierStore{
		tasks:  make(map[int64]crawler.CrawlTask),
		live:   make(map[sessionURL]int64),
		ledger: make(map[sessionURL][]crawler.AccessResult),
	}
}

var _ frontier.Store = (*FrontierStore)(nil)

// Enqueue inserts a task unless its URL is live or already fetched.
func (s *FrontierStore) Enqueue(_ context.Context, task crawler.CrawlTask) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := sessionURL{session: task.SessionID, url: task.URL}
	if _, ok := s.live[k]; ok {
		return 0, crawler.ErrDuplicateTask
	}
	for _, res := range s.ledger[k] {
		if res.Status.Final() {
			return 0, crawler.ErrDuplicateTask
		}
	}
	s.nextID++
	task.ID = s.nextID
	s.tasks[task.ID] = task
	s.live[k] = task.ID
	return task.ID, nil
}

// Claim selects the shallowest, oldest pending task of the session.
func (s *FrontierStore) Claim(_ context.Context, sessionID, workerID string, now time.Time) (crawler.CrawlTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		best    crawler.CrawlTask
		found   bool
		claimed bool
	)
	for _, t := range s.tasks {
		if t.SessionID != sessionID {
			continue
		}
		if t.Claimed() {
			claimed = true
			continue
		}
		if !found || before(t, best) {
			best = t
			found = true
		}
	}
	if !found {
		if claimed {
			return crawler.CrawlTask{}, frontier.ErrNoTaskAvailable
		}
		return crawler.CrawlTask{}, frontier.ErrSessionExhausted
	}
	best.ClaimedBy = workerID
	best.ClaimedAt = now
	s.tasks[best.ID] = best
	return best, nil
}

func before(a, b crawler.CrawlTask) bool {
	if a.Depth != b.Depth {
		return a.Depth < b.Depth
	}
	if !a.CreateTime.Equal(b.CreateTime) {
		return a.CreateTime.Before(b.CreateTime)
	}
	return a.ID < b.ID
}

// Complete removes the task and appends the ledger entry.
func (s *FrontierStore) Complete(_ context.Context, taskID int64, result crawler.AccessResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return nil
	}
	k := sessionURL{session: task.SessionID, url: task.URL}
	delete(s.tasks, taskID)
	delete(s.live, k)

	result.SessionID = task.SessionID
	result.URL = task.URL
	result.ParentURL = task.ParentURL
	result.Method = task.Method
	s.ledger[k] = append(s.ledger[k], result)
	return nil
}

// Release clears the claim on a task.
func (s *FrontierStore) Release(_ context.Context, taskID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return crawler.ErrTaskNotFound
	}
	if !task.Claimed() {
		return crawler.ErrTaskNotClaimed
	}
	task.ClaimedBy = ""
	task.ClaimedAt = time.Time{}
	s.tasks[taskID] = task
	return nil
}

// ReleaseExpired clears claims taken before cutoff.
func (s *FrontierStore) ReleaseExpired(_ context.Context, sessionID string, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, t := range s.tasks {
		if t.SessionID != sessionID || !t.Claimed() || !t.ClaimedAt.Before(cutoff) {
			continue
		}
		t.ClaimedBy = ""
		t.ClaimedAt = time.Time{}
		s.tasks[id] = t
		n++
	}
	return n, nil
}

// LastAccess returns the newest ledger entry for the URL.
func (s *FrontierStore) LastAccess(_ context.Context, sessionID, url string) (crawler.AccessResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.ledger[sessionURL{session: sessionID, url: url}]
	if len(entries) == 0 {
		return crawler.AccessResult{}, false, nil
	}
	return entries[len(entries)-1], true, nil
}

// Stats counts tasks and ledger entries of the session.
func (s *FrontierStore) Stats(_ context.Context, sessionID string) (frontier.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st frontier.Stats
	for _, t := range s.tasks {
		if t.SessionID != sessionID {
			continue
		}
		if t.Claimed() {
			st.Claimed++
		} else {
			st.Pending++
		}
	}
	for k, entries := range s.ledger {
		if k.session != sessionID {
			continue
		}
		for _, e := range entries {
			switch e.Status {
			case crawler.AccessCompleted:
				st.Completed++
			case crawler.AccessNotModified:
				st.NotModified++
			case crawler.AccessAbandoned:
				st.Abandoned++
			}
		}
	}
	return st, nil
}

// Close is a no-op.
func (s *FrontierStore) Close() error {
	return nil
}
