package frontier_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/frontier"
	"github.com/JakeFAU/frontier-crawler/internal/storage/memory"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Sleep(context.Context, time.Duration) error { return nil }

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newManager(t *testing.T, cfg frontier.Config) (*frontier.Manager, *memory.FrontierStore, *manualClock) {
	t.Helper()
	store := memory.NewFrontierStore()
	clock := &manualClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	if cfg.SessionID == "" {
		cfg.SessionID = "session-1"
	}
	m, err := frontier.NewManager(store, cfg, clock, nil)
	require.NoError(t, err)
	return m, store, clock
}

func TestNewManagerValidates(t *testing.T) {
	t.Parallel()

	_, err := frontier.NewManager(nil, frontier.Config{SessionID: "s"}, nil, nil)
	require.Error(t, err)
	_, err = frontier.NewManager(memory.NewFrontierStore(), frontier.Config{}, nil, nil)
	require.Error(t, err)
}

func TestEnqueueDefaultsAndDuplicates(t *testing.T) {
	t.Parallel()

	m, _, clock := newManager(t, frontier.Config{})
	ctx := context.Background()

	id, err := m.Enqueue(ctx, crawler.CrawlTask{URL: "https://example.com/"})
	require.NoError(t, err)
	require.Positive(t, id)

	_, err = m.Enqueue(ctx, crawler.CrawlTask{URL: "https://example.com/"})
	require.ErrorIs(t, err, crawler.ErrDuplicateTask)

	_, err = m.Enqueue(ctx, crawler.CrawlTask{URL: " "})
	require.Error(t, err)
	_, err = m.Enqueue(ctx, crawler.CrawlTask{URL: "https://example.com/x", Method: "POST"})
	require.Error(t, err)

	task, err := m.Claim(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, "session-1", task.SessionID)
	require.Equal(t, crawler.MethodGet, task.Method)
	require.True(t, task.CreateTime.Equal(clock.Now()))
	require.True(t, task.ClaimedAt.Equal(clock.Now()))
}

func TestSeedSkipsDuplicates(t *testing.T) {
	t.Parallel()

	m, _, _ := newManager(t, frontier.Config{})
	added, err := m.Seed(context.Background(), "https://a.test/", "https://b.test/", "https://a.test/")
	require.NoError(t, err)
	require.Equal(t, 2, added)
}

func TestCompleteAndAbandon(t *testing.T) {
	t.Parallel()

	m, _, _ := newManager(t, frontier.Config{})
	ctx := context.Background()
	_, err := m.Seed(ctx, "https://a.test/ok", "https://a.test/bad")
	require.NoError(t, err)

	ok, err := m.Claim(ctx, "w1")
	require.NoError(t, err)
	bad, err := m.Claim(ctx, "w2")
	require.NoError(t, err)

	require.NoError(t, m.Complete(ctx, ok.ID, crawler.AccessResult{HTTPStatus: 200}))
	require.NoError(t, m.Complete(ctx, ok.ID, crawler.AccessResult{HTTPStatus: 200}))

	cause := &crawler.MultiAttemptFailure{Method: crawler.MethodGet, URL: bad.URL, Errors: []error{errors.New("timeout")}}
	require.NoError(t, m.Abandon(ctx, bad.ID, cause))
	require.NoError(t, m.Abandon(ctx, bad.ID, cause))

	res, found, err := m.LastAccess(ctx, ok.URL)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, crawler.AccessCompleted, res.Status)
	require.False(t, res.FetchTime.IsZero())

	res, found, err = m.LastAccess(ctx, bad.URL)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, crawler.AccessAbandoned, res.Status)
	require.Contains(t, res.Error, "timeout")

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, frontier.Stats{Completed: 1, Abandoned: 1}, stats)
	require.Zero(t, stats.Live())

	_, err = m.Claim(ctx, "w1")
	require.ErrorIs(t, err, frontier.ErrSessionExhausted)
}

func TestReleaseReturnsTaskToPool(t *testing.T) {
	t.Parallel()

	m, _, _ := newManager(t, frontier.Config{})
	ctx := context.Background()
	_, err := m.Seed(ctx, "https://a.test/")
	require.NoError(t, err)

	task, err := m.Claim(ctx, "w1")
	require.NoError(t, err)
	_, err = m.Claim(ctx, "w2")
	require.ErrorIs(t, err, frontier.ErrNoTaskAvailable)

	require.NoError(t, m.Release(ctx, task.ID, "shutdown"))
	require.ErrorIs(t, m.Release(ctx, task.ID, "again"), crawler.ErrTaskNotClaimed)

	again, err := m.Claim(ctx, "w2")
	require.NoError(t, err)
	require.Equal(t, task.ID, again.ID)
}

func TestSweepExpiredLeases(t *testing.T) {
	t.Parallel()

	m, _, clock := newManager(t, frontier.Config{LeaseTimeout: time.Minute})
	ctx := context.Background()
	_, err := m.Seed(ctx, "https://a.test/")
	require.NoError(t, err)
	_, err = m.Claim(ctx, "crashed-worker")
	require.NoError(t, err)

	n, err := m.SweepExpiredLeases(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	clock.Advance(2 * time.Minute)
	n, err = m.SweepExpiredLeases(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	task, err := m.Claim(ctx, "w2")
	require.NoError(t, err)
	require.Equal(t, "w2", task.ClaimedBy)
}

func TestReclaimAll(t *testing.T) {
	t.Parallel()

	m, _, _ := newManager(t, frontier.Config{LeaseTimeout: time.Hour})
	ctx := context.Background()
	_, err := m.Seed(ctx, "https://a.test/1", "https://a.test/2")
	require.NoError(t, err)
	_, err = m.Claim(ctx, "w1")
	require.NoError(t, err)
	_, err = m.Claim(ctx, "w2")
	require.NoError(t, err)

	n, err := m.ReclaimAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Pending)
}

func TestRunSweeperReclaimsInBackground(t *testing.T) {
	t.Parallel()

	store := memory.NewFrontierStore()
	m, err := frontier.NewManager(store, frontier.Config{
		SessionID:     "s",
		LeaseTimeout:  10 * time.Millisecond,
		SweepInterval: 5 * time.Millisecond,
	}, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err = m.Seed(ctx, "https://a.test/")
	require.NoError(t, err)
	_, err = m.Claim(ctx, "w1")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- m.RunSweeper(ctx) }()

	require.Eventually(t, func() bool {
		stats, err := m.Stats(context.Background())
		return err == nil && stats.Pending == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestPreviousAccess(t *testing.T) {
	t.Parallel()

	store := memory.NewFrontierStore()
	ctx := context.Background()
	first, err := frontier.NewManager(store, frontier.Config{SessionID: "first"}, nil, nil)
	require.NoError(t, err)
	_, err = first.Seed(ctx, "https://a.test/")
	require.NoError(t, err)
	task, err := first.Claim(ctx, "w1")
	require.NoError(t, err)
	modified := time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, first.Complete(ctx, task.ID, crawler.AccessResult{HTTPStatus: 200, LastModified: modified}))

	second, err := frontier.NewManager(store, frontier.Config{SessionID: "second", PreviousSessionID: "first"}, nil, nil)
	require.NoError(t, err)
	prev, ok, err := second.PreviousAccess(ctx, "https://a.test/")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, modified.Equal(prev.LastModified))

	_, err = second.Enqueue(ctx, crawler.CrawlTask{URL: "https://a.test/"})
	require.NoError(t, err, "a new session may revisit the URL")

	_, ok, err = first.PreviousAccess(ctx, "https://a.test/")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestConcurrentWorkersDrainFrontier(t *testing.T) {
	t.Parallel()

	m, _, _ := newManager(t, frontier.Config{})
	ctx := context.Background()
	for i := range 50 {
		_, err := m.Enqueue(ctx, crawler.CrawlTask{URL: "https://a.test/" + string(rune('A'+i%26)) + string(rune('a'+i/26)), Depth: i % 4})
		require.NoError(t, err)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed = make(map[int64]int)
	)
	for w := range 6 {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			for {
				task, err := m.Claim(ctx, worker)
				if errors.Is(err, frontier.ErrNoTaskAvailable) {
					continue
				}
				if err != nil {
					return
				}
				mu.Lock()
				completed[task.ID]++
				mu.Unlock()
				if err := m.Complete(ctx, task.ID, crawler.AccessResult{HTTPStatus: 200}); err != nil {
					return
				}
			}
		}(string(rune('a' + w)))
	}
	wg.Wait()

	require.Len(t, completed, 50)
	for id, n := range completed {
		require.Equal(t, 1, n, "task %d claimed more than once", id)
	}
	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 50, stats.Completed)
}
