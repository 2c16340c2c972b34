// Package frontiertest holds the behavioural checks every frontier.Store
// implementation must pass.
package frontiertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/frontier"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) frontier.Store

var base = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func task(session, url string, depth int, offset time.Duration) crawler.CrawlTask {
	return crawler.CrawlTask{
		SessionID:  session,
		Method:     crawler.MethodGet,
		URL:        url,
		Depth:      depth,
		CreateTime: base.Add(offset),
	}
}

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	open := func(t *testing.T) (frontier.Store, context.Context) {
		s := newStore(t)
		t.Cleanup(func() { require.NoError(t, s.Close()) })
		return s, context.Background()
	}

	t.Run("duplicate live task", func(t *testing.T) {
		s, ctx := open(t)
		_, err := s.Enqueue(ctx, task("s1", "https://a.test/", 0, 0))
		require.NoError(t, err)
		_, err = s.Enqueue(ctx, task("s1", "https://a.test/", 1, time.Second))
		require.ErrorIs(t, err, crawler.ErrDuplicateTask)

		_, err = s.Enqueue(ctx, task("s2", "https://a.test/", 0, 0))
		require.NoError(t, err, "sessions are independent")
	})

	t.Run("claim order", func(t *testing.T) {
		s, ctx := open(t)
		_, err := s.Enqueue(ctx, task("s1", "https://a.test/deep", 2, 0))
		require.NoError(t, err)
		_, err = s.Enqueue(ctx, task("s1", "https://a.test/late", 1, 2*time.Second))
		require.NoError(t, err)
		_, err = s.Enqueue(ctx, task("s1", "https://a.test/early", 1, time.Second))
		require.NoError(t, err)
		_, err = s.Enqueue(ctx, task("s1", "https://a.test/tie", 1, 2*time.Second))
		require.NoError(t, err)

		var got []string
		for range 4 {
			claimed, err := s.Claim(ctx, "s1", "w1", base)
			require.NoError(t, err)
			require.Equal(t, "w1", claimed.ClaimedBy)
			require.True(t, claimed.Claimed())
			got = append(got, claimed.URL)
		}
		require.Equal(t, []string{
			"https://a.test/early",
			"https://a.test/late",
			"https://a.test/tie",
			"https://a.test/deep",
		}, got)
	})

	t.Run("transient and exhausted", func(t *testing.T) {
		s, ctx := open(t)
		_, err := s.Claim(ctx, "s1", "w1", base)
		require.ErrorIs(t, err, frontier.ErrSessionExhausted)

		_, err = s.Enqueue(ctx, task("s1", "https://a.test/", 0, 0))
		require.NoError(t, err)
		claimed, err := s.Claim(ctx, "s1", "w1", base)
		require.NoError(t, err)

		_, err = s.Claim(ctx, "s1", "w2", base)
		require.ErrorIs(t, err, frontier.ErrNoTaskAvailable)

		require.NoError(t, s.Complete(ctx, claimed.ID, crawler.AccessResult{Status: crawler.AccessCompleted, HTTPStatus: 200}))
		_, err = s.Claim(ctx, "s1", "w2", base)
		require.ErrorIs(t, err, frontier.ErrSessionExhausted)
	})

	t.Run("complete is idempotent and blocks re-enqueue", func(t *testing.T) {
		s, ctx := open(t)
		in := task("s1", "https://a.test/page", 1, 0)
		in.ParentURL = "https://a.test/"
		id, err := s.Enqueue(ctx, in)
		require.NoError(t, err)
		_, err = s.Claim(ctx, "s1", "w1", base)
		require.NoError(t, err)

		result := crawler.AccessResult{
			Status:        crawler.AccessCompleted,
			HTTPStatus:    200,
			ContentHash:   "sha256:abc",
			MimeType:      "text/html",
			ContentLength: 42,
			LastModified:  base.Add(-time.Hour),
			FetchTime:     base,
			ExecutionTime: 150 * time.Millisecond,
		}
		require.NoError(t, s.Complete(ctx, id, result))
		require.NoError(t, s.Complete(ctx, id, result))
		require.NoError(t, s.Complete(ctx, 987654, result))

		_, err = s.Enqueue(ctx, in)
		require.ErrorIs(t, err, crawler.ErrDuplicateTask)

		last, ok, err := s.LastAccess(ctx, "s1", in.URL)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "s1", last.SessionID)
		require.Equal(t, in.URL, last.URL)
		require.Equal(t, in.ParentURL, last.ParentURL)
		require.Equal(t, crawler.MethodGet, last.Method)
		require.Equal(t, crawler.AccessCompleted, last.Status)
		require.Equal(t, "sha256:abc", last.ContentHash)
		require.EqualValues(t, 42, last.ContentLength)
		require.True(t, result.LastModified.Equal(last.LastModified))
		require.Equal(t, 150*time.Millisecond, last.ExecutionTime)

		stats, err := s.Stats(ctx, "s1")
		require.NoError(t, err)
		require.Equal(t, frontier.Stats{Completed: 1}, stats)
	})

	t.Run("abandoned url may be enqueued again", func(t *testing.T) {
		s, ctx := open(t)
		id, err := s.Enqueue(ctx, task("s1", "https://a.test/flaky", 0, 0))
		require.NoError(t, err)
		require.NoError(t, s.Complete(ctx, id, crawler.AccessResult{Status: crawler.AccessAbandoned, Error: "boom"}))

		last, ok, err := s.LastAccess(ctx, "s1", "https://a.test/flaky")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "boom", last.Error)

		_, err = s.Enqueue(ctx, task("s1", "https://a.test/flaky", 0, time.Second))
		require.NoError(t, err)

		stats, err := s.Stats(ctx, "s1")
		require.NoError(t, err)
		require.Equal(t, frontier.Stats{Pending: 1, Abandoned: 1}, stats)
	})

	t.Run("release", func(t *testing.T) {
		s, ctx := open(t)
		id, err := s.Enqueue(ctx, task("s1", "https://a.test/", 0, 0))
		require.NoError(t, err)

		require.ErrorIs(t, s.Release(ctx, id), crawler.ErrTaskNotClaimed)
		require.ErrorIs(t, s.Release(ctx, 987654), crawler.ErrTaskNotFound)

		_, err = s.Claim(ctx, "s1", "w1", base)
		require.NoError(t, err)
		require.NoError(t, s.Release(ctx, id))

		again, err := s.Claim(ctx, "s1", "w2", base)
		require.NoError(t, err)
		require.Equal(t, id, again.ID)
		require.Equal(t, "w2", again.ClaimedBy)
	})

	t.Run("release expired", func(t *testing.T) {
		s, ctx := open(t)
		_, err := s.Enqueue(ctx, task("s1", "https://a.test/old", 0, 0))
		require.NoError(t, err)
		_, err = s.Enqueue(ctx, task("s1", "https://a.test/new", 0, time.Second))
		require.NoError(t, err)

		_, err = s.Claim(ctx, "s1", "w1", base)
		require.NoError(t, err)
		_, err = s.Claim(ctx, "s1", "w2", base.Add(10*time.Minute))
		require.NoError(t, err)

		n, err := s.ReleaseExpired(ctx, "s1", base.Add(5*time.Minute))
		require.NoError(t, err)
		require.Equal(t, 1, n)

		stats, err := s.Stats(ctx, "s1")
		require.NoError(t, err)
		require.Equal(t, frontier.Stats{Pending: 1, Claimed: 1}, stats)

		reclaimed, err := s.Claim(ctx, "s1", "w3", base.Add(11*time.Minute))
		require.NoError(t, err)
		require.Equal(t, "https://a.test/old", reclaimed.URL)
	})

	t.Run("concurrent claims never share a task", func(t *testing.T) {
		s, ctx := open(t)
		const tasks = 40
		for i := range tasks {
			_, err := s.Enqueue(ctx, task("s1", fmt.Sprintf("https://a.test/%d", i), i%3, time.Duration(i)))
			require.NoError(t, err)
		}

		var (
			mu   sync.Mutex
			seen = make(map[int64]string)
			dupe bool
			wg   sync.WaitGroup
		)
		for w := range 8 {
			wg.Add(1)
			go func(worker string) {
				defer wg.Done()
				for {
					claimed, err := s.Claim(ctx, "s1", worker, base)
					if err != nil {
						return
					}
					mu.Lock()
					if _, exists := seen[claimed.ID]; exists {
						dupe = true
					}
					seen[claimed.ID] = worker
					mu.Unlock()
				}
			}(fmt.Sprintf("w%d", w))
		}
		wg.Wait()

		require.False(t, dupe)
		require.Len(t, seen, tasks)
	})

	t.Run("concurrent duplicate enqueue", func(t *testing.T) {
		s, ctx := open(t)
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			dupes     int
			other     []error
		)
		for i := range 16 {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.Enqueue(ctx, task("s1", "https://a.test/same", 0, time.Duration(i)))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case errors.Is(err, crawler.ErrDuplicateTask):
					dupes++
				default:
					other = append(other, err)
				}
			}(i)
		}
		wg.Wait()

		require.Empty(t, other)
		require.Equal(t, 1, successes)
		require.Equal(t, 15, dupes)
	})
}
