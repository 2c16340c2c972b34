package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/frontier"
	"github.com/JakeFAU/frontier-crawler/internal/frontier/frontiertest"
)

func TestFrontierStore(t *testing.T) {
	t.Parallel()

	frontiertest.Run(t, func(t *testing.T) frontier.Store {
		s, err := Open(filepath.Join(t.TempDir(), "frontier.db"), DefaultOptions())
		require.NoError(t, err)
		return s
	})
}

func TestStateSurvivesReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "frontier.db")
	ctx := context.Background()

	s, err := Open(path, DefaultOptions())
	require.NoError(t, err)
	require.Equal(t, path, s.Path())
	created := time.Date(2025, 1, 1, 0, 0, 0, 123, time.UTC)
	_, err = s.Enqueue(ctx, crawler.CrawlTask{
		SessionID: "s1", Method: crawler.MethodGet, URL: "https://a.test/", CreateTime: created,
	})
	require.NoError(t, err)
	_, err = s.Claim(ctx, "s1", "w1", created)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(path, DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	stats, err := reopened.Stats(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, frontier.Stats{Claimed: 1}, stats)

	n, err := reopened.ReleaseExpired(ctx, "s1", created.Add(time.Nanosecond))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	task, err := reopened.Claim(ctx, "s1", "w2", created.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, "https://a.test/", task.URL)
	require.True(t, created.Equal(task.CreateTime))
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open("", DefaultOptions())
	require.Error(t, err)
}

func TestPragmasApplyToEveryConnection(t *testing.T) {
	t.Parallel()

	s, err := Open(filepath.Join(t.TempDir(), "frontier.db"), Options{EnableWAL: true, BusyTimeout: 2500 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	// Expire the first connection so the pool has to dial a fresh one.
	s.db.SetConnMaxLifetime(time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	ctx := context.Background()
	var timeout int
	require.NoError(t, s.db.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&timeout))
	require.Equal(t, 2500, timeout)
	var mode string
	require.NoError(t, s.db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode))
	require.Equal(t, "wal", mode)
}

func TestDSN(t *testing.T) {
	t.Parallel()

	require.Equal(t, "/tmp/f.db?mode=rwc", dsn("/tmp/f.db", Options{}))
	require.Equal(t,
		"/tmp/f.db?_pragma=journal_mode%28WAL%29&_pragma=busy_timeout%285000%29&mode=rwc",
		dsn("/tmp/f.db", DefaultOptions()))
}
