package politeness

import (
	"context"
	"testing"
	"time"

	"github.com/JakeFAU/frontier-crawler/internal/metrics"
	"github.com/stretchr/testify/require"
)

func TestWaitUnlimitedByDefault(t *testing.T) {
	t.Parallel()
	metrics.Init()

	l := New(Config{})
	start := time.Now()
	for range 20 {
		require.NoError(t, l.Wait(context.Background(), "https://a.test", 0))
	}
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestWaitHonoursCrawlDelay(t *testing.T) {
	t.Parallel()
	metrics.Init()

	l := New(Config{})
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "https://slow.test", 60*time.Millisecond))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://slow.test", 60*time.Millisecond))
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	require.Equal(t, 60*time.Millisecond, l.Delay("https://slow.test"))

	start = time.Now()
	require.NoError(t, l.Wait(ctx, "https://other.test", 0))
	require.Less(t, time.Since(start), 30*time.Millisecond, "origins are paced independently")
}

func TestWaitCapsCrawlDelay(t *testing.T) {
	t.Parallel()
	metrics.Init()

	l := New(Config{MaxCrawlDelay: 10 * time.Millisecond})
	require.NoError(t, l.Wait(context.Background(), "https://greedy.test", time.Hour))
	require.Equal(t, 10*time.Millisecond, l.Delay("https://greedy.test"))
}

func TestWaitRespectsCancellation(t *testing.T) {
	t.Parallel()
	metrics.Init()

	l := New(Config{})
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "https://slow.test", time.Hour))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.Error(t, l.Wait(cancelled, "https://slow.test", time.Hour))
}
