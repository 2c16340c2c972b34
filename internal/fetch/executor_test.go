package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// scriptedTransport fails the first `failures` calls, then returns result/err.
type scriptedTransport struct {
	mu       sync.Mutex
	calls    int
	failures int
	result   crawler.FetchResult
	final    error
}

func (s *scriptedTransport) Fetch(_ context.Context, req crawler.Request) (crawler.FetchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures < 0 || s.calls <= s.failures {
		return crawler.FetchResult{}, fmt.Errorf("attempt %d on %s: connection reset", s.calls, req.URL)
	}
	return s.result, s.final
}

type recordingListener struct {
	events []string
	errs   []error
}

func (r *recordingListener) OnRequestStart(crawler.Request) { r.events = append(r.events, "start") }
func (r *recordingListener) OnRequest(_ crawler.Request, attempt int) {
	r.events = append(r.events, fmt.Sprintf("request:%d", attempt))
}
func (r *recordingListener) OnSuccess(_ crawler.Request, attempt int, _ crawler.FetchResult) {
	r.events = append(r.events, fmt.Sprintf("success:%d", attempt))
}
func (r *recordingListener) OnError(_ crawler.Request, attempt int, _ error) {
	r.events = append(r.events, fmt.Sprintf("error:%d", attempt))
}
func (r *recordingListener) OnRequestEnd(_ crawler.Request, errs []error) {
	r.events = append(r.events, "end")
	r.errs = errs
}

type fakeClock struct {
	sleeps []time.Duration
	err    error
}

func (f *fakeClock) Now() time.Time { return time.Unix(0, 0).UTC() }
func (f *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	f.sleeps = append(f.sleeps, d)
	return f.err
}

var getReq = crawler.Request{Method: crawler.MethodGet, URL: "https://example.com/"}

func TestExecuteSucceedsAfterFailures(t *testing.T) {
	t.Parallel()

	ok := crawler.FetchResult{Response: &crawler.Response{StatusCode: 200, Body: []byte("hi")}}
	transport := &scriptedTransport{failures: 4, result: ok}
	listener := &recordingListener{}
	clock := &fakeClock{}

	exec := New(transport, Config{MaxRetryCount: 5, RetryInterval: 500 * time.Millisecond},
		WithListener(listener), WithClock(clock))

	res, err := exec.Execute(context.Background(), getReq)
	require.NoError(t, err)
	require.Equal(t, ok, res)
	require.Len(t, listener.errs, 4)
	require.Equal(t, []string{
		"start",
		"request:1", "error:1",
		"request:2", "error:2",
		"request:3", "error:3",
		"request:4", "error:4",
		"request:5", "success:5",
		"end",
	}, listener.events)
	require.Equal(t, []time.Duration{
		500 * time.Millisecond, 500 * time.Millisecond, 500 * time.Millisecond, 500 * time.Millisecond,
	}, clock.sleeps, "the interval stays constant")
}

func TestExecuteExhaustsBudget(t *testing.T) {
	t.Parallel()

	transport := &scriptedTransport{failures: -1}
	listener := &recordingListener{}

	exec := New(transport, Config{MaxRetryCount: 3, RetryInterval: 0}, WithListener(listener))

	_, err := exec.Execute(context.Background(), getReq)
	var failure *crawler.MultiAttemptFailure
	require.ErrorAs(t, err, &failure)
	require.Len(t, failure.Errors, 3)
	require.Equal(t, getReq.URL, failure.URL)
	require.Equal(t, crawler.MethodGet, failure.Method)
	require.Contains(t, failure.Errors[0].Error(), "attempt 1")
	require.Contains(t, failure.Errors[2].Error(), "attempt 3")
	require.Len(t, listener.errs, 3)
	require.Equal(t, 3, transport.calls)
	require.Equal(t, "end", listener.events[len(listener.events)-1])
}

func TestExecuteSizeLimitIsNotRetried(t *testing.T) {
	t.Parallel()

	sizeErr := &crawler.SizeLimitError{URL: getReq.URL, Limit: 10, Size: 11}
	transport := &scriptedTransport{failures: 1, final: sizeErr}
	listener := &recordingListener{}

	exec := New(transport, Config{MaxRetryCount: 5}, WithListener(listener), WithClock(&fakeClock{}))

	_, err := exec.Execute(context.Background(), getReq)
	require.ErrorIs(t, err, crawler.ErrSizeLimitExceeded)
	require.Equal(t, 2, transport.calls)
	require.Len(t, listener.errs, 1, "only the earlier transient failure is reported")
	require.Equal(t, []string{"start", "request:1", "error:1", "request:2", "end"}, listener.events)
}

func TestExecuteChildURLsAreSuccess(t *testing.T) {
	t.Parallel()

	children := crawler.FetchResult{ChildURLs: []string{"file:///data/a", "file:///data/b"}}
	transport := &scriptedTransport{result: children}
	listener := &recordingListener{}

	res, err := New(transport, DefaultConfig(), WithListener(listener)).Execute(context.Background(), getReq)
	require.NoError(t, err)
	require.True(t, res.HasChildURLs())
	require.Equal(t, children.ChildURLs, res.ChildURLs)
	require.Equal(t, 1, transport.calls)
	require.Empty(t, listener.errs)
}

func TestExecuteStopsWhenSleepInterrupted(t *testing.T) {
	t.Parallel()

	transport := &scriptedTransport{failures: -1}
	clock := &fakeClock{err: context.Canceled}

	_, err := New(transport, Config{MaxRetryCount: 5, RetryInterval: time.Second}, WithClock(clock)).
		Execute(context.Background(), getReq)

	var failure *crawler.MultiAttemptFailure
	require.ErrorAs(t, err, &failure)
	require.Len(t, failure.Errors, 1)
	require.Equal(t, 1, transport.calls)
}

func TestMultiAttemptFailureUnwraps(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("dns failure")
	failure := &crawler.MultiAttemptFailure{Method: crawler.MethodHead, URL: "u", Errors: []error{sentinel}}
	require.ErrorIs(t, failure, sentinel)
	require.Contains(t, failure.Error(), "after 1 attempts")
}

func TestLogListenerLogsFailures(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	transport := &scriptedTransport{failures: 2, result: crawler.FetchResult{Response: &crawler.Response{StatusCode: 200}}}

	exec := New(transport, Config{MaxRetryCount: 3}, WithListener(NewLogListener(zap.New(core)), NewMetricsListener()))
	_, err := exec.Execute(context.Background(), getReq)
	require.NoError(t, err)

	require.Equal(t, 2, logs.FilterMessage("Fetch attempt failed").Len())
	require.Equal(t, 1, logs.FilterMessage("Fetch finished after failures").Len())
}
