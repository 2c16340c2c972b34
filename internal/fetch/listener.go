package fetch

import (
	"sync"
	"time"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/metrics"
	"go.uber.org/zap"
)

// Listener observes the lifecycle of an Execute call. For every call it sees
// OnRequestStart, then per attempt OnRequest followed by OnSuccess or OnError,
// then OnRequestEnd with the errors of all failed attempts. Listeners must not
// block; a panicking listener is a programming error and is not recovered.
type Listener interface {
	OnRequestStart(req crawler.Request)
	OnRequest(req crawler.Request, attempt int)
	OnSuccess(req crawler.Request, attempt int, res crawler.FetchResult)
	OnError(req crawler.Request, attempt int, err error)
	OnRequestEnd(req crawler.Request, errs []error)
}

// NopListener ignores every notification. Embed it to implement a subset.
type NopListener struct{}

func (NopListener) OnRequestStart(crawler.Request)                      {}
func (NopListener) OnRequest(crawler.Request, int)                      {}
func (NopListener) OnSuccess(crawler.Request, int, crawler.FetchResult) {}
func (NopListener) OnError(crawler.Request, int, error)                 {}
func (NopListener) OnRequestEnd(crawler.Request, []error)               {}

// LogListener writes attempt failures and final outcomes to a zap logger.
type LogListener struct {
	NopListener
	logger *zap.Logger
}

// NewLogListener builds a LogListener; a nil logger discards output.
func NewLogListener(logger *zap.Logger) *LogListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogListener{logger: logger.Named("fetch")}
}

// OnError logs a failed attempt.
func (l *LogListener) OnError(req crawler.Request, attempt int, err error) {
	l.logger.Warn("Fetch attempt failed",
		zap.String("method", string(req.Method)),
		zap.String("url", req.URL),
		zap.Int("attempt", attempt),
		zap.Error(err))
}

// OnRequestEnd logs the final outcome of a call that saw failures.
func (l *LogListener) OnRequestEnd(req crawler.Request, errs []error) {
	if len(errs) == 0 {
		return
	}
	l.logger.Debug("Fetch finished after failures",
		zap.String("method", string(req.Method)),
		zap.String("url", req.URL),
		zap.Int("failed_attempts", len(errs)))
}

// MetricsListener feeds attempt and latency collectors.
type MetricsListener struct {
	NopListener
	now func() time.Time

	mu       sync.Mutex
	inflight map[string]*call
}

type call struct {
	start     time.Time
	succeeded bool
}

// NewMetricsListener initialises the collectors and returns a listener.
func NewMetricsListener() *MetricsListener {
	metrics.Init()
	return &MetricsListener{
		now:      time.Now,
		inflight: make(map[string]*call),
	}
}

// OnRequestStart stamps the call start time.
func (m *MetricsListener) OnRequestStart(req crawler.Request) {
	m.mu.Lock()
	m.inflight[key(req)] = &call{start: m.now()}
	m.mu.Unlock()
}

// OnSuccess counts a successful attempt and its payload size.
func (m *MetricsListener) OnSuccess(req crawler.Request, _ int, res crawler.FetchResult) {
	m.mu.Lock()
	if c, ok := m.inflight[key(req)]; ok {
		c.succeeded = true
	}
	m.mu.Unlock()
	metrics.ObserveFetchAttempt(req.URL, "success")
	if res.Response != nil {
		metrics.ObserveBytes(req.URL, len(res.Response.Body))
	}
}

// OnError counts a failed attempt.
func (m *MetricsListener) OnError(req crawler.Request, _ int, _ error) {
	metrics.ObserveFetchAttempt(req.URL, "error")
}

// OnRequestEnd records the call outcome and latency.
func (m *MetricsListener) OnRequestEnd(req crawler.Request, _ []error) {
	m.mu.Lock()
	c, ok := m.inflight[key(req)]
	delete(m.inflight, key(req))
	m.mu.Unlock()
	if !ok {
		return
	}
	outcome := "failure"
	if c.succeeded {
		outcome = "success"
	}
	metrics.ObserveFetch(req.URL, outcome, m.now().Sub(c.start))
}

func key(req crawler.Request) string {
	return string(req.Method) + " " + req.URL
}
