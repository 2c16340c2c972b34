// Package fetch wraps a crawler.Transport with a bounded, constant-interval
// retry loop and lifecycle notifications.
package fetch

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/frontier-crawler/internal/clock/system"
	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

// Defaults applied when Config fields are left zero by DefaultConfig callers.
const (
	DefaultMaxRetryCount = 5
	DefaultRetryInterval = 500 * time.Millisecond
)

// Config bounds the retry loop.
type Config struct {
	// MaxRetryCount is the total number of attempts per Execute call.
	MaxRetryCount int
	// RetryInterval is slept between failed attempts. It does not grow.
	RetryInterval time.Duration
}

// DefaultConfig returns five attempts spaced 500ms apart.
func DefaultConfig() Config {
	return Config{MaxRetryCount: DefaultMaxRetryCount, RetryInterval: DefaultRetryInterval}
}

// Executor retries transport failures until one attempt succeeds or the
// budget runs out.
type Executor struct {
	transport crawler.Transport
	cfg       Config
	clock     crawler.Clock
	listeners []Listener
}

// Option customises an Executor.
type Option func(*Executor)

// WithListener registers listeners; they are notified in registration order.
func WithListener(listeners ...Listener) Option {
	return func(e *Executor) {
		for _, l := range listeners {
			if l != nil {
				e.listeners = append(e.listeners, l)
			}
		}
	}
}

// WithClock overrides the clock used for the retry sleep.
func WithClock(c crawler.Clock) Option {
	return func(e *Executor) {
		if c != nil {
			e.clock = c
		}
	}
}

// New builds an Executor around transport.
func New(transport crawler.Transport, cfg Config, opts ...Option) *Executor {
	if cfg.MaxRetryCount <= 0 {
		cfg.MaxRetryCount = 1
	}
	if cfg.RetryInterval < 0 {
		cfg.RetryInterval = 0
	}
	e := &Executor{
		transport: transport,
		cfg:       cfg,
		clock:     system.New(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute performs req. A size-limit violation is returned as soon as it is
// seen; every other error is retried. A result carrying child URLs is a
// success. Exhausting the budget yields *crawler.MultiAttemptFailure with the
// error of every attempt in order.
func (e *Executor) Execute(ctx context.Context, req crawler.Request) (crawler.FetchResult, error) {
	e.notify(func(l Listener) { l.OnRequestStart(req) })

	var errs []error
	for attempt := 1; attempt <= e.cfg.MaxRetryCount; attempt++ {
		e.notify(func(l Listener) { l.OnRequest(req, attempt) })

		res, err := e.transport.Fetch(ctx, req)
		if err == nil {
			e.notify(func(l Listener) { l.OnSuccess(req, attempt, res) })
			e.notify(func(l Listener) { l.OnRequestEnd(req, errs) })
			return res, nil
		}
		if errors.Is(err, crawler.ErrSizeLimitExceeded) {
			e.notify(func(l Listener) { l.OnRequestEnd(req, errs) })
			return crawler.FetchResult{}, err
		}

		errs = append(errs, err)
		e.notify(func(l Listener) { l.OnError(req, attempt, err) })

		if attempt == e.cfg.MaxRetryCount {
			break
		}
		if e.cfg.RetryInterval > 0 {
			if sleepErr := e.clock.Sleep(ctx, e.cfg.RetryInterval); sleepErr != nil {
				break
			}
		}
	}

	e.notify(func(l Listener) { l.OnRequestEnd(req, errs) })
	return crawler.FetchResult{}, &crawler.MultiAttemptFailure{
		Method: req.Method,
		URL:    req.URL,
		Errors: errs,
	}
}

// Fetch lets an Executor stand in wherever a crawler.Transport is expected.
func (e *Executor) Fetch(ctx context.Context, req crawler.Request) (crawler.FetchResult, error) {
	return e.Execute(ctx, req)
}

func (e *Executor) notify(fn func(Listener)) {
	for _, l := range e.listeners {
		fn(l)
	}
}
