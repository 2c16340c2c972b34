// Package collytransport implements crawler.Transport over a colly collector.
package collytransport

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/frontier-crawler/internal/auth"
	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

const defaultTimeout = 15 * time.Second

// DefaultRetryableStatuses are surfaced as *crawler.StatusError so the executor retries them.
var DefaultRetryableStatuses = []int{
	http.StatusTooManyRequests,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// Config controls the HTTP transport.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// MaxBodySize caps response bodies in bytes. Zero disables the cap.
	MaxBodySize int64
	// RetryableStatuses overrides DefaultRetryableStatuses when non-nil.
	RetryableStatuses []int
	Header            http.Header
}

// Transport fetches http and https URLs.
type Transport struct {
	cfg       Config
	base      *colly.Collector
	retryable map[int]struct{}
}

// New creates an HTTP transport with a shared connection pool.
func New(cfg Config) *Transport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	statuses := cfg.RetryableStatuses
	if statuses == nil {
		statuses = DefaultRetryableStatuses
	}
	retryable := make(map[int]struct{}, len(statuses))
	for _, code := range statuses {
		retryable[code] = struct{}{}
	}

	base := colly.NewCollector(
		colly.Async(false),
		colly.IgnoreRobotsTxt(),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
	)
	base.WithTransport(newHTTPTransport())
	return &Transport{cfg: cfg, base: base, retryable: retryable}
}

// WithRoundTripper swaps the underlying HTTP transport. Mostly useful in tests.
func (t *Transport) WithRoundTripper(rt http.RoundTripper) *Transport {
	t.base.WithTransport(rt)
	return t
}

// Fetch performs a single request. Retrying is the executor's job.
func (t *Transport) Fetch(ctx context.Context, req crawler.Request) (crawler.FetchResult, error) {
	method := req.Method
	if method == "" {
		method = crawler.MethodGet
	}
	if !method.Valid() {
		return crawler.FetchResult{}, fmt.Errorf("unsupported method %q", method)
	}

	var (
		resp     *crawler.Response
		fetchErr error
		sizeErr  *crawler.SizeLimitError
	)
	start := time.Now()
	collector := t.buildCollector(ctx, req, start, &resp, &fetchErr, &sizeErr)

	header := t.requestHeader(req)
	finished, err := runCollector(ctx, func() error {
		return collector.Request(string(method), req.URL, nil, nil, header)
	})
	if !finished {
		// The collector goroutine still owns the result variables.
		return crawler.FetchResult{}, err
	}
	switch {
	case sizeErr != nil:
		return crawler.FetchResult{}, sizeErr
	case err != nil && fetchErr == nil:
		fetchErr = err
	}
	if fetchErr != nil {
		return crawler.FetchResult{}, fmt.Errorf("fetch %s %s: %w", method, req.URL, fetchErr)
	}
	if resp == nil {
		return crawler.FetchResult{}, fmt.Errorf("fetch %s %s: no response", method, req.URL)
	}
	if _, ok := t.retryable[resp.StatusCode]; ok {
		return crawler.FetchResult{}, &crawler.StatusError{URL: resp.URL, StatusCode: resp.StatusCode}
	}
	return crawler.FetchResult{Response: resp}, nil
}

func (t *Transport) requestHeader(req crawler.Request) http.Header {
	header := make(http.Header, len(t.cfg.Header)+len(req.Header)+1)
	for k, v := range t.cfg.Header {
		header[k] = append([]string(nil), v...)
	}
	for k, v := range req.Header {
		header[k] = append([]string(nil), v...)
	}
	if value, ok := auth.Header(req.Credential); ok {
		header.Set("Authorization", value)
	}
	return header
}

func (t *Transport) buildCollector(
	ctx context.Context,
	req crawler.Request,
	start time.Time,
	resp **crawler.Response,
	fetchErr *error,
	sizeErr **crawler.SizeLimitError,
) *colly.Collector {
	collector := t.base.Clone()
	colly.StdlibContext(ctx)(collector)
	if t.cfg.UserAgent != "" {
		collector.UserAgent = t.cfg.UserAgent
	}
	collector.SetRequestTimeout(t.cfg.Timeout)
	limit := t.cfg.MaxBodySize
	if limit > 0 {
		// One extra byte tells a body at the cap apart from one beyond it.
		collector.MaxBodySize = int(limit + 1)
	} else {
		collector.MaxBodySize = 0
	}

	collector.OnResponseHeaders(func(r *colly.Response) {
		if limit <= 0 || r.Headers == nil {
			return
		}
		size, err := strconv.ParseInt(r.Headers.Get("Content-Length"), 10, 64)
		if err == nil && size > limit {
			*sizeErr = &crawler.SizeLimitError{URL: req.URL, Limit: limit, Size: size}
			r.Request.Abort()
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		if limit > 0 && int64(len(r.Body)) > limit {
			*sizeErr = &crawler.SizeLimitError{URL: req.URL, Limit: limit, Size: int64(len(r.Body))}
			return
		}
		*resp = buildResponse(r, req, time.Since(start))
	})
	collector.OnError(func(_ *colly.Response, err error) {
		if *fetchErr == nil {
			*fetchErr = err
		}
	})
	return collector
}

func buildResponse(r *colly.Response, req crawler.Request, elapsed time.Duration) *crawler.Response {
	header := http.Header{}
	if r.Headers != nil {
		header = r.Headers.Clone()
	}
	finalURL := req.URL
	if r.Request != nil && r.Request.URL != nil {
		finalURL = r.Request.URL.String()
	}
	method := req.Method
	if method == "" {
		method = crawler.MethodGet
	}
	res := &crawler.Response{
		URL:        finalURL,
		Method:     method,
		StatusCode: r.StatusCode,
		Header:     header,
		Body:       r.Body,
		Duration:   elapsed,
	}
	if _, params, err := mime.ParseMediaType(header.Get("Content-Type")); err == nil {
		res.Charset = params["charset"]
	}
	if lm := header.Get("Last-Modified"); lm != "" {
		if parsed, err := http.ParseTime(lm); err == nil {
			res.LastModified = parsed.UTC()
		}
	}
	return res
}

// runCollector reports finished=false when ctx ended before the visit returned.
func runCollector(ctx context.Context, visit func() error) (bool, error) {
	done := make(chan error, 1)
	go func() {
		done <- visit()
	}()

	select {
	case <-ctx.Done():
		return false, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil && !errors.Is(err, colly.ErrAbortedAfterHeaders) {
			return true, err
		}
		return true, nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}
