// Package headless implements crawler.Transport with headless Chrome, for
// sites that only produce their links after running JavaScript.
package headless

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/frontier-crawler/internal/auth"
	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultSettle            = 500 * time.Millisecond
)

// Config controls the headless transport.
type Config struct {
	// MaxParallel bounds concurrent browser tabs. Zero means unbounded.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// Settle is how long to wait after the body is ready for scripts to finish.
	Settle time.Duration
	// MaxBodySize caps the rendered document in bytes. Zero disables the cap.
	MaxBodySize int64
	// RetryableStatuses are surfaced as *crawler.StatusError.
	RetryableStatuses []int
	// Auto fetches with the plain transport first and only renders pages the
	// Detector flags.
	Auto          bool
	MinBodyLength int
}

// Transport renders GET requests in a browser tab. HEAD requests go to the
// plain transport, since a browser cannot issue them.
type Transport struct {
	cfg         Config
	plain       crawler.Transport
	detector    *Detector
	limiter     chan struct{}
	retryable   map[int]struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates a headless transport. Chrome is started lazily on the first fetch.
func New(cfg Config, plain crawler.Transport) (*Transport, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.Auto && plain == nil {
		return nil, fmt.Errorf("auto mode needs a plain transport")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.Settle < 0 {
		cfg.Settle = 0
	} else if cfg.Settle == 0 {
		cfg.Settle = defaultSettle
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	retryable := make(map[int]struct{}, len(cfg.RetryableStatuses))
	for _, code := range cfg.RetryableStatuses {
		retryable[code] = struct{}{}
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Transport{
		cfg:         cfg,
		plain:       plain,
		detector:    NewDetector(cfg.MinBodyLength),
		limiter:     limiter,
		retryable:   retryable,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts the browser down.
func (t *Transport) Close() {
	t.allocCancel()
}

// Fetch implements crawler.Transport.
func (t *Transport) Fetch(ctx context.Context, req crawler.Request) (crawler.FetchResult, error) {
	method := req.Method
	if method == "" {
		method = crawler.MethodGet
	}
	switch {
	case method == crawler.MethodHead && t.plain != nil:
		return t.plain.Fetch(ctx, req)
	case method != crawler.MethodGet:
		return crawler.FetchResult{}, fmt.Errorf("unsupported method %q", method)
	}
	if t.cfg.Auto {
		res, err := t.plain.Fetch(ctx, req)
		if err != nil || !t.detector.NeedsRender(res.Response) {
			return res, err
		}
	}
	return t.renderPage(ctx, req)
}

func (t *Transport) renderPage(ctx context.Context, req crawler.Request) (crawler.FetchResult, error) {
	if err := t.acquire(ctx); err != nil {
		return crawler.FetchResult{}, err
	}
	defer t.release()

	// Tabs hang off the shared allocator, so the caller's ctx is linked by hand.
	tabCtx, tabCancel := chromedp.NewContext(t.allocator)
	defer tabCancel()
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()
	tabCtx, cancel := context.WithTimeout(tabCtx, t.cfg.NavigationTimeout)
	defer cancel()

	meta := &documentMeta{}
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	start := time.Now()
	html, finalURL, err := t.render(tabCtx, req)
	if err != nil {
		if ctx.Err() != nil {
			return crawler.FetchResult{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
		}
		return crawler.FetchResult{}, fmt.Errorf("render %s: %w", req.URL, err)
	}
	if limit := t.cfg.MaxBodySize; limit > 0 && int64(len(html)) > limit {
		return crawler.FetchResult{}, &crawler.SizeLimitError{URL: req.URL, Limit: limit, Size: int64(len(html))}
	}

	status, header, responseURL := meta.snapshot(req.URL, finalURL)
	if _, ok := t.retryable[status]; ok {
		return crawler.FetchResult{}, &crawler.StatusError{URL: responseURL, StatusCode: status}
	}
	return crawler.FetchResult{Response: buildResponse(responseURL, status, header, html, time.Since(start))}, nil
}

func (t *Transport) render(ctx context.Context, req crawler.Request) (string, string, error) {
	var html, finalURL string
	actions := []chromedp.Action{
		t.networkSetup(requestHeader(req)),
		chromedp.Navigate(req.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if t.cfg.Settle > 0 {
		actions = append(actions, chromedp.Sleep(t.cfg.Settle))
	}
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (t *Transport) networkSetup(header http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if t.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(t.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(header) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(header)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (t *Transport) acquire(ctx context.Context) error {
	if t.limiter == nil {
		return nil
	}
	select {
	case t.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (t *Transport) release() {
	if t.limiter == nil {
		return
	}
	<-t.limiter
}

func requestHeader(req crawler.Request) http.Header {
	header := req.Header.Clone()
	if value, ok := auth.Header(req.Credential); ok {
		if header == nil {
			header = http.Header{}
		}
		header.Set("Authorization", value)
	}
	return header
}

// buildResponse describes the rendered DOM. Chrome serialises it as UTF-8
// whatever the wire encoding was.
func buildResponse(url string, status int, header http.Header, html string, elapsed time.Duration) *crawler.Response {
	if header == nil {
		header = http.Header{}
	}
	mediaType := "text/html"
	if mt, _, err := mime.ParseMediaType(header.Get("Content-Type")); err == nil && mt != "" {
		mediaType = mt
	}
	header.Set("Content-Type", mediaType+"; charset=utf-8")
	header.Del("Content-Length")
	header.Del("Content-Encoding")

	res := &crawler.Response{
		URL:        url,
		Method:     crawler.MethodGet,
		StatusCode: status,
		Header:     header,
		Body:       []byte(html),
		Charset:    "utf-8",
		Duration:   elapsed,
	}
	if lm := header.Get("Last-Modified"); lm != "" {
		if parsed, err := http.ParseTime(lm); err == nil {
			res.LastModified = parsed.UTC()
		}
	}
	return res
}

// documentMeta keeps the status and headers of the main document response.
type documentMeta struct {
	mu     sync.Mutex
	status int
	header http.Header
	url    string
}

func (m *documentMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *documentMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	header := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			header.Add(key, v)
		case []string:
			for _, entry := range v {
				header.Add(key, entry)
			}
		case []any:
			for _, entry := range v {
				header.Add(key, fmt.Sprint(entry))
			}
		default:
			header.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.header = header
	m.url = event.Response.URL
	m.mu.Unlock()
}

// snapshot falls back to the navigated URL and 200 when no document event arrived.
func (m *documentMeta) snapshot(requestURL, finalURL string) (int, http.Header, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, url := m.status, m.url
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, m.header.Clone(), url
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			headers[key] = values[0]
		default:
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
