package robots

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
)

// Cache holds one Directives per origin for the lifetime of a session.
// Entries are built on first use under a per-origin lock and read without
// contention afterwards.
type Cache struct {
	transport crawler.Transport
	userAgent string
	logger    *zap.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu         sync.RWMutex
	directives *Directives
}

// NewCache builds a cache loading /robots.txt through transport.
func NewCache(transport crawler.Transport, userAgent string, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		transport: transport,
		userAgent: userAgent,
		logger:    logger.Named("robots"),
		entries:   make(map[string]*entry),
	}
}

// Allowed reports whether the cache's user agent may fetch rawURL.
func (c *Cache) Allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if !hasPolicy(u) {
		return true
	}
	d := c.Directives(ctx, u)
	path := u.EscapedPath()
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return d.IsAllowed(c.userAgent, path)
}

// CrawlDelay returns the delay the origin of rawURL asks for, if any.
func (c *Cache) CrawlDelay(ctx context.Context, rawURL string) (time.Duration, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || !hasPolicy(u) {
		return 0, false
	}
	return c.Directives(ctx, u).CrawlDelay(c.userAgent)
}

// Sitemaps returns the sitemap URLs advertised by the origin of rawURL.
func (c *Cache) Sitemaps(ctx context.Context, rawURL string) []string {
	u, err := url.Parse(rawURL)
	if err != nil || !hasPolicy(u) {
		return nil
	}
	return append([]string(nil), c.Directives(ctx, u).Sitemaps...)
}

// Directives returns the cached policy for u's origin, loading it on a miss.
func (c *Cache) Directives(ctx context.Context, u *url.URL) *Directives {
	origin := Origin(u)

	c.mu.Lock()
	e, ok := c.entries[origin]
	if !ok {
		e = &entry{}
		c.entries[origin] = e
	}
	c.mu.Unlock()

	e.mu.RLock()
	d := e.directives
	e.mu.RUnlock()
	if d != nil {
		return d
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.directives != nil {
		return e.directives
	}
	e.directives = c.load(ctx, origin)
	return e.directives
}

// Refresh drops the cached policy of origin so the next query reloads it.
func (c *Cache) Refresh(origin string) {
	c.mu.Lock()
	delete(c.entries, strings.ToLower(origin))
	c.mu.Unlock()
}

func (c *Cache) load(ctx context.Context, origin string) *Directives {
	robotsURL := origin + "/robots.txt"
	res, err := c.transport.Fetch(ctx, crawler.Request{Method: crawler.MethodGet, URL: robotsURL})
	var statusErr *crawler.StatusError
	switch {
	case errors.As(err, &statusErr):
		return c.unavailable(origin, statusErr.StatusCode)
	case err != nil:
		c.logger.Warn("robots fetch failed; allowing access", zap.String("origin", origin), zap.Error(err))
		return AllowAll()
	}
	resp := res.Response
	if resp == nil {
		return AllowAll()
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return c.unavailable(origin, resp.StatusCode)
	default:
		return AllowAll()
	}

	body, err := decode(resp)
	if err != nil {
		c.logger.Warn("robots decode failed; allowing access", zap.String("origin", origin), zap.Error(err))
		return AllowAll()
	}
	d, err := Parse(bytes.NewReader(body))
	if err != nil {
		c.logger.Warn("robots parse failed; allowing access", zap.String("origin", origin), zap.Error(err))
		return AllowAll()
	}
	if data, err := robotstxt.FromBytes(body); err == nil {
		d.Sitemaps = append(d.Sitemaps, data.Sitemaps...)
	}
	c.logger.Debug("robots loaded",
		zap.String("origin", origin),
		zap.Int("agents", d.Len()),
		zap.Int("sitemaps", len(d.Sitemaps)))
	return d
}

// unavailable handles a server that answered robots.txt with an error: the
// origin is off limits for the rest of the session.
func (c *Cache) unavailable(origin string, status int) *Directives {
	if status < 500 && status != http.StatusTooManyRequests {
		return AllowAll()
	}
	c.logger.Warn("robots unavailable; disallowing origin",
		zap.String("origin", origin), zap.Int("status", status))
	return DisallowAll()
}

// decode converts the policy body to UTF-8 using the declared or sniffed charset.
func decode(resp *crawler.Response) ([]byte, error) {
	r, err := charset.NewReader(bytes.NewReader(resp.Body), resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("charset reader: %w", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return out, nil
}

// Origin returns scheme://host[:port] with default ports dropped.
func Origin(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = net.JoinHostPort(host, port)
	}
	return scheme + "://" + host
}

func hasPolicy(u *url.URL) bool {
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Host != ""
}
