// Package worker implements the claim, fetch, route and handle loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/frontier"
	"github.com/JakeFAU/frontier-crawler/internal/metrics"
	"github.com/JakeFAU/frontier-crawler/internal/robots"
)

const (
	defaultIdleBackoff    = 100 * time.Millisecond
	defaultMaxIdleBackoff = 2 * time.Second
)

// Frontier is the slice of *frontier.Manager a worker drives.
type Frontier interface {
	Enqueuer
	Claim(ctx context.Context, workerID string) (crawler.CrawlTask, error)
	Complete(ctx context.Context, taskID int64, result crawler.AccessResult) error
	Release(ctx context.Context, taskID int64, reason string) error
	Abandon(ctx context.Context, taskID int64, cause error) error
	PreviousAccess(ctx context.Context, url string) (crawler.AccessResult, bool, error)
}

// Policy answers robots questions. *robots.Cache satisfies it.
type Policy interface {
	Allowed(ctx context.Context, rawURL string) bool
	CrawlDelay(ctx context.Context, rawURL string) (time.Duration, bool)
	Sitemaps(ctx context.Context, rawURL string) []string
}

// Pacer spaces requests per origin. *politeness.Limiter satisfies it.
type Pacer interface {
	Wait(ctx context.Context, origin string, delay time.Duration) error
}

// Credentials resolves the credential for a URL. *auth.Resolver satisfies it.
type Credentials interface {
	CredentialFor(rawURL string) (*crawler.Credential, bool)
}

// Fetcher runs a logical fetch with retries. *fetch.Executor satisfies it.
type Fetcher interface {
	Execute(ctx context.Context, req crawler.Request) (crawler.FetchResult, error)
}

// Router picks a handler id for a response. *router.Router satisfies it.
type Router interface {
	Route(resp *crawler.Response) (string, error)
}

// Handlers resolves handler ids. *handler.Registry satisfies it.
type Handlers interface {
	Get(id string) (crawler.ContentHandler, error)
}

// Config controls Worker behavior.
type Config struct {
	ID string
	// IdleBackoff is the first pause after finding every task claimed; it
	// doubles up to MaxIdleBackoff.
	IdleBackoff    time.Duration
	MaxIdleBackoff time.Duration
	// Incremental issues a HEAD first when the previous session saw the URL.
	Incremental bool
	// DiscoverSitemaps enqueues robots.txt Sitemap entries the first time an origin is seen.
	DiscoverSitemaps bool
}

// Deps are the collaborators of a Worker. Policy, Pacer, Credentials and
// Hasher are optional.
type Deps struct {
	Frontier    Frontier
	Discovery   crawler.Discoverer
	Policy      Policy
	Pacer       Pacer
	Credentials Credentials
	Fetcher     Fetcher
	Router      Router
	Handlers    Handlers
	Hasher      crawler.Hasher
	Clock       crawler.Clock
}

// Worker processes tasks of one session until it is exhausted or canceled.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger

	sitemapOrigins map[string]struct{}
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Worker, error) {
	switch {
	case deps.Frontier == nil:
		return nil, errors.New("worker needs a frontier")
	case deps.Fetcher == nil:
		return nil, errors.New("worker needs a fetcher")
	case deps.Router == nil || deps.Handlers == nil:
		return nil, errors.New("worker needs a router and handlers")
	case deps.Clock == nil:
		return nil, errors.New("worker needs a clock")
	}
	if deps.Discovery == nil {
		deps.Discovery = NewDiscovery(deps.Frontier, nil, logger)
	}
	if cfg.IdleBackoff <= 0 {
		cfg.IdleBackoff = defaultIdleBackoff
	}
	if cfg.MaxIdleBackoff < cfg.IdleBackoff {
		cfg.MaxIdleBackoff = max(defaultMaxIdleBackoff, cfg.IdleBackoff)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		deps:           deps,
		cfg:            cfg,
		logger:         logger.Named("worker").With(zap.String("worker_id", cfg.ID)),
		sitemapOrigins: make(map[string]struct{}),
	}, nil
}

// Run claims and processes tasks until the session is exhausted or ctx ends.
// Cancellation is observed between tasks; a task in flight runs to completion.
func (w *Worker) Run(ctx context.Context) error {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	backoff := w.cfg.IdleBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}
		task, err := w.deps.Frontier.Claim(ctx, w.cfg.ID)
		switch {
		case errors.Is(err, frontier.ErrSessionExhausted):
			w.logger.Debug("Session exhausted")
			return nil
		case errors.Is(err, frontier.ErrNoTaskAvailable):
			if w.deps.Clock.Sleep(ctx, backoff) != nil {
				return nil
			}
			backoff = min(backoff*2, w.cfg.MaxIdleBackoff)
			continue
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("Claim failed", zap.Error(err))
			if w.deps.Clock.Sleep(ctx, backoff) != nil {
				return nil
			}
			continue
		}
		backoff = w.cfg.IdleBackoff
		w.Process(ctx, task)
	}
}

// Process runs one claimed task to completion, abandonment or release.
func (w *Worker) Process(ctx context.Context, task crawler.CrawlTask) {
	log := w.logger.With(zap.Int64("task_id", task.ID), zap.String("url", task.URL))
	// Work already claimed finishes even if the session is canceled meanwhile.
	work := context.WithoutCancel(ctx)

	if w.deps.Policy != nil && !w.deps.Policy.Allowed(work, task.URL) {
		log.Info("Task disallowed by robots directives")
		w.abandon(work, log, task, crawler.ErrDisallowedByRobots)
		return
	}
	if err := w.pace(ctx, task); err != nil {
		log.Debug("Releasing task", zap.Error(err))
		if rerr := w.deps.Frontier.Release(work, task.ID, "canceled during crawl delay"); rerr != nil {
			log.Warn("Release failed", zap.Error(rerr))
		}
		return
	}
	w.discoverSitemaps(work, log, task)

	req := crawler.Request{Method: task.Method, URL: task.URL}
	if w.deps.Credentials != nil {
		if cred, ok := w.deps.Credentials.CredentialFor(task.URL); ok {
			req.Credential = cred
		}
	}

	if w.cfg.Incremental && task.Method == crawler.MethodGet {
		if w.unchanged(work, log, task, req) {
			return
		}
	}

	start := w.deps.Clock.Now()
	res, err := w.deps.Fetcher.Execute(work, req)
	if err != nil {
		w.abandon(work, log, task, err)
		return
	}
	if res.HasChildURLs() {
		w.handleChildren(work, log, task, res.ChildURLs, start)
		return
	}
	w.handleResponse(work, log, task, res.Response, start)
}

func (w *Worker) pace(ctx context.Context, task crawler.CrawlTask) error {
	if w.deps.Pacer == nil {
		return nil
	}
	u, err := url.Parse(task.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil
	}
	var delay time.Duration
	if w.deps.Policy != nil {
		delay, _ = w.deps.Policy.CrawlDelay(ctx, task.URL)
	}
	if err := w.deps.Pacer.Wait(ctx, robots.Origin(u), delay); err != nil {
		return fmt.Errorf("wait for crawl delay: %w", err)
	}
	return nil
}

func (w *Worker) discoverSitemaps(ctx context.Context, log *zap.Logger, task crawler.CrawlTask) {
	if !w.cfg.DiscoverSitemaps || w.deps.Policy == nil {
		return
	}
	u, err := url.Parse(task.URL)
	if err != nil {
		return
	}
	origin := robots.Origin(u)
	if _, seen := w.sitemapOrigins[origin]; seen {
		return
	}
	w.sitemapOrigins[origin] = struct{}{}
	for _, sitemap := range w.deps.Policy.Sitemaps(ctx, task.URL) {
		// Sitemaps hang off the task that revealed them.
		if err := w.deps.Discovery.Discover(ctx, task, sitemap); err != nil {
			log.Warn("Sitemap discovery failed", zap.String("sitemap", sitemap), zap.Error(err))
		}
	}
}

// unchanged issues a HEAD request when the previous session recorded a
// Last-Modified for the URL. It completes the task as not modified and
// returns true when the resource has not changed since.
func (w *Worker) unchanged(ctx context.Context, log *zap.Logger, task crawler.CrawlTask, req crawler.Request) bool {
	prev, ok, err := w.deps.Frontier.PreviousAccess(ctx, task.URL)
	if err != nil {
		log.Warn("Previous access lookup failed", zap.Error(err))
		return false
	}
	if !ok || !prev.Status.Final() || prev.LastModified.IsZero() {
		return false
	}

	head := req
	head.Method = crawler.MethodHead
	start := w.deps.Clock.Now()
	res, err := w.deps.Fetcher.Execute(ctx, head)
	if err != nil || res.Response == nil {
		log.Debug("HEAD probe failed, fetching in full", zap.Error(err))
		return false
	}
	resp := res.Response
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || resp.LastModified.IsZero() ||
		resp.LastModified.After(prev.LastModified) {
		return false
	}

	result := crawler.AccessResult{
		URL:           task.URL,
		ParentURL:     task.ParentURL,
		Method:        crawler.MethodHead,
		Status:        crawler.AccessNotModified,
		HTTPStatus:    resp.StatusCode,
		ContentHash:   prev.ContentHash,
		LastModified:  resp.LastModified,
		MimeType:      resp.MimeType(),
		ContentLength: prev.ContentLength,
		FetchTime:     start,
		ExecutionTime: w.deps.Clock.Now().Sub(start),
	}
	w.complete(ctx, log, task, result)
	return true
}

func (w *Worker) handleChildren(ctx context.Context, log *zap.Logger, task crawler.CrawlTask, children []string, start time.Time) {
	for _, child := range children {
		if err := w.deps.Discovery.Discover(ctx, task, child); err != nil {
			w.abandon(ctx, log, task, err)
			return
		}
	}
	w.complete(ctx, log, task, crawler.AccessResult{
		URL:           task.URL,
		ParentURL:     task.ParentURL,
		Method:        task.Method,
		Status:        crawler.AccessCompleted,
		FetchTime:     start,
		ExecutionTime: w.deps.Clock.Now().Sub(start),
	})
}

func (w *Worker) handleResponse(
	ctx context.Context,
	log *zap.Logger,
	task crawler.CrawlTask,
	resp *crawler.Response,
	start time.Time,
) {
	metrics.ObserveBytes(task.URL, len(resp.Body))

	handlerID, err := w.deps.Router.Route(resp)
	if err != nil {
		w.abandon(ctx, log, task, err)
		return
	}
	h, err := w.deps.Handlers.Get(handlerID)
	if err != nil {
		w.abandon(ctx, log, task, err)
		return
	}
	if err := h.Handle(ctx, task, resp, w.deps.Discovery); err != nil {
		w.abandon(ctx, log, task, fmt.Errorf("handler %s: %w", handlerID, err))
		return
	}

	result := crawler.AccessResult{
		URL:           task.URL,
		ParentURL:     task.ParentURL,
		Method:        task.Method,
		Status:        crawler.AccessCompleted,
		HTTPStatus:    resp.StatusCode,
		LastModified:  resp.LastModified,
		MimeType:      resp.MimeType(),
		ContentLength: int64(len(resp.Body)),
		FetchTime:     start,
		ExecutionTime: w.deps.Clock.Now().Sub(start),
	}
	if w.deps.Hasher != nil && len(resp.Body) > 0 {
		if hash, err := w.deps.Hasher.Hash(resp.Body); err == nil {
			result.ContentHash = hash
		}
	}
	w.complete(ctx, log, task, result)
	log.Debug("Task completed", zap.String("handler", handlerID), zap.Int("status", resp.StatusCode))
}

func (w *Worker) complete(ctx context.Context, log *zap.Logger, task crawler.CrawlTask, result crawler.AccessResult) {
	if err := w.deps.Frontier.Complete(ctx, task.ID, result); err != nil {
		// The lease sweeper hands the task out again.
		log.Error("Complete failed", zap.Error(err))
	}
}

func (w *Worker) abandon(ctx context.Context, log *zap.Logger, task crawler.CrawlTask, cause error) {
	fields := []zap.Field{zap.Error(cause)}
	var multi *crawler.MultiAttemptFailure
	if errors.As(cause, &multi) {
		history := make([]string, 0, len(multi.Errors))
		for _, e := range multi.Errors {
			history = append(history, e.Error())
		}
		fields = append(fields, zap.Int("attempts", len(multi.Errors)), zap.Strings("error_history", history))
	}
	log.Warn("Abandoning task", fields...)
	if err := w.deps.Frontier.Abandon(ctx, task.ID, cause); err != nil {
		log.Error("Abandon failed", zap.Error(err))
	}
}
