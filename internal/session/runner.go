// Package session runs crawl sessions: it creates or resumes the session
// record, seeds the frontier and drives the worker pool until the frontier is
// exhausted or the session is canceled.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/clock/system"
	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/dispatcher"
	"github.com/JakeFAU/frontier-crawler/internal/frontier"
	"github.com/JakeFAU/frontier-crawler/internal/scope"
)

var (
	// ErrAlreadyRunning is returned when a session is started twice in one process.
	ErrAlreadyRunning = errors.New("session already running")
	// ErrNotRunning is returned when canceling a session this process is not running.
	ErrNotRunning = errors.New("session not running")
	// ErrNoSeeds is returned when a new session has nothing to crawl.
	ErrNoSeeds = errors.New("at least one seed url is required")
	// ErrInvalidSeed is returned for seeds that are not absolute URLs.
	ErrInvalidSeed = errors.New("invalid seed url")
)

// Store persists session records.
type Store interface {
	CreateSession(ctx context.Context, sess crawler.Session) error
	UpdateSessionStatus(ctx context.Context, id string, status crawler.SessionStatus, errText string) error
	GetSession(ctx context.Context, id string) (crawler.Session, error)
	ListSessions(ctx context.Context) ([]crawler.Session, error)
}

// WorkerFactory builds the worker pool of a session around its frontier.
type WorkerFactory func(m *frontier.Manager) ([]dispatcher.Runner, error)

// Config tunes the runner.
type Config struct {
	LeaseTimeout  time.Duration
	SweepInterval time.Duration
	// ReclaimOnStart releases claims left behind by a process that died
	// while running the session.
	ReclaimOnStart bool
}

// Request describes a session to start or resume.
type Request struct {
	// SessionID resumes the named session, or creates it when unknown.
	// Empty means a fresh generated ID.
	SessionID         string   `json:"session_id,omitempty"`
	Seeds             []string `json:"seeds"`
	PreviousSessionID string   `json:"previous_session_id,omitempty"`
}

// Status is a session record plus its frontier counters.
type Status struct {
	crawler.Session
	Stats   frontier.Stats `json:"stats"`
	Running bool           `json:"running"`
}

// Deps are the collaborators of a Runner. Clock defaults to the system clock.
type Deps struct {
	Sessions Store
	Frontier frontier.Store
	IDs      crawler.IDGenerator
	Clock    crawler.Clock
	Workers  WorkerFactory
}

// Runner starts, tracks and cancels sessions.
type Runner struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// New validates deps and returns a Runner.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Runner, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errors.New("session store is required")
	case deps.Frontier == nil:
		return nil, errors.New("frontier store is required")
	case deps.IDs == nil:
		return nil, errors.New("id generator is required")
	case deps.Workers == nil:
		return nil, errors.New("worker factory is required")
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		deps:    deps,
		cfg:     cfg,
		logger:  logger.Named("session"),
		running: make(map[string]context.CancelFunc),
	}, nil
}

// Run creates or resumes the session and crawls it in the foreground. It
// returns the final session record; canceling ctx cancels the session.
func (r *Runner) Run(ctx context.Context, req Request) (crawler.Session, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m, workers, err := r.prepare(ctx, req, cancel)
	if err != nil {
		return crawler.Session{}, err
	}
	r.execute(runCtx, m, workers)
	return r.deps.Sessions.GetSession(context.WithoutCancel(ctx), m.SessionID())
}

// Start prepares the session and crawls it in the background. The crawl
// outlives ctx; use Cancel or Shutdown to stop it.
func (r *Runner) Start(ctx context.Context, req Request) (crawler.Session, error) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m, workers, err := r.prepare(ctx, req, cancel)
	if err != nil {
		cancel()
		return crawler.Session{}, err
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		r.execute(runCtx, m, workers)
	}()
	return r.deps.Sessions.GetSession(ctx, m.SessionID())
}

// Cancel stops a session this process is running. Claimed tasks finish;
// nothing new is claimed.
func (r *Runner) Cancel(id string) error {
	r.mu.Lock()
	cancel, ok := r.running[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRunning, id)
	}
	cancel()
	return nil
}

// Get returns the session record and its frontier counters.
func (r *Runner) Get(ctx context.Context, id string) (Status, error) {
	sess, err := r.deps.Sessions.GetSession(ctx, id)
	if err != nil {
		return Status{}, fmt.Errorf("get session %s: %w", id, err)
	}
	stats, err := r.deps.Frontier.Stats(ctx, id)
	if err != nil {
		return Status{}, fmt.Errorf("session stats %s: %w", id, err)
	}
	r.mu.Lock()
	_, running := r.running[id]
	r.mu.Unlock()
	return Status{Session: sess, Stats: stats, Running: running}, nil
}

// List returns every known session record.
func (r *Runner) List(ctx context.Context) ([]crawler.Session, error) {
	sessions, err := r.deps.Sessions.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// Shutdown cancels every running session and waits for them to record their
// final state, or for ctx to end.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	for _, cancel := range r.running {
		cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("session shutdown: %w", ctx.Err())
	}
}

func (r *Runner) prepare(ctx context.Context, req Request, cancel context.CancelFunc) (*frontier.Manager, []dispatcher.Runner, error) {
	seeds, err := normalizeSeeds(req.Seeds)
	if err != nil {
		return nil, nil, err
	}
	if req.PreviousSessionID != "" {
		if _, err := r.deps.Sessions.GetSession(ctx, req.PreviousSessionID); err != nil {
			return nil, nil, fmt.Errorf("previous session %s: %w", req.PreviousSessionID, err)
		}
	}

	id := strings.TrimSpace(req.SessionID)
	if id == "" {
		if id, err = r.deps.IDs.NewID(); err != nil {
			return nil, nil, fmt.Errorf("new session id: %w", err)
		}
	}
	if err := r.track(id, cancel); err != nil {
		return nil, nil, err
	}

	m, workers, err := r.open(ctx, id, req.PreviousSessionID, seeds)
	if err != nil {
		r.untrack(id)
		return nil, nil, err
	}
	return m, workers, nil
}

func (r *Runner) open(ctx context.Context, id, previous string, seeds []string) (*frontier.Manager, []dispatcher.Runner, error) {
	log := r.logger.With(zap.String("session_id", id))

	existing, err := r.deps.Sessions.GetSession(ctx, id)
	resumed := err == nil
	switch {
	case resumed:
		if previous == "" {
			previous = existing.PreviousSessionID
		}
	case errors.Is(err, crawler.ErrSessionNotFound):
		if len(seeds) == 0 {
			return nil, nil, ErrNoSeeds
		}
	default:
		return nil, nil, fmt.Errorf("lookup session %s: %w", id, err)
	}

	m, err := frontier.NewManager(r.deps.Frontier, frontier.Config{
		SessionID:         id,
		PreviousSessionID: previous,
		LeaseTimeout:      r.cfg.LeaseTimeout,
		SweepInterval:     r.cfg.SweepInterval,
	}, r.deps.Clock, r.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("frontier manager: %w", err)
	}

	if resumed {
		if err := r.deps.Sessions.UpdateSessionStatus(ctx, id, crawler.SessionRunning, ""); err != nil {
			return nil, nil, fmt.Errorf("resume session %s: %w", id, err)
		}
		if r.cfg.ReclaimOnStart {
			if _, err := m.ReclaimAll(ctx); err != nil {
				return nil, nil, err
			}
		}
		log.Info("Resuming session", zap.String("previous_status", string(existing.Status)))
	} else {
		err := r.deps.Sessions.CreateSession(ctx, crawler.Session{
			ID:                id,
			Status:            crawler.SessionRunning,
			Seeds:             seeds,
			PreviousSessionID: previous,
			Created:           r.deps.Clock.Now().UTC(),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create session %s: %w", id, err)
		}
		log.Info("Created session", zap.Strings("seeds", seeds), zap.String("previous_session_id", previous))
	}

	added, err := m.Seed(ctx, seeds...)
	if err != nil {
		r.finish(ctx, id, crawler.SessionFailed, err)
		return nil, nil, fmt.Errorf("seed session %s: %w", id, err)
	}
	log.Debug("Seeded frontier", zap.Int("added", added))

	workers, err := r.deps.Workers(m)
	if err != nil {
		r.finish(ctx, id, crawler.SessionFailed, err)
		return nil, nil, fmt.Errorf("build workers: %w", err)
	}
	return m, workers, nil
}

func (r *Runner) execute(ctx context.Context, m *frontier.Manager, workers []dispatcher.Runner) {
	id := m.SessionID()
	defer r.untrack(id)

	err := dispatcher.New(m, workers, r.logger).Run(ctx)
	status := crawler.SessionFinished
	switch {
	case err != nil:
		status = crawler.SessionFailed
	case ctx.Err() != nil:
		status = crawler.SessionCanceled
	}
	r.finish(ctx, id, status, err)
}

// finish records the terminal state even when ctx is already canceled.
func (r *Runner) finish(ctx context.Context, id string, status crawler.SessionStatus, cause error) {
	errText := ""
	if cause != nil {
		errText = cause.Error()
	}
	ctx = context.WithoutCancel(ctx)
	if err := r.deps.Sessions.UpdateSessionStatus(ctx, id, status, errText); err != nil {
		r.logger.Error("Failed to record session status",
			zap.String("session_id", id), zap.String("status", string(status)), zap.Error(err))
		return
	}
	fields := []zap.Field{zap.String("session_id", id), zap.String("status", string(status))}
	if stats, err := r.deps.Frontier.Stats(ctx, id); err == nil {
		fields = append(fields,
			zap.Int("completed", stats.Completed),
			zap.Int("not_modified", stats.NotModified),
			zap.Int("abandoned", stats.Abandoned),
			zap.Int("pending", stats.Pending),
		)
	}
	if cause != nil {
		fields = append(fields, zap.Error(cause))
	}
	r.logger.Info("Session ended", fields...)
}

func (r *Runner) track(id string, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.running[id]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, id)
	}
	r.running[id] = cancel
	return nil
}

func (r *Runner) untrack(id string) {
	r.mu.Lock()
	delete(r.running, id)
	r.mu.Unlock()
}

func normalizeSeeds(raw []string) ([]string, error) {
	seeds := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, s := range raw {
		if strings.TrimSpace(s) == "" {
			continue
		}
		n, err := scope.Normalize(s)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %w", ErrInvalidSeed, s, err)
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		seeds = append(seeds, n)
	}
	return seeds, nil
}
