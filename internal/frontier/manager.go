package frontier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/frontier-crawler/internal/clock/system"
	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/metrics"
	"go.uber.org/zap"
)

// Config tunes a Manager.
type Config struct {
	SessionID string
	// PreviousSessionID names the session whose ledger drives incremental revisits.
	PreviousSessionID string
	LeaseTimeout      time.Duration
	SweepInterval     time.Duration
}

// Manager is the frontier of one session.
type Manager struct {
	store  Store
	cfg    Config
	clock  crawler.Clock
	logger *zap.Logger
}

// NewManager validates cfg and returns a Manager bound to cfg.SessionID.
func NewManager(store Store, cfg Config, clock crawler.Clock, logger *zap.Logger) (*Manager, error) {
	if store == nil {
		return nil, errors.New("frontier store is required")
	}
	if strings.TrimSpace(cfg.SessionID) == "" {
		return nil, errors.New("session id is required")
	}
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = 5 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = cfg.LeaseTimeout / 2
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Manager{
		store:  store,
		cfg:    cfg,
		clock:  clock,
		logger: logger.Named("frontier").With(zap.String("session_id", cfg.SessionID)),
	}, nil
}

// SessionID returns the session the manager serves.
func (m *Manager) SessionID() string {
	return m.cfg.SessionID
}

// Enqueue adds task to the session. It returns crawler.ErrDuplicateTask when
// the URL is live or already fetched.
func (m *Manager) Enqueue(ctx context.Context, task crawler.CrawlTask) (int64, error) {
	if strings.TrimSpace(task.URL) == "" {
		return 0, errors.New("task url is required")
	}
	task.SessionID = m.cfg.SessionID
	if task.Method == "" {
		task.Method = crawler.MethodGet
	}
	if !task.Method.Valid() {
		return 0, fmt.Errorf("unsupported method %q", task.Method)
	}
	if task.CreateTime.IsZero() {
		task.CreateTime = m.clock.Now()
	}
	task.ClaimedBy = ""
	task.ClaimedAt = time.Time{}

	id, err := m.store.Enqueue(ctx, task)
	if err != nil {
		if errors.Is(err, crawler.ErrDuplicateTask) {
			metrics.ObserveTransition("duplicate")
			return 0, err
		}
		return 0, fmt.Errorf("enqueue %s: %w", task.URL, err)
	}
	metrics.ObserveTransition("enqueued")
	return id, nil
}

// Seed enqueues root URLs at depth zero and returns how many were new.
// Duplicates are skipped.
func (m *Manager) Seed(ctx context.Context, urls ...string) (int, error) {
	added := 0
	for _, u := range urls {
		_, err := m.Enqueue(ctx, crawler.CrawlTask{URL: u, Method: crawler.MethodGet})
		if errors.Is(err, crawler.ErrDuplicateTask) {
			continue
		}
		if err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// Claim hands the next task to workerID. It returns ErrNoTaskAvailable while
// every remaining task is held by another worker and ErrSessionExhausted once
// nothing is left.
func (m *Manager) Claim(ctx context.Context, workerID string) (crawler.CrawlTask, error) {
	task, err := m.store.Claim(ctx, m.cfg.SessionID, workerID, m.clock.Now())
	if err != nil {
		if errors.Is(err, ErrNoTaskAvailable) || errors.Is(err, ErrSessionExhausted) {
			return crawler.CrawlTask{}, err
		}
		return crawler.CrawlTask{}, fmt.Errorf("claim task: %w", err)
	}
	metrics.ObserveTransition("claimed")
	return task, nil
}

// Complete removes the task and records result. Completing an unknown or
// already finished task is a no-op.
func (m *Manager) Complete(ctx context.Context, taskID int64, result crawler.AccessResult) error {
	result.SessionID = m.cfg.SessionID
	if result.Status == "" {
		result.Status = crawler.AccessCompleted
	}
	if result.FetchTime.IsZero() {
		result.FetchTime = m.clock.Now()
	}
	if err := m.store.Complete(ctx, taskID, result); err != nil {
		return fmt.Errorf("complete task %d: %w", taskID, err)
	}
	metrics.ObserveTransition(string(result.Status))
	metrics.ObserveAccessResult(string(result.Status))
	return nil
}

// Release puts a claimed task back into the pending pool.
func (m *Manager) Release(ctx context.Context, taskID int64, reason string) error {
	if err := m.store.Release(ctx, taskID); err != nil {
		return fmt.Errorf("release task %d: %w", taskID, err)
	}
	m.logger.Debug("Task released", zap.Int64("task_id", taskID), zap.String("reason", reason))
	metrics.ObserveTransition("released")
	return nil
}

// Abandon records a terminal failure for the task and drops it. The frontier
// never retries an abandoned task.
func (m *Manager) Abandon(ctx context.Context, taskID int64, cause error) error {
	msg := "abandoned"
	if cause != nil {
		msg = cause.Error()
	}
	return m.Complete(ctx, taskID, crawler.AccessResult{
		Status:    crawler.AccessAbandoned,
		Error:     msg,
		FetchTime: m.clock.Now(),
	})
}

// SweepExpiredLeases returns tasks claimed longer than the lease timeout to pending.
func (m *Manager) SweepExpiredLeases(ctx context.Context) (int, error) {
	cutoff := m.clock.Now().Add(-m.cfg.LeaseTimeout)
	n, err := m.store.ReleaseExpired(ctx, m.cfg.SessionID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep expired leases: %w", err)
	}
	if n > 0 {
		m.logger.Info("Reclaimed expired leases", zap.Int("count", n), zap.Duration("lease_timeout", m.cfg.LeaseTimeout))
		metrics.ObserveTransitions("reclaimed", n)
	}
	return n, nil
}

// ReclaimAll releases every claim of the session, for resuming after the
// previous process died holding leases.
func (m *Manager) ReclaimAll(ctx context.Context) (int, error) {
	n, err := m.store.ReleaseExpired(ctx, m.cfg.SessionID, m.clock.Now().Add(time.Nanosecond))
	if err != nil {
		return 0, fmt.Errorf("reclaim claims: %w", err)
	}
	if n > 0 {
		m.logger.Info("Reclaimed claims from previous run", zap.Int("count", n))
		metrics.ObserveTransitions("reclaimed", n)
	}
	return n, nil
}

// RunSweeper sweeps expired leases every SweepInterval until ctx ends.
func (m *Manager) RunSweeper(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := m.SweepExpiredLeases(ctx); err != nil && ctx.Err() == nil {
				m.logger.Error("Lease sweep failed", zap.Error(err))
			}
		}
	}
}

// PreviousAccess returns the ledger entry the previous session wrote for url.
func (m *Manager) PreviousAccess(ctx context.Context, url string) (crawler.AccessResult, bool, error) {
	if m.cfg.PreviousSessionID == "" {
		return crawler.AccessResult{}, false, nil
	}
	res, ok, err := m.store.LastAccess(ctx, m.cfg.PreviousSessionID, url)
	if err != nil {
		return crawler.AccessResult{}, false, fmt.Errorf("previous access %s: %w", url, err)
	}
	return res, ok, nil
}

// LastAccess returns this session's ledger entry for url.
func (m *Manager) LastAccess(ctx context.Context, url string) (crawler.AccessResult, bool, error) {
	res, ok, err := m.store.LastAccess(ctx, m.cfg.SessionID, url)
	if err != nil {
		return crawler.AccessResult{}, false, fmt.Errorf("last access %s: %w", url, err)
	}
	return res, ok, nil
}

// Stats summarises the session.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	s, err := m.store.Stats(ctx, m.cfg.SessionID)
	if err != nil {
		return Stats{}, fmt.Errorf("frontier stats: %w", err)
	}
	return s, nil
}
