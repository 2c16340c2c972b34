// Package politeness paces requests per origin, honouring robots crawl delays.
package politeness

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/frontier-crawler/internal/metrics"
	"golang.org/x/time/rate"
)

// Config holds pacing defaults.
type Config struct {
	// DefaultRPS applies to origins without a crawl delay. Zero means unlimited.
	DefaultRPS   float64
	DefaultBurst int
	// MaxCrawlDelay caps the delay an origin may impose. Zero means no cap.
	MaxCrawlDelay time.Duration
}

// Limiter manages one token bucket per origin.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*originLimiter
	defaultRate  rate.Limit
	defaultBurst int
	maxDelay     time.Duration
}

type originLimiter struct {
	limiter *rate.Limiter
	delay   time.Duration
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*originLimiter),
		defaultRate:  r,
		defaultBurst: burst,
		maxDelay:     cfg.MaxCrawlDelay,
	}
}

// Wait blocks until origin may be fetched again. A positive delay switches
// the origin to one request per delay.
func (l *Limiter) Wait(ctx context.Context, origin string, delay time.Duration) error {
	limiter := l.limiterFor(origin, delay)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("politeness wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveCrawlDelay(metrics.SanitizeSite(origin), waited)
	}
	return nil
}

func (l *Limiter) limiterFor(origin string, delay time.Duration) *rate.Limiter {
	if l.maxDelay > 0 && delay > l.maxDelay {
		delay = l.maxDelay
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	ol, ok := l.limiters[origin]
	if !ok {
		ol = &originLimiter{limiter: rate.NewLimiter(l.defaultRate, l.defaultBurst)}
		l.limiters[origin] = ol
	}
	if delay != ol.delay {
		if delay > 0 {
			ol.limiter.SetLimit(rate.Every(delay))
			ol.limiter.SetBurst(1)
		} else {
			ol.limiter.SetLimit(l.defaultRate)
			ol.limiter.SetBurst(l.defaultBurst)
		}
		ol.delay = delay
	}
	return ol.limiter
}

// Delay returns the crawl delay currently applied to origin.
func (l *Limiter) Delay(origin string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ol, ok := l.limiters[origin]; ok {
		return ol.delay
	}
	return 0
}
