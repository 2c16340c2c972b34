package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/scope"
)

// Enqueuer accepts new tasks. *frontier.Manager satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, task crawler.CrawlTask) (int64, error)
}

// Discovery turns discovered links into child tasks of the task that found them.
// Links outside the crawl scope and links already known are dropped silently.
type Discovery struct {
	frontier Enqueuer
	filter   *scope.Filter
	logger   *zap.Logger
}

// NewDiscovery creates a Discovery. A nil filter accepts everything.
func NewDiscovery(frontier Enqueuer, filter *scope.Filter, logger *zap.Logger) *Discovery {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discovery{frontier: frontier, filter: filter, logger: logger}
}

// Discover implements crawler.Discoverer.
func (d *Discovery) Discover(ctx context.Context, parent crawler.CrawlTask, rawURL string) error {
	normalized, err := scope.Normalize(rawURL)
	if err != nil {
		d.logger.Debug("Skipping malformed link", zap.String("link", rawURL), zap.Error(err))
		return nil
	}
	depth := parent.Depth + 1
	if d.filter != nil {
		if reason := d.filter.Check(normalized, depth); reason != scope.Accepted {
			d.logger.Debug("Link out of scope",
				zap.String("link", normalized),
				zap.Int("depth", depth),
				zap.String("reason", string(reason)),
			)
			return nil
		}
	}
	_, err = d.frontier.Enqueue(ctx, crawler.CrawlTask{
		Method:    crawler.MethodGet,
		URL:       normalized,
		ParentURL: parent.URL,
		Depth:     depth,
		Encoding:  parent.Encoding,
	})
	if errors.Is(err, crawler.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue child: %w", err)
	}
	return nil
}
