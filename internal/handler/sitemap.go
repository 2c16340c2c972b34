package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

// Sitemap discovers the <loc> entries of sitemaps and sitemap indexes.
type Sitemap struct {
	logger *zap.Logger
}

// NewSitemap creates a Sitemap handler.
func NewSitemap(logger *zap.Logger) *Sitemap {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sitemap{logger: logger.Named("sitemap")}
}

// Handle implements crawler.ContentHandler.
func (h *Sitemap) Handle(ctx context.Context, task crawler.CrawlTask, resp *crawler.Response, discover crawler.Discoverer) error {
	locs, err := ParseSitemap(resp.Body)
	if err != nil {
		return fmt.Errorf("sitemap %s: %w", resp.URL, err)
	}
	if discover == nil {
		return nil
	}
	for _, loc := range locs {
		if err := discover.Discover(ctx, task, loc); err != nil && !errors.Is(err, crawler.ErrDuplicateTask) {
			return fmt.Errorf("discover %s: %w", loc, err)
		}
	}
	h.logger.Debug("sitemap expanded", zap.String("url", resp.URL), zap.Int("locations", len(locs)))
	return nil
}

// ParseSitemap returns the trimmed <loc> values of a urlset or sitemapindex document.
func ParseSitemap(body []byte) ([]string, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse xml: %w", err)
	}
	nodes := xmlquery.Find(doc, "//loc")
	locs := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if loc := strings.TrimSpace(n.InnerText()); loc != "" {
			locs = append(locs, loc)
		}
	}
	return locs, nil
}
