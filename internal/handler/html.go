package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

const defaultMaxLinks = 500

// linkSelectors lists the elements and attributes that point at crawlable resources.
var linkSelectors = []struct {
	selector string
	attr     string
}{
	{"a[href]", "href"},
	{"area[href]", "href"},
	{"frame[src]", "src"},
	{"iframe[src]", "src"},
}

// HTMLConfig controls link extraction.
type HTMLConfig struct {
	// MaxLinks caps discoveries per page. Zero uses the default.
	MaxLinks int
}

// HTML extracts links and the title from HTML pages, then hands the page to a sink.
type HTML struct {
	sink   Sink
	cfg    HTMLConfig
	logger *zap.Logger
}

// NewHTML creates an HTML handler. sink may be nil when pages need not be stored.
func NewHTML(sink Sink, cfg HTMLConfig, logger *zap.Logger) *HTML {
	if cfg.MaxLinks <= 0 {
		cfg.MaxLinks = defaultMaxLinks
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTML{sink: sink, cfg: cfg, logger: logger.Named("html")}
}

// Handle implements crawler.ContentHandler.
func (h *HTML) Handle(ctx context.Context, task crawler.CrawlTask, resp *crawler.Response, discover crawler.Discoverer) error {
	doc, err := parseHTML(resp)
	if err != nil {
		return err
	}
	base, err := baseURL(doc, resp.URL)
	if err != nil {
		return fmt.Errorf("resolve base url: %w", err)
	}

	links := ExtractLinks(doc, base, h.cfg.MaxLinks)
	if discover != nil {
		for _, link := range links {
			if err := discover.Discover(ctx, task, link); err != nil && !errors.Is(err, crawler.ErrDuplicateTask) {
				return fmt.Errorf("discover %s: %w", link, err)
			}
		}
	}
	h.logger.Debug("links extracted",
		zap.Int64("task_id", task.ID),
		zap.String("url", resp.URL),
		zap.Int("links", len(links)),
	)

	if h.sink == nil {
		return nil
	}
	d := newDocument(task, resp)
	d.Title = strings.TrimSpace(doc.Find("title").First().Text())
	d.Links = len(links)
	if err := h.sink.Save(ctx, d, resp.Body); err != nil {
		return fmt.Errorf("save %s: %w", resp.URL, err)
	}
	return nil
}

// parseHTML decodes the body to UTF-8 using the declared or sniffed charset.
func parseHTML(resp *crawler.Response) (*goquery.Document, error) {
	contentType := resp.Header.Get("Content-Type")
	if resp.Charset != "" {
		contentType = "text/html; charset=" + resp.Charset
	}
	reader, err := charset.NewReader(bytes.NewReader(resp.Body), contentType)
	if err != nil {
		return nil, fmt.Errorf("decode charset: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

func baseURL(doc *goquery.Document, pageURL string) (*url.URL, error) {
	page, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if base, err := page.Parse(strings.TrimSpace(href)); err == nil {
			return base, nil
		}
	}
	return page, nil
}

// ExtractLinks returns absolute, fragment-free, de-duplicated link targets in
// document order, at most limit of them.
func ExtractLinks(doc *goquery.Document, base *url.URL, limit int) []string {
	seen := make(map[string]struct{})
	var links []string
	for _, sel := range linkSelectors {
		doc.Find(sel.selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			raw, _ := s.Attr(sel.attr)
			raw = strings.TrimSpace(raw)
			if raw == "" || strings.HasPrefix(raw, "#") {
				return true
			}
			lower := strings.ToLower(raw)
			if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") ||
				strings.HasPrefix(lower, "tel:") || strings.HasPrefix(lower, "data:") {
				return true
			}
			u, err := base.Parse(raw)
			if err != nil {
				return true
			}
			u.Fragment = ""
			u.RawFragment = ""
			key := u.String()
			if _, dup := seen[key]; dup {
				return true
			}
			seen[key] = struct{}{}
			links = append(links, key)
			return limit <= 0 || len(links) < limit
		})
		if limit > 0 && len(links) >= limit {
			break
		}
	}
	return links
}
