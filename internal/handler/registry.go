// Package handler implements the content handlers responses are routed to.
package handler

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

// Handler ids understood by the default configuration.
const (
	IDHTML    = "html"
	IDSitemap = "sitemap"
	IDStore   = "store"
	IDDiscard = "discard"
)

// Registry maps routing rule handler ids to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]crawler.ContentHandler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]crawler.ContentHandler)}
}

// Register binds id to h, replacing any earlier binding.
func (r *Registry) Register(id string, h crawler.ContentHandler) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[id] = h
	return r
}

// Get returns the handler bound to id.
func (r *Registry) Get(id string) (crawler.ContentHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[id]
	if !ok {
		return nil, fmt.Errorf("no handler registered for %q", id)
	}
	return h, nil
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Discard accepts a response and does nothing with it.
var Discard crawler.ContentHandler = crawler.ContentHandlerFunc(
	func(context.Context, crawler.CrawlTask, *crawler.Response, crawler.Discoverer) error {
		return nil
	})
