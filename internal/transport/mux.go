// Package transport routes fetches to a crawler.Transport by URL scheme.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

// ErrUnsupportedScheme is returned when no transport handles a URL scheme.
var ErrUnsupportedScheme = errors.New("unsupported url scheme")

// Mux dispatches requests to the transport registered for their scheme.
type Mux struct {
	transports map[string]crawler.Transport
}

// NewMux creates an empty Mux.
func NewMux() *Mux {
	return &Mux{transports: make(map[string]crawler.Transport)}
}

// Handle registers t for each scheme, replacing any earlier registration.
func (m *Mux) Handle(t crawler.Transport, schemes ...string) *Mux {
	for _, scheme := range schemes {
		m.transports[strings.ToLower(scheme)] = t
	}
	return m
}

// Supports reports whether rawURL has a registered scheme.
func (m *Mux) Supports(rawURL string) bool {
	_, err := m.lookup(rawURL)
	return err == nil
}

// Fetch implements crawler.Transport.
func (m *Mux) Fetch(ctx context.Context, req crawler.Request) (crawler.FetchResult, error) {
	t, err := m.lookup(req.URL)
	if err != nil {
		return crawler.FetchResult{}, err
	}
	return t.Fetch(ctx, req)
}

func (m *Mux) lookup(rawURL string) (crawler.Transport, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	t, ok := m.transports[strings.ToLower(u.Scheme)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	return t, nil
}
