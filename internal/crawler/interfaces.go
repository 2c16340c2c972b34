package crawler

import (
	"context"
	"io"
	"time"
)

// Transport performs one fetch attempt. Errors are opaque to callers except
// ErrSizeLimitExceeded, which must not be retried.
type Transport interface {
	Fetch(ctx context.Context, req Request) (FetchResult, error)
}

// Discoverer accepts links found while handling a response.
type Discoverer interface {
	Discover(ctx context.Context, parent CrawlTask, rawURL string) error
}

// ContentHandler processes a successful response for the task that produced it.
type ContentHandler interface {
	Handle(ctx context.Context, task CrawlTask, resp *Response, discover Discoverer) error
}

// ContentHandlerFunc adapts a function to ContentHandler.
type ContentHandlerFunc func(ctx context.Context, task CrawlTask, resp *Response, discover Discoverer) error

// Handle calls f.
func (f ContentHandlerFunc) Handle(ctx context.Context, task CrawlTask, resp *Response, discover Discoverer) error {
	return f(ctx, task, resp, discover)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes document notifications to downstream indexers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests recorded in the access ledger.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time and sleeps (useful for testing).
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator produces session IDs.
type IDGenerator interface {
	NewID() (string, error)
}
