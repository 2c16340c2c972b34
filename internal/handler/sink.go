package handler

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

// Document describes a persisted response. It is the payload published to
// downstream indexers.
type Document struct {
	SessionID   string    `json:"session_id"`
	TaskID      int64     `json:"task_id"`
	URL         string    `json:"url"`
	ParentURL   string    `json:"parent_url,omitempty"`
	Depth       int       `json:"depth"`
	StatusCode  int       `json:"status"`
	MimeType    string    `json:"mime_type,omitempty"`
	Title       string    `json:"title,omitempty"`
	Links       int       `json:"links"`
	ContentHash string    `json:"hash"`
	BlobURI     string    `json:"blob_uri"`
	FetchedAt   time.Time `json:"timestamp"`
}

// Sink receives handled documents.
type Sink interface {
	Save(ctx context.Context, doc Document, body []byte) error
}

// StoreConfig controls where StoreSink writes.
type StoreConfig struct {
	BlobPrefix string
	// Topic is where document notifications go. Empty disables publishing.
	Topic string
}

// StoreSink writes bodies to a blob store and announces them on a topic.
type StoreSink struct {
	blobs     crawler.BlobStore
	publisher crawler.Publisher
	hasher    crawler.Hasher
	clock     crawler.Clock
	cfg       StoreConfig
	logger    *zap.Logger
}

// NewStoreSink creates a StoreSink. publisher may be nil.
func NewStoreSink(
	blobs crawler.BlobStore,
	publisher crawler.Publisher,
	hasher crawler.Hasher,
	clock crawler.Clock,
	cfg StoreConfig,
	logger *zap.Logger,
) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{
		blobs:     blobs,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("sink"),
	}
}

// Save hashes, stores, and publishes the document.
func (s *StoreSink) Save(ctx context.Context, doc Document, body []byte) error {
	hash, err := s.hasher.Hash(body)
	if err != nil {
		return fmt.Errorf("hash body: %w", err)
	}
	doc.ContentHash = hash
	if doc.FetchedAt.IsZero() {
		doc.FetchedAt = s.clock.Now()
	}

	uri, err := s.blobs.PutObject(ctx, s.blobPath(doc.SessionID, hash, doc.MimeType), doc.MimeType, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	doc.BlobURI = uri

	if s.cfg.Topic == "" || s.publisher == nil {
		return nil
	}
	if _, err := s.publisher.Publish(ctx, s.cfg.Topic, doc); err != nil {
		return fmt.Errorf("publish document: %w", err)
	}
	s.logger.Debug("document published",
		zap.String("session_id", doc.SessionID),
		zap.String("url", doc.URL),
		zap.String("blob_uri", uri),
		zap.String("hash", hash),
	)
	return nil
}

func (s *StoreSink) blobPath(sessionID, hash, mimeType string) string {
	name := strings.TrimPrefix(hash, "sha256:") + extension(mimeType)
	prefix := strings.Trim(s.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s", sessionID, name)
	}
	return fmt.Sprintf("%s/%s/%s", prefix, sessionID, name)
}

func extension(mimeType string) string {
	switch {
	case mimeType == "text/html" || mimeType == "application/xhtml+xml":
		return ".html"
	case strings.HasSuffix(mimeType, "/xml") || strings.HasSuffix(mimeType, "+xml"):
		return ".xml"
	case mimeType == "application/json":
		return ".json"
	case mimeType == "application/pdf":
		return ".pdf"
	case strings.HasPrefix(mimeType, "text/"):
		return ".txt"
	default:
		return ".bin"
	}
}

// newDocument fills the fields every handler shares.
func newDocument(task crawler.CrawlTask, resp *crawler.Response) Document {
	return Document{
		SessionID:  task.SessionID,
		TaskID:     task.ID,
		URL:        resp.URL,
		ParentURL:  task.ParentURL,
		Depth:      task.Depth,
		StatusCode: resp.StatusCode,
		MimeType:   resp.MimeType(),
	}
}

// Store persists every response it receives without looking inside.
type Store struct {
	sink Sink
}

// NewStore creates a Store handler.
func NewStore(sink Sink) *Store {
	return &Store{sink: sink}
}

// Handle implements crawler.ContentHandler.
func (h *Store) Handle(ctx context.Context, task crawler.CrawlTask, resp *crawler.Response, _ crawler.Discoverer) error {
	if err := h.sink.Save(ctx, newDocument(task, resp), resp.Body); err != nil {
		return fmt.Errorf("store %s: %w", resp.URL, err)
	}
	return nil
}
