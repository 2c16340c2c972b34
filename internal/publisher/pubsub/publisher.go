// Package pubsub publishes document notifications to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Config identifies the project topics live in.
type Config struct {
	ProjectID string `mapstructure:"project_id"`
	// CheckTopics makes the publisher verify a topic exists before first use.
	CheckTopics bool `mapstructure:"check_topics"`
}

// Publisher publishes JSON payloads, one topic handle per topic name.
type Publisher struct {
	client *pubsub.Client
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// New creates a Publisher with Application Default Credentials.
func New(ctx context.Context, cfg Config, logger *zap.Logger, opts ...option.ClientOption) (*Publisher, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("pubsub project id is required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		client: client,
		cfg:    cfg,
		logger: logger.Named("pubsub"),
		topics: make(map[string]*pubsub.Topic),
	}, nil
}

// Publish marshals payload to JSON and waits for the server to accept it.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	t, err := p.topic(ctx, topic)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	id, err := t.Publish(ctx, &pubsub.Message{Data: data}).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	return id, nil
}

func (p *Publisher) topic(ctx context.Context, name string) (*pubsub.Topic, error) {
	if name == "" {
		return nil, errors.New("topic is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.topics[name]; ok {
		return t, nil
	}
	t := p.client.Topic(name)
	if p.cfg.CheckTopics {
		exists, err := t.Exists(ctx)
		if err != nil {
			return nil, fmt.Errorf("check topic %s: %w", name, err)
		}
		if !exists {
			return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", name, p.cfg.ProjectID)
		}
	}
	p.topics[name] = t
	return t, nil
}

// Close flushes pending publishes and closes the client.
func (p *Publisher) Close() error {
	p.mu.Lock()
	for name, t := range p.topics {
		t.Stop()
		delete(p.topics, name)
	}
	p.mu.Unlock()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	p.logger.Debug("pubsub publisher closed")
	return nil
}
