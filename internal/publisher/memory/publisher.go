// Package memory keeps document notifications in process. It serves
// single-node runs that have no Pub/Sub project, and tests that need to read
// back what the sink announced.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// DefaultRetention is how many messages each topic keeps when New is given zero.
const DefaultRetention = 1024

// Message is one accepted publish. Data holds the JSON encoding of the
// payload, the same bytes the Pub/Sub publisher would send.
type Message struct {
	ID    string
	Topic string
	Data  json.RawMessage
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode message %s: %w", m.ID, err)
	}
	return nil
}

// Publisher retains the most recent messages of every topic.
type Publisher struct {
	retain int

	mu     sync.RWMutex
	seq    int
	topics map[string][]Message
}

// New returns a Publisher that keeps up to retain messages per topic.
// A negative retain keeps everything.
func New(retain int) *Publisher {
	if retain == 0 {
		retain = DefaultRetention
	}
	return &Publisher{retain: retain, topics: make(map[string][]Message)}
}

// Publish encodes payload to JSON and appends it to topic.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", errors.New("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	msg := Message{ID: fmt.Sprintf("%s-%d", topic, p.seq), Topic: topic, Data: data}
	msgs := append(p.topics[topic], msg)
	if p.retain > 0 && len(msgs) > p.retain {
		msgs = append([]Message(nil), msgs[len(msgs)-p.retain:]...)
	}
	p.topics[topic] = msgs
	return msg.ID, nil
}

// Messages returns a copy of the retained messages on topic, oldest first.
func (p *Publisher) Messages(topic string) []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Message(nil), p.topics[topic]...)
}

// Topics lists the topics that have received at least one message.
func (p *Publisher) Topics() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.topics))
	for name := range p.topics {
		out = append(out, name)
	}
	return out
}
