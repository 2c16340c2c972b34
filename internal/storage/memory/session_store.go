package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

// SessionStore keeps session records in memory for development/testing.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]crawler.Session
}

// NewSessionStore constructs a SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]crawler.Session)}
}

// CreateSession stores a new session record.
func (s *SessionStore) CreateSession(_ context.Context, sess crawler.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ID]; exists {
		return crawler.ErrSessionExists
	}
	sess.Seeds = append([]string(nil), sess.Seeds...)
	s.sessions[sess.ID] = sess
	return nil
}

// UpdateSessionStatus moves a session to status. Terminal states stamp
// Finished; a resumed session loses it.
func (s *SessionStore) UpdateSessionStatus(_ context.Context, id string, status crawler.SessionStatus, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return crawler.ErrSessionNotFound
	}
	sess.Status = status
	sess.ErrorText = errText
	switch {
	case !status.Terminal():
		sess.Finished = nil
	case sess.Finished == nil:
		now := time.Now().UTC()
		sess.Finished = &now
	}
	s.sessions[id] = sess
	return nil
}

// GetSession fetches a session by ID.
func (s *SessionStore) GetSession(_ context.Context, id string) (crawler.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return crawler.Session{}, crawler.ErrSessionNotFound
	}
	return sess, nil
}

// ListSessions returns all sessions, oldest first.
func (s *SessionStore) ListSessions(_ context.Context) ([]crawler.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.Before(out[j].Created)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
