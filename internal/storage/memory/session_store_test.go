package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

func TestSessionStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewSessionStore()
	ctx := context.Background()
	sess := crawler.Session{
		ID:      "sess-1",
		Status:  crawler.SessionRunning,
		Seeds:   []string{"https://example.com"},
		Created: time.Unix(10, 0).UTC(),
	}

	if err := store.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if err := store.CreateSession(ctx, sess); !errors.Is(err, crawler.ErrSessionExists) {
		t.Fatalf("expected duplicate session error, got %v", err)
	}
	sess.Seeds[0] = "modified"
	stored, err := store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if stored.Seeds[0] != "https://example.com" {
		t.Fatal("expected CreateSession to copy seeds")
	}

	if err := store.UpdateSessionStatus(ctx, sess.ID, crawler.SessionFinished, ""); err != nil {
		t.Fatalf("UpdateSessionStatus() error = %v", err)
	}
	final, err := store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if final.Status != crawler.SessionFinished || final.Finished == nil {
		t.Fatalf("expected finished timestamp, got %+v", final)
	}

	if err := store.UpdateSessionStatus(ctx, "missing", crawler.SessionFailed, "x"); !errors.Is(err, crawler.ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := store.GetSession(ctx, "missing"); !errors.Is(err, crawler.ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSessionStoreListOrdersByCreation(t *testing.T) {
	t.Parallel()

	store := NewSessionStore()
	ctx := context.Background()
	for i, id := range []string{"c", "a", "b"} {
		if err := store.CreateSession(ctx, crawler.Session{ID: id, Created: time.Unix(int64(i), 0)}); err != nil {
			t.Fatalf("CreateSession(%s) error = %v", id, err)
		}
	}
	list, err := store.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	got := []string{list[0].ID, list[1].ID, list[2].ID}
	if got[0] != "c" || got[1] != "a" || got[2] != "b" {
		t.Fatalf("unexpected order %v", got)
	}
}
