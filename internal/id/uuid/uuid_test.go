package uuid

import (
	"strings"
	"testing"

	goUUID "github.com/google/uuid"
)

func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	id2, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	if id1 == id2 {
		t.Fatalf("expected unique IDs, got %s and %s", id1, id2)
	}
	parsed, err := goUUID.Parse(id1)
	if err != nil {
		t.Fatalf("id1 not valid UUID: %v", err)
	}
	if parsed.Version() != 7 {
		t.Fatalf("expected version 7, got %d", parsed.Version())
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	got, err := Normalize("0190F3A2-7B1C-7D3E-8F00-000000000001")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if got != strings.ToLower("0190F3A2-7B1C-7D3E-8F00-000000000001") {
		t.Fatalf("unexpected canonical form %s", got)
	}
	if _, err := Normalize("not-a-uuid"); err == nil {
		t.Fatal("expected error for malformed id")
	}
}
