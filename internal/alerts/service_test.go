package alerts

import (
	"context"
	"testing"
)

func TestAppend_FillsDefaults(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.TerminateFailed(context.Background(), "acct-1", "call-1", "control plane gave up"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := repo.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Fatalf("expected id and created_at to be filled")
	}
	if e.Type != EventTypeTerminateFailed || e.CallID != "call-1" {
		t.Fatalf("unexpected event %+v", e)
	}
}

func TestAppend_RejectsMissingType(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	if err := svc.Append(context.Background(), Event{}); err != ErrInvalidEvent {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}
