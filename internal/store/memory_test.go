package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestMemoryBufferRoundTrip(t *testing.T) {
	buf := NewMemoryAnswerBuffer()
	ctx := context.Background()

	attemptID := uuid.New()
	q1, q2 := uuid.New(), uuid.New()

	if err := buf.Record(ctx, attemptID, q1, "A"); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := buf.Record(ctx, attemptID, q1, "B"); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := buf.Record(ctx, attemptID, q2, "C"); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	val, ok, _ := buf.Get(ctx, attemptID, q1)
	if !ok || val != "B" {
		t.Fatalf("expected last write B, got %q ok=%t", val, ok)
	}

	snap, _ := buf.Snapshot(ctx, attemptID)
	if len(snap) != 2 {
		t.Fatalf("expected 2 answers, got %d", len(snap))
	}

	if err := buf.Clear(ctx, attemptID); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	snap, _ = buf.Snapshot(ctx, attemptID)
	if len(snap) != 0 {
		t.Fatalf("expected empty snapshot after clear, got %v", snap)
	}
}

func TestMemoryBufferIsolatesAttempts(t *testing.T) {
	buf := NewMemoryAnswerBuffer()
	ctx := context.Background()

	a1, a2 := uuid.New(), uuid.New()
	q := uuid.New()

	buf.Record(ctx, a1, q, "one")
	buf.Record(ctx, a2, q, "two")

	v1, _, _ := buf.Get(ctx, a1, q)
	v2, _, _ := buf.Get(ctx, a2, q)
	if v1 != "one" || v2 != "two" {
		t.Fatalf("attempt buffers leaked: %q %q", v1, v2)
	}
}
