package store

import (
	"context"
	"encoding/json"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/prepdeck/prepdeck-backend/internal/config"
)

func newTestBuffer(t *testing.T) (*RedisAnswerBuffer, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisAnswerBuffer(client), mr
}

func TestRecordWritesHashAndQueue(t *testing.T) {
	buf, mr := newTestBuffer(t)
	ctx := context.Background()

	attemptID := uuid.New()
	questionID := uuid.New()

	if err := buf.Record(ctx, attemptID, questionID, "Paris"); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	hashKey := config.CacheKey.AttemptAnswersKey(attemptID.String())
	if got := mr.HGet(hashKey, questionID.String()); got != "Paris" {
		t.Fatalf("expected hash value Paris, got %q", got)
	}

	items, err := mr.List(config.WorkerKey.PersistAnswersQueue)
	if err != nil || len(items) != 1 {
		t.Fatalf("expected 1 queued item, got %d (err=%v)", len(items), err)
	}

	var payload struct {
		AttemptID  string `json:"attempt_id"`
		QuestionID string `json:"question_id"`
		Option     string `json:"option"`
	}
	if err := json.Unmarshal([]byte(items[0]), &payload); err != nil {
		t.Fatalf("unmarshal queued payload: %v", err)
	}
	if payload.AttemptID != attemptID.String() || payload.QuestionID != questionID.String() || payload.Option != "Paris" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestRecordLastWriteWins(t *testing.T) {
	buf, _ := newTestBuffer(t)
	ctx := context.Background()

	attemptID := uuid.New()
	questionID := uuid.New()

	if err := buf.Record(ctx, attemptID, questionID, "first"); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := buf.Record(ctx, attemptID, questionID, "second"); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	val, ok, err := buf.Get(ctx, attemptID, questionID)
	if err != nil || !ok {
		t.Fatalf("get failed: ok=%t err=%v", ok, err)
	}
	if val != "second" {
		t.Fatalf("expected second write to win, got %q", val)
	}
}

func TestSnapshotReturnsAllAnswers(t *testing.T) {
	buf, _ := newTestBuffer(t)
	ctx := context.Background()

	attemptID := uuid.New()
	q1, q2 := uuid.New(), uuid.New()

	buf.Record(ctx, attemptID, q1, "A")
	buf.Record(ctx, attemptID, q2, "B")

	snap, err := buf.Snapshot(ctx, attemptID)
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if len(snap) != 2 || snap[q1.String()] != "A" || snap[q2.String()] != "B" {
		t.Fatalf("unexpected snapshot: %v", snap)
	}
}

func TestRestoreFillsHashWithoutQueueing(t *testing.T) {
	buf, mr := newTestBuffer(t)
	ctx := context.Background()

	attemptID := uuid.New()
	q1 := uuid.New()

	err := buf.Restore(ctx, attemptID, map[string]string{q1.String(): "restored"})
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	val, ok, err := buf.Get(ctx, attemptID, q1)
	if err != nil || !ok || val != "restored" {
		t.Fatalf("expected restored value, got %q ok=%t err=%v", val, ok, err)
	}

	// Restore must not re-enqueue persistence; the data came from Postgres.
	if mr.Exists(config.WorkerKey.PersistAnswersQueue) {
		t.Fatal("restore queued payloads")
	}
}

func TestClearRemovesBuffer(t *testing.T) {
	buf, mr := newTestBuffer(t)
	ctx := context.Background()

	attemptID := uuid.New()
	buf.Record(ctx, attemptID, uuid.New(), "A")

	if err := buf.Clear(ctx, attemptID); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if mr.Exists(config.CacheKey.AttemptAnswersKey(attemptID.String())) {
		t.Fatal("expected hash to be removed")
	}
}
