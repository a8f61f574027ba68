package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type fakeLister struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (f *fakeLister) ListExpired(context.Context) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.ids
	f.ids = nil
	return out, nil
}

type fakeSubmitter struct {
	mu        sync.Mutex
	submitted []uuid.UUID
}

func (f *fakeSubmitter) AutoSubmitExpired(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, id)
	return nil
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

func TestSweeperSubmitsExpiredAttempts(t *testing.T) {
	expired := []uuid.UUID{uuid.New(), uuid.New()}
	lister := &fakeLister{ids: expired}
	submitter := &fakeSubmitter{}

	w := NewExpirySweeper(lister, submitter, 10*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go w.Start(ctx)

	deadline := time.After(time.Second)
	for submitter.count() < len(expired) {
		select {
		case <-deadline:
			cancel()
			t.Fatalf("expected %d submissions, got %d", len(expired), submitter.count())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	submitter.mu.Lock()
	defer submitter.mu.Unlock()
	seen := map[uuid.UUID]bool{}
	for _, id := range submitter.submitted {
		seen[id] = true
	}
	for _, id := range expired {
		if !seen[id] {
			t.Fatalf("attempt %s was never auto-submitted", id)
		}
	}
}
