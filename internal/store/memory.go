package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryAnswerBuffer is an in-process AnswerBuffer used by unit tests and
// single-node development without Redis.
type MemoryAnswerBuffer struct {
	mu      sync.RWMutex
	buffers map[uuid.UUID]map[string]string
}

// NewMemoryAnswerBuffer creates an empty MemoryAnswerBuffer.
func NewMemoryAnswerBuffer() *MemoryAnswerBuffer {
	return &MemoryAnswerBuffer{buffers: make(map[uuid.UUID]map[string]string)}
}

func (b *MemoryAnswerBuffer) Record(_ context.Context, attemptID, questionID uuid.UUID, option string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.buffers[attemptID]
	if !ok {
		m = make(map[string]string)
		b.buffers[attemptID] = m
	}
	m[questionID.String()] = option
	return nil
}

func (b *MemoryAnswerBuffer) Get(_ context.Context, attemptID, questionID uuid.UUID) (string, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	option, ok := b.buffers[attemptID][questionID.String()]
	return option, ok, nil
}

func (b *MemoryAnswerBuffer) Snapshot(_ context.Context, attemptID uuid.UUID) (map[string]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]string, len(b.buffers[attemptID]))
	for qid, option := range b.buffers[attemptID] {
		out[qid] = option
	}
	return out, nil
}

func (b *MemoryAnswerBuffer) Restore(_ context.Context, attemptID uuid.UUID, answers map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.buffers[attemptID]
	if !ok {
		m = make(map[string]string)
		b.buffers[attemptID] = m
	}
	for qid, option := range answers {
		m[qid] = option
	}
	return nil
}

func (b *MemoryAnswerBuffer) Clear(_ context.Context, attemptID uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.buffers, attemptID)
	return nil
}
