package service

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prepdeck/prepdeck-backend/internal/quiz"
)

// ExpiryScheduler owns the auto-submit countdowns for open attempts. Every
// countdown is an explicit, cancellable object: created on start/resume,
// cancelled on submit and on shutdown, so no stray callback can fire after
// an attempt is terminal.
type ExpiryScheduler struct {
	mu     sync.Mutex
	timers map[uuid.UUID]*quiz.Countdown
}

// NewExpiryScheduler creates an empty ExpiryScheduler.
func NewExpiryScheduler() *ExpiryScheduler {
	return &ExpiryScheduler{timers: make(map[uuid.UUID]*quiz.Countdown)}
}

// Schedule arms (or re-arms) the countdown for an attempt. fn runs at most
// once, after d, unless Cancel wins first.
func (s *ExpiryScheduler) Schedule(attemptID uuid.UUID, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.timers[attemptID]; ok {
		old.Stop()
	}
	s.timers[attemptID] = quiz.NewCountdown(d, func() {
		s.forget(attemptID)
		fn()
	})
}

// Cancel disarms the countdown for an attempt. Returns false if there was
// nothing to cancel or the callback already ran.
func (s *ExpiryScheduler) Cancel(attemptID uuid.UUID) bool {
	s.mu.Lock()
	c, ok := s.timers[attemptID]
	delete(s.timers, attemptID)
	s.mu.Unlock()
	if !ok {
		return false
	}
	return c.Stop()
}

// Shutdown disarms every countdown. The sweep worker picks up anything
// still open after the process comes back.
func (s *ExpiryScheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.timers {
		c.Stop()
		delete(s.timers, id)
	}
}

func (s *ExpiryScheduler) forget(attemptID uuid.UUID) {
	s.mu.Lock()
	delete(s.timers, attemptID)
	s.mu.Unlock()
}
