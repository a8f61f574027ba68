package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ExpiredLister reports attempts whose time budget has run out.
type ExpiredLister interface {
	ListExpired(ctx context.Context) ([]uuid.UUID, error)
}

// AutoSubmitter closes out a single expired attempt.
type AutoSubmitter interface {
	AutoSubmitExpired(ctx context.Context, attemptID uuid.UUID) error
}

// ExpirySweeper is the backstop behind the in-process expiry timers. If
// the server restarts, or a timer is lost, the sweeper finds IN_PROGRESS
// attempts past their deadline and auto-submits them.
type ExpirySweeper struct {
	attempts ExpiredLister
	sessions AutoSubmitter
	interval time.Duration
	log      zerolog.Logger
}

// NewExpirySweeper creates a new ExpirySweeper.
func NewExpirySweeper(attempts ExpiredLister, sessions AutoSubmitter, interval time.Duration, log zerolog.Logger) *ExpirySweeper {
	return &ExpirySweeper{
		attempts: attempts,
		sessions: sessions,
		interval: interval,
		log:      log.With().Str("component", "expiry_sweeper").Logger(),
	}
}

// Start begins the sweep loop. Call in a goroutine; cancel ctx to stop.
func (w *ExpirySweeper) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("Worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *ExpirySweeper) sweep(ctx context.Context) {
	ids, err := w.attempts.ListExpired(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("List expired error")
		return
	}

	for _, id := range ids {
		if err := w.sessions.AutoSubmitExpired(ctx, id); err != nil {
			w.log.Error().Err(err).Str("attempt_id", id.String()).Msg("Auto-submit error")
			continue
		}
		w.log.Info().Str("attempt_id", id.String()).Msg("Auto-submitted expired attempt")
	}
}
