// Package store provides the answer buffer: the durable working copy of a
// user's answers while an attempt is open. Every Record must complete
// before the client is acked, so a crash or reload between answering and
// navigating never silently drops an answer. The buffer is a hint for
// resuming the UI; the Postgres record is authoritative once a submission
// exists.
package store

import (
	"context"

	"github.com/google/uuid"
)

// AnswerBuffer captures per-question answer selections for open attempts.
type AnswerBuffer interface {
	// Record stores the selected option for a question. The last write for
	// a given question wins.
	Record(ctx context.Context, attemptID, questionID uuid.UUID, option string) error

	// Get returns the buffered option for a question, if any.
	Get(ctx context.Context, attemptID, questionID uuid.UUID) (string, bool, error)

	// Snapshot returns the full questionID -> option mapping.
	Snapshot(ctx context.Context, attemptID uuid.UUID) (map[string]string, error)

	// Restore seeds the buffer from a previously persisted mapping. Used on
	// session resume when the buffer was lost (eviction, failover).
	Restore(ctx context.Context, attemptID uuid.UUID, answers map[string]string) error

	// Clear drops the buffer after a successful submission so stale entries
	// can never bleed into a later attempt.
	Clear(ctx context.Context, attemptID uuid.UUID) error
}
