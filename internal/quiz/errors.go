package quiz

import "errors"

// Domain errors for the attempt lifecycle. Handlers map these onto typed
// response codes; nothing here is meant to escape as a plain 500.
var (
	// ErrInvalidTransition is returned when start() is called on an attempt
	// that is not CREATED. A second start is a client bug and is surfaced,
	// not absorbed.
	ErrInvalidTransition = errors.New("invalid attempt transition")

	// ErrSessionNotActive is returned when answer() or submit() is called on
	// an attempt that was never started.
	ErrSessionNotActive = errors.New("attempt has not been started")

	// ErrAlreadySubmitted is returned when answer() reaches a SUBMITTED
	// attempt. For submit() the same condition is a success path that
	// returns the stored result.
	ErrAlreadySubmitted = errors.New("attempt already submitted")

	// ErrAttemptNotFound covers missing attempts and attempts owned by a
	// different user.
	ErrAttemptNotFound = errors.New("attempt not found")

	// ErrQuestionNotInAttempt is returned when an answer references a
	// question outside the attempt's frozen question set.
	ErrQuestionNotInAttempt = errors.New("question does not belong to attempt")

	// ErrNoQuestions marks a zero-question attempt reaching the scorer.
	// This is a content configuration error and is never retried.
	ErrNoQuestions = errors.New("attempt has no questions")

	// ErrPersistenceUnavailable wraps storage failures on start/submit so
	// the caller knows an explicit retry is safe (submission is idempotent).
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
)
