// Package quiz holds the attempt lifecycle rules: the state machine, the
// time budget tracker and the scorer. It has no storage or transport
// concerns; the repository enforces the same transitions atomically in SQL
// and this package gives callers fast local validation plus the single
// definition of what each state permits.
package quiz

import (
	"time"

	"github.com/prepdeck/prepdeck-backend/internal/model"
)

// CanStart reports whether an attempt in the given status may transition to
// IN_PROGRESS.
func CanStart(status model.AttemptStatus) error {
	if status != model.AttemptStatusCreated {
		return ErrInvalidTransition
	}
	return nil
}

// CanAnswer reports whether an attempt in the given status accepts answer
// recording. The two failure modes are distinct so the UI can render
// "start the quiz first" vs "already submitted".
func CanAnswer(status model.AttemptStatus) error {
	switch status {
	case model.AttemptStatusInProgress:
		return nil
	case model.AttemptStatusCreated:
		return ErrSessionNotActive
	default:
		return ErrAlreadySubmitted
	}
}

// CanSubmit reports whether submit() may proceed. already=true means the
// attempt is terminal and the caller should return the stored result
// instead of performing the transition.
func CanSubmit(status model.AttemptStatus) (already bool, err error) {
	switch status {
	case model.AttemptStatusInProgress:
		return false, nil
	case model.AttemptStatusSubmitted:
		return true, nil
	default:
		return false, ErrSessionNotActive
	}
}

// Start applies the CREATED->IN_PROGRESS transition to an in-memory
// attempt. On failure the attempt is left untouched.
func Start(a *model.QuizAttempt, now time.Time) error {
	if err := CanStart(a.Status); err != nil {
		return err
	}
	a.Status = model.AttemptStatusInProgress
	a.StartedAt = &now
	return nil
}

// Submit applies the IN_PROGRESS->SUBMITTED transition and freezes the
// result fields. On failure the attempt is left untouched.
func Submit(a *model.QuizAttempt, res Result, now time.Time) error {
	already, err := CanSubmit(a.Status)
	if err != nil {
		return err
	}
	if already {
		return ErrAlreadySubmitted
	}
	a.Status = model.AttemptStatusSubmitted
	a.SubmittedAt = &now
	a.CorrectCount = &res.CorrectCount
	a.TotalCount = &res.TotalCount
	a.Percentage = &res.Percentage
	return nil
}
