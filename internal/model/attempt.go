package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates quiz attempt states. Transitions only move
// forward: CREATED -> IN_PROGRESS -> SUBMITTED.
type AttemptStatus string

const (
	AttemptStatusCreated    AttemptStatus = "CREATED"
	AttemptStatusInProgress AttemptStatus = "IN_PROGRESS"
	AttemptStatusSubmitted  AttemptStatus = "SUBMITTED"
)

// QuizAttempt represents one user's quiz attempt on a topic.
// StartedAt and SubmittedAt are each written exactly once, by the
// CREATED->IN_PROGRESS and IN_PROGRESS->SUBMITTED transitions.
type QuizAttempt struct {
	ID                  uuid.UUID     `json:"id"`
	UserID              int           `json:"user_id"`
	TopicID             uuid.UUID     `json:"topic_id"`
	TimeAllottedSeconds int           `json:"time_allotted_seconds"`
	Status              AttemptStatus `json:"status"`
	StartedAt           *time.Time    `json:"started_at,omitempty"`
	SubmittedAt         *time.Time    `json:"submitted_at,omitempty"`
	CorrectCount        *int          `json:"correct_count,omitempty"`
	TotalCount          *int          `json:"total_count,omitempty"`
	Percentage          *int          `json:"percentage,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
}

// TimeAllotted returns the fixed attempt budget as a duration.
func (a *QuizAttempt) TimeAllotted() time.Duration {
	return time.Duration(a.TimeAllottedSeconds) * time.Second
}

// AnswerRequest is the payload for recording a single answer.
type AnswerRequest struct {
	QuestionID uuid.UUID `json:"question_id" binding:"required"`
	Option     string    `json:"option" binding:"required,max=500"`
}
