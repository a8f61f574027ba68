package model

import "github.com/google/uuid"

// Subject is a top-level catalog entry (e.g. "DSA", "Aptitude").
type Subject struct {
	ID   int    `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// Topic is a quizzable unit inside a subject section. Each topic owns a
// question pool and the time budget for one quiz attempt on it.
type Topic struct {
	ID                  uuid.UUID `json:"id"`
	SubjectID           int       `json:"subject_id"`
	Section             string    `json:"section"`
	Slug                string    `json:"slug"`
	Name                string    `json:"name"`
	TimeAllottedSeconds int       `json:"time_allotted_seconds"`
	QuestionCount       int       `json:"question_count"`
}
