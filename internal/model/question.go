package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Difficulty enumerates question difficulty levels.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "EASY"
	DifficultyMedium Difficulty = "MEDIUM"
	DifficultyHard   Difficulty = "HARD"
)

// Question represents a single quiz question.
type Question struct {
	ID            uuid.UUID       `json:"id"`
	TopicID       uuid.UUID       `json:"topic_id"`
	Title         string          `json:"title"`
	Options       json.RawMessage `json:"options"`
	CorrectOption string          `json:"correct_option"`
	Difficulty    Difficulty      `json:"difficulty"`
	OrderNum      int             `json:"order_num"`
}

// QuestionForStudent is a question without the correct option, sent to a
// student while an attempt is still open.
type QuestionForStudent struct {
	ID         uuid.UUID       `json:"id"`
	Title      string          `json:"title"`
	Options    json.RawMessage `json:"options"`
	Difficulty Difficulty      `json:"difficulty"`
	OrderNum   int             `json:"order_num"`
	// CorrectOption is populated only once the attempt is SUBMITTED.
	CorrectOption string `json:"correct_option,omitempty"`
}

// Sanitize strips the answer key from a question.
func (q *Question) Sanitize() QuestionForStudent {
	return QuestionForStudent{
		ID:         q.ID,
		Title:      q.Title,
		Options:    q.Options,
		Difficulty: q.Difficulty,
		OrderNum:   q.OrderNum,
	}
}
