package quiz

import (
	"math"

	"github.com/prepdeck/prepdeck-backend/internal/model"
)

// Result is the aggregate outcome of a submitted attempt.
type Result struct {
	CorrectCount int `json:"correct_count"`
	TotalCount   int `json:"total_count"`
	Percentage   int `json:"percentage"`
}

// Score grades a frozen answer set against the attempt's questions.
// Matching is exact string equality on the stored option values; no
// trimming, no case folding. Unanswered questions count as incorrect and
// stay in the denominator. Percentage is rounded to the nearest integer.
//
// Callers must only pass the answer snapshot taken inside the submit
// transition, never a live buffer.
func Score(questions []model.Question, answers map[string]string) (Result, error) {
	total := len(questions)
	if total == 0 {
		return Result{}, ErrNoQuestions
	}

	correct := 0
	for i := range questions {
		if ans, ok := answers[questions[i].ID.String()]; ok && ans == questions[i].CorrectOption {
			correct++
		}
	}

	return Result{
		CorrectCount: correct,
		TotalCount:   total,
		Percentage:   int(math.Round(100 * float64(correct) / float64(total))),
	}, nil
}
