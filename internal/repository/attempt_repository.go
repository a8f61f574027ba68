package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prepdeck/prepdeck-backend/internal/model"
	"github.com/prepdeck/prepdeck-backend/internal/quiz"
)

const attemptColumns = `id, user_id, topic_id, time_allotted_seconds, status,
	started_at, submitted_at, correct_count, total_count, percentage, created_at`

// AttemptRepository handles quiz attempt data access. The two lifecycle
// transitions are conditional UPDATEs so the database is the single point
// of mutual exclusion: only the first caller to flip the status performs
// side effects, any concurrent caller observes zero rows.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

func scanAttempt(row pgx.Row) (*model.QuizAttempt, error) {
	a := &model.QuizAttempt{}
	err := row.Scan(&a.ID, &a.UserID, &a.TopicID, &a.TimeAllottedSeconds, &a.Status,
		&a.StartedAt, &a.SubmittedAt, &a.CorrectCount, &a.TotalCount, &a.Percentage, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetByID retrieves an attempt by its UUID.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.QuizAttempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM quiz_attempts WHERE id = $1`, id))
}

// GetOpen retrieves the user's unsubmitted attempt on a topic, if any.
func (r *AttemptRepository) GetOpen(ctx context.Context, userID int, topicID uuid.UUID) (*model.QuizAttempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM quiz_attempts
		 WHERE user_id = $1 AND topic_id = $2 AND status <> 'SUBMITTED'`, userID, topicID))
}

// CreateOrFetch returns the user's open attempt on the topic, creating one
// in CREATED with a frozen question snapshot when none exists. Idempotent
// under concurrent calls via the partial unique index on open attempts.
func (r *AttemptRepository) CreateOrFetch(ctx context.Context, userID int, topic *model.Topic, questionIDs []uuid.UUID) (*model.QuizAttempt, error) {
	existing, err := r.GetOpen(ctx, userID, topic.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check open attempt: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	a := &model.QuizAttempt{
		UserID:              userID,
		TopicID:             topic.ID,
		TimeAllottedSeconds: topic.TimeAllottedSeconds,
		Status:              model.AttemptStatusCreated,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO quiz_attempts (user_id, topic_id, time_allotted_seconds, status)
		 VALUES ($1, $2, $3, 'CREATED')
		 ON CONFLICT (user_id, topic_id) WHERE status <> 'SUBMITTED' DO NOTHING
		 RETURNING id, created_at`,
		userID, topic.ID, topic.TimeAllottedSeconds,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Concurrent creation detected; fetch the winner's attempt.
			existing, fetchErr := r.GetOpen(ctx, userID, topic.ID)
			if fetchErr != nil {
				return nil, fmt.Errorf("concurrent create detected, but fetch failed: %w", fetchErr)
			}
			return existing, nil
		}
		return nil, fmt.Errorf("insert attempt: %w", err)
	}

	// Freeze the question set. The snapshot never changes after issuance;
	// scoring correctness depends on it.
	rows := make([][]interface{}, len(questionIDs))
	for i, qid := range questionIDs {
		rows[i] = []interface{}{a.ID, qid, i}
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"attempt_questions"},
		[]string{"attempt_id", "question_id", "order_num"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return nil, fmt.Errorf("snapshot questions: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return a, nil
}

// Start performs the CREATED->IN_PROGRESS transition and returns the
// server-issued start timestamp. ok=false means the attempt was not in
// CREATED and nothing changed.
func (r *AttemptRepository) Start(ctx context.Context, id uuid.UUID) (time.Time, bool, error) {
	var startedAt time.Time
	err := r.pool.QueryRow(ctx,
		`UPDATE quiz_attempts
		 SET status = 'IN_PROGRESS', started_at = NOW()
		 WHERE id = $1 AND status = 'CREATED'
		 RETURNING started_at`, id,
	).Scan(&startedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("start attempt: %w", err)
	}
	return startedAt, true, nil
}

// Submit performs the IN_PROGRESS->SUBMITTED transition, stores the result
// and freezes the answer set, all in one transaction. ok=false means
// another submitter (manual or expiry) won the race and nothing changed.
func (r *AttemptRepository) Submit(ctx context.Context, id uuid.UUID, res quiz.Result, answers map[string]string) (time.Time, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var submittedAt time.Time
	err = tx.QueryRow(ctx,
		`UPDATE quiz_attempts
		 SET status = 'SUBMITTED', submitted_at = NOW(),
		     correct_count = $2, total_count = $3, percentage = $4
		 WHERE id = $1 AND status = 'IN_PROGRESS'
		 RETURNING submitted_at`,
		id, res.CorrectCount, res.TotalCount, res.Percentage,
	).Scan(&submittedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("submit attempt: %w", err)
	}

	if len(answers) > 0 {
		qids := make([]uuid.UUID, 0, len(answers))
		options := make([]string, 0, len(answers))
		for qid, option := range answers {
			parsed, err := uuid.Parse(qid)
			if err != nil {
				return time.Time{}, false, fmt.Errorf("invalid question id %q: %w", qid, err)
			}
			qids = append(qids, parsed)
			options = append(options, option)
		}

		// Bulk UPSERT via UNNEST; the autosave worker may already have
		// persisted some of these rows.
		_, err = tx.Exec(ctx,
			`INSERT INTO attempt_answers (attempt_id, question_id, selected_option)
			 SELECT $1, u.question_id, u.selected_option
			 FROM UNNEST($2::uuid[], $3::text[]) AS u (question_id, selected_option)
			 ON CONFLICT (attempt_id, question_id) DO UPDATE
			 SET selected_option = EXCLUDED.selected_option, updated_at = NOW()`,
			id, qids, options,
		)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("freeze answers: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return time.Time{}, false, fmt.Errorf("commit: %w", err)
	}
	return submittedAt, true, nil
}

// ListQuestions returns the attempt's frozen question set in snapshot
// order, including answer keys. Callers sanitize before sending to an open
// attempt.
func (r *AttemptRepository) ListQuestions(ctx context.Context, attemptID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT q.id, q.topic_id, q.title, q.options, q.correct_option, q.difficulty, aq.order_num
		 FROM attempt_questions aq
		 JOIN questions q ON q.id = aq.question_id
		 WHERE aq.attempt_id = $1
		 ORDER BY aq.order_num`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.TopicID, &q.Title, &q.Options, &q.CorrectOption, &q.Difficulty, &q.OrderNum); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// ListAnswers returns the persisted answer record for an attempt.
func (r *AttemptRepository) ListAnswers(ctx context.Context, attemptID uuid.UUID) (map[string]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT question_id, selected_option FROM attempt_answers WHERE attempt_id = $1`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	answers := make(map[string]string)
	for rows.Next() {
		var qid uuid.UUID
		var option string
		if err := rows.Scan(&qid, &option); err != nil {
			return nil, err
		}
		answers[qid.String()] = option
	}
	return answers, rows.Err()
}

// ListInProgress returns all attempts currently IN_PROGRESS, used to
// rebuild expiry timers on boot.
func (r *AttemptRepository) ListInProgress(ctx context.Context) ([]model.QuizAttempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+attemptColumns+` FROM quiz_attempts WHERE status = 'IN_PROGRESS'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []model.QuizAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *a)
	}
	return attempts, rows.Err()
}

// ListExpired returns ids of IN_PROGRESS attempts whose time budget has
// run out, the sweep backstop for timers lost to a restart.
func (r *AttemptRepository) ListExpired(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM quiz_attempts
		 WHERE status = 'IN_PROGRESS'
		   AND started_at + make_interval(secs => time_allotted_seconds) <= NOW()`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
