package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/prepdeck/prepdeck-backend/internal/config"
	"github.com/prepdeck/prepdeck-backend/internal/model"
	"github.com/prepdeck/prepdeck-backend/internal/quiz"
	"github.com/prepdeck/prepdeck-backend/internal/store"
)

// ErrTopicNotFound is returned when an attempt is requested for an unknown
// topic.
var ErrTopicNotFound = errors.New("topic not found")

// AttemptStore is the attempt persistence surface the orchestrator uses.
// *repository.AttemptRepository satisfies it; tests plug in fakes.
type AttemptStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.QuizAttempt, error)
	CreateOrFetch(ctx context.Context, userID int, topic *model.Topic, questionIDs []uuid.UUID) (*model.QuizAttempt, error)
	Start(ctx context.Context, id uuid.UUID) (time.Time, bool, error)
	Submit(ctx context.Context, id uuid.UUID, res quiz.Result, answers map[string]string) (time.Time, bool, error)
	ListQuestions(ctx context.Context, id uuid.UUID) ([]model.Question, error)
	ListAnswers(ctx context.Context, id uuid.UUID) (map[string]string, error)
	ListInProgress(ctx context.Context) ([]model.QuizAttempt, error)
}

// CatalogStore is the content surface needed to issue attempts.
type CatalogStore interface {
	GetTopicByID(ctx context.Context, id uuid.UUID) (*model.Topic, error)
	ListQuestionsByTopic(ctx context.Context, topicID uuid.UUID) ([]model.Question, error)
}

// QuizSessionService orchestrates the quiz attempt lifecycle: issuance,
// start, answer capture, submission and results. It is the only writer of
// attempt state; both the in-process countdown and the sweep worker funnel
// expiry through it. The conditional transition in the attempt store is
// the single point of mutual exclusion between a manual submit and an
// expiry-triggered one; whichever flips the status first wins, the loser
// returns the stored result.
type QuizSessionService struct {
	attempts AttemptStore
	catalog  CatalogStore
	buffer   store.AnswerBuffer
	rdb      *redis.Client
	sched    *ExpiryScheduler
	log      zerolog.Logger
}

// NewQuizSessionService creates a new QuizSessionService.
func NewQuizSessionService(
	attempts AttemptStore,
	catalog CatalogStore,
	buffer store.AnswerBuffer,
	rdb *redis.Client,
	sched *ExpiryScheduler,
	log zerolog.Logger,
) *QuizSessionService {
	return &QuizSessionService{
		attempts: attempts,
		catalog:  catalog,
		buffer:   buffer,
		rdb:      rdb,
		sched:    sched,
		log:      log.With().Str("component", "quiz_session_service").Logger(),
	}
}

// SubmissionResult is the authoritative outcome of a submitted attempt.
// Repeated submits return the same value.
type SubmissionResult struct {
	quiz.Result
	SubmittedAt time.Time `json:"submitted_at"`
}

// SessionView is everything the UI needs to render an attempt: current
// state, sanitized questions, buffered answers and the remaining budget.
type SessionView struct {
	Attempt     *model.QuizAttempt         `json:"attempt"`
	Questions   []model.QuestionForStudent `json:"questions"`
	Answers     map[string]string          `json:"answers"`
	RemainingMS int64                      `json:"remaining_ms"`
	Result      *SubmissionResult          `json:"result,omitempty"`
}

// CreateOrFetch issues an attempt on a topic, or returns the user's
// existing open attempt. The question order is shuffled once here and
// frozen for the attempt's lifetime.
func (s *QuizSessionService) CreateOrFetch(ctx context.Context, userID int, topicID uuid.UUID) (*model.QuizAttempt, error) {
	topic, err := s.catalog.GetTopicByID(ctx, topicID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTopicNotFound
		}
		return nil, fmt.Errorf("get topic: %w", err)
	}

	questions, err := s.catalog.ListQuestionsByTopic(ctx, topicID)
	if err != nil {
		return nil, fmt.Errorf("list topic questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, quiz.ErrNoQuestions
	}

	ids := make([]uuid.UUID, len(questions))
	for i := range questions {
		ids[i] = questions[i].ID
	}
	rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })

	attempt, err := s.attempts.CreateOrFetch(ctx, userID, topic, ids)
	if err != nil {
		return nil, fmt.Errorf("create attempt: %w", err)
	}
	return attempt, nil
}

// Load returns the full session view for an attempt. For a SUBMITTED
// attempt it includes the stored result and reveals correct options; for
// an open one it restores the answer buffer from Postgres if Redis lost it.
func (s *QuizSessionService) Load(ctx context.Context, attemptID uuid.UUID, userID int) (*SessionView, error) {
	a, err := s.getOwned(ctx, attemptID, userID)
	if err != nil {
		return nil, err
	}

	view := &SessionView{Attempt: a, Answers: map[string]string{}}

	if a.Status == model.AttemptStatusSubmitted {
		questions, err := s.attempts.ListQuestions(ctx, a.ID)
		if err != nil {
			return nil, fmt.Errorf("list questions: %w", err)
		}
		view.Questions = make([]model.QuestionForStudent, len(questions))
		for i := range questions {
			q := questions[i].Sanitize()
			q.CorrectOption = questions[i].CorrectOption
			view.Questions[i] = q
		}

		answers, err := s.attempts.ListAnswers(ctx, a.ID)
		if err != nil {
			return nil, fmt.Errorf("list answers: %w", err)
		}
		view.Answers = answers

		result, err := s.storedResult(a)
		if err != nil {
			return nil, err
		}
		view.Result = result
		return view, nil
	}

	view.Questions, err = s.paper(ctx, a.ID)
	if err != nil {
		return nil, err
	}

	answers, err := s.buffer.Snapshot(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: snapshot buffer: %v", quiz.ErrPersistenceUnavailable, err)
	}
	if len(answers) == 0 {
		// Buffer miss (eviction, failover): the persisted record is the
		// fallback, and the buffer is re-warmed from it.
		answers, err = s.attempts.ListAnswers(ctx, a.ID)
		if err != nil {
			return nil, fmt.Errorf("list answers: %w", err)
		}
		if len(answers) > 0 {
			if err := s.buffer.Restore(ctx, a.ID, answers); err != nil {
				s.log.Warn().Err(err).Str("attempt_id", a.ID.String()).Msg("Buffer restore failed")
			}
		}
	}
	view.Answers = answers

	switch a.Status {
	case model.AttemptStatusCreated:
		view.RemainingMS = a.TimeAllotted().Milliseconds()
	case model.AttemptStatusInProgress:
		view.RemainingMS = quiz.Remaining(s.startedAt(ctx, a), a.TimeAllotted(), time.Now()).Milliseconds()
	}
	return view, nil
}

// Start performs the CREATED->IN_PROGRESS transition with a server-issued
// start timestamp and arms the auto-submit countdown. A second start is an
// ErrInvalidTransition, never absorbed.
func (s *QuizSessionService) Start(ctx context.Context, attemptID uuid.UUID, userID int) (*model.QuizAttempt, error) {
	a, err := s.getOwned(ctx, attemptID, userID)
	if err != nil {
		return nil, err
	}
	if err := quiz.CanStart(a.Status); err != nil {
		return nil, err
	}

	startedAt, ok, err := s.attempts.Start(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: start attempt: %v", quiz.ErrPersistenceUnavailable, err)
	}
	if !ok {
		return nil, quiz.ErrInvalidTransition
	}
	if err := quiz.Start(a, startedAt); err != nil {
		return nil, err
	}

	// Cache the start timestamp for the remaining-time reads. Best effort;
	// startedAt re-warms it from the attempt row on a miss.
	startKey := config.CacheKey.AttemptStartKey(a.ID.String())
	if err := s.rdb.Set(ctx, startKey, startedAt.Unix(), 0).Err(); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", a.ID.String()).Msg("Failed to cache start time")
	}

	s.scheduleExpiry(a)

	s.log.Info().
		Str("attempt_id", a.ID.String()).
		Int("user_id", a.UserID).
		Dur("allotted", a.TimeAllotted()).
		Msg("Attempt started")
	return a, nil
}

// Answer records one answer selection. The write is durable before this
// returns, which is the ack the UI waits for before advancing.
func (s *QuizSessionService) Answer(ctx context.Context, attemptID uuid.UUID, userID int, questionID uuid.UUID, option string) error {
	a, err := s.getOwned(ctx, attemptID, userID)
	if err != nil {
		return err
	}
	if err := quiz.CanAnswer(a.Status); err != nil {
		return err
	}

	paper, err := s.paper(ctx, a.ID)
	if err != nil {
		return err
	}
	known := false
	for i := range paper {
		if paper[i].ID == questionID {
			known = true
			break
		}
	}
	if !known {
		return quiz.ErrQuestionNotInAttempt
	}

	// An answer arriving after the budget ran out finalizes the attempt
	// with whatever is buffered; expiry is a normal terminal trigger.
	if quiz.Remaining(*a.StartedAt, a.TimeAllotted(), time.Now()) <= 0 {
		if _, err := s.finalize(ctx, a); err != nil {
			return err
		}
		return quiz.ErrAlreadySubmitted
	}

	if err := s.buffer.Record(ctx, a.ID, questionID, option); err != nil {
		return fmt.Errorf("%w: record answer: %v", quiz.ErrPersistenceUnavailable, err)
	}
	return nil
}

// Submit finalizes an attempt and returns the authoritative result. On a
// SUBMITTED attempt it is a no-op returning the stored result, which makes
// user-driven retries after a persistence failure safe.
func (s *QuizSessionService) Submit(ctx context.Context, attemptID uuid.UUID, userID int) (*SubmissionResult, error) {
	a, err := s.getOwned(ctx, attemptID, userID)
	if err != nil {
		return nil, err
	}

	already, err := quiz.CanSubmit(a.Status)
	if err != nil {
		return nil, err
	}
	if already {
		return s.storedResult(a)
	}
	return s.finalize(ctx, a)
}

// Result returns the stored result of a SUBMITTED attempt.
func (s *QuizSessionService) Result(ctx context.Context, attemptID uuid.UUID, userID int) (*SubmissionResult, error) {
	a, err := s.getOwned(ctx, attemptID, userID)
	if err != nil {
		return nil, err
	}
	if a.Status != model.AttemptStatusSubmitted {
		return nil, quiz.ErrSessionNotActive
	}
	return s.storedResult(a)
}

// AutoSubmitExpired finalizes an attempt whose budget ran out. Called by
// the in-process countdown and the sweep worker; harmless when the attempt
// already reached SUBMITTED by another path.
func (s *QuizSessionService) AutoSubmitExpired(ctx context.Context, attemptID uuid.UUID) error {
	a, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return quiz.ErrAttemptNotFound
		}
		return fmt.Errorf("get attempt: %w", err)
	}
	if a.Status != model.AttemptStatusInProgress {
		return nil
	}

	// Recompute from the persisted start; if there is genuinely time left
	// (timer drift), re-arm instead of cutting the attempt short.
	left := quiz.Remaining(*a.StartedAt, a.TimeAllotted(), time.Now())
	if left > 0 {
		s.scheduleExpiry(a)
		return nil
	}

	if _, err := s.finalize(ctx, a); err != nil {
		return err
	}
	s.log.Info().Str("attempt_id", a.ID.String()).Msg("Attempt auto-submitted on expiry")
	return nil
}

// ResumeExpiryTimers re-arms countdowns for every IN_PROGRESS attempt from
// its persisted start timestamp. Called once on boot.
func (s *QuizSessionService) ResumeExpiryTimers(ctx context.Context) error {
	attempts, err := s.attempts.ListInProgress(ctx)
	if err != nil {
		return fmt.Errorf("list in-progress attempts: %w", err)
	}

	now := time.Now()
	resumed := 0
	for i := range attempts {
		a := attempts[i]
		if quiz.Remaining(*a.StartedAt, a.TimeAllotted(), now) <= 0 {
			if err := s.AutoSubmitExpired(ctx, a.ID); err != nil {
				s.log.Error().Err(err).Str("attempt_id", a.ID.String()).Msg("Expired attempt submit failed on resume")
			}
			continue
		}
		s.scheduleExpiry(&a)
		resumed++
	}

	if resumed > 0 {
		s.log.Info().Int("count", resumed).Msg("Resumed expiry timers")
	}
	return nil
}

// Shutdown disarms all in-process countdowns.
func (s *QuizSessionService) Shutdown() {
	s.sched.Shutdown()
}

// ────────────────────────────────────────────────────────────────────────────
// Internal helpers
// ────────────────────────────────────────────────────────────────────────────

func (s *QuizSessionService) getOwned(ctx context.Context, attemptID uuid.UUID, userID int) (*model.QuizAttempt, error) {
	a, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, quiz.ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	// An attempt owned by someone else is indistinguishable from a missing
	// one to prevent IDOR probing.
	if a.UserID != userID {
		return nil, quiz.ErrAttemptNotFound
	}
	return a, nil
}

func (s *QuizSessionService) scheduleExpiry(a *model.QuizAttempt) {
	id := a.ID
	left := quiz.Remaining(*a.StartedAt, a.TimeAllotted(), time.Now())
	s.sched.Schedule(id, left, func() {
		if err := s.AutoSubmitExpired(context.Background(), id); err != nil {
			s.log.Error().Err(err).Str("attempt_id", id.String()).Msg("Auto-submit failed")
		}
	})
}

// finalize performs the IN_PROGRESS->SUBMITTED transition: merge the
// buffered answers over the persisted record, score the frozen set, and
// write everything through the conditional update. If another submitter
// got there first the stored result is returned unchanged.
func (s *QuizSessionService) finalize(ctx context.Context, a *model.QuizAttempt) (*SubmissionResult, error) {
	answers, err := s.attempts.ListAnswers(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: list answers: %v", quiz.ErrPersistenceUnavailable, err)
	}
	if answers == nil {
		answers = make(map[string]string)
	}
	buffered, err := s.buffer.Snapshot(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: snapshot buffer: %v", quiz.ErrPersistenceUnavailable, err)
	}
	for qid, option := range buffered {
		answers[qid] = option
	}

	questions, err := s.attempts.ListQuestions(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	res, err := quiz.Score(questions, answers)
	if err != nil {
		return nil, err
	}

	submittedAt, ok, err := s.attempts.Submit(ctx, a.ID, res, answers)
	if err != nil {
		return nil, fmt.Errorf("%w: submit attempt: %v", quiz.ErrPersistenceUnavailable, err)
	}
	if !ok {
		// Lost the race against the other submit path. Return what the
		// winner stored.
		fresh, err := s.attempts.GetByID(ctx, a.ID)
		if err != nil {
			return nil, fmt.Errorf("get attempt after submit race: %w", err)
		}
		return s.storedResult(fresh)
	}
	if err := quiz.Submit(a, res, submittedAt); err != nil {
		return nil, err
	}

	s.sched.Cancel(a.ID)
	if err := s.buffer.Clear(ctx, a.ID); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", a.ID.String()).Msg("Buffer clear failed")
	}
	s.rdb.Del(ctx,
		config.CacheKey.AttemptStartKey(a.ID.String()),
		config.CacheKey.AttemptPaperKey(a.ID.String()),
	)

	s.log.Info().
		Str("attempt_id", a.ID.String()).
		Int("correct", res.CorrectCount).
		Int("total", res.TotalCount).
		Int("percentage", res.Percentage).
		Msg("Attempt submitted and scored")

	return &SubmissionResult{Result: res, SubmittedAt: submittedAt}, nil
}

func (s *QuizSessionService) storedResult(a *model.QuizAttempt) (*SubmissionResult, error) {
	if a.CorrectCount == nil || a.TotalCount == nil || a.Percentage == nil || a.SubmittedAt == nil {
		return nil, fmt.Errorf("attempt %s is SUBMITTED without a stored result", a.ID)
	}
	return &SubmissionResult{
		Result: quiz.Result{
			CorrectCount: *a.CorrectCount,
			TotalCount:   *a.TotalCount,
			Percentage:   *a.Percentage,
		},
		SubmittedAt: *a.SubmittedAt,
	}, nil
}

// startedAt returns an IN_PROGRESS attempt's start timestamp, served from
// Redis with the attempt row as the fallback that re-warms the cache.
func (s *QuizSessionService) startedAt(ctx context.Context, a *model.QuizAttempt) time.Time {
	key := config.CacheKey.AttemptStartKey(a.ID.String())

	cached, err := s.rdb.Get(ctx, key).Result()
	if err == nil {
		if unix, parseErr := strconv.ParseInt(cached, 10, 64); parseErr == nil {
			return time.Unix(unix, 0)
		}
		// Corrupt cache entry: fall through and rebuild from the row.
	}
	if setErr := s.rdb.Set(ctx, key, a.StartedAt.Unix(), 0).Err(); setErr != nil {
		s.log.Warn().Err(setErr).Str("attempt_id", a.ID.String()).Msg("Failed to cache start time")
	}
	return *a.StartedAt
}

// paper returns the attempt's sanitized question payload, served from
// Redis with a Postgres fallback that re-warms the cache.
func (s *QuizSessionService) paper(ctx context.Context, attemptID uuid.UUID) ([]model.QuestionForStudent, error) {
	key := config.CacheKey.AttemptPaperKey(attemptID.String())

	cached, err := s.rdb.Get(ctx, key).Result()
	if err == nil {
		var paper []model.QuestionForStudent
		if jsonErr := json.Unmarshal([]byte(cached), &paper); jsonErr == nil {
			return paper, nil
		}
		// Corrupt cache entry: fall through and rebuild from Postgres.
	} else if err != redis.Nil {
		return nil, fmt.Errorf("%w: get paper cache: %v", quiz.ErrPersistenceUnavailable, err)
	}

	questions, err := s.attempts.ListQuestions(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	paper := make([]model.QuestionForStudent, len(questions))
	for i := range questions {
		paper[i] = questions[i].Sanitize()
	}

	if payload, err := json.Marshal(paper); err == nil {
		_ = s.rdb.Set(ctx, key, payload, 0).Err()
	}
	return paper, nil
}
