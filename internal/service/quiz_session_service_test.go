package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/prepdeck/prepdeck-backend/internal/config"
	"github.com/prepdeck/prepdeck-backend/internal/model"
	"github.com/prepdeck/prepdeck-backend/internal/quiz"
	"github.com/prepdeck/prepdeck-backend/internal/store"
)

// ─── Fakes ──────────────────────────────────────────────────────────

type fakeCatalog struct {
	topic     *model.Topic
	questions []model.Question
}

func (f *fakeCatalog) GetTopicByID(_ context.Context, id uuid.UUID) (*model.Topic, error) {
	if f.topic == nil || f.topic.ID != id {
		return nil, pgx.ErrNoRows
	}
	return f.topic, nil
}

func (f *fakeCatalog) ListQuestionsByTopic(_ context.Context, topicID uuid.UUID) ([]model.Question, error) {
	if f.topic == nil || f.topic.ID != topicID {
		return nil, nil
	}
	return f.questions, nil
}

// fakeAttempts mirrors the conditional-update semantics of the SQL store:
// transitions only succeed from the expected status, under one mutex.
type fakeAttempts struct {
	mu          sync.Mutex
	attempts    map[uuid.UUID]*model.QuizAttempt
	snapshots   map[uuid.UUID][]model.Question
	answers     map[uuid.UUID]map[string]string
	questionsBy map[uuid.UUID]model.Question
	submits     int
}

func newFakeAttempts(questions []model.Question) *fakeAttempts {
	byID := make(map[uuid.UUID]model.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	return &fakeAttempts{
		attempts:    make(map[uuid.UUID]*model.QuizAttempt),
		snapshots:   make(map[uuid.UUID][]model.Question),
		answers:     make(map[uuid.UUID]map[string]string),
		questionsBy: byID,
	}
}

func (f *fakeAttempts) GetByID(_ context.Context, id uuid.UUID) (*model.QuizAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *a
	return &copied, nil
}

func (f *fakeAttempts) CreateOrFetch(_ context.Context, userID int, topic *model.Topic, questionIDs []uuid.UUID) (*model.QuizAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.attempts {
		if a.UserID == userID && a.TopicID == topic.ID && a.Status != model.AttemptStatusSubmitted {
			copied := *a
			return &copied, nil
		}
	}

	a := &model.QuizAttempt{
		ID:                  uuid.New(),
		UserID:              userID,
		TopicID:             topic.ID,
		TimeAllottedSeconds: topic.TimeAllottedSeconds,
		Status:              model.AttemptStatusCreated,
		CreatedAt:           time.Now(),
	}
	f.attempts[a.ID] = a

	snapshot := make([]model.Question, 0, len(questionIDs))
	for i, qid := range questionIDs {
		q := f.questionsBy[qid]
		q.OrderNum = i
		snapshot = append(snapshot, q)
	}
	f.snapshots[a.ID] = snapshot

	copied := *a
	return &copied, nil
}

func (f *fakeAttempts) Start(_ context.Context, id uuid.UUID) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[id]
	if !ok || a.Status != model.AttemptStatusCreated {
		return time.Time{}, false, nil
	}
	now := time.Now()
	a.Status = model.AttemptStatusInProgress
	a.StartedAt = &now
	return now, true, nil
}

func (f *fakeAttempts) Submit(_ context.Context, id uuid.UUID, res quiz.Result, answers map[string]string) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[id]
	if !ok || a.Status != model.AttemptStatusInProgress {
		return time.Time{}, false, nil
	}
	now := time.Now()
	a.Status = model.AttemptStatusSubmitted
	a.SubmittedAt = &now
	a.CorrectCount = &res.CorrectCount
	a.TotalCount = &res.TotalCount
	a.Percentage = &res.Percentage

	frozen := make(map[string]string, len(answers))
	for k, v := range answers {
		frozen[k] = v
	}
	f.answers[id] = frozen
	f.submits++
	return now, true, nil
}

func (f *fakeAttempts) ListQuestions(_ context.Context, id uuid.UUID) ([]model.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshots[id], nil
}

func (f *fakeAttempts) ListAnswers(_ context.Context, id uuid.UUID) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.answers[id]))
	for k, v := range f.answers[id] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeAttempts) ListInProgress(_ context.Context) ([]model.QuizAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.QuizAttempt
	for _, a := range f.attempts {
		if a.Status == model.AttemptStatusInProgress {
			out = append(out, *a)
		}
	}
	return out, nil
}

// rewindStart moves the persisted start timestamp back, simulating an
// attempt whose budget already ran out.
func (f *fakeAttempts) rewindStart(id uuid.UUID, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	moved := f.attempts[id].StartedAt.Add(-d)
	f.attempts[id].StartedAt = &moved
}

// ─── Harness ────────────────────────────────────────────────────────

type harness struct {
	svc      *QuizSessionService
	attempts *fakeAttempts
	catalog  *fakeCatalog
	topicID  uuid.UUID
	mr       *miniredis.Miniredis
}

func newHarness(t *testing.T, allottedSeconds int) *harness {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	topicID := uuid.New()
	questions := []model.Question{
		{ID: uuid.New(), TopicID: topicID, Title: "Q1", Options: json.RawMessage(`["A","B"]`), CorrectOption: "A"},
		{ID: uuid.New(), TopicID: topicID, Title: "Q2", Options: json.RawMessage(`["A","B"]`), CorrectOption: "B"},
		{ID: uuid.New(), TopicID: topicID, Title: "Q3", Options: json.RawMessage(`["A","B"]`), CorrectOption: "A"},
	}

	catalog := &fakeCatalog{
		topic: &model.Topic{
			ID:                  topicID,
			SubjectID:           1,
			Section:             "Basics",
			Slug:                "test-topic",
			Name:                "Test Topic",
			TimeAllottedSeconds: allottedSeconds,
			QuestionCount:       len(questions),
		},
		questions: questions,
	}
	attempts := newFakeAttempts(questions)
	sched := NewExpiryScheduler()
	t.Cleanup(sched.Shutdown)

	svc := NewQuizSessionService(attempts, catalog, store.NewMemoryAnswerBuffer(), rdb, sched, zerolog.Nop())
	return &harness{svc: svc, attempts: attempts, catalog: catalog, topicID: topicID, mr: mr}
}

func (h *harness) questionID(i int) uuid.UUID { return h.catalog.questions[i].ID }

// ─── Tests ──────────────────────────────────────────────────────────

const testUser = 7

func TestFullAttemptFlow(t *testing.T) {
	h := newHarness(t, 600)
	ctx := context.Background()

	a, err := h.svc.CreateOrFetch(ctx, testUser, h.topicID)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if a.Status != model.AttemptStatusCreated {
		t.Fatalf("expected CREATED, got %s", a.Status)
	}

	// Issuance is idempotent while the attempt is open.
	again, err := h.svc.CreateOrFetch(ctx, testUser, h.topicID)
	if err != nil || again.ID != a.ID {
		t.Fatalf("expected same open attempt, got %v err=%v", again, err)
	}

	started, err := h.svc.Start(ctx, a.ID, testUser)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if started.Status != model.AttemptStatusInProgress || started.StartedAt == nil {
		t.Fatalf("start did not transition: %+v", started)
	}

	// Answer two of three, revising one.
	if err := h.svc.Answer(ctx, a.ID, testUser, h.questionID(0), "B"); err != nil {
		t.Fatalf("answer failed: %v", err)
	}
	if err := h.svc.Answer(ctx, a.ID, testUser, h.questionID(0), "A"); err != nil {
		t.Fatalf("revise failed: %v", err)
	}
	if err := h.svc.Answer(ctx, a.ID, testUser, h.questionID(1), "B"); err != nil {
		t.Fatalf("answer failed: %v", err)
	}

	res, err := h.svc.Submit(ctx, a.ID, testUser)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if res.CorrectCount != 2 || res.TotalCount != 3 || res.Percentage != 67 {
		t.Fatalf("expected 2/3 = 67%%, got %+v", res.Result)
	}

	// The result endpoint agrees with the submit response.
	stored, err := h.svc.Result(ctx, a.ID, testUser)
	if err != nil {
		t.Fatalf("result failed: %v", err)
	}
	if stored.Result != res.Result {
		t.Fatalf("stored result %+v != submit result %+v", stored.Result, res.Result)
	}
}

func TestSubmitIsIdempotent(t *testing.T) {
	h := newHarness(t, 600)
	ctx := context.Background()

	a, _ := h.svc.CreateOrFetch(ctx, testUser, h.topicID)
	h.svc.Start(ctx, a.ID, testUser)
	h.svc.Answer(ctx, a.ID, testUser, h.questionID(0), "A")

	first, err := h.svc.Submit(ctx, a.ID, testUser)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	second, err := h.svc.Submit(ctx, a.ID, testUser)
	if err != nil {
		t.Fatalf("repeat submit failed: %v", err)
	}
	if first.Result != second.Result {
		t.Fatalf("repeat submit changed the result: %+v vs %+v", first.Result, second.Result)
	}
	if h.attempts.submits != 1 {
		t.Fatalf("expected exactly 1 stored submission, got %d", h.attempts.submits)
	}
}

func TestManualSubmitRacesExpirySingleWinner(t *testing.T) {
	h := newHarness(t, 600)
	ctx := context.Background()

	a, _ := h.svc.CreateOrFetch(ctx, testUser, h.topicID)
	h.svc.Start(ctx, a.ID, testUser)
	h.svc.Answer(ctx, a.ID, testUser, h.questionID(0), "A")
	h.attempts.rewindStart(a.ID, time.Hour)

	var wg sync.WaitGroup
	errs := make([]error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = h.svc.Submit(ctx, a.ID, testUser)
	}()
	go func() {
		defer wg.Done()
		errs[1] = h.svc.AutoSubmitExpired(ctx, a.ID)
	}()
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("path %d failed: %v", i, err)
		}
	}
	if h.attempts.submits != 1 {
		t.Fatalf("expected exactly 1 winning transition, got %d", h.attempts.submits)
	}

	final, err := h.svc.Result(ctx, a.ID, testUser)
	if err != nil {
		t.Fatalf("result failed: %v", err)
	}
	if final.CorrectCount != 1 || final.TotalCount != 3 {
		t.Fatalf("expected 1/3 from buffered answers, got %+v", final.Result)
	}
}

func TestAnswerBeforeStartRejected(t *testing.T) {
	h := newHarness(t, 600)
	ctx := context.Background()

	a, _ := h.svc.CreateOrFetch(ctx, testUser, h.topicID)

	err := h.svc.Answer(ctx, a.ID, testUser, h.questionID(0), "A")
	if !errors.Is(err, quiz.ErrSessionNotActive) {
		t.Fatalf("expected ErrSessionNotActive, got %v", err)
	}
}

func TestStartTwiceRejected(t *testing.T) {
	h := newHarness(t, 600)
	ctx := context.Background()

	a, _ := h.svc.CreateOrFetch(ctx, testUser, h.topicID)
	if _, err := h.svc.Start(ctx, a.ID, testUser); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	if _, err := h.svc.Start(ctx, a.ID, testUser); !errors.Is(err, quiz.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestAnswerUnknownQuestionRejected(t *testing.T) {
	h := newHarness(t, 600)
	ctx := context.Background()

	a, _ := h.svc.CreateOrFetch(ctx, testUser, h.topicID)
	h.svc.Start(ctx, a.ID, testUser)

	err := h.svc.Answer(ctx, a.ID, testUser, uuid.New(), "A")
	if !errors.Is(err, quiz.ErrQuestionNotInAttempt) {
		t.Fatalf("expected ErrQuestionNotInAttempt, got %v", err)
	}
}

func TestAnswerAfterExpiryFinalizes(t *testing.T) {
	h := newHarness(t, 600)
	ctx := context.Background()

	a, _ := h.svc.CreateOrFetch(ctx, testUser, h.topicID)
	h.svc.Start(ctx, a.ID, testUser)
	h.svc.Answer(ctx, a.ID, testUser, h.questionID(0), "A")
	h.attempts.rewindStart(a.ID, time.Hour)

	err := h.svc.Answer(ctx, a.ID, testUser, h.questionID(1), "B")
	if !errors.Is(err, quiz.ErrAlreadySubmitted) {
		t.Fatalf("expected ErrAlreadySubmitted, got %v", err)
	}

	// The late answer must not be part of the scored record.
	res, err := h.svc.Result(ctx, a.ID, testUser)
	if err != nil {
		t.Fatalf("result failed: %v", err)
	}
	if res.CorrectCount != 1 {
		t.Fatalf("expected only the in-budget answer scored, got %+v", res.Result)
	}
}

func TestAttemptOwnershipEnforced(t *testing.T) {
	h := newHarness(t, 600)
	ctx := context.Background()

	a, _ := h.svc.CreateOrFetch(ctx, testUser, h.topicID)

	if _, err := h.svc.Load(ctx, a.ID, testUser+1); !errors.Is(err, quiz.ErrAttemptNotFound) {
		t.Fatalf("expected ErrAttemptNotFound for foreign user, got %v", err)
	}
}

func TestLoadRestoresBufferFromRecord(t *testing.T) {
	h := newHarness(t, 600)
	ctx := context.Background()

	a, _ := h.svc.CreateOrFetch(ctx, testUser, h.topicID)
	h.svc.Start(ctx, a.ID, testUser)

	// Simulate a persisted record with an empty buffer (Redis flush).
	h.attempts.mu.Lock()
	h.attempts.answers[a.ID] = map[string]string{h.questionID(0).String(): "A"}
	h.attempts.mu.Unlock()

	view, err := h.svc.Load(ctx, a.ID, testUser)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if view.Answers[h.questionID(0).String()] != "A" {
		t.Fatalf("expected answers restored from record, got %v", view.Answers)
	}
	if view.RemainingMS <= 0 || view.RemainingMS > 600_000 {
		t.Fatalf("unexpected remaining budget: %d", view.RemainingMS)
	}
	for _, q := range view.Questions {
		if q.CorrectOption != "" {
			t.Fatalf("open attempt leaked the answer key: %+v", q)
		}
	}
}

func TestLoadReadsCachedStartTime(t *testing.T) {
	h := newHarness(t, 600)
	ctx := context.Background()

	a, _ := h.svc.CreateOrFetch(ctx, testUser, h.topicID)
	if _, err := h.svc.Start(ctx, a.ID, testUser); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// Rewind only the cached start; the attempt row still says "just now".
	// The reported budget must follow the cache.
	cachedStart := time.Now().Add(-90 * time.Second)
	key := config.CacheKey.AttemptStartKey(a.ID.String())
	h.mr.Set(key, strconv.FormatInt(cachedStart.Unix(), 10))

	view, err := h.svc.Load(ctx, a.ID, testUser)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if view.RemainingMS > 515_000 || view.RemainingMS < 505_000 {
		t.Fatalf("expected roughly 510s left per the cached start, got %dms", view.RemainingMS)
	}
}

func TestLoadRewarmsStartCacheOnMiss(t *testing.T) {
	h := newHarness(t, 600)
	ctx := context.Background()

	a, _ := h.svc.CreateOrFetch(ctx, testUser, h.topicID)
	if _, err := h.svc.Start(ctx, a.ID, testUser); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	key := config.CacheKey.AttemptStartKey(a.ID.String())
	h.mr.Del(key)

	view, err := h.svc.Load(ctx, a.ID, testUser)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if view.RemainingMS <= 0 || view.RemainingMS > 600_000 {
		t.Fatalf("unexpected remaining budget: %d", view.RemainingMS)
	}

	cached, err := h.mr.Get(key)
	if err != nil {
		t.Fatalf("start cache was not re-warmed: %v", err)
	}
	h.attempts.mu.Lock()
	rowStart := h.attempts.attempts[a.ID].StartedAt.Unix()
	h.attempts.mu.Unlock()
	if cached != strconv.FormatInt(rowStart, 10) {
		t.Fatalf("re-warmed cache holds %q, row says %d", cached, rowStart)
	}
}

func TestLoadSubmittedRevealsCorrectOptions(t *testing.T) {
	h := newHarness(t, 600)
	ctx := context.Background()

	a, _ := h.svc.CreateOrFetch(ctx, testUser, h.topicID)
	h.svc.Start(ctx, a.ID, testUser)
	h.svc.Answer(ctx, a.ID, testUser, h.questionID(0), "A")
	if _, err := h.svc.Submit(ctx, a.ID, testUser); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	view, err := h.svc.Load(ctx, a.ID, testUser)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if view.Result == nil {
		t.Fatal("expected stored result on submitted view")
	}
	for _, q := range view.Questions {
		if q.CorrectOption == "" {
			t.Fatalf("submitted view must reveal correct options: %+v", q)
		}
	}
	if view.RemainingMS != 0 {
		t.Fatalf("submitted attempt has no budget, got %d", view.RemainingMS)
	}
}

func TestResumeExpiryTimersSubmitsOverdue(t *testing.T) {
	h := newHarness(t, 600)
	ctx := context.Background()

	a, _ := h.svc.CreateOrFetch(ctx, testUser, h.topicID)
	h.svc.Start(ctx, a.ID, testUser)
	h.svc.Answer(ctx, a.ID, testUser, h.questionID(0), "A")
	h.attempts.rewindStart(a.ID, time.Hour)

	if err := h.svc.ResumeExpiryTimers(ctx); err != nil {
		t.Fatalf("resume failed: %v", err)
	}

	fresh, err := h.attempts.GetByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if fresh.Status != model.AttemptStatusSubmitted {
		t.Fatalf("expected overdue attempt submitted on resume, got %s", fresh.Status)
	}
}

func TestCreateOrFetchUnknownTopic(t *testing.T) {
	h := newHarness(t, 600)

	_, err := h.svc.CreateOrFetch(context.Background(), testUser, uuid.New())
	if !errors.Is(err, ErrTopicNotFound) {
		t.Fatalf("expected ErrTopicNotFound, got %v", err)
	}
}
