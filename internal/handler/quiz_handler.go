package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prepdeck/prepdeck-backend/internal/middleware"
	"github.com/prepdeck/prepdeck-backend/internal/model"
	"github.com/prepdeck/prepdeck-backend/internal/quiz"
	"github.com/prepdeck/prepdeck-backend/internal/response"
	"github.com/prepdeck/prepdeck-backend/internal/service"
	"github.com/prepdeck/prepdeck-backend/internal/validator"
)

// QuizHandler handles the attempt lifecycle endpoints.
type QuizHandler struct {
	sessionService *service.QuizSessionService
}

// NewQuizHandler creates a new QuizHandler.
func NewQuizHandler(sessionService *service.QuizSessionService) *QuizHandler {
	return &QuizHandler{sessionService: sessionService}
}

// CreateAttempt godoc
// POST /api/v1/quiz/topics/:topic_id/attempts
// Issues a new attempt for the topic, or returns the caller's open one.
func (h *QuizHandler) CreateAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	topicID, err := uuid.Parse(c.Param("topic_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	attempt, err := h.sessionService.CreateOrFetch(c.Request.Context(), claims.UserID, topicID)
	if err != nil {
		if errors.Is(err, service.ErrTopicNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		failSession(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"attempt": attempt})
}

// GetAttempt godoc
// GET /api/v1/quiz/attempts/:attempt_id
// Returns the full session view: attempt, paper, saved answers, remaining time.
func (h *QuizHandler) GetAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	view, err := h.sessionService.Load(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		failSession(c, err)
		return
	}

	response.Success(c, http.StatusOK, view)
}

// StartAttempt godoc
// POST /api/v1/quiz/attempts/:attempt_id/start
// Starts the countdown. Valid only from CREATED.
func (h *QuizHandler) StartAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	attempt, err := h.sessionService.Start(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		failSession(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}

// SaveAnswer godoc
// PUT /api/v1/quiz/attempts/:attempt_id/answers
// Records a single answer. Last write wins for revisited questions.
func (h *QuizHandler) SaveAnswer(c *gin.Context) {
	claims := middleware.GetClaims(c)
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.AnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.sessionService.Answer(c.Request.Context(), attemptID, claims.UserID, req.QuestionID, req.Option); err != nil {
		failSession(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "saved"})
}

// SubmitAttempt godoc
// POST /api/v1/quiz/attempts/:attempt_id/submit
// Finalizes and scores the attempt. Repeat calls return the stored result.
func (h *QuizHandler) SubmitAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	result, err := h.sessionService.Submit(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		failSession(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"result": result})
}

// GetResult godoc
// GET /api/v1/quiz/attempts/:attempt_id/result
// Returns the stored result of a SUBMITTED attempt.
func (h *QuizHandler) GetResult(c *gin.Context) {
	claims := middleware.GetClaims(c)
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	result, err := h.sessionService.Result(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		if errors.Is(err, quiz.ErrSessionNotActive) {
			response.Fail(c, http.StatusConflict, response.ErrResultNotReady)
			return
		}
		failSession(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"result": result})
}

// failSession maps session errors to the envelope's typed codes.
func failSession(c *gin.Context, err error) {
	switch {
	case errors.Is(err, quiz.ErrAttemptNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, quiz.ErrSessionNotActive):
		response.Fail(c, http.StatusConflict, response.ErrSessionNotActive)
	case errors.Is(err, quiz.ErrInvalidTransition):
		response.Fail(c, http.StatusConflict, response.ErrInvalidTransition)
	case errors.Is(err, quiz.ErrAlreadySubmitted):
		response.Fail(c, http.StatusConflict, response.ErrAlreadySubmitted)
	case errors.Is(err, quiz.ErrQuestionNotInAttempt):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrQuestionNotInAttempt)
	case errors.Is(err, quiz.ErrNoQuestions):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrNoQuestions)
	case errors.Is(err, quiz.ErrPersistenceUnavailable):
		response.Fail(c, http.StatusServiceUnavailable, response.ErrPersistenceUnavailable)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
