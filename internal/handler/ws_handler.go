package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/prepdeck/prepdeck-backend/internal/middleware"
	"github.com/prepdeck/prepdeck-backend/internal/quiz"
	"github.com/prepdeck/prepdeck-backend/internal/response"
	"github.com/prepdeck/prepdeck-backend/internal/service"
	ws "github.com/prepdeck/prepdeck-backend/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler handles WebSocket attempt streaming.
type WSHandler struct {
	sessionService *service.QuizSessionService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessionService *service.QuizSessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/quiz/attempts/:attempt_id/stream
// Upgrades to WebSocket for real-time answer autosave and submission.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid attempt ID"})
		return
	}

	// Verify ownership and state before upgrading.
	view, err := h.sessionService.Load(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "attempt not found"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	userID := claims.UserID

	wsLog := h.log.With().
		Int("user_id", userID).
		Str("attempt_id", attemptID.String()).
		Logger()

	wsLog.Info().Str("status", string(view.Attempt.Status)).Msg("Client connected")

	for {
		var env ws.RequestEnvelope
		raw, err := readRaw(conn, &env)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}

		switch env.Action {
		case ws.ActionAutosave:
			h.handleAutosave(conn, attemptID, userID, raw)
		case ws.ActionSubmit:
			h.handleSubmit(conn, wsLog, attemptID, userID)
		case ws.ActionPing:
			h.handlePing(conn, attemptID, userID)
		default:
			wsLog.Warn().Str("action", string(env.Action)).Msg("Unknown action")
			ws.WriteError(conn, string(response.ErrInvalidPayload), "unknown action: "+string(env.Action))
		}
	}
}

// handleAutosave records a single answer through the session service.
func (h *WSHandler) handleAutosave(conn *websocket.Conn, attemptID uuid.UUID, userID int, raw []byte) {
	var msg ws.AutosaveRequest
	if err := decodeRaw(raw, &msg); err != nil {
		ws.WriteError(conn, string(response.ErrInvalidPayload), "malformed autosave payload")
		return
	}

	if msg.QuestionID == "" || msg.Option == "" {
		ws.WriteError(conn, string(response.ErrValidation), "question_id and option are required")
		return
	}

	questionID, err := uuid.Parse(msg.QuestionID)
	if err != nil {
		ws.WriteError(conn, string(response.ErrInvalidID), "invalid question_id format")
		return
	}

	if err := h.sessionService.Answer(context.Background(), attemptID, userID, questionID, msg.Option); err != nil {
		ws.WriteError(conn, sessionErrCode(err), err.Error())
		return
	}

	// Ack only after the buffer accepted the write.
	ws.WriteTyped(conn, ws.SavedResponse{Event: ws.EventSaved, QuestionID: msg.QuestionID})
}

// handleSubmit finalizes the attempt and reports the score.
func (h *WSHandler) handleSubmit(conn *websocket.Conn, wsLog zerolog.Logger, attemptID uuid.UUID, userID int) {
	result, err := h.sessionService.Submit(context.Background(), attemptID, userID)
	if err != nil {
		ws.WriteError(conn, sessionErrCode(err), err.Error())
		return
	}

	wsLog.Info().Int("percentage", result.Percentage).Msg("Submitted over WebSocket")

	ws.WriteTyped(conn, ws.SubmittedResponse{
		Event:        ws.EventSubmitted,
		CorrectCount: result.CorrectCount,
		TotalCount:   result.TotalCount,
		Percentage:   result.Percentage,
		SubmittedAt:  result.SubmittedAt,
	})
}

// handlePing answers keepalives with the authoritative remaining time.
func (h *WSHandler) handlePing(conn *websocket.Conn, attemptID uuid.UUID, userID int) {
	view, err := h.sessionService.Load(context.Background(), attemptID, userID)
	if err != nil {
		ws.WriteError(conn, sessionErrCode(err), err.Error())
		return
	}

	ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong, RemainingMS: view.RemainingMS})
}

// readRaw reads the next text message, peeks the action envelope, and
// returns the raw bytes for a second typed decode.
func readRaw(conn *websocket.Conn, env *ws.RequestEnvelope) ([]byte, error) {
	var raw json.RawMessage
	if err := ws.ReadJSON(conn, &raw); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, env); err != nil {
		return nil, err
	}
	return raw, nil
}

func decodeRaw(raw []byte, dst interface{}) error {
	return json.Unmarshal(raw, dst)
}

// sessionErrCode maps session errors to the same typed codes used by the
// REST surface so clients share one error vocabulary.
func sessionErrCode(err error) string {
	switch {
	case errors.Is(err, quiz.ErrAttemptNotFound):
		return string(response.ErrNotFound)
	case errors.Is(err, quiz.ErrSessionNotActive):
		return string(response.ErrSessionNotActive)
	case errors.Is(err, quiz.ErrInvalidTransition):
		return string(response.ErrInvalidTransition)
	case errors.Is(err, quiz.ErrAlreadySubmitted):
		return string(response.ErrAlreadySubmitted)
	case errors.Is(err, quiz.ErrQuestionNotInAttempt):
		return string(response.ErrQuestionNotInAttempt)
	case errors.Is(err, quiz.ErrNoQuestions):
		return string(response.ErrNoQuestions)
	case errors.Is(err, quiz.ErrPersistenceUnavailable):
		return string(response.ErrPersistenceUnavailable)
	default:
		return string(response.ErrInternal)
	}
}
