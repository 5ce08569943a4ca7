package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/prepdesk/prepdesk-backend/internal/engine"
	"github.com/prepdesk/prepdesk-backend/internal/middleware"
	"github.com/prepdesk/prepdesk-backend/internal/model"
	"github.com/prepdesk/prepdesk-backend/internal/response"
	"github.com/prepdesk/prepdesk-backend/internal/service"
	"github.com/prepdesk/prepdesk-backend/internal/validator"
)

// SessionHandler handles the student-facing mock test endpoints.
type SessionHandler struct {
	sessionService *service.SessionService
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessionService *service.SessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

// questionView is a question as served to the client: no correct answer.
type questionView struct {
	ID           uuid.UUID          `json:"id"`
	QuestionText string             `json:"question_text"`
	QuestionType model.QuestionType `json:"question_type"`
	Options      json.RawMessage    `json:"options,omitempty"`
	Topic        string             `json:"topic"`
	Difficulty   string             `json:"difficulty"`
}

func sanitize(questions []model.Question) []questionView {
	views := make([]questionView, len(questions))
	for i, q := range questions {
		views[i] = questionView{
			ID:           q.ID,
			QuestionText: q.QuestionText,
			QuestionType: q.QuestionType,
			Options:      q.Options,
			Topic:        q.Topic,
			Difficulty:   q.Difficulty,
		}
	}
	return views
}

// AnswerRequest is the payload for answering the current question.
type AnswerRequest struct {
	Answer string `json:"answer" binding:"required,max=2000"`
}

// NavigateRequest is the payload for moving the question cursor.
type NavigateRequest struct {
	Index *int `json:"index" binding:"required,min=0"`
}

// Start godoc
// POST /api/v1/student/mock-test/start
// Starts a new attempt, or rejoins the in-progress one (idempotent).
func (h *SessionHandler) Start(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	ctrl, resumed, err := h.sessionService.Start(c.Request.Context(), claims.StudentID)
	if err != nil {
		failFromEngine(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"resumed":   resumed,
		"state":     ctrl.State(),
		"questions": sanitize(ctrl.Questions()),
	})
}

// Current godoc
// GET /api/v1/student/mock-test/current
// Returns the live session state — the page-reload contract. Remaining
// time comes from wall-clock recomputation, never a cached counter.
func (h *SessionHandler) Current(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	ctrl, err := h.sessionService.Current(c.Request.Context(), claims.StudentID)
	if err != nil {
		failFromEngine(c, err)
		return
	}

	body := gin.H{"state": ctrl.State()}
	if ctrl.Status() == engine.StatusActive {
		body["questions"] = sanitize(ctrl.Questions())
	} else if sess := ctrl.Session(); sess != nil {
		// Expired in absentia and auto-submitted during resume.
		body["session"] = sess
	}
	response.Success(c, http.StatusOK, body)
}

// Answer godoc
// POST /api/v1/student/mock-test/answer
func (h *SessionHandler) Answer(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req AnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	ctrl, err := h.sessionService.Current(c.Request.Context(), claims.StudentID)
	if err != nil {
		failFromEngine(c, err)
		return
	}
	if ctrl.Status() != engine.StatusActive {
		// Expired while away and auto-submitted during resume.
		response.Fail(c, http.StatusConflict, response.ErrSessionCompleted)
		return
	}

	if err := ctrl.SelectAnswer(req.Answer); err != nil {
		failFromEngine(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "saved"})
}

// Navigate godoc
// POST /api/v1/student/mock-test/navigate
func (h *SessionHandler) Navigate(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req NavigateRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	ctrl, err := h.sessionService.Current(c.Request.Context(), claims.StudentID)
	if err != nil {
		failFromEngine(c, err)
		return
	}
	if ctrl.Status() != engine.StatusActive {
		response.Fail(c, http.StatusConflict, response.ErrSessionCompleted)
		return
	}

	if err := ctrl.Navigate(*req.Index); err != nil {
		failFromEngine(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"state": ctrl.State()})
}

// Submit godoc
// POST /api/v1/student/mock-test/submit
// Runs the exactly-once terminal transition. On a persistence failure the
// session stays active and the client must retry — results are withheld
// until the terminal write durably succeeds.
func (h *SessionHandler) Submit(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sess, err := h.sessionService.Submit(c.Request.Context(), claims.StudentID)
	if err != nil {
		failFromEngine(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": sess})
}

// Exit godoc
// POST /api/v1/student/mock-test/exit
// Stops the clock and leaves the session resumable.
func (h *SessionHandler) Exit(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	if err := h.sessionService.Exit(c.Request.Context(), claims.StudentID); err != nil {
		var pe *engine.PersistenceError
		if errors.As(err, &pe) {
			// The session is already parked and resumable from the last
			// autosave; only the final flush was lost.
			response.Fail(c, http.StatusServiceUnavailable, response.ErrExitNotPersisted)
			return
		}
		failFromEngine(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "paused"})
}

// GetSession godoc
// GET /api/v1/student/sessions/:session_id
func (h *SessionHandler) GetSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	sess, err := h.sessionService.GetSession(c.Request.Context(), sessionID)
	if err != nil || sess.StudentID != claims.StudentID {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	body := gin.H{"session": sess}
	if sess.Status == model.SessionStatusCompleted {
		// Review surface: the per-question answers behind the result.
		if answers, err := h.sessionService.Answers(c.Request.Context(), sessionID); err == nil {
			body["answers"] = answers
		}
	}

	response.Success(c, http.StatusOK, body)
}

// History godoc
// GET /api/v1/student/sessions
func (h *SessionHandler) History(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessions, err := h.sessionService.History(c.Request.Context(), claims.StudentID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if sessions == nil {
		sessions = []model.Session{}
	}

	response.Success(c, http.StatusOK, gin.H{"sessions": sessions})
}

// failFromEngine maps engine errors onto API error codes.
func failFromEngine(c *gin.Context, err error) {
	var pe *engine.PersistenceError

	switch {
	case errors.Is(err, engine.ErrNoQuestionsAvailable):
		response.Fail(c, http.StatusConflict, response.ErrNoQuestions)
	case errors.Is(err, engine.ErrNoActiveSession):
		response.Fail(c, http.StatusNotFound, response.ErrNoActiveSession)
	case errors.Is(err, engine.ErrSessionUnrecoverable):
		response.Fail(c, http.StatusGone, response.ErrSessionUnrecoverable)
	case errors.Is(err, engine.ErrIndexOutOfRange):
		response.Fail(c, http.StatusBadRequest, response.ErrIndexOutOfRange)
	case errors.Is(err, engine.ErrInvalidTransition):
		response.Fail(c, http.StatusConflict, response.ErrInvalidTransition)
	case errors.As(err, &pe):
		response.Fail(c, http.StatusServiceUnavailable, response.ErrSubmitNotPersisted)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
