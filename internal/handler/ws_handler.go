package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/prepdesk/prepdesk-backend/internal/engine"
	"github.com/prepdesk/prepdesk-backend/internal/middleware"
	"github.com/prepdesk/prepdesk-backend/internal/service"
	ws "github.com/prepdesk/prepdesk-backend/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins slice permits all origins (development mode).
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

// WSHandler streams a live mock test session over WebSocket.
type WSHandler struct {
	sessionService *service.SessionService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessionService *service.SessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/student/mock-test/stream
// Real-time answer/navigate/submit channel for the active session.
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	studentID := claims.StudentID

	// The session must exist before streaming; the stream never creates one.
	ctrl, err := h.sessionService.Current(c.Request.Context(), studentID)
	if err != nil || ctrl.Status() != engine.StatusActive {
		c.JSON(http.StatusConflict, gin.H{"error": "no active session"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().Int("student_id", studentID).Logger()
	wsLog.Info().Msg("Student connected")

	for {
		var msg ws.RequestPayload
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		switch msg.Action {
		case ws.ActionAnswer:
			h.handleAnswer(conn, ctrl, &msg)
		case ws.ActionNavigate:
			h.handleNavigate(conn, ctrl, &msg)
		case ws.ActionState:
			ws.WriteTyped(conn, ws.StateResponse{Event: ws.EventState, State: ctrl.State()})
		case ws.ActionSubmit:
			if h.handleSubmit(conn, wsLog, studentID) {
				return
			}
		case ws.ActionExit:
			h.handleExit(conn, wsLog, studentID)
			return
		case ws.ActionPing:
			ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			ws.WriteError(conn, "unknown action: "+string(msg.Action))
		}
	}
}

func (h *WSHandler) handleAnswer(conn *websocket.Conn, ctrl *engine.Controller, msg *ws.RequestPayload) {
	if msg.Answer == "" {
		ws.WriteError(conn, "answer is required")
		return
	}
	if err := ctrl.SelectAnswer(msg.Answer); err != nil {
		ws.WriteError(conn, "answer rejected: "+err.Error())
		return
	}
	ws.WriteTyped(conn, ws.SuccessResponse{Event: ws.EventSuccess, Status: "saved"})
}

func (h *WSHandler) handleNavigate(conn *websocket.Conn, ctrl *engine.Controller, msg *ws.RequestPayload) {
	if err := ctrl.Navigate(msg.Index); err != nil {
		ws.WriteError(conn, "navigate rejected: "+err.Error())
		return
	}
	ws.WriteTyped(conn, ws.StateResponse{Event: ws.EventState, State: ctrl.State()})
}

// handleSubmit runs the terminal transition. Returns true when the
// session completed and the stream should close; on a persistence
// failure the session stays active and the client may retry in-stream.
func (h *WSHandler) handleSubmit(conn *websocket.Conn, wsLog zerolog.Logger, studentID int) bool {
	sess, err := h.sessionService.Submit(context.Background(), studentID)
	if err != nil {
		var pe *engine.PersistenceError
		if errors.As(err, &pe) {
			wsLog.Error().Err(err).Msg("Terminal write failed")
			ws.WriteError(conn, "submission not saved, please retry")
			return false
		}
		wsLog.Error().Err(err).Msg("Submit rejected")
		ws.WriteError(conn, "submit rejected")
		return false
	}

	wsLog.Info().Float64("accuracy", sess.Result.Accuracy).Msg("Session submitted")
	ws.WriteTyped(conn, ws.CompletedResponse{Event: ws.EventCompleted, Session: *sess})
	return true
}

func (h *WSHandler) handleExit(conn *websocket.Conn, wsLog zerolog.Logger, studentID int) {
	if err := h.sessionService.Exit(context.Background(), studentID); err != nil {
		wsLog.Warn().Err(err).Msg("Exit flush failed")
	}
	ws.WriteTyped(conn, ws.SuccessResponse{Event: ws.EventSuccess, Status: "paused"})
}
