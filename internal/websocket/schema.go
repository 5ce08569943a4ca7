package websocket

import (
	"github.com/prepdesk/prepdesk-backend/internal/engine"
	"github.com/prepdesk/prepdesk-backend/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer   Action = "answer"
	ActionNavigate Action = "navigate"
	ActionState    Action = "state"
	ActionSubmit   Action = "submit"
	ActionExit     Action = "exit"
	ActionPing     Action = "ping"
)

// RequestPayload carries any client action; unused fields stay zero.
type RequestPayload struct {
	Action Action `json:"action"`
	Answer string `json:"answer,omitempty"`
	Index  int    `json:"index,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError     Event = "error"
	EventSuccess   Event = "success"
	EventState     Event = "state"
	EventCompleted Event = "completed"
	EventPong      Event = "pong"
)

type SuccessResponse struct {
	Event  Event  `json:"event"`
	Status string `json:"status"`
}

type StateResponse struct {
	Event Event        `json:"event"`
	State engine.State `json:"state"`
}

type CompletedResponse struct {
	Event   Event         `json:"event"`
	Session model.Session `json:"session"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
