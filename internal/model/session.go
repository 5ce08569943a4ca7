package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates the durable states of a mock test session.
// An exited-but-resumable session stays IN_PROGRESS in storage; the
// paused condition exists only in the in-memory engine.
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "in_progress"
	SessionStatusCompleted  SessionStatus = "completed"
)

// Session represents one timed attempt at a fixed, pre-assigned set of
// questions. QuestionOrder and StartedAt are immutable after creation.
type Session struct {
	ID               uuid.UUID     `json:"id"`
	StudentID        int           `json:"student_id"`
	Status           SessionStatus `json:"status"`
	TotalQuestions   int           `json:"total_questions"`
	TimeLimitSeconds int           `json:"time_limit_seconds"`
	StartedAt        time.Time     `json:"started_at"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
	TimeSpentSeconds *int          `json:"time_spent_seconds,omitempty"`
	Result           *Result       `json:"result,omitempty"`
}

// Snapshot is the autosaved progress of an in-flight session: the cursor
// plus the sparse answer map, written as one atomic record. Seq increases
// monotonically per session; the store rejects writes with a stale Seq or
// a fence token other than the currently installed one.
type Snapshot struct {
	Seq                  uint64         `json:"seq"`
	Fence                string         `json:"fence"`
	CurrentQuestionIndex int            `json:"current_question_index"`
	Answers              map[int]string `json:"answers"`
}

// SnapshotEnvelope is the persistence-queue payload: a snapshot tagged
// with the session it belongs to.
type SnapshotEnvelope struct {
	SessionID uuid.UUID `json:"session_id"`
	Snapshot  Snapshot  `json:"snapshot"`
}

// SessionQuestion is the per-question assignment record: one row per
// assigned question, written at creation and updated in place as answers
// arrive.
type SessionQuestion struct {
	SessionID     uuid.UUID  `json:"session_id"`
	QuestionID    uuid.UUID  `json:"question_id"`
	QuestionOrder int        `json:"question_order"`
	StudentAnswer *string    `json:"student_answer,omitempty"`
	AnsweredAt    *time.Time `json:"answered_at,omitempty"`
}
