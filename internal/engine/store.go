package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prepdesk/prepdesk-backend/internal/model"
)

// QuestionSource supplies an ordered, fixed-size question set for a new
// session. The set is treated as immutable once assigned.
type QuestionSource interface {
	FetchQuestions(ctx context.Context, count int) ([]model.Question, error)
}

// SessionStore is the durable record store: one session row per attempt
// plus one assignment row per question.
type SessionStore interface {
	// CreateSession inserts the session row and its per-question assignment
	// rows in one transaction.
	CreateSession(ctx context.Context, sess *model.Session, questions []model.Question) error

	// SaveProgress writes the full progress snapshot — cursor plus the whole
	// answer map, never a delta — updating the session record and the
	// assignment rows in place.
	SaveProgress(ctx context.Context, sessionID uuid.UUID, snap model.Snapshot) error

	// CompleteSession performs the terminal write. The update is guarded on
	// the stored status still being in_progress; a session already completed
	// by another writer reports ErrInvalidTransition.
	CompleteSession(ctx context.Context, sessionID uuid.UUID, completedAt time.Time, timeSpentSeconds int, res *model.Result) error

	// FindActive returns the student's in-progress session, or
	// ErrNoActiveSession.
	FindActive(ctx context.Context, studentID int) (*model.Session, error)

	// LoadQuestions returns the assigned questions in question order.
	LoadQuestions(ctx context.Context, sessionID uuid.UUID) ([]model.Question, error)

	// LoadProgress returns the last durably saved snapshot. A session that
	// was never autosaved yields a zero snapshot, not an error.
	LoadProgress(ctx context.Context, sessionID uuid.UUID) (model.Snapshot, error)
}

// SnapshotCache is the hot snapshot side-channel (Redis in production).
// Enqueue must never block the caller: autosave latency or failure cannot
// be allowed to stall the countdown tick loop.
type SnapshotCache interface {
	// InstallFence registers the fence token of the device that owns the
	// session from now on. Snapshots carrying any other fence are rejected.
	InstallFence(ctx context.Context, sessionID uuid.UUID, fence string) error

	// Enqueue schedules a fire-and-forget snapshot write.
	Enqueue(sessionID uuid.UUID, snap model.Snapshot)

	// Load returns the latest cached snapshot, or false if none exists.
	Load(ctx context.Context, sessionID uuid.UUID) (model.Snapshot, bool, error)

	// Clear drops the cached snapshot after the terminal write succeeds.
	Clear(ctx context.Context, sessionID uuid.UUID) error
}

// Deps bundles the collaborators a Controller needs. Now and TickInterval
// exist so tests can run the engine headlessly against a fake clock.
type Deps struct {
	Store  SessionStore
	Cache  SnapshotCache
	Source QuestionSource
	Log    zerolog.Logger

	// Now defaults to time.Now.
	Now func() time.Time

	// TickInterval defaults to one second.
	TickInterval time.Duration
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Deps) tickInterval() time.Duration {
	if d.TickInterval > 0 {
		return d.TickInterval
	}
	return time.Second
}
