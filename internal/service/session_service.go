package service

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/prepdesk/prepdesk-backend/internal/config"
	"github.com/prepdesk/prepdesk-backend/internal/engine"
	"github.com/prepdesk/prepdesk-backend/internal/model"
)

// SessionRecords is the durable store surface the service needs: the
// engine's contract plus the history and review reads the delivery layer
// serves directly.
type SessionRecords interface {
	engine.SessionStore

	GetByID(ctx context.Context, sessionID uuid.UUID) (*model.Session, error)
	ListByStudent(ctx context.Context, studentID int) ([]model.Session, error)
	ListAssignments(ctx context.Context, sessionID uuid.UUID) ([]model.SessionQuestion, error)
}

// SessionService owns the registry of live session controllers — at most
// one per student — and orchestrates start, resume and teardown around
// the engine. The session record is owned exclusively by its controller
// while Active; nothing else writes answers, cursor or status.
type SessionService struct {
	cfg      *config.Config
	deps     engine.Deps
	sessions SessionRecords
	rdb      *redis.Client
	log      zerolog.Logger

	mu     sync.Mutex
	active map[int]*engine.Controller

	// resumes collapses concurrent resume attempts for the same student
	// into one flight, so two racing requests can never each spin up a
	// controller (and a clock) for the same stored session.
	resumes singleflight.Group
}

// NewSessionService creates a new SessionService.
func NewSessionService(
	cfg *config.Config,
	sessions SessionRecords,
	cache engine.SnapshotCache,
	source engine.QuestionSource,
	rdb *redis.Client,
	log zerolog.Logger,
) *SessionService {
	return &SessionService{
		cfg:      cfg,
		deps:     engine.Deps{Store: sessions, Cache: cache, Source: source, Log: log},
		sessions: sessions,
		rdb:      rdb,
		log:      log.With().Str("component", "session_service").Logger(),
		active:   make(map[int]*engine.Controller),
	}
}

// Current returns the student's live controller, resuming from storage if
// this process has none. A session that expired while away comes back
// already Completed and is not registered. Returns engine.ErrNoActiveSession
// when there is nothing to resume.
func (s *SessionService) Current(ctx context.Context, studentID int) (*engine.Controller, error) {
	if ctrl, ok := s.lookup(studentID); ok {
		return ctrl, nil
	}

	v, err, _ := s.resumes.Do(strconv.Itoa(studentID), func() (interface{}, error) {
		// Re-check under the flight: a racing request may have registered
		// a controller between our miss and this flight starting.
		if ctrl, ok := s.lookup(studentID); ok {
			return ctrl, nil
		}

		ctrl, err := engine.ResumeActive(ctx, s.deps, studentID)
		if err != nil {
			return nil, err
		}
		if ctrl.Status() == engine.StatusActive {
			s.register(studentID, ctrl)
		}
		return ctrl, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*engine.Controller), nil
}

// Start begins a new attempt, or hands back the resumable one if the
// student already has an in-progress session (idempotent rejoin). The
// second return value reports whether an existing session was resumed.
func (s *SessionService) Start(ctx context.Context, studentID int) (*engine.Controller, bool, error) {
	ctrl, err := s.Current(ctx, studentID)
	switch {
	case err == nil:
		if ctrl.Status() == engine.StatusActive {
			return ctrl, true, nil
		}
		// Last session just auto-completed on resume; fall through to a
		// fresh attempt.
	case errors.Is(err, engine.ErrNoActiveSession):
		// Nothing to resume.
	case errors.Is(err, engine.ErrSessionUnrecoverable):
		s.log.Warn().Int("student_id", studentID).Msg("Discarding unrecoverable session")
	default:
		return nil, false, err
	}

	ctrl = engine.NewController(s.deps, studentID)
	if err := ctrl.Start(ctx, s.cfg.MockTestQuestionCount, s.cfg.MockTestTimeLimit); err != nil {
		return nil, false, err
	}

	s.register(studentID, ctrl)
	return ctrl, false, nil
}

// Submit runs the terminal transition for the student's live session.
// A persistence failure leaves the session Active and retryable.
func (s *SessionService) Submit(ctx context.Context, studentID int) (*model.Session, error) {
	ctrl, err := s.Current(ctx, studentID)
	if err != nil {
		return nil, err
	}

	if err := ctrl.Submit(ctx); err != nil {
		if errors.Is(err, engine.ErrInvalidTransition) && ctrl.Status() == engine.StatusCompleted {
			// Already completed (timeout beat the student to it) — converge.
			s.deregister(studentID)
			return ctrl.Session(), nil
		}
		return nil, err
	}

	s.deregister(studentID)
	return ctrl.Session(), nil
}

// Exit stops the clock and parks the session resumable in storage.
func (s *SessionService) Exit(ctx context.Context, studentID int) error {
	ctrl, err := s.Current(ctx, studentID)
	if err != nil {
		return err
	}
	// The controller is parked either way; storage stays in_progress.
	defer s.deregister(studentID)
	return ctrl.Exit(ctx)
}

// GetSession retrieves a session record, including the embedded result
// for completed attempts.
func (s *SessionService) GetSession(ctx context.Context, sessionID uuid.UUID) (*model.Session, error) {
	return s.sessions.GetByID(ctx, sessionID)
}

// History returns the student's attempt history, newest first.
func (s *SessionService) History(ctx context.Context, studentID int) ([]model.Session, error) {
	return s.sessions.ListByStudent(ctx, studentID)
}

// Answers returns a session's per-question assignment records in question
// order — the review surface for a finished attempt.
func (s *SessionService) Answers(ctx context.Context, sessionID uuid.UUID) ([]model.SessionQuestion, error) {
	return s.sessions.ListAssignments(ctx, sessionID)
}

// lookup returns the student's registered controller if it is still live.
// Controllers that left Active are evicted on sight.
func (s *SessionService) lookup(studentID int) (*engine.Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctrl, ok := s.active[studentID]
	if !ok {
		return nil, false
	}
	if ctrl.Status() != engine.StatusActive {
		delete(s.active, studentID)
		return nil, false
	}
	return ctrl, true
}

func (s *SessionService) register(studentID int, ctrl *engine.Controller) {
	s.mu.Lock()
	prev := s.active[studentID]
	s.active[studentID] = ctrl
	s.mu.Unlock()

	// A displaced controller must never keep a live clock: the session
	// record is owned exclusively by its current controller.
	if prev != nil && prev != ctrl {
		prev.Detach()
	}

	if sess := ctrl.Session(); sess != nil {
		key := config.CacheKey.StudentActiveSessionKey(studentID)
		if err := s.rdb.Set(context.Background(), key, sess.ID.String(), 0).Err(); err != nil {
			s.log.Debug().Err(err).Msg("Active-session marker set failed")
		}
	}
}

func (s *SessionService) deregister(studentID int) {
	s.mu.Lock()
	delete(s.active, studentID)
	s.mu.Unlock()

	key := config.CacheKey.StudentActiveSessionKey(studentID)
	if err := s.rdb.Del(context.Background(), key).Err(); err != nil {
		s.log.Debug().Err(err).Msg("Active-session marker del failed")
	}
}
