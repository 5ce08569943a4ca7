package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/prepdesk/prepdesk-backend/internal/model"
)

// ResumeActive reconstructs the student's in-progress session from the
// durable record. Remaining time is always recomputed as
// timeLimit − (now − startedAt); the cached countdown value is never
// trusted, so time keeps draining while the process is away.
//
// Returns ErrNoActiveSession when there is nothing to resume and
// ErrSessionUnrecoverable when the stored progress is corrupt — the
// caller falls back to the instructions screen in both cases. A session
// that expired while the process was gone runs the submit path with the
// last persisted answers and comes back already Completed.
func ResumeActive(ctx context.Context, deps Deps, studentID int) (*Controller, error) {
	sess, err := deps.Store.FindActive(ctx, studentID)
	if err != nil {
		return nil, err
	}

	questions, err := deps.Store.LoadQuestions(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: load questions: %v", ErrSessionUnrecoverable, err)
	}
	if len(questions) == 0 || len(questions) != sess.TotalQuestions {
		return nil, ErrSessionUnrecoverable
	}

	snap, err := latestSnapshot(ctx, deps, sess.ID)
	if err != nil {
		return nil, err
	}
	if !snapshotValid(snap, len(questions)) {
		return nil, ErrSessionUnrecoverable
	}

	c := NewController(deps, studentID)
	c.sess = sess
	c.questions = questions
	c.cursor = snap.CurrentQuestionIndex
	c.answers = snap.Answers
	if c.answers == nil {
		c.answers = make(map[int]string, len(questions))
	}
	c.seq = snap.Seq
	c.fence = uuid.New().String()
	c.status = StatusActive

	elapsed := int(deps.now().Sub(sess.StartedAt).Seconds())
	remaining := sess.TimeLimitSeconds - elapsed

	if remaining <= 0 {
		// Expired in absentia: submit what was persisted instead of
		// resuming a dead session.
		c.remaining = 0
		if err := c.Timeout(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}

	// Taking over the session invalidates any earlier device's fence, so
	// stale autosaves from a forgotten tab are rejected from here on.
	if err := deps.Cache.InstallFence(ctx, sess.ID, c.fence); err != nil {
		c.log.Warn().Err(err).Msg("Fence install failed on resume")
	}

	c.mu.Lock()
	c.remaining = remaining
	c.startClockLocked()
	c.mu.Unlock()

	c.log.Info().
		Str("session_id", sess.ID.String()).
		Int("remaining_s", remaining).
		Int("answered", len(c.answers)).
		Msg("Session resumed")

	return c, nil
}

// latestSnapshot prefers the cached snapshot when it is newer than the
// durable one. Cache errors degrade silently to the durable copy; a
// durable read failure makes the session unrecoverable.
func latestSnapshot(ctx context.Context, deps Deps, sessionID uuid.UUID) (model.Snapshot, error) {
	durable, err := deps.Store.LoadProgress(ctx, sessionID)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("%w: load progress: %v", ErrSessionUnrecoverable, err)
	}

	cached, ok, err := deps.Cache.Load(ctx, sessionID)
	if err == nil && ok && cached.Seq > durable.Seq {
		return cached, nil
	}
	return durable, nil
}

func snapshotValid(snap model.Snapshot, questionCount int) bool {
	if snap.CurrentQuestionIndex < 0 || snap.CurrentQuestionIndex >= questionCount {
		return false
	}
	for idx := range snap.Answers {
		if idx < 0 || idx >= questionCount {
			return false
		}
	}
	return true
}
