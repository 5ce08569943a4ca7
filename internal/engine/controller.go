package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prepdesk/prepdesk-backend/internal/model"
)

// Status enumerates the in-memory states of a session controller.
// StatusPaused names the exited-but-resumable condition: storage still
// says in_progress, but no clock is running.
type Status int

const (
	StatusInstructions Status = iota
	StatusActive
	StatusPaused
	StatusCompleted
)

func (s Status) String() string {
	switch s {
	case StatusInstructions:
		return "instructions"
	case StatusActive:
		return "active"
	case StatusPaused:
		return "paused"
	case StatusCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Controller owns the state machine of one mock test attempt. All
// operations — user calls, clock ticks, the resume path — serialize on one
// mutex, so the engine never processes two events for the same session
// concurrently.
type Controller struct {
	mu   sync.Mutex
	deps Deps
	log  zerolog.Logger

	studentID int
	sess      *model.Session
	questions []model.Question

	status    Status
	cursor    int
	answers   map[int]string
	remaining int
	seq       uint64
	fence     string
	ticks     uint64

	clock *clock
}

// NewController creates a controller in the Instructions state.
func NewController(deps Deps, studentID int) *Controller {
	return &Controller{
		deps:      deps,
		log:       deps.Log.With().Str("component", "session_controller").Int("student_id", studentID).Logger(),
		studentID: studentID,
		status:    StatusInstructions,
		answers:   make(map[int]string),
	}
}

// Start fetches the question set, creates the durable session record and
// begins the countdown. Valid only from Instructions. If the Question
// Source returns an undersized set, no session row is created and
// ErrNoQuestionsAvailable is returned.
func (c *Controller) Start(ctx context.Context, questionCount int, timeLimit time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusInstructions {
		return ErrInvalidTransition
	}

	questions, err := c.deps.Source.FetchQuestions(ctx, questionCount)
	if err != nil {
		return fmt.Errorf("fetch questions: %w", err)
	}
	if len(questions) < questionCount {
		return ErrNoQuestionsAvailable
	}
	questions = questions[:questionCount]

	now := c.deps.now()
	sess := &model.Session{
		ID:               uuid.New(),
		StudentID:        c.studentID,
		Status:           model.SessionStatusInProgress,
		TotalQuestions:   len(questions),
		TimeLimitSeconds: int(timeLimit / time.Second),
		StartedAt:        now,
	}

	if err := c.deps.Store.CreateSession(ctx, sess, questions); err != nil {
		return &PersistenceError{Op: "create session", Err: err}
	}

	c.sess = sess
	c.questions = questions
	c.cursor = 0
	c.answers = make(map[int]string, len(questions))
	c.remaining = sess.TimeLimitSeconds
	c.seq = 0
	c.ticks = 0
	c.fence = uuid.New().String()

	if err := c.deps.Cache.InstallFence(ctx, sess.ID, c.fence); err != nil {
		// Autosaves degrade to best-effort without a fence; the durable
		// record is unaffected.
		c.log.Warn().Err(err).Msg("Fence install failed")
	}

	c.status = StatusActive
	c.startClockLocked()

	c.log.Info().
		Str("session_id", sess.ID.String()).
		Int("questions", len(questions)).
		Int("time_limit_s", sess.TimeLimitSeconds).
		Msg("Session started")

	return nil
}

// SelectAnswer records the answer for the current question. It neither
// advances the cursor nor reveals correctness; re-answering simply
// overwrites the prior value.
func (c *Controller) SelectAnswer(answer string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusActive {
		return ErrInvalidTransition
	}

	c.answers[c.cursor] = answer
	return nil
}

// Navigate moves the cursor to any in-range index — free navigation,
// answered and skipped questions alike.
func (c *Controller) Navigate(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusActive {
		return ErrInvalidTransition
	}
	if index < 0 || index >= len(c.questions) {
		return ErrIndexOutOfRange
	}

	c.cursor = index
	return nil
}

// Submit runs the terminal transition manually. A PersistenceError leaves
// the session Active; the caller may retry safely.
func (c *Controller) Submit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminalLocked(ctx, false)
}

// Timeout runs the terminal transition for an expired session. The clock
// invokes it when the countdown reaches zero; the resume path invokes it
// for sessions that expired while the process was away.
func (c *Controller) Timeout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminalLocked(ctx, true)
}

// Exit stops the clock, forces one final durable progress write and parks
// the controller in Paused. The stored status remains in_progress so the
// session is resumable. The write error, if any, is reported after the
// transition: the clock is already cancelled and the session can still be
// resumed from the last successful autosave.
func (c *Controller) Exit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusActive {
		return ErrInvalidTransition
	}

	c.stopClockLocked()
	c.status = StatusPaused

	snap := c.snapshotLocked()
	if err := c.deps.Store.SaveProgress(ctx, c.sess.ID, snap); err != nil {
		c.log.Warn().Err(err).Msg("Final progress write on exit failed")
		return &PersistenceError{Op: "exit flush", Err: err}
	}

	c.log.Info().Str("session_id", c.sess.ID.String()).Msg("Session exited")
	return nil
}

// terminalLocked is the single exactly-once terminal routine shared by
// Submit, Timeout and the clock. Caller holds c.mu. The in-memory status
// flips to Completed only after both writes durably succeed, so a retry
// cannot double-count.
func (c *Controller) terminalLocked(ctx context.Context, timedOut bool) error {
	if c.status != StatusActive {
		return ErrInvalidTransition
	}

	// (1) Flush the full answer map, not a delta, so a previously failed
	// partial autosave cannot leave holes.
	snap := c.snapshotLocked()
	if err := c.deps.Store.SaveProgress(ctx, c.sess.ID, snap); err != nil {
		return &PersistenceError{Op: "flush answers", Err: err}
	}

	now := c.deps.now()
	elapsed := int(now.Sub(c.sess.StartedAt) / time.Second)
	if timedOut && elapsed > c.sess.TimeLimitSeconds {
		elapsed = c.sess.TimeLimitSeconds
	}

	// (2) Pure scoring pass.
	res := Score(c.questions, c.answers, elapsed)

	// (3) Terminal write, guarded in the store on status still being
	// in_progress.
	if err := c.deps.Store.CompleteSession(ctx, c.sess.ID, now, elapsed, res); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			// Another writer completed this session first. Converge on the
			// stored outcome rather than overwriting it.
			c.stopClockLocked()
			c.status = StatusCompleted
			return ErrInvalidTransition
		}
		return &PersistenceError{Op: "terminal write", Err: err}
	}

	// (4), (5) Stop the clock and flip in-memory state.
	c.stopClockLocked()
	c.status = StatusCompleted
	c.sess.Status = model.SessionStatusCompleted
	c.sess.CompletedAt = &now
	c.sess.TimeSpentSeconds = &elapsed
	c.sess.Result = res

	if err := c.deps.Cache.Clear(context.Background(), c.sess.ID); err != nil {
		c.log.Debug().Err(err).Msg("Snapshot cache clear failed")
	}

	c.log.Info().
		Str("session_id", c.sess.ID.String()).
		Bool("timed_out", timedOut).
		Float64("accuracy", res.Accuracy).
		Int("correct", res.CorrectCount).
		Msg("Session completed")

	return nil
}

// Detach stops the countdown and parks the controller without any storage
// write. Used when another controller takes over the same stored session:
// the record stays in_progress, the new owner's fence supersedes this one,
// and this controller must not keep a live clock. No-op unless Active.
func (c *Controller) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusActive {
		return
	}
	c.stopClockLocked()
	c.status = StatusPaused
	c.log.Info().Str("session_id", c.sess.ID.String()).Msg("Controller detached")
}

// stopClockLocked cancels the countdown if one is running. Idempotent;
// a resumed-expired session never started one.
func (c *Controller) stopClockLocked() {
	if c.clock != nil {
		c.clock.stop()
	}
}

// snapshotLocked builds the next autosave snapshot with a fresh sequence
// number and a defensive copy of the answer map. Caller holds c.mu.
func (c *Controller) snapshotLocked() model.Snapshot {
	c.seq++
	answers := make(map[int]string, len(c.answers))
	for k, v := range c.answers {
		answers[k] = v
	}
	return model.Snapshot{
		Seq:                  c.seq,
		Fence:                c.fence,
		CurrentQuestionIndex: c.cursor,
		Answers:              answers,
	}
}

// ─── Read-side accessors ────────────────────────────────────────────

// State is a point-in-time view of the controller for the delivery layer.
type State struct {
	SessionID            uuid.UUID      `json:"session_id"`
	Status               string         `json:"status"`
	CurrentQuestionIndex int            `json:"current_question_index"`
	Answers              map[int]string `json:"answers"`
	RemainingSeconds     int            `json:"remaining_seconds"`
	TotalQuestions       int            `json:"total_questions"`
}

// State returns a copy of the observable session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	answers := make(map[int]string, len(c.answers))
	for k, v := range c.answers {
		answers[k] = v
	}

	st := State{
		Status:               c.status.String(),
		CurrentQuestionIndex: c.cursor,
		Answers:              answers,
		RemainingSeconds:     c.remaining,
	}
	if c.sess != nil {
		st.SessionID = c.sess.ID
		st.TotalQuestions = c.sess.TotalQuestions
	}
	return st
}

// Status returns the current in-memory status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Session returns a copy of the session record, or nil before Start.
func (c *Controller) Session() *model.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	sess := *c.sess
	return &sess
}

// Questions returns the assigned question order.
func (c *Controller) Questions() []model.Question {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Question, len(c.questions))
	copy(out, c.questions)
	return out
}

// Remaining returns the advisory countdown value in seconds.
func (c *Controller) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}
