package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/prepdesk/prepdesk-backend/internal/config"
	"github.com/prepdesk/prepdesk-backend/internal/engine"
	"github.com/prepdesk/prepdesk-backend/internal/model"
)

// stubRecords is an in-memory SessionRecords with a tunable FindActive
// latency, wide enough for two requests to race through the resume path.
type stubRecords struct {
	mu sync.Mutex

	active    *model.Session
	questions []model.Question
	progress  model.Snapshot

	findDelay time.Duration
	findCalls int
	completed bool
	failSave  error
}

func (s *stubRecords) CreateSession(ctx context.Context, sess *model.Session, questions []model.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.active = &cp
	s.questions = questions
	return nil
}

func (s *stubRecords) SaveProgress(ctx context.Context, sessionID uuid.UUID, snap model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave != nil {
		return s.failSave
	}
	s.progress = snap
	return nil
}

func (s *stubRecords) CompleteSession(ctx context.Context, sessionID uuid.UUID, completedAt time.Time, timeSpentSeconds int, res *model.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completed {
		return engine.ErrInvalidTransition
	}
	s.completed = true
	return nil
}

func (s *stubRecords) FindActive(ctx context.Context, studentID int) (*model.Session, error) {
	s.mu.Lock()
	s.findCalls++
	sess := s.active
	delay := s.findDelay
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if sess == nil {
		return nil, engine.ErrNoActiveSession
	}
	cp := *sess
	return &cp, nil
}

func (s *stubRecords) LoadQuestions(ctx context.Context, sessionID uuid.UUID) ([]model.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.questions, nil
}

func (s *stubRecords) LoadProgress(ctx context.Context, sessionID uuid.UUID) (model.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress, nil
}

func (s *stubRecords) GetByID(ctx context.Context, sessionID uuid.UUID) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.active
	return &cp, nil
}

func (s *stubRecords) ListByStudent(ctx context.Context, studentID int) ([]model.Session, error) {
	return nil, nil
}

func (s *stubRecords) ListAssignments(ctx context.Context, sessionID uuid.UUID) ([]model.SessionQuestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	assignments := make([]model.SessionQuestion, len(s.questions))
	for i, q := range s.questions {
		assignments[i] = model.SessionQuestion{SessionID: sessionID, QuestionID: q.ID, QuestionOrder: i}
	}
	return assignments, nil
}

func (s *stubRecords) resumeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findCalls
}

type stubCache struct{}

func (stubCache) InstallFence(ctx context.Context, sessionID uuid.UUID, fence string) error {
	return nil
}
func (stubCache) Enqueue(sessionID uuid.UUID, snap model.Snapshot) {}
func (stubCache) Load(ctx context.Context, sessionID uuid.UUID) (model.Snapshot, bool, error) {
	return model.Snapshot{}, false, nil
}
func (stubCache) Clear(ctx context.Context, sessionID uuid.UUID) error { return nil }

type stubSource struct{ questions []model.Question }

func (s *stubSource) FetchQuestions(ctx context.Context, count int) ([]model.Question, error) {
	return s.questions, nil
}

func stubQuestions(n int) []model.Question {
	questions := make([]model.Question, n)
	for i := range questions {
		questions[i] = model.Question{
			ID:            uuid.New(),
			QuestionText:  fmt.Sprintf("question %d", i),
			QuestionType:  model.QuestionTypeMultipleChoice,
			CorrectAnswer: fmt.Sprintf("answer-%d", i),
			Topic:         "algebra",
			Difficulty:    "medium",
		}
	}
	return questions
}

func newTestService(t *testing.T, records *stubRecords) *SessionService {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := &config.Config{
		MockTestQuestionCount: 3,
		MockTestTimeLimit:     time.Hour,
	}
	return NewSessionService(cfg, records, stubCache{}, &stubSource{questions: stubQuestions(3)}, client, zerolog.Nop())
}

func inProgressSession(records *stubRecords) *model.Session {
	questions := stubQuestions(3)
	sess := &model.Session{
		ID:               uuid.New(),
		StudentID:        7,
		Status:           model.SessionStatusInProgress,
		TotalQuestions:   3,
		TimeLimitSeconds: 3600,
		StartedAt:        time.Now(),
	}
	records.active = sess
	records.questions = questions
	return sess
}

func TestCurrentCollapsesConcurrentResumes(t *testing.T) {
	records := &stubRecords{findDelay: 30 * time.Millisecond}
	inProgressSession(records)
	svc := newTestService(t, records)

	// A page reload fires /current and /answer together; both miss the
	// registry and race into the resume path.
	start := make(chan struct{})
	results := make([]*engine.Controller, 2)
	errs := make([]error, 2)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = svc.Current(context.Background(), 7)
		}(i)
	}
	close(start)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
	}
	if results[0] != results[1] {
		t.Fatal("concurrent requests must share one controller for one stored session")
	}
	t.Cleanup(results[0].Detach)
	if results[0].Status() != engine.StatusActive {
		t.Fatalf("expected the shared controller active, got %v", results[0].Status())
	}
	if calls := records.resumeCalls(); calls != 1 {
		t.Fatalf("expected one resume flight, store was queried %d times", calls)
	}
}

func TestRegisterDetachesDisplacedController(t *testing.T) {
	records := &stubRecords{}
	inProgressSession(records)
	svc := newTestService(t, records)

	ctx := context.Background()
	first, err := engine.ResumeActive(ctx, svc.deps, 7)
	if err != nil {
		t.Fatalf("first resume failed: %v", err)
	}
	second, err := engine.ResumeActive(ctx, svc.deps, 7)
	if err != nil {
		t.Fatalf("second resume failed: %v", err)
	}

	t.Cleanup(first.Detach)
	t.Cleanup(second.Detach)

	svc.register(7, first)
	svc.register(7, second)

	if first.Status() != engine.StatusPaused {
		t.Fatalf("displaced controller must lose its clock, got %v", first.Status())
	}
	if second.Status() != engine.StatusActive {
		t.Fatalf("current controller must stay active, got %v", second.Status())
	}

	ctrl, err := svc.Current(ctx, 7)
	if err != nil {
		t.Fatalf("current failed: %v", err)
	}
	if ctrl != second {
		t.Fatal("registry must serve the controller that owns the session")
	}
}

func TestExitSurfacesPersistenceError(t *testing.T) {
	records := &stubRecords{}
	inProgressSession(records)
	svc := newTestService(t, records)

	ctx := context.Background()
	if _, err := svc.Current(ctx, 7); err != nil {
		t.Fatalf("current failed: %v", err)
	}

	records.mu.Lock()
	records.failSave = context.DeadlineExceeded
	records.mu.Unlock()

	err := svc.Exit(ctx, 7)
	var pe *engine.PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("expected a persistence error, got %v", err)
	}

	// Storage still holds the in_progress record; once the fault clears
	// the student resumes from the last durable snapshot.
	records.mu.Lock()
	records.failSave = nil
	records.mu.Unlock()

	ctrl, err := svc.Current(ctx, 7)
	if err != nil {
		t.Fatalf("resume after failed exit: %v", err)
	}
	t.Cleanup(ctrl.Detach)
	if ctrl.Status() != engine.StatusActive {
		t.Fatalf("expected a resumable session, got %v", ctrl.Status())
	}
}

func TestCurrentEvictsCompletedController(t *testing.T) {
	records := &stubRecords{}
	inProgressSession(records)
	svc := newTestService(t, records)

	ctx := context.Background()
	ctrl, err := svc.Current(ctx, 7)
	if err != nil {
		t.Fatalf("current failed: %v", err)
	}
	if _, err := svc.Submit(ctx, 7); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if ctrl.Status() != engine.StatusCompleted {
		t.Fatalf("expected completed, got %v", ctrl.Status())
	}

	// Storage no longer has anything to resume.
	records.mu.Lock()
	records.active = nil
	records.mu.Unlock()

	if _, err := svc.Current(ctx, 7); err != engine.ErrNoActiveSession {
		t.Fatalf("expected ErrNoActiveSession after completion, got %v", err)
	}
}
