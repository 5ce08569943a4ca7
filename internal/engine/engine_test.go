package engine_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prepdesk/prepdesk-backend/internal/engine"
	"github.com/prepdesk/prepdesk-backend/internal/model"
)

// fakeStore is an in-memory engine.SessionStore with injectable failures.
type fakeStore struct {
	mu sync.Mutex

	created   *model.Session
	questions []model.Question
	saves     []model.Snapshot

	completed     bool
	completedAt   time.Time
	timeSpent     int
	result        *model.Result
	completeCalls int

	active   *model.Session
	progress model.Snapshot

	failCreate   error
	failSave     error
	failComplete error
}

func (f *fakeStore) CreateSession(ctx context.Context, sess *model.Session, questions []model.Question) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate != nil {
		return f.failCreate
	}
	cp := *sess
	f.created = &cp
	f.questions = questions
	return nil
}

func (f *fakeStore) SaveProgress(ctx context.Context, sessionID uuid.UUID, snap model.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSave != nil {
		return f.failSave
	}
	f.saves = append(f.saves, snap)
	return nil
}

func (f *fakeStore) CompleteSession(ctx context.Context, sessionID uuid.UUID, completedAt time.Time, timeSpentSeconds int, res *model.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completeCalls++
	if f.failComplete != nil {
		return f.failComplete
	}
	if f.completed {
		return engine.ErrInvalidTransition
	}
	f.completed = true
	f.completedAt = completedAt
	f.timeSpent = timeSpentSeconds
	f.result = res
	return nil
}

func (f *fakeStore) FindActive(ctx context.Context, studentID int) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == nil {
		return nil, engine.ErrNoActiveSession
	}
	cp := *f.active
	return &cp, nil
}

func (f *fakeStore) LoadQuestions(ctx context.Context, sessionID uuid.UUID) ([]model.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.questions, nil
}

func (f *fakeStore) LoadProgress(ctx context.Context, sessionID uuid.UUID) (model.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.progress, nil
}

func (f *fakeStore) isCompleted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed
}

func (f *fakeStore) terminalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completeCalls
}

func (f *fakeStore) setFailComplete(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failComplete = err
}

func (f *fakeStore) snapshotCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saves)
}

func (f *fakeStore) lastSave() model.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves[len(f.saves)-1]
}

// fakeCache is an in-memory engine.SnapshotCache.
type fakeCache struct {
	mu sync.Mutex

	fence    string
	snap     model.Snapshot
	hasSnap  bool
	enqueued []model.Snapshot
	cleared  bool
	loadErr  error
}

func (f *fakeCache) InstallFence(ctx context.Context, sessionID uuid.UUID, fence string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fence = fence
	return nil
}

func (f *fakeCache) Enqueue(sessionID uuid.UUID, snap model.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, snap)
}

func (f *fakeCache) Load(ctx context.Context, sessionID uuid.UUID) (model.Snapshot, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return model.Snapshot{}, false, f.loadErr
	}
	return f.snap, f.hasSnap, nil
}

func (f *fakeCache) Clear(ctx context.Context, sessionID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = true
	return nil
}

func (f *fakeCache) enqueueCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.enqueued)
}

func (f *fakeCache) currentFence() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fence
}

// fakeSource serves a fixed question list.
type fakeSource struct {
	questions []model.Question
	err       error
}

func (f *fakeSource) FetchQuestions(ctx context.Context, count int) ([]model.Question, error) {
	if f.err != nil {
		return nil, f.err
	}
	if count > len(f.questions) {
		return f.questions, nil
	}
	return f.questions[:count], nil
}

// testClock is a controllable time source shared with Deps.Now.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{now: start}
}

func (tc *testClock) Now() time.Time {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.now
}

func (tc *testClock) Advance(d time.Duration) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.now = tc.now.Add(d)
}

func makeQuestions(n int) []model.Question {
	topics := []string{"algebra", "geometry", "statistics"}
	questions := make([]model.Question, n)
	for i := range questions {
		questions[i] = model.Question{
			ID:            uuid.New(),
			QuestionText:  fmt.Sprintf("question %d", i),
			QuestionType:  model.QuestionTypeMultipleChoice,
			CorrectAnswer: fmt.Sprintf("answer-%d", i),
			Topic:         topics[i%len(topics)],
			Difficulty:    "medium",
		}
	}
	return questions
}

// newTestDeps wires fakes with a ticker interval long enough that the
// background clock never fires during direct-call tests.
func newTestDeps(store *fakeStore, cache *fakeCache, source *fakeSource, tc *testClock) engine.Deps {
	return engine.Deps{
		Store:        store,
		Cache:        cache,
		Source:       source,
		Log:          zerolog.Nop(),
		Now:          tc.Now,
		TickInterval: time.Hour,
	}
}

// waitFor polls until cond is true or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
