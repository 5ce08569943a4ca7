package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/prepdesk/prepdesk-backend/internal/engine"
	"github.com/prepdesk/prepdesk-backend/internal/model"
)

// storedSession seeds the fake store with an in-progress attempt started
// at the given instant.
func storedSession(store *fakeStore, startedAt time.Time, limitSeconds, questionCount int) *model.Session {
	questions := makeQuestions(questionCount)
	sess := &model.Session{
		ID:               uuid.New(),
		StudentID:        7,
		Status:           model.SessionStatusInProgress,
		TotalQuestions:   questionCount,
		TimeLimitSeconds: limitSeconds,
		StartedAt:        startedAt,
	}
	store.active = sess
	store.questions = questions
	return sess
}

func TestResumeNoActiveSession(t *testing.T) {
	deps := newTestDeps(&fakeStore{}, &fakeCache{}, &fakeSource{}, newTestClock(time.Now()))
	_, err := engine.ResumeActive(context.Background(), deps, 7)
	if !errors.Is(err, engine.ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
}

func TestResumeRecomputesRemainingFromWallClock(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := &fakeStore{}
	storedSession(store, t0, 3600, 5)
	store.progress = model.Snapshot{
		Seq:                  4,
		CurrentQuestionIndex: 2,
		Answers:              map[int]string{0: "a", 1: "b"},
	}

	// Ten minutes passed in the world, regardless of how long the process
	// was actually alive.
	tc := newTestClock(t0.Add(10 * time.Minute))
	deps := newTestDeps(store, &fakeCache{}, &fakeSource{}, tc)

	c, err := engine.ResumeActive(context.Background(), deps, 7)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if c.Status() != engine.StatusActive {
		t.Fatalf("expected active, got %v", c.Status())
	}
	if c.Remaining() != 3000 {
		t.Fatalf("expected 3000s remaining (3600-600), got %d", c.Remaining())
	}

	st := c.State()
	if st.CurrentQuestionIndex != 2 {
		t.Fatalf("expected cursor restored to 2, got %d", st.CurrentQuestionIndex)
	}
	if st.Answers[0] != "a" || st.Answers[1] != "b" {
		t.Fatalf("expected answers restored, got %+v", st.Answers)
	}
}

func TestResumeInstallsFreshFence(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := &fakeStore{}
	storedSession(store, t0, 3600, 3)
	cache := &fakeCache{fence: "old-device-fence"}

	deps := newTestDeps(store, cache, &fakeSource{}, newTestClock(t0.Add(time.Minute)))
	if _, err := engine.ResumeActive(context.Background(), deps, 7); err != nil {
		t.Fatalf("resume failed: %v", err)
	}

	fence := cache.currentFence()
	if fence == "" || fence == "old-device-fence" {
		t.Fatalf("resume must take over with a new fence, got %q", fence)
	}
}

func TestResumePrefersNewerCachedSnapshot(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := &fakeStore{}
	storedSession(store, t0, 3600, 5)
	store.progress = model.Snapshot{Seq: 3, CurrentQuestionIndex: 1, Answers: map[int]string{0: "durable"}}

	cache := &fakeCache{
		hasSnap: true,
		snap:    model.Snapshot{Seq: 5, CurrentQuestionIndex: 3, Answers: map[int]string{0: "cached", 2: "x"}},
	}

	deps := newTestDeps(store, cache, &fakeSource{}, newTestClock(t0.Add(time.Minute)))
	c, err := engine.ResumeActive(context.Background(), deps, 7)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}

	st := c.State()
	if st.CurrentQuestionIndex != 3 || st.Answers[0] != "cached" {
		t.Fatalf("newer cached snapshot must win, got %+v", st)
	}
}

func TestResumeIgnoresStaleCachedSnapshot(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := &fakeStore{}
	storedSession(store, t0, 3600, 5)
	store.progress = model.Snapshot{Seq: 6, CurrentQuestionIndex: 4, Answers: map[int]string{0: "durable"}}

	cache := &fakeCache{
		hasSnap: true,
		snap:    model.Snapshot{Seq: 2, CurrentQuestionIndex: 0, Answers: map[int]string{0: "stale"}},
	}

	deps := newTestDeps(store, cache, &fakeSource{}, newTestClock(t0.Add(time.Minute)))
	c, err := engine.ResumeActive(context.Background(), deps, 7)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}

	if st := c.State(); st.Answers[0] != "durable" {
		t.Fatalf("stale cache entry must lose to the durable snapshot, got %+v", st.Answers)
	}
}

func TestResumeDegradesOnCacheError(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := &fakeStore{}
	storedSession(store, t0, 3600, 5)
	store.progress = model.Snapshot{Seq: 3, CurrentQuestionIndex: 1, Answers: map[int]string{0: "durable"}}

	cache := &fakeCache{loadErr: errors.New("redis down")}

	deps := newTestDeps(store, cache, &fakeSource{}, newTestClock(t0.Add(time.Minute)))
	c, err := engine.ResumeActive(context.Background(), deps, 7)
	if err != nil {
		t.Fatalf("a cache outage must not block resume: %v", err)
	}
	if st := c.State(); st.Answers[0] != "durable" {
		t.Fatalf("expected durable snapshot on cache outage, got %+v", st.Answers)
	}
}

func TestResumeExpiredSessionAutoSubmits(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := &fakeStore{}
	storedSession(store, t0, 3600, 5)
	store.progress = model.Snapshot{
		Seq:                  8,
		CurrentQuestionIndex: 4,
		Answers:              map[int]string{0: "answer-0", 1: "answer-1", 2: "wrong"},
	}

	// The limit ran out two hours ago.
	tc := newTestClock(t0.Add(3 * time.Hour))
	deps := newTestDeps(store, &fakeCache{}, &fakeSource{}, tc)

	c, err := engine.ResumeActive(context.Background(), deps, 7)
	if err != nil {
		t.Fatalf("resume of expired session failed: %v", err)
	}
	if c.Status() != engine.StatusCompleted {
		t.Fatalf("expired session must come back completed, got %v", c.Status())
	}
	if !store.isCompleted() {
		t.Fatal("expected a durable terminal write")
	}
	if store.timeSpent != 3600 {
		t.Fatalf("expired session reports the limit as time spent, got %d", store.timeSpent)
	}
	if store.result.CorrectCount != 2 {
		t.Fatalf("expected the persisted answers to be scored (2 correct), got %d", store.result.CorrectCount)
	}
	if c.Remaining() != 0 {
		t.Fatalf("expected zero remaining, got %d", c.Remaining())
	}
}

func TestResumeQuestionSetMismatchIsUnrecoverable(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := &fakeStore{}
	sess := storedSession(store, t0, 3600, 5)
	sess.TotalQuestions = 5
	store.questions = makeQuestions(3) // assignment rows went missing

	deps := newTestDeps(store, &fakeCache{}, &fakeSource{}, newTestClock(t0.Add(time.Minute)))
	_, err := engine.ResumeActive(context.Background(), deps, 7)
	if !errors.Is(err, engine.ErrSessionUnrecoverable) {
		t.Fatalf("expected ErrSessionUnrecoverable, got %v", err)
	}
}

func TestResumeCorruptSnapshotIsUnrecoverable(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		snap model.Snapshot
	}{
		{"cursor past the end", model.Snapshot{Seq: 1, CurrentQuestionIndex: 9}},
		{"negative cursor", model.Snapshot{Seq: 1, CurrentQuestionIndex: -1}},
		{"answer key out of range", model.Snapshot{Seq: 1, Answers: map[int]string{12: "x"}}},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{}
			storedSession(store, t0, 3600, 5)
			store.progress = tt.snap

			deps := newTestDeps(store, &fakeCache{}, &fakeSource{}, newTestClock(t0.Add(time.Minute)))
			_, err := engine.ResumeActive(context.Background(), deps, 7)
			if !errors.Is(err, engine.ErrSessionUnrecoverable) {
				t.Fatalf("expected ErrSessionUnrecoverable, got %v", err)
			}
		})
	}
}
