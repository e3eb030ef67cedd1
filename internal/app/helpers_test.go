package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"quiz-attempt-engine/internal/app"
	"quiz-attempt-engine/internal/domain"
	"quiz-attempt-engine/internal/infra/memory"
)

// manualTicker delivers ticks only when the test asks for them.
type manualTicker struct {
	ch      chan time.Time
	mu      sync.Mutex
	stopped bool
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time)}
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }

func (m *manualTicker) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
}

func (m *manualTicker) isStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

// tryTick reports whether the clock goroutine consumed the tick.
func (m *manualTicker) tryTick() bool {
	select {
	case m.ch <- time.Now():
		return true
	case <-time.After(100 * time.Millisecond):
		return false
	}
}

func (m *manualTicker) factory() func(time.Duration) app.Ticker {
	return func(time.Duration) app.Ticker { return m }
}

type fakeNow struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeNow(t time.Time) *fakeNow { return &fakeNow{t: t} }

func (f *fakeNow) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeNow) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

// flakyAPI wraps an attempt backend, counts submit calls and can fail or block them.
type flakyAPI struct {
	app.AttemptAPI

	mu          sync.Mutex
	submits     int
	failSubmits int
	failCurrent error
	entered     chan struct{}
	release     chan struct{}
}

func (f *flakyAPI) GetCurrentAttempt(ctx context.Context, userID, quizID string) (*domain.Attempt, error) {
	f.mu.Lock()
	err := f.failCurrent
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.AttemptAPI.GetCurrentAttempt(ctx, userID, quizID)
}

func (f *flakyAPI) SubmitAttempt(ctx context.Context, userID, attemptID string, answers []domain.AnswerPayload) (domain.Attempt, error) {
	f.mu.Lock()
	f.submits++
	fail := f.failSubmits > 0
	if fail {
		f.failSubmits--
	}
	entered, release := f.entered, f.release
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if release != nil {
		<-release
	}
	if fail {
		return domain.Attempt{}, errors.New("backend unavailable")
	}
	return f.AttemptAPI.SubmitAttempt(ctx, userID, attemptID, answers)
}

// unblock stops blocking future calls and returns the release channel of the blocked one.
func (f *flakyAPI) unblock() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	release := f.release
	f.entered, f.release = nil, nil
	return release
}

func (f *flakyAPI) submitCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

func waitEvent(t *testing.T, events <-chan app.Event, kind app.EventKind) app.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event channel closed while waiting for %s", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

func fiveQuestionQuiz() domain.Quiz {
	return domain.Quiz{
		ID:              "quiz-1",
		Title:           "Basics",
		DurationMinutes: 10,
		PassingScore:    3,
		MaxAttempts:     2,
		Questions: []domain.Question{
			{ID: "q1", Type: domain.SingleChoice, Points: 1, Options: []domain.Option{{ID: "A", Text: "3"}, {ID: "B", Text: "4"}}},
			{ID: "q2", Type: domain.MultipleChoice, Points: 2, Options: []domain.Option{{ID: "A"}, {ID: "B"}, {ID: "C"}}},
			{ID: "q3", Type: domain.TrueFalse, Points: 1, Options: []domain.Option{{ID: "true"}, {ID: "false"}}},
			{ID: "q4", Type: domain.Essay, Points: 5},
			{ID: "q5", Type: domain.SingleChoice, Points: 1, Options: []domain.Option{{ID: "A"}, {ID: "B"}}},
		},
	}
}

func newBackend(quizzes ...domain.Quiz) (*memory.StaticQuizLoader, *memory.AttemptStore) {
	byID := make(map[string]domain.Quiz, len(quizzes))
	for _, q := range quizzes {
		byID[q.ID] = q
	}
	loader := memory.NewStaticQuizLoader(byID)
	return loader, memory.NewAttemptStore(loader)
}
