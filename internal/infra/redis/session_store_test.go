package redis

import (
	"context"
	"testing"
	"time"

	"quiz-attempt-engine/internal/app"
	"quiz-attempt-engine/internal/domain"
	"quiz-attempt-engine/internal/infra/memory"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSessionStoreSetsAndClearsKeys(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewSessionStore(client, time.Minute)

	quiz := sampleQuiz()
	session := app.NewSession("u1", quiz, domain.Attempt{ID: "a1", QuizID: quiz.ID, UserID: "u1", Status: domain.StatusInProgress, StartedAt: time.Now()}, app.SessionDeps{})
	stale := app.NewSession("u1", quiz, domain.Attempt{ID: "a0", QuizID: quiz.ID, UserID: "u1", Status: domain.StatusInProgress, StartedAt: time.Now()}, app.SessionDeps{})

	store.Put(session.Key(), session)
	if !mr.Exists("attempt:session:u1:quiz-1") {
		t.Fatalf("expected redis key to be set")
	}
	if id, ok := store.LiveAttempt(context.Background(), session.Key()); !ok || id != "a1" {
		t.Fatalf("expected live attempt a1, got %q ok=%v", id, ok)
	}
	if got, ok := store.Get(session.Key()); !ok || got != session {
		t.Fatalf("expected session present")
	}

	store.Remove(session.Key(), stale)
	if !mr.Exists("attempt:session:u1:quiz-1") {
		t.Fatalf("removing a stale session must keep the marker")
	}

	store.Remove(session.Key(), session)
	if mr.Exists("attempt:session:u1:quiz-1") {
		t.Fatalf("expected redis key to be removed")
	}
	if _, ok := store.Get(session.Key()); ok {
		t.Fatalf("expected session removed")
	}
}

func TestJoinWarnsWhenAnotherInstanceHoldsSession(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	quiz := sampleQuiz()
	quizzes := memory.NewStaticQuizLoader(map[string]domain.Quiz{quiz.ID: quiz})
	backend := memory.NewAttemptStore(quizzes)
	ctx := context.Background()

	first := app.NewAttemptService(NewSessionStore(newClient(mr), time.Minute), quizzes, backend)
	held, _, cancelHeld, err := first.Join(ctx, "u1", quiz.ID)
	if err != nil {
		t.Fatalf("join on first instance: %v", err)
	}
	defer first.Leave(held, cancelHeld)

	core, logs := observer.New(zap.WarnLevel)
	second := app.NewAttemptService(NewSessionStore(newClient(mr), time.Minute), quizzes, backend, app.WithLogger(zap.New(core)))
	session, _, cancel, err := second.Join(ctx, "u1", quiz.ID)
	if err != nil {
		t.Fatalf("join on second instance: %v", err)
	}
	defer second.Leave(session, cancel)

	if session.Attempt().ID != held.Attempt().ID {
		t.Fatalf("expected the same attempt resumed, got %s vs %s", session.Attempt().ID, held.Attempt().ID)
	}
	warned := logs.FilterMessage("attempt session live on another instance").All()
	if len(warned) != 1 {
		t.Fatalf("expected one cross-instance warning, got %d", len(warned))
	}
	if got := warned[0].ContextMap()["attempt_id"]; got != held.Attempt().ID {
		t.Fatalf("expected warning for attempt %s, got %v", held.Attempt().ID, got)
	}

	// Rejoining locally finds the local session and stays quiet.
	again, _, cancelAgain, err := second.Join(ctx, "u1", quiz.ID)
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	second.Leave(again, cancelAgain)
	if n := logs.FilterMessage("attempt session live on another instance").Len(); n != 1 {
		t.Fatalf("expected no further warnings, got %d", n)
	}
}
