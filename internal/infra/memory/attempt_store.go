package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"quiz-attempt-engine/internal/domain"
	"github.com/google/uuid"
)

// AttemptStore is an in-process attempt backend implementing app.AttemptAPI. It plays the
// server role: it stamps started_at, keeps at most one in-progress attempt per user and quiz,
// and refuses to submit terminal attempts.
type AttemptStore struct {
	quizzes QuizLoader
	clock   func() time.Time

	mu       sync.Mutex
	attempts map[string]*storedAttempt
	order    []string
}

type storedAttempt struct {
	attempt domain.Attempt
	answers []domain.AnswerPayload
}

// NewAttemptStore validates quiz ids and attempt limits against quizzes.
func NewAttemptStore(quizzes QuizLoader) *AttemptStore {
	return &AttemptStore{
		quizzes:  quizzes,
		clock:    time.Now,
		attempts: make(map[string]*storedAttempt),
	}
}

// newAttemptStoreWithClock pins timestamps for tests.
func newAttemptStoreWithClock(quizzes QuizLoader, now func() time.Time) *AttemptStore {
	s := NewAttemptStore(quizzes)
	s.clock = now
	return s
}

func (s *AttemptStore) StartAttempt(ctx context.Context, userID, quizID string) (domain.Attempt, error) {
	quiz, err := s.quizzes.LoadQuiz(ctx, quizID)
	if err != nil {
		return domain.Attempt{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ordinal := 1
	submitted := 0
	for _, id := range s.order {
		stored := s.attempts[id]
		if stored.attempt.UserID != userID || stored.attempt.QuizID != quizID {
			continue
		}
		if stored.attempt.Status == domain.StatusInProgress {
			return stored.attempt, nil
		}
		if stored.attempt.Status.IsTerminal() {
			submitted++
		}
		ordinal++
	}
	if !quiz.IsPractice && quiz.MaxAttempts > 0 && submitted >= quiz.MaxAttempts {
		return domain.Attempt{}, domain.ErrPolicyDenied
	}

	attempt := domain.Attempt{
		ID:        uuid.NewString(),
		QuizID:    quizID,
		UserID:    userID,
		Status:    domain.StatusInProgress,
		StartedAt: s.clock().UTC(),
		Ordinal:   ordinal,
	}
	s.attempts[attempt.ID] = &storedAttempt{attempt: attempt}
	s.order = append(s.order, attempt.ID)
	return attempt, nil
}

func (s *AttemptStore) GetCurrentAttempt(_ context.Context, userID, quizID string) (*domain.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		a := s.attempts[id].attempt
		if a.UserID == userID && a.QuizID == quizID && a.Status == domain.StatusInProgress {
			return &a, nil
		}
	}
	return nil, nil
}

func (s *AttemptStore) ListAttempts(_ context.Context, userID, quizID string) ([]domain.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Attempt, 0)
	for _, id := range s.order {
		a := s.attempts[id].attempt
		if a.UserID == userID && a.QuizID == quizID {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out, nil
}

func (s *AttemptStore) SubmitAttempt(_ context.Context, userID, attemptID string, answers []domain.AnswerPayload) (domain.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.attempts[attemptID]
	if !ok || stored.attempt.UserID != userID {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	if stored.attempt.Status != domain.StatusInProgress {
		return domain.Attempt{}, domain.ErrAlreadySubmitted
	}
	now := s.clock().UTC()
	stored.attempt.Status = domain.StatusSubmitted
	stored.attempt.SubmittedAt = &now
	stored.answers = append([]domain.AnswerPayload(nil), answers...)
	return stored.attempt, nil
}

// MarkGraded stands in for the external grader.
func (s *AttemptStore) MarkGraded(attemptID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.attempts[attemptID]
	if !ok {
		return domain.ErrAttemptNotFound
	}
	if stored.attempt.Status != domain.StatusSubmitted {
		return domain.ErrInvalidMutation
	}
	stored.attempt.Status = domain.StatusGraded
	return nil
}

// SubmittedAnswers returns the payload recorded for an attempt.
func (s *AttemptStore) SubmittedAnswers(attemptID string) ([]domain.AnswerPayload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.attempts[attemptID]
	if !ok || stored.attempt.Status == domain.StatusInProgress {
		return nil, false
	}
	return append([]domain.AnswerPayload(nil), stored.answers...), true
}
