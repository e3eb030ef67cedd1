package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"quiz-attempt-engine/internal/domain"
	"quiz-attempt-engine/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// AttemptSubmitter is the submit half of the attempt backend. Backends answer
// ErrAttemptNotFound when attemptID does not belong to userID.
type AttemptSubmitter interface {
	SubmitAttempt(ctx context.Context, userID, attemptID string, answers []domain.AnswerPayload) (domain.Attempt, error)
}

// AttemptLister lists a user's attempts on a quiz.
type AttemptLister interface {
	ListAttempts(ctx context.Context, userID, quizID string) ([]domain.Attempt, error)
}

// AttemptAPI is the backend that owns attempt records. The backend is authoritative for
// started_at; StartAttempt returns the existing attempt when one is already in progress.
type AttemptAPI interface {
	StartAttempt(ctx context.Context, userID, quizID string) (domain.Attempt, error)
	// GetCurrentAttempt returns nil when the user has no in-progress attempt.
	GetCurrentAttempt(ctx context.Context, userID, quizID string) (*domain.Attempt, error)
	AttemptLister
	AttemptSubmitter
}

// ViewInvalidator drops cached attempt views after the attempt set changed.
type ViewInvalidator interface {
	InvalidateAttemptViews(ctx context.Context, userID, quizID string) error
}

// SessionRepository abstracts where live attempt sessions are kept (in-memory, Redis-marked).
type SessionRepository interface {
	Get(key string) (*Session, bool)
	Put(key string, session *Session)
	// Remove deletes key only while it still maps to session.
	Remove(key string, session *Session)
}

// LiveSessionChecker is implemented by session repositories shared across instances.
type LiveSessionChecker interface {
	// LiveAttempt returns the attempt id some instance has a live session for under key.
	LiveAttempt(ctx context.Context, key string) (string, bool)
}

// ServiceOption configures an AttemptService.
type ServiceOption func(*AttemptService)

func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *AttemptService) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *AttemptService) { s.metrics = m }
}

func WithSessionConfig(cfg SessionConfig) ServiceOption {
	return func(s *AttemptService) { s.cfg = cfg }
}

// WithInvalidator registers the cache to flush after successful submissions.
func WithInvalidator(inv ViewInvalidator) ServiceOption {
	return func(s *AttemptService) { s.invalidator = inv }
}

// AttemptService contains the attempt use cases: join (start or resume), eligibility and
// leave. It keeps one live Session per user and quiz.
type AttemptService struct {
	sessions    SessionRepository
	quizzes     QuizRepository
	api         AttemptAPI
	invalidator ViewInvalidator
	coordinator *Coordinator
	logger      *zap.Logger
	metrics     *metrics.Metrics
	cfg         SessionConfig

	sf singleflight.Group
	mu sync.Mutex
}

func NewAttemptService(store SessionRepository, quizzes QuizRepository, api AttemptAPI, opts ...ServiceOption) *AttemptService {
	s := &AttemptService{
		sessions: store,
		quizzes:  quizzes,
		api:      api,
		logger:   zap.NewNop(),
		cfg:      DefaultSessionConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.coordinator = NewCoordinator(api, s.invalidator, s.logger)
	return s
}

// Quiz exposes the configured quiz repository to transports.
func (s *AttemptService) Quiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	return s.quizzes.GetQuiz(ctx, quizID)
}

// Join attaches a view to the user's attempt on quizID, resuming an in-progress attempt or
// starting a new one if the attempt policy allows it. Concurrent joins share one start call.
// The caller must hand the returned cancel to Leave.
func (s *AttemptService) Join(ctx context.Context, userID, quizID string) (*Session, <-chan Event, func(), error) {
	key := SessionKey(userID, quizID)

	for tries := 0; ; tries++ {
		session, err := s.acquire(ctx, key, userID, quizID)
		if err != nil {
			return nil, nil, nil, err
		}

		s.mu.Lock()
		if session.Closed() {
			// A concurrent Leave closed it after acquire; open a fresh one.
			s.mu.Unlock()
			if tries < maxJoinRetries {
				continue
			}
			return nil, nil, nil, fmt.Errorf("%w: session closed while joining", domain.ErrStartFailed)
		}
		events, cancel := session.Subscribe()
		s.mu.Unlock()
		// Subscribe first so an immediate expiry on reattach reaches this view.
		session.Start()
		return session, events, cancel, nil
	}
}

const maxJoinRetries = 3

func (s *AttemptService) acquire(ctx context.Context, key, userID, quizID string) (*Session, error) {
	result, err, _ := s.sf.Do(key, func() (interface{}, error) {
		s.mu.Lock()
		existing, ok := s.sessions.Get(key)
		s.mu.Unlock()
		if ok && existing.Active() {
			return existing, nil
		}
		if live, canCheck := s.sessions.(LiveSessionChecker); canCheck && !ok {
			if attemptID, held := live.LiveAttempt(ctx, key); held {
				s.logger.Warn("attempt session live on another instance",
					zap.String("user_id", userID), zap.String("quiz_id", quizID), zap.String("attempt_id", attemptID))
			}
		}

		session, err := s.open(ctx, userID, quizID)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.sessions.Put(key, session)
		s.mu.Unlock()
		s.metrics.SessionOpened()
		return session, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Session), nil
}

// Leave detaches a view. The last view to leave closes the session: its clock stops at
// once, while a submission already in flight is left to finish.
func (s *AttemptService) Leave(session *Session, cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if !session.IsIdle() {
		return
	}
	session.Close()
	s.sessions.Remove(session.Key(), session)
	s.coordinator.Forget(session.Attempt().ID)
	s.metrics.SessionClosed()
}

// Eligibility reports whether the user may start (or must resume) an attempt.
func (s *AttemptService) Eligibility(ctx context.Context, userID, quizID string) (Decision, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return Decision{}, err
	}
	current, err := s.api.GetCurrentAttempt(ctx, userID, quizID)
	if err != nil {
		return Decision{}, fmt.Errorf("current attempt: %w", err)
	}
	attempts, err := s.api.ListAttempts(ctx, userID, quizID)
	if err != nil {
		return Decision{}, fmt.Errorf("list attempts: %w", err)
	}
	inProgress := current != nil && current.Status == domain.StatusInProgress
	return EvaluatePolicy(quiz, domain.CountSubmitted(attempts), inProgress), nil
}

func (s *AttemptService) open(ctx context.Context, userID, quizID string) (*Session, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	logger := s.logger.With(zap.String("user_id", userID), zap.String("quiz_id", quizID))

	current, err := s.api.GetCurrentAttempt(ctx, userID, quizID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStartFailed, err)
	}
	if current != nil && current.Status == domain.StatusInProgress {
		s.metrics.Resumed()
		logger.Info("resuming attempt", zap.String("attempt_id", current.ID))
		return s.newSession(userID, quiz, *current), nil
	}

	attempts, err := s.api.ListAttempts(ctx, userID, quizID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStartFailed, err)
	}
	decision := EvaluatePolicy(quiz, domain.CountSubmitted(attempts), false)
	if !decision.Allowed {
		s.metrics.Denied()
		logger.Info("attempt denied", zap.String("reason", decision.Reason))
		return nil, decision.Err()
	}

	attempt, err := s.api.StartAttempt(ctx, userID, quizID)
	if err != nil {
		if errors.Is(err, domain.ErrPolicyDenied) {
			s.metrics.Denied()
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrStartFailed, err)
	}
	if s.invalidator != nil {
		if err := s.invalidator.InvalidateAttemptViews(ctx, userID, quizID); err != nil {
			logger.Warn("invalidate attempt views", zap.Error(err))
		}
	}
	s.metrics.Started()
	logger.Info("attempt started", zap.String("attempt_id", attempt.ID), zap.Int("ordinal", attempt.Ordinal))
	return s.newSession(userID, quiz, attempt), nil
}

func (s *AttemptService) newSession(userID string, quiz domain.Quiz, attempt domain.Attempt) *Session {
	return NewSession(userID, quiz, attempt, SessionDeps{
		Coordinator: s.coordinator,
		Lister:      s.api,
		Invalidator: s.invalidator,
		Logger:      s.logger,
		Metrics:     s.metrics,
		Config:      s.cfg,
	})
}
