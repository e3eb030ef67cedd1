package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"quiz-attempt-engine/internal/domain"
	"quiz-attempt-engine/internal/metrics"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// EventKind names the notifications a Session pushes to its subscribers.
type EventKind string

const (
	EventTick        EventKind = "tick"
	EventExpired     EventKind = "expired"
	EventSubmitted   EventKind = "submitted"
	EventSubmitRetry EventKind = "submit_retry"
	EventGraded      EventKind = "graded"
)

// Event is a single session notification.
type Event struct {
	Kind      EventKind       `json:"kind"`
	Remaining int             `json:"remaining"`
	Attempt   *domain.Attempt `json:"attempt,omitempty"`
	Error     string          `json:"error,omitempty"`
	RetryIn   float64         `json:"retryIn,omitempty"`
}

// SessionConfig tunes submission behaviour.
type SessionConfig struct {
	// SubmitTimeout bounds a single submit call. Zero means no bound.
	SubmitTimeout time.Duration
	// RetryInitial and RetryMax shape the backoff of auto-submit after expiry.
	RetryInitial time.Duration
	RetryMax     time.Duration
	ClockOptions []ClockOption
}

// DefaultSessionConfig mirrors the values used when the config file is silent.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		SubmitTimeout: 15 * time.Second,
		RetryInitial:  time.Second,
		RetryMax:      30 * time.Second,
	}
}

// SessionDeps are the collaborators a Session talks to.
type SessionDeps struct {
	Coordinator *Coordinator
	Lister      AttemptLister
	Invalidator ViewInvalidator
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
	Config      SessionConfig
}

// View is a point-in-time snapshot of a session for rendering.
type View struct {
	Attempt    domain.Attempt           `json:"attempt"`
	Quiz       domain.Quiz              `json:"quiz"`
	Timed      bool                     `json:"timed"`
	Remaining  int                      `json:"remaining"`
	Expired    bool                     `json:"expired"`
	Answers    map[string]domain.Answer `json:"answers"`
	Unanswered int                      `json:"unanswered"`
}

// SessionKey identifies the single attempt session a user may hold on a quiz.
func SessionKey(userID, quizID string) string {
	return userID + ":" + quizID
}

// Session is the state machine of one attempt: it owns the attempt's ledger and clock and
// routes both manual and expiry-driven submissions through the coordinator.
type Session struct {
	userID      string
	quiz        domain.Quiz
	clock       *Clock
	coordinator *Coordinator
	lister      AttemptLister
	invalidator ViewInvalidator
	logger      *zap.Logger
	metrics     *metrics.Metrics
	cfg         SessionConfig

	mu          sync.Mutex
	attempt     domain.Attempt
	ledger      *Ledger
	expired     bool
	closed      bool
	retryCancel context.CancelFunc
	subscribers map[chan Event]struct{}
}

// NewSession wraps an attempt record returned by the backend. Call Start to attach the clock.
func NewSession(userID string, quiz domain.Quiz, attempt domain.Attempt, deps SessionDeps) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		userID:      userID,
		quiz:        quiz,
		clock:       NewClock(attempt.StartedAt, quiz.DurationMinutes, deps.Config.ClockOptions...),
		coordinator: deps.Coordinator,
		lister:      deps.Lister,
		invalidator: deps.Invalidator,
		logger:      logger.With(zap.String("attempt_id", attempt.ID), zap.String("quiz_id", quiz.ID)),
		metrics:     deps.Metrics,
		cfg:         deps.Config,
		attempt:     attempt,
		ledger:      NewLedger(),
		subscribers: make(map[chan Event]struct{}),
	}
}

// Start attaches the countdown for in-progress attempts.
func (s *Session) Start() {
	s.mu.Lock()
	inProgress := s.attempt.Status == domain.StatusInProgress && !s.closed
	s.mu.Unlock()
	if inProgress {
		s.clock.Start(s.onTick, s.onExpired)
	}
}

func (s *Session) Key() string {
	return SessionKey(s.userID, s.quiz.ID)
}

func (s *Session) Quiz() domain.Quiz {
	return s.quiz
}

func (s *Session) Attempt() domain.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

func (s *Session) Status() domain.AttemptStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt.Status
}

// Remaining is the number of seconds left; timed is false in unlimited-time mode.
func (s *Session) Remaining() (remaining int, timed bool) {
	return s.clock.Remaining(), s.clock.Enabled()
}

// Active reports whether the session still accepts answers from a view.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.attempt.Status == domain.StatusInProgress
}

// Closed reports whether Close has run.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// IsIdle reports whether no view is subscribed.
func (s *Session) IsIdle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers) == 0
}

// View snapshots the session.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return View{
		Attempt:    s.attempt,
		Quiz:       s.quiz,
		Timed:      s.clock.Enabled(),
		Remaining:  s.clock.Remaining(),
		Expired:    s.expired,
		Answers:    s.ledger.Snapshot(),
		Unanswered: s.ledger.UnansweredCount(s.quiz.QuestionIDs()),
	}
}

// SetAnswer stores answer for questionID. It fails with ErrInvalidMutation once the attempt
// is terminal or its time has run out; the ledger is left untouched.
func (s *Session) SetAnswer(questionID string, answer domain.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.attempt.Status != domain.StatusInProgress || s.expired || s.ledger.Frozen() {
		s.logger.Warn("answer rejected",
			zap.String("question_id", questionID),
			zap.String("status", string(s.attempt.Status)),
			zap.Bool("expired", s.expired))
		return domain.ErrInvalidMutation
	}
	question, ok := s.quiz.Question(questionID)
	if !ok {
		return domain.ErrQuestionNotFound
	}
	if err := ValidateAnswer(question, answer); err != nil {
		return err
	}
	return s.ledger.Set(questionID, answer)
}

// Answer returns the stored answer; ok is false while unanswered.
func (s *Session) Answer(questionID string) (domain.Answer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Get(questionID)
}

// UnansweredCount feeds the confirmation prompt shown before a manual submit.
func (s *Session) UnansweredCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.UnansweredCount(s.quiz.QuestionIDs())
}

// Submit submits the attempt on the user's behalf.
func (s *Session) Submit(ctx context.Context) (domain.Attempt, error) {
	return s.submit(ctx, metrics.TriggerManual)
}

func (s *Session) submit(ctx context.Context, trigger string) (domain.Attempt, error) {
	s.mu.Lock()
	switch {
	case s.attempt.Status.IsTerminal():
		attempt := s.attempt
		s.mu.Unlock()
		s.metrics.Submission(trigger, metrics.OutcomeAlreadySubmitted)
		return attempt, domain.ErrAlreadySubmitted
	case s.attempt.Status != domain.StatusInProgress:
		s.mu.Unlock()
		return domain.Attempt{}, domain.ErrInvalidMutation
	}
	req := SubmitRequest{
		AttemptID: s.attempt.ID,
		UserID:    s.userID,
		QuizID:    s.quiz.ID,
		Questions: s.quiz.Questions,
		Answers:   s.ledger.Snapshot(),
	}
	s.mu.Unlock()

	// The call outlives the caller: leaving the view must not abort a submit.
	callCtx := context.WithoutCancel(ctx)
	if s.cfg.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, s.cfg.SubmitTimeout)
		defer cancel()
	}

	attempt, err := s.coordinator.Submit(callCtx, req)
	switch {
	case err == nil:
		s.finish(attempt)
		s.metrics.Submission(trigger, metrics.OutcomeSubmitted)
		return s.Attempt(), nil
	case errors.Is(err, domain.ErrAlreadySubmitted):
		if s.coordinator.Settled(req.AttemptID) {
			s.finish(domain.Attempt{})
		}
		s.metrics.Submission(trigger, metrics.OutcomeAlreadySubmitted)
		return s.Attempt(), err
	default:
		s.metrics.Submission(trigger, metrics.OutcomeFailed)
		s.logger.Error("submit attempt", zap.String("trigger", trigger), zap.Error(err))
		return domain.Attempt{}, err
	}
}

// finish moves the session into its terminal state. A zero attempt means the backend only
// told us the attempt is already terminal.
func (s *Session) finish(attempt domain.Attempt) {
	s.mu.Lock()
	if s.attempt.Status.IsTerminal() {
		s.mu.Unlock()
		return
	}
	if attempt.ID == "" {
		attempt = s.attempt
	}
	if !attempt.Status.IsTerminal() {
		attempt.Status = domain.StatusSubmitted
	}
	s.attempt = attempt
	s.ledger.Freeze()
	snapshot := attempt
	s.broadcastLocked(Event{Kind: EventSubmitted, Attempt: &snapshot})
	s.mu.Unlock()

	s.clock.Stop()
}

// Refresh re-reads the attempt from the backend and adopts a terminal status set elsewhere,
// typically graded by the external grader. Cached views are dropped first since grading
// happens behind the cache.
func (s *Session) Refresh(ctx context.Context) (domain.Attempt, error) {
	if s.lister == nil {
		return s.Attempt(), nil
	}
	if s.invalidator != nil {
		if err := s.invalidator.InvalidateAttemptViews(ctx, s.userID, s.quiz.ID); err != nil {
			s.logger.Warn("invalidate attempt views", zap.Error(err))
		}
	}
	attempts, err := s.lister.ListAttempts(ctx, s.userID, s.quiz.ID)
	if err != nil {
		return domain.Attempt{}, err
	}
	current := s.Attempt()
	for _, remote := range attempts {
		if remote.ID != current.ID {
			continue
		}
		switch {
		case remote.Status == domain.StatusGraded && current.Status != domain.StatusGraded:
			if !current.Status.IsTerminal() {
				s.finish(remote)
			}
			s.mu.Lock()
			s.attempt = remote
			snapshot := remote
			s.broadcastLocked(Event{Kind: EventGraded, Attempt: &snapshot})
			s.mu.Unlock()
		case remote.Status == domain.StatusSubmitted && !current.Status.IsTerminal():
			s.finish(remote)
		}
		return s.Attempt(), nil
	}
	return domain.Attempt{}, domain.ErrAttemptNotFound
}

// Subscribe returns a channel of session events. The caller must invoke cancel.
func (s *Session) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 8)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// Close tears the session down: the clock stops at once and auto-submit stops retrying.
// A submit call already in flight still runs to completion.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel := s.retryCancel
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.clock.Stop()
}

func (s *Session) onTick(remaining int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.attempt.Status != domain.StatusInProgress {
		return
	}
	s.broadcastLocked(Event{Kind: EventTick, Remaining: remaining})
}

func (s *Session) onExpired() {
	s.mu.Lock()
	if s.closed || s.attempt.Status != domain.StatusInProgress {
		s.mu.Unlock()
		return
	}
	s.expired = true
	ctx, cancel := context.WithCancel(context.Background())
	s.retryCancel = cancel
	s.broadcastLocked(Event{Kind: EventExpired})
	s.mu.Unlock()

	s.logger.Info("attempt time expired, submitting")
	go s.autoSubmit(ctx)
}

// autoSubmit keeps submitting after expiry until the attempt is terminal or the session
// is closed.
func (s *Session) autoSubmit(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	if s.cfg.RetryInitial > 0 {
		b.InitialInterval = s.cfg.RetryInitial
	}
	if s.cfg.RetryMax > 0 {
		b.MaxInterval = s.cfg.RetryMax
	}
	b.MaxElapsedTime = 0

	attemptID := s.Attempt().ID
	op := func() error {
		_, err := s.submit(ctx, metrics.TriggerExpiry)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, domain.ErrAlreadySubmitted):
			// Another submit may still be in flight and can fail; keep going until the
			// attempt is settled.
			if s.Status().IsTerminal() || s.coordinator.Settled(attemptID) {
				return nil
			}
			return err
		case errors.Is(err, domain.ErrInvalidMutation):
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		s.broadcast(Event{Kind: EventSubmitRetry, Error: err.Error(), RetryIn: wait.Seconds()})
	}

	err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("auto-submit gave up", zap.Error(err))
	}
}

func (s *Session) broadcast(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.broadcastLocked(ev)
}

func (s *Session) broadcastLocked(ev Event) {
	for ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			// Drop the oldest event so a slow view never blocks the clock.
			select {
			case <-ch:
			default:
			}
			ch <- ev
		}
	}
}
