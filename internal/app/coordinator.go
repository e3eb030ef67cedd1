package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"quiz-attempt-engine/internal/domain"
	"go.uber.org/zap"
)

// SubmitRequest carries everything needed to submit one attempt. The attempt id is always
// explicit so that open attempts never share state.
type SubmitRequest struct {
	AttemptID string
	UserID    string
	QuizID    string
	Questions []domain.Question
	Answers   map[string]domain.Answer
}

type submitState int

const (
	submitInFlight submitState = iota + 1
	submitSettled
)

// Coordinator performs at-most-once submissions keyed by attempt id.
type Coordinator struct {
	api         AttemptSubmitter
	invalidator ViewInvalidator
	logger      *zap.Logger

	mu     sync.Mutex
	states map[string]submitState
}

func NewCoordinator(api AttemptSubmitter, invalidator ViewInvalidator, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		api:         api,
		invalidator: invalidator,
		logger:      logger,
		states:      make(map[string]submitState),
	}
}

// Submit sends the answered questions of req to the backend. While a call for the same
// attempt is in flight, or after one succeeded, further calls fail locally with
// ErrAlreadySubmitted. A failed call releases the attempt so the user can retry; the error
// wraps ErrSubmissionFailed and the cause.
func (c *Coordinator) Submit(ctx context.Context, req SubmitRequest) (domain.Attempt, error) {
	c.mu.Lock()
	if _, busy := c.states[req.AttemptID]; busy {
		c.mu.Unlock()
		return domain.Attempt{}, domain.ErrAlreadySubmitted
	}
	c.states[req.AttemptID] = submitInFlight
	c.mu.Unlock()

	payload := BuildPayload(req.Questions, req.Answers)
	attempt, err := c.api.SubmitAttempt(ctx, req.UserID, req.AttemptID, payload)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadySubmitted) {
			// The backend already holds a terminal record for this attempt.
			c.settle(req.AttemptID)
			c.invalidate(ctx, req)
			return domain.Attempt{}, err
		}
		c.mu.Lock()
		delete(c.states, req.AttemptID)
		c.mu.Unlock()
		return domain.Attempt{}, fmt.Errorf("%w: %w", domain.ErrSubmissionFailed, err)
	}

	c.settle(req.AttemptID)
	c.invalidate(ctx, req)
	c.logger.Info("attempt submitted",
		zap.String("attempt_id", req.AttemptID),
		zap.Int("answers", len(payload)))
	return attempt, nil
}

// Settled reports whether the backend has a terminal record for attemptID.
func (c *Coordinator) Settled(attemptID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[attemptID] == submitSettled
}

// Forget drops the guard for an attempt whose session has been torn down.
func (c *Coordinator) Forget(attemptID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.states[attemptID] == submitSettled {
		delete(c.states, attemptID)
	}
}

func (c *Coordinator) settle(attemptID string) {
	c.mu.Lock()
	c.states[attemptID] = submitSettled
	c.mu.Unlock()
}

func (c *Coordinator) invalidate(ctx context.Context, req SubmitRequest) {
	if c.invalidator == nil {
		return
	}
	if err := c.invalidator.InvalidateAttemptViews(ctx, req.UserID, req.QuizID); err != nil {
		c.logger.Warn("invalidate attempt views",
			zap.String("attempt_id", req.AttemptID),
			zap.Error(err))
	}
}

// BuildPayload converts answers into wire entries in question order. Unanswered questions
// and answers whose shape does not fit the question type produce no entry.
func BuildPayload(questions []domain.Question, answers map[string]domain.Answer) []domain.AnswerPayload {
	payload := make([]domain.AnswerPayload, 0, len(answers))
	for _, q := range questions {
		answer, ok := answers[q.ID]
		if !ok || answer.IsEmpty() {
			continue
		}
		entry := domain.AnswerPayload{QuestionID: q.ID}
		switch q.Type {
		case domain.SingleChoice, domain.TrueFalse:
			if answer.OptionID == "" {
				continue
			}
			id := answer.OptionID
			entry.SelectedOptionID = &id
		case domain.MultipleChoice:
			if len(answer.OptionIDs) == 0 {
				continue
			}
			entry.SelectedOptions = orderOptions(q, answer.OptionIDs)
		case domain.Essay:
			if answer.Text == "" {
				continue
			}
			text := answer.Text
			entry.Content = &text
		default:
			continue
		}
		payload = append(payload, entry)
	}
	return payload
}

// orderOptions returns ids in the question's option order; unknown ids keep their relative
// order at the end.
func orderOptions(q domain.Question, ids []string) []string {
	rank := make(map[string]int, len(q.Options))
	for i, opt := range q.Options {
		rank[opt.ID] = i
	}
	out := append([]string(nil), ids...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, okI := rank[out[i]]
		rj, okJ := rank[out[j]]
		switch {
		case okI && okJ:
			return ri < rj
		case okI:
			return true
		default:
			return false
		}
	})
	return out
}

// ValidateAnswer checks that answer has the shape question expects and only references
// options the question offers. Empty answers are valid and clear the question.
func ValidateAnswer(question domain.Question, answer domain.Answer) error {
	if answer.IsEmpty() {
		return nil
	}
	switch question.Type {
	case domain.SingleChoice, domain.TrueFalse:
		if answer.OptionID == "" || len(answer.OptionIDs) > 0 || answer.Text != "" {
			return fmt.Errorf("%w: %s expects one option", domain.ErrInvalidAnswer, question.Type)
		}
		if len(question.Options) > 0 && !question.HasOption(answer.OptionID) {
			return fmt.Errorf("%w: %s", domain.ErrOptionNotFound, answer.OptionID)
		}
	case domain.MultipleChoice:
		if answer.OptionID != "" || answer.Text != "" {
			return fmt.Errorf("%w: %s expects a set of options", domain.ErrInvalidAnswer, question.Type)
		}
		seen := make(map[string]struct{}, len(answer.OptionIDs))
		for _, id := range answer.OptionIDs {
			if _, dup := seen[id]; dup {
				return fmt.Errorf("%w: duplicate option %s", domain.ErrInvalidAnswer, id)
			}
			seen[id] = struct{}{}
			if !question.HasOption(id) {
				return fmt.Errorf("%w: %s", domain.ErrOptionNotFound, id)
			}
		}
	case domain.Essay:
		if answer.OptionID != "" || len(answer.OptionIDs) > 0 {
			return fmt.Errorf("%w: essay expects text", domain.ErrInvalidAnswer)
		}
	default:
		return fmt.Errorf("%w: unknown question type %q", domain.ErrInvalidAnswer, question.Type)
	}
	return nil
}
