package app

import (
	"fmt"

	"quiz-attempt-engine/internal/domain"
)

// Unlimited is reported as RemainingAttempts when the quiz has no attempt cap.
const Unlimited = -1

// Decision is the outcome of an attempt policy check.
type Decision struct {
	Allowed bool `json:"allowed"`
	// Resume is set when an in-progress attempt exists; no new attempt is created.
	Resume            bool   `json:"resume"`
	Used              int    `json:"used"`
	MaxAttempts       int    `json:"maxAttempts"`
	RemainingAttempts int    `json:"remainingAttempts"`
	Reason            string `json:"reason,omitempty"`
}

// Err returns nil for allowed decisions and a wrapped ErrPolicyDenied otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s", domain.ErrPolicyDenied, d.Reason)
}

// EvaluatePolicy decides whether a user may start an attempt on quiz.
//
// Practice quizzes always allow a new attempt. A MaxAttempts of zero means the quiz has no
// attempt cap; this is the documented contract, not a missing value. Only submitted or
// graded attempts count toward the cap.
func EvaluatePolicy(quiz domain.Quiz, submittedCount int, hasInProgress bool) Decision {
	d := Decision{
		Used:              submittedCount,
		MaxAttempts:       quiz.MaxAttempts,
		RemainingAttempts: Unlimited,
	}
	if !quiz.IsPractice && quiz.MaxAttempts > 0 {
		d.RemainingAttempts = quiz.MaxAttempts - submittedCount
		if d.RemainingAttempts < 0 {
			d.RemainingAttempts = 0
		}
	}

	switch {
	case hasInProgress:
		d.Allowed = true
		d.Resume = true
	case quiz.IsPractice, quiz.MaxAttempts <= 0:
		d.Allowed = true
	case submittedCount < quiz.MaxAttempts:
		d.Allowed = true
	default:
		d.Reason = fmt.Sprintf("%d of %d attempts used", submittedCount, quiz.MaxAttempts)
	}
	return d
}
