package app

import "quiz-attempt-engine/internal/domain"

// Ledger holds the current answer per question of one in-progress attempt. It does not
// check answers against question types; callers serialise access.
type Ledger struct {
	answers map[string]domain.Answer
	frozen  bool
}

func NewLedger() *Ledger {
	return &Ledger{answers: make(map[string]domain.Answer)}
}

// Set overwrites the answer for questionID. An empty answer clears it.
func (l *Ledger) Set(questionID string, answer domain.Answer) error {
	if l.frozen {
		return domain.ErrInvalidMutation
	}
	if answer.IsEmpty() {
		delete(l.answers, questionID)
		return nil
	}
	if len(answer.OptionIDs) > 0 {
		answer.OptionIDs = append([]string(nil), answer.OptionIDs...)
	}
	l.answers[questionID] = answer
	return nil
}

// Get returns the stored answer; ok is false for unanswered questions.
func (l *Ledger) Get(questionID string) (domain.Answer, bool) {
	answer, ok := l.answers[questionID]
	return answer, ok
}

// UnansweredCount counts ids with no stored answer.
func (l *Ledger) UnansweredCount(questionIDs []string) int {
	n := 0
	for _, id := range questionIDs {
		if _, ok := l.answers[id]; !ok {
			n++
		}
	}
	return n
}

// Len is the number of answered questions.
func (l *Ledger) Len() int {
	return len(l.answers)
}

// Snapshot copies the ledger contents.
func (l *Ledger) Snapshot() map[string]domain.Answer {
	out := make(map[string]domain.Answer, len(l.answers))
	for id, answer := range l.answers {
		if len(answer.OptionIDs) > 0 {
			answer.OptionIDs = append([]string(nil), answer.OptionIDs...)
		}
		out[id] = answer
	}
	return out
}

// Freeze rejects every later Set with ErrInvalidMutation.
func (l *Ledger) Freeze() {
	l.frozen = true
}

// Frozen reports whether Freeze was called.
func (l *Ledger) Frozen() bool {
	return l.frozen
}
