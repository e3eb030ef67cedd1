package domain

import "time"

// QuestionType determines which answer shape a question accepts.
type QuestionType string

const (
	SingleChoice   QuestionType = "single_choice"
	MultipleChoice QuestionType = "multiple_choice"
	TrueFalse      QuestionType = "true_false"
	Essay          QuestionType = "essay"
)

// Option represents a possible answer for a choice question.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question is read-only input; correctness lives with the grader.
type Question struct {
	ID      string       `json:"id"`
	Type    QuestionType `json:"type"`
	Prompt  string       `json:"prompt"`
	Points  int          `json:"points"`
	Options []Option     `json:"options,omitempty"`
}

// HasOption reports whether optionID belongs to the question.
func (q Question) HasOption(optionID string) bool {
	for _, opt := range q.Options {
		if opt.ID == optionID {
			return true
		}
	}
	return false
}

// Quiz is the attempt configuration plus its ordered questions.
type Quiz struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	DurationMinutes int        `json:"duration_minutes"` // 0 = unlimited time
	PassingScore    int        `json:"passing_score"`
	MaxAttempts     int        `json:"max_attempts"` // 0 = unlimited attempts
	IsPractice      bool       `json:"is_practice"`
	Questions       []Question `json:"questions"`
}

// QuestionIDs returns question ids in quiz order.
func (q Quiz) QuestionIDs() []string {
	ids := make([]string, 0, len(q.Questions))
	for _, question := range q.Questions {
		ids = append(ids, question.ID)
	}
	return ids
}

// Question looks up a question by id.
func (q Quiz) Question(id string) (Question, bool) {
	for _, question := range q.Questions {
		if question.ID == id {
			return question, true
		}
	}
	return Question{}, false
}

// AttemptStatus is the lifecycle state of an attempt.
type AttemptStatus string

const (
	StatusNotStarted AttemptStatus = "not_started"
	StatusInProgress AttemptStatus = "in_progress"
	StatusSubmitted  AttemptStatus = "submitted"
	StatusGraded     AttemptStatus = "graded"
)

// IsTerminal reports whether the attempt can no longer change on the client.
func (s AttemptStatus) IsTerminal() bool {
	return s == StatusSubmitted || s == StatusGraded
}

// Attempt mirrors the server-side attempt record.
type Attempt struct {
	ID          string        `json:"id"`
	QuizID      string        `json:"quiz_id"`
	UserID      string        `json:"user_id"`
	Status      AttemptStatus `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	SubmittedAt *time.Time    `json:"submitted_at,omitempty"`
	Ordinal     int           `json:"ordinal"`
}

// CountSubmitted returns how many attempts consumed a slot (submitted or graded).
func CountSubmitted(attempts []Attempt) int {
	n := 0
	for _, a := range attempts {
		if a.Status.IsTerminal() {
			n++
		}
	}
	return n
}

// Answer holds one question's answer. Only the field matching the question type is used:
// OptionID for single_choice/true_false, OptionIDs for multiple_choice, Text for essay.
type Answer struct {
	OptionID  string   `json:"optionId,omitempty"`
	OptionIDs []string `json:"optionIds,omitempty"`
	Text      string   `json:"text,omitempty"`
}

// IsEmpty reports whether the answer carries no selection at all.
func (a Answer) IsEmpty() bool {
	return a.OptionID == "" && len(a.OptionIDs) == 0 && a.Text == ""
}

// AnswerPayload is the wire entry sent to submitAttempt.
type AnswerPayload struct {
	QuestionID       string   `json:"question_id"`
	SelectedOptionID *string  `json:"selected_option_id,omitempty"`
	SelectedOptions  []string `json:"selected_options,omitempty"`
	Content          *string  `json:"content,omitempty"`
}
