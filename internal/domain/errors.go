package domain

import "errors"

var (
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuestionNotFound indicates an answer references an unknown question.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrOptionNotFound indicates an answer references an option the question does not have.
	ErrOptionNotFound = errors.New("option not found")
	// ErrInvalidAnswer is returned when an answer does not match the question type.
	ErrInvalidAnswer = errors.New("answer does not match question type")
	// ErrAttemptNotFound is returned when an attempt id is unknown to the backend.
	ErrAttemptNotFound = errors.New("attempt not found")

	// ErrPolicyDenied: attempt limit reached. Not retryable.
	ErrPolicyDenied = errors.New("attempt limit reached")
	// ErrStartFailed: the backend could not start or resume an attempt. Retryable.
	ErrStartFailed = errors.New("start attempt failed")
	// ErrAlreadySubmitted: the attempt is terminal or a submission is already under way.
	ErrAlreadySubmitted = errors.New("attempt already submitted")
	// ErrSubmissionFailed: the backend rejected or never answered the submit call. Retryable.
	ErrSubmissionFailed = errors.New("submission failed")
	// ErrInvalidMutation: answer or submit on an attempt that is not in progress.
	ErrInvalidMutation = errors.New("attempt is not in progress")
)

// Wire codes let errors cross the REST boundary and come back as the same sentinel.
var errorCodes = []struct {
	code string
	err  error
}{
	{"quiz_not_found", ErrQuizNotFound},
	{"question_not_found", ErrQuestionNotFound},
	{"option_not_found", ErrOptionNotFound},
	{"invalid_answer", ErrInvalidAnswer},
	{"attempt_not_found", ErrAttemptNotFound},
	{"policy_denied", ErrPolicyDenied},
	{"start_failed", ErrStartFailed},
	{"already_submitted", ErrAlreadySubmitted},
	{"submission_failed", ErrSubmissionFailed},
	{"invalid_mutation", ErrInvalidMutation},
}

// ErrorCode returns the wire code of the first sentinel err wraps, or "internal".
func ErrorCode(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

// ErrorFromCode maps a wire code back to its sentinel; unknown codes yield nil.
func ErrorFromCode(code string) error {
	for _, c := range errorCodes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}
