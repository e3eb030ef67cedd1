package domain_test

import (
	"errors"
	"fmt"
	"testing"

	"quiz-attempt-engine/internal/domain"
)

func TestErrorCodeRoundTrip(t *testing.T) {
	wrapped := fmt.Errorf("%w: %w", domain.ErrSubmissionFailed, errors.New("503"))
	code := domain.ErrorCode(wrapped)
	if code != "submission_failed" {
		t.Fatalf("expected submission_failed, got %s", code)
	}
	if !errors.Is(domain.ErrorFromCode(code), domain.ErrSubmissionFailed) {
		t.Fatalf("expected sentinel back from code")
	}
	if domain.ErrorCode(errors.New("boom")) != "internal" {
		t.Fatalf("expected internal for unknown errors")
	}
	if domain.ErrorFromCode("nope") != nil {
		t.Fatalf("expected nil for unknown code")
	}
}
