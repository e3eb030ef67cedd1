package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"quiz-attempt-engine/internal/domain"
)

func doJSON(t *testing.T, srv *testServer, method, path, userID string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if userID != "" {
		req.Header.Set(UserHeader, userID)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestAttemptAPIFlow(t *testing.T) {
	srv := newTestServer(t, sampleQuizzes())

	var quiz domain.Quiz
	if status := doJSON(t, srv, http.MethodGet, "/api/quizzes/quiz-1", "", nil, &quiz); status != http.StatusOK {
		t.Fatalf("get quiz status %d", status)
	}
	if len(quiz.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %+v", quiz)
	}

	if status := doJSON(t, srv, http.MethodGet, "/api/quizzes/quiz-1/attempts/current", "u1", nil, nil); status != http.StatusNoContent {
		t.Fatalf("expected 204 without current attempt, got %d", status)
	}

	var attempt domain.Attempt
	if status := doJSON(t, srv, http.MethodPost, "/api/quizzes/quiz-1/attempts", "u1", nil, &attempt); status != http.StatusCreated {
		t.Fatalf("start status %d", status)
	}

	var resumed domain.Attempt
	if status := doJSON(t, srv, http.MethodPost, "/api/quizzes/quiz-1/attempts", "u1", nil, &resumed); status != http.StatusCreated {
		t.Fatalf("second start status %d", status)
	}
	if resumed.ID != attempt.ID {
		t.Fatalf("expected in-progress attempt returned, got %s vs %s", resumed.ID, attempt.ID)
	}

	text := "adding numbers"
	body := SubmitRequest{Answers: []domain.AnswerPayload{{QuestionID: "q2", Content: &text}}}
	var apiErr errorResponse
	if status := doJSON(t, srv, http.MethodPost, "/api/attempts/"+attempt.ID+"/submit", "", body, &apiErr); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for submit without user, got %d", status)
	}
	if status := doJSON(t, srv, http.MethodPost, "/api/attempts/"+attempt.ID+"/submit", "u2", body, &apiErr); status != http.StatusNotFound {
		t.Fatalf("expected 404 for another user's attempt, got %d", status)
	}

	var submitted domain.Attempt
	if status := doJSON(t, srv, http.MethodPost, "/api/attempts/"+attempt.ID+"/submit", "u1", body, &submitted); status != http.StatusOK {
		t.Fatalf("submit status %d", status)
	}
	if submitted.Status != domain.StatusSubmitted {
		t.Fatalf("expected submitted, got %s", submitted.Status)
	}

	if status := doJSON(t, srv, http.MethodPost, "/api/attempts/"+attempt.ID+"/submit", "u1", body, &apiErr); status != http.StatusConflict {
		t.Fatalf("expected 409, got %d", status)
	}
	if apiErr.Code != "already_submitted" {
		t.Fatalf("expected already_submitted code, got %+v", apiErr)
	}

	if status := doJSON(t, srv, http.MethodPost, "/api/quizzes/quiz-1/attempts", "u1", nil, &apiErr); status != http.StatusForbidden {
		t.Fatalf("expected 403 after max attempts, got %d", status)
	}

	var list []domain.Attempt
	if status := doJSON(t, srv, http.MethodGet, "/api/quizzes/quiz-1/attempts", "u1", nil, &list); status != http.StatusOK {
		t.Fatalf("list status %d", status)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(list))
	}
}

func TestAttemptAPIErrors(t *testing.T) {
	srv := newTestServer(t, sampleQuizzes())
	var apiErr errorResponse

	if status := doJSON(t, srv, http.MethodGet, "/api/quizzes/missing", "", nil, &apiErr); status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
	if status := doJSON(t, srv, http.MethodPost, "/api/quizzes/quiz-1/attempts", "", nil, &apiErr); status != http.StatusBadRequest {
		t.Fatalf("expected 400 without user, got %d", status)
	}
	if status := doJSON(t, srv, http.MethodPost, "/api/attempts/nope/submit", "u1", SubmitRequest{}, &apiErr); status != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown attempt, got %d", status)
	}
	if apiErr.Code != "attempt_not_found" {
		t.Fatalf("expected attempt_not_found, got %+v", apiErr)
	}
}
