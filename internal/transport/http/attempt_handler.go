package http

import (
	"encoding/json"
	"net/http"

	"quiz-attempt-engine/internal/app"
	"quiz-attempt-engine/internal/domain"
	"go.uber.org/zap"
)

// UserHeader carries the caller's user id. Authentication happens upstream.
const UserHeader = "X-User-ID"

// AttemptHandler serves the attempt backend over REST so other instances (lmsapi.Client)
// can use this one as their LMS.
type AttemptHandler struct {
	quizzes app.QuizRepository
	api     app.AttemptAPI
	logger  *zap.Logger
}

func NewAttemptHandler(quizzes app.QuizRepository, api app.AttemptAPI, logger *zap.Logger) *AttemptHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttemptHandler{quizzes: quizzes, api: api, logger: logger}
}

// SubmitRequest is the body of POST /api/attempts/{attemptID}/submit.
type SubmitRequest struct {
	Answers []domain.AnswerPayload `json:"answers"`
}

// Register mounts the REST routes on mux.
func (h *AttemptHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/quizzes/{quizID}", h.getQuiz)
	mux.HandleFunc("POST /api/quizzes/{quizID}/attempts", h.startAttempt)
	mux.HandleFunc("GET /api/quizzes/{quizID}/attempts", h.listAttempts)
	mux.HandleFunc("GET /api/quizzes/{quizID}/attempts/current", h.currentAttempt)
	mux.HandleFunc("POST /api/attempts/{attemptID}/submit", h.submitAttempt)
}

func (h *AttemptHandler) getQuiz(w http.ResponseWriter, r *http.Request) {
	quiz, err := h.quizzes.GetQuiz(r.Context(), r.PathValue("quizID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

func (h *AttemptHandler) startAttempt(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	attempt, err := h.api.StartAttempt(r.Context(), userID, r.PathValue("quizID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, attempt)
}

func (h *AttemptHandler) listAttempts(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	attempts, err := h.api.ListAttempts(r.Context(), userID, r.PathValue("quizID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if attempts == nil {
		attempts = []domain.Attempt{}
	}
	writeJSON(w, http.StatusOK, attempts)
}

func (h *AttemptHandler) currentAttempt(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	current, err := h.api.GetCurrentAttempt(r.Context(), userID, r.PathValue("quizID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if current == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, current)
}

func (h *AttemptHandler) submitAttempt(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid submit body", Code: "bad_request"})
		return
	}
	attempt, err := h.api.SubmitAttempt(r.Context(), userID, r.PathValue("attemptID"), req.Answers)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, attempt)
}

func (h *AttemptHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("attempt api", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeError(w, err)
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get(UserHeader)
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing " + UserHeader, Code: "bad_request"})
		return "", false
	}
	return userID, true
}
