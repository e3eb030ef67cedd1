package lmsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"quiz-attempt-engine/internal/domain"
)

// UserHeader identifies the user on whose behalf a call is made.
const UserHeader = "X-User-ID"

// Client talks to a remote LMS over its REST attempt API. It implements app.AttemptAPI and
// serves as a quiz loader.
type Client struct {
	baseURL string
	http    *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the default client, e.g. with httptest's.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type submitRequest struct {
	Answers []domain.AnswerPayload `json:"answers"`
}

func (c *Client) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	var quiz domain.Quiz
	if _, err := c.do(ctx, http.MethodGet, "/api/quizzes/"+url.PathEscape(quizID), "", nil, &quiz); err != nil {
		return domain.Quiz{}, err
	}
	return quiz, nil
}

// GetQuiz lets the client serve as an uncached app.QuizRepository.
func (c *Client) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	return c.LoadQuiz(ctx, quizID)
}

func (c *Client) StartAttempt(ctx context.Context, userID, quizID string) (domain.Attempt, error) {
	var attempt domain.Attempt
	if _, err := c.do(ctx, http.MethodPost, attemptsPath(quizID), userID, nil, &attempt); err != nil {
		return domain.Attempt{}, err
	}
	return attempt, nil
}

func (c *Client) GetCurrentAttempt(ctx context.Context, userID, quizID string) (*domain.Attempt, error) {
	var attempt domain.Attempt
	status, err := c.do(ctx, http.MethodGet, attemptsPath(quizID)+"/current", userID, nil, &attempt)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return nil, nil
	}
	return &attempt, nil
}

func (c *Client) ListAttempts(ctx context.Context, userID, quizID string) ([]domain.Attempt, error) {
	var attempts []domain.Attempt
	if _, err := c.do(ctx, http.MethodGet, attemptsPath(quizID), userID, nil, &attempts); err != nil {
		return nil, err
	}
	return attempts, nil
}

func (c *Client) SubmitAttempt(ctx context.Context, userID, attemptID string, answers []domain.AnswerPayload) (domain.Attempt, error) {
	if answers == nil {
		answers = []domain.AnswerPayload{}
	}
	var attempt domain.Attempt
	path := "/api/attempts/" + url.PathEscape(attemptID) + "/submit"
	if _, err := c.do(ctx, http.MethodPost, path, userID, submitRequest{Answers: answers}, &attempt); err != nil {
		return domain.Attempt{}, err
	}
	return attempt, nil
}

// do sends one request and decodes a 2xx body into out. Error bodies carrying a known code
// come back as the matching domain sentinel.
func (c *Client) do(ctx context.Context, method, path, userID string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set(UserHeader, userID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var apiErr errorResponse
		if json.Unmarshal(raw, &apiErr) == nil {
			if sentinel := domain.ErrorFromCode(apiErr.Code); sentinel != nil {
				return resp.StatusCode, fmt.Errorf("%w: %s", sentinel, apiErr.Error)
			}
		}
		return resp.StatusCode, fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if resp.StatusCode == http.StatusNoContent || out == nil {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return resp.StatusCode, nil
}

func attemptsPath(quizID string) string {
	return "/api/quizzes/" + url.PathEscape(quizID) + "/attempts"
}
