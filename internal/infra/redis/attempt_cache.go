package redis

import (
	"context"
	"encoding/json"
	"time"

	"quiz-attempt-engine/internal/app"
	"quiz-attempt-engine/internal/domain"
	"github.com/redis/go-redis/v9"
)

// AttemptViewCache decorates an attempt backend with cached reads of the "attempts for this
// quiz" and "current attempt" views. Writes through the decorator, and explicit calls to
// InvalidateAttemptViews, drop both views so the attempt policy sees fresh counts.
//
//	GET attempts:{userID}:{quizID}:list     -> JSON []Attempt
//	GET attempts:{userID}:{quizID}:current  -> JSON Attempt or "null"
type AttemptViewCache struct {
	app.AttemptAPI
	client *redis.Client
	ttl    time.Duration
}

func NewAttemptViewCache(api app.AttemptAPI, client *redis.Client, ttl time.Duration) *AttemptViewCache {
	return &AttemptViewCache{AttemptAPI: api, client: client, ttl: ttl}
}

func (c *AttemptViewCache) GetCurrentAttempt(ctx context.Context, userID, quizID string) (*domain.Attempt, error) {
	key := c.currentKey(userID, quizID)
	if data, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var cached *domain.Attempt
		if err := json.Unmarshal(data, &cached); err == nil {
			return cached, nil
		}
	}
	current, err := c.AttemptAPI.GetCurrentAttempt(ctx, userID, quizID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, current)
	return current, nil
}

func (c *AttemptViewCache) ListAttempts(ctx context.Context, userID, quizID string) ([]domain.Attempt, error) {
	key := c.listKey(userID, quizID)
	if data, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var cached []domain.Attempt
		if err := json.Unmarshal(data, &cached); err == nil {
			return cached, nil
		}
	}
	attempts, err := c.AttemptAPI.ListAttempts(ctx, userID, quizID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, attempts)
	return attempts, nil
}

func (c *AttemptViewCache) StartAttempt(ctx context.Context, userID, quizID string) (domain.Attempt, error) {
	attempt, err := c.AttemptAPI.StartAttempt(ctx, userID, quizID)
	if err != nil {
		return attempt, err
	}
	_ = c.InvalidateAttemptViews(ctx, userID, quizID)
	return attempt, nil
}

func (c *AttemptViewCache) SubmitAttempt(ctx context.Context, userID, attemptID string, answers []domain.AnswerPayload) (domain.Attempt, error) {
	attempt, err := c.AttemptAPI.SubmitAttempt(ctx, userID, attemptID, answers)
	if err != nil {
		return attempt, err
	}
	_ = c.InvalidateAttemptViews(ctx, userID, attempt.QuizID)
	return attempt, nil
}

// InvalidateAttemptViews implements app.ViewInvalidator.
func (c *AttemptViewCache) InvalidateAttemptViews(ctx context.Context, userID, quizID string) error {
	return c.client.Del(ctx, c.listKey(userID, quizID), c.currentKey(userID, quizID)).Err()
}

func (c *AttemptViewCache) store(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, key, data, c.ttl).Err()
}

func (c *AttemptViewCache) listKey(userID, quizID string) string {
	return "attempts:" + userID + ":" + quizID + ":list"
}

func (c *AttemptViewCache) currentKey(userID, quizID string) string {
	return "attempts:" + userID + ":" + quizID + ":current"
}
