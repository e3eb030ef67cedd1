package redis

import (
	"context"
	"sync"
	"time"

	"quiz-attempt-engine/internal/app"
	"github.com/redis/go-redis/v9"
)

// SessionStore is a Redis-aware implementation of app.SessionRepository.
// Sessions themselves (clock goroutine, ledger, subscribers) live in this process; Redis
// only carries a liveness marker per session so operators and other instances can see
// which user+quiz pairs have an attempt view open here:
//
//	SET attempt:session:{userID}:{quizID} {attemptID} EX ttl
type SessionStore struct {
	client   *redis.Client
	ttl      time.Duration
	mu       sync.RWMutex
	sessions map[string]*app.Session
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{
		client:   client,
		ttl:      ttl,
		sessions: make(map[string]*app.Session),
	}
}

func (s *SessionStore) Get(key string) (*app.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[key]
	return session, ok
}

func (s *SessionStore) Put(key string, session *app.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[key] = session
	// best-effort liveness marker
	_ = s.client.Set(context.Background(), s.key(key), session.Attempt().ID, s.ttl).Err()
}

func (s *SessionStore) Remove(key string, session *app.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.sessions[key]
	if !ok || current != session {
		return
	}
	delete(s.sessions, key)
	_ = s.client.Del(context.Background(), s.key(key)).Err()
}

// LiveAttempt returns the attempt id marked live for key, by any instance.
func (s *SessionStore) LiveAttempt(ctx context.Context, key string) (string, bool) {
	id, err := s.client.Get(ctx, s.key(key)).Result()
	if err != nil {
		return "", false
	}
	return id, true
}

func (s *SessionStore) key(key string) string {
	return "attempt:session:" + key
}
