package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"medstudy/internal/util"
	"medstudy/pkg/domain"
)

// CookieName is the session cookie the server issues on login.
const CookieName = "session_id"

// Session is the per-user working state: who is logged in, plus the study
// content currently loaded into the UI. Content fields are cleared when the
// user switches documents; auth fields survive until logout.
type Session struct {
	UserID    string `json:"userId"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	UserLevel string `json:"userLevel"`

	Summary          string            `json:"summary,omitempty"`
	ShortTitle       string            `json:"shortTitle,omitempty"`
	ContentHash      string            `json:"contentHash,omitempty"`
	OtherContentHash string            `json:"otherContentHash,omitempty"`
	ContentNames     []string          `json:"contentNames,omitempty"`
	QuizQuestions    []domain.Question `json:"quizQuestions,omitempty"`
	QuizAnswers      map[string]int    `json:"quizAnswers,omitempty"`
	QuizMode         bool              `json:"quizMode,omitempty"`
}

// ClearContent zeroes the loaded study content while keeping authentication.
func (s *Session) ClearContent() {
	s.Summary = ""
	s.ShortTitle = ""
	s.ContentHash = ""
	s.OtherContentHash = ""
	s.ContentNames = nil
	s.QuizQuestions = nil
	s.QuizAnswers = nil
	s.QuizMode = false
}

// RedisSessionStore keeps sessions in Redis as JSON with a sliding TTL:
// every read pushes the expiry forward.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &RedisSessionStore{client: client, ttl: ttl}
}

func sessionKey(token string) string {
	return "session:" + token
}

// New creates a session and returns its token.
func (s *RedisSessionStore) New(sess Session) (string, error) {
	if sess.UserID == "" {
		return "", fmt.Errorf("session requires a user id")
	}
	token := util.NewID()
	if err := s.Save(token, sess); err != nil {
		return "", err
	}
	return token, nil
}

// Get loads a session and extends its TTL.
func (s *RedisSessionStore) Get(token string) (Session, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	raw, err := s.client.Get(ctx, sessionKey(token)).Result()
	if err == redis.Nil {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return Session{}, false, fmt.Errorf("decode session: %w", err)
	}
	_ = s.client.Expire(ctx, sessionKey(token), s.ttl).Err()
	return sess, true, nil
}

// Save writes a session back, resetting the TTL.
func (s *RedisSessionStore) Save(token string, sess Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return s.client.Set(ctx, sessionKey(token), data, s.ttl).Err()
}

// Delete removes a session.
func (s *RedisSessionStore) Delete(token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.client.Del(ctx, sessionKey(token)).Err(); err != nil && err != redis.Nil {
		return err
	}
	return nil
}
