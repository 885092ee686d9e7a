package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// GenerationLock is a per-user Redis lock that keeps a user from running two
// quiz generations at once. The TTL bounds how long a crashed holder can
// block the next attempt.
type GenerationLock struct {
	client *redis.Client
	ttl    time.Duration
}

func NewGenerationLock(client *redis.Client, ttl time.Duration) *GenerationLock {
	if ttl <= 0 {
		ttl = 120 * time.Second
	}
	return &GenerationLock{client: client, ttl: ttl}
}

func (l *GenerationLock) key(userID string) string {
	return fmt.Sprintf("quiz_generation_lock:%s", userID)
}

// Acquire takes the lock for the user. Returns false when another generation
// already holds it.
func (l *GenerationLock) Acquire(ctx context.Context, userID string) (bool, error) {
	if strings.TrimSpace(userID) == "" {
		return false, fmt.Errorf("userId required")
	}
	return l.client.SetNX(ctx, l.key(userID), "1", l.ttl).Result()
}

// Release drops the lock. Safe to call when the lock has already expired.
func (l *GenerationLock) Release(ctx context.Context, userID string) error {
	return l.client.Del(ctx, l.key(userID)).Err()
}
