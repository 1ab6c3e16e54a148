package intake

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionGuard enforces at most one active intake session per applicant,
// surviving process restarts.
type SessionGuard interface {
	Acquire(ctx context.Context, applicantID string) (bool, error)
	Release(ctx context.Context, applicantID string) error
}

// RedisSessionGuard backs the guard with a SETNX key. The TTL covers the
// worst-case session length so a crashed replica cannot wedge an applicant
// out forever.
type RedisSessionGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSessionGuard(client *redis.Client, ttl time.Duration) *RedisSessionGuard {
	return &RedisSessionGuard{client: client, ttl: ttl}
}

func (g *RedisSessionGuard) Acquire(ctx context.Context, applicantID string) (bool, error) {
	return g.client.SetNX(ctx, sessionKey(applicantID), "1", g.ttl).Result()
}

func (g *RedisSessionGuard) Release(ctx context.Context, applicantID string) error {
	return g.client.Del(ctx, sessionKey(applicantID)).Err()
}

func sessionKey(applicantID string) string {
	return "intake:session:" + applicantID
}
