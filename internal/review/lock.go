package review

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// DecisionLock serializes staff decisions per applicant across replicas.
type DecisionLock interface {
	Acquire(ctx context.Context, applicantID string) (bool, error)
	Release(ctx context.Context, applicantID string) error
}

// RedisDecisionLock backs the lock with a SETNX key. The TTL outlasts the
// longest decision flow (a rejection waiting for its reason) so a crash
// never leaves an applicant permanently locked.
type RedisDecisionLock struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDecisionLock(client *redis.Client, ttl time.Duration) *RedisDecisionLock {
	return &RedisDecisionLock{client: client, ttl: ttl}
}

func (l *RedisDecisionLock) Acquire(ctx context.Context, applicantID string) (bool, error) {
	return l.client.SetNX(ctx, decisionKey(applicantID), "1", l.ttl).Result()
}

func (l *RedisDecisionLock) Release(ctx context.Context, applicantID string) error {
	return l.client.Del(ctx, decisionKey(applicantID)).Err()
}

func decisionKey(applicantID string) string {
	return "intake:decision:" + applicantID
}
