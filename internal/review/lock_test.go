package review

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLockUnderTest(t *testing.T, ttl time.Duration) (*RedisDecisionLock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisDecisionLock(client, ttl), mr
}

func TestRedisDecisionLock_SerializesPerApplicant(t *testing.T) {
	l, _ := newLockUnderTest(t, time.Minute)
	ctx := context.Background()

	ok, err := l.Acquire(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Acquire(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.Acquire(ctx, "user-2")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, l.Release(ctx, "user-1"))
	ok, err = l.Acquire(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisDecisionLock_TTLUnwedgesCrashedHolder(t *testing.T) {
	l, mr := newLockUnderTest(t, 2*time.Minute)
	ctx := context.Background()

	ok, err := l.Acquire(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2*time.Minute + time.Second)

	ok, err = l.Acquire(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, ok)
}
