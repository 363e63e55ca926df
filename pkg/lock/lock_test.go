package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLock(t *testing.T) (*RedisLock, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	t.Cleanup(func() { _ = client.Close() })

	return NewRedisLock(client), mr
}

func TestNoopLockAlwaysAcquires(t *testing.T) {
	ctx := context.Background()
	l := NewNoopLock()

	release, ok, err := l.Acquire(ctx, "tenant-1", "inst-1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	release()

	_, ok, err = l.Acquire(ctx, "tenant-1", "inst-1", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockIsExclusivePerInstance(t *testing.T) {
	ctx := context.Background()
	l, _ := newRedisLock(t)

	release, ok, err := l.Acquire(ctx, "tenant-1", "inst-1", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// Same instance: held.
	_, ok, err = l.Acquire(ctx, "tenant-1", "inst-1", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	// Different instance: independent lock.
	otherRelease, ok, err := l.Acquire(ctx, "tenant-1", "inst-2", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	otherRelease()

	release()

	_, ok, err = l.Acquire(ctx, "tenant-1", "inst-1", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockExpiresWithTTL(t *testing.T) {
	ctx := context.Background()
	l, mr := newRedisLock(t)

	_, ok, err := l.Acquire(ctx, "tenant-1", "inst-1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = l.Acquire(ctx, "tenant-1", "inst-1", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStaleReleaseDoesNotFreeSuccessorLock(t *testing.T) {
	ctx := context.Background()
	l, mr := newRedisLock(t)

	staleRelease, ok, err := l.Acquire(ctx, "tenant-1", "inst-1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// The first holder's TTL lapses and a second worker takes over.
	mr.FastForward(2 * time.Second)

	_, ok, err = l.Acquire(ctx, "tenant-1", "inst-1", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// The expired holder releasing late must not delete the new token.
	staleRelease()

	_, ok, err = l.Acquire(ctx, "tenant-1", "inst-1", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "successor still holds the lock")
}
