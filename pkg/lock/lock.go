// Package lock provides an optional advance-cycle lock. Correctness is
// guaranteed by the store's optimistic version check; the lock only
// reduces wasted work when many triggers target the same instance.
package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// AdvanceLock serializes advance cycles per workflow instance. Acquire
// is best-effort: ok=false means another worker holds the instance and
// the caller should back off and retry.
type AdvanceLock interface {
	Acquire(ctx context.Context, tenantID, instanceID string, ttl time.Duration) (release func(), ok bool, err error)
}

// NoopLock acquires unconditionally. The default when no Redis is
// configured: concurrent writers are still safe, the loser just burns
// one advance cycle on a version conflict.
type NoopLock struct{}

func NewNoopLock() *NoopLock {
	return &NoopLock{}
}

func (l *NoopLock) Acquire(ctx context.Context, tenantID, instanceID string, ttl time.Duration) (func(), bool, error) {
	return func() {}, true, nil
}

// RedisLock implements AdvanceLock with SET NX PX. Release is token
// checked so an expired holder cannot delete a successor's lock.
type RedisLock struct {
	client *redis.Client
}

func NewRedisLock(client *redis.Client) *RedisLock {
	return &RedisLock{client: client}
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *RedisLock) Acquire(ctx context.Context, tenantID, instanceID string, ttl time.Duration) (func(), bool, error) {
	key := "loom:advance:" + tenantID + ":" + instanceID
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}

	if !ok {
		return nil, false, nil
	}

	release := func() {
		// Release runs on a fresh context so a cancelled advance still
		// frees the lock.
		releaseScript.Run(context.Background(), l.client, []string{key}, token)
	}

	return release, true, nil
}
