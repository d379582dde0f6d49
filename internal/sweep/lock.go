package sweep

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker guards the sweep so only one worker runs it at a time.
type Locker interface {
	Acquire(ctx context.Context, key string) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

// RedisLock is a single-instance Redis lock: SET NX with a TTL, released only by the holder.
type RedisLock struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLock(client *redis.Client, ttl time.Duration) *RedisLock {
	// A short TTL frees the lock if the holder dies mid-sweep.
	return &RedisLock{client: client, ttl: ttl}
}

// NewRedisLockFromURL parses a redis:// URL.
func NewRedisLockFromURL(raw string, ttl time.Duration) (*RedisLock, *redis.Client, error) {
	opts, err := redis.ParseURL(raw)
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(opts)
	return NewRedisLock(client, ttl), client, nil
}

func (l *RedisLock) Acquire(ctx context.Context, key string) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *RedisLock) Release(ctx context.Context, key, token string) error {
	if key == "" || token == "" {
		return errors.New("key and token are required")
	}
	return releaseLua.Run(ctx, l.client, []string{key}, token).Err()
}

var releaseLua = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// NoLock always acquires. It is used when no Redis is configured and a single worker runs.
type NoLock struct{}

func (NoLock) Acquire(context.Context, string) (string, bool, error) { return "local", true, nil }
func (NoLock) Release(context.Context, string, string) error         { return nil }
