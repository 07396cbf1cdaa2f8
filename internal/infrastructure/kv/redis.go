package kv

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// compareDeleteScript atomically deletes key only if its current value
// equals the expected argument, giving lock release single-holder
// semantics without a round-trip race between GET and DEL.
const compareDeleteScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`

// RedisStore adapts a go-redis client to the Store capability set.
type RedisStore struct {
	client *redis.Client
	script *redis.Script
}

// NewRedisStore wraps an already-configured redis.Client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		script: redis.NewScript(compareDeleteScript),
	}
}

func (r *RedisStore) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisStore) CompareDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	res, err := r.script.Run(ctx, r.client, []string{key}, expected).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Close closes the underlying redis client. The DI wiring does not
// register it with a shutdown phase.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
