package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyPrefix     = "idempotency:"
	defaultIdempotencyKeyTTL = 24 * time.Hour
)

var releaseIdempotencyScript = redis.NewScript(`
local key = KEYS[1]
local owner = ARGV[1]

if redis.call('GET', key) == owner then
	return redis.call('DEL', key)
end

return 0
`)

type RedisAdapter struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisAdapter(client *redis.Client, ttl time.Duration) *RedisAdapter {
	if ttl <= 0 {
		ttl = defaultIdempotencyKeyTTL
	}
	return &RedisAdapter{client: client, ttl: ttl}
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key, owner string) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyKeyPrefix+key, owner, r.ttl).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key, owner string) error {
	return releaseIdempotencyScript.Run(ctx, r.client, []string{idempotencyKeyPrefix + key}, owner).Err()
}
