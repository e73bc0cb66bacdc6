package redis_repository

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const modelCacheKey = "chatplan:models"

// redisModelCache keeps the raw remote model catalog under a single key
// with a TTL so every instance shares one remote fetch per period.
type redisModelCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewRedisModelCache(client *redis.Client, ttl time.Duration) *redisModelCache {
	return &redisModelCache{client: client, key: modelCacheKey, ttl: ttl}
}

func (r *redisModelCache) Get(ctx context.Context) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return val, true, nil
}

func (r *redisModelCache) Set(ctx context.Context, data []byte) error {
	return r.client.Set(ctx, r.key, data, r.ttl).Err()
}

func (r *redisModelCache) Invalidate(ctx context.Context) error {
	return r.client.Del(ctx, r.key).Err()
}
