package pointer

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisPointerPrefix = "avatar:pointer:"
	redisNamePrefix    = "profile:name:"
)

// RedisRepository keeps pointers in Redis. A TTL of zero keeps them forever.
type RedisRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRepository(client *redis.Client, ttl time.Duration) *RedisRepository {
	return &RedisRepository{client: client, ttl: ttl}
}

func (r *RedisRepository) Get(ctx context.Context, ownerID string) (string, error) {
	value, err := r.client.Get(ctx, redisPointerPrefix+ownerID).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (r *RedisRepository) Set(ctx context.Context, ownerID, value string) error {
	if value == "" {
		return r.client.Del(ctx, redisPointerPrefix+ownerID).Err()
	}
	return r.client.Set(ctx, redisPointerPrefix+ownerID, value, r.ttl).Err()
}

func (r *RedisRepository) DisplayName(ctx context.Context, ownerID string) (string, error) {
	name, err := r.client.Get(ctx, redisNamePrefix+ownerID).Result()
	if err == redis.Nil {
		return "", nil
	}
	return name, err
}
