package identity

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/lookmax/lookmax/backend/go-services/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisCache stores users as JSON under "identity:user:<id>" with a TTL.
// The TTL bounds how stale a cached entitlement can be when an invalidation
// is lost.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, prefix: "identity:user:"}
}

func (c *RedisCache) key(id string) string { return c.prefix + id }

func (c *RedisCache) Get(ctx context.Context, userID string) (*models.User, error) {
	b, err := c.client.Get(ctx, c.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var u models.User
	if err := json.Unmarshal(b, &u); err != nil {
		_ = c.client.Del(ctx, c.key(userID)).Err()
		return nil, nil
	}
	return &u, nil
}

func (c *RedisCache) Set(ctx context.Context, u *models.User) error {
	if c.ttl <= 0 {
		return nil
	}
	b, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(u.ID), b, c.ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, userID string) error {
	return c.client.Del(ctx, c.key(userID)).Err()
}
