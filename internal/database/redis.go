package database

import (
	"context"
	"fmt"
	"time"

	"github.com/lookmax/lookmax/backend/go-services/internal/config"
	"github.com/lookmax/lookmax/backend/go-services/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// ConnectRedis returns (nil, nil) when Redis is not configured.
func ConnectRedis(ctx context.Context, cfg config.RedisConfig) (redis.UniversalClient, error) {
	addr := cfg.Addr()
	if addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password, DB: cfg.DB})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	logger.Infof("connected to redis %s", addr)
	return client, nil
}
