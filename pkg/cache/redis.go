// Package cache opens the Redis connection shared by the weather cache and
// the real-time flight channels.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shiva/tailwind/config"
)

// ClientName tags Tailwind connections in CLIENT LIST.
const ClientName = "tailwind"

// NewRedisClient connects to Redis and pings it once.
//
// Weather lookups sit on the flight tick path, so reads and writes fail fast
// and the flight falls back to clear skies. Progress publishes run with their
// own deadline in the flight handler. REDIS_POOL_SIZE bounds the pool
// (default 50); a few idle connections are kept for tick bursts.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		ClientName:   ClientName,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 5,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s: ping failed: %w", cfg.Addr(), err)
	}

	return client, nil
}

// HealthCheck reports whether Redis answers within two seconds. A failure
// only degrades /health: weather lookups miss the cache and progress
// publishes are logged and dropped.
func HealthCheck(ctx context.Context, client *redis.Client) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return client.Ping(pingCtx).Err()
}
