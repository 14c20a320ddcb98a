package repository

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shiva/tailwind/internal/model"
)

const redisWeatherKeyPrefix = "weather:"

// WeatherCacheRepository stores weather samples in Redis so every server
// instance shares one upstream budget. Redis expires entries on its own.
//
// Cache errors are logged and treated as misses; weather lookups must never
// fail because Redis is down.
type WeatherCacheRepository struct {
	redis *redis.Client
}

// NewWeatherCacheRepository creates a new Redis-backed weather cache.
func NewWeatherCacheRepository(client *redis.Client) *WeatherCacheRepository {
	return &WeatherCacheRepository{redis: client}
}

func (r *WeatherCacheRepository) Get(ctx context.Context, key string) (*model.WeatherSample, bool) {
	data, err := r.redis.Get(ctx, redisWeatherKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		log.Printf("[weather-cache] Redis GET %s failed, treating as miss: %v", key, err)
		return nil, false
	}

	var s model.WeatherSample
	if err := json.Unmarshal(data, &s); err != nil {
		log.Printf("[weather-cache] Corrupt entry %s, ignoring: %v", key, err)
		return nil, false
	}
	return &s, true
}

func (r *WeatherCacheRepository) Set(ctx context.Context, key string, sample model.WeatherSample, ttl time.Duration) {
	data, err := json.Marshal(sample)
	if err != nil {
		return
	}
	if err := r.redis.Set(ctx, redisWeatherKeyPrefix+key, data, ttl).Err(); err != nil {
		log.Printf("[weather-cache] Redis SET %s failed: %v", key, err)
	}
}
