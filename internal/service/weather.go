package service

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/shiva/tailwind/internal/model"
	"github.com/shiva/tailwind/pkg/geo"
	"github.com/shiva/tailwind/pkg/weather"
)

// ─── Collaborators ──────────────────────────────────────────

// WeatherFetcher is the upstream current-conditions provider.
type WeatherFetcher interface {
	Fetch(ctx context.Context, loc model.GeoPoint) (model.WeatherSample, error)
}

// WeatherCache stores samples under a rounded-location key.
type WeatherCache interface {
	Get(ctx context.Context, key string) (*model.WeatherSample, bool)
	Set(ctx context.Context, key string, sample model.WeatherSample, ttl time.Duration)
}

// ─── Configuration ──────────────────────────────────────────

// WeatherConfig holds the weather-service tunables.
type WeatherConfig struct {
	Timeout        time.Duration // Per upstream call.
	CacheTTL       time.Duration
	MaxConcurrent  int
	StormThreshold float64 // Storm intensity above which a reroute is advised.
}

// DefaultWeatherConfig returns the nominal weather parameters.
func DefaultWeatherConfig() WeatherConfig {
	return WeatherConfig{
		Timeout:        3 * time.Second,
		CacheTTL:       10 * time.Minute,
		MaxConcurrent:  8,
		StormThreshold: 0.6,
	}
}

const (
	minSpeedFactor = 0.5
	maxSpeedFactor = 1.25
)

// ─── WeatherService ─────────────────────────────────────────

// WeatherService resolves current weather with caching and graceful
// degradation: any upstream failure yields a neutral "clear" sample which is
// never cached.
type WeatherService struct {
	fetcher WeatherFetcher
	cache   WeatherCache
	cfg     WeatherConfig
	sem     *semaphore.Weighted
	group   singleflight.Group
	now     func() time.Time
}

// WeatherOption configures a WeatherService.
type WeatherOption func(*WeatherService)

// WithWeatherClock overrides the clock used for cache freshness.
func WithWeatherClock(now func() time.Time) WeatherOption {
	return func(s *WeatherService) { s.now = now }
}

// NewWeatherService creates a weather service.
func NewWeatherService(fetcher WeatherFetcher, cache WeatherCache, cfg WeatherConfig, opts ...WeatherOption) *WeatherService {
	def := DefaultWeatherConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.StormThreshold <= 0 {
		cfg.StormThreshold = def.StormThreshold
	}
	s := &WeatherService{
		fetcher: fetcher,
		cache:   cache,
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CacheKey buckets a location to one decimal place (~11 km).
func CacheKey(loc model.GeoPoint) string {
	return fmt.Sprintf("%.1f:%.1f", loc.Lat, loc.Lon)
}

// FetchWeather returns the current weather at loc. It never fails.
func (s *WeatherService) FetchWeather(ctx context.Context, loc model.GeoPoint) model.WeatherSample {
	key := CacheKey(loc)

	if cached, ok := s.cache.Get(ctx, key); ok && s.now().Sub(cached.ObservedAt) < s.cfg.CacheTTL {
		return *cached
	}

	// The fetch is shared by every caller of key, so it runs detached from
	// any one caller and is bounded by the fetch timeout alone.
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (interface{}, error) {
		sample, err := s.fetchUpstream(shared, loc)
		if err != nil {
			return nil, err
		}
		s.cache.Set(shared, key, sample, s.cfg.CacheTTL)
		return sample, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			log.Printf("[weather] Fetch failed for %s, defaulting to clear: %v", key, res.Err)
			return weather.Clear(loc, s.now())
		}
		return res.Val.(model.WeatherSample)
	case <-ctx.Done():
		log.Printf("[weather] Gave up waiting for %s, defaulting to clear: %v", key, ctx.Err())
		return weather.Clear(loc, s.now())
	}
}

func (s *WeatherService) fetchUpstream(ctx context.Context, loc model.GeoPoint) (model.WeatherSample, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return model.WeatherSample{}, fmt.Errorf("waiting for fetch slot: %w", err)
	}
	defer s.sem.Release(1)

	sample, err := s.fetcher.Fetch(ctx, loc)
	if err != nil {
		return model.WeatherSample{}, err
	}
	return sample, nil
}

// FetchWeatherForRoute samples weather at every waypoint. The result is
// positionally aligned with route.Path.
func (s *WeatherService) FetchWeatherForRoute(ctx context.Context, route *model.Route) []model.WeatherSample {
	if route == nil {
		return nil
	}
	samples := make([]model.WeatherSample, len(route.Path))

	var g errgroup.Group
	g.SetLimit(s.cfg.MaxConcurrent)
	for i, wp := range route.Path {
		i, loc := i, wp.Location
		g.Go(func() error {
			samples[i] = s.FetchWeather(ctx, loc)
			return nil
		})
	}
	_ = g.Wait()

	return samples
}

// ShouldRecalculateRoute reports whether w warrants replanning: only storms
// above the configured intensity threshold qualify.
func (s *WeatherService) ShouldRecalculateRoute(w model.WeatherSample) bool {
	return w.Kind == model.WeatherStorm && w.Intensity > s.cfg.StormThreshold
}

// CalculateFlightSpeed applies w to baseSpeed for a flight heading
// headingDeg. Wind scales with the cosine between the heading and the
// direction the wind blows toward (meteorological direction + 180°).
// The factor is clamped to [0.5, 1.25].
func CalculateFlightSpeed(baseSpeed float64, w *model.WeatherSample, headingDeg float64) float64 {
	if w == nil {
		return baseSpeed
	}

	factor := w.SpeedModifier
	if w.Kind == model.WeatherWind {
		toward := geo.NormalizeBearing(w.WindDirectionDeg + 180)
		delta := (headingDeg - toward) * math.Pi / 180
		factor = 1 + (w.SpeedModifier-1)*math.Cos(delta)
	}
	if factor == 0 || math.IsNaN(factor) {
		factor = 1
	}

	return baseSpeed * geo.Clamp(factor, minSpeedFactor, maxSpeedFactor)
}

// ─── In-memory cache ────────────────────────────────────────

type cacheEntry struct {
	sample  model.WeatherSample
	expires time.Time
}

// MemoryWeatherCache is a process-local WeatherCache. Expired entries behave
// as absent and are evicted on read.
type MemoryWeatherCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
}

// NewMemoryWeatherCache creates an empty cache. A nil now uses time.Now.
func NewMemoryWeatherCache(now func() time.Time) *MemoryWeatherCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryWeatherCache{entries: make(map[string]cacheEntry), now: now}
}

func (c *MemoryWeatherCache) Get(_ context.Context, key string) (*model.WeatherSample, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, key)
		return nil, false
	}
	sample := e.sample
	return &sample, true
}

func (c *MemoryWeatherCache) Set(_ context.Context, key string, sample model.WeatherSample, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{sample: sample, expires: c.now().Add(ttl)}
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryWeatherCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
