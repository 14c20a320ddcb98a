package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiva/tailwind/internal/model"
)

type mutableNow struct {
	mu  sync.Mutex
	now time.Time
}

func (m *mutableNow) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *mutableNow) Add(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

func newTestWeather(fetcher WeatherFetcher, now func() time.Time) (*WeatherService, *MemoryWeatherCache) {
	cache := NewMemoryWeatherCache(now)
	return NewWeatherService(fetcher, cache, DefaultWeatherConfig(), WithWeatherClock(now)), cache
}

func TestFetchWeather_CachesByRoundedLocation(t *testing.T) {
	clock := &mutableNow{now: t0}
	fetcher := &fakeFetcher{}
	svc, _ := newTestWeather(fetcher, clock.Now)
	ctx := context.Background()

	svc.FetchWeather(ctx, model.GeoPoint{Lat: 51.51, Lon: -0.12})
	svc.FetchWeather(ctx, model.GeoPoint{Lat: 51.52, Lon: -0.14})
	assert.Equal(t, 1, fetcher.count(), "same 0.1° bucket should hit the cache")

	svc.FetchWeather(ctx, model.GeoPoint{Lat: 48.85, Lon: 2.35})
	assert.Equal(t, 2, fetcher.count())
}

func TestFetchWeather_ExpiredEntryRefetched(t *testing.T) {
	clock := &mutableNow{now: t0}
	fetcher := &fakeFetcher{}
	fetcher.set(func(loc model.GeoPoint) (model.WeatherSample, error) {
		return model.WeatherSample{Kind: model.WeatherClear, SpeedModifier: 1, Location: loc, ObservedAt: clock.Now()}, nil
	})
	svc, _ := newTestWeather(fetcher, clock.Now)
	ctx := context.Background()

	svc.FetchWeather(ctx, london)
	clock.Add(9 * time.Minute)
	svc.FetchWeather(ctx, london)
	assert.Equal(t, 1, fetcher.count())

	clock.Add(2 * time.Minute)
	svc.FetchWeather(ctx, london)
	assert.Equal(t, 2, fetcher.count())
}

func TestFetchWeather_FailureDegradesToClearAndIsNotCached(t *testing.T) {
	clock := &mutableNow{now: t0}
	fetcher := &fakeFetcher{}
	fetcher.set(func(model.GeoPoint) (model.WeatherSample, error) {
		return model.WeatherSample{}, errUpstream
	})
	svc, cache := newTestWeather(fetcher, clock.Now)
	ctx := context.Background()

	s := svc.FetchWeather(ctx, london)
	assert.Equal(t, model.WeatherClear, s.Kind)
	assert.Equal(t, 1.0, s.SpeedModifier)
	assert.Equal(t, 0, cache.Len())

	svc.FetchWeather(ctx, london)
	assert.Equal(t, 2, fetcher.count())
}

// gatedFetcher blocks every fetch until release is closed or the fetch
// context ends.
type gatedFetcher struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (f *gatedFetcher) Fetch(ctx context.Context, loc model.GeoPoint) (model.WeatherSample, error) {
	f.once.Do(func() { close(f.started) })

	select {
	case <-f.release:
		return model.WeatherSample{Kind: model.WeatherStorm, Intensity: 0.9, SpeedModifier: 0.6, Location: loc, ObservedAt: t0}, nil
	case <-ctx.Done():
		return model.WeatherSample{}, ctx.Err()
	}
}

func TestFetchWeather_SharedFetchOutlivesCancelledCaller(t *testing.T) {
	fetcher := &gatedFetcher{started: make(chan struct{}), release: make(chan struct{})}
	svc, _ := newTestWeather(fetcher, func() time.Time { return t0 })
	at := model.GeoPoint{Lat: 51.5, Lon: -0.1}

	first, cancel := context.WithCancel(context.Background())
	firstDone := make(chan model.WeatherSample, 1)
	go func() { firstDone <- svc.FetchWeather(first, at) }()
	<-fetcher.started

	secondDone := make(chan model.WeatherSample, 1)
	go func() { secondDone <- svc.FetchWeather(context.Background(), at) }()

	cancel()
	assert.Equal(t, model.WeatherClear, (<-firstDone).Kind)

	close(fetcher.release)
	got := <-secondDone
	assert.Equal(t, model.WeatherStorm, got.Kind)

	// The shared result was cached despite the first caller leaving.
	again := svc.FetchWeather(context.Background(), at)
	assert.Equal(t, model.WeatherStorm, again.Kind)
}

func TestFetchWeatherForRoute_Aligned(t *testing.T) {
	clock := &mutableNow{now: t0}
	fetcher := &fakeFetcher{}
	fetcher.set(func(loc model.GeoPoint) (model.WeatherSample, error) {
		return model.WeatherSample{Kind: model.WeatherRain, Intensity: 0.2, SpeedModifier: 0.94, Location: loc, ObservedAt: t0}, nil
	})
	svc, _ := newTestWeather(fetcher, clock.Now)

	route, err := newTestRouter().CalculateRoute(london, newYork)
	require.NoError(t, err)

	samples := svc.FetchWeatherForRoute(context.Background(), route)
	require.Len(t, samples, len(route.Path))
	for i, s := range samples {
		assert.Equal(t, model.WeatherRain, s.Kind, "sample %d", i)
		assert.Equal(t, CacheKey(route.Path[i].Location), CacheKey(s.Location))
	}
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "51.5:-0.1", CacheKey(model.GeoPoint{Lat: 51.5074, Lon: -0.1278}))
	assert.Equal(t, "40.7:-74.0", CacheKey(model.GeoPoint{Lat: 40.7128, Lon: -74.0060}))
}

func TestCalculateFlightSpeed(t *testing.T) {
	base := 500.0

	assert.Equal(t, base, CalculateFlightSpeed(base, nil, 0))

	calm := &model.WeatherSample{Kind: model.WeatherClear, SpeedModifier: 1}
	assert.Equal(t, base, CalculateFlightSpeed(base, calm, 90))

	rain := &model.WeatherSample{Kind: model.WeatherRain, Intensity: 0.5, SpeedModifier: 0.85}
	assert.InDelta(t, 425, CalculateFlightSpeed(base, rain, 90), 1e-9)

	storm := &model.WeatherSample{Kind: model.WeatherStorm, Intensity: 1, SpeedModifier: 0.3}
	assert.InDelta(t, 250, CalculateFlightSpeed(base, storm, 0), 1e-9, "clamped to half speed")
}

func TestCalculateFlightSpeed_WindDirection(t *testing.T) {
	base := 500.0
	// Wind from the west (270°) blows toward the east (90°).
	wind := &model.WeatherSample{Kind: model.WeatherWind, Intensity: 1, SpeedModifier: 1.25, WindDirectionDeg: 270}

	tail := CalculateFlightSpeed(base, wind, 90)
	head := CalculateFlightSpeed(base, wind, 270)
	cross := CalculateFlightSpeed(base, wind, 0)

	assert.InDelta(t, 625, tail, 1e-6)
	assert.InDelta(t, 375, head, 1e-6)
	assert.InDelta(t, 500, cross, 1e-6)

	for h := 0.0; h < 360; h += 15 {
		v := CalculateFlightSpeed(base, wind, h)
		assert.GreaterOrEqual(t, v, base*0.5)
		assert.LessOrEqual(t, v, base*1.25)
	}
}

func TestShouldRecalculateRoute(t *testing.T) {
	svc, _ := newTestWeather(&fakeFetcher{}, time.Now)

	assert.True(t, svc.ShouldRecalculateRoute(model.WeatherSample{Kind: model.WeatherStorm, Intensity: 0.9}))
	assert.False(t, svc.ShouldRecalculateRoute(model.WeatherSample{Kind: model.WeatherStorm, Intensity: 0.6}))
	assert.False(t, svc.ShouldRecalculateRoute(model.WeatherSample{Kind: model.WeatherRain, Intensity: 1}))
	assert.False(t, svc.ShouldRecalculateRoute(model.WeatherSample{Kind: model.WeatherWind, Intensity: 1}))
}

func TestMemoryWeatherCache_Expiry(t *testing.T) {
	clock := &mutableNow{now: t0}
	c := NewMemoryWeatherCache(clock.Now)
	ctx := context.Background()

	c.Set(ctx, "k", model.WeatherSample{Kind: model.WeatherRain}, time.Minute)
	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, model.WeatherRain, got.Kind)

	clock.Add(time.Minute)
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}
