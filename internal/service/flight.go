package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shiva/tailwind/internal/model"
	"github.com/shiva/tailwind/pkg/geo"
)

// ─── Errors ─────────────────────────────────────────────────

var (
	ErrFlightInitFailed    = errors.New("flight initialization failed")
	ErrFlightAlreadyActive = errors.New("flight already active")
)

// ─── Configuration ──────────────────────────────────────────

// FlightConfig holds the simulation parameters.
type FlightConfig struct {
	TickInterval         time.Duration
	CruiseSpeedKmh       float64
	WeatherResampleTicks int           // Resample weather every N ticks; 0 disables.
	WeatherTimeout       time.Duration // Upper bound for one in-flight resample.
	MaxReroutes          int           // Storm reroutes allowed per flight.
}

// DefaultFlightConfig returns the nominal simulation parameters.
func DefaultFlightConfig() FlightConfig {
	return FlightConfig{
		TickInterval:         time.Second,
		CruiseSpeedKmh:       500,
		WeatherResampleTicks: 30,
		WeatherTimeout:       3 * time.Second,
		MaxReroutes:          3,
	}
}

// ProgressCallback receives flight snapshots. Errors and panics are logged
// and never affect the flight or other subscribers.
type ProgressCallback func(model.FlightProgress) error

// CompletionHandler is notified exactly once when a flight reaches 100%.
type CompletionHandler interface {
	HandleFlightCompletion(ctx context.Context, messageID int64, final model.FlightProgress)
}

type subscription struct {
	id string
	cb ProgressCallback
}

// activeFlight is the engine-private record for one flight. All fields are
// guarded by mu.
type activeFlight struct {
	mu     sync.Mutex
	state  model.FlightState
	active bool
	cancel context.CancelFunc

	// Current leg: a reroute starts a new leg from the current position.
	legBasePct  float64
	legOffsetKm float64
	legKm       float64

	heading  float64
	ticks    int
	lastTick time.Time
}

func (f *activeFlight) progressLocked() model.FlightProgress {
	return model.FlightProgress{
		MessageID:        f.state.MessageID,
		CurrentPosition:  f.state.CurrentPosition,
		ProgressPct:      f.state.ProgressPct,
		EstimatedArrival: f.state.EstimatedArrival,
		CurrentWeather:   f.state.CurrentWeather,
		Status:           f.state.Status,
		DistanceKm:       f.state.TotalDistanceKm,
	}
}

// ─── FlightEngine ───────────────────────────────────────────

// FlightEngine advances every active flight on its own ticker.
//
// Per tick:
//
//  1. ADVANCE: covered += weather-adjusted speed × elapsed time.
//  2. POSITION: interpolate along the current leg's waypoints.
//  3. NOTIFY: push a snapshot to subscribers when anything changed.
//  4. RESAMPLE: every WeatherResampleTicks, refresh weather at the current
//     position; a severe storm replans the rest of the journey.
//  5. COMPLETE: at 100% mark delivered, fire a final callback, hand off to
//     the CompletionHandler, then drop the flight.
//
// Progress never decreases: a reroute freezes the percentage reached so far
// and spreads the remainder over the new leg.
type FlightEngine struct {
	cfg        FlightConfig
	router     *RoutingService
	weather    *WeatherService
	completion CompletionHandler
	now        func() time.Time
	autoTick   bool

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu      sync.RWMutex
	flights map[int64]*activeFlight

	subsMu sync.RWMutex
	subs   map[int64][]subscription
}

// EngineOption configures a FlightEngine.
type EngineOption func(*FlightEngine)

// WithEngineClock overrides the engine's clock.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *FlightEngine) { e.now = now }
}

// WithoutScheduler disables per-flight tickers; flights only advance when
// Tick is called.
func WithoutScheduler() EngineOption {
	return func(e *FlightEngine) { e.autoTick = false }
}

// NewFlightEngine creates a flight engine.
func NewFlightEngine(
	cfg FlightConfig,
	router *RoutingService,
	weather *WeatherService,
	completion CompletionHandler,
	opts ...EngineOption,
) *FlightEngine {
	def := DefaultFlightConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.CruiseSpeedKmh <= 0 {
		cfg.CruiseSpeedKmh = def.CruiseSpeedKmh
	}
	if cfg.WeatherTimeout <= 0 {
		cfg.WeatherTimeout = def.WeatherTimeout
	}
	if cfg.MaxReroutes < 0 {
		cfg.MaxReroutes = 0
	}

	ctx, stop := context.WithCancel(context.Background())
	e := &FlightEngine{
		cfg:        cfg,
		router:     router,
		weather:    weather,
		completion: completion,
		now:        time.Now,
		autoTick:   true,
		ctx:        ctx,
		stop:       stop,
		flights:    make(map[int64]*activeFlight),
		subs:       make(map[int64][]subscription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// InitializeFlight plans a route, samples initial weather and starts the
// flight. Fails with ErrFlightInitFailed if planning fails and with
// ErrFlightAlreadyActive if messageID is already flying.
func (e *FlightEngine) InitializeFlight(ctx context.Context, messageID int64, start, end model.GeoPoint) (*model.FlightState, error) {
	if e.IsActive(messageID) {
		return nil, ErrFlightAlreadyActive
	}

	route, err := e.router.CalculateRoute(start, end)
	if err != nil {
		log.Printf("[flight] #%d: route planning failed: %v", messageID, err)
		return nil, fmt.Errorf("%w: %v", ErrFlightInitFailed, err)
	}

	var initial *model.WeatherSample
	if samples := e.weather.FetchWeatherForRoute(ctx, route); len(samples) > 0 {
		w := samples[0]
		initial = &w
	}

	now := e.now()
	heading := legHeading(route.Path, 0)
	speed := CalculateFlightSpeed(e.cfg.CruiseSpeedKmh, initial, heading)

	f := &activeFlight{
		state: model.FlightState{
			MessageID:        messageID,
			Route:            *route,
			StartLocation:    start,
			EndLocation:      end,
			CurrentPosition:  start,
			BaseSpeedKmh:     e.cfg.CruiseSpeedKmh,
			CurrentWeather:   initial,
			StartedAt:        now,
			EstimatedArrival: now.Add(hoursToDuration(route.TotalDistanceKm / speed)),
			Status:           model.FlightFlying,
			TotalDistanceKm:  route.TotalDistanceKm,
		},
		active:   true,
		legKm:    route.TotalDistanceKm,
		heading:  heading,
		lastTick: now,
	}

	e.mu.Lock()
	if existing, ok := e.flights[messageID]; ok && existing.isActive() {
		e.mu.Unlock()
		return nil, ErrFlightAlreadyActive
	}
	runCtx, cancel := context.WithCancel(e.ctx)
	f.cancel = cancel
	e.flights[messageID] = f
	e.mu.Unlock()

	log.Printf("[flight] #%d: started %.1f km, %d waypoints, ETA %s",
		messageID, route.TotalDistanceKm, len(route.Path), f.state.EstimatedArrival.Format(time.RFC3339))

	if e.autoTick {
		e.wg.Add(1)
		go e.run(runCtx, f)
	}

	state := f.snapshot()
	return &state, nil
}

func (e *FlightEngine) run(ctx context.Context, f *activeFlight) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if finished := e.tick(ctx, f, e.now()); finished {
				return
			}
		}
	}
}

// Tick advances messageID to now. It reports false when the flight is not
// active. Used when the scheduler is disabled.
func (e *FlightEngine) Tick(ctx context.Context, messageID int64, now time.Time) bool {
	f := e.lookup(messageID)
	if f == nil {
		return false
	}
	e.tick(ctx, f, now)
	return true
}

// tick advances f and reports whether the flight is finished.
func (e *FlightEngine) tick(ctx context.Context, f *activeFlight, now time.Time) bool {
	f.mu.Lock()
	if !f.active {
		f.mu.Unlock()
		return true
	}

	elapsed := now.Sub(f.lastTick)
	if elapsed < 0 {
		elapsed = 0
	}
	f.lastTick = now
	f.ticks++

	// ── Step 1: ADVANCE ─────────────────────────────────
	speed := CalculateFlightSpeed(f.state.BaseSpeedKmh, f.state.CurrentWeather, f.heading)
	advance := speed * elapsed.Hours()

	legCovered := f.state.CoveredKm - f.legOffsetKm + advance
	if legCovered > f.legKm {
		legCovered = f.legKm
	}
	f.state.CoveredKm = f.legOffsetKm + legCovered

	pct := 100.0
	if f.legKm > 0 {
		pct = f.legBasePct + (100-f.legBasePct)*(legCovered/f.legKm)
	}
	pct = geo.Clamp(pct, f.state.ProgressPct, 100)
	changed := pct != f.state.ProgressPct
	f.state.ProgressPct = pct

	// ── Step 2: POSITION ────────────────────────────────
	f.state.CurrentPosition, f.heading = positionAlong(f.state.Route.Path, legCovered)

	remaining := f.legKm - legCovered
	f.state.EstimatedArrival = now.Add(hoursToDuration(remaining / speed))

	finished := pct >= 100 || legCovered >= f.legKm
	if finished {
		f.state.ProgressPct = 100
		f.state.CurrentPosition = f.state.EndLocation
		f.state.Status = model.FlightDelivered
		f.active = false
	}

	resample := !finished && e.cfg.WeatherResampleTicks > 0 && f.ticks%e.cfg.WeatherResampleTicks == 0
	position := f.state.CurrentPosition
	snap := f.progressLocked()
	f.mu.Unlock()

	// ── Step 5: COMPLETE ────────────────────────────────
	if finished {
		e.complete(ctx, f, snap)
		return true
	}

	// ── Step 3: NOTIFY ──────────────────────────────────
	if changed {
		e.notify(f, snap, false)
	}

	// ── Step 4: RESAMPLE ────────────────────────────────
	if resample {
		e.resampleWeather(ctx, f, position, now)
	}
	return false
}

func (e *FlightEngine) complete(ctx context.Context, f *activeFlight, final model.FlightProgress) {
	log.Printf("[flight] #%d: arrived after %.1f km", final.MessageID, final.DistanceKm)

	e.notify(f, final, true)

	if e.completion != nil {
		e.completion.HandleFlightCompletion(ctx, final.MessageID, final)
	}

	e.mu.Lock()
	if cur, ok := e.flights[final.MessageID]; ok && cur == f {
		delete(e.flights, final.MessageID)
	}
	e.mu.Unlock()
	e.clearSubscriptions(final.MessageID)

	if f.cancel != nil {
		f.cancel()
	}
}

// resampleWeather refreshes weather at position without holding the flight
// lock, then replans if a severe storm is reported.
func (e *FlightEngine) resampleWeather(ctx context.Context, f *activeFlight, position model.GeoPoint, now time.Time) {
	wctx, cancel := context.WithTimeout(ctx, e.cfg.WeatherTimeout)
	sample := e.weather.FetchWeather(wctx, position)
	cancel()

	f.mu.Lock()
	if !f.active {
		f.mu.Unlock()
		return
	}
	f.state.CurrentWeather = &sample
	reroute := e.weather.ShouldRecalculateRoute(sample) && f.state.Reroutes < e.cfg.MaxReroutes
	current, dest, id := f.state.CurrentPosition, f.state.EndLocation, f.state.MessageID
	f.mu.Unlock()

	if !reroute {
		return
	}

	route, err := e.router.RecalculateRoute(current, dest)
	if err != nil {
		log.Printf("[flight] #%d: reroute failed, continuing on current route: %v", id, err)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active {
		return
	}

	f.legBasePct = f.state.ProgressPct
	f.legOffsetKm = f.state.CoveredKm
	f.legKm = route.TotalDistanceKm
	f.state.Route = *route
	f.state.TotalDistanceKm = f.legOffsetKm + route.TotalDistanceKm
	f.state.Reroutes++
	f.heading = legHeading(route.Path, 0)

	speed := CalculateFlightSpeed(f.state.BaseSpeedKmh, f.state.CurrentWeather, f.heading)
	f.state.EstimatedArrival = now.Add(hoursToDuration(route.TotalDistanceKm / speed))

	log.Printf("[flight] #%d: storm (%.2f) → rerouted (%d/%d), %.1f km remaining",
		id, sample.Intensity, f.state.Reroutes, e.cfg.MaxReroutes, route.TotalDistanceKm)
}

// ─── Subscriptions ──────────────────────────────────────────

// OnFlightProgress registers cb for messageID and returns its subscription id.
func (e *FlightEngine) OnFlightProgress(messageID int64, cb ProgressCallback) string {
	id := uuid.NewString()
	e.subsMu.Lock()
	e.subs[messageID] = append(e.subs[messageID], subscription{id: id, cb: cb})
	e.subsMu.Unlock()
	return id
}

// RemoveFlightCallback unregisters a subscription. It reports whether the
// subscription existed.
func (e *FlightEngine) RemoveFlightCallback(messageID int64, subscriptionID string) bool {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()

	list := e.subs[messageID]
	for i, s := range list {
		if s.id == subscriptionID {
			e.subs[messageID] = append(list[:i:i], list[i+1:]...)
			if len(e.subs[messageID]) == 0 {
				delete(e.subs, messageID)
			}
			return true
		}
	}
	return false
}

func (e *FlightEngine) clearSubscriptions(messageID int64) {
	e.subsMu.Lock()
	delete(e.subs, messageID)
	e.subsMu.Unlock()
}

// notify delivers p to the subscribers of f. Unless p is the final snapshot,
// delivery stops as soon as the flight is no longer active.
func (e *FlightEngine) notify(f *activeFlight, p model.FlightProgress, final bool) {
	e.subsMu.RLock()
	list := make([]subscription, len(e.subs[p.MessageID]))
	copy(list, e.subs[p.MessageID])
	e.subsMu.RUnlock()

	for _, s := range list {
		if !final && !f.isActive() {
			return
		}
		invokeCallback(s, p)
	}
}

func invokeCallback(s subscription, p model.FlightProgress) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[flight] #%d: subscriber %s panicked: %v", p.MessageID, s.id, r)
		}
	}()
	if err := s.cb(p); err != nil {
		log.Printf("[flight] #%d: subscriber %s failed: %v", p.MessageID, s.id, err)
	}
}

// ─── Queries & control ──────────────────────────────────────

// CancelFlight stops an active flight. It reports false if the flight was
// unknown or already finished.
func (e *FlightEngine) CancelFlight(messageID int64) bool {
	f := e.lookup(messageID)
	if f == nil {
		return false
	}

	f.mu.Lock()
	if !f.active {
		f.mu.Unlock()
		return false
	}
	f.active = false
	f.state.Status = model.FlightCancelled
	pct := f.state.ProgressPct
	f.mu.Unlock()

	e.mu.Lock()
	if cur, ok := e.flights[messageID]; ok && cur == f {
		delete(e.flights, messageID)
	}
	e.mu.Unlock()

	if f.cancel != nil {
		f.cancel()
	}
	e.clearSubscriptions(messageID)

	log.Printf("[flight] #%d: cancelled at %.1f%%", messageID, pct)
	return true
}

// GetFlightProgress returns a snapshot of an active flight.
func (e *FlightEngine) GetFlightProgress(messageID int64) (*model.FlightProgress, bool) {
	f := e.lookup(messageID)
	if f == nil {
		return nil, false
	}
	f.mu.Lock()
	p := f.progressLocked()
	f.mu.Unlock()
	return &p, true
}

// GetFlightState returns a copy of an active flight's full state.
func (e *FlightEngine) GetFlightState(messageID int64) (*model.FlightState, bool) {
	f := e.lookup(messageID)
	if f == nil {
		return nil, false
	}
	s := f.snapshot()
	return &s, true
}

// IsActive reports whether messageID is currently flying.
func (e *FlightEngine) IsActive(messageID int64) bool {
	f := e.lookup(messageID)
	return f != nil && f.isActive()
}

// ActiveFlights returns the ids of all flights currently tracked, ascending.
func (e *FlightEngine) ActiveFlights() []int64 {
	e.mu.RLock()
	ids := make([]int64, 0, len(e.flights))
	for id := range e.flights {
		ids = append(ids, id)
	}
	e.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Shutdown stops every flight ticker and waits for them to exit. Flight state
// is not persisted; the recovery sweep completes overdue messages later.
func (e *FlightEngine) Shutdown() {
	e.stop()
	e.wg.Wait()
	log.Println("[flight] Engine stopped")
}

func (e *FlightEngine) lookup(messageID int64) *activeFlight {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.flights[messageID]
}

func (f *activeFlight) isActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *activeFlight) snapshot() model.FlightState {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.state
	s.Route.Path = append([]model.Waypoint(nil), f.state.Route.Path...)
	return s
}

// ─── Path helpers ───────────────────────────────────────────

// positionAlong returns the point km along path and the heading of the hop
// it falls on.
func positionAlong(path []model.Waypoint, km float64) (model.GeoPoint, float64) {
	if len(path) == 0 {
		return model.GeoPoint{}, 0
	}
	if len(path) == 1 || km <= 0 {
		return path[0].Location, legHeading(path, 0)
	}

	for i := 1; i < len(path); i++ {
		a, b := path[i-1].Location, path[i].Location
		hop := geo.DistanceKm(a, b)
		if hop <= 0 {
			continue
		}
		if km <= hop {
			return geo.Interpolate(a, b, km/hop), geo.BearingDeg(a, b)
		}
		km -= hop
	}

	last := len(path) - 1
	return path[last].Location, geo.BearingDeg(path[last-1].Location, path[last].Location)
}

func legHeading(path []model.Waypoint, from int) float64 {
	if from+1 >= len(path) {
		return 0
	}
	return geo.BearingDeg(path[from].Location, path[from+1].Location)
}

func hoursToDuration(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}
