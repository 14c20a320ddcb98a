package handler

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiva/tailwind/internal/model"
	"github.com/shiva/tailwind/internal/repository"
	"github.com/shiva/tailwind/internal/service"
)

var (
	london = model.GeoPoint{Lat: 51.5074, Lon: -0.1278, Country: "GB"}
	paris  = model.GeoPoint{Lat: 48.8566, Lon: 2.3522, Country: "FR"}
	tokyo  = model.GeoPoint{Lat: 35.6762, Lon: 139.6503, Country: "JP"}
)

// ─── Stubs ──────────────────────────────────────────────────

type stubMessages struct {
	mu      sync.Mutex
	msgs    map[int64]*model.Message
	markErr error
	plans   map[int64]time.Time
	overdue []model.Message
}

func newStubMessages(msgs ...model.Message) *stubMessages {
	s := &stubMessages{msgs: make(map[int64]*model.Message), plans: make(map[int64]time.Time)}
	for i := range msgs {
		m := msgs[i]
		s.msgs[m.ID] = &m
	}
	return s
}

func (s *stubMessages) GetMessage(_ context.Context, id int64) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *stubMessages) MarkDelivered(_ context.Context, id int64, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return 0, s.markErr
	}
	m, ok := s.msgs[id]
	if !ok || m.Status != model.MessageFlying {
		return 0, nil
	}
	m.Status = model.MessageDelivered
	m.DeliveredAt = &at
	return 1, nil
}

func (s *stubMessages) SaveFlightPlan(_ context.Context, id int64, _ *model.Route, eta time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[id] = eta
	return nil
}

func (s *stubMessages) ListFlyingMessages(_ context.Context, _ time.Time, afterID int64, _ int) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Message
	for _, m := range s.overdue {
		if m.ID > afterID && s.msgs[m.ID].Status == model.MessageFlying {
			out = append(out, m)
		}
	}
	return out, nil
}

type stubUsers struct {
	users map[int64]model.User
}

func (s *stubUsers) GetUser(_ context.Context, id int64) (*model.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (s *stubUsers) ListMatchPool(context.Context) ([]model.User, error) {
	out := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	return out, nil
}

func (s *stubUsers) UpdateStats(_ context.Context, userID int64, fn func(*model.UserStats) error) (*model.UserStats, error) {
	st := &model.UserStats{UserID: userID, Rank: "Paper Plane"}
	if err := fn(st); err != nil {
		return nil, err
	}
	return st, nil
}

type stubNotifier struct{}

func (stubNotifier) CreateMessageReceivedNotification(context.Context, int64, string, string) error {
	return nil
}
func (stubNotifier) CreateFlightDeliveredNotification(context.Context, int64, model.FlightProgress) error {
	return nil
}
func (stubNotifier) CreateRewardUnlockedNotification(context.Context, int64, string, string) error {
	return nil
}
func (stubNotifier) CreateNotification(context.Context, model.Notification) error { return nil }

type stubPublisher struct {
	mu       sync.Mutex
	progress []model.FlightProgress
}

func (p *stubPublisher) SendToUser(context.Context, int64, model.Event) error { return nil }

func (p *stubPublisher) PublishProgress(_ context.Context, fp model.FlightProgress) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.progress = append(p.progress, fp)
	return nil
}

func (p *stubPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.progress)
}

type calmFetcher struct{}

func (calmFetcher) Fetch(_ context.Context, loc model.GeoPoint) (model.WeatherSample, error) {
	return model.WeatherSample{Kind: model.WeatherClear, SpeedModifier: 1, Location: loc, ObservedAt: time.Now()}, nil
}

// idleClock never fires timers, so retries stay pending.
type idleClock struct{}

type idleTimer struct{}

func (idleTimer) Stop() bool { return true }

func (idleClock) Now() time.Time { return time.Now() }

func (idleClock) AfterFunc(time.Duration, func()) service.Timer { return idleTimer{} }

type stubStats struct {
	stats *model.UserStats
	err   error
}

func (s stubStats) GetStats(context.Context, int64) (*model.UserStats, error) {
	return s.stats, s.err
}

// ─── Fixture ────────────────────────────────────────────────

type apiFixture struct {
	router    *mux.Router
	messages  *stubMessages
	publisher *stubPublisher
	engine    *service.FlightEngine
	delivery  *service.DeliveryOrchestrator
}

func newAPIFixture(t *testing.T, users map[int64]model.User, msgs ...model.Message) *apiFixture {
	t.Helper()

	messages := newStubMessages(msgs...)
	userStore := &stubUsers{users: users}
	publisher := &stubPublisher{}

	weather := service.NewWeatherService(calmFetcher{}, service.NewMemoryWeatherCache(time.Now), service.DefaultWeatherConfig())
	router := service.NewRoutingService(service.DefaultRoutingConfig())
	delivery := service.NewDeliveryOrchestrator(messages, userStore, stubNotifier{}, publisher,
		service.DefaultRewardsConfig(), service.DefaultDeliveryConfig(), service.WithDeliveryClock(idleClock{}))
	engine := service.NewFlightEngine(service.DefaultFlightConfig(), router, weather, delivery, service.WithoutScheduler())
	recovery := service.NewRecoveryService(messages, engine, delivery, time.Now)
	matcher := service.NewMatchingService(userStore, service.DefaultMatchingConfig(), service.WithRand(rand.New(rand.NewSource(7))))

	matchH := NewMatchHandler(matcher)
	flightH := NewFlightHandler(engine, messages, publisher)
	deliveryH := NewDeliveryHandler(delivery, recovery)

	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/match/{sender_id}", matchH.MatchRecipient).Methods(http.MethodPost)
	api.HandleFunc("/messages/{id}/flight", flightH.StartFlight).Methods(http.MethodPost)
	api.HandleFunc("/flights", flightH.ListFlights).Methods(http.MethodGet)
	api.HandleFunc("/flights/{id}", flightH.GetFlight).Methods(http.MethodGet)
	api.HandleFunc("/flights/{id}/state", flightH.GetFlightState).Methods(http.MethodGet)
	api.HandleFunc("/flights/{id}/cancel", flightH.CancelFlight).Methods(http.MethodPost)
	api.HandleFunc("/flights/{id}/stream", flightH.Subscribe).Methods(http.MethodPost)
	api.HandleFunc("/flights/{id}/stream/{sub}", flightH.Unsubscribe).Methods(http.MethodDelete)
	api.HandleFunc("/deliveries", deliveryH.ListPending).Methods(http.MethodGet)
	api.HandleFunc("/deliveries/sweep", deliveryH.Sweep).Methods(http.MethodPost)
	api.HandleFunc("/deliveries/{id}", deliveryH.GetStatus).Methods(http.MethodGet)
	api.HandleFunc("/deliveries/{id}", deliveryH.CancelRetries).Methods(http.MethodDelete)

	t.Cleanup(func() {
		engine.Shutdown()
		delivery.Stop()
	})

	return &apiFixture{router: r, messages: messages, publisher: publisher, engine: engine, delivery: delivery}
}

func (fx *apiFixture) do(method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func flyingMessage(id int64, from, to model.GeoPoint) model.Message {
	return model.Message{
		ID:             id,
		SenderID:       10,
		RecipientID:    20,
		SenderUsername: "ada",
		Title:          "Hello",
		Origin:         from,
		Destination:    to,
		Status:         model.MessageFlying,
		CreatedAt:      time.Now().Add(-time.Hour),
	}
}

// ─── Matching ───────────────────────────────────────────────

func TestMatchRecipient(t *testing.T) {
	now := time.Now()
	users := map[int64]model.User{
		1: {ID: 1, Username: "sender", Location: &london, LastActiveAt: now},
		2: {ID: 2, Username: "near", Location: &paris, LastActiveAt: now},
		3: {ID: 3, Username: "far", Location: &tokyo, LastActiveAt: now},
		4: {ID: 4, Username: "nowhere", LastActiveAt: now},
		5: {ID: 5, Username: "offglobe", Location: &model.GeoPoint{Lat: 200, Lon: 0}, LastActiveAt: now},
	}
	fx := newAPIFixture(t, users)

	t.Run("picks the only strict candidate", func(t *testing.T) {
		rec := fx.do(http.MethodPost, "/api/v1/match/1")
		require.Equal(t, http.StatusOK, rec.Code)

		var got model.EligibleCandidate
		decode(t, rec, &got)
		assert.Equal(t, int64(3), got.User.ID)
		assert.Greater(t, got.DistanceKm, 9000.0)
	})

	t.Run("unknown sender", func(t *testing.T) {
		rec := fx.do(http.MethodPost, "/api/v1/match/99")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("sender without location", func(t *testing.T) {
		rec := fx.do(http.MethodPost, "/api/v1/match/4")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("sender with invalid location", func(t *testing.T) {
		rec := fx.do(http.MethodPost, "/api/v1/match/5?relaxed=true")
		require.Equal(t, http.StatusBadRequest, rec.Code)
		var body map[string]string
		decode(t, rec, &body)
		assert.Equal(t, "invalid_location", body["error"])
	})

	t.Run("non-numeric id", func(t *testing.T) {
		rec := fx.do(http.MethodPost, "/api/v1/match/abc")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestMatchRecipient_RelaxedFallback(t *testing.T) {
	now := time.Now()
	users := map[int64]model.User{
		1: {ID: 1, Location: &london, LastActiveAt: now},
		2: {ID: 2, Location: &paris, LastActiveAt: now},
	}
	fx := newAPIFixture(t, users)

	rec := fx.do(http.MethodPost, "/api/v1/match/1")
	require.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]string
	decode(t, rec, &body)
	assert.Equal(t, "no_eligible_recipients", body["error"])

	rec = fx.do(http.MethodPost, "/api/v1/match/1?relaxed=true")
	require.Equal(t, http.StatusOK, rec.Code)
	var got model.EligibleCandidate
	decode(t, rec, &got)
	assert.Equal(t, int64(2), got.User.ID)
}

// ─── Flights ────────────────────────────────────────────────

func TestStartFlight(t *testing.T) {
	delivered := flyingMessage(2, london, paris)
	delivered.Status = model.MessageDelivered
	fx := newAPIFixture(t, nil, flyingMessage(1, london, paris), delivered)

	rec := fx.do(http.MethodPost, "/api/v1/messages/1/flight")
	require.Equal(t, http.StatusCreated, rec.Code)

	var state model.FlightState
	decode(t, rec, &state)
	assert.Equal(t, int64(1), state.MessageID)
	assert.Equal(t, model.FlightFlying, state.Status)
	assert.GreaterOrEqual(t, len(state.Route.Path), 2)
	assert.Contains(t, fx.messages.plans, int64(1))

	t.Run("already flying", func(t *testing.T) {
		rec := fx.do(http.MethodPost, "/api/v1/messages/1/flight")
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("already delivered", func(t *testing.T) {
		rec := fx.do(http.MethodPost, "/api/v1/messages/2/flight")
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("unknown message", func(t *testing.T) {
		rec := fx.do(http.MethodPost, "/api/v1/messages/77/flight")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestStartFlight_InvalidCoordinates(t *testing.T) {
	fx := newAPIFixture(t, nil, flyingMessage(1, model.GeoPoint{Lat: 120, Lon: 0}, paris))

	rec := fx.do(http.MethodPost, "/api/v1/messages/1/flight")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.False(t, fx.engine.IsActive(1))
}

func TestFlightQueriesAndCancel(t *testing.T) {
	fx := newAPIFixture(t, nil, flyingMessage(1, london, tokyo))
	require.Equal(t, http.StatusCreated, fx.do(http.MethodPost, "/api/v1/messages/1/flight").Code)

	rec := fx.do(http.MethodGet, "/api/v1/flights/1")
	require.Equal(t, http.StatusOK, rec.Code)
	var progress model.FlightProgress
	decode(t, rec, &progress)
	assert.Equal(t, model.FlightFlying, progress.Status)
	assert.Zero(t, progress.ProgressPct)

	rec = fx.do(http.MethodGet, "/api/v1/flights/1/state")
	require.Equal(t, http.StatusOK, rec.Code)
	var state model.FlightState
	decode(t, rec, &state)
	assert.NotEmpty(t, state.Route.Path)

	rec = fx.do(http.MethodGet, "/api/v1/flights")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Active []int64 `json:"active"`
	}
	decode(t, rec, &list)
	assert.Equal(t, []int64{1}, list.Active)

	assert.Equal(t, http.StatusOK, fx.do(http.MethodPost, "/api/v1/flights/1/cancel").Code)
	assert.Equal(t, http.StatusNotFound, fx.do(http.MethodPost, "/api/v1/flights/1/cancel").Code)
	assert.Equal(t, http.StatusNotFound, fx.do(http.MethodGet, "/api/v1/flights/1").Code)
	assert.Equal(t, http.StatusNotFound, fx.do(http.MethodGet, "/api/v1/flights/1/state").Code)
}

func TestFlightStream(t *testing.T) {
	fx := newAPIFixture(t, nil, flyingMessage(1, london, paris))

	assert.Equal(t, http.StatusNotFound, fx.do(http.MethodPost, "/api/v1/flights/1/stream").Code)
	require.Equal(t, http.StatusCreated, fx.do(http.MethodPost, "/api/v1/messages/1/flight").Code)

	rec := fx.do(http.MethodPost, "/api/v1/flights/1/stream")
	require.Equal(t, http.StatusCreated, rec.Code)
	var sub struct {
		SubscriptionID string `json:"subscription_id"`
	}
	decode(t, rec, &sub)
	require.NotEmpty(t, sub.SubscriptionID)

	require.True(t, fx.engine.Tick(context.Background(), 1, time.Now().Add(10*time.Minute)))
	assert.Equal(t, 1, fx.publisher.count())

	path := "/api/v1/flights/1/stream/" + sub.SubscriptionID
	assert.Equal(t, http.StatusNoContent, fx.do(http.MethodDelete, path).Code)
	assert.Equal(t, http.StatusNotFound, fx.do(http.MethodDelete, path).Code)

	fx.engine.Tick(context.Background(), 1, time.Now().Add(20*time.Minute))
	assert.Equal(t, 1, fx.publisher.count())
}

// ─── Deliveries ─────────────────────────────────────────────

func TestDeliveryRetryEndpoints(t *testing.T) {
	fx := newAPIFixture(t, nil, flyingMessage(1, london, paris))
	fx.messages.markErr = errors.New("connection reset")

	fx.delivery.HandleFlightCompletion(context.Background(), 1, model.FlightProgress{MessageID: 1, ProgressPct: 100})

	rec := fx.do(http.MethodGet, "/api/v1/deliveries")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Pending []model.DeliveryAttemptRecord `json:"pending"`
	}
	decode(t, rec, &list)
	require.Len(t, list.Pending, 1)
	assert.Equal(t, 1, list.Pending[0].AttemptCount)

	rec = fx.do(http.MethodGet, "/api/v1/deliveries/1")
	require.Equal(t, http.StatusOK, rec.Code)
	var record model.DeliveryAttemptRecord
	decode(t, rec, &record)
	require.NotNil(t, record.LastError)
	assert.Contains(t, *record.LastError, "connection reset")

	assert.Equal(t, http.StatusNoContent, fx.do(http.MethodDelete, "/api/v1/deliveries/1").Code)
	assert.Equal(t, http.StatusNotFound, fx.do(http.MethodDelete, "/api/v1/deliveries/1").Code)
	assert.Equal(t, http.StatusNotFound, fx.do(http.MethodGet, "/api/v1/deliveries/1").Code)
}

func TestSweep(t *testing.T) {
	msg := flyingMessage(1, london, paris)
	eta := time.Now().Add(-time.Minute)
	msg.EstimatedArrival = &eta
	fx := newAPIFixture(t, nil, msg)
	fx.messages.overdue = []model.Message{msg}

	rec := fx.do(http.MethodPost, "/api/v1/deliveries/sweep")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]int
	decode(t, rec, &body)
	assert.Equal(t, 1, body["handled"])

	got, err := fx.messages.GetMessage(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, model.MessageDelivered, got.Status)

	rec = fx.do(http.MethodPost, "/api/v1/deliveries/sweep")
	decode(t, rec, &body)
	assert.Equal(t, 0, body["handled"])
}

// ─── Stats ──────────────────────────────────────────────────

func TestGetStats(t *testing.T) {
	serve := func(h *StatsHandler, path string) *httptest.ResponseRecorder {
		r := mux.NewRouter()
		r.HandleFunc("/api/v1/users/{id}/stats", h.GetStats)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	stored := &model.UserStats{UserID: 5, FlightsReceived: 3, JourneyPoints: 700, Rank: "Glider",
		VisitedCountries: []string{"FR"}, VisitedStates: []string{}}
	rec := serve(NewStatsHandler(stubStats{stats: stored}), "/api/v1/users/5/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var got model.UserStats
	decode(t, rec, &got)
	assert.Equal(t, "Glider", got.Rank)
	assert.Equal(t, 700, got.JourneyPoints)

	rec = serve(NewStatsHandler(stubStats{err: repository.ErrNotFound}), "/api/v1/users/6/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	got = model.UserStats{}
	decode(t, rec, &got)
	assert.Equal(t, int64(6), got.UserID)
	assert.Equal(t, "Paper Plane", got.Rank)
	assert.Empty(t, got.VisitedCountries)

	rec = serve(NewStatsHandler(stubStats{err: errors.New("db down")}), "/api/v1/users/6/stats")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
