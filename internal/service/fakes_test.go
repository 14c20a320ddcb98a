package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shiva/tailwind/internal/model"
	"github.com/shiva/tailwind/internal/repository"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var (
	london   = model.GeoPoint{Lat: 51.5074, Lon: -0.1278, Country: "GB", State: "England"}
	newYork  = model.GeoPoint{Lat: 40.7128, Lon: -74.0060, Country: "US", State: "NY"}
	paris    = model.GeoPoint{Lat: 48.8566, Lon: 2.3522, Country: "FR"}
	tokyo    = model.GeoPoint{Lat: 35.6762, Lon: 139.6503, Country: "JP"}
	sydney   = model.GeoPoint{Lat: -33.8688, Lon: 151.2093, Country: "AU", State: "NSW"}
	madrid   = model.GeoPoint{Lat: 40.4168, Lon: -3.7038, Country: "ES"}
	istanbul = model.GeoPoint{Lat: 41.0082, Lon: 28.9784, Country: "TR"}
)

// ─── Clock ──────────────────────────────────────────────────

type fakeTimer struct {
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	wasPending := !t.stopped && !t.fired
	t.stopped = true
	return wasPending
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward by d and fires every due timer in order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		sort.SliceStable(c.timers, func(i, j int) bool { return c.timers[i].at.Before(c.timers[j].at) })
		var next *fakeTimer
		for _, t := range c.timers {
			if !t.stopped && !t.fired && !t.at.After(target) {
				next = t
				break
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		c.now = next.at
		c.mu.Unlock()

		next.f()
	}
}

func (c *fakeClock) pendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// ─── Message store ──────────────────────────────────────────

type fakeMessageStore struct {
	mu          sync.Mutex
	messages    map[int64]*model.Message
	markErr     error
	markFails   int // MarkDelivered reports 0 rows this many times.
	markCalls   int
	getErr      error
	plans       map[int64]time.Time
	listedLimit int
	listCalls   int
}

func newFakeMessageStore(msgs ...model.Message) *fakeMessageStore {
	s := &fakeMessageStore{messages: make(map[int64]*model.Message), plans: make(map[int64]time.Time)}
	for i := range msgs {
		m := msgs[i]
		s.messages[m.ID] = &m
	}
	return s
}

func (s *fakeMessageStore) GetMessage(_ context.Context, id int64) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	m, ok := s.messages[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *fakeMessageStore) MarkDelivered(_ context.Context, id int64, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markCalls++
	if s.markErr != nil {
		return 0, s.markErr
	}
	if s.markFails > 0 {
		s.markFails--
		return 0, nil
	}
	m, ok := s.messages[id]
	if !ok || m.Status != model.MessageFlying {
		return 0, nil
	}
	m.Status = model.MessageDelivered
	m.DeliveredAt = &at
	return 1, nil
}

func (s *fakeMessageStore) SaveFlightPlan(_ context.Context, id int64, route *model.Route, eta time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return repository.ErrNotFound
	}
	m.Route = route
	m.EstimatedArrival = &eta
	s.plans[id] = eta
	return nil
}

func (s *fakeMessageStore) ListFlyingMessages(_ context.Context, before time.Time, afterID int64, limit int) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listedLimit = limit
	s.listCalls++
	var out []model.Message
	for _, m := range s.messages {
		if m.ID <= afterID || m.Status != model.MessageFlying || m.EstimatedArrival == nil || m.EstimatedArrival.After(before) {
			continue
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeMessageStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markCalls
}

func (s *fakeMessageStore) status(id int64) model.MessageStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages[id].Status
}

// ─── User store ─────────────────────────────────────────────

type fakeUserStore struct {
	mu       sync.Mutex
	users    map[int64]model.User
	stats    map[int64]*model.UserStats
	statsErr error
}

func newFakeUserStore(users ...model.User) *fakeUserStore {
	s := &fakeUserStore{users: make(map[int64]model.User), stats: make(map[int64]*model.UserStats)}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *fakeUserStore) GetUser(_ context.Context, id int64) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (s *fakeUserStore) ListMatchPool(_ context.Context) ([]model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeUserStore) UpdateStats(_ context.Context, userID int64, fn func(*model.UserStats) error) (*model.UserStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statsErr != nil {
		return nil, s.statsErr
	}
	cur, ok := s.stats[userID]
	if !ok {
		cur = &model.UserStats{UserID: userID}
	}
	next := *cur
	next.VisitedCountries = append([]string(nil), cur.VisitedCountries...)
	next.VisitedStates = append([]string(nil), cur.VisitedStates...)
	if err := fn(&next); err != nil {
		return nil, err
	}
	s.stats[userID] = &next
	out := next
	return &out, nil
}

func (s *fakeUserStore) statsFor(id int64) model.UserStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.stats[id]; ok {
		return *st
	}
	return model.UserStats{UserID: id}
}

// ─── Notifier & publisher ───────────────────────────────────

type fakeNotifier struct {
	mu            sync.Mutex
	received      []int64
	delivered     []int64
	rewards       []string
	notifications []model.Notification
	err           error
}

func (n *fakeNotifier) CreateMessageReceivedNotification(_ context.Context, recipientID int64, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.received = append(n.received, recipientID)
	return n.err
}

func (n *fakeNotifier) CreateFlightDeliveredNotification(_ context.Context, senderID int64, _ model.FlightProgress) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delivered = append(n.delivered, senderID)
	return n.err
}

func (n *fakeNotifier) CreateRewardUnlockedNotification(_ context.Context, _ int64, _, kind string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rewards = append(n.rewards, kind)
	return n.err
}

func (n *fakeNotifier) CreateNotification(_ context.Context, notif model.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = append(n.notifications, notif)
	return n.err
}

func (n *fakeNotifier) receivedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.received)
}

type sentEvent struct {
	userID int64
	event  model.Event
}

type fakePublisher struct {
	mu     sync.Mutex
	events []sentEvent
}

func (p *fakePublisher) SendToUser(_ context.Context, userID int64, ev model.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, sentEvent{userID: userID, event: ev})
	return nil
}

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.event.Type
	}
	return out
}

// ─── Weather ────────────────────────────────────────────────

type fakeFetcher struct {
	mu     sync.Mutex
	sample func(loc model.GeoPoint) (model.WeatherSample, error)
	calls  int
}

func (f *fakeFetcher) Fetch(_ context.Context, loc model.GeoPoint) (model.WeatherSample, error) {
	f.mu.Lock()
	f.calls++
	fn := f.sample
	f.mu.Unlock()
	if fn == nil {
		return model.WeatherSample{Kind: model.WeatherClear, SpeedModifier: 1, Location: loc, ObservedAt: t0}, nil
	}
	return fn(loc)
}

func (f *fakeFetcher) set(fn func(loc model.GeoPoint) (model.WeatherSample, error)) {
	f.mu.Lock()
	f.sample = fn
	f.mu.Unlock()
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var errUpstream = errors.New("upstream unavailable")

// ─── Completion ─────────────────────────────────────────────

type fakeCompletion struct {
	mu    sync.Mutex
	calls []model.FlightProgress
}

func (c *fakeCompletion) HandleFlightCompletion(_ context.Context, _ int64, final model.FlightProgress) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, final)
}

func (c *fakeCompletion) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}
