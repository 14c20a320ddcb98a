package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"slices"
	"sync"
	"time"

	"golang.org/x/exp/maps"

	"github.com/shiva/tailwind/internal/model"
	"github.com/shiva/tailwind/internal/repository"
	"github.com/shiva/tailwind/pkg/geo"
)

// ─── Delivery Errors ────────────────────────────────────────

var (
	// ErrMessageNotFound is returned when the message row does not exist.
	ErrMessageNotFound = errors.New("message not found")

	// ErrDeliveryRaceLost is returned when the conditional status write
	// changed no rows: another attempt already delivered the message.
	ErrDeliveryRaceLost = errors.New("delivery status transition lost")

	// ErrDeliveryTimeout is returned when a storage call exceeds its deadline.
	ErrDeliveryTimeout = errors.New("delivery timed out")
)

// Notification and event types emitted on delivery.
const (
	EventMessageDelivered = "message_delivered"
	EventFlightDelivered  = "flight_delivered"
	EventRankUp           = "rank_up"

	NotificationDeliveryFailed = "delivery_failed"
)

// ─── Configuration ──────────────────────────────────────────

// DeliveryConfig holds the retry schedule.
//
//	delay(n) = min(BaseDelay × Multiplier^n, MaxDelay), n = 0..MaxRetries-1
type DeliveryConfig struct {
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	MaxRetries int
}

// DefaultDeliveryConfig returns the nominal retry schedule.
func DefaultDeliveryConfig() DeliveryConfig {
	return DeliveryConfig{
		BaseDelay:  2 * time.Second,
		Multiplier: 2.0,
		MaxDelay:   5 * time.Minute,
		MaxRetries: 5,
	}
}

// BackoffDelay returns the delay before retry number attempt (0-based).
func (c DeliveryConfig) BackoffDelay(attempt int) time.Duration {
	d := float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(attempt))
	if d > float64(c.MaxDelay) || math.IsInf(d, 1) {
		return c.MaxDelay
	}
	return time.Duration(d)
}

type pendingDelivery struct {
	record model.DeliveryAttemptRecord
	final  model.FlightProgress
	timer  Timer
	gen    uint64
}

// ─── DeliveryOrchestrator ───────────────────────────────────

// DeliveryOrchestrator turns a completed flight into a delivered message.
//
// Concurrency model:
//   - The flying → delivered transition is a conditional UPDATE, so only one
//     attempt can win no matter how many are triggered.
//   - A message that is already delivered is a successful no-op.
//   - Failed attempts are retried with capped exponential backoff. Each
//     scheduled retry carries a generation number; cancelling or finishing
//     bumps it so a stale timer does nothing.
type DeliveryOrchestrator struct {
	messages  MessageStore
	users     UserStore
	notifier  Notifier
	publisher Publisher
	rewards   RewardsConfig
	cfg       DeliveryConfig
	clock     Clock
	ctx       context.Context

	mu      sync.Mutex
	pending map[int64]*pendingDelivery
}

// DeliveryOption configures a DeliveryOrchestrator.
type DeliveryOption func(*DeliveryOrchestrator)

// WithDeliveryClock overrides the clock driving retries.
func WithDeliveryClock(c Clock) DeliveryOption {
	return func(o *DeliveryOrchestrator) { o.clock = c }
}

// WithRetryContext sets the context used by timer-driven retries.
func WithRetryContext(ctx context.Context) DeliveryOption {
	return func(o *DeliveryOrchestrator) { o.ctx = ctx }
}

// NewDeliveryOrchestrator creates a delivery orchestrator.
func NewDeliveryOrchestrator(
	messages MessageStore,
	users UserStore,
	notifier Notifier,
	publisher Publisher,
	rewards RewardsConfig,
	cfg DeliveryConfig,
	opts ...DeliveryOption,
) *DeliveryOrchestrator {
	def := DefaultDeliveryConfig()
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if len(rewards.Ranks) == 0 {
		rewards.Ranks = DefaultRankTable()
	}

	o := &DeliveryOrchestrator{
		messages:  messages,
		users:     users,
		notifier:  notifier,
		publisher: publisher,
		rewards:   rewards,
		cfg:       cfg,
		clock:     RealClock(),
		ctx:       context.Background(),
		pending:   make(map[int64]*pendingDelivery),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// HandleFlightCompletion attempts delivery and schedules retries on failure.
// Calls for a message that is already retrying are ignored.
func (o *DeliveryOrchestrator) HandleFlightCompletion(ctx context.Context, messageID int64, final model.FlightProgress) {
	if o.HasPending(messageID) {
		log.Printf("[delivery] #%d: already retrying, ignoring completion", messageID)
		return
	}

	if err := o.deliver(ctx, messageID, final); err != nil {
		log.Printf("[delivery] #%d: attempt failed: %v", messageID, err)
		o.scheduleRetry(messageID, final, err, 0)
	}
}

// DeliverMessage performs one delivery attempt. It returns true when the
// message is delivered, including when it already was.
func (o *DeliveryOrchestrator) DeliverMessage(ctx context.Context, messageID int64, final model.FlightProgress) bool {
	if err := o.deliver(ctx, messageID, final); err != nil {
		log.Printf("[delivery] #%d: attempt failed: %v", messageID, err)
		return false
	}
	return true
}

func (o *DeliveryOrchestrator) deliver(ctx context.Context, messageID int64, final model.FlightProgress) error {
	msg, err := o.messages.GetMessage(ctx, messageID)
	if err != nil {
		return o.classifyError(err)
	}

	if msg.Status == model.MessageDelivered {
		log.Printf("[delivery] #%d: already delivered, nothing to do", messageID)
		return nil
	}

	rows, err := o.messages.MarkDelivered(ctx, messageID, o.clock.Now())
	if err != nil {
		return o.classifyError(err)
	}
	if rows == 0 {
		return ErrDeliveryRaceLost
	}

	log.Printf("[delivery] ✓ #%d delivered to user #%d", messageID, msg.RecipientID)

	// The status transition is durable; failures past this point are logged
	// and do not turn the delivery into a failure.
	o.afterDelivery(ctx, msg, final)
	return nil
}

func (o *DeliveryOrchestrator) afterDelivery(ctx context.Context, msg *model.Message, final model.FlightProgress) {
	if final.DistanceKm <= 0 {
		final.DistanceKm = journeyDistance(msg)
	}

	// ── Notifications ───────────────────────────────────
	if err := o.notifier.CreateMessageReceivedNotification(ctx, msg.RecipientID, msg.SenderUsername, msg.Title); err != nil {
		log.Printf("[delivery] #%d: received notification failed: %v", msg.ID, err)
	}
	if err := o.notifier.CreateFlightDeliveredNotification(ctx, msg.SenderID, final); err != nil {
		log.Printf("[delivery] #%d: delivered notification failed: %v", msg.ID, err)
	}

	// ── Stats & rank ────────────────────────────────────
	var award JourneyAward
	_, err := o.users.UpdateStats(ctx, msg.RecipientID, func(s *model.UserStats) error {
		award = ApplyJourney(s, final.DistanceKm, msg.Destination.Country, msg.Destination.State, o.rewards)
		return nil
	})
	if err != nil {
		log.Printf("[delivery] #%d: stats update for user #%d failed: %v", msg.ID, msg.RecipientID, err)
	} else {
		o.announceRewards(ctx, msg, award)
	}

	// ── Real-time events ────────────────────────────────
	o.push(ctx, msg.RecipientID, model.Event{
		Type: EventMessageDelivered,
		Payload: map[string]any{
			"message_id":  msg.ID,
			"sender":      msg.SenderUsername,
			"title":       msg.Title,
			"distance_km": final.DistanceKm,
		},
	})
	o.push(ctx, msg.SenderID, model.Event{Type: EventFlightDelivered, Payload: final})
}

func (o *DeliveryOrchestrator) announceRewards(ctx context.Context, msg *model.Message, award JourneyAward) {
	for _, c := range award.NewCountries {
		o.reward(ctx, msg.RecipientID, fmt.Sprintf("First postcard from %s (+%d points)", c, o.rewards.DiscoveryBonus), "new_country")
	}
	for _, s := range award.NewStates {
		o.reward(ctx, msg.RecipientID, fmt.Sprintf("First postcard from %s (+%d points)", s, o.rewards.DiscoveryBonus), "new_state")
	}
	if award.LongDistancePoints > 0 {
		o.reward(ctx, msg.RecipientID, fmt.Sprintf("Long-haul postcard (+%d points)", award.LongDistancePoints), "long_distance")
	}
	if award.RankChanged() {
		o.reward(ctx, msg.RecipientID, fmt.Sprintf("Promoted to %s", award.NewRank), "rank")
		o.push(ctx, msg.RecipientID, model.Event{
			Type:    EventRankUp,
			Payload: map[string]any{"previous_rank": award.PreviousRank, "rank": award.NewRank},
		})
	}
}

func (o *DeliveryOrchestrator) reward(ctx context.Context, userID int64, description, kind string) {
	if err := o.notifier.CreateRewardUnlockedNotification(ctx, userID, description, kind); err != nil {
		log.Printf("[delivery] reward notification for user #%d failed: %v", userID, err)
	}
}

func (o *DeliveryOrchestrator) push(ctx context.Context, userID int64, ev model.Event) {
	if o.publisher == nil {
		return
	}
	if err := o.publisher.SendToUser(ctx, userID, ev); err != nil {
		log.Printf("[delivery] push %s to user #%d failed: %v", ev.Type, userID, err)
	}
}

// ─── Retries ────────────────────────────────────────────────

// scheduleRetry records a failed attempt and arms the next retry. gen is the
// generation of the retry that just failed, or 0 for the initial attempt.
func (o *DeliveryOrchestrator) scheduleRetry(messageID int64, final model.FlightProgress, cause error, gen uint64) {
	o.mu.Lock()

	p, ok := o.pending[messageID]
	switch {
	case !ok && gen != 0:
		// Cancelled while the attempt was running.
		o.mu.Unlock()
		return
	case ok && gen != p.gen:
		o.mu.Unlock()
		return
	case !ok:
		p = &pendingDelivery{record: model.DeliveryAttemptRecord{MessageID: messageID}, final: final}
		o.pending[messageID] = p
	}

	now := o.clock.Now()
	reason := cause.Error()
	p.record.LastAttemptAt = now
	p.record.LastError = &reason

	if p.record.AttemptCount >= o.cfg.MaxRetries {
		delete(o.pending, messageID)
		attempts := p.record.AttemptCount
		o.mu.Unlock()
		o.giveUp(messageID, attempts, reason)
		return
	}

	delay := o.cfg.BackoffDelay(p.record.AttemptCount)
	p.record.AttemptCount++
	p.record.NextRetryAt = now.Add(delay)
	p.gen++
	next := p.gen
	p.timer = o.clock.AfterFunc(delay, func() { o.retry(messageID, next) })
	attempt := p.record.AttemptCount
	o.mu.Unlock()

	log.Printf("[delivery] #%d: retry %d/%d in %s", messageID, attempt, o.cfg.MaxRetries, delay)
}

func (o *DeliveryOrchestrator) retry(messageID int64, gen uint64) {
	o.mu.Lock()
	p, ok := o.pending[messageID]
	if !ok || p.gen != gen {
		o.mu.Unlock()
		return
	}
	final := p.final
	o.mu.Unlock()

	err := o.deliver(o.ctx, messageID, final)
	if err == nil {
		o.mu.Lock()
		if cur, ok := o.pending[messageID]; ok && cur.gen == gen {
			delete(o.pending, messageID)
		}
		o.mu.Unlock()
		log.Printf("[delivery] #%d: delivered on retry", messageID)
		return
	}

	log.Printf("[delivery] #%d: retry failed: %v", messageID, err)
	o.scheduleRetry(messageID, final, err, gen)
}

func (o *DeliveryOrchestrator) giveUp(messageID int64, attempts int, reason string) {
	log.Printf("[delivery] ✗ #%d: giving up after %d retries: %s", messageID, attempts, reason)

	ctx := o.ctx
	msg, err := o.messages.GetMessage(ctx, messageID)
	if err != nil {
		log.Printf("[delivery] #%d: cannot notify sender of failure: %v", messageID, err)
		return
	}

	err = o.notifier.CreateNotification(ctx, model.Notification{
		UserID: msg.SenderID,
		Type:   NotificationDeliveryFailed,
		Title:  "Postcard delivery failed",
		Body:   fmt.Sprintf("Your postcard %q could not be delivered.", msg.Title),
		Metadata: map[string]any{
			"message_id": messageID,
			"attempts":   attempts,
			"last_error": reason,
		},
		CreatedAt: o.clock.Now(),
	})
	if err != nil {
		log.Printf("[delivery] #%d: failure notification failed: %v", messageID, err)
	}
}

// ─── Introspection ──────────────────────────────────────────

// CancelDeliveryRetries stops pending retries for messageID. It reports
// whether anything was pending.
func (o *DeliveryOrchestrator) CancelDeliveryRetries(messageID int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, ok := o.pending[messageID]
	if !ok {
		return false
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.gen++
	delete(o.pending, messageID)
	log.Printf("[delivery] #%d: retries cancelled", messageID)
	return true
}

// GetPendingDeliveries returns a copy of every retry record, by message id.
func (o *DeliveryOrchestrator) GetPendingDeliveries() []model.DeliveryAttemptRecord {
	o.mu.Lock()
	defer o.mu.Unlock()

	ids := maps.Keys(o.pending)
	slices.Sort(ids)

	out := make([]model.DeliveryAttemptRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, copyRecord(o.pending[id].record))
	}
	return out
}

// GetDeliveryStatus returns the retry record for messageID, if any.
func (o *DeliveryOrchestrator) GetDeliveryStatus(messageID int64) (*model.DeliveryAttemptRecord, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, ok := o.pending[messageID]
	if !ok {
		return nil, false
	}
	r := copyRecord(p.record)
	return &r, true
}

// HasPending reports whether messageID has retries scheduled.
func (o *DeliveryOrchestrator) HasPending(messageID int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.pending[messageID]
	return ok
}

// Stop cancels every pending retry.
func (o *DeliveryOrchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, p := range o.pending {
		if p.timer != nil {
			p.timer.Stop()
		}
		delete(o.pending, id)
	}
}

// classifyError maps storage errors to delivery errors.
func (o *DeliveryOrchestrator) classifyError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return ErrMessageNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrDeliveryTimeout
	default:
		return fmt.Errorf("delivery: unexpected error: %w", err)
	}
}

func copyRecord(r model.DeliveryAttemptRecord) model.DeliveryAttemptRecord {
	if r.LastError != nil {
		e := *r.LastError
		r.LastError = &e
	}
	return r
}

func journeyDistance(msg *model.Message) float64 {
	if msg.Route != nil && msg.Route.TotalDistanceKm > 0 {
		return msg.Route.TotalDistanceKm
	}
	return geo.DistanceKm(msg.Origin, msg.Destination)
}
