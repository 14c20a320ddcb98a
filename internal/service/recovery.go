package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shiva/tailwind/internal/model"
)

// DefaultSweepBatch is the page size of the overdue listing and caps how many
// messages one sweep hands off.
const DefaultSweepBatch = 100

// FlightTracker reports whether a message is still being simulated.
type FlightTracker interface {
	IsActive(messageID int64) bool
}

// RecoveryService completes messages that are still flying in storage but
// whose stored arrival has passed and which no flight is simulating, e.g.
// after a restart.
type RecoveryService struct {
	messages MessageStore
	flights  FlightTracker
	delivery *DeliveryOrchestrator
	now      func() time.Time
	batch    int
}

// NewRecoveryService creates a recovery service.
func NewRecoveryService(messages MessageStore, flights FlightTracker, delivery *DeliveryOrchestrator, now func() time.Time) *RecoveryService {
	if now == nil {
		now = time.Now
	}
	return &RecoveryService{
		messages: messages,
		flights:  flights,
		delivery: delivery,
		now:      now,
		batch:    DefaultSweepBatch,
	}
}

// ProcessPendingDeliveries hands overdue, unsimulated flying messages to the
// delivery orchestrator and returns how many it handed off. Messages still
// simulated or already retrying are paged past, so they never hold back the
// ones behind them.
func (s *RecoveryService) ProcessPendingDeliveries(ctx context.Context) (int, error) {
	now := s.now()
	handled, listed := 0, 0
	var after int64

	for handled < s.batch {
		page, err := s.messages.ListFlyingMessages(ctx, now, after, s.batch)
		if err != nil {
			return handled, fmt.Errorf("recovery: list overdue messages: %w", err)
		}
		listed += len(page)

		for i := range page {
			msg := &page[i]
			after = msg.ID
			if s.flights != nil && s.flights.IsActive(msg.ID) {
				continue
			}
			if s.delivery.HasPending(msg.ID) {
				continue
			}

			s.delivery.HandleFlightCompletion(ctx, msg.ID, finalProgress(msg, now))
			handled++
			if handled == s.batch {
				break
			}
		}

		if len(page) < s.batch {
			break
		}
	}

	if handled > 0 {
		log.Printf("[recovery] Swept %d overdue messages (%d listed)", handled, listed)
	}
	return handled, nil
}

// Run sweeps once immediately, then every interval until ctx is cancelled.
func (s *RecoveryService) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("[recovery] Sweeping every %s", interval)
	for {
		if _, err := s.ProcessPendingDeliveries(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[recovery] %v", err)
		}
		select {
		case <-ctx.Done():
			log.Println("[recovery] Sweep loop stopped")
			return
		case <-ticker.C:
		}
	}
}

func finalProgress(msg *model.Message, now time.Time) model.FlightProgress {
	eta := now
	if msg.EstimatedArrival != nil {
		eta = *msg.EstimatedArrival
	}
	return model.FlightProgress{
		MessageID:        msg.ID,
		CurrentPosition:  msg.Destination,
		ProgressPct:      100,
		EstimatedArrival: eta,
		Status:           model.FlightDelivered,
		DistanceKm:       journeyDistance(msg),
	}
}
