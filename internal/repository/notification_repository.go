package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shiva/tailwind/internal/model"
)

// Notification types written by the delivery pipeline.
const (
	NotificationMessageReceived = "message_received"
	NotificationFlightDelivered = "flight_delivered"
	NotificationRewardUnlocked  = "reward_unlocked"
)

// NotificationRepository persists user-facing notifications.
type NotificationRepository struct {
	pool *pgxpool.Pool
}

// NewNotificationRepository creates a new notification repository.
func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

// CreateNotification inserts n. ID and CreatedAt are assigned by the database.
func (r *NotificationRepository) CreateNotification(ctx context.Context, n model.Notification) error {
	if n.Metadata == nil {
		n.Metadata = map[string]any{}
	}
	metadata, err := json.Marshal(n.Metadata)
	if err != nil {
		return fmt.Errorf("encode notification metadata: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO notifications (user_id, type, title, body, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`, n.UserID, n.Type, n.Title, n.Body, metadata)
	if err != nil {
		return fmt.Errorf("create %s notification for user %d: %w", n.Type, n.UserID, err)
	}
	return nil
}

// CreateMessageReceivedNotification tells a recipient a postcard landed.
func (r *NotificationRepository) CreateMessageReceivedNotification(ctx context.Context, recipientID int64, senderUsername, title string) error {
	return r.CreateNotification(ctx, model.Notification{
		UserID: recipientID,
		Type:   NotificationMessageReceived,
		Title:  "A postcard has landed",
		Body:   fmt.Sprintf("%s sent you %q.", senderUsername, title),
		Metadata: map[string]any{
			"sender": senderUsername,
		},
	})
}

// CreateFlightDeliveredNotification tells a sender their postcard arrived.
func (r *NotificationRepository) CreateFlightDeliveredNotification(ctx context.Context, senderID int64, p model.FlightProgress) error {
	return r.CreateNotification(ctx, model.Notification{
		UserID: senderID,
		Type:   NotificationFlightDelivered,
		Title:  "Your postcard was delivered",
		Body:   fmt.Sprintf("It travelled %.0f km.", p.DistanceKm),
		Metadata: map[string]any{
			"message_id":  p.MessageID,
			"distance_km": p.DistanceKm,
		},
	})
}

// CreateRewardUnlockedNotification records a discovery, bonus or promotion.
func (r *NotificationRepository) CreateRewardUnlockedNotification(ctx context.Context, userID int64, description, kind string) error {
	return r.CreateNotification(ctx, model.Notification{
		UserID:   userID,
		Type:     NotificationRewardUnlocked,
		Title:    "Reward unlocked",
		Body:     description,
		Metadata: map[string]any{"kind": kind},
	})
}
