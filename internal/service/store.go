package service

import (
	"context"
	"time"

	"github.com/shiva/tailwind/internal/model"
)

// ─── Storage & collaborator boundaries ──────────────────────
//
// The engine never talks to Postgres or Redis directly. These interfaces are
// satisfied by the repository and realtime packages in production and by
// in-memory fakes in tests.

// MessageStore is the durable home of message status.
type MessageStore interface {
	GetMessage(ctx context.Context, id int64) (*model.Message, error)

	// MarkDelivered performs the conditional flying → delivered write and
	// reports how many rows changed (0 or 1).
	MarkDelivered(ctx context.Context, id int64, at time.Time) (int64, error)

	SaveFlightPlan(ctx context.Context, id int64, route *model.Route, eta time.Time) error

	// ListFlyingMessages returns up to limit flying messages with id above
	// afterID whose stored arrival is at or before arrivedBefore, by id.
	ListFlyingMessages(ctx context.Context, arrivedBefore time.Time, afterID int64, limit int) ([]model.Message, error)
}

// UserStore serves the matching pool and recipient statistics.
type UserStore interface {
	GetUser(ctx context.Context, id int64) (*model.User, error)
	ListMatchPool(ctx context.Context) ([]model.User, error)

	// UpdateStats loads the user's stats under a row lock, applies fn and
	// persists the result atomically.
	UpdateStats(ctx context.Context, userID int64, fn func(*model.UserStats) error) (*model.UserStats, error)
}

// Notifier creates user-facing notifications.
type Notifier interface {
	CreateMessageReceivedNotification(ctx context.Context, recipientID int64, senderUsername, title string) error
	CreateFlightDeliveredNotification(ctx context.Context, senderID int64, progress model.FlightProgress) error
	CreateRewardUnlockedNotification(ctx context.Context, userID int64, description, kind string) error
	CreateNotification(ctx context.Context, n model.Notification) error
}

// Publisher is the real-time push primitive.
type Publisher interface {
	SendToUser(ctx context.Context, userID int64, event model.Event) error
}
