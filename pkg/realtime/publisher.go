// Package realtime pushes events to connected clients over Redis pub/sub.
// A socket gateway subscribes to the per-user and per-flight channels and
// relays them; this package only publishes.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/shiva/tailwind/internal/model"
)

// UserChannel is the channel carrying events addressed to one user.
func UserChannel(userID int64) string {
	return fmt.Sprintf("user:%d:events", userID)
}

// FlightChannel is the channel carrying progress snapshots of one flight.
func FlightChannel(messageID int64) string {
	return fmt.Sprintf("flight:%d:progress", messageID)
}

// RedisPublisher publishes JSON events on Redis channels.
type RedisPublisher struct {
	redis *redis.Client
}

// NewRedisPublisher creates a publisher on the given client.
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{redis: client}
}

// SendToUser publishes ev on the user's channel.
func (p *RedisPublisher) SendToUser(ctx context.Context, userID int64, ev model.Event) error {
	return p.publish(ctx, UserChannel(userID), ev)
}

// PublishProgress publishes a flight snapshot on the flight's channel.
func (p *RedisPublisher) PublishProgress(ctx context.Context, progress model.FlightProgress) error {
	return p.publish(ctx, FlightChannel(progress.MessageID), model.Event{Type: "flight_progress", Payload: progress})
}

func (p *RedisPublisher) publish(ctx context.Context, channel string, ev model.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("realtime: encode %s: %w", ev.Type, err)
	}
	if err := p.redis.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("realtime: publish %s on %s: %w", ev.Type, channel, err)
	}
	return nil
}
