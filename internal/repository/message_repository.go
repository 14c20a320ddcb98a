// Package repository provides database and cache access for the Tailwind
// postcard system.
//
// MessageRepository owns the durable message status. The flying → delivered
// transition is a single conditional UPDATE so concurrent delivery attempts
// cannot both win.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shiva/tailwind/internal/model"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("record not found")

// MessageRepository handles message reads and status transitions.
type MessageRepository struct {
	pool *pgxpool.Pool
}

// NewMessageRepository creates a new message repository.
func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

const messageColumns = `
	m.id, m.sender_id, m.recipient_id, u.username, m.title,
	m.origin_lat, m.origin_lon, m.origin_state, m.origin_country,
	m.dest_lat, m.dest_lon, m.dest_state, m.dest_country,
	m.status, m.route, m.estimated_arrival, m.delivered_at, m.created_at`

func scanMessage(row pgx.Row) (*model.Message, error) {
	var (
		m         model.Message
		routeJSON []byte
	)
	err := row.Scan(
		&m.ID, &m.SenderID, &m.RecipientID, &m.SenderUsername, &m.Title,
		&m.Origin.Lat, &m.Origin.Lon, &m.Origin.State, &m.Origin.Country,
		&m.Destination.Lat, &m.Destination.Lon, &m.Destination.State, &m.Destination.Country,
		&m.Status, &routeJSON, &m.EstimatedArrival, &m.DeliveredAt, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(routeJSON) > 0 {
		var route model.Route
		if err := json.Unmarshal(routeJSON, &route); err != nil {
			return nil, fmt.Errorf("decode route: %w", err)
		}
		m.Route = &route
	}
	return &m, nil
}

// GetMessage fetches a message with its sender's username.
func (r *MessageRepository) GetMessage(ctx context.Context, id int64) (*model.Message, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.id = $1
	`, id)

	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message %d: %w", id, err)
	}
	return m, nil
}

// MarkDelivered transitions a flying message to delivered. It returns the
// number of rows changed: 0 means another attempt already won.
func (r *MessageRepository) MarkDelivered(ctx context.Context, id int64, at time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE messages
		SET status = 'delivered', delivered_at = $2
		WHERE id = $1 AND status = 'flying'
	`, id, at)
	if err != nil {
		return 0, fmt.Errorf("mark message %d delivered: %w", id, err)
	}
	return tag.RowsAffected(), nil
}

// SaveFlightPlan stores the planned route and arrival time of a flying message.
func (r *MessageRepository) SaveFlightPlan(ctx context.Context, id int64, route *model.Route, eta time.Time) error {
	routeJSON, err := json.Marshal(route)
	if err != nil {
		return fmt.Errorf("encode route: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE messages
		SET route = $2, estimated_arrival = $3
		WHERE id = $1
	`, id, routeJSON, eta)
	if err != nil {
		return fmt.Errorf("save flight plan for message %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListFlyingMessages returns one page of flying messages whose stored arrival
// is at or before arrivedBefore. Pages are keyed by id: pass the last id of
// the previous page as afterID, or 0 for the first page.
//
// Uses the partial index idx_messages_flying_eta.
func (r *MessageRepository) ListFlyingMessages(ctx context.Context, arrivedBefore time.Time, afterID int64, limit int) ([]model.Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.status = 'flying'
		  AND m.estimated_arrival IS NOT NULL
		  AND m.estimated_arrival <= $1
		  AND m.id > $2
		ORDER BY m.id ASC
		LIMIT $3
	`, arrivedBefore, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list flying messages: %w", err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}
