package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shiva/tailwind/internal/model"
)

// UserRepository serves users, the match pool and per-user statistics.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new user repository.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

const userColumns = `id, username, lat, lon, state, country, opt_out_random, last_active_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var (
		u              model.User
		lat, lon       *float64
		state, country *string
	)
	if err := row.Scan(&u.ID, &u.Username, &lat, &lon, &state, &country, &u.OptOutRandom, &u.LastActiveAt); err != nil {
		return nil, err
	}
	if lat != nil && lon != nil {
		loc := model.GeoPoint{Lat: *lat, Lon: *lon}
		if state != nil {
			loc.State = *state
		}
		if country != nil {
			loc.Country = *country
		}
		u.Location = &loc
	}
	return &u, nil
}

// GetUser fetches a single user.
func (r *UserRepository) GetUser(ctx context.Context, id int64) (*model.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return u, nil
}

// ListMatchPool returns every user with the fields matching filters on.
// Filtering is done in the matching service, not here.
func (r *UserRepository) ListMatchPool(ctx context.Context) ([]model.User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list match pool: %w", err)
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

// ─── Stats ──────────────────────────────────────────────────

const statsColumns = `user_id, flights_received, total_distance_km, journey_points, visited_countries, visited_states, rank`

func scanStats(row pgx.Row) (*model.UserStats, error) {
	var s model.UserStats
	err := row.Scan(&s.UserID, &s.FlightsReceived, &s.TotalDistanceKm, &s.JourneyPoints,
		&s.VisitedCountries, &s.VisitedStates, &s.Rank)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetStats fetches a user's statistics.
func (r *UserRepository) GetStats(ctx context.Context, userID int64) (*model.UserStats, error) {
	s, err := scanStats(r.pool.QueryRow(ctx, `SELECT `+statsColumns+` FROM user_stats WHERE user_id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get stats for user %d: %w", userID, err)
	}
	return s, nil
}

// UpdateStats applies fn to a user's statistics in one transaction.
//
// Concurrency strategy: PESSIMISTIC LOCKING
//
//	T1: BEGIN → ensure row → SELECT ... FOR UPDATE → (row LOCKED)
//	T2: BEGIN → ensure row → SELECT ... FOR UPDATE → (BLOCKS)
//	T1: fn → UPDATE → COMMIT → (lock released)
//	T2: (unblocked) → re-reads T1's totals → fn → UPDATE → COMMIT
//
// Two deliveries to the same recipient therefore never lose an increment.
func (r *UserRepository) UpdateStats(ctx context.Context, userID int64, fn func(*model.UserStats) error) (*model.UserStats, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("stats: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// ── Step 1: make sure the row exists ────────────────
	_, err = tx.Exec(ctx, `
		INSERT INTO user_stats (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("stats: ensure row for user %d: %w", userID, err)
	}

	// ── Step 2: LOCK it ─────────────────────────────────
	stats, err := scanStats(tx.QueryRow(ctx, `
		SELECT `+statsColumns+`
		FROM user_stats
		WHERE user_id = $1
		FOR UPDATE
	`, userID))
	if err != nil {
		return nil, fmt.Errorf("stats: lock user %d: %w", userID, err)
	}

	// ── Step 3: apply and persist ───────────────────────
	if err := fn(stats); err != nil {
		return nil, err
	}
	if stats.VisitedCountries == nil {
		stats.VisitedCountries = []string{}
	}
	if stats.VisitedStates == nil {
		stats.VisitedStates = []string{}
	}

	_, err = tx.Exec(ctx, `
		UPDATE user_stats
		SET flights_received = $2, total_distance_km = $3, journey_points = $4,
		    visited_countries = $5, visited_states = $6, rank = $7, updated_at = NOW()
		WHERE user_id = $1
	`, userID, stats.FlightsReceived, stats.TotalDistanceKm, stats.JourneyPoints,
		stats.VisitedCountries, stats.VisitedStates, stats.Rank)
	if err != nil {
		return nil, fmt.Errorf("stats: update user %d: %w", userID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("stats: commit: %w", err)
	}
	return stats, nil
}
