// Package model contains domain models for the Tailwind postcard system.
// The storage-facing structs map to the PostgreSQL schema defined in
// migrations/001_create_schema.up.sql; the flight and weather structs are
// runtime-only and never persisted as-is.
package model

import "time"

// ─── Enums ──────────────────────────────────────────────────

type TerrainKind string

const (
	TerrainOcean    TerrainKind = "ocean"
	TerrainLand     TerrainKind = "land"
	TerrainMountain TerrainKind = "mountain"
	TerrainDesert   TerrainKind = "desert"
)

type WeatherKind string

const (
	WeatherClear WeatherKind = "clear"
	WeatherRain  WeatherKind = "rain"
	WeatherStorm WeatherKind = "storm"
	WeatherWind  WeatherKind = "wind"
)

type FlightStatus string

const (
	FlightInitializing FlightStatus = "initializing"
	FlightFlying       FlightStatus = "flying"
	FlightDelivered    FlightStatus = "delivered"
	FlightCancelled    FlightStatus = "cancelled"
)

// MessageStatus is the durable status of a message row.
type MessageStatus string

const (
	MessageFlying    MessageStatus = "flying"
	MessageDelivered MessageStatus = "delivered"
)

// ─── Location ───────────────────────────────────────────────

// GeoPoint is a WGS-84 coordinate with optional region tags.
// Treat it as an immutable value.
type GeoPoint struct {
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	State      string  `json:"state,omitempty"`
	Country    string  `json:"country,omitempty"`
	Anonymized bool    `json:"anonymized,omitempty"`
}

// ─── Routing ────────────────────────────────────────────────

// Waypoint is one point of a Route. Timestamps never decrease along a path.
type Waypoint struct {
	ID        string      `json:"id"`
	Location  GeoPoint    `json:"location"`
	Terrain   TerrainKind `json:"terrain"`
	AltitudeM float64     `json:"altitude_m"`
	Timestamp time.Time   `json:"timestamp"`
}

// Route is an ordered waypoint path. TotalCost is the terrain-weighted
// distance the path search minimizes, not the raw distance.
type Route struct {
	Path            []Waypoint `json:"path"`
	TotalDistanceKm float64    `json:"total_distance_km"`
	TotalCost       float64    `json:"total_cost"`
}

// ─── Weather ────────────────────────────────────────────────

// WeatherSample is a single current-conditions observation.
//
// For WeatherWind, SpeedModifier is the full tailwind value; the effective
// modifier depends on the flight heading relative to WindDirectionDeg.
type WeatherSample struct {
	Kind             WeatherKind `json:"kind"`
	Intensity        float64     `json:"intensity"`
	SpeedModifier    float64     `json:"speed_modifier"`
	WindDirectionDeg float64     `json:"wind_direction_deg"`
	Location         GeoPoint    `json:"location"`
	ObservedAt       time.Time   `json:"observed_at"`
}

// ─── Flights ────────────────────────────────────────────────

// FlightState is the runtime state of one in-flight message. It is owned by
// the flight engine while the flight is active.
type FlightState struct {
	MessageID        int64          `json:"message_id"`
	Route            Route          `json:"route"`
	StartLocation    GeoPoint       `json:"start_location"`
	EndLocation      GeoPoint       `json:"end_location"`
	CurrentPosition  GeoPoint       `json:"current_position"`
	ProgressPct      float64        `json:"progress_pct"`
	BaseSpeedKmh     float64        `json:"base_speed_kmh"`
	CurrentWeather   *WeatherSample `json:"current_weather,omitempty"`
	StartedAt        time.Time      `json:"started_at"`
	EstimatedArrival time.Time      `json:"estimated_arrival"`
	Status           FlightStatus   `json:"status"`
	TotalDistanceKm  float64        `json:"total_distance_km"`
	CoveredKm        float64        `json:"covered_km"`
	Reroutes         int            `json:"reroutes"`
}

// FlightProgress is the snapshot handed to progress subscribers and pollers.
type FlightProgress struct {
	MessageID        int64          `json:"message_id"`
	CurrentPosition  GeoPoint       `json:"current_position"`
	ProgressPct      float64        `json:"progress_pct"`
	EstimatedArrival time.Time      `json:"estimated_arrival"`
	CurrentWeather   *WeatherSample `json:"current_weather,omitempty"`
	Status           FlightStatus   `json:"status"`
	DistanceKm       float64        `json:"distance_km"`
}

// ─── Delivery ───────────────────────────────────────────────

// DeliveryAttemptRecord exists only while a delivery is retrying.
type DeliveryAttemptRecord struct {
	MessageID     int64     `json:"message_id"`
	AttemptCount  int       `json:"attempt_count"`
	LastAttemptAt time.Time `json:"last_attempt_at"`
	NextRetryAt   time.Time `json:"next_retry_at"`
	LastError     *string   `json:"last_error,omitempty"`
}

// ─── Domain Models ──────────────────────────────────────────

// User maps to the `users` table.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Location     *GeoPoint `json:"location,omitempty"`
	OptOutRandom bool      `json:"opt_out_random"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// UserStats maps to the `user_stats` table.
type UserStats struct {
	UserID           int64    `json:"user_id"`
	FlightsReceived  int      `json:"flights_received"`
	TotalDistanceKm  float64  `json:"total_distance_km"`
	JourneyPoints    int      `json:"journey_points"`
	VisitedCountries []string `json:"visited_countries"`
	VisitedStates    []string `json:"visited_states"`
	Rank             string   `json:"rank"`
}

// Message maps to the `messages` table.
type Message struct {
	ID               int64         `json:"id"`
	SenderID         int64         `json:"sender_id"`
	RecipientID      int64         `json:"recipient_id"`
	SenderUsername   string        `json:"sender_username"`
	Title            string        `json:"title"`
	Origin           GeoPoint      `json:"origin"`
	Destination      GeoPoint      `json:"destination"`
	Status           MessageStatus `json:"status"`
	Route            *Route        `json:"route,omitempty"`
	EstimatedArrival *time.Time    `json:"estimated_arrival,omitempty"`
	DeliveredAt      *time.Time    `json:"delivered_at,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}

// Notification maps to the `notifications` table.
type Notification struct {
	ID        int64          `json:"id"`
	UserID    int64          `json:"user_id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Event is a real-time push payload addressed to one user.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// ─── Matching–specific DTOs ─────────────────────────────────

// EligibleCandidate is computed per matching call and never stored.
type EligibleCandidate struct {
	User       User    `json:"user"`
	DistanceKm float64 `json:"distance_km"`
	Weight     float64 `json:"weight"`
}
