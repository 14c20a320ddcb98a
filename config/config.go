package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Weather  WeatherConfig
	Flight   FlightConfig
	Delivery DeliveryConfig
	Matching MatchingConfig
	Rewards  RewardsConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `mapstructure:"SERVER_HOST"`
	Port         int           `mapstructure:"SERVER_PORT"`
	ReadTimeout  time.Duration `mapstructure:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `mapstructure:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `mapstructure:"SERVER_IDLE_TIMEOUT"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `mapstructure:"POSTGRES_HOST"`
	Port     int    `mapstructure:"POSTGRES_PORT"`
	User     string `mapstructure:"POSTGRES_USER"`
	Password string `mapstructure:"POSTGRES_PASSWORD"`
	DBName   string `mapstructure:"POSTGRES_DB"`
	SSLMode  string `mapstructure:"POSTGRES_SSLMODE"`
	MaxConns int32  `mapstructure:"POSTGRES_MAX_CONNS"`
	MinConns int32  `mapstructure:"POSTGRES_MIN_CONNS"`
	Migrate  bool   `mapstructure:"POSTGRES_MIGRATE"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host     string `mapstructure:"REDIS_HOST"`
	Port     int    `mapstructure:"REDIS_PORT"`
	Password string `mapstructure:"REDIS_PASSWORD"`
	DB       int    `mapstructure:"REDIS_DB"`
	PoolSize int    `mapstructure:"REDIS_POOL_SIZE"`
}

// WeatherConfig holds upstream and cache settings for the weather provider.
type WeatherConfig struct {
	BaseURL       string        `mapstructure:"WEATHER_BASE_URL"`
	Timeout       time.Duration `mapstructure:"WEATHER_TIMEOUT"`
	CacheTTL      time.Duration `mapstructure:"WEATHER_CACHE_TTL"`
	MaxConcurrent int           `mapstructure:"WEATHER_MAX_CONCURRENT"`
	CacheBackend  string        `mapstructure:"WEATHER_CACHE_BACKEND"` // "redis" or "memory"
}

// FlightConfig holds routing and flight-progress settings.
type FlightConfig struct {
	TickInterval         time.Duration `mapstructure:"FLIGHT_TICK_INTERVAL"`
	CruiseSpeedKmh       float64       `mapstructure:"FLIGHT_CRUISE_SPEED_KMH"`
	WeatherResampleTicks int           `mapstructure:"FLIGHT_WEATHER_RESAMPLE_TICKS"`
	MaxSegmentKm         float64       `mapstructure:"FLIGHT_MAX_SEGMENT_KM"`
	MaxReroutes          int           `mapstructure:"FLIGHT_MAX_REROUTES"`
	StormThreshold       float64       `mapstructure:"FLIGHT_STORM_THRESHOLD"`
}

// DeliveryConfig holds retry/backoff settings for the delivery orchestrator.
type DeliveryConfig struct {
	BaseDelay     time.Duration `mapstructure:"DELIVERY_BASE_DELAY"`
	Multiplier    float64       `mapstructure:"DELIVERY_MULTIPLIER"`
	MaxDelay      time.Duration `mapstructure:"DELIVERY_MAX_DELAY"`
	MaxRetries    int           `mapstructure:"DELIVERY_MAX_RETRIES"`
	SweepInterval time.Duration `mapstructure:"DELIVERY_SWEEP_INTERVAL"`
}

// MatchingConfig holds the Tailwind eligibility thresholds.
type MatchingConfig struct {
	MinDistanceKm float64 `mapstructure:"MATCH_MIN_DISTANCE_KM"`
	InactiveDays  int     `mapstructure:"MATCH_INACTIVE_DAYS"`
}

// RewardsConfig holds journey-point bonus magnitudes.
type RewardsConfig struct {
	DiscoveryBonus    int     `mapstructure:"REWARD_DISCOVERY_BONUS"`
	LongDistanceKm    float64 `mapstructure:"REWARD_LONG_DISTANCE_KM"`
	LongDistanceBonus int     `mapstructure:"REWARD_LONG_DISTANCE_BONUS"`
}

// DSN returns the PostgreSQL connection string.
func (p *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode,
	)
}

// Addr returns the Redis address in host:port format.
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ServerAddr returns the HTTP listen address in host:port format.
func (s *ServerConfig) ServerAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load reads configuration from environment variables and .env file.
func Load() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	// ── Defaults ────────────────────────────────────────
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_PORT", 8080)
	viper.SetDefault("SERVER_READ_TIMEOUT", "5s")
	viper.SetDefault("SERVER_WRITE_TIMEOUT", "10s")
	viper.SetDefault("SERVER_IDLE_TIMEOUT", "120s")

	viper.SetDefault("POSTGRES_HOST", "localhost")
	viper.SetDefault("POSTGRES_PORT", 5432)
	viper.SetDefault("POSTGRES_USER", "tailwind")
	viper.SetDefault("POSTGRES_PASSWORD", "tailwind_secret")
	viper.SetDefault("POSTGRES_DB", "tailwind_db")
	viper.SetDefault("POSTGRES_SSLMODE", "disable")
	viper.SetDefault("POSTGRES_MAX_CONNS", 20)
	viper.SetDefault("POSTGRES_MIN_CONNS", 2)
	viper.SetDefault("POSTGRES_MIGRATE", true)

	viper.SetDefault("REDIS_HOST", "localhost")
	viper.SetDefault("REDIS_PORT", 6379)
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("REDIS_POOL_SIZE", 50)

	viper.SetDefault("WEATHER_BASE_URL", "https://api.open-meteo.com")
	viper.SetDefault("WEATHER_TIMEOUT", "3s")
	viper.SetDefault("WEATHER_CACHE_TTL", "10m")
	viper.SetDefault("WEATHER_MAX_CONCURRENT", 8)
	viper.SetDefault("WEATHER_CACHE_BACKEND", "redis")

	viper.SetDefault("FLIGHT_TICK_INTERVAL", "1s")
	viper.SetDefault("FLIGHT_CRUISE_SPEED_KMH", 500.0)
	viper.SetDefault("FLIGHT_WEATHER_RESAMPLE_TICKS", 30)
	viper.SetDefault("FLIGHT_MAX_SEGMENT_KM", 500.0)
	viper.SetDefault("FLIGHT_MAX_REROUTES", 3)
	viper.SetDefault("FLIGHT_STORM_THRESHOLD", 0.6)

	viper.SetDefault("DELIVERY_BASE_DELAY", "2s")
	viper.SetDefault("DELIVERY_MULTIPLIER", 2.0)
	viper.SetDefault("DELIVERY_MAX_DELAY", "5m")
	viper.SetDefault("DELIVERY_MAX_RETRIES", 5)
	viper.SetDefault("DELIVERY_SWEEP_INTERVAL", "5m")

	viper.SetDefault("MATCH_MIN_DISTANCE_KM", 500.0)
	viper.SetDefault("MATCH_INACTIVE_DAYS", 14)

	viper.SetDefault("REWARD_DISCOVERY_BONUS", 100)
	viper.SetDefault("REWARD_LONG_DISTANCE_KM", 10000.0)
	viper.SetDefault("REWARD_LONG_DISTANCE_BONUS", 500)

	// Try to read .env file. If it doesn't exist (e.g., inside Docker),
	// env vars injected by docker-compose env_file are used instead.
	_ = viper.ReadInConfig()

	cfg := &Config{}

	// ── Server ──────────────────────────────────────────
	cfg.Server = ServerConfig{
		Host:         viper.GetString("SERVER_HOST"),
		Port:         viper.GetInt("SERVER_PORT"),
		ReadTimeout:  viper.GetDuration("SERVER_READ_TIMEOUT"),
		WriteTimeout: viper.GetDuration("SERVER_WRITE_TIMEOUT"),
		IdleTimeout:  viper.GetDuration("SERVER_IDLE_TIMEOUT"),
	}

	// ── Postgres ────────────────────────────────────────
	cfg.Postgres = PostgresConfig{
		Host:     viper.GetString("POSTGRES_HOST"),
		Port:     viper.GetInt("POSTGRES_PORT"),
		User:     viper.GetString("POSTGRES_USER"),
		Password: viper.GetString("POSTGRES_PASSWORD"),
		DBName:   viper.GetString("POSTGRES_DB"),
		SSLMode:  viper.GetString("POSTGRES_SSLMODE"),
		MaxConns: viper.GetInt32("POSTGRES_MAX_CONNS"),
		MinConns: viper.GetInt32("POSTGRES_MIN_CONNS"),
		Migrate:  viper.GetBool("POSTGRES_MIGRATE"),
	}

	// ── Redis ───────────────────────────────────────────
	cfg.Redis = RedisConfig{
		Host:     viper.GetString("REDIS_HOST"),
		Port:     viper.GetInt("REDIS_PORT"),
		Password: viper.GetString("REDIS_PASSWORD"),
		DB:       viper.GetInt("REDIS_DB"),
		PoolSize: viper.GetInt("REDIS_POOL_SIZE"),
	}

	// ── Weather ─────────────────────────────────────────
	cfg.Weather = WeatherConfig{
		BaseURL:       viper.GetString("WEATHER_BASE_URL"),
		Timeout:       viper.GetDuration("WEATHER_TIMEOUT"),
		CacheTTL:      viper.GetDuration("WEATHER_CACHE_TTL"),
		MaxConcurrent: viper.GetInt("WEATHER_MAX_CONCURRENT"),
		CacheBackend:  viper.GetString("WEATHER_CACHE_BACKEND"),
	}

	// ── Flight ──────────────────────────────────────────
	cfg.Flight = FlightConfig{
		TickInterval:         viper.GetDuration("FLIGHT_TICK_INTERVAL"),
		CruiseSpeedKmh:       viper.GetFloat64("FLIGHT_CRUISE_SPEED_KMH"),
		WeatherResampleTicks: viper.GetInt("FLIGHT_WEATHER_RESAMPLE_TICKS"),
		MaxSegmentKm:         viper.GetFloat64("FLIGHT_MAX_SEGMENT_KM"),
		MaxReroutes:          viper.GetInt("FLIGHT_MAX_REROUTES"),
		StormThreshold:       viper.GetFloat64("FLIGHT_STORM_THRESHOLD"),
	}

	// ── Delivery ────────────────────────────────────────
	cfg.Delivery = DeliveryConfig{
		BaseDelay:     viper.GetDuration("DELIVERY_BASE_DELAY"),
		Multiplier:    viper.GetFloat64("DELIVERY_MULTIPLIER"),
		MaxDelay:      viper.GetDuration("DELIVERY_MAX_DELAY"),
		MaxRetries:    viper.GetInt("DELIVERY_MAX_RETRIES"),
		SweepInterval: viper.GetDuration("DELIVERY_SWEEP_INTERVAL"),
	}

	// ── Matching ────────────────────────────────────────
	cfg.Matching = MatchingConfig{
		MinDistanceKm: viper.GetFloat64("MATCH_MIN_DISTANCE_KM"),
		InactiveDays:  viper.GetInt("MATCH_INACTIVE_DAYS"),
	}

	// ── Rewards ─────────────────────────────────────────
	cfg.Rewards = RewardsConfig{
		DiscoveryBonus:    viper.GetInt("REWARD_DISCOVERY_BONUS"),
		LongDistanceKm:    viper.GetFloat64("REWARD_LONG_DISTANCE_KM"),
		LongDistanceBonus: viper.GetInt("REWARD_LONG_DISTANCE_BONUS"),
	}

	if cfg.Weather.CacheBackend != "redis" && cfg.Weather.CacheBackend != "memory" {
		return nil, fmt.Errorf("config: WEATHER_CACHE_BACKEND must be 'redis' or 'memory', got %q", cfg.Weather.CacheBackend)
	}
	if cfg.Flight.MaxSegmentKm <= 0 || cfg.Flight.CruiseSpeedKmh <= 0 {
		return nil, fmt.Errorf("config: FLIGHT_MAX_SEGMENT_KM and FLIGHT_CRUISE_SPEED_KMH must be positive")
	}

	return cfg, nil
}
