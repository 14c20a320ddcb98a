package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/shiva/tailwind/config"
	"github.com/shiva/tailwind/internal/handler"
	"github.com/shiva/tailwind/internal/middleware"
	"github.com/shiva/tailwind/internal/repository"
	"github.com/shiva/tailwind/internal/service"
	"github.com/shiva/tailwind/pkg/cache"
	"github.com/shiva/tailwind/pkg/db"
	"github.com/shiva/tailwind/pkg/realtime"
	"github.com/shiva/tailwind/pkg/weather"
)

func main() {
	// ── Load configuration ──────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx := context.Background()

	// ── Connect to PostgreSQL ───────────────────────────
	pgPool, err := db.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		log.Fatalf("failed to connect to PostgreSQL: %v", err)
	}
	defer pgPool.Close()
	log.Println("✓ PostgreSQL connected")

	if cfg.Postgres.Migrate {
		if err := db.Migrate(ctx, pgPool); err != nil {
			log.Fatalf("failed to apply migrations: %v", err)
		}
		log.Println("✓ Migrations applied")
	}

	// ── Connect to Redis ────────────────────────────────
	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("✓ Redis connected")

	// ── Initialize layers ───────────────────────────────
	messageRepo := repository.NewMessageRepository(pgPool)
	userRepo := repository.NewUserRepository(pgPool)
	notificationRepo := repository.NewNotificationRepository(pgPool)
	publisher := realtime.NewRedisPublisher(redisClient)

	var weatherCache service.WeatherCache
	if cfg.Weather.CacheBackend == "memory" {
		weatherCache = service.NewMemoryWeatherCache(time.Now)
	} else {
		weatherCache = repository.NewWeatherCacheRepository(redisClient)
	}
	weatherClient := weather.NewClient(weather.WithBaseURLOption(cfg.Weather.BaseURL))

	routingSvc := service.NewRoutingService(service.RoutingConfig{
		MaxSegmentKm:   cfg.Flight.MaxSegmentKm,
		CruiseSpeedKmh: cfg.Flight.CruiseSpeedKmh,
	})
	weatherSvc := service.NewWeatherService(weatherClient, weatherCache, service.WeatherConfig{
		Timeout:        cfg.Weather.Timeout,
		CacheTTL:       cfg.Weather.CacheTTL,
		MaxConcurrent:  cfg.Weather.MaxConcurrent,
		StormThreshold: cfg.Flight.StormThreshold,
	})

	rewards := service.DefaultRewardsConfig()
	rewards.DiscoveryBonus = cfg.Rewards.DiscoveryBonus
	rewards.LongDistanceKm = cfg.Rewards.LongDistanceKm
	rewards.LongDistanceBonus = cfg.Rewards.LongDistanceBonus

	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	deliverySvc := service.NewDeliveryOrchestrator(
		messageRepo, userRepo, notificationRepo, publisher, rewards,
		service.DeliveryConfig{
			BaseDelay:  cfg.Delivery.BaseDelay,
			Multiplier: cfg.Delivery.Multiplier,
			MaxDelay:   cfg.Delivery.MaxDelay,
			MaxRetries: cfg.Delivery.MaxRetries,
		},
		service.WithRetryContext(bgCtx),
	)
	flightEngine := service.NewFlightEngine(service.FlightConfig{
		TickInterval:         cfg.Flight.TickInterval,
		CruiseSpeedKmh:       cfg.Flight.CruiseSpeedKmh,
		WeatherResampleTicks: cfg.Flight.WeatherResampleTicks,
		WeatherTimeout:       cfg.Weather.Timeout,
		MaxReroutes:          cfg.Flight.MaxReroutes,
	}, routingSvc, weatherSvc, deliverySvc)
	recoverySvc := service.NewRecoveryService(messageRepo, flightEngine, deliverySvc, time.Now)
	matchingSvc := service.NewMatchingService(userRepo, service.MatchingConfig{
		MinDistanceKm: cfg.Matching.MinDistanceKm,
		InactiveAfter: time.Duration(cfg.Matching.InactiveDays) * 24 * time.Hour,
	})

	matchHandler := handler.NewMatchHandler(matchingSvc)
	flightHandler := handler.NewFlightHandler(flightEngine, messageRepo, publisher)
	deliveryHandler := handler.NewDeliveryHandler(deliverySvc, recoverySvc)
	statsHandler := handler.NewStatsHandler(userRepo)

	// Complete any flight that arrived while the process was down.
	go recoverySvc.Run(bgCtx, cfg.Delivery.SweepInterval)

	// ── Setup router ────────────────────────────────────
	router := mux.NewRouter()

	// Health check endpoint.
	router.HandleFunc(middleware.HealthPath, healthHandler(pgPool, redisClient)).Methods(http.MethodGet)

	// API v1 routes.
	api := router.PathPrefix("/api/v1").Subrouter()
	// Matching
	api.HandleFunc("/match/{sender_id}", matchHandler.MatchRecipient).Methods(http.MethodPost)
	// Flights
	api.HandleFunc("/messages/{id}/flight", flightHandler.StartFlight).Methods(http.MethodPost)
	api.HandleFunc("/flights", flightHandler.ListFlights).Methods(http.MethodGet)
	api.HandleFunc("/flights/{id}", flightHandler.GetFlight).Methods(http.MethodGet)
	api.HandleFunc("/flights/{id}/state", flightHandler.GetFlightState).Methods(http.MethodGet)
	api.HandleFunc("/flights/{id}/cancel", flightHandler.CancelFlight).Methods(http.MethodPost)
	api.HandleFunc("/flights/{id}/stream", flightHandler.Subscribe).Methods(http.MethodPost)
	api.HandleFunc("/flights/{id}/stream/{sub}", flightHandler.Unsubscribe).Methods(http.MethodDelete)
	// Delivery retries and recovery
	api.HandleFunc("/deliveries", deliveryHandler.ListPending).Methods(http.MethodGet)
	api.HandleFunc("/deliveries/sweep", deliveryHandler.Sweep).Methods(http.MethodPost)
	api.HandleFunc("/deliveries/{id}", deliveryHandler.GetStatus).Methods(http.MethodGet)
	api.HandleFunc("/deliveries/{id}", deliveryHandler.CancelRetries).Methods(http.MethodDelete)
	// Journey stats
	api.HandleFunc("/users/{id}/stats", statsHandler.GetStats).Methods(http.MethodGet)

	handler := middleware.CORS(middleware.Recoverer(middleware.RequestLogger(router)))

	// ── Start HTTP server ───────────────────────────────
	srv := &http.Server{
		Addr:         cfg.Server.ServerAddr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start in a goroutine so we can listen for shutdown signals.
	go func() {
		log.Printf("🚀 Server listening on %s", cfg.Server.ServerAddr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// ── Graceful shutdown ───────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("⏳ Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced to shutdown: %v", err)
	}

	// In-flight messages are left as "flying"; the sweep delivers them on
	// the next start once their ETA has passed.
	flightEngine.Shutdown()
	deliverySvc.Stop()
	stopBackground()

	log.Println("✅ Server gracefully stopped")
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

// healthHandler returns an HTTP handler that checks PG and Redis connectivity.
func healthHandler(pgPool *pgxpool.Pool, redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:   "ok",
			Services: make(map[string]string),
		}

		if err := db.HealthCheck(r.Context(), pgPool); err != nil {
			resp.Status = "degraded"
			resp.Services["postgres"] = "unhealthy: " + err.Error()
		} else {
			resp.Services["postgres"] = "healthy"
		}

		if err := cache.HealthCheck(r.Context(), redisClient); err != nil {
			resp.Status = "degraded"
			resp.Services["redis"] = "unhealthy: " + err.Error()
		} else {
			resp.Services["redis"] = "healthy"
		}

		w.Header().Set("Content-Type", "application/json")
		if resp.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(resp)
	}
}
