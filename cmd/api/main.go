package main

import (
	"context"
	"crypto/tls"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/vietcare/booking-gateway/internal/admin"
	"github.com/vietcare/booking-gateway/internal/api/router"
	"github.com/vietcare/booking-gateway/internal/appointment"
	"github.com/vietcare/booking-gateway/internal/booking"
	"github.com/vietcare/booking-gateway/internal/catalog"
	"github.com/vietcare/booking-gateway/internal/chat"
	appconfig "github.com/vietcare/booking-gateway/internal/config"
	"github.com/vietcare/booking-gateway/internal/observability/metrics"
	"github.com/vietcare/booking-gateway/internal/payment"
	"github.com/vietcare/booking-gateway/internal/schedule"
	"github.com/vietcare/booking-gateway/pkg/logging"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting booking gateway",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	rdb := buildRedisClient(context.Background(), cfg, logger)
	if rdb == nil {
		logger.Error("redis is required for payment confirmation and chat transcripts")
		os.Exit(1)
	}
	defer rdb.Close()

	// Metrics
	registry := prometheus.NewRegistry()
	bookingMetrics := metrics.NewBookingMetrics(registry)
	metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	// Backend service clients
	catalogClient := catalog.NewClient(cfg.CatalogBaseURL, logger)
	scheduleClient := schedule.NewClient(cfg.ScheduleBaseURL, logger)
	appointmentClient := appointment.NewClient(cfg.AppointmentBaseURL, logger)

	// Payment confirmation watcher
	watcher := payment.NewWatcher(rdb, cfg.HeartbeatInterval, logger)

	// Initialize handlers
	bookingHandler := booking.NewHandler(
		booking.NewStore(),
		catalogClient,
		scheduleClient,
		appointmentClient,
		watcher,
		booking.Config{
			BankAccountNumber: cfg.BankAccountNumber,
			BankCode:          cfg.BankCode,
			DefaultPriceCents: cfg.DefaultPriceCents,
			Currency:          cfg.Currency,
			HorizonDays:       cfg.BookingHorizonDays,
		},
		bookingMetrics,
		logger,
	)
	adminHandler := admin.NewHandler(catalogClient, appointmentClient, logger)
	chatHandler := chat.NewHandler(chat.NewTranscriptStore(rdb), logger)

	// Setup router
	routerCfg := &router.Config{
		Logger:             logger,
		BookingHandler:     bookingHandler,
		AdminHandler:       adminHandler,
		ChatHandler:        chatHandler,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerSecond: 20,
		RateLimitBurst:     40,
	}
	r := router.New(routerCfg)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// buildRedisClient returns a configured Redis client or nil when unreachable.
func buildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) *redis.Client {
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		logger.Error("REDIS_ADDR is not set")
		return nil
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Error("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}
