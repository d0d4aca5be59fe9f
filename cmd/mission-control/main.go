// Mission Control hub server: durable event log, SSE event streams and
// WebSocket chat for multi-tenant coordination.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/openclaw/mission-control/pkg/api"
	"github.com/openclaw/mission-control/pkg/chat"
	"github.com/openclaw/mission-control/pkg/cleanup"
	"github.com/openclaw/mission-control/pkg/database"
	"github.com/openclaw/mission-control/pkg/events"
	"github.com/openclaw/mission-control/pkg/fabric"
	"github.com/openclaw/mission-control/pkg/services"
	"github.com/openclaw/mission-control/pkg/version"
)

const defaultConnectionLimit = 50

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	envFile := flag.String("env-file", getEnv("ENV_FILE", ".env"), "Path to .env file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envFile, "error", err)
	}

	httpPort := getEnv("HTTP_PORT", "8080")

	connLimit := defaultConnectionLimit
	if raw := os.Getenv("MAX_CONNECTIONS_PER_ORG"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			connLimit = parsed
		}
	}

	slog.Info("Starting Mission Control hub",
		"version", version.Version,
		"http_port", httpPort,
		"connection_limit", connLimit)

	ctx := context.Background()

	// 1. Database
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 2. Redis fabric
	redisConfig, err := fabric.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load redis config", "error", err)
		os.Exit(1)
	}
	redisClient, err := fabric.NewClient(ctx, redisConfig)
	if err != nil {
		slog.Error("Failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			slog.Error("Error closing redis client", "error", err)
		}
	}()
	slog.Info("Connected to Redis", "addr", redisConfig.Addr)

	pubsub := fabric.NewPubSub(redisClient)
	ring := fabric.NewRingBuffer(redisClient)
	registry := fabric.NewRegistry(redisClient, connLimit)

	// 3. Domain services
	logger := slog.Default()
	eventService := services.NewEventService(dbClient.DB())
	messageService := services.NewMessageService(dbClient.DB())
	channelService := services.NewChannelService(dbClient.DB())
	subscriptionService := services.NewSubscriptionService(dbClient.DB())
	authService := services.NewAuthService(dbClient.DB())
	slog.Info("Services initialized")

	// 4. Fan-out layers
	broadcaster := events.NewBroadcaster(eventService, ring, pubsub, logger)
	streamEngine := events.NewStreamEngine(eventService, ring, registry, pubsub, subscriptionService, logger)
	chatManager := chat.NewManager(messageService, channelService, broadcaster, pubsub, registry, logger)

	// 5. Retention sweeper
	sweeper := cleanup.NewService(cleanup.LoadConfigFromEnv(), eventService)
	sweeper.Start(ctx)

	// 6. HTTP server (non-blocking)
	httpServer := api.NewServer(dbClient, authService, registry, streamEngine,
		chatManager, channelService, messageService, subscriptionService,
		broadcaster, logger)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + httpPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Mission Control hub started")

	// 7. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server failed, shutting down", "error", err)
	}

	sweeper.Stop()

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
