package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chatsvc/chatsvc/internal/v1/auth"
	"github.com/chatsvc/chatsvc/internal/v1/bus"
	"github.com/chatsvc/chatsvc/internal/v1/config"
	"github.com/chatsvc/chatsvc/internal/v1/health"
	"github.com/chatsvc/chatsvc/internal/v1/logging"
	"github.com/chatsvc/chatsvc/internal/v1/middleware"
	"github.com/chatsvc/chatsvc/internal/v1/service"
	"github.com/chatsvc/chatsvc/internal/v1/state"
	"github.com/chatsvc/chatsvc/internal/v1/tracing"
	"github.com/chatsvc/chatsvc/internal/v1/transport"
	"github.com/chatsvc/chatsvc/internal/v1/types"
	"github.com/chatsvc/chatsvc/internal/v1/user"
)

func main() {
	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool

	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// Validate environment variables before starting the server
	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}

	if cfg.DevelopmentMode {
		slog.Info("Running in DEVELOPMENT MODE")
	}

	// Optional OpenTelemetry tracing; enabled when a collector is configured.
	if collectorAddr := os.Getenv("OTEL_COLLECTOR_ADDR"); collectorAddr != "" {
		tp, err := tracing.InitTracer(context.Background(), "chat-service", collectorAddr)
		if err != nil {
			slog.Error("Failed to initialize tracing", "error", err)
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
			slog.Info("✅ Tracing initialized", "collector", collectorAddr)
		}
	}

	// Each process gets a fresh instance id; socket refs carry it so the
	// cluster can route per-socket operations.
	instance := types.InstanceID(uuid.NewString())

	var validator auth.TokenValidator
	if cfg.DevelopmentMode {
		slog.Warn("⚠️ Development mode: accepting unverified tokens - DO NOT USE IN PRODUCTION")
		validator = &auth.MockValidator{}
	} else {
		v, err := auth.NewValidator(cfg.JWTSecret)
		if err != nil {
			slog.Error("Failed to create auth validator", "error", err)
			os.Exit(1)
		}
		validator = v
	}

	// --- State Store + Redis Bus Initialization ---
	// Multi-instance deployments keep shared state and pub/sub in Redis;
	// otherwise everything stays in process memory.
	var store types.StateStore
	var redisBus *bus.Redis
	var clusterBus types.Bus
	if cfg.RedisEnabled {
		redisStore, err := state.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.Namespace, cfg.HistoryMaxMessages)
		if err != nil {
			slog.Error("Failed to connect to Redis store", "error", err)
			os.Exit(1)
		}
		store = redisStore

		redisBus, err = bus.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.Namespace, instance, cfg.BusAckTimeout)
		if err != nil {
			slog.Error("Failed to connect to Redis bus", "error", err)
			os.Exit(1)
		}
		clusterBus = redisBus
		slog.Info("✅ Redis initialized for distributed state and messaging", "addr", cfg.RedisAddr)
	} else {
		store = state.NewMemoryStore(cfg.HistoryMaxMessages)
		slog.Info("Running in single-instance mode (Redis disabled)")
	}

	allowedOrigins := auth.GetAllowedOriginsFromEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"})

	// --- Wire the Core ---
	hub := transport.NewHub(instance, validator, clusterBus, cfg.DevelopmentMode, allowedOrigins)
	svc := service.New(user.Config{
		EnableDirectMessages:  cfg.EnableDirectMessages,
		EnableRoomsManagement: cfg.EnableRoomsManagement,
		EnableUserlistUpdates: cfg.EnableUserlistUpdates,
		UseRawErrorObjects:    cfg.UseRawErrorObjects,
		HistoryMaxMessages:    cfg.HistoryMaxMessages,
	}, store, hub, clusterBus, nil, cfg.CloseTimeout)
	hub.SetHandler(svc)

	// Handlers are registered; the bus may start consuming.
	if redisBus != nil {
		if err := redisBus.Start(context.Background()); err != nil {
			slog.Error("Failed to start Redis bus", "error", err)
			os.Exit(1)
		}
	}

	// --- Set up Server ---
	router := gin.Default()
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins
	router.Use(cors.New(corsConfig))
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())

	router.GET("/ws", hub.ServeWs)

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check endpoints
	var pinger health.Pinger
	if redisBus != nil {
		pinger = redisBus
	}
	healthHandler := health.NewHandler(pinger)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		slog.Info("Chat server starting", "port", cfg.Port, "instance", string(instance))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run server", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// Wait for an interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Drain users first so every socket sees its cleanup, then close the
	// socket layer and the HTTP listener.
	if err := svc.Close(ctx); err != nil {
		slog.Error("Error during service shutdown:", "error", err)
	}
	if err := hub.Shutdown(ctx); err != nil {
		slog.Error("Error during hub shutdown:", "error", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown:", "error", err)
	}

	if redisBus != nil {
		if err := redisBus.Close(); err != nil {
			slog.Error("Failed to close Redis bus:", "error", err)
		}
	}
	if err := store.Close(); err != nil {
		slog.Error("Failed to close state store:", "error", err)
	}

	slog.Info("Server exiting")
}
