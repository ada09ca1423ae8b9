// AI chat gateway server.
package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/leo-pe2/ai-chat-main/internal/api"
	"github.com/leo-pe2/ai-chat-main/internal/auth"
	"github.com/leo-pe2/ai-chat-main/internal/chats"
	"github.com/leo-pe2/ai-chat-main/internal/config"
	"github.com/leo-pe2/ai-chat-main/internal/gateway"
	"github.com/leo-pe2/ai-chat-main/internal/identity"
	"github.com/leo-pe2/ai-chat-main/internal/middleware"
	"github.com/leo-pe2/ai-chat-main/internal/notify"
	"github.com/leo-pe2/ai-chat-main/internal/provider"
	"github.com/leo-pe2/ai-chat-main/internal/retention"
	"github.com/leo-pe2/ai-chat-main/internal/search"
	"github.com/leo-pe2/ai-chat-main/internal/session"
	"github.com/leo-pe2/ai-chat-main/internal/store"
	"github.com/leo-pe2/ai-chat-main/internal/telemetry"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "postgres", cfg.Database.IsPostgres())

	// Initialize dependencies.
	repo, err := store.Open(cfg.Database)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	metrics := telemetry.NewMetrics()
	webhook := telemetry.New(cfg.DiscordWebhook, logger)
	if c, ok := webhook.(io.Closer); ok {
		defer func() {
			if closeErr := c.Close(); closeErr != nil {
				slog.Warn("Error webhook did not drain", "error", closeErr)
			}
		}()
	}
	sink := telemetry.Counted(webhook, metrics)

	registry, err := provider.NewRegistry(context.Background(), provider.Config{
		OpenAIAPIKey:     cfg.Providers.OpenAIAPIKey,
		DeepSeekAPIKey:   cfg.Providers.DeepSeekAPIKey,
		GoogleAPIKey:     cfg.Providers.GoogleAPIKey,
		OpenRouterAPIKey: cfg.Providers.OpenRouterAPIKey,
		OpenAIBaseURL:    cfg.Providers.GatewayBaseURL,
		Timeout:          cfg.Providers.Timeout,
	})
	if err != nil {
		slog.Error("Failed to initialize model providers", "error", err)
		os.Exit(1)
	}
	slog.Info("Model providers initialized", "models", len(registry.Models()))

	gw := gateway.New(registry,
		gateway.WithSearcher(search.NewTavily(cfg.TavilyAPIKey, logger)),
		gateway.WithSink(sink),
		gateway.WithMetrics(metrics),
		gateway.WithLogger(logger),
	)

	var broker notify.Broker
	if cfg.RedisURL != "" {
		rb, err := notify.NewRedis(cfg.RedisURL, logger)
		if err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		broker = rb
		slog.Info("Change notifications via Redis")
	} else {
		broker = notify.NewMemory()
		slog.Info("Change notifications in-process (REDIS_URL not set)")
	}
	defer func() {
		if closeErr := broker.Close(); closeErr != nil {
			slog.Error("Failed to close notification broker", "error", closeErr)
		}
	}()

	chatService := chats.NewService(repo, broker,
		chats.WithGateway(gw),
		chats.WithSink(sink),
		chats.WithMetrics(metrics),
		chats.WithLogger(logger),
	)

	authService := auth.NewService(repo,
		auth.WithIssuer(cfg.MFAIssuer),
		auth.WithSessionTTL(cfg.SessionTTL),
		auth.WithLogger(logger),
	)
	sessions := session.NewRegistry(authService, logger)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, 10*time.Minute)
	throttle := limiter.Middleware(identity.ClientKey)

	// Initialize handlers.
	base := api.NewHandler(cfg.ExposeErrorDetails, logger)
	chatHandler := api.NewChatHandler(base, gw)
	chatsHandler := api.NewChatsHandler(base, chatService, throttle, cfg.CORSOrigins)
	authHandler := api.NewAuthHandler(base, authService, sessions)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(identity.Middleware(sessions))

	// Public routes.
	r.Handle("/metrics", metrics.Handler())

	// The stateless gateway only ever accepts POST.
	chatHandler.RegisterRoutes(r,
		middleware.CORS(cfg.CORSOrigins, http.MethodPost),
		identity.RefuseUnverified,
		throttle,
	)
	authHandler.RegisterRoutes(r, middleware.CORS(cfg.CORSOrigins, http.MethodGet, http.MethodPost, http.MethodDelete))
	chatsHandler.RegisterRoutes(r, middleware.CORS(cfg.CORSOrigins), identity.RequireVerified)

	// Note: the change stream is a long-lived websocket (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions.Start(ctx)

	// Start retention worker.
	retention.New(chatService, cfg.RetentionInterval,
		retention.WithAuthCleaner(repo),
		retention.WithHook(func() { limiter.Sweep() }),
		retention.WithHook(func() { sessions.Sweep() }),
		retention.WithLogger(logger),
	).Start(ctx)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
