package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ieraasyl/ConnectService/internal/database"
	"github.com/ieraasyl/ConnectService/internal/handlers"
	"github.com/ieraasyl/ConnectService/internal/oauth"
	"github.com/ieraasyl/ConnectService/internal/ratelimit"
	"github.com/ieraasyl/ConnectService/internal/services"
	"github.com/ieraasyl/ConnectService/internal/session"
	"github.com/ieraasyl/ConnectService/internal/telemetry"
	"github.com/ieraasyl/ConnectService/pkg/cache"
	"github.com/ieraasyl/ConnectService/pkg/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogger(&cfg.Server)

	log.Info().
		Str("env", cfg.Server.Environment).
		Str("port", cfg.Server.Port).
		Msg("Starting connect service")

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize tracing")
	}

	// Initialize PostgreSQL
	postgresDB, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer postgresDB.Close()

	if err := postgresDB.RunMigrations(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	// Initialize Redis
	redisDB, err := database.NewRedisDB(ctx, &cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer redisDB.Close()

	// Provider Persistence, optionally behind the read cache
	var store interface {
		oauth.ConnectionStore
		handlers.ConnectionReader
	} = postgresDB
	if cfg.Cache.Enabled {
		store = cache.NewStore(cache.NewCache(redisDB.Client()), postgresDB, cfg.Cache.ConnectionTTL)
	}

	// Platform rate limiter
	var limiterStore ratelimit.Store
	switch cfg.RateLimit.Backend {
	case "redis":
		limiterStore = ratelimit.NewRedisStore(redisDB.Client())
	default:
		mem := ratelimit.NewMemoryStore()
		mem.StartSweeper(cfg.RateLimit.SweepInterval, ratelimit.ClockFunc(time.Now))
		defer mem.Close()
		limiterStore = mem
	}
	limiter := ratelimit.NewLimiter(limiterStore)

	// Sessions and application tokens
	tokenService := services.NewTokenService(&cfg.JWT, redisDB)
	sessions := session.NewService(
		session.NewCodec([]byte(cfg.Session.Secret), cfg.Session.TTL),
		session.Options{
			CookieName:     cfg.Session.CookieName,
			TTL:            cfg.Session.TTL,
			RememberTTL:    cfg.Session.RememberTTL,
			TransactionTTL: cfg.Session.TransactionTTL,
			IsProduction:   cfg.Server.IsProduction(),
		},
	)

	// OAuth flows
	providers := oauth.NewProviders(cfg.Providers, cfg.Server, oauth.DefaultEndpoints())
	if len(providers.Keys()) == 0 {
		log.Warn().Msg("No OAuth providers configured")
	}
	controller := oauth.NewController(oauth.Options{
		Providers:  providers,
		Sessions:   sessions,
		Store:      store,
		Tokens:     tokenService,
		HTTPClient: telemetry.HTTPClient(cfg.Providers.HTTPTimeout),
	})
	log.Info().Strs("providers", providers.Keys()).Msg("OAuth providers registered")

	// Initialize handlers
	ui := handlers.UIRoutes{
		FrontendURL:     cfg.Server.FrontendURL,
		ConnectionsPath: controller.DefaultReturnTo(),
		LoginPath:       cfg.Server.LoginPath,
	}
	router := handlers.Router(handlers.RouterOptions{
		Logger:           log.Logger,
		Sessions:         sessions,
		Providers:        providers,
		Tokens:           tokenService,
		Limiter:          limiter,
		Connect:          handlers.NewConnectHandler(controller, sessions, store, ui),
		Auth:             handlers.NewAuthHandler(controller, sessions, tokenService, store, ui),
		Health:           handlers.NewHealthHandler(postgresDB, redisDB),
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		LoginPath:        cfg.Server.LoginPath,
		IPRequestsPerMin: cfg.RateLimit.IPRequestsPerMin,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      telemetry.Middleware(cfg.Telemetry.ServiceName)(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", server.Addr).Msg("Server started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to flush traces")
	}

	log.Info().Msg("Server stopped gracefully")
}

// setupLogger writes human-readable logs in development and JSON in
// production.
func setupLogger(cfg *config.ServerConfig) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if cfg.IsProduction() {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Str("service", "connect-service").Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	zerolog.DefaultContextLogger = &log.Logger
}
