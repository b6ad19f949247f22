package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/saeid-a/ClinicChatBack/internal/config"
	"github.com/saeid-a/ClinicChatBack/internal/database"
	"github.com/saeid-a/ClinicChatBack/internal/middleware"
	"github.com/saeid-a/ClinicChatBack/internal/presence"
	"github.com/saeid-a/ClinicChatBack/internal/routes"
	"github.com/saeid-a/ClinicChatBack/pkg/logger"
)

const presenceKeyPrefix = "presence:"

func main() {
	// 1. Load Config
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Get().Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(cfg.AppEnv, cfg.LogLevel)
	log := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to Database
	if cfg.DBUrl == "" {
		log.Fatal().Msg("DB_URL is required")
	}
	db, err := database.Connect(ctx, cfg.DBUrl, database.PoolOptions{
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// 3. Presence
	var registry presence.Registry = presence.NewMemoryRegistry()
	if cfg.PresenceBackend() == "redis" {
		client, err := presence.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer client.Close()

		redisRegistry := presence.NewRedisRegistry(client, presenceKeyPrefix)
		// Connections from a previous run are gone; their handles would
		// keep users online forever.
		if err := redisRegistry.Reset(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to reset presence")
		}
		registry = redisRegistry
	}
	log.Info().Str("backend", cfg.PresenceBackend()).Msg("presence registry ready")

	// 4. Setup Fiber
	app := fiber.New(fiber.Config{DisableStartupMessage: !cfg.IsDevelopment()})

	app.Use(cors.New(cors.Config{AllowOrigins: cfg.WSAllowedOrigins}))
	app.Use(fiberlogger.New())
	app.Use(recover.New())
	if cfg.MetricsEnabled {
		app.Use(middleware.Metrics())
	}

	hub := routes.RegisterRoutes(app, cfg, db, registry)
	defer hub.Stop()

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("shutdown failed")
		}
	}()

	// 5. Start Server
	log.Info().Str("port", cfg.Port).Str("env", cfg.AppEnv).Msg("server starting")
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Error().Err(err).Msg("server stopped")
	}
}
