package routes

import (
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/saeid-a/ClinicChatBack/internal/config"
	"github.com/saeid-a/ClinicChatBack/internal/handlers"
	"github.com/saeid-a/ClinicChatBack/internal/middleware"
	"github.com/saeid-a/ClinicChatBack/internal/presence"
	"github.com/saeid-a/ClinicChatBack/internal/repository"
	"github.com/saeid-a/ClinicChatBack/internal/services"
	chatws "github.com/saeid-a/ClinicChatBack/internal/websocket"
	"github.com/saeid-a/ClinicChatBack/pkg/logger"
)

// RegisterRoutes wires stores, services and handlers onto app. The returned
// hub is already running; the caller stops it on shutdown.
func RegisterRoutes(app *fiber.App, cfg *config.Config, db *pgxpool.Pool, registry presence.Registry) *chatws.Hub {
	userRepo := repository.NewUserRepository(db)
	doctorProfileRepo := repository.NewDoctorProfileRepository(db)
	chatStore := repository.NewChatStore(db)

	authHandler := handlers.NewAuthHandler(
		db,
		userRepo,
		doctorProfileRepo,
		cfg.JWTSecret,
		cfg.JWTTTL,
		logger.Component("auth"),
	)

	chatHub := chatws.NewHub()
	go chatHub.Run()
	chatService := services.NewChatService(chatStore, userRepo, doctorProfileRepo, cfg.ConversationListLimit)
	gateway := chatws.NewGateway(chatHub, chatService, registry, logger.Component("gateway"))
	chatHandler := handlers.NewChatHandler(chatService, gateway, cfg.JWTSecret)
	directoryHandler := handlers.NewDoctorDirectoryHandler(doctorProfileRepo, gateway)

	app.Get("/health", func(c *fiber.Ctx) error {
		if err := chatStore.Ping(c.Context()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded"})
		}
		return c.JSON(fiber.Map{
			"status":   "ok",
			"presence": cfg.PresenceBackend(),
		})
	})
	if cfg.MetricsEnabled {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	}

	api := app.Group("/api")

	auth := api.Group("/auth")
	auth.Post("/register", authHandler.Register)
	auth.Post("/login", authHandler.Login)
	auth.Get("/me", middleware.AuthRequired(cfg.JWTSecret), authHandler.Me)

	// The websocket route authenticates from the query string, so it sits
	// outside the header-based group.
	api.Use("/v1/ws", chatHandler.WebSocketAuth)
	api.Get("/v1/ws", websocket.New(chatHandler.HandleWebSocket, websocket.Config{
		Origins: splitOrigins(cfg.WSAllowedOrigins),
	}))

	authProtected := api.Group("/v1", middleware.AuthRequired(cfg.JWTSecret))

	conversations := authProtected.Group("/conversations")
	conversations.Get("", chatHandler.ListConversations)
	conversations.Post("", chatHandler.CreateConversation)
	conversations.Get("/:id/messages", chatHandler.GetMessages)
	conversations.Put("/:id/read", chatHandler.MarkRead)
	conversations.Delete("/:id", chatHandler.DeleteConversation)

	authProtected.Get("/presence/:userId", chatHandler.Presence)

	doctors := authProtected.Group("/doctors")
	doctors.Get("", directoryHandler.ListDoctors)
	doctors.Get("/:id", directoryHandler.GetDoctor)

	return chatHub
}
