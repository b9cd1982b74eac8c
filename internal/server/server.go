// Package server contains HTTP and WebSocket handlers for the messaging API.
package server

import (
	"context"
	"log"
	"time"

	"parley/internal/bootstrap"
	"parley/internal/config"
	"parley/internal/featureflags"
	"parley/internal/middleware"
	"parley/internal/models"
	"parley/internal/notifications"
	"parley/internal/repository"
	"parley/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc
	repos          repository.Repositories
	notifier       *notifications.Notifier
	chatHub        *notifications.ChatHub
	dispatcher     *notifications.Dispatcher
	featureFlags   *featureflags.Manager
	gatekeeper     *service.Gatekeeper
	conversations  *service.ConversationService
	migration      *service.ChatMigrationService
	assistant      *service.AssistantService
	userService    *service.UserService
}

// NewServer creates a new server instance with all dependencies
func NewServer(cfg *config.Config) (*Server, error) {
	// Redis may be nil when unreachable; the server then runs single-instance.
	db, redisClient, err := bootstrap.InitRuntime(cfg, bootstrap.Options{})
	if err != nil {
		return nil, err
	}
	return NewServerWithDeps(cfg, db, redisClient)
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// Use this in tests or when a bootstrap layer establishes DB/Redis.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	middleware.InitMiddleware(cfg)

	repos := repository.NewRepositories(db)
	flags := featureflags.NewManager(cfg.FeatureFlags)

	presence := notifications.NewPresenceTracker(redisClient, notifications.PresenceConfig{
		TTL: time.Duration(cfg.PresenceTTLSeconds) * time.Second,
	})
	notifier := notifications.NewNotifier(redisClient)
	hub := notifications.NewChatHub(presence)
	dispatcher := notifications.NewDispatcher(hub, notifier, notifications.DispatcherConfig{
		QueueSize: cfg.DispatchQueueSize,
		Push:      offlineLogger{},
	})

	s := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics("parley-api"),
		repos:          repos,
		notifier:       notifier,
		chatHub:        hub,
		dispatcher:     dispatcher,
		featureFlags:   flags,
	}
	s.gatekeeper = service.NewGatekeeper(repository.NewTransactor(db), repos, dispatcher, flags)
	s.conversations = service.NewConversationService(repos, dispatcher)
	s.migration = service.NewChatMigrationService(repository.NewTransactor(db), repos, cfg.ChatMigrationBatchSize)
	s.userService = service.NewUserService(repos.Users, repos.Conversations)

	if cfg.AssistantEnabled {
		s.assistant = service.NewAssistantService(repos, s.gatekeeper, flags, cfg.AssistantUsername, service.CannedResponder{})
	}

	return s, nil
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	// Panic recovery
	app.Use(recover.New())

	// Request ID for tracing
	app.Use(requestid.New())

	// Context Middleware to propagate Request ID and User ID
	app.Use(middleware.ContextMiddleware())
	app.Use(middleware.TracingMiddleware())

	// Prometheus Metrics
	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	// Security headers
	app.Use(helmet.New())

	app.Use(middleware.StructuredLogger())

	// CORS runs before the limiter so error responses still carry CORS headers.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	// Global rate limiting (100 requests per minute per IP)
	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	api := app.Group("/api")
	api.Get("/metrics/dashboard", monitor.New(monitor.Config{
		Title: "Parley Metrics Dashboard",
	}))

	// The websocket handshake authenticates from ?token= before the upgrade.
	api.Get("/ws/chat", middleware.WebSocketAuthRequired, s.WebSocketChatHandler())

	protected := api.Group("", middleware.AuthRequired)

	users := protected.Group("/users")
	users.Get("/me", s.GetMyProfile)
	users.Put("/me", s.UpdateMyProfile)

	conversations := protected.Group("/conversations")
	conversations.Get("/", s.GetConversations)
	// Specific routes before the generic /:id routes
	conversations.Post("/direct/:userId", middleware.RateLimitFor(s.redis, middleware.DirectOpenLimit), s.OpenDirectConversation)
	conversations.Post("/groups", s.CreateGroup)
	conversations.Post("/assistant", s.StartAssistantConversation)
	conversations.Get("/:id/messages", s.GetMessages)
	conversations.Post("/:id/members", s.AddMembers)
	conversations.Delete("/:id/members/:userId", s.RemoveMember)
	conversations.Put("/:id/theme", s.UpdateTheme)
	conversations.Patch("/:id", s.UpdateGroup)
	conversations.Delete("/:id", s.DeleteConversation)
	conversations.Get("/:id", s.GetConversation)

	messages := protected.Group("/messages")
	messages.Post("/", middleware.RateLimitFor(s.redis, middleware.SendMessageLimit), s.SendMessage)
	messages.Post("/:id/read", s.MarkMessageRead)

	requests := protected.Group("/message-requests")
	requests.Get("/", s.GetMessageRequests)
	requests.Get("/count", s.GetMessageRequestCount)
	requests.Get("/status/:userId", s.GetRequestStatus)
	requests.Post("/:id/accept", s.AcceptMessageRequest)
	requests.Post("/:id/reject", s.RejectMessageRequest)
	requests.Post("/:id/ignore", s.IgnoreMessageRequest)
	requests.Get("/:id", s.GetMessageRequest)

	admin := protected.Group("/admin", s.AdminRequired())
	admin.Get("/feature-flags", s.GetFeatureFlags)
	migration := admin.Group("/migration/chat", s.FeatureRequired(featureflags.AdminMigrationRoutes))
	migration.Post("/to-conversations", s.MigrateChatToConversations)
	migration.Post("/cleanup", s.CleanupChatMigration)
}

// LivenessCheck handles liveness check requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness check requests
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "healthy"
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	} else {
		// Cross-instance fan-out needs Redis, so a node without it is not ready.
		redisStatus = "unavailable"
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus == "unhealthy" || redisStatus != "healthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"sessions": s.chatHub.SessionCount(),
		"time":     time.Now(),
	})
}

// AdminRequired returns middleware that rejects non-admin users with 403.
// Must be placed after AuthRequired so that userID is available in locals.
func (s *Server) AdminRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Locals("userID").(uint)

		user, err := s.repos.Users.GetByID(c.UserContext(), userID)
		if err != nil {
			return models.RespondWithError(c, statusForError(err), err)
		}
		if !user.IsAdmin {
			return models.RespondWithError(c, fiber.StatusForbidden,
				models.NewForbiddenError("Admin access required"))
		}

		return c.Next()
	}
}

// FeatureRequired hides a route group behind a feature flag evaluated for the caller.
func (s *Server) FeatureRequired(flag string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, _ := c.Locals("userID").(uint)
		if !s.featureFlags.Enabled(flag, userID) {
			return models.RespondWithError(c, fiber.StatusNotFound,
				models.NewNotFoundError("Route", c.Path()))
		}
		return c.Next()
	}
}

// newApp builds the Fiber app with middleware and routes. Tests drive it via app.Test.
func (s *Server) newApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "Parley Messaging API",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
			}
			log.Printf("Error: %v", err)
			return models.RespondWithError(c, fiber.StatusInternalServerError,
				models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return app
}

// Start starts the server
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownCtx = ctx
	s.shutdownFn = cancel

	s.app = s.newApp()

	if s.assistant != nil {
		if _, err := s.assistant.EnsureAssistantUser(ctx); err != nil {
			log.Printf("assistant user unavailable: %v", err)
		}
	}

	// Subscribe this instance to the shared pub/sub channels
	if s.notifier.Enabled() {
		if err := s.chatHub.StartWiring(s.shutdownCtx, s.notifier); err != nil {
			log.Printf("failed to start %s wiring: %v", s.chatHub.Name(), err)
		}
	}

	log.Printf("Server starting on port %s...", s.config.Port)
	return s.app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	// Cancel the server-scoped context to stop the subscribers
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			log.Printf("error shutting down HTTP server: %v", err)
		}
	}

	// Drain queued events before the sessions go away
	s.dispatcher.Close()
	if s.assistant != nil {
		s.assistant.Wait()
	}

	if err := s.chatHub.Shutdown(ctx); err != nil {
		log.Printf("error shutting down %s: %v", s.chatHub.Name(), err)
	}

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			log.Printf("error closing sql DB: %v", cerr)
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			log.Printf("error closing redis: %v", rerr)
		}
	}

	log.Println("Server shutdown complete")
	return nil
}
