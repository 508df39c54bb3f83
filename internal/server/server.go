// Package server contains HTTP and WebSocket handlers for the application's API endpoints.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"livecount/internal/bootstrap"
	"livecount/internal/config"
	"livecount/internal/database"
	"livecount/internal/featureflags"
	"livecount/internal/gateway"
	"livecount/internal/middleware"
	"livecount/internal/models"
	"livecount/internal/notifications"
	"livecount/internal/observability"
	"livecount/internal/rollup"
	"livecount/internal/store"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

// Requests per client IP per minute across the whole API.
const globalRateLimit = 300

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	runtime        *bootstrap.Runtime
	store          store.CounterStore
	gateway        *gateway.Gateway
	hub            *notifications.LiveHub
	notifier       *notifications.Notifier
	flusher        *rollup.Flusher
	featureFlags   *featureflags.Manager
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	wsLog          *observability.WSLogger
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc
}

// NewServer connects the backing services named by cfg and creates a server over them.
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	rt, err := bootstrap.InitRuntime(ctx, cfg, bootstrap.Options{})
	if err != nil {
		return nil, err
	}
	return NewServerWithRuntime(cfg, rt), nil
}

// NewServerWithRuntime creates a Server using already wired components.
// Use this in tests or when a bootstrap layer owns the connections.
func NewServerWithRuntime(cfg *config.Config, rt *bootstrap.Runtime) *Server {
	middleware.InitMiddleware(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config:         cfg,
		runtime:        rt,
		store:          rt.Store,
		gateway:        rt.Gateway,
		hub:            rt.Hub,
		notifier:       rt.Notifier,
		flusher:        rt.Flusher,
		featureFlags:   rt.Flags,
		promMiddleware: middleware.InitMetrics("livecount"),
		wsLog:          observability.NewWSLogger("live"),
		shutdownCtx:    ctx,
		shutdownFn:     cancel,
	}
}

// NewApp builds the fiber app with middleware and routes installed.
func (s *Server) NewApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:   "livecount",
		BodyLimit: 64 * 1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
			}
			middleware.Logger.ErrorContext(c.UserContext(), "unhandled error", slog.String("error", err.Error()))
			return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	s.app = app
	return app
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.TracingMiddleware())
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	// CORS runs before the limiter so rejected requests still carry CORS headers.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Viewer-Id, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		ExposeHeaders:    "X-Viewer-Id",
		AllowCredentials: origins != "*",
		MaxAge:           86400,
	}))

	app.Use(limiter.New(limiter.Config{
		Max:        globalRateLimit,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions || s.config.Env == "test"
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
	app.Get("/health", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	app.Get("/ws/live", middleware.WebSocketAuth, s.LiveWebSocketHandler())

	api := app.Group("/api")

	broadcasts := api.Group("/broadcasts")
	broadcasts.Get("/:id/stats", s.GetBroadcastStats)
	broadcasts.Get("/:id/likes", s.GetBroadcastLikes)
	broadcasts.Get("/:id/reports", s.GetBroadcastReports)
	broadcasts.Post("/:id/like", middleware.AuthRequired,
		middleware.RateLimit(s.store, 30, time.Minute, "broadcast_like"), s.ToggleBroadcastLike)
	broadcasts.Post("/:id/report", middleware.AuthRequired,
		middleware.RateLimit(s.store, 5, time.Minute, "broadcast_report"), s.ReportBroadcast)

	host := broadcasts.Group("", middleware.AuthRequired,
		middleware.RoleRequired(middleware.RolePrefixAdmin, middleware.RolePrefixSeller))
	host.Delete("/:id/live", s.EndBroadcast)
	host.Put("/:id/media", s.SaveMediaConfig)
	host.Get("/:id/media", s.GetMediaConfig)
	host.Post("/:id/notices/:type", s.MarkNotice)

	vods := api.Group("/vods")
	vods.Get("/:id/stats", s.GetVodStats)
	vods.Post("/:id/view", middleware.OptionalAuth,
		middleware.RateLimit(s.store, 60, time.Minute, "vod_view"), s.RecordVodView)
	vods.Post("/:id/like", middleware.AuthRequired,
		middleware.RateLimit(s.store, 30, time.Minute, "vod_like"), s.ToggleVodLike)
	vods.Post("/:id/report", middleware.AuthRequired,
		middleware.RateLimit(s.store, 5, time.Minute, "vod_report"), s.ReportVod)

	admin := api.Group("/admin", middleware.AuthRequired, middleware.AdminRequired())
	admin.Post("/rollup/flush", s.FlushRollup)
	admin.Get("/feature-flags", s.GetFeatureFlags)
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck reports whether the counter store and database answer.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	storeStatus := "healthy"
	if s.runtime.Redis != nil {
		if err := s.runtime.Redis.Ping(ctx).Err(); err != nil {
			storeStatus = "unhealthy"
		}
	} else if s.store == nil {
		storeStatus = "unavailable"
	}

	dbStatus := "disabled"
	if s.runtime.DB != nil {
		dbStatus = "healthy"
		if err := database.Ping(ctx, s.runtime.DB); err != nil {
			dbStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overall := "healthy"
	if storeStatus != "healthy" || dbStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overall = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overall,
		"checks": fiber.Map{
			"store":    storeStatus,
			"database": dbStatus,
		},
		"connections": s.hub.ConnCount(),
		"time":        time.Now(),
	})
}

// Start wires the live hub to the viewer-count channel, starts the rollup loop and
// listens on the configured port. It blocks until the listener stops.
func (s *Server) Start() error {
	app := s.app
	if app == nil {
		app = s.NewApp()
	}

	if err := s.hub.StartWiring(s.shutdownCtx, s.notifier); err != nil {
		return fmt.Errorf("start viewer count wiring: %w", err)
	}
	if s.flusher != nil {
		go s.flusher.Run(s.shutdownCtx, s.config.RollupInterval())
	} else {
		middleware.Logger.Warn("Rollup flusher disabled: no database configured")
	}

	middleware.Logger.Info("Server starting", slog.String("port", s.config.Port))
	return app.Listen(":" + s.config.Port)
}

// Shutdown stops background loops, closes sockets, drains this instance's
// viewer sessions from the shared counters and releases connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			middleware.Logger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := s.hub.Shutdown(ctx); err != nil {
		middleware.Logger.Error("error shutting down live hub", slog.String("error", err.Error()))
	}

	sessions := s.runtime.Tracker.SessionCount()
	if err := s.runtime.Tracker.UnregisterAll(ctx); err != nil {
		middleware.Logger.Error("error draining viewer sessions", slog.String("error", err.Error()))
	} else if sessions > 0 {
		middleware.Logger.Info("Drained viewer sessions", slog.Int("sessions", sessions))
	}

	if err := s.runtime.Close(); err != nil {
		middleware.Logger.Error("error closing connections", slog.String("error", err.Error()))
	}

	middleware.Logger.Info("Server shutdown complete")
	return nil
}
