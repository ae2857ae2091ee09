package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/shopsmart-platform/intelligent-monitoring/internal/config"
)

// Server wraps the fiber application and lifecycle helpers.
type Server struct {
	cfg config.ServerConfig
	app *fiber.App
}

// NewServer constructs the HTTP API around the supplied handler set.
func NewServer(cfg config.ServerConfig, h *Handler) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "intelligent-monitoring",
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
	})

	app.Use(recover.New())
	// Dashboards and the review UI are browser clients on other origins.
	app.Use(cors.New())

	h.Register(app)

	return &Server{cfg: cfg, app: app}
}

// Start serves requests until Shutdown is invoked.
func (s *Server) Start() error {
	return s.app.Listen(s.cfg.Address)
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// GracefulTimeout returns the configured graceful timeout duration.
func (s *Server) GracefulTimeout() time.Duration {
	return s.cfg.GracefulTimeout
}
