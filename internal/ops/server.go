// Package ops provides the operations API of the reporting agent: probes,
// prometheus metrics, reporter status and a manual report trigger.
package ops

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/exposure-reporter/internal/health"
	"github.com/p-blackswan/exposure-reporter/internal/metrics"
	"github.com/p-blackswan/exposure-reporter/internal/requestid"
)

// ServerConfig holds configuration for the ops API server.
type ServerConfig struct {
	ListenAddr  string
	APIKey      string
	MinInterval time.Duration
	// BaseContext parents cycles triggered in the background.
	BaseContext context.Context
}

// Server is the ops API Fiber application.
type Server struct {
	app      *fiber.App
	handlers *Handlers
	logger   zerolog.Logger
	config   ServerConfig
}

// NewServer creates and configures a new ops API server.
func NewServer(
	cfg ServerConfig,
	runner CycleRunner,
	state StateReader,
	checker *health.Checker,
	metricsCollector *metrics.Metrics,
	logger zerolog.Logger,
) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})

	handlers := NewHandlers(cfg.BaseContext, runner, state, checker, cfg.MinInterval, logger)

	s := &Server{
		app:      app,
		handlers: handlers,
		logger:   logger.With().Str("component", "ops_server").Logger(),
		config:   cfg,
	}

	s.setupMiddleware()
	s.setupRoutes(cfg, handlers, metricsCollector, logger)

	return s
}

func (s *Server) setupMiddleware() {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(requestid.Middleware())

	// Audit middleware
	s.app.Use(func(c *fiber.Ctx) error {
		path := c.Path()
		// Skip noisy probe logging
		if path == "/healthz" || path == "/readyz" || path == "/metrics" {
			return c.Next()
		}

		s.logger.Info().
			Str("method", c.Method()).
			Str("path", path).
			Str("ip", c.IP()).
			Str("request_id", requestid.FromFiber(c)).
			Msg("ops api request")

		return c.Next()
	})
}

func (s *Server) setupRoutes(cfg ServerConfig, h *Handlers, metricsCollector *metrics.Metrics, logger zerolog.Logger) {
	s.app.Get("/healthz", h.Liveness)
	s.app.Get("/readyz", h.Readiness)

	if metricsCollector != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(metricsCollector.Handler()))
	}

	v1 := s.app.Group("/api/v1", NewAuthMiddleware(cfg.APIKey, logger))
	v1.Get("/status", h.GetStatus)
	v1.Post("/report", h.TriggerReport)
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":8090"
	}

	s.logger.Info().Str("addr", addr).Msg("ops API server starting")
	return s.app.Listen(addr)
}

// Shutdown stops accepting requests and waits for manually triggered cycles.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("ops API server shutting down")
	err := s.app.Shutdown()
	s.handlers.Wait()
	return err
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

func customErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
		}

		logger.Error().
			Err(err).
			Int("status", code).
			Str("path", c.Path()).
			Str("method", c.Method()).
			Msg("unhandled error")

		errType, detail := "http_error", err.Error()
		if code == fiber.StatusInternalServerError {
			errType, detail = "internal_error", "An internal error occurred"
		}

		return c.Status(code).JSON(ProblemDetail{
			Type:     errType,
			Title:    utils.StatusMessage(code),
			Status:   code,
			Detail:   detail,
			Instance: c.Path(),
		})
	}
}
