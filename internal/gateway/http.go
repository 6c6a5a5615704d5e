package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jgarizk/brainpro/internal/config"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const ndjsonContentType = "application/x-ndjson"

// HTTPServer exposes the controller over HTTP. Turn endpoints stream NDJSON
// events; the rest answer with plain JSON.
type HTTPServer struct {
	echo       *echo.Echo
	controller *Controller
	addr       string
	timeouts   httpTimeouts
	health     func() map[string]any
}

type httpTimeouts struct {
	read     time.Duration
	write    time.Duration
	idle     time.Duration
	shutdown time.Duration
}

func NewHTTPServer(cfg config.ServerConfig, controller *Controller) (*HTTPServer, error) {
	timeouts, err := parseTimeouts(cfg)
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &HTTPServer{
		echo:       e,
		controller: controller,
		addr:       fmt.Sprintf(":%d", cfg.Port),
		timeouts:   timeouts,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

func parseTimeouts(cfg config.ServerConfig) (httpTimeouts, error) {
	var t httpTimeouts
	var err error
	if t.read, err = config.DurationOrDefault(cfg.ReadTimeout, config.DefaultServerReadTimeout); err != nil {
		return t, fmt.Errorf("server.read_timeout: %w", err)
	}
	if t.write, err = config.DurationOrDefault(cfg.WriteTimeout, config.DefaultServerWriteTimeout); err != nil {
		return t, fmt.Errorf("server.write_timeout: %w", err)
	}
	if t.idle, err = config.DurationOrDefault(cfg.IdleTimeout, config.DefaultServerIdleTimeout); err != nil {
		return t, fmt.Errorf("server.idle_timeout: %w", err)
	}
	if t.shutdown, err = config.DurationOrDefault(cfg.ShutdownTimeout, config.DefaultServerShutdownTimeout); err != nil {
		return t, fmt.Errorf("server.shutdown_timeout: %w", err)
	}
	return t, nil
}

// Handler exposes the router, mainly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.echo
}

// SetHealthReporter adds a "components" section to /health. Call it before
// Start.
func (s *HTTPServer) SetHealthReporter(fn func() map[string]any) {
	s.health = fn
}

func (s *HTTPServer) Addr() string {
	return s.addr
}

// Start serves until Shutdown. It blocks; run it on its own goroutine.
func (s *HTTPServer) Start() error {
	slog.Info("Starting HTTP gateway", "addr", s.addr)
	s.echo.Server.ReadTimeout = s.timeouts.read
	s.echo.Server.WriteTimeout = s.timeouts.write
	s.echo.Server.IdleTimeout = s.timeouts.idle

	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http gateway failed: %w", err)
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeouts.shutdown)
	defer cancel()
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("http gateway shutdown failed: %w", err)
	}
	return nil
}

func (s *HTTPServer) setupMiddleware() {
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Debug("HTTP request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			)
			return nil
		},
	}))
	s.echo.Use(middleware.Recover())
}

func (s *HTTPServer) setupRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/v1")
	v1.POST("/turns", s.handleRunTurn)
	v1.GET("/turns", s.handleListTurns)
	v1.POST("/turns/:id/resume", s.handleResumeTurn)
}

func (s *HTTPServer) handleHealth(c echo.Context) error {
	if s.health == nil {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":     "healthy",
		"components": s.health(),
	})
}

func (s *HTTPServer) handleRunTurn(c echo.Context) error {
	var req Request
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorEvent("", CodeInvalidRequest, "invalid request body"))
	}
	req.Method = MethodRunTurn
	return s.streamEvents(c, s.controller.RunTurnGateway(c.Request().Context(), req))
}

type resumeBody struct {
	ID       string          `json:"id"`
	Approved *bool           `json:"approved"`
	Answers  json.RawMessage `json:"answers"`
}

func (s *HTTPServer) handleResumeTurn(c echo.Context) error {
	var body resumeBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorEvent("", CodeInvalidRequest, "invalid request body"))
	}
	req := Request{
		ID:       body.ID,
		Method:   MethodResumeTurn,
		TurnID:   c.Param("id"),
		Approved: body.Approved,
		Answers:  body.Answers,
	}
	return s.streamEvents(c, s.controller.ResumeTurn(c.Request().Context(), req))
}

func (s *HTTPServer) handleListTurns(c echo.Context) error {
	turns, err := s.controller.ListTurns(c.Request().Context())
	if err != nil {
		slog.Error("Failed to list turns", "error", err)
		return c.JSON(http.StatusInternalServerError, errorEvent("", "internal", "failed to list turns"))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"total": len(turns),
		"turns": turns,
	})
}

// streamEvents writes one JSON line per event and flushes after each.
func (s *HTTPServer) streamEvents(c echo.Context, events <-chan AgentEvent) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, ndjsonContentType)
	res.Header().Set("Cache-Control", "no-cache")
	res.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(res)
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			slog.Warn("Client went away mid-stream", "type", ev.Type, "error", err)
			continue
		}
		res.Flush()
	}
	return nil
}
