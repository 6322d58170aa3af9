package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"chatrelay/internal/catalog"
	"chatrelay/internal/config"
	"chatrelay/internal/health"
	"chatrelay/internal/metrics"
	"chatrelay/internal/upstream"
)

const (
	maxBodyBytes        = 1 << 20 // 1 MiB
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	idleTimeout         = 120 * time.Second
)

// Server wires the relay's HTTP surface: the OpenAI-compatible endpoints,
// probes and metrics.
type Server struct {
	cfg     config.Config
	client  *upstream.Client
	catalog *catalog.Catalog
	tracker *health.Tracker
	metrics *metrics.Metrics
	logger  *slog.Logger
	app     *echo.Echo
	address string
}

// New constructs an HTTP server wired with routing and middleware.
func New(cfg config.Config, client *upstream.Client, cat *catalog.Catalog, tracker *health.Tracker, m *metrics.Metrics, logger *slog.Logger) (*Server, error) {
	if client == nil {
		return nil, errors.New("upstream client must not be nil")
	}
	if cat == nil {
		return nil, errors.New("catalog must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = openAIErrorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency: true,
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"error", v.Error,
			)
			return nil
		},
	}))
	// Browser clients must receive error bodies, not opaque CORS failures.
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))

	srv := &Server{
		cfg:     cfg,
		client:  client,
		catalog: cat,
		tracker: tracker,
		metrics: m,
		logger:  logger,
		app:     e,
		address: fmt.Sprintf(":%d", cfg.Server.Port),
	}

	e.Use(srv.countRequests)
	srv.registerRoutes()

	return srv, nil
}

// Run starts the HTTP server and blocks until the context is cancelled.
// WriteTimeout stays unset: streamed completions outlive any fixed deadline.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting server", "addr", s.address)

	httpServer := &http.Server{
		Addr:        s.address,
		Handler:     s.app,
		ReadTimeout: readTimeout,
		IdleTimeout: idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

// Handler exposes the underlying echo handler for tests.
func (s *Server) Handler() http.Handler {
	return s.app
}

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)
	s.app.GET("/ready", s.handleReady)
	if s.metrics != nil {
		s.app.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	v1 := s.app.Group("/v1", s.requireAPIKey)
	v1.GET("/models", s.handleModels)
	v1.POST("/chat/completions", s.handleChatCompletions)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports the advisory backend health. A backend that has never
// been reached counts as ready; only an observed unhealthy state fails the
// probe.
func (s *Server) handleReady(c echo.Context) error {
	if s.tracker == nil {
		return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
	}

	snap := s.tracker.Snapshot()
	body := map[string]any{
		"status":       "ready",
		"backend_ok":   snap.Healthy,
		"last_success": unixOrZero(snap.LastSuccess),
		"last_failure": unixOrZero(snap.LastFailure),
	}

	if s.tracker.Observed() && !snap.Healthy {
		body["status"] = "degraded"
		return c.JSON(http.StatusServiceUnavailable, body)
	}
	return c.JSON(http.StatusOK, body)
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func (s *Server) handleModels(c echo.Context) error {
	ctx := c.Request().Context()

	if err := s.catalog.Refresh(ctx); err != nil {
		if errors.Is(err, catalog.ErrNoModels) {
			return requestError{
				Status:  http.StatusServiceUnavailable,
				Message: "upstream returned no usable models",
				Type:    "server_error",
			}
		}
		return toGatewayError(err)
	}

	return c.JSON(http.StatusOK, s.catalog.List())
}

// requireAPIKey gates the /v1 surface behind the optional relay API key.
func (s *Server) requireAPIKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.cfg.Relay.APIKey == "" {
			return next(c)
		}

		auth := c.Request().Header.Get(echo.HeaderAuthorization)
		if auth != "Bearer "+s.cfg.Relay.APIKey {
			return requestError{
				Status:  http.StatusUnauthorized,
				Message: "invalid API key",
				Type:    "authentication_error",
			}
		}
		return next(c)
	}
}

// countRequests records per-route request counters after the handler runs.
func (s *Server) countRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		if s.metrics != nil {
			status := c.Response().Status
			var reqErr requestError
			if errors.As(err, &reqErr) {
				status = reqErr.Status
			}
			s.metrics.RecordRequest(c.Path(), strconv.Itoa(status))
		}
		return err
	}
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return requestError{
				Status:  http.StatusBadRequest,
				Message: "request body is required",
				Type:    "invalid_request_error",
			}
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid JSON payload: %v", err),
			Type:    "invalid_request_error",
		}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "request body must contain a single JSON object",
			Type:    "invalid_request_error",
		}
	}
	return nil
}
