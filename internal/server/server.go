// Package server is the HTTP chat transport: every request is one requester
// action, and the response lists what the bot emitted for it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/tuvi/internal/bot"
	"github.com/mohammad-safakhou/tuvi/internal/logging"
	"github.com/mohammad-safakhou/tuvi/internal/metrics"
)

// ScopeAdmin gates the statistics endpoint.
const ScopeAdmin = "admin"

// Pinger reports whether an optional backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// NewRouter builds the echo instance with the chat routes mounted under /api.
// checks are run by /readyz; a nil entry is skipped.
func NewRouter(b *bot.Bot, secret []byte, logger *zap.Logger, checks map[string]Pinger) *echo.Echo {
	logger = logging.OrNop(logger)
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency))
			return nil
		},
	}))
	e.HTTPErrorHandler = errorHandler(logger)

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/readyz", readiness(checks))
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	h := &ChatHandler{Bot: b}
	api := e.Group("/api")
	api.Use(AuthMiddleware(secret), requestFields)
	h.Register(api)
	return e
}

// requestFields tags the request context with the transport subject and the
// requester so loggers down the call chain carry them.
func requestFields(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		var fields []zap.Field
		if sub, ok := SubjectFromContext(req.Context()); ok {
			fields = append(fields, zap.String("subject", sub))
		}
		raw := c.Param("rid")
		if raw == "" {
			raw = c.QueryParam("requester_id")
		}
		if rid, err := strconv.ParseInt(raw, 10, 64); err == nil && rid > 0 {
			fields = append(fields, zap.Int64("requester_id", rid))
		}
		if len(fields) > 0 {
			c.SetRequest(req.WithContext(logging.WithFields(req.Context(), fields...)))
		}
		return next(c)
	}
}

func errorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		fields := []zap.Field{
			zap.Int("status", code),
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.String("remote", c.RealIP()),
			zap.Error(err),
		}
		if code >= http.StatusInternalServerError {
			metrics.Errors.WithLabelValues("handler").Inc()
			logger.Error("http error", fields...)
		} else {
			logger.Info("http error", fields...)
		}
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
}

func readiness(checks map[string]Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
		defer cancel()
		status := map[string]string{}
		code := http.StatusOK
		for name, p := range checks {
			if p == nil {
				continue
			}
			if err := p.Ping(ctx); err != nil {
				status[name] = err.Error()
				code = http.StatusServiceUnavailable
				continue
			}
			status[name] = "ok"
		}
		return c.JSON(code, status)
	}
}

// Run serves e on addr until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, e *echo.Echo, addr string, logger *zap.Logger) error {
	logger = logging.OrNop(logger)
	if addr == "" {
		addr = ":10001"
	}
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr))
		errCh <- e.Start(addr)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
