// Package middleware provides the Echo middleware that wraps the proxy handler.
package middleware

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"

	"timeoutproxy/internal/metrics"
)

// RequestLogger returns an Echo middleware that logs each request with slog.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()
			route, _ := c.Get(metrics.RouteContextKey).(string)

			logger.Info("request",
				"method", req.Method,
				"path", req.URL.Path,
				"route", route,
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			)

			return err
		}
	}
}
