package middleware

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestLogger logs every request with its status, user and duration.
// 5xx responses log at Error, 4xx at Warn, everything else at Info.
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				// Let the error handler write the response so the status is known.
				c.Error(err)
			}

			req := c.Request()
			status := c.Response().Status
			attrs := []any{
				"method", req.Method,
				"path", req.URL.Path,
				"status", status,
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
				"remote_addr", c.RealIP(),
				"user_id", GetUserID(req.Context()), // empty if anonymous
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if err != nil {
				attrs = append(attrs, "error", err)
			}

			switch {
			case status >= 500:
				slog.Error("HTTP request", attrs...)
			case status >= 400:
				slog.Warn("HTTP request", attrs...)
			default:
				slog.Info("HTTP request", attrs...)
			}
			return nil
		}
	}
}
