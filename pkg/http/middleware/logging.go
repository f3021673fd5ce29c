package middleware

import (
	"time"

	applogger "FinCast/pkg/logger"

	"github.com/labstack/echo/v4"
)

// RequestLogging logs one structured line per request. 5xx responses log at error level.
func RequestLogging(l *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			fields := []applogger.Field{
				applogger.String("method", req.Method),
				applogger.String("route", c.Path()),
				applogger.String("uri", req.RequestURI),
				applogger.String("remote", c.RealIP()),
				applogger.Int("status", status),
				applogger.Duration("duration_ms", time.Since(start)),
			}
			switch {
			case status >= 500:
				l.Error("http request", fields...)
			case status >= 400:
				l.Warn("http request", fields...)
			default:
				l.Debug("http request", fields...)
			}
			return nil
		}
	}
}
