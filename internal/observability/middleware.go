package observability

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// RequestLogger logs one line per HTTP request, graded by status code.
// Handlers that answer with a server error can stash the cause under the
// "error" context key to have it logged.
func RequestLogger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			path := c.Path()
			if path == "" {
				path = c.Request().URL.Path
			}

			event := logger.Info()
			if status >= 500 {
				event = logger.Error()
			} else if status >= 400 {
				event = logger.Warn()
			}

			if cause, ok := c.Get("error").(error); ok {
				event = event.Err(cause)
			}
			event.
				Str("method", c.Request().Method).
				Str("path", path).
				Int("status", status).
				Dur("duration", time.Since(start)).
				Str("client_ip", c.RealIP()).
				Int64("bytes", c.Response().Size).
				Msg("http_request")
			return nil
		}
	}
}
