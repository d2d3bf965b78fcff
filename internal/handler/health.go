package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger is anything the health check can probe.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Health is a liveness check for load balancers. It returns plain "ok".
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Ready reports 200 when every dependency answers within two seconds and
// 503 naming the first one that does not.
func Ready(deps map[string]Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		for name, p := range deps {
			if p == nil {
				continue
			}
			if err := p.PingContext(ctx); err != nil {
				return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "unavailable", "dependency": name, "message": err.Error()})
			}
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	}
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }
