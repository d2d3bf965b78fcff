// Package router registers HTTP routes for the operator API.
package router

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/iliyamo/smart-parking/internal/handler"
	"github.com/iliyamo/smart-parking/internal/observability"
)

// New returns an Echo instance with panic recovery and request logging.
func New(logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(observability.RequestLogger(logger))
	return e
}

// RegisterRoutes registers unauthenticated health endpoints.
func RegisterRoutes(e *echo.Echo, ready map[string]handler.Pinger) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(ready))
}

// RegisterParking mounts the operator API under /v1. limiter may be nil.
func RegisterParking(e *echo.Echo, h *handler.ParkingHandler, hub *handler.Hub, limiter echo.MiddlewareFunc) {
	var mws []echo.MiddlewareFunc
	if limiter != nil {
		mws = append(mws, limiter)
	}
	g := e.Group("/v1", mws...)

	g.GET("/slots", h.ListSlots)
	g.POST("/slots/:id/reserve", h.Reserve)
	g.DELETE("/slots/:id/reservation", h.CancelReservation)

	g.GET("/gate", h.GetGate)
	g.POST("/gate", h.SetGate)

	g.GET("/reservations", h.ListReservations)
	g.POST("/reconcile", h.Reconcile)

	// The stream is long-lived; it is registered outside the limited group
	// so reconnects are not throttled with the command endpoints.
	if hub != nil {
		e.GET("/v1/events", hub.Stream)
	}
}
