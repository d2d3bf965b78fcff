package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/smart-parking/internal/engine"
)

// statusFor maps an engine error kind to an HTTP status and a stable
// machine-readable code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, engine.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, engine.ErrAlreadyOccupied):
		return http.StatusConflict, "already_occupied"
	case errors.Is(err, engine.ErrAlreadyReserved):
		return http.StatusConflict, "already_reserved"
	case errors.Is(err, engine.ErrNothingToCancel):
		return http.StatusConflict, "nothing_to_cancel"
	case errors.Is(err, engine.ErrAmbiguousReservation):
		return http.StatusConflict, "ambiguous_reservation"
	case errors.Is(err, engine.ErrChannelUnavailable):
		return http.StatusServiceUnavailable, "channel_unavailable"
	case errors.Is(err, engine.ErrLedger):
		return http.StatusInternalServerError, "ledger_error"
	}
	return http.StatusInternalServerError, "internal_error"
}

// errorBody builds the JSON error envelope. extra is merged in so partial
// results can travel with the error.
func errorBody(err error, extra echo.Map) (int, echo.Map) {
	status, code := statusFor(err)
	body := echo.Map{"error": code, "message": err.Error()}
	for k, v := range extra {
		body[k] = v
	}
	return status, body
}

func writeError(c echo.Context, err error, extra echo.Map) error {
	status, body := errorBody(err, extra)
	if status >= http.StatusInternalServerError {
		c.Set("error", err)
	}
	return c.JSON(status, body)
}
