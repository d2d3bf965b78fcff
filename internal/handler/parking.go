package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/smart-parking/internal/engine"
	"github.com/iliyamo/smart-parking/internal/model"
)

// Parking is the engine surface the operator API drives.
type Parking interface {
	Reserve(ctx context.Context, slot int, name, email string) (engine.ReserveResult, error)
	Cancel(ctx context.Context, slot int, reservationID *uint64) (engine.CancelResult, error)
	SendGate(ctx context.Context, action model.GateState) error
	Gate() model.Gate
	Slots(ctx context.Context) ([]model.Slot, error)
	ListReservations(ctx context.Context) ([]model.Reservation, error)
	Reconcile(ctx context.Context) ([]engine.ReconcileAction, error)
}

// ParkingHandler serves the operator console: slot status, reservations
// and gate commands.
type ParkingHandler struct {
	Engine Parking
}

func NewParkingHandler(eng Parking) *ParkingHandler {
	if eng == nil {
		panic("nil engine passed to NewParkingHandler")
	}
	return &ParkingHandler{Engine: eng}
}

// ListSlots handles GET /v1/slots. It returns every slot with its last
// polled state and Active reservation, plus the gate.
func (h *ParkingHandler) ListSlots(c echo.Context) error {
	slots, err := h.Engine.Slots(c.Request().Context())
	if err != nil {
		return writeError(c, err, nil)
	}
	return c.JSON(http.StatusOK, echo.Map{"slots": slots, "gate": h.Engine.Gate()})
}

type reserveRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Reserve handles POST /v1/slots/:id/reserve with {"name","email"}.
//
// A new reservation answers 201. When the slot was already Reserved the
// existing reservation is cancelled instead and the answer is 200 with
// "toggled": true. If the ledger accepted the reservation but the slot
// state could not be published the answer is 503 and still carries the
// reservation.
func (h *ParkingHandler) Reserve(c echo.Context) error {
	slot, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "validation_error", "message": "invalid slot id"})
	}
	var body reserveRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "validation_error", "message": "invalid request body"})
	}

	res, err := h.Engine.Reserve(c.Request().Context(), slot, body.Name, body.Email)
	if err != nil {
		extra := echo.Map{}
		if res.Reservation != nil {
			extra["reservation"] = res.Reservation
		}
		return writeError(c, err, extra)
	}
	if res.Toggled {
		out := echo.Map{"toggled": true, "reservation": res.Reservation}
		if res.Cancel != nil {
			out["released"] = res.Cancel.Released
			out["channel_state"] = res.Cancel.ChannelState
		}
		return c.JSON(http.StatusOK, out)
	}
	return c.JSON(http.StatusCreated, echo.Map{"reservation": res.Reservation})
}

// CancelReservation handles DELETE /v1/slots/:id/reservation. The optional
// reservation_id query parameter pins the reservation to cancel.
func (h *ParkingHandler) CancelReservation(c echo.Context) error {
	slot, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "validation_error", "message": "invalid slot id"})
	}
	var id *uint64
	if raw := c.QueryParam("reservation_id"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || n == 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "validation_error", "message": "invalid reservation_id"})
		}
		id = &n
	}

	res, err := h.Engine.Cancel(c.Request().Context(), slot, id)
	if err != nil {
		extra := echo.Map{}
		if res.Reservation.ID != 0 {
			extra["reservation"] = res.Reservation
		}
		return writeError(c, err, extra)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"reservation":   res.Reservation,
		"released":      res.Released,
		"channel_state": res.ChannelState,
	})
}

// GetGate handles GET /v1/gate.
func (h *ParkingHandler) GetGate(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Engine.Gate())
}

type gateRequest struct {
	Action string `json:"action"`
}

// SetGate handles POST /v1/gate with {"action": "Open"|"Closed"}.
func (h *ParkingHandler) SetGate(c echo.Context) error {
	var body gateRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "validation_error", "message": "invalid request body"})
	}
	if err := h.Engine.SendGate(c.Request().Context(), model.GateState(body.Action)); err != nil {
		return writeError(c, err, nil)
	}
	return c.JSON(http.StatusOK, h.Engine.Gate())
}

// ListReservations handles GET /v1/reservations, newest first.
func (h *ParkingHandler) ListReservations(c echo.Context) error {
	all, err := h.Engine.ListReservations(c.Request().Context())
	if err != nil {
		return writeError(c, err, nil)
	}
	return c.JSON(http.StatusOK, echo.Map{"reservations": all})
}

// Reconcile handles POST /v1/reconcile. Corrections that were published
// are returned even when other slots failed.
func (h *ParkingHandler) Reconcile(c echo.Context) error {
	actions, err := h.Engine.Reconcile(c.Request().Context())
	if actions == nil {
		actions = []engine.ReconcileAction{}
	}
	if err != nil {
		return writeError(c, err, echo.Map{"actions": actions})
	}
	return c.JSON(http.StatusOK, echo.Map{"actions": actions})
}
