// Package notify delivers reservation confirmations. The engine hands a
// Notice to a Dispatcher off the critical path; delivery failures are
// logged by the caller and never undo the reservation change.
package notify

import (
	"context"
	"time"
)

// Action is what happened to the reservation.
type Action string

const (
	ActionReserved  Action = "reserved"
	ActionCancelled Action = "cancelled"
)

// Notice carries enough for a downstream consumer to compose the
// confirmation without querying the ledger.
type Notice struct {
	ReservationID uint64    `json:"reservation_id"`
	Slot          int       `json:"slot"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	Action        Action    `json:"action"`
	At            time.Time `json:"at"`
}

// Dispatcher sends a Notice somewhere. Implementations should respect ctx.
type Dispatcher interface {
	Notify(ctx context.Context, n Notice) error
}
