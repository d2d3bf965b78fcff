package model

import "time"

// ReservationStatus is the lifecycle status of a ledger row. Rows are never
// deleted; cancellation only flips the status.
type ReservationStatus string

const (
	StatusActive    ReservationStatus = "Active"
	StatusCancelled ReservationStatus = "Cancelled"
)

// Reservation records an operator's claim on a parking slot.
//
// Fields:
//  ID        – auto-incrementing primary key.
//  Slot      – slot number (1-based).
//  Name      – name the reservation was made under.
//  Email     – address used for confirmations.
//  Status    – Active or Cancelled.
//  CreatedAt – set once at insert, stored in UTC.
type Reservation struct {
	ID        uint64            `json:"id"`               // reservations.id
	Slot      int               `json:"slot"`             // reservations.slot
	Name      string            `json:"name"`             // reservations.name
	Email     string            `json:"email"`            // reservations.email
	Status    ReservationStatus `json:"status"`           // reservations.status
	CreatedAt time.Time         `json:"reservation_time"` // reservations.reservation_time
}

// Active reports whether the reservation still holds its slot.
func (r Reservation) Active() bool { return r.Status == StatusActive }

// Ref returns the short form of the reservation attached to a slot view.
func (r Reservation) Ref() *ReservationRef {
	return &ReservationRef{ID: r.ID, Name: r.Name, Email: r.Email, CreatedAt: r.CreatedAt}
}

// ReservationRef is the part of an Active reservation shown next to a slot.
type ReservationRef struct {
	ID        uint64    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"reservation_time"`
}
