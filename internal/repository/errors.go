// Package repository defines error types that are reused across the
// ledger. These sentinel values let the engine distinguish "nothing to
// do" outcomes from durability failures.
package repository

import "errors"

// ErrReservationNotFound is returned when no reservation has the
// requested id.
var ErrReservationNotFound = errors.New("reservation not found")

// ErrSlotReserved is returned by Create when the slot already has an
// Active reservation. At most one Active row per slot may exist.
var ErrSlotReserved = errors.New("slot already has an active reservation")

// ErrNotActive is returned by Cancel when the row exists but is no
// longer Active (it was cancelled concurrently or earlier).
var ErrNotActive = errors.New("reservation is not active")
