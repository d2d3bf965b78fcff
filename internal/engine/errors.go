package engine

import (
	"errors"
	"fmt"
)

// Error kinds returned by engine operations. Callers classify with
// errors.Is; the underlying cause stays wrapped alongside the kind.
var (
	// ErrValidation: missing or malformed input, rejected before any write.
	ErrValidation = errors.New("validation error")
	// ErrChannelUnavailable: the state channel read or write failed.
	ErrChannelUnavailable = errors.New("state channel unavailable")
	// ErrAlreadyOccupied: a sensor reports the slot occupied.
	ErrAlreadyOccupied = errors.New("slot is occupied")
	// ErrAlreadyReserved: the ledger already holds an Active reservation
	// for the slot although the channel did not show it as Reserved.
	ErrAlreadyReserved = errors.New("slot already has an active reservation")
	// ErrNothingToCancel: idempotent no-op, not a failure.
	ErrNothingToCancel = errors.New("nothing to cancel")
	// ErrAmbiguousReservation: more than one Active reservation exists for
	// a slot. The ledger refuses to create this state.
	ErrAmbiguousReservation = errors.New("more than one active reservation for slot")
	// ErrLedger: durability failure; the operation was aborted.
	ErrLedger = errors.New("ledger error")
)

func kindErr(kind, cause error) error {
	return fmt.Errorf("%w: %w", kind, cause)
}

func kindf(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}
