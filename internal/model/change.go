package model

import "time"

// StateChange is emitted whenever a polled channel key differs from the
// value the engine last saw for it.
type StateChange struct {
	Key      string    `json:"key"`
	Slot     int       `json:"slot,omitempty"` // zero for the gate key
	OldValue string    `json:"old_value"`
	NewValue string    `json:"new_value"`
	At       time.Time `json:"at"`
}

// IsGate reports whether the change concerns the gate rather than a slot.
func (c StateChange) IsGate() bool { return c.Slot == 0 }
