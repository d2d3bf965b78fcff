package model

import "strings"

// SlotState is the physical state of a slot as reported on the state channel.
type SlotState string

const (
	SlotFree     SlotState = "Free"
	SlotOccupied SlotState = "Occupied"
	SlotReserved SlotState = "Reserved"
	SlotUnknown  SlotState = "Unknown"
)

// ParseSlotState normalises a raw channel value. Anything the sensors or
// operators did not agree on maps to SlotUnknown.
func ParseSlotState(raw string) SlotState {
	switch strings.TrimSpace(raw) {
	case string(SlotFree):
		return SlotFree
	case string(SlotOccupied):
		return SlotOccupied
	case string(SlotReserved):
		return SlotReserved
	}
	return SlotUnknown
}

// GateState is the last commanded or observed gate position.
type GateState string

const (
	GateOpen    GateState = "Open"
	GateClosed  GateState = "Closed"
	GateUnknown GateState = "Unknown"
)

// ParseGateState normalises a raw channel value for the gate key.
func ParseGateState(raw string) GateState {
	switch strings.TrimSpace(raw) {
	case string(GateOpen):
		return GateOpen
	case string(GateClosed):
		return GateClosed
	}
	return GateUnknown
}

// Slot is the engine's view of one parking space: the physical state last
// observed on the channel plus the Active reservation held in the ledger.
type Slot struct {
	ID          int             `json:"id"`
	State       SlotState       `json:"state"`
	Reservation *ReservationRef `json:"reservation,omitempty"`
}

// Gate pairs the observed gate value with the last command this process sent.
type Gate struct {
	Observed  GateState `json:"observed"`
	Commanded GateState `json:"commanded"`
}
