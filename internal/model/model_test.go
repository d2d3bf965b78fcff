package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSlotState(t *testing.T) {
	for raw, want := range map[string]SlotState{
		"Free":      SlotFree,
		" Occupied": SlotOccupied,
		"Reserved":  SlotReserved,
		"Unknown":   SlotUnknown,
		"free":      SlotUnknown,
		"":          SlotUnknown,
		"garbage":   SlotUnknown,
	} {
		assert.Equal(t, want, ParseSlotState(raw), "raw=%q", raw)
	}
}

func TestParseGateState(t *testing.T) {
	assert.Equal(t, GateOpen, ParseGateState("Open"))
	assert.Equal(t, GateClosed, ParseGateState("Closed\n"))
	assert.Equal(t, GateUnknown, ParseGateState("ajar"))
}

func TestAuditRecordEncode(t *testing.T) {
	rec := AuditRecord{Slot: 1, Action: AuditCreated, Name: "Bob", Email: "bob@x.com"}
	assert.Equal(t, "1|1|Bob|bob@x.com", rec.Encode())

	rec.Action = AuditCancelled
	assert.Equal(t, "1|0|Bob|bob@x.com", rec.Encode())
}

func TestParseAuditRecord(t *testing.T) {
	rec, err := ParseAuditRecord("2|0|Ann Lee|ann@example.org")
	require.NoError(t, err)
	assert.Equal(t, AuditRecord{Slot: 2, Action: AuditCancelled, Name: "Ann Lee", Email: "ann@example.org"}, rec)

	for _, bad := range []string{"", "1|1|Bob", "x|1|Bob|b@x.com", "0|1|Bob|b@x.com", "1|2|Bob|b@x.com", "1|1|B|o|b"} {
		_, err := ParseAuditRecord(bad)
		assert.True(t, errors.Is(err, ErrMalformedAudit), "input %q", bad)
	}
}

func TestNormalizeContact(t *testing.T) {
	c, err := NormalizeContact("  Bob ", " bob@x.com ")
	require.NoError(t, err)
	assert.Equal(t, Contact{Name: "Bob", Email: "bob@x.com"}, c)

	for _, tc := range []struct {
		name, email string
		want        error
	}{
		{"", "a@x.com", ErrNameRequired},
		{"   ", "a@x.com", ErrNameRequired},
		{"A", "", ErrEmailRequired},
		{"A", "not-an-email", ErrEmailInvalid},
		{"A", "a@nodot", ErrEmailInvalid},
		{"A", "@x.com", ErrEmailInvalid},
		{"A", "a@x.", ErrEmailInvalid},
		{"A", "a b@x.com", ErrEmailInvalid},
		{"A|B", "a@x.com", ErrDelimiter},
		{"A", "a|b@x.com", ErrDelimiter},
		{"Bob\r\nX", "a@x.com", ErrControlChar},
		{"A", "bob@x.com\r\nBcc:evil@y.com", ErrControlChar},
		{"A\x00B", "a@x.com", ErrControlChar},
		{"A", "a\tb@x.com", ErrControlChar},
	} {
		_, err := NormalizeContact(tc.name, tc.email)
		assert.ErrorIs(t, err, tc.want, "name=%q email=%q", tc.name, tc.email)
	}
}

func TestStateChangeIsGate(t *testing.T) {
	assert.True(t, StateChange{Key: "parking.gate"}.IsGate())
	assert.False(t, StateChange{Key: "parking.slot1", Slot: 1}.IsGate())
}
