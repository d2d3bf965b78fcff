package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// AuditAction is the flag carried in the second field of an audit record.
type AuditAction int

const (
	AuditCancelled AuditAction = 0
	AuditCreated   AuditAction = 1
)

// ErrMalformedAudit is returned by ParseAuditRecord for records that do not
// follow the slot|flag|name|email layout.
var ErrMalformedAudit = errors.New("malformed audit record")

// AuditRecord is a reservation intent written to the audit key for the gate
// controller. On the wire it is "<slot>|<1|0>|<name>|<email>".
type AuditRecord struct {
	Slot   int
	Action AuditAction
	Name   string
	Email  string
}

// Encode renders the pipe-delimited wire form. Name and email are validated
// upstream to never contain the delimiter.
func (a AuditRecord) Encode() string {
	return fmt.Sprintf("%d|%d|%s|%s", a.Slot, a.Action, a.Name, a.Email)
}

// ParseAuditRecord decodes the wire form produced by Encode.
func ParseAuditRecord(s string) (AuditRecord, error) {
	parts := strings.Split(s, "|")
	if len(parts) != 4 {
		return AuditRecord{}, fmt.Errorf("%w: want 4 fields, got %d", ErrMalformedAudit, len(parts))
	}
	slot, err := strconv.Atoi(parts[0])
	if err != nil || slot < 1 {
		return AuditRecord{}, fmt.Errorf("%w: bad slot %q", ErrMalformedAudit, parts[0])
	}
	var action AuditAction
	switch parts[1] {
	case "1":
		action = AuditCreated
	case "0":
		action = AuditCancelled
	default:
		return AuditRecord{}, fmt.Errorf("%w: bad flag %q", ErrMalformedAudit, parts[1])
	}
	return AuditRecord{Slot: slot, Action: action, Name: parts[2], Email: parts[3]}, nil
}
