// Package statechannel is the client side of the remote state feed: a
// key-value store where each key holds the latest published string for a
// slot, the gate, or the reservations audit log.
package statechannel

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoValue is returned by Read for a key that has never been published.
var ErrNoValue = errors.New("no value published for key")

// Channel is the contract the engine needs from the feed. Writes to
// different keys carry no ordering or transactional guarantee.
type Channel interface {
	// Read fetches the last published value for key.
	Read(ctx context.Context, key string) (string, error)
	// Write publishes value as the new latest value of key.
	Write(ctx context.Context, key, value string) error
	// Append adds value to the log held under key. Used for the audit key,
	// which external controllers consume in order.
	Append(ctx context.Context, key, value string) error
	Close() error
}

// Keys names the feed keys for one parking lot.
type Keys struct {
	Prefix string
}

// Slot returns the key for slot n (1-based), e.g. "parking.slot1".
func (k Keys) Slot(n int) string { return fmt.Sprintf("%sslot%d", k.Prefix, n) }

// Gate returns the gate key.
func (k Keys) Gate() string { return k.Prefix + "gate" }

// Reservations returns the audit/command key.
func (k Keys) Reservations() string { return k.Prefix + "reservations" }
