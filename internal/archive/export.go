// Package archive exports the reservation ledger as JSONL and ships it to
// durable storage on a schedule.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/iliyamo/smart-parking/internal/model"
)

// Source is the part of the ledger an export reads.
type Source interface {
	ListAll(ctx context.Context) ([]model.Reservation, error)
}

type header struct {
	Version          string    `json:"version"`
	Type             string    `json:"type"`
	Timestamp        time.Time `json:"timestamp"`
	ReservationCount int       `json:"reservation_count"`
	ActiveCount      int       `json:"active_count"`
}

type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ExportJSONL writes a header line and then one line per reservation,
// newest first, to w.
func ExportJSONL(ctx context.Context, src Source, w io.Writer) error {
	all, err := src.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("list reservations: %w", err)
	}
	active := 0
	for _, r := range all {
		if r.Active() {
			active++
		}
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(header{
		Version:          "1",
		Type:             "header",
		Timestamp:        time.Now().UTC(),
		ReservationCount: len(all),
		ActiveCount:      active,
	}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range all {
		if err := enc.Encode(record{Type: "reservation", Data: r}); err != nil {
			return fmt.Errorf("write reservation %d: %w", r.ID, err)
		}
	}
	return nil
}
