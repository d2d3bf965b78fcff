package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/iliyamo/smart-parking/internal/model"
)

// dbTimeLayout is the DATETIME text form both MySQL and SQLite accept.
const dbTimeLayout = "2006-01-02 15:04:05"

// dbTime scans DATETIME columns whether the driver hands back a time.Time
// (MySQL with parseTime=true) or text (SQLite).
type dbTime struct{ time.Time }

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		t.Time = v.UTC()
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	case nil:
		t.Time = time.Time{}
		return nil
	}
	return fmt.Errorf("unsupported time value %T", src)
}

func (t *dbTime) parse(s string) error {
	for _, layout := range []string{dbTimeLayout, time.RFC3339Nano, "2006-01-02T15:04:05Z"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unparseable time %q", s)
}

type rowScanner interface {
	Scan(dest ...any) error
}

const reservationColumns = `id, slot, name, email, status, reservation_time`

func scanReservation(row rowScanner) (model.Reservation, error) {
	var (
		r      model.Reservation
		status string
		at     dbTime
	)
	if err := row.Scan(&r.ID, &r.Slot, &r.Name, &r.Email, &status, &at); err != nil {
		return model.Reservation{}, err
	}
	r.Status = model.ReservationStatus(status)
	r.CreatedAt = at.Time
	return r, nil
}

func scanReservations(rows *sql.Rows) ([]model.Reservation, error) {
	defer rows.Close()
	out := []model.Reservation{}
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
