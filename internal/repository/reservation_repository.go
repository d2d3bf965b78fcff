package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/smart-parking/internal/database"
	"github.com/iliyamo/smart-parking/internal/model"
)

// ReservationRepo is the reservation ledger. Rows are append-only with a
// status flip for cancellation; nothing is ever deleted. All timestamps are
// stored in UTC.
type ReservationRepo struct {
	db      *sql.DB
	dialect database.Dialect
	now     func() time.Time
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB, dialect database.Dialect) *ReservationRepo {
	return &ReservationRepo{db: db, dialect: dialect, now: time.Now}
}

// DB exposes the handle so callers can run health checks.
func (r *ReservationRepo) DB() *sql.DB { return r.db }

// lockClause appends row locking where the dialect supports it. SQLite
// serialises writers on its own.
func (r *ReservationRepo) lockClause() string {
	if r.dialect == database.MySQL {
		return " FOR UPDATE"
	}
	return ""
}

// Create inserts an Active reservation for slot inside one transaction.
// The slot's existing Active rows are checked first (and locked on MySQL)
// so that two concurrent creates cannot both succeed. Returns
// ErrSlotReserved when an Active row already exists.
func (r *ReservationRepo) Create(ctx context.Context, slot int, name, email string) (*model.Reservation, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var existing uint64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM reservations WHERE slot = ? AND status = ? LIMIT 1`+r.lockClause(),
		slot, string(model.StatusActive),
	).Scan(&existing)
	switch {
	case err == nil:
		return nil, ErrSlotReserved
	case !errors.Is(err, sql.ErrNoRows):
		return nil, err
	}

	createdAt := r.now().UTC().Truncate(time.Second)
	result, err := tx.ExecContext(ctx,
		`INSERT INTO reservations (slot, name, email, status, reservation_time) VALUES (?, ?, ?, ?, ?)`,
		slot, name, email, string(model.StatusActive), createdAt.Format(dbTimeLayout),
	)
	if err != nil {
		return nil, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return &model.Reservation{
		ID:        uint64(id),
		Slot:      slot,
		Name:      name,
		Email:     email,
		Status:    model.StatusActive,
		CreatedAt: createdAt,
	}, nil
}

// Cancel flips an Active reservation to Cancelled. It returns ErrNotActive
// when the row is already Cancelled and ErrReservationNotFound when no row
// has the id.
func (r *ReservationRepo) Cancel(ctx context.Context, id uint64) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE reservations SET status = ? WHERE id = ? AND status = ?`,
		string(model.StatusCancelled), id, string(model.StatusActive),
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return ErrNotActive
}

// GetByID returns a single reservation or ErrReservationNotFound.
func (r *ReservationRepo) GetByID(ctx context.Context, id uint64) (*model.Reservation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id)
	res, err := scanReservation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}
	return &res, nil
}

// ActiveBySlot returns every Active reservation for slot. Under the ledger
// invariant the slice has at most one element; callers treat more as an
// error rather than picking one.
func (r *ReservationRepo) ActiveBySlot(ctx context.Context, slot int) ([]model.Reservation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE slot = ? AND status = ? ORDER BY id`,
		slot, string(model.StatusActive),
	)
	if err != nil {
		return nil, err
	}
	return scanReservations(rows)
}

// ListActive returns every Active reservation ordered by slot.
func (r *ReservationRepo) ListActive(ctx context.Context) ([]model.Reservation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE status = ? ORDER BY slot, id`,
		string(model.StatusActive),
	)
	if err != nil {
		return nil, err
	}
	return scanReservations(rows)
}

// ListAll returns the whole ledger newest first. Rows created within the
// same second are ordered by id.
func (r *ReservationRepo) ListAll(ctx context.Context) ([]model.Reservation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations ORDER BY reservation_time DESC, id DESC`,
	)
	if err != nil {
		return nil, err
	}
	return scanReservations(rows)
}
