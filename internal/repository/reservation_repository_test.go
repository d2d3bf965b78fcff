package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/smart-parking/internal/database"
	"github.com/iliyamo/smart-parking/internal/model"
)

// newSQLiteRepo returns a repo over a fresh in-memory ledger whose clock
// advances one second per call so ordering by time is deterministic.
func newSQLiteRepo(t *testing.T) *ReservationRepo {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db, database.SQLite))

	repo := NewReservationRepo(db, database.SQLite)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	repo.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return repo
}

// newMockRepo creates a sqlmock-backed repo with automatic expectation checking.
func newMockRepo(t *testing.T, dialect database.Dialect) (*ReservationRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return NewReservationRepo(db, dialect), mock
}

func TestCreateAndGet(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	res, err := repo.Create(ctx, 1, "Bob", "bob@x.com")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.ID)
	assert.Equal(t, model.StatusActive, res.Status)

	got, err := repo.GetByID(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, *res, *got)
}

func TestCreateRefusesSecondActiveRowForSlot(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	_, err := repo.Create(ctx, 1, "Bob", "bob@x.com")
	require.NoError(t, err)
	_, err = repo.Create(ctx, 1, "Ann", "ann@x.com")
	require.ErrorIs(t, err, ErrSlotReserved)

	// A different slot is unaffected.
	_, err = repo.Create(ctx, 2, "Ann", "ann@x.com")
	require.NoError(t, err)

	active, err := repo.ActiveBySlot(ctx, 1)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "Bob", active[0].Name)
}

func TestCancel(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	res, err := repo.Create(ctx, 1, "Bob", "bob@x.com")
	require.NoError(t, err)

	require.NoError(t, repo.Cancel(ctx, res.ID))
	got, err := repo.GetByID(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.Status)

	assert.ErrorIs(t, repo.Cancel(ctx, res.ID), ErrNotActive)
	assert.ErrorIs(t, repo.Cancel(ctx, 99), ErrReservationNotFound)

	// The slot is free in the ledger again.
	_, err = repo.Create(ctx, 1, "Ann", "ann@x.com")
	require.NoError(t, err)
}

func TestListAllNewestFirst(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	first, err := repo.Create(ctx, 1, "Bob", "bob@x.com")
	require.NoError(t, err)
	second, err := repo.Create(ctx, 2, "Ann", "ann@x.com")
	require.NoError(t, err)
	require.NoError(t, repo.Cancel(ctx, first.ID))

	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)
	assert.Equal(t, first.ID, all[1].ID)
	assert.Equal(t, model.StatusCancelled, all[1].Status)
	assert.True(t, all[0].CreatedAt.After(all[1].CreatedAt))

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)
}

func TestGetByIDNotFound(t *testing.T) {
	repo := newSQLiteRepo(t)
	_, err := repo.GetByID(context.Background(), 7)
	assert.ErrorIs(t, err, ErrReservationNotFound)
}

func TestCreateLocksRowsOnMySQL(t *testing.T) {
	repo, mock := newMockRepo(t, database.MySQL)
	repo.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM reservations WHERE slot = \? AND status = \? LIMIT 1 FOR UPDATE`).
		WithArgs(1, "Active").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(`INSERT INTO reservations`).
		WithArgs(1, "Bob", "bob@x.com", "Active", "2026-03-01 09:00:00").
		WillReturnResult(sqlmock.NewResult(42, 1))
	mock.ExpectCommit()

	res, err := repo.Create(context.Background(), 1, "Bob", "bob@x.com")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), res.ID)
}

func TestCreateRollsBackOnInsertFailure(t *testing.T) {
	repo, mock := newMockRepo(t, database.MySQL)
	boom := errors.New("disk full")

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM reservations`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(`INSERT INTO reservations`).WillReturnError(boom)
	mock.ExpectRollback()

	_, err := repo.Create(context.Background(), 1, "Bob", "bob@x.com")
	require.ErrorIs(t, err, boom)
}

func TestCreateSurfacesLookupFailure(t *testing.T) {
	repo, mock := newMockRepo(t, database.SQLite)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM reservations WHERE slot = \? AND status = \? LIMIT 1$`).
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	_, err := repo.Create(context.Background(), 1, "Bob", "bob@x.com")
	require.ErrorIs(t, err, sql.ErrConnDone)
}

func TestScanMySQLTimeValues(t *testing.T) {
	repo, mock := newMockRepo(t, database.MySQL)
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, slot, name, email, status, reservation_time FROM reservations ORDER BY reservation_time DESC, id DESC`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "slot", "name", "email", "status", "reservation_time"}).
			AddRow(2, 2, "Ann", "ann@x.com", "Active", at).
			AddRow(1, 1, "Bob", "bob@x.com", "Cancelled", []byte("2026-03-01 09:00:00")))

	all, err := repo.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, at, all[0].CreatedAt)
	assert.Equal(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), all[1].CreatedAt)
}
