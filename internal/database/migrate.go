package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/mysql/*.sql
var mysqlMigrations embed.FS

// sqliteSchema is applied idempotently; the local ledger never needs more
// than the one table.
//
//go:embed schema_sqlite.sql
var sqliteSchema string

// Migrate brings the reservations schema up to date for the given dialect.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	switch dialect {
	case MySQL:
		return migrateMySQL(db)
	case SQLite:
		for _, stmt := range strings.Split(sqliteSchema, ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("apply sqlite schema: %w", err)
			}
		}
		return nil
	}
	return fmt.Errorf("unknown dialect %q", dialect)
}

func migrateMySQL(db *sql.DB) error {
	sourceDriver, err := iofs.New(mysqlMigrations, "migrations/mysql")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := migratemysql.WithInstance(db, &migratemysql.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "mysql", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
