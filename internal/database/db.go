package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
	_ "github.com/go-sql-driver/mysql"

	"github.com/iliyamo/smart-parking/internal/config"
)

// Dialect names the SQL flavour behind a *sql.DB. The ledger queries are
// portable except for row locking, which only MySQL gets.
type Dialect string

const (
	MySQL  Dialect = "mysql"
	SQLite Dialect = "sqlite"
)

// Open connects to the ledger database selected by cfg.LedgerDriver.
func Open(cfg config.Config) (*sql.DB, Dialect, error) {
	switch cfg.LedgerDriver {
	case config.LedgerMySQL:
		db, err := OpenMySQL(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		return db, MySQL, err
	case config.LedgerSQLite:
		db, err := OpenSQLite(cfg.SQLitePath)
		return db, SQLite, err
	}
	return nil, "", fmt.Errorf("unknown ledger driver %q", cfg.LedgerDriver)
}

// OpenMySQL connects to MySQL and verifies the connection.
func OpenMySQL(user, pass, host, port, name string) (*sql.DB, error) {
	auth := user
	if pass != "" {
		auth = fmt.Sprintf("%s:%s", user, pass)
	}
	// parseTime=true -> DATETIME -> time.Time | loc=UTC keeps times consistent
	dsn := fmt.Sprintf("%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
		auth, host, port, name)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	// Pool settings
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := ping(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// OpenSQLite opens (creating if needed) a SQLite ledger file. ":memory:" is
// accepted for tests. SQLite allows one writer, so the pool is pinned to a
// single connection; this also keeps an in-memory database alive.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := ping(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Ping with timeout
func ping(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}
