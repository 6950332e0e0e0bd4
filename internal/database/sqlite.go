package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	// MemoryPath opens a private in-memory database.
	MemoryPath = ":memory:"

	sqliteBusyTimeout = 5 * time.Second
	sqlitePingTimeout = 5 * time.Second
)

// OpenSQLite opens a SQLite database with foreign keys enforced and
// immediate write transactions. The pool is pinned to one connection:
// SQLite has a single writer, and an in-memory database lives only as
// long as its connection.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_busy_timeout=%d&_txlock=immediate",
		path, sqliteBusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	// One connection means every request waits on an open batch, whatever the
	// device. Batches for different devices only run in parallel on Postgres.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	pingCtx, cancel := context.WithTimeout(ctx, sqlitePingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("verifying sqlite connection: %w", err)
	}

	return db, nil
}
