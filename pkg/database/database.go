// Package database stores the propagation announce history. It speaks
// database/sql to either a local SQLite file or an rqlite cluster.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/DeBrosOfficial/rnshub/pkg/errors"
	"github.com/DeBrosOfficial/rnshub/pkg/logging"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/rqlite/gorqlite/stdlib" // Import the database/sql driver
	"go.uber.org/zap"
)

const (
	DriverSQLite = "sqlite3"
	DriverRQLite = "rqlite"
)

// Open connects to the history database and applies pending migrations.
func Open(ctx context.Context, driver, dsn string, logger *logging.ColoredLogger) (*sql.DB, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case DriverSQLite:
		db, err = openSQLite(dsn)
	case DriverRQLite:
		db, err = openRQLite(dsn)
	default:
		return nil, errors.NewValidationError("driver", "unsupported database driver", driver)
	}
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed to reach %s database", driver)
	}

	if err := ApplyMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to apply migrations")
	}

	logger.ComponentInfo(logging.ComponentDatabase, "Database ready",
		zap.String("driver", driver),
		zap.String("dsn", redactDSN(dsn)))
	return db, nil
}

func openSQLite(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000&_journal_mode=WAL"
	}

	db, err := sql.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between the history writer and readers.
	db.SetMaxOpenConns(1)
	return db, nil
}

func openRQLite(url string) (*sql.DB, error) {
	db, err := sql.Open(DriverRQLite, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open RQLite SQL connection: %w", err)
	}

	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Second)
	db.SetConnMaxIdleTime(10 * time.Second)
	return db, nil
}

// redactDSN strips credentials from URL-style DSNs before logging.
func redactDSN(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return dsn
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		return scheme + "://***@" + rest[at+1:]
	}
	return dsn
}
