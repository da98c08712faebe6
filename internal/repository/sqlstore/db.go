// Package sqlstore persists sessions, issue history and reports through sqlx.
// Queries are written with ? placeholders and rebound per driver, so the same
// code runs on PostgreSQL (lib/pq) and SQLite (modernc.org/sqlite).
package sqlstore

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type OpenOptions struct {
	Attempts uint64
	Interval time.Duration
}

// Open connects with retries, tunes the pool and applies migrations
func Open(ctx context.Context, driver, dsn string, logger *zap.Logger, opts OpenOptions) (*sqlx.DB, error) {
	if opts.Attempts == 0 {
		opts.Attempts = 5
	}
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	log := logger.Named("sqlstore")

	var db *sqlx.DB
	attempt := uint64(0)
	backoff := retry.WithMaxRetries(opts.Attempts-1, retry.NewConstant(opts.Interval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		conn, err := sqlx.ConnectContext(ctx, driver, dsn)
		if err != nil {
			log.Warn("database connect failed",
				zap.Uint64("attempt", attempt),
				zap.Uint64("max_attempts", opts.Attempts),
				zap.Error(err))
			return retry.RetryableError(err)
		}
		db = conn
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", attempt, err)
	}

	if driver == DriverSQLite {
		// SQLite allows a single writer
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := Migrate(ctx, db); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			log.Warn("close after migration failure", zap.Error(closeErr))
		}
		return nil, err
	}

	log.Info("database ready", zap.String("driver", driver))
	return db, nil
}

// Migrate applies the embedded goose migrations
func Migrate(ctx context.Context, db *sqlx.DB) error {
	dialect := "postgres"
	if db.DriverName() == DriverSQLite {
		dialect = "sqlite3"
	}

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db.DB, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
