// Package persistence opens the bun database the account repositories run
// on and creates their schema.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	account "github.com/goliatone/go-account"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrUnsupportedDriver the driver name is not one of the known drivers
var ErrUnsupportedDriver = errors.New("unsupported database driver")

// Config selects and tunes the database
type Config struct {
	Driver string
	DSN    string
	// Debug logs every query through Logger.
	Debug  bool
	Logger account.Logger
}

// Open connects to the database and pings it.
func Open(ctx context.Context, cfg Config) (*bun.DB, error) {
	var (
		sqldb *sql.DB
		db    *bun.DB
	)

	switch cfg.Driver {
	case DriverSQLite, "":
		var err error
		sqldb, err = sql.Open(sqliteshim.ShimName, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// sqlite supports a single writer
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	case DriverPostgres:
		pgcfg, err := pgx.ParseConfig(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("parse postgres dsn: %w", err)
		}
		sqldb = stdlib.OpenDB(*pgcfg)
		sqldb.SetConnMaxIdleTime(5 * time.Minute)
		db = bun.NewDB(sqldb, pgdialect.New())
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}

	if cfg.Debug {
		logger := cfg.Logger
		if logger == nil {
			_, logger = account.ResolveLogger("account.persistence", nil, nil)
		}
		db.AddQueryHook(queryLogger{logger: logger})
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

// Migrate creates the account tables and indexes.
func Migrate(ctx context.Context, db *bun.DB) error {
	return account.CreateSchema(ctx, db)
}

type queryLogger struct {
	logger account.Logger
}

var _ bun.QueryHook = queryLogger{}

func (q queryLogger) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (q queryLogger) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	args := []any{"query", event.Query, "duration", time.Since(event.StartTime)}
	if event.Err != nil && !errors.Is(event.Err, sql.ErrNoRows) {
		q.logger.Warn("query failed", append(args, "error", event.Err)...)
		return
	}
	q.logger.Debug("query", args...)
}
