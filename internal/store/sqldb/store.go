// Package sqldb is the relational store for users, bots, strategies and
// trades. It runs on SQLite (default) or PostgreSQL through sqlx; queries
// are written with ? placeholders and rebound per driver.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("sqldb: not found")

	// ErrTradeState is returned when opening an active trade or closing
	// an inactive one.
	ErrTradeState = errors.New("sqldb: trade is not in the required state")
)

// Store wraps the database handle.
type Store struct {
	db     *sqlx.DB
	driver string
	log    *slog.Logger
	now    func() time.Time
}

// Open connects to the database and verifies the connection.
// For SQLite, foreign keys are switched on and the pool is limited to a
// single connection (single writer; also keeps ":memory:" alive).
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite:
		dsn = sqliteDSN(dsn)
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("sqldb: unsupported driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqldb: open: %w", err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqldb: ping: %w", err)
	}

	l := slog.Default().With("component", "sqldb")
	l.Info("opened database", "driver", driver)
	return &Store{db: db, driver: driver, log: l, now: func() time.Time { return time.Now().UTC() }}, nil
}

func sqliteDSN(dsn string) string {
	var params []string
	if !strings.Contains(dsn, "_foreign_keys") && !strings.Contains(dsn, "_fk") {
		params = append(params, "_foreign_keys=on")
	}
	if !strings.HasPrefix(dsn, ":memory:") && !strings.Contains(dsn, "mode=memory") {
		if !strings.Contains(dsn, "_journal") {
			params = append(params, "_journal_mode=WAL")
		}
		if !strings.Contains(dsn, "_busy_timeout") {
			params = append(params, "_busy_timeout=5000")
		}
	}
	if len(params) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db.DB }

// Driver returns the driver name.
func (s *Store) Driver() string { return s.driver }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	id := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.driver == DriverPostgres {
		id = "BIGSERIAL PRIMARY KEY"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id          ` + id + `,
			telegram_id BIGINT NOT NULL UNIQUE,
			api_key     TEXT NOT NULL,
			api_secret  TEXT NOT NULL,
			created_at  TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS bots (
			id              ` + id + `,
			user_id         BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			current_balance DOUBLE PRECISION NOT NULL DEFAULT 0,
			all_time_pnl    DOUBLE PRECISION NOT NULL DEFAULT 0,
			is_running      BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at      TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trade_settings (
			id           ` + id + `,
			coin_name    TEXT NOT NULL,
			leverage     INTEGER NOT NULL,
			timeframe    TEXT NOT NULL,
			depo_procent DOUBLE PRECISION NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trades (
			id          ` + id + `,
			user_id     BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			strategy_id BIGINT REFERENCES trade_settings(id) ON DELETE SET NULL,
			is_active   BOOLEAN NOT NULL DEFAULT FALSE,
			entry_price DOUBLE PRECISION,
			current_pnl DOUBLE PRECISION,
			opened_at   TIMESTAMP,
			closed_at   TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bots_user_id ON bots(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_user_id ON trades(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_strategy_id ON trades(strategy_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqldb: migrate: %w", err)
		}
	}
	s.log.Info("schema ready")
	return nil
}

// inTx runs fn inside a transaction. fn must use only the given tx.
func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqldb: begin: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqldb: commit: %w", err)
	}
	return nil
}

// get runs a rebound single-row query; sql.ErrNoRows becomes ErrNotFound.
func get(ctx context.Context, q sqlx.ExtContext, dst any, query string, args ...any) error {
	err := sqlx.GetContext(ctx, q, dst, q.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func selectAll(ctx context.Context, q sqlx.ExtContext, dst any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, q, dst, q.Rebind(query), args...)
}

func exec(ctx context.Context, e sqlx.ExtContext, query string, args ...any) (int64, error) {
	res, err := e.ExecContext(ctx, e.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// insert runs an INSERT ... RETURNING id.
func insert(ctx context.Context, q sqlx.ExtContext, query string, args ...any) (int64, error) {
	var id int64
	if err := q.QueryRowxContext(ctx, q.Rebind(query+" RETURNING id"), args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}
