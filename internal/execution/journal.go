package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Entry is one journaled order action and its outcome.
type Entry struct {
	ID       int64     `db:"id" json:"id"`
	TraceID  string    `db:"trace_id" json:"trace_id"`
	Symbol   string    `db:"symbol" json:"symbol"`
	Kind     string    `db:"kind" json:"kind"` // cancel, market, stop
	Side     string    `db:"side" json:"side"`
	Qty      float64   `db:"qty" json:"qty"`
	Trigger  float64   `db:"trigger_price" json:"trigger_price"`
	StopLoss float64   `db:"stop_loss" json:"stop_loss"`
	OrderID  string    `db:"order_id" json:"order_id"`
	Outcome  string    `db:"outcome" json:"outcome"` // placed, skipped, failed
	Reason   string    `db:"reason" json:"reason"`
	Error    string    `db:"error" json:"error"`
	At       time.Time `db:"created_at" json:"created_at"`
}

// Recorder persists order outcomes.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Journal persists order actions to SQLite for audit.
type Journal struct {
	mu sync.Mutex
	db *sqlx.DB
}

const journalSchema = `
CREATE TABLE IF NOT EXISTS order_journal (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	trace_id      TEXT NOT NULL DEFAULT '',
	symbol        TEXT NOT NULL,
	kind          TEXT NOT NULL,
	side          TEXT NOT NULL DEFAULT '',
	qty           REAL NOT NULL DEFAULT 0,
	trigger_price REAL NOT NULL DEFAULT 0,
	stop_loss     REAL NOT NULL DEFAULT 0,
	order_id      TEXT NOT NULL DEFAULT '',
	outcome       TEXT NOT NULL,
	reason        TEXT NOT NULL DEFAULT '',
	error         TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_order_journal_symbol ON order_journal(symbol);
CREATE INDEX IF NOT EXISTS idx_order_journal_created_at ON order_journal(created_at);
`

// NewJournal opens (or creates) a SQLite journal database.
// ":memory:" opens a private in-memory journal.
func NewJournal(dbPath string) (*Journal, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		dsn += "?_journal=WAL&_sync=NORMAL"
	}
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(journalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: schema: %w", err)
	}

	slog.Info("opened order journal", "component", "journal", "path", dbPath)
	return &Journal{db: db}, nil
}

// Record persists an entry. A zero At is stamped with the current time.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.NamedExecContext(ctx,
		`INSERT INTO order_journal
			(trace_id, symbol, kind, side, qty, trigger_price, stop_loss, order_id, outcome, reason, error, created_at)
		 VALUES
			(:trace_id, :symbol, :kind, :side, :qty, :trigger_price, :stop_loss, :order_id, :outcome, :reason, :error, :created_at)`,
		e)
	if err != nil {
		return fmt.Errorf("journal: record: %w", err)
	}
	return nil
}

// Recent returns the last limit entries, newest first. An empty symbol
// matches every symbol.
func (j *Journal) Recent(ctx context.Context, symbol string, limit int) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var entries []Entry
	err := j.db.SelectContext(ctx, &entries,
		`SELECT id, trace_id, symbol, kind, side, qty, trigger_price, stop_loss, order_id, outcome, reason, error, created_at
		 FROM order_journal
		 WHERE (? = '' OR symbol = ?)
		 ORDER BY id DESC LIMIT ?`, symbol, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	return entries, nil
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
