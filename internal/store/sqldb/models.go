package sqldb

import (
	"database/sql"
	"time"
)

// User is a registered Telegram user and their exchange keys.
type User struct {
	ID         int64     `db:"id"`
	TelegramID int64     `db:"telegram_id"`
	APIKey     string    `db:"api_key"`
	APISecret  string    `db:"api_secret"`
	CreatedAt  time.Time `db:"created_at"`
}

// Bot is a user's robot: the balance it last saw and whether it runs.
type Bot struct {
	ID             int64     `db:"id"`
	UserID         int64     `db:"user_id"`
	CurrentBalance float64   `db:"current_balance"`
	AllTimePnL     float64   `db:"all_time_pnl"`
	IsRunning      bool      `db:"is_running"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// TradeSettings is a strategy definition. Rows are shared between users:
// identical settings map to one row.
type TradeSettings struct {
	ID          int64   `db:"id"`
	CoinName    string  `db:"coin_name"`
	Leverage    int     `db:"leverage"`
	Timeframe   string  `db:"timeframe"`
	DepoProcent float64 `db:"depo_procent"` // percent of capital, 1..100
}

// Same reports whether s and o describe the same strategy.
func (s TradeSettings) Same(o TradeSettings) bool {
	return s.CoinName == o.CoinName && s.Leverage == o.Leverage &&
		s.Timeframe == o.Timeframe && s.DepoProcent == o.DepoProcent
}

// merge returns s with the non-zero fields of o applied. The id is kept.
func (s TradeSettings) merge(o TradeSettings) TradeSettings {
	if o.CoinName != "" {
		s.CoinName = o.CoinName
	}
	if o.Leverage != 0 {
		s.Leverage = o.Leverage
	}
	if o.Timeframe != "" {
		s.Timeframe = o.Timeframe
	}
	if o.DepoProcent != 0 {
		s.DepoProcent = o.DepoProcent
	}
	return s
}

// Trade links a user to a strategy and tracks the lifecycle of the
// position it holds.
type Trade struct {
	ID         int64           `db:"id"`
	UserID     int64           `db:"user_id"`
	StrategyID sql.NullInt64   `db:"strategy_id"`
	IsActive   bool            `db:"is_active"`
	EntryPrice sql.NullFloat64 `db:"entry_price"`
	CurrentPnL sql.NullFloat64 `db:"current_pnl"`
	OpenedAt   sql.NullTime    `db:"opened_at"`
	ClosedAt   sql.NullTime    `db:"closed_at"`
}

// BotUpdate carries the bot fields to change. Nil fields are left alone.
type BotUpdate struct {
	CurrentBalance *float64
	AllTimePnL     *float64
	IsRunning      *bool
}
