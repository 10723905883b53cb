package sqldb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const botColumns = `b.id, b.user_id, b.current_balance, b.all_time_pnl, b.is_running, b.updated_at`

// CreateBot creates the user's bot with the given starting balance. A user
// has at most one bot; an existing one is returned unchanged.
func (s *Store) CreateBot(ctx context.Context, telegramID int64, balance float64) (*Bot, error) {
	var b *Bot
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		u, err := userByTelegramID(ctx, tx, telegramID)
		if err != nil {
			return err
		}
		b, err = ensureBot(ctx, tx, u.ID, balance, s.now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("Store.CreateBot: %w", err)
	}
	return b, nil
}

// GetBot returns the user's bot.
func (s *Store) GetBot(ctx context.Context, telegramID int64) (*Bot, error) {
	b, err := botByTelegramID(ctx, s.db, telegramID)
	if err != nil {
		return nil, fmt.Errorf("Store.GetBot: %w", err)
	}
	return b, nil
}

// UpdateBot applies the non-nil fields of upd.
func (s *Store) UpdateBot(ctx context.Context, telegramID int64, upd BotUpdate) (*Bot, error) {
	var b *Bot
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		if b, err = botByTelegramID(ctx, tx, telegramID); err != nil {
			return err
		}
		if upd.CurrentBalance != nil {
			b.CurrentBalance = *upd.CurrentBalance
		}
		if upd.AllTimePnL != nil {
			b.AllTimePnL = *upd.AllTimePnL
		}
		if upd.IsRunning != nil {
			b.IsRunning = *upd.IsRunning
		}
		return saveBot(ctx, tx, b, s.now)
	})
	if err != nil {
		return nil, fmt.Errorf("Store.UpdateBot: %w", err)
	}
	return b, nil
}

// SyncBotBalance records a fresh balance reading. The difference to the
// previous reading is added to the all-time PnL.
func (s *Store) SyncBotBalance(ctx context.Context, telegramID int64, balance float64) (*Bot, error) {
	var b *Bot
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		if b, err = botByTelegramID(ctx, tx, telegramID); err != nil {
			return err
		}
		b.AllTimePnL += balance - b.CurrentBalance
		b.CurrentBalance = balance
		return saveBot(ctx, tx, b, s.now)
	})
	if err != nil {
		return nil, fmt.Errorf("Store.SyncBotBalance: %w", err)
	}
	return b, nil
}

// RunningUsers returns the Telegram ids of users whose bot is marked running.
func (s *Store) RunningUsers(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := selectAll(ctx, s.db, &ids,
		`SELECT u.telegram_id FROM bots b JOIN users u ON u.id = b.user_id WHERE b.is_running = ? ORDER BY u.id`, true)
	if err != nil {
		return nil, fmt.Errorf("Store.RunningUsers: %w", err)
	}
	return ids, nil
}

// ResetRunning clears the running flag on every bot. Called at startup,
// since no loop survives a restart.
func (s *Store) ResetRunning(ctx context.Context) (int64, error) {
	n, err := exec(ctx, s.db, `UPDATE bots SET is_running = ?, updated_at = ? WHERE is_running = ?`,
		false, s.now(), true)
	if err != nil {
		return 0, fmt.Errorf("Store.ResetRunning: %w", err)
	}
	return n, nil
}

func ensureBot(ctx context.Context, tx *sqlx.Tx, userID int64, balance float64, now func() time.Time) (*Bot, error) {
	var b Bot
	err := get(ctx, tx, &b, `SELECT `+botColumns+` FROM bots b WHERE b.user_id = ? ORDER BY b.id LIMIT 1`, userID)
	if err == nil {
		return &b, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	b = Bot{UserID: userID, CurrentBalance: balance, UpdatedAt: now()}
	b.ID, err = insert(ctx, tx,
		`INSERT INTO bots (user_id, current_balance, all_time_pnl, is_running, updated_at) VALUES (?, ?, ?, ?, ?)`,
		b.UserID, b.CurrentBalance, b.AllTimePnL, b.IsRunning, b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func botByTelegramID(ctx context.Context, q sqlx.ExtContext, telegramID int64) (*Bot, error) {
	var b Bot
	err := get(ctx, q, &b, `SELECT `+botColumns+` FROM bots b
		JOIN users u ON u.id = b.user_id
		WHERE u.telegram_id = ? ORDER BY b.id LIMIT 1`, telegramID)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func saveBot(ctx context.Context, tx *sqlx.Tx, b *Bot, now func() time.Time) error {
	b.UpdatedAt = now()
	_, err := exec(ctx, tx,
		`UPDATE bots SET current_balance = ?, all_time_pnl = ?, is_running = ?, updated_at = ? WHERE id = ?`,
		b.CurrentBalance, b.AllTimePnL, b.IsRunning, b.UpdatedAt, b.ID)
	return err
}
