package sqldb

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const tradeColumns = `t.id, t.user_id, t.strategy_id, t.is_active, t.entry_price, t.current_pnl, t.opened_at, t.closed_at`

// GetTrade returns a trade by id.
func (s *Store) GetTrade(ctx context.Context, id int64) (*Trade, error) {
	t, err := tradeByID(ctx, s.db, id)
	if err != nil {
		return nil, fmt.Errorf("Store.GetTrade: %w", err)
	}
	return t, nil
}

// TradeFor returns the user's first trade on strategy id.
func (s *Store) TradeFor(ctx context.Context, telegramID, strategyID int64) (*Trade, error) {
	var t Trade
	err := get(ctx, s.db, &t, `SELECT `+tradeColumns+` FROM trades t
		JOIN users u ON u.id = t.user_id
		WHERE u.telegram_id = ? AND t.strategy_id = ?
		ORDER BY t.id LIMIT 1`, telegramID, strategyID)
	if err != nil {
		return nil, fmt.Errorf("Store.TradeFor: %w", err)
	}
	return &t, nil
}

// UserTrades returns every trade of the user in id order.
func (s *Store) UserTrades(ctx context.Context, telegramID int64) ([]Trade, error) {
	var out []Trade
	err := selectAll(ctx, s.db, &out, `SELECT `+tradeColumns+` FROM trades t
		JOIN users u ON u.id = t.user_id
		WHERE u.telegram_id = ? ORDER BY t.id`, telegramID)
	if err != nil {
		return nil, fmt.Errorf("Store.UserTrades: %w", err)
	}
	return out, nil
}

// OpenTrade marks an inactive trade as open at entry. An already active
// trade yields ErrTradeState.
func (s *Store) OpenTrade(ctx context.Context, id int64, entry float64) (*Trade, error) {
	var t *Trade
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		if t, err = tradeByID(ctx, tx, id); err != nil {
			return err
		}
		if t.IsActive {
			return ErrTradeState
		}
		t.IsActive = true
		t.EntryPrice.Float64, t.EntryPrice.Valid = entry, true
		t.OpenedAt.Time, t.OpenedAt.Valid = s.now(), true
		_, err = exec(ctx, tx, `UPDATE trades SET is_active = ?, entry_price = ?, opened_at = ? WHERE id = ?`,
			t.IsActive, t.EntryPrice, t.OpenedAt, t.ID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("Store.OpenTrade: %w", err)
	}
	return t, nil
}

// CloseTrade marks an active trade as closed. A nil pnl keeps the last
// recorded value. An inactive trade yields ErrTradeState.
func (s *Store) CloseTrade(ctx context.Context, id int64, pnl *float64) (*Trade, error) {
	var t *Trade
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		if t, err = tradeByID(ctx, tx, id); err != nil {
			return err
		}
		if !t.IsActive {
			return ErrTradeState
		}
		if pnl != nil {
			t.CurrentPnL.Float64, t.CurrentPnL.Valid = *pnl, true
		}
		t.IsActive = false
		t.ClosedAt.Time, t.ClosedAt.Valid = s.now(), true
		_, err = exec(ctx, tx, `UPDATE trades SET is_active = ?, current_pnl = ?, closed_at = ? WHERE id = ?`,
			t.IsActive, t.CurrentPnL, t.ClosedAt, t.ID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("Store.CloseTrade: %w", err)
	}
	return t, nil
}

// UpdateTradePnL records the running PnL of a trade.
func (s *Store) UpdateTradePnL(ctx context.Context, id int64, pnl float64) error {
	n, err := exec(ctx, s.db, `UPDATE trades SET current_pnl = ? WHERE id = ?`, pnl, id)
	if err == nil && n == 0 {
		err = ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("Store.UpdateTradePnL: %w", err)
	}
	return nil
}

// DeleteTrade removes a trade and its strategy if that becomes orphaned.
func (s *Store) DeleteTrade(ctx context.Context, id int64) error {
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		t, err := tradeByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := exec(ctx, tx, `DELETE FROM trades WHERE id = ?`, id); err != nil {
			return err
		}
		if t.StrategyID.Valid {
			return deleteSettingsIfOrphan(ctx, tx, t.StrategyID.Int64)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("Store.DeleteTrade: %w", err)
	}
	return nil
}

func tradeByID(ctx context.Context, q sqlx.ExtContext, id int64) (*Trade, error) {
	var t Trade
	if err := get(ctx, q, &t, `SELECT `+tradeColumns+` FROM trades t WHERE t.id = ?`, id); err != nil {
		return nil, err
	}
	return &t, nil
}
