package sqldb

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const settingsColumns = `id, coin_name, leverage, timeframe, depo_procent`

// GetOrCreateTradeSettings returns the row matching all four fields of ts,
// creating it if needed.
func (s *Store) GetOrCreateTradeSettings(ctx context.Context, ts TradeSettings) (*TradeSettings, error) {
	var out *TradeSettings
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		out, err = getOrCreateSettings(ctx, tx, ts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("Store.GetOrCreateTradeSettings: %w", err)
	}
	return out, nil
}

// GetStrategy returns a settings row by id.
func (s *Store) GetStrategy(ctx context.Context, id int64) (*TradeSettings, error) {
	var ts TradeSettings
	if err := get(ctx, s.db, &ts, `SELECT `+settingsColumns+` FROM trade_settings WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("Store.GetStrategy: %w", err)
	}
	return &ts, nil
}

// CreateTradeWithStrategy attaches the strategy ts to the user through a
// new inactive trade. The user's bot is created if missing.
func (s *Store) CreateTradeWithStrategy(ctx context.Context, telegramID int64, ts TradeSettings) (*Trade, error) {
	var t *Trade
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		u, err := userByTelegramID(ctx, tx, telegramID)
		if err != nil {
			return err
		}
		if _, err := ensureBot(ctx, tx, u.ID, 0, s.now); err != nil {
			return err
		}
		settings, err := getOrCreateSettings(ctx, tx, ts)
		if err != nil {
			return err
		}

		created := Trade{UserID: u.ID}
		created.StrategyID.Int64, created.StrategyID.Valid = settings.ID, true
		created.ID, err = insert(ctx, tx,
			`INSERT INTO trades (user_id, strategy_id, is_active) VALUES (?, ?, ?)`,
			created.UserID, created.StrategyID, created.IsActive)
		if err != nil {
			return err
		}
		t = &created
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("Store.CreateTradeWithStrategy: %w", err)
	}
	return t, nil
}

// GetUserStrategies returns the distinct settings referenced by the user's
// trades, in id order. A user without strategies gets an empty slice.
func (s *Store) GetUserStrategies(ctx context.Context, telegramID int64) ([]TradeSettings, error) {
	var out []TradeSettings
	err := selectAll(ctx, s.db, &out, `SELECT `+settingsColumns+` FROM trade_settings
		WHERE id IN (
			SELECT t.strategy_id FROM trades t
			JOIN users u ON u.id = t.user_id
			WHERE u.telegram_id = ? AND t.strategy_id IS NOT NULL
		)
		ORDER BY id`, telegramID)
	if err != nil {
		return nil, fmt.Errorf("Store.GetUserStrategies: %w", err)
	}
	return out, nil
}

// UpdateTradeSettings changes strategy id for the given user. Zero fields
// of upd keep their stored value.
//
// Nothing happens when the merged values match the stored row. The row is
// edited in place only while this user's trades are its sole referents;
// otherwise the user's trades are re-pointed to the row holding the new
// values, created if needed, and the old row is dropped once orphaned.
func (s *Store) UpdateTradeSettings(ctx context.Context, telegramID, id int64, upd TradeSettings) (*TradeSettings, error) {
	var out *TradeSettings
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var cur TradeSettings
		if err := get(ctx, tx, &cur, `SELECT `+settingsColumns+` FROM trade_settings WHERE id = ?`, id); err != nil {
			return err
		}
		merged := cur.merge(upd)
		if cur.Same(merged) {
			out = &cur
			return nil
		}
		u, err := userByTelegramID(ctx, tx, telegramID)
		if err != nil {
			return err
		}

		_, err = findSettings(ctx, tx, merged)
		switch {
		case errors.Is(err, ErrNotFound):
			shared, err := referencedByOthers(ctx, tx, id, u.ID)
			if err != nil {
				return err
			}
			if !shared {
				if _, err := exec(ctx, tx,
					`UPDATE trade_settings SET coin_name = ?, leverage = ?, timeframe = ?, depo_procent = ? WHERE id = ?`,
					merged.CoinName, merged.Leverage, merged.Timeframe, merged.DepoProcent, id); err != nil {
					return err
				}
				out = &merged
				return nil
			}
		case err != nil:
			return err
		}

		target, err := getOrCreateSettings(ctx, tx, merged)
		if err != nil {
			return err
		}
		if _, err := exec(ctx, tx, `UPDATE trades SET strategy_id = ? WHERE user_id = ? AND strategy_id = ?`,
			target.ID, u.ID, id); err != nil {
			return err
		}
		if err := deleteSettingsIfOrphan(ctx, tx, id); err != nil {
			return err
		}
		out = target
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("Store.UpdateTradeSettings: %w", err)
	}
	return out, nil
}

// DeleteStrategy removes the user's trades on strategy id, then the
// strategy itself if no other trade refers to it. It returns the number of
// trades removed.
func (s *Store) DeleteStrategy(ctx context.Context, telegramID, id int64) (int64, error) {
	var n int64
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		u, err := userByTelegramID(ctx, tx, telegramID)
		if err != nil {
			return err
		}
		if n, err = exec(ctx, tx, `DELETE FROM trades WHERE user_id = ? AND strategy_id = ?`, u.ID, id); err != nil {
			return err
		}
		return deleteSettingsIfOrphan(ctx, tx, id)
	})
	if err != nil {
		return 0, fmt.Errorf("Store.DeleteStrategy: %w", err)
	}
	return n, nil
}

func findSettings(ctx context.Context, q sqlx.ExtContext, ts TradeSettings) (*TradeSettings, error) {
	var out TradeSettings
	err := get(ctx, q, &out, `SELECT `+settingsColumns+` FROM trade_settings
		WHERE coin_name = ? AND leverage = ? AND timeframe = ? AND depo_procent = ?
		ORDER BY id LIMIT 1`, ts.CoinName, ts.Leverage, ts.Timeframe, ts.DepoProcent)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func getOrCreateSettings(ctx context.Context, tx *sqlx.Tx, ts TradeSettings) (*TradeSettings, error) {
	existing, err := findSettings(ctx, tx, ts)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	created := TradeSettings{CoinName: ts.CoinName, Leverage: ts.Leverage, Timeframe: ts.Timeframe, DepoProcent: ts.DepoProcent}
	created.ID, err = insert(ctx, tx,
		`INSERT INTO trade_settings (coin_name, leverage, timeframe, depo_procent) VALUES (?, ?, ?, ?)`,
		created.CoinName, created.Leverage, created.Timeframe, created.DepoProcent)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// referencedByOthers reports whether a trade of any user but userID points
// at settings id.
func referencedByOthers(ctx context.Context, tx *sqlx.Tx, id, userID int64) (bool, error) {
	var n int
	if err := get(ctx, tx, &n, `SELECT COUNT(*) FROM trades WHERE strategy_id = ? AND user_id <> ?`, id, userID); err != nil {
		return false, err
	}
	return n > 0, nil
}

func deleteSettingsIfOrphan(ctx context.Context, tx *sqlx.Tx, id int64) error {
	_, err := exec(ctx, tx, `DELETE FROM trade_settings WHERE id = ?
		AND NOT EXISTS (SELECT 1 FROM trades WHERE strategy_id = ?)`, id, id)
	return err
}

func pruneOrphanSettings(ctx context.Context, tx *sqlx.Tx) (int64, error) {
	return exec(ctx, tx, `DELETE FROM trade_settings
		WHERE NOT EXISTS (SELECT 1 FROM trades WHERE trades.strategy_id = trade_settings.id)`)
}
