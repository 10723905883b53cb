package sqldb

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const userColumns = `id, telegram_id, api_key, api_secret, created_at`

// CreateUser registers a Telegram user. It is idempotent: an existing user
// is returned unchanged.
func (s *Store) CreateUser(ctx context.Context, telegramID int64, apiKey, apiSecret string) (*User, error) {
	var u *User
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		existing, err := userByTelegramID(ctx, tx, telegramID)
		if err == nil {
			u = existing
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		created := User{TelegramID: telegramID, APIKey: apiKey, APISecret: apiSecret, CreatedAt: s.now()}
		created.ID, err = insert(ctx, tx,
			`INSERT INTO users (telegram_id, api_key, api_secret, created_at) VALUES (?, ?, ?, ?)`,
			created.TelegramID, created.APIKey, created.APISecret, created.CreatedAt)
		if err != nil {
			return err
		}
		u = &created
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("Store.CreateUser: %w", err)
	}
	return u, nil
}

// GetUser looks a user up by Telegram id.
func (s *Store) GetUser(ctx context.Context, telegramID int64) (*User, error) {
	u, err := userByTelegramID(ctx, s.db, telegramID)
	if err != nil {
		return nil, fmt.Errorf("Store.GetUser: %w", err)
	}
	return u, nil
}

// UpdateUserKeys replaces the user's API credentials. Empty values keep
// the stored ones.
func (s *Store) UpdateUserKeys(ctx context.Context, telegramID int64, apiKey, apiSecret string) (*User, error) {
	var u *User
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		if u, err = userByTelegramID(ctx, tx, telegramID); err != nil {
			return err
		}
		if apiKey != "" {
			u.APIKey = apiKey
		}
		if apiSecret != "" {
			u.APISecret = apiSecret
		}
		_, err = exec(ctx, tx, `UPDATE users SET api_key = ?, api_secret = ? WHERE id = ?`,
			u.APIKey, u.APISecret, u.ID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("Store.UpdateUserKeys: %w", err)
	}
	return u, nil
}

// DeleteUser removes the user together with their bot and trades.
// Strategies no trade refers to any more are removed too.
func (s *Store) DeleteUser(ctx context.Context, telegramID int64) error {
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		n, err := exec(ctx, tx, `DELETE FROM users WHERE telegram_id = ?`, telegramID)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		_, err = pruneOrphanSettings(ctx, tx)
		return err
	})
	if err != nil {
		return fmt.Errorf("Store.DeleteUser: %w", err)
	}
	return nil
}

// ListUsers returns every user in id order.
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	if err := selectAll(ctx, s.db, &users, `SELECT `+userColumns+` FROM users ORDER BY id`); err != nil {
		return nil, fmt.Errorf("Store.ListUsers: %w", err)
	}
	return users, nil
}

func userByTelegramID(ctx context.Context, q sqlx.ExtContext, telegramID int64) (*User, error) {
	var u User
	if err := get(ctx, q, &u, `SELECT `+userColumns+` FROM users WHERE telegram_id = ?`, telegramID); err != nil {
		return nil, err
	}
	return &u, nil
}
