// Package exchange adapts the Bybit v5 client to the model ports used by
// the execution layer: candles, account state and order placement.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bybit-techbot/internal/model"
	"bybit-techbot/pkg/bybit"
)

// QuoteCoin is the settlement coin of linear USDT contracts.
const QuoteCoin = "USDT"

// API is the part of *bybit.Client the adapters use.
type API interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]bybit.Kline, error)
	Instrument(ctx context.Context, symbol string) (bybit.InstrumentInfo, error)
	LastPrice(ctx context.Context, symbol string) (float64, error)
	WalletBalance(ctx context.Context, coin string) (float64, error)
	TransferableAmount(ctx context.Context, coin string) (float64, error)
	FeeRate(ctx context.Context, symbol string) (bybit.FeeRate, error)
	Positions(ctx context.Context, symbol string) ([]bybit.Position, error)
	OpenOrders(ctx context.Context, symbol string) ([]bybit.Order, error)
	CreateOrder(ctx context.Context, req bybit.OrderRequest) (bybit.OrderResult, error)
	CancelAll(ctx context.Context, symbol string) error
	SetLeverage(ctx context.Context, symbol, leverage string) error
}

// Cache is a shared key/value cache, such as the Redis cache.
type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttl time.Duration) error
}

// ErrInvalidKeys is returned by VerifyKeys when the exchange refuses the
// credentials.
var ErrInvalidKeys = errors.New("exchange: invalid api credentials")

// upstream tags err as ErrUpstreamUnavailable.
func upstream(op string, err error) error {
	return fmt.Errorf("exchange: %s: %w: %w", op, model.ErrUpstreamUnavailable, err)
}

// refusal maps a failed order call: an exchange refusal is
// ErrOrderRejected, anything else (transport, decoding) is
// ErrUpstreamUnavailable.
func refusal(op string, err error) error {
	if _, ok := bybit.AsAPIError(err); ok {
		return fmt.Errorf("exchange: %s: %w: %w", op, model.ErrOrderRejected, err)
	}
	return upstream(op, err)
}
