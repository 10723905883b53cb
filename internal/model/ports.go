package model

import (
	"context"
	"errors"
)

// ── Exchange Port Interfaces ──
// The signal engine consumes the exchange only through these interfaces.
// internal/exchange implements them over the Bybit client; tests and
// paper mode supply their own.

// MarketDataSource returns candle windows.
type MarketDataSource interface {
	// FetchCandles returns the latest window, oldest first.
	// An empty window with a nil error is treated as unavailable data.
	FetchCandles(ctx context.Context, symbol, timeframe string) ([]Candle, error)
}

// ExchangeAccount exposes the account state one pass needs.
type ExchangeAccount interface {
	// AvailableCapital returns the withdrawable quote balance.
	AvailableCapital(ctx context.Context) (float64, error)

	// TakerFee returns the taker fee rate (e.g. 0.00055).
	TakerFee(ctx context.Context, symbol string) (float64, error)

	// CurrentPosition returns nil, nil when the symbol is flat.
	CurrentPosition(ctx context.Context, symbol string) (*Position, error)

	// OpenOrderCount returns the number of resting orders for the symbol.
	OpenOrderCount(ctx context.Context, symbol string) (int, error)

	// PriceStep returns the tick size of the symbol.
	PriceStep(ctx context.Context, symbol string) (float64, error)
}

// OrderGateway submits and cancels orders.
type OrderGateway interface {
	SubmitMarketOrder(ctx context.Context, o MarketOrder) (OrderAck, error)
	SubmitStopOrder(ctx context.Context, o StopOrder) (OrderAck, error)
	CancelAllOrders(ctx context.Context, symbol string) error
}

// ── Error taxonomy ──
// Only these three kinds are recoverable within an evaluation pass.

var (
	// ErrUpstreamUnavailable: candles, capital, fee, position, order count
	// or price step could not be fetched. The pass is aborted.
	ErrUpstreamUnavailable = errors.New("upstream data unavailable")

	// ErrInvalidSizing: order price equals stop price, or the computed
	// quantity is not positive or below the exchange minimum.
	ErrInvalidSizing = errors.New("invalid order sizing")

	// ErrOrderRejected: the gateway refused the order.
	ErrOrderRejected = errors.New("order rejected")
)

// IsKnown reports whether err carries one of the taxonomy kinds.
func IsKnown(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable) ||
		errors.Is(err, ErrInvalidSizing) ||
		errors.Is(err, ErrOrderRejected)
}

// Kind returns a short label for err's taxonomy kind, for logs and metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, ErrInvalidSizing):
		return "invalid_sizing"
	case errors.Is(err, ErrOrderRejected):
		return "order_rejected"
	}
	return "other"
}
