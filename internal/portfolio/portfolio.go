// Package portfolio sizes orders against account capital and tracks the
// lifecycle of the position a bot holds.
//
// Positions themselves are owned by the exchange and re-read every pass;
// nothing here caches them across passes.
package portfolio

import "bybit-techbot/internal/model"

// Margin returns the margin locked by pos at the given leverage.
// A nil position or non-positive leverage has no margin.
func Margin(pos *model.Position, leverage float64) float64 {
	if pos == nil || leverage <= 0 {
		return 0
	}
	return pos.EntryPrice * pos.Size / leverage
}

// UnrealizedPnL returns the PnL of pos if it were closed at price.
// Shorts gain when price falls.
func UnrealizedPnL(pos *model.Position, price float64) float64 {
	if pos == nil {
		return 0
	}
	pnl := pos.Size * (price - pos.EntryPrice)
	if pos.Side == model.Sell {
		pnl = -pnl
	}
	return pnl
}

// Notional returns size * price.
func Notional(pos *model.Position, price float64) float64 {
	if pos == nil {
		return 0
	}
	return pos.Size * price
}
