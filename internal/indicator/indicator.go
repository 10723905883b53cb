// Package indicator provides the technical indicators the signal engine
// reads: EMA, SMA, RSI, stochastic oscillator and the Chaikin A/D oscillator.
//
// Each indicator is a streaming calculator fed one candle at a time
// (Update/Value/Ready). Compute runs them over a whole candle window and
// returns series aligned index-for-index with it.
package indicator

import "bybit-techbot/internal/model"

// Indicator is the interface for all candle-driven indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "EMA", "RSI").
	Name() string

	// Update feeds a new candle and recalculates.
	Update(candle model.Candle)

	// Value returns the current value. Meaningless until Ready.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}

// Series is implemented by indicators that can also be fed raw values,
// which lets indicators be stacked (EMA over A/D, SMA over %K).
type Series interface {
	Add(v float64)
	Value() float64
	Ready() bool
}
