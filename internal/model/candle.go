package model

import "time"

// Candle is one OHLCV bucket for a symbol/timeframe.
// Windows of candles are ordered oldest first, most recent last.
type Candle struct {
	Time   time.Time `json:"time"` // bucket start (UTC)
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"` // base-coin volume
}

// Bullish reports whether the candle closed at or above its open.
func (c Candle) Bullish() bool { return c.Open <= c.Close }

// Bearish reports whether the candle closed below its open.
func (c Candle) Bearish() bool { return c.Open > c.Close }

// Last returns the most recent candle of a window. ok is false for an empty window.
func Last(candles []Candle) (c Candle, ok bool) {
	if len(candles) == 0 {
		return Candle{}, false
	}
	return candles[len(candles)-1], true
}
