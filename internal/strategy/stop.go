package strategy

import "bybit-techbot/internal/model"

// StopCandleIndex finds the nearest swing extreme behind the last candle.
// For a buy it walks back while the previous low is not above the current
// one; for a sell it walks back while the previous high is not below the
// current one. The walk stops at index 0. Returns -1 for an empty window.
func StopCandleIndex(candles []model.Candle, side model.Side) int {
	i := len(candles) - 1
	if i < 0 {
		return -1
	}
	if side == model.Buy {
		for i > 0 && candles[i-1].Low <= candles[i].Low {
			i--
		}
		return i
	}
	for i > 0 && candles[i-1].High >= candles[i].High {
		i--
	}
	return i
}
