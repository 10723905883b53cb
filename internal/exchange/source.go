package exchange

import (
	"context"

	"bybit-techbot/internal/model"
)

// DefaultCandleLimit is the kline window requested per pass.
const DefaultCandleLimit = 200

// Source implements model.MarketDataSource over the kline endpoint.
type Source struct {
	api   API
	limit int
}

// NewSource creates a candle source. limit <= 0 uses DefaultCandleLimit.
func NewSource(api API, limit int) *Source {
	if limit <= 0 {
		limit = DefaultCandleLimit
	}
	return &Source{api: api, limit: limit}
}

// FetchCandles returns the latest window of timeframe candles, oldest first.
// The last candle is the one still forming.
func (s *Source) FetchCandles(ctx context.Context, symbol, timeframe string) ([]model.Candle, error) {
	klines, err := s.api.Klines(ctx, symbol, timeframe, s.limit)
	if err != nil {
		return nil, upstream("klines "+symbol, err)
	}
	out := make([]model.Candle, len(klines))
	for i, k := range klines {
		out[i] = model.Candle{
			Time:   k.Start.UTC(),
			Open:   k.Open,
			High:   k.High,
			Low:    k.Low,
			Close:  k.Close,
			Volume: k.Volume,
		}
	}
	return out, nil
}
