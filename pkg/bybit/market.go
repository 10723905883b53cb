package bybit

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// ServerTime returns the exchange clock.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	var res struct {
		TimeNano string `json:"timeNano"`
	}
	if err := c.get(ctx, "/v5/market/time", nil, false, &res); err != nil {
		return time.Time{}, err
	}
	ns, err := strconv.ParseInt(res.TimeNano, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("bybit: server time %q: %w", res.TimeNano, err)
	}
	return time.Unix(0, ns).UTC(), nil
}

// Klines returns up to limit candles for symbol, oldest first. Bybit sends
// them newest first; the order is reversed here.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	params := url.Values{}
	params.Set("category", c.category)
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var res klineResult
	if err := c.get(ctx, "/v5/market/kline", params, false, &res); err != nil {
		return nil, err
	}

	out := make([]Kline, 0, len(res.List))
	for i := len(res.List) - 1; i >= 0; i-- {
		row := res.List[i]
		if len(row) < 6 {
			return nil, fmt.Errorf("bybit: kline row %d has %d fields", i, len(row))
		}
		k := Kline{
			Start:  millis(row[0]),
			Open:   num(row[1]),
			High:   num(row[2]),
			Low:    num(row[3]),
			Close:  num(row[4]),
			Volume: num(row[5]),
		}
		if len(row) > 6 {
			k.Turnover = num(row[6])
		}
		out = append(out, k)
	}
	return out, nil
}

// Instrument returns the filters of symbol.
func (c *Client) Instrument(ctx context.Context, symbol string) (InstrumentInfo, error) {
	params := url.Values{}
	params.Set("category", c.category)
	params.Set("symbol", symbol)

	var res instrumentResult
	if err := c.get(ctx, "/v5/market/instruments-info", params, false, &res); err != nil {
		return InstrumentInfo{}, err
	}
	for _, it := range res.List {
		if it.Symbol != symbol {
			continue
		}
		return InstrumentInfo{
			Symbol:      it.Symbol,
			Status:      it.Status,
			TickSize:    num(it.PriceFilter.TickSize),
			QtyStep:     num(it.LotSizeFilter.QtyStep),
			MinOrderQty: num(it.LotSizeFilter.MinOrderQty),
			MaxLeverage: num(it.LeverageFilter.MaxLeverage),
		}, nil
	}
	return InstrumentInfo{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
}

// LastPrice returns the last traded price of symbol.
func (c *Client) LastPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("category", c.category)
	params.Set("symbol", symbol)

	var res tickerResult
	if err := c.get(ctx, "/v5/market/tickers", params, false, &res); err != nil {
		return 0, err
	}
	for _, t := range res.List {
		if t.Symbol == symbol {
			return num(t.LastPrice), nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
}
