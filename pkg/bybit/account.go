package bybit

import (
	"context"
	"fmt"
	"net/url"
)

// WalletBalance returns the unified-account wallet balance of coin.
func (c *Client) WalletBalance(ctx context.Context, coin string) (float64, error) {
	params := url.Values{}
	params.Set("accountType", AccountUnified)
	params.Set("coin", coin)

	var res walletResult
	if err := c.get(ctx, "/v5/account/wallet-balance", params, true, &res); err != nil {
		return 0, err
	}
	for _, acct := range res.List {
		for _, cb := range acct.Coin {
			if cb.Coin == coin {
				return num(cb.WalletBalance), nil
			}
		}
	}
	return 0, nil
}

// TransferableAmount returns the amount of coin that can be withdrawn,
// i.e. the capital not locked as margin.
func (c *Client) TransferableAmount(ctx context.Context, coin string) (float64, error) {
	params := url.Values{}
	params.Set("coinName", coin)

	var res transferableResult
	if err := c.get(ctx, "/v5/account/withdrawal", params, true, &res); err != nil {
		return 0, err
	}
	return num(res.AvailableWithdrawal), nil
}

// FeeRate returns the account fee rates for symbol.
func (c *Client) FeeRate(ctx context.Context, symbol string) (FeeRate, error) {
	params := url.Values{}
	params.Set("category", c.category)
	params.Set("symbol", symbol)

	var res feeResult
	if err := c.get(ctx, "/v5/account/fee-rate", params, true, &res); err != nil {
		return FeeRate{}, err
	}
	for _, f := range res.List {
		if f.Symbol == symbol {
			return FeeRate{Symbol: f.Symbol, Taker: num(f.TakerFeeRate), Maker: num(f.MakerFeeRate)}, nil
		}
	}
	return FeeRate{}, fmt.Errorf("%w: no fee rate for %s", ErrUnknownSymbol, symbol)
}

// Positions returns the open positions for symbol. Flat entries (size 0)
// are dropped.
func (c *Client) Positions(ctx context.Context, symbol string) ([]Position, error) {
	params := url.Values{}
	params.Set("category", c.category)
	params.Set("symbol", symbol)

	var res positionResult
	if err := c.get(ctx, "/v5/position/list", params, true, &res); err != nil {
		return nil, err
	}
	out := make([]Position, 0, len(res.List))
	for _, p := range res.List {
		size := num(p.Size)
		if size == 0 || p.Side == "" {
			continue
		}
		out = append(out, Position{
			Symbol:        p.Symbol,
			Side:          p.Side,
			Size:          size,
			AvgPrice:      num(p.AvgPrice),
			Leverage:      num(p.Leverage),
			UnrealisedPnl: num(p.UnrealisedPnl),
		})
	}
	return out, nil
}

// SetLeverage sets the same buy and sell leverage on symbol. Setting the
// leverage it already has is not an error.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage string) error {
	body := map[string]string{
		"category":     c.category,
		"symbol":       symbol,
		"buyLeverage":  leverage,
		"sellLeverage": leverage,
	}
	err := c.post(ctx, "/v5/position/set-leverage", body, nil)
	if apiErr, ok := AsAPIError(err); ok && apiErr.Code == ErrCodeLeverageNotModified {
		return nil
	}
	return err
}
