package bybit

import (
	"context"
	"net/url"
)

// OpenOrders returns the resting orders for symbol, conditional ones
// included.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	params := url.Values{}
	params.Set("category", c.category)
	params.Set("symbol", symbol)
	params.Set("openOnly", "0")

	var res orderListResult
	if err := c.get(ctx, "/v5/order/realtime", params, true, &res); err != nil {
		return nil, err
	}
	out := make([]Order, 0, len(res.List))
	for _, o := range res.List {
		out = append(out, Order{
			OrderID:      o.OrderID,
			OrderLinkID:  o.OrderLinkID,
			Symbol:       o.Symbol,
			Side:         o.Side,
			OrderType:    o.OrderType,
			Price:        num(o.Price),
			Qty:          num(o.Qty),
			TriggerPrice: num(o.TriggerPrice),
			Status:       o.OrderStatus,
		})
	}
	return out, nil
}

// CreateOrder places an order. An empty Category defaults to the client's.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if req.Category == "" {
		req.Category = c.category
	}
	var res OrderResult
	if err := c.post(ctx, "/v5/order/create", req, &res); err != nil {
		return OrderResult{}, err
	}
	return res, nil
}

// CancelAll cancels every open order on symbol, conditional ones included.
func (c *Client) CancelAll(ctx context.Context, symbol string) error {
	body := map[string]string{
		"category": c.category,
		"symbol":   symbol,
	}
	return c.post(ctx, "/v5/order/cancel-all", body, nil)
}
