package model

import "time"

// MarketOrder is an order filled immediately at market.
// Zero StopLoss/TakeProfit means "not set".
type MarketOrder struct {
	Symbol     string  `json:"symbol"`
	Side       Side    `json:"side"`
	Qty        float64 `json:"qty"`
	StopLoss   float64 `json:"stop_loss,omitempty"`
	TakeProfit float64 `json:"take_profit,omitempty"`
}

// StopOrder is a conditional order that activates once the last price
// crosses TriggerPrice and then rests at LimitPrice.
type StopOrder struct {
	Symbol       string  `json:"symbol"`
	Side         Side    `json:"side"`
	TriggerPrice float64 `json:"trigger_price"`
	LimitPrice   float64 `json:"limit_price"`
	Qty          float64 `json:"qty"`
	StopLoss     float64 `json:"stop_loss,omitempty"`
	TakeProfit   float64 `json:"take_profit,omitempty"`
}

// OrderAck is the exchange acknowledgement of a placed order.
type OrderAck struct {
	OrderID string `json:"order_id"`
	LinkID  string `json:"link_id"`
}

// OrderUpdate is an order event from the private order stream.
type OrderUpdate struct {
	OrderID      string    `json:"order_id"`
	Symbol       string    `json:"symbol"`
	Side         Side      `json:"side"`
	OrderType    string    `json:"order_type"` // Market, Limit
	Status       string    `json:"status"`     // New, Filled, Cancelled, Untriggered...
	RejectReason string    `json:"reject_reason"`
	Price        float64   `json:"price"`
	AvgPrice     float64   `json:"avg_price"`
	CumExecQty   float64   `json:"cum_exec_qty"`
	CumExecValue float64   `json:"cum_exec_value"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Filled reports whether the update describes a completed, error-free fill.
func (u OrderUpdate) Filled() bool {
	return u.Status == "Filled" && (u.RejectReason == "" || u.RejectReason == "EC_NoError")
}

// FillPrice returns the average fill price, falling back to the order price.
func (u OrderUpdate) FillPrice() float64 {
	if u.AvgPrice > 0 {
		return u.AvgPrice
	}
	return u.Price
}
