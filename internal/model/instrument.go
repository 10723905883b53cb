package model

// Instrument holds the trading filters of a linear perpetual contract.
type Instrument struct {
	Symbol      string  `json:"symbol"`
	PriceStep   float64 `json:"price_step"`    // tick size
	QtyStep     float64 `json:"qty_step"`      // lot size step
	MinOrderQty float64 `json:"min_order_qty"` // smallest accepted qty
	MaxLeverage float64 `json:"max_leverage"`
}

// FeeRate is the account fee schedule for a symbol.
type FeeRate struct {
	Symbol string  `json:"symbol"`
	Taker  float64 `json:"taker"`
	Maker  float64 `json:"maker"`
}
