package model

// Side is an order or position direction as Bybit spells it.
type Side string

const (
	Buy  Side = "Buy"
	Sell Side = "Sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Position is a snapshot of an open position, supplied fresh every pass
// by the exchange. A nil *Position means the symbol is flat.
type Position struct {
	Symbol     string  `json:"symbol"`
	Side       Side    `json:"side"` // Buy = long, Sell = short
	EntryPrice float64 `json:"entry_price"`
	Size       float64 `json:"size"` // always positive
}

// Long reports whether the position is long.
func (p *Position) Long() bool { return p != nil && p.Side == Buy }

// Short reports whether the position is short.
func (p *Position) Short() bool { return p != nil && p.Side == Sell }
