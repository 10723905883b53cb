package portfolio

import (
	"sync"
	"time"

	"bybit-techbot/internal/model"
)

// Transition describes how the position changed between two passes.
// A reversal reports both Closed and Opened.
type Transition struct {
	Opened   bool      `json:"opened"`
	Closed   bool      `json:"closed"`
	Entry    float64   `json:"entry"`    // entry price of the newly opened position
	Realized float64   `json:"realized"` // PnL estimate of the closed position at the mark price
	Open     float64   `json:"open_pnl"` // unrealized PnL of the current position
	Holding  bool      `json:"holding"`  // a position is open after this pass
	At       time.Time `json:"at"`
}

// Changed reports whether a position was opened or closed.
func (t Transition) Changed() bool { return t.Opened || t.Closed }

// TradeTracker follows one symbol's position snapshots pass by pass and
// reports open/close transitions. Realized PnL is estimated from the
// latest close since fills are not observed here.
type TradeTracker struct {
	mu       sync.RWMutex
	last     *model.Position
	realized float64
	trades   int
}

// NewTradeTracker creates a tracker seeded with the position the bot
// already holds (nil when flat).
func NewTradeTracker(initial *model.Position) *TradeTracker {
	return &TradeTracker{last: clonePosition(initial)}
}

// Observe records the current position and the mark price used for PnL.
func (t *TradeTracker) Observe(pos *model.Position, mark float64, at time.Time) Transition {
	t.mu.Lock()
	defer t.mu.Unlock()

	tr := Transition{At: at}
	prev := t.last

	switch {
	case prev == nil && pos == nil:
	case prev == nil:
		tr.Opened, tr.Entry = true, pos.EntryPrice
	case pos == nil:
		tr.Closed, tr.Realized = true, UnrealizedPnL(prev, mark)
	case prev.Side != pos.Side || prev.EntryPrice != pos.EntryPrice:
		// Reversed, or closed and reopened between passes.
		tr.Closed, tr.Realized = true, UnrealizedPnL(prev, mark)
		tr.Opened, tr.Entry = true, pos.EntryPrice
	}

	if pos != nil {
		tr.Holding = true
		tr.Open = UnrealizedPnL(pos, mark)
	}
	if tr.Closed {
		t.realized += tr.Realized
		t.trades++
	}

	t.last = clonePosition(pos)
	return tr
}

// Current returns the last observed position, or nil.
func (t *TradeTracker) Current() *model.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return clonePosition(t.last)
}

// PnLSummary is a snapshot of the tracker.
type PnLSummary struct {
	RealizedPnL  float64 `json:"realized_pnl"`
	ClosedTrades int     `json:"closed_trades"`
	Holding      bool    `json:"holding"`
}

// Summary returns realized PnL and trade count so far.
func (t *TradeTracker) Summary() PnLSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return PnLSummary{
		RealizedPnL:  t.realized,
		ClosedTrades: t.trades,
		Holding:      t.last != nil,
	}
}

func clonePosition(p *model.Position) *model.Position {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}
