package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bybit-techbot/internal/model"
)

// Fill represents a simulated order placement.
type Fill struct {
	OrderID  string     `json:"order_id"`
	Kind     string     `json:"kind"` // market, stop
	Symbol   string     `json:"symbol"`
	Side     model.Side `json:"side"`
	Qty      float64    `json:"qty"`
	Trigger  float64    `json:"trigger,omitempty"`
	StopLoss float64    `json:"stop_loss,omitempty"`
	At       time.Time  `json:"at"`
}

// PaperGateway is an in-memory OrderGateway. Market orders are recorded as
// filled; stop orders rest in a book until CancelAllOrders clears them.
// Order IDs are PAPER-1, PAPER-2, ...
type PaperGateway struct {
	mu       sync.RWMutex
	fills    []Fill
	resting  map[string][]Fill // symbol → resting stop orders
	cancels  int
	orderSeq int64
	log      *slog.Logger
}

// NewPaperGateway creates an empty paper gateway.
func NewPaperGateway() *PaperGateway {
	return &PaperGateway{
		fills:   make([]Fill, 0, 64),
		resting: make(map[string][]Fill),
		log:     slog.Default().With("component", "paper"),
	}
}

func (p *PaperGateway) SubmitMarketOrder(ctx context.Context, o model.MarketOrder) (model.OrderAck, error) {
	if o.Qty <= 0 {
		return model.OrderAck{}, fmt.Errorf("paper: market qty %g: %w", o.Qty, model.ErrInvalidSizing)
	}
	f := p.record(Fill{Kind: "market", Symbol: o.Symbol, Side: o.Side, Qty: o.Qty, StopLoss: o.StopLoss}, false)
	return model.OrderAck{OrderID: f.OrderID, LinkID: f.OrderID}, nil
}

func (p *PaperGateway) SubmitStopOrder(ctx context.Context, o model.StopOrder) (model.OrderAck, error) {
	if o.Qty <= 0 {
		return model.OrderAck{}, fmt.Errorf("paper: stop qty %g: %w", o.Qty, model.ErrInvalidSizing)
	}
	f := p.record(Fill{
		Kind: "stop", Symbol: o.Symbol, Side: o.Side, Qty: o.Qty,
		Trigger: o.TriggerPrice, StopLoss: o.StopLoss,
	}, true)
	return model.OrderAck{OrderID: f.OrderID, LinkID: f.OrderID}, nil
}

func (p *PaperGateway) CancelAllOrders(ctx context.Context, symbol string) error {
	p.mu.Lock()
	n := len(p.resting[symbol])
	delete(p.resting, symbol)
	p.cancels++
	p.mu.Unlock()

	p.log.Info("cancel all", "symbol", symbol, "cancelled", n)
	return nil
}

func (p *PaperGateway) record(f Fill, rest bool) Fill {
	p.mu.Lock()
	p.orderSeq++
	f.OrderID = fmt.Sprintf("PAPER-%d", p.orderSeq)
	f.At = time.Now()
	p.fills = append(p.fills, f)
	if rest {
		p.resting[f.Symbol] = append(p.resting[f.Symbol], f)
	}
	p.mu.Unlock()

	p.log.Info("paper order",
		"order_id", f.OrderID, "kind", f.Kind, "symbol", f.Symbol, "side", f.Side,
		"qty", f.Qty, "trigger", f.Trigger, "stop_loss", f.StopLoss)
	return f
}

// GetFills returns a snapshot of all placements.
func (p *PaperGateway) GetFills() []Fill {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]Fill, len(p.fills))
	copy(cp, p.fills)
	return cp
}

// OpenOrders returns the number of resting paper orders for symbol.
func (p *PaperGateway) OpenOrders(symbol string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.resting[symbol])
}

// Cancels returns how many CancelAllOrders calls were made.
func (p *PaperGateway) Cancels() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cancels
}

// Account overlays the paper book on a live account: open-order counts
// come from the paper book, everything else from live.
func (p *PaperGateway) Account(live model.ExchangeAccount) model.ExchangeAccount {
	return &paperAccount{ExchangeAccount: live, book: p}
}

type paperAccount struct {
	model.ExchangeAccount
	book *PaperGateway
}

func (a *paperAccount) OpenOrderCount(_ context.Context, symbol string) (int, error) {
	return a.book.OpenOrders(symbol), nil
}
