package execution

import (
	"fmt"

	"bybit-techbot/internal/model"
	"bybit-techbot/internal/strategy"
)

// ActionKind is the kind of exchange action a plan step performs.
type ActionKind int

const (
	ActCancelAll ActionKind = iota
	ActMarket
	ActStop
)

func (k ActionKind) String() string {
	switch k {
	case ActCancelAll:
		return "cancel"
	case ActMarket:
		return "market"
	case ActStop:
		return "stop"
	}
	return "unknown"
}

// Action is one step of a pass plan.
//
// A Sized action has no fixed quantity: the executor asks the
// PositionSizer at execution time, after any preceding cancel has freed
// margin, passing SizeWith as the held position.
type Action struct {
	Kind     ActionKind      `json:"kind"`
	Side     model.Side      `json:"side,omitempty"`
	Qty      float64         `json:"qty,omitempty"`
	Sized    bool            `json:"sized,omitempty"`
	SizeWith *model.Position `json:"-"`
	Trigger  float64         `json:"trigger,omitempty"`
	StopLoss float64         `json:"stop_loss,omitempty"` // 0 = none
	Reason   string          `json:"reason"`
}

func (a Action) String() string {
	switch a.Kind {
	case ActCancelAll:
		return fmt.Sprintf("cancel-all (%s)", a.Reason)
	case ActMarket:
		return fmt.Sprintf("market %s qty=%g (%s)", a.Side, a.Qty, a.Reason)
	}
	qty := fmt.Sprintf("%g", a.Qty)
	if a.Sized {
		qty = "sized"
	}
	return fmt.Sprintf("stop %s @%g sl=%g qty=%s (%s)", a.Side, a.Trigger, a.StopLoss, qty, a.Reason)
}

// PlanInput is the state one pass plans from. Everything is fetched fresh
// for the pass.
type PlanInput struct {
	Eval       strategy.Evaluation
	Position   *model.Position // nil when flat
	OpenOrders int
	PriceStep  float64
	RSILow     float64
	RSIHigh    float64
}

// Plan maps a pass's state to the ordered list of actions to perform.
// It is pure: the same input always yields the same plan.
//
// At most one CancelAll is emitted and it always comes first.
func Plan(in PlanInput) []Action {
	candles := in.Eval.Candles
	n := len(candles)
	if n == 0 {
		return nil
	}
	last := candles[n-1]
	step := in.PriceStep
	sig := in.Eval.Signal
	pos := in.Position

	var plan []Action
	cancelled := false
	cancel := func(reason string) {
		if in.OpenOrders > 0 && !cancelled {
			plan = append(plan, Action{Kind: ActCancelAll, Reason: reason})
			cancelled = true
		}
	}

	if sig != strategy.Flat {
		cancel("new " + sig.String() + " signal")
	}

	rsiPrev, rsiLast := rsiPair(in.Eval)

	switch {
	case pos == nil:
		switch sig {
		case strategy.Long:
			plan = append(plan, entryStop(candles, model.Buy, step, nil, "open long"))
		case strategy.Short:
			plan = append(plan, entryStop(candles, model.Sell, step, nil, "open short"))
		}

	case pos.Long():
		switch {
		case rsiPrev < in.RSIHigh && rsiLast >= in.RSIHigh:
			cancel("rsi overbought")
			plan = append(plan, Action{Kind: ActMarket, Side: model.Sell, Qty: pos.Size, Reason: "rsi overbought exit"})
		case rsiPrev >= in.RSIHigh && rsiLast < in.RSIHigh:
			cancel("rsi leaving overbought")
			plan = append(plan, Action{
				Kind: ActStop, Side: model.Sell, Qty: pos.Size,
				Trigger: model.RoundToStep(last.Low-step, step),
				Reason:  "rsi leaving overbought exit",
			})
		case sig == strategy.Short:
			plan = append(plan, reverse(candles, model.Sell, step, pos)...)
		}

	case pos.Short():
		switch {
		case rsiPrev > in.RSILow && rsiLast <= in.RSILow:
			cancel("rsi oversold")
			plan = append(plan, Action{Kind: ActMarket, Side: model.Buy, Qty: pos.Size, Reason: "rsi oversold exit"})
		case rsiPrev <= in.RSILow && rsiLast > in.RSILow:
			cancel("rsi leaving oversold")
			plan = append(plan, Action{
				Kind: ActStop, Side: model.Buy, Qty: pos.Size,
				Trigger: model.RoundToStep(last.High+step, step),
				Reason:  "rsi leaving oversold exit",
			})
		case sig == strategy.Long:
			plan = append(plan, reverse(candles, model.Buy, step, pos)...)
		}
	}
	return plan
}

// entryPrices returns the stop-entry trigger beyond the last candle and
// the protective stop beyond the nearest swing extreme.
func entryPrices(candles []model.Candle, side model.Side, step float64) (trigger, stopLoss float64) {
	last := candles[len(candles)-1]
	ref := candles[strategy.StopCandleIndex(candles, side)]
	if side == model.Buy {
		return model.RoundToStep(last.High+step, step), model.RoundToStep(ref.Low-2*step, step)
	}
	return model.RoundToStep(last.Low-step, step), model.RoundToStep(ref.High+2*step, step)
}

func entryStop(candles []model.Candle, side model.Side, step float64, pos *model.Position, reason string) Action {
	trigger, sl := entryPrices(candles, side, step)
	return Action{
		Kind: ActStop, Side: side, Sized: true, SizeWith: pos,
		Trigger: trigger, StopLoss: sl, Reason: reason,
	}
}

// reverse closes pos and opens the opposite direction with two stop orders
// at the same trigger.
func reverse(candles []model.Candle, side model.Side, step float64, pos *model.Position) []Action {
	trigger, sl := entryPrices(candles, side, step)
	return []Action{
		{Kind: ActStop, Side: side, Qty: pos.Size, Trigger: trigger, StopLoss: sl, Reason: "reverse: close"},
		entryStop(candles, side, step, pos, "reverse: open"),
	}
}

// rsiPair returns the RSI of the previous and latest candle, NaN when
// undefined.
func rsiPair(ev strategy.Evaluation) (prev, last float64) {
	return ev.Indicators.At(-2).RSI, ev.Indicators.At(-1).RSI
}
