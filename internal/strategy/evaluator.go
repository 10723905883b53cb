package strategy

import (
	"bybit-techbot/internal/indicator"
	"bybit-techbot/internal/model"
)

// Evaluation is the result of one Evaluate call. It carries the window and
// its indicators so the execution layer can price orders and read RSI
// without recomputing.
type Evaluation struct {
	Signal     Signal
	Bull       SignalState
	Bear       SignalState
	Indicators indicator.Snapshot
	Candles    []model.Candle
}

// Last returns the latest candle of the window.
func (e Evaluation) Last() (model.Candle, bool) { return model.Last(e.Candles) }

// Evaluator applies Params to candle windows. It holds no state between
// calls and is safe for concurrent use.
type Evaluator struct {
	params Params
}

// NewEvaluator validates p and returns an evaluator bound to it.
func NewEvaluator(p Params) (*Evaluator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Evaluator{params: p}, nil
}

// Params returns the evaluator's parameters.
func (e *Evaluator) Params() Params { return e.params }

// Evaluate computes indicators over candles (oldest first) and returns the
// signal. A window too short for the rules, or one whose indicators are not
// yet defined, yields Flat.
func (e *Evaluator) Evaluate(candles []model.Candle) Evaluation {
	ev := Evaluation{
		Candles:    candles,
		Indicators: indicator.Compute(candles, e.params.Indicators),
	}

	if e.params.Mode == ModeSimple {
		ev.Signal = e.simple(ev)
		return ev
	}

	n := len(candles)
	w := e.params.Window
	if n < w+1 {
		return ev
	}

	k, d, osc := ev.Indicators.StochK, ev.Indicators.StochD, ev.Indicators.ADOSC
	for i := w; i >= 1; i-- {
		idx := n - i
		prev := idx - 1

		switch {
		case k[prev] <= d[prev] && k[idx] > d[idx]:
			ev.Bull[SlotOscillator], ev.Bear[SlotOscillator] = true, false
		case k[prev] >= d[prev] && k[idx] < d[idx]:
			ev.Bear[SlotOscillator], ev.Bull[SlotOscillator] = true, false
		}

		switch {
		case osc[prev] <= 0 && osc[idx] > 0:
			ev.Bull[SlotVolumeFlow], ev.Bear[SlotVolumeFlow] = true, false
		case osc[prev] >= 0 && osc[idx] < 0:
			ev.Bear[SlotVolumeFlow], ev.Bull[SlotVolumeFlow] = true, false
		}

		g := e.graphic(candles, ev.Indicators.MA, idx)
		if ev.Bull.Any() && g == Long {
			ev.Bull[SlotGraphic], ev.Bear[SlotGraphic] = true, false
		}
		if ev.Bear.Any() && g == Short {
			ev.Bear[SlotGraphic], ev.Bull[SlotGraphic] = true, false
		}
	}

	last := n - 1
	ev.Signal = resolve(ev.Bull, ev.Bear, candles[last].Close, ev.Indicators.MA[last])
	return ev
}

// resolve picks the direction whose flags are complete and whose close is
// on the matching side of the moving average. Both vectors complete at once
// is contradictory and resolves to Flat.
func resolve(bull, bear SignalState, lastClose, ma float64) Signal {
	switch {
	case bull.All() && bear.All():
		// Each slot fires in one direction only, so Evaluate never gets
		// here; kept so a future slot cannot turn a tie into a trade.
		return Flat
	case bull.All() && lastClose > ma:
		return Long
	case bear.All() && lastClose < ma:
		return Short
	}
	return Flat
}

// graphic classifies candle idx as a moving-average breakout. A breakout
// counts when its volume is in the good band, or when the two following
// candles confirm its direction.
func (e *Evaluator) graphic(candles []model.Candle, ma []float64, idx int) Signal {
	c := candles[idx]
	confirmable := idx+2 < len(candles)

	if c.Open <= ma[idx] && c.Close > ma[idx] {
		if e.params.InBand(c.Volume) ||
			(confirmable && candles[idx+1].Bullish() && candles[idx+2].Bullish()) {
			return Long
		}
	}
	if c.Open >= ma[idx] && c.Close < ma[idx] {
		if e.params.InBand(c.Volume) ||
			(confirmable && candles[idx+1].Bearish() && candles[idx+2].Bearish()) {
			return Short
		}
	}
	return Flat
}

// simple fires when the close crosses the moving average between the last
// two candles.
func (e *Evaluator) simple(ev Evaluation) Signal {
	n := len(ev.Candles)
	if n < 2 {
		return Flat
	}
	ma := ev.Indicators.MA
	prev, last := ev.Candles[n-2].Close, ev.Candles[n-1].Close

	switch {
	case prev < ma[n-2] && last >= ma[n-1]:
		return Long
	case prev > ma[n-2] && last <= ma[n-1]:
		return Short
	}
	return Flat
}
