package indicator

import "bybit-techbot/internal/model"

// EMA calculates an Exponential Moving Average seeded with the SMA of the
// first period values. O(1) per update.
type EMA struct {
	period     int
	multiplier float64
	current    float64
	count      int
	sum        float64
}

// NewEMA creates a new EMA indicator with the given period.
func NewEMA(period int) *EMA {
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *EMA) Name() string { return "EMA" }

// Update feeds the candle close.
func (e *EMA) Update(candle model.Candle) { e.Add(candle.Close) }

// Add feeds a raw value.
func (e *EMA) Add(v float64) {
	e.count++

	if e.count <= e.period {
		// Accumulate for initial SMA seed
		e.sum += v
		if e.count == e.period {
			e.current = e.sum / float64(e.period)
		}
		return
	}

	e.current = (v * e.multiplier) + (e.current * (1 - e.multiplier))
}

func (e *EMA) Value() float64 { return e.current }
func (e *EMA) Ready() bool    { return e.count >= e.period }

// Reset clears the EMA state for reuse.
func (e *EMA) Reset() {
	e.current = 0
	e.count = 0
	e.sum = 0
}
