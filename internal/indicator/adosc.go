package indicator

import "bybit-techbot/internal/model"

// ADOSC is the Chaikin accumulation/distribution oscillator: the difference
// between a fast and a slow EMA of the cumulative A/D line.
//
//	AD += ((close - low) - (high - close)) / (high - low) * volume
//
// Candles with high == low add nothing to AD. Only the sign of the
// oscillator matters to the signal engine.
type ADOSC struct {
	fast *EMA
	slow *EMA
	ad   float64
}

// NewADOSC creates the oscillator with the given fast and slow periods (3 and 10 by convention).
func NewADOSC(fast, slow int) *ADOSC {
	return &ADOSC{
		fast: NewEMA(fast),
		slow: NewEMA(slow),
	}
}

func (a *ADOSC) Name() string { return "ADOSC" }

func (a *ADOSC) Update(candle model.Candle) {
	if rng := candle.High - candle.Low; rng > 0 {
		mfm := ((candle.Close - candle.Low) - (candle.High - candle.Close)) / rng
		a.ad += mfm * candle.Volume
	}
	a.fast.Add(a.ad)
	a.slow.Add(a.ad)
}

// AD returns the cumulative accumulation/distribution line.
func (a *ADOSC) AD() float64 { return a.ad }

func (a *ADOSC) Value() float64 { return a.fast.Value() - a.slow.Value() }
func (a *ADOSC) Ready() bool    { return a.fast.Ready() && a.slow.Ready() }
