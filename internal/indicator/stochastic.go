package indicator

import "bybit-techbot/internal/model"

// Stochastic calculates the stochastic oscillator:
//
//	raw = 100 * (close - lowest low) / (highest high - lowest low)   over k candles
//	%K  = SMA(raw, smooth)
//	%D  = SMA(%K, d)
//
// A zero high-low range yields raw = 0.
type Stochastic struct {
	k     int
	highs []float64
	lows  []float64
	idx   int
	count int

	kLine *SMA
	dLine *SMA
}

// NewStochastic creates a stochastic oscillator with lookback k,
// %D period d and %K smoothing smooth.
func NewStochastic(k, d, smooth int) *Stochastic {
	return &Stochastic{
		k:     k,
		highs: make([]float64, k),
		lows:  make([]float64, k),
		kLine: NewSMA(smooth),
		dLine: NewSMA(d),
	}
}

func (s *Stochastic) Name() string { return "STOCH" }

func (s *Stochastic) Update(candle model.Candle) {
	s.highs[s.idx] = candle.High
	s.lows[s.idx] = candle.Low
	s.idx = (s.idx + 1) % s.k
	s.count++

	if s.count < s.k {
		return
	}

	hh, ll := s.highs[0], s.lows[0]
	for i := 1; i < s.k; i++ {
		if s.highs[i] > hh {
			hh = s.highs[i]
		}
		if s.lows[i] < ll {
			ll = s.lows[i]
		}
	}

	raw := 0.0
	if hh > ll {
		raw = 100 * (candle.Close - ll) / (hh - ll)
	}

	s.kLine.Add(raw)
	if s.kLine.Ready() {
		s.dLine.Add(s.kLine.Value())
	}
}

// K returns the smoothed %K line.
func (s *Stochastic) K() float64 { return s.kLine.Value() }

// D returns the %D signal line.
func (s *Stochastic) D() float64 { return s.dLine.Value() }

// KReady reports whether %K is defined.
func (s *Stochastic) KReady() bool { return s.kLine.Ready() }

// Value returns %K.
func (s *Stochastic) Value() float64 { return s.K() }

// Ready reports whether both %K and %D are defined.
func (s *Stochastic) Ready() bool { return s.dLine.Ready() }
