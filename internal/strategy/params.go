package strategy

import (
	"fmt"

	"bybit-techbot/internal/indicator"
)

// Mode selects the signal rules.
type Mode string

const (
	// ModeMulti requires graphic, oscillator and volume-flow confirmation
	// inside the confirmation window.
	ModeMulti Mode = "multi"
	// ModeSimple fires on a close crossing the moving average.
	ModeSimple Mode = "simple"
)

// VolumeLevels are the three reference volumes for a timeframe. A breakout
// volume is "good" when it lies in [(Low+Mid)/2, High].
type VolumeLevels struct {
	Low  float64
	Mid  float64
	High float64
}

// TimeframeVolumes are the calibrated volume levels per kline interval.
// Intervals not listed use the configured defaults.
var TimeframeVolumes = map[string]VolumeLevels{
	"1":  {Low: 30, Mid: 77, High: 554},
	"60": {Low: 2.5e3, Mid: 6.9e3, High: 23.5e3},
}

// ForTimeframe returns p retargeted to timeframe tf, picking the
// calibrated volume levels for tf when there are any.
func (p Params) ForTimeframe(tf string) Params {
	p.Timeframe = tf
	if v, ok := TimeframeVolumes[tf]; ok {
		p.Volume = v
	}
	return p
}

// Params configures one evaluator. It is immutable once validated: a
// parameter change means building a new Evaluator.
type Params struct {
	Timeframe       string
	Mode            Mode
	Indicators      indicator.Config
	Window          int
	Volume          VolumeLevels
	RSILow          float64
	RSIHigh         float64
	MaxLossPercent  float64
	Leverage        float64
	CapitalFraction float64
}

// DefaultParams returns the one-minute defaults.
func DefaultParams() Params {
	return Params{
		Timeframe:       "1",
		Mode:            ModeMulti,
		Indicators:      indicator.DefaultConfig(),
		Window:          4,
		Volume:          VolumeLevels{Low: 30, Mid: 77, High: 554},
		RSILow:          30,
		RSIHigh:         70,
		MaxLossPercent:  2,
		Leverage:        1,
		CapitalFraction: 1,
	}
}

// GoodVolume returns the inclusive good-volume band.
func (p Params) GoodVolume() (lo, hi float64) {
	return (p.Volume.Low + p.Volume.Mid) / 2, p.Volume.High
}

// InBand reports whether v lies in the good-volume band.
func (p Params) InBand(v float64) bool {
	lo, hi := p.GoodVolume()
	return v >= lo && v <= hi
}

// Validate checks parameter ranges.
func (p Params) Validate() error {
	if p.Timeframe == "" {
		return fmt.Errorf("strategy: timeframe is required")
	}
	if p.Mode != ModeMulti && p.Mode != ModeSimple {
		return fmt.Errorf("strategy: unknown mode %q", p.Mode)
	}
	if err := p.Indicators.Validate(); err != nil {
		return fmt.Errorf("strategy: %w", err)
	}
	if p.Window < 1 {
		return fmt.Errorf("strategy: window must be >= 1, got %d", p.Window)
	}
	if lo, hi := p.GoodVolume(); lo > hi {
		return fmt.Errorf("strategy: empty good-volume band [%g, %g]", lo, hi)
	}
	if p.RSILow < 0 || p.RSIHigh > 100 || p.RSILow >= p.RSIHigh {
		return fmt.Errorf("strategy: rsi thresholds must satisfy 0 <= low < high <= 100, got (%g, %g)", p.RSILow, p.RSIHigh)
	}
	if p.MaxLossPercent <= 0 || p.MaxLossPercent > 100 {
		return fmt.Errorf("strategy: max loss percent must be in (0, 100], got %g", p.MaxLossPercent)
	}
	if p.Leverage <= 0 {
		return fmt.Errorf("strategy: leverage must be > 0, got %g", p.Leverage)
	}
	if p.CapitalFraction <= 0 || p.CapitalFraction > 1 {
		return fmt.Errorf("strategy: capital fraction must be in (0, 1], got %g", p.CapitalFraction)
	}
	return nil
}
