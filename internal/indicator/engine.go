package indicator

import (
	"fmt"

	"bybit-techbot/internal/model"
)

// Config specifies the indicator periods used by Compute.
type Config struct {
	MAPeriod    int // EMA of close
	StochK      int // stochastic lookback
	StochD      int // %D smoothing
	StochSmooth int // %K smoothing
	ADOSCFast   int
	ADOSCSlow   int
	RSIPeriod   int
}

// DefaultConfig returns EMA 10, stochastic (14,3,3), ADOSC (3,10) and RSI 14.
func DefaultConfig() Config {
	return Config{
		MAPeriod:    10,
		StochK:      14,
		StochD:      3,
		StochSmooth: 3,
		ADOSCFast:   3,
		ADOSCSlow:   10,
		RSIPeriod:   14,
	}
}

// Validate checks that all periods are positive and ADOSC fast < slow.
func (c Config) Validate() error {
	periods := []struct {
		name string
		v    int
	}{
		{"ma period", c.MAPeriod},
		{"stoch k", c.StochK},
		{"stoch d", c.StochD},
		{"stoch smooth", c.StochSmooth},
		{"adosc fast", c.ADOSCFast},
		{"adosc slow", c.ADOSCSlow},
		{"rsi period", c.RSIPeriod},
	}
	for _, p := range periods {
		if p.v < 1 {
			return fmt.Errorf("indicator: %s must be >= 1, got %d", p.name, p.v)
		}
	}
	if c.ADOSCFast >= c.ADOSCSlow {
		return fmt.Errorf("indicator: adosc fast (%d) must be < slow (%d)", c.ADOSCFast, c.ADOSCSlow)
	}
	return nil
}

// Warmup returns the number of candles after which every series is defined.
func (c Config) Warmup() int {
	n := c.MAPeriod
	if w := c.StochK + c.StochSmooth + c.StochD - 2; w > n {
		n = w
	}
	if c.ADOSCSlow > n {
		n = c.ADOSCSlow
	}
	if w := c.RSIPeriod + 1; w > n {
		n = w
	}
	return n
}

// Compute runs every indicator over candles (oldest first) and returns the
// aligned series. It is a pure function of its inputs.
func Compute(candles []model.Candle, cfg Config) Snapshot {
	n := len(candles)
	snap := Snapshot{
		MA:     nanSeries(n),
		StochK: nanSeries(n),
		StochD: nanSeries(n),
		ADOSC:  nanSeries(n),
		RSI:    nanSeries(n),
	}

	ma := NewEMA(cfg.MAPeriod)
	stoch := NewStochastic(cfg.StochK, cfg.StochD, cfg.StochSmooth)
	osc := NewADOSC(cfg.ADOSCFast, cfg.ADOSCSlow)
	rsi := NewRSI(cfg.RSIPeriod)

	for i, c := range candles {
		ma.Update(c)
		stoch.Update(c)
		osc.Update(c)
		rsi.Update(c)

		if ma.Ready() {
			snap.MA[i] = ma.Value()
		}
		if stoch.KReady() {
			snap.StochK[i] = stoch.K()
		}
		if stoch.Ready() {
			snap.StochD[i] = stoch.D()
		}
		if osc.Ready() {
			snap.ADOSC[i] = osc.Value()
		}
		if rsi.Ready() {
			snap.RSI[i] = rsi.Value()
		}
	}
	return snap
}
