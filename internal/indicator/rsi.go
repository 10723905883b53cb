package indicator

import "bybit-techbot/internal/model"

// RSI calculates the Relative Strength Index using Wilder's smoothing
// method, seeded with the simple average of the first period deltas.
type RSI struct {
	period    int
	count     int
	prevClose float64
	avgGain   float64
	avgLoss   float64
	current   float64
}

// NewRSI creates a new RSI indicator with the given period (typically 14).
func NewRSI(period int) *RSI {
	return &RSI{period: period}
}

func (r *RSI) Name() string { return "RSI" }

// Update feeds the candle close.
func (r *RSI) Update(candle model.Candle) { r.Add(candle.Close) }

// Add feeds a raw price.
func (r *RSI) Add(price float64) {
	r.count++

	if r.count == 1 {
		r.prevClose = price
		return
	}

	delta := price - r.prevClose
	r.prevClose = price

	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}

	if r.count <= r.period+1 {
		r.avgGain += gain
		r.avgLoss += loss

		if r.count == r.period+1 {
			r.avgGain /= float64(r.period)
			r.avgLoss /= float64(r.period)
			r.current = rsiValue(r.avgGain, r.avgLoss)
		}
		return
	}

	// Wilder's smoothing: avg = (prevAvg * (period-1) + x) / period
	p := float64(r.period)
	r.avgGain = (r.avgGain*(p-1) + gain) / p
	r.avgLoss = (r.avgLoss*(p-1) + loss) / p
	r.current = rsiValue(r.avgGain, r.avgLoss)
}

// rsiValue maps average gain/loss to 0..100. A window without any price
// movement is neutral (50).
func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50.0
		}
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

func (r *RSI) Value() float64 { return r.current }
func (r *RSI) Ready() bool    { return r.count > r.period }
