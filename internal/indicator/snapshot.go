package indicator

import "math"

// Snapshot holds indicator series aligned index-for-index with the candle
// window they were computed from. Entries before an indicator's warm-up
// are NaN; any comparison against NaN is false, so an undefined value can
// never satisfy a signal condition.
type Snapshot struct {
	MA     []float64
	StochK []float64
	StochD []float64
	ADOSC  []float64
	RSI    []float64
}

// Point is one index of a Snapshot.
type Point struct {
	MA     float64 `json:"ma"`
	StochK float64 `json:"stoch_k"`
	StochD float64 `json:"stoch_d"`
	ADOSC  float64 `json:"adosc"`
	RSI    float64 `json:"rsi"`
}

// Len returns the number of aligned entries.
func (s Snapshot) Len() int { return len(s.MA) }

// At returns the values at index i. Negative i counts from the end
// (-1 is the latest candle). Out of range yields an all-NaN point.
func (s Snapshot) At(i int) Point {
	if i < 0 {
		i += s.Len()
	}
	if i < 0 || i >= s.Len() {
		nan := math.NaN()
		return Point{MA: nan, StochK: nan, StochD: nan, ADOSC: nan, RSI: nan}
	}
	return Point{
		MA:     s.MA[i],
		StochK: s.StochK[i],
		StochD: s.StochD[i],
		ADOSC:  s.ADOSC[i],
		RSI:    s.RSI[i],
	}
}

// Complete reports whether every value of the point is defined.
func (p Point) Complete() bool {
	return Defined(p.MA) && Defined(p.StochK) && Defined(p.StochD) && Defined(p.ADOSC) && Defined(p.RSI)
}

// Defined reports whether v is a computed value (not a warm-up NaN).
func Defined(v float64) bool { return !math.IsNaN(v) }

func nanSeries(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}
