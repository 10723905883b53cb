package portfolio

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"bybit-techbot/internal/model"
)

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f)", label, got, want, tol)
	}
}

// ────────────────────────────────────────────────────────────
// SizeOrder
// ────────────────────────────────────────────────────────────

func TestSizeOrder_RiskBound(t *testing.T) {
	// capital 1000, lev 1, no fee, 110 → 100, 2%:
	//   risk qty = 1000*0.02/10 = 2
	//   lev cap  = 1000/110     = 9.09
	qty, err := SizeOrder(SizingInput{
		Capital: 1000, OrderPrice: 110, StopPrice: 100,
		Limits: RiskLimits{Leverage: 1, CapitalFraction: 1, MaxLossPercent: 2},
	})
	if err != nil {
		t.Fatalf("SizeOrder: %v", err)
	}
	assertClose(t, "qty", qty, 2, 1e-9)
}

func TestSizeOrder_LeverageCap(t *testing.T) {
	// A tight stop makes the risk qty unaffordable:
	//   risk qty = 1000*0.02/0.1 = 200 → notional 22000 > 1000
	//   cap      = 1000*1/110    = 9.0909
	qty, err := SizeOrder(SizingInput{
		Capital: 1000, OrderPrice: 110, StopPrice: 109.9,
		Limits: RiskLimits{Leverage: 1, CapitalFraction: 1, MaxLossPercent: 2},
	})
	if err != nil {
		t.Fatalf("SizeOrder: %v", err)
	}
	assertClose(t, "qty", qty, 1000.0/110, 1e-9)
}

func TestSizeOrder_FeeDrag(t *testing.T) {
	// fee 0.001, lev 1: 1000 → 999 → 999 - 999*2*0.001 = 997.002
	qty, err := SizeOrder(SizingInput{
		Capital: 1000, TakerFee: 0.001, OrderPrice: 110, StopPrice: 100,
		Limits: RiskLimits{Leverage: 1, CapitalFraction: 1, MaxLossPercent: 2},
	})
	if err != nil {
		t.Fatalf("SizeOrder: %v", err)
	}
	assertClose(t, "qty", qty, 997.002*0.02/10, 1e-9)
}

func TestSizeOrder_CapitalFraction(t *testing.T) {
	qty, err := SizeOrder(SizingInput{
		Capital: 1000, OrderPrice: 110, StopPrice: 100,
		Limits: RiskLimits{Leverage: 1, CapitalFraction: 0.5, MaxLossPercent: 2},
	})
	if err != nil {
		t.Fatalf("SizeOrder: %v", err)
	}
	assertClose(t, "qty", qty, 1, 1e-9)
}

func TestSizeOrder_WithPosition(t *testing.T) {
	// Short 1 @ 120 reversed at 110: margin 120, PnL +10 → capital 1130.
	pos := &model.Position{Side: model.Sell, EntryPrice: 120, Size: 1}
	qty, err := SizeOrder(SizingInput{
		Capital: 1000, OrderPrice: 110, StopPrice: 100, Position: pos,
		Limits: RiskLimits{Leverage: 1, CapitalFraction: 1, MaxLossPercent: 2},
	})
	if err != nil {
		t.Fatalf("SizeOrder: %v", err)
	}
	assertClose(t, "qty", qty, 1130*0.02/10, 1e-9)

	// Long 1 @ 120 at 110: margin 120, PnL -10 → capital 1110.
	pos = &model.Position{Side: model.Buy, EntryPrice: 120, Size: 1}
	qty, err = SizeOrder(SizingInput{
		Capital: 1000, OrderPrice: 110, StopPrice: 120, Position: pos,
		Limits: RiskLimits{Leverage: 1, CapitalFraction: 1, MaxLossPercent: 2},
	})
	if err != nil {
		t.Fatalf("SizeOrder: %v", err)
	}
	assertClose(t, "qty", qty, 1110*0.02/10, 1e-9)
}

func TestSizeOrder_Invalid(t *testing.T) {
	base := SizingInput{
		Capital: 1000, OrderPrice: 110, StopPrice: 100,
		Limits: RiskLimits{Leverage: 1, CapitalFraction: 1, MaxLossPercent: 2},
	}
	tests := []struct {
		name   string
		mutate func(*SizingInput)
	}{
		{"order equals stop", func(in *SizingInput) { in.StopPrice = in.OrderPrice }},
		{"zero capital", func(in *SizingInput) { in.Capital = 0 }},
		{"negative capital", func(in *SizingInput) { in.Capital = -5 }},
		{"zero leverage", func(in *SizingInput) { in.Limits.Leverage = 0 }},
		{"fraction zero", func(in *SizingInput) { in.Limits.CapitalFraction = 0 }},
		{"fraction above one", func(in *SizingInput) { in.Limits.CapitalFraction = 1.01 }},
		{"negative fee", func(in *SizingInput) { in.TakerFee = -0.1 }},
		{"zero order price", func(in *SizingInput) { in.OrderPrice = 0 }},
		{"losing position eats capital", func(in *SizingInput) {
			in.Position = &model.Position{Side: model.Sell, EntryPrice: 10, Size: 100}
			in.OrderPrice = 200
			in.StopPrice = 190
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			tt.mutate(&in)
			qty, err := SizeOrder(in)
			if !errors.Is(err, model.ErrInvalidSizing) {
				t.Fatalf("err=%v, want ErrInvalidSizing", err)
			}
			if qty != 0 {
				t.Errorf("qty=%f on error, want 0", qty)
			}
		})
	}
}

func TestSizeOrder_Bounds(t *testing.T) {
	// For every accepted input the result respects both bounds.
	capitals := []float64{50, 1000, 25000}
	levs := []float64{1, 3, 10}
	fracs := []float64{0.1, 0.5, 1}
	stops := []float64{99.99, 95, 60, 130}
	fee := 0.00055

	for _, c := range capitals {
		for _, lev := range levs {
			for _, f := range fracs {
				for _, stop := range stops {
					in := SizingInput{
						Capital: c, TakerFee: fee, OrderPrice: 100, StopPrice: stop,
						Limits: RiskLimits{Leverage: lev, CapitalFraction: f, MaxLossPercent: 2},
					}
					qty, err := SizeOrder(in)
					if err != nil {
						t.Fatalf("SizeOrder(%+v): %v", in, err)
					}
					scaled := c
					scaled -= scaled * lev * fee
					scaled -= scaled * lev * (1 + 1/lev) * fee
					scaled *= f

					if qty*100/lev > scaled*(1+1e-9) {
						t.Errorf("c=%g lev=%g f=%g stop=%g: margin %f exceeds capital %f", c, lev, f, stop, qty*100/lev, scaled)
					}
					if loss := qty * math.Abs(100-stop); loss > scaled*0.02*(1+1e-9) {
						t.Errorf("c=%g lev=%g f=%g stop=%g: loss %f exceeds %f", c, lev, f, stop, loss, scaled*0.02)
					}
				}
			}
		}
	}
}

// ────────────────────────────────────────────────────────────
// PositionSizer
// ────────────────────────────────────────────────────────────

type stubAccount struct {
	capital    float64
	fee        float64
	capitalErr error
	feeErr     error
}

func (s *stubAccount) AvailableCapital(context.Context) (float64, error) { return s.capital, s.capitalErr }
func (s *stubAccount) TakerFee(context.Context, string) (float64, error) { return s.fee, s.feeErr }
func (s *stubAccount) CurrentPosition(context.Context, string) (*model.Position, error) {
	return nil, nil
}
func (s *stubAccount) OpenOrderCount(context.Context, string) (int, error) { return 0, nil }
func (s *stubAccount) PriceStep(context.Context, string) (float64, error)  { return 0.1, nil }

func TestPositionSizer_Size(t *testing.T) {
	ps := NewPositionSizer(&stubAccount{capital: 1000}, DefaultRiskLimits())
	qty, err := ps.Size(context.Background(), "BTCUSDT", 110, 100, nil)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	assertClose(t, "qty", qty, 2, 1e-9)
}

func TestPositionSizer_FetchFailures(t *testing.T) {
	tests := []struct {
		name string
		acct *stubAccount
	}{
		{"capital", &stubAccount{capitalErr: errors.New("timeout")}},
		{"fee", &stubAccount{capital: 1000, feeErr: errors.New("503")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ps := NewPositionSizer(tt.acct, DefaultRiskLimits())
			qty, err := ps.Size(context.Background(), "BTCUSDT", 110, 100, nil)
			if !errors.Is(err, model.ErrUpstreamUnavailable) {
				t.Fatalf("err=%v, want ErrUpstreamUnavailable", err)
			}
			if qty != 0 {
				t.Errorf("qty=%f, want 0", qty)
			}
		})
	}
}

// ────────────────────────────────────────────────────────────
// Position helpers and tracker
// ────────────────────────────────────────────────────────────

func TestPositionHelpers(t *testing.T) {
	long := &model.Position{Side: model.Buy, EntryPrice: 100, Size: 2}
	short := &model.Position{Side: model.Sell, EntryPrice: 100, Size: 2}

	assertClose(t, "margin lev 2", Margin(long, 2), 100, 1e-9)
	assertClose(t, "margin nil", Margin(nil, 2), 0, 0)
	assertClose(t, "long pnl", UnrealizedPnL(long, 110), 20, 1e-9)
	assertClose(t, "short pnl", UnrealizedPnL(short, 110), -20, 1e-9)
	assertClose(t, "notional", Notional(short, 50), 100, 1e-9)
}

func TestTradeTracker(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	tr := NewTradeTracker(nil)

	if got := tr.Observe(nil, 100, now); got.Changed() || got.Holding {
		t.Fatalf("flat → flat: %+v", got)
	}

	long := &model.Position{Symbol: "BTCUSDT", Side: model.Buy, EntryPrice: 100, Size: 1}
	got := tr.Observe(long, 101, now)
	if !got.Opened || got.Closed || got.Entry != 100 || !got.Holding {
		t.Fatalf("open: %+v", got)
	}
	assertClose(t, "open pnl", got.Open, 1, 1e-9)

	got = tr.Observe(long, 105, now)
	if got.Changed() {
		t.Fatalf("hold: %+v", got)
	}

	short := &model.Position{Symbol: "BTCUSDT", Side: model.Sell, EntryPrice: 104, Size: 1}
	got = tr.Observe(short, 104, now)
	if !got.Opened || !got.Closed || got.Entry != 104 {
		t.Fatalf("reverse: %+v", got)
	}
	assertClose(t, "reverse realized", got.Realized, 4, 1e-9)

	got = tr.Observe(nil, 100, now)
	if !got.Closed || got.Opened || got.Holding {
		t.Fatalf("close: %+v", got)
	}
	assertClose(t, "close realized", got.Realized, 4, 1e-9)

	sum := tr.Summary()
	if sum.ClosedTrades != 2 || sum.Holding {
		t.Errorf("summary: %+v", sum)
	}
	assertClose(t, "total realized", sum.RealizedPnL, 8, 1e-9)
	if tr.Current() != nil {
		t.Error("Current() should be nil when flat")
	}
}
