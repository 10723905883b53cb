package portfolio

import (
	"context"
	"fmt"
	"math"

	"bybit-techbot/internal/model"
)

// RiskLimits are the per-strategy sizing knobs.
type RiskLimits struct {
	Leverage        float64 `json:"leverage"`
	CapitalFraction float64 `json:"capital_fraction"` // tradeable share of the deposit, (0, 1]
	MaxLossPercent  float64 `json:"max_loss_percent"` // loss at the stop as % of scaled capital
}

// DefaultRiskLimits returns leverage 1, the whole deposit and a 2% loss cap.
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		Leverage:        1,
		CapitalFraction: 1,
		MaxLossPercent:  2,
	}
}

// SizingInput is everything SizeOrder needs; it does no I/O.
type SizingInput struct {
	Capital    float64 // available withdrawable capital
	TakerFee   float64 // e.g. 0.00055
	OrderPrice float64
	StopPrice  float64
	Position   *model.Position // nil when flat
	Limits     RiskLimits
}

// SizeOrder returns the largest quantity whose loss between OrderPrice and
// StopPrice stays within MaxLossPercent of the allocated capital, capped by
// what the capital can carry at the configured leverage.
//
//  1. capital -= capital * lev * fee                  (open, taker)
//  2. capital -= capital * lev * (1 + 1/lev) * fee    (close, worst case)
//  3. capital += margin + PnL at OrderPrice           (when reversing a position)
//  4. capital *= fraction
//  5. risk = capital * maxLoss/100 / |order - stop|
//  6. cap  = capital * lev / order
//
// The result is risk when risk*order/lev < capital, otherwise cap.
func SizeOrder(in SizingInput) (float64, error) {
	lim := in.Limits
	switch {
	case lim.Leverage <= 0:
		return 0, fmt.Errorf("portfolio: leverage %g: %w", lim.Leverage, model.ErrInvalidSizing)
	case lim.CapitalFraction <= 0 || lim.CapitalFraction > 1:
		return 0, fmt.Errorf("portfolio: capital fraction %g: %w", lim.CapitalFraction, model.ErrInvalidSizing)
	case lim.MaxLossPercent <= 0:
		return 0, fmt.Errorf("portfolio: max loss percent %g: %w", lim.MaxLossPercent, model.ErrInvalidSizing)
	case in.TakerFee < 0:
		return 0, fmt.Errorf("portfolio: taker fee %g: %w", in.TakerFee, model.ErrInvalidSizing)
	case in.OrderPrice <= 0:
		return 0, fmt.Errorf("portfolio: order price %g: %w", in.OrderPrice, model.ErrInvalidSizing)
	case in.OrderPrice == in.StopPrice:
		return 0, fmt.Errorf("portfolio: order price equals stop price %g: %w", in.OrderPrice, model.ErrInvalidSizing)
	}

	lev := lim.Leverage
	capital := in.Capital
	capital -= capital * lev * in.TakerFee
	capital -= capital * lev * (1 + 1/lev) * in.TakerFee

	if in.Position != nil {
		capital += Margin(in.Position, lev) + UnrealizedPnL(in.Position, in.OrderPrice)
	}

	capital *= lim.CapitalFraction
	if capital <= 0 {
		return 0, fmt.Errorf("portfolio: no capital after adjustments (%g): %w", capital, model.ErrInvalidSizing)
	}

	riskQty := (capital * lim.MaxLossPercent / 100) / math.Abs(in.OrderPrice-in.StopPrice)
	qty := riskQty
	if riskQty*in.OrderPrice/lev >= capital {
		qty = capital * lev / in.OrderPrice
	}

	if qty <= 0 || math.IsNaN(qty) || math.IsInf(qty, 0) {
		return 0, fmt.Errorf("portfolio: computed qty %g: %w", qty, model.ErrInvalidSizing)
	}
	return qty, nil
}

// PositionSizer binds RiskLimits to a live account.
type PositionSizer struct {
	account model.ExchangeAccount
	limits  RiskLimits
}

// NewPositionSizer creates a sizer for the given account and limits.
func NewPositionSizer(account model.ExchangeAccount, limits RiskLimits) *PositionSizer {
	return &PositionSizer{account: account, limits: limits}
}

// Limits returns the sizer's limits.
func (ps *PositionSizer) Limits() RiskLimits { return ps.limits }

// Size fetches capital and the taker fee for symbol, then runs SizeOrder.
// A failed fetch is ErrUpstreamUnavailable; it never degrades to a zero qty.
func (ps *PositionSizer) Size(ctx context.Context, symbol string, orderPrice, stopPrice float64, pos *model.Position) (float64, error) {
	capital, err := ps.account.AvailableCapital(ctx)
	if err != nil {
		return 0, fmt.Errorf("portfolio: available capital: %w", upstream(err))
	}
	fee, err := ps.account.TakerFee(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("portfolio: taker fee %s: %w", symbol, upstream(err))
	}

	return SizeOrder(SizingInput{
		Capital:    capital,
		TakerFee:   fee,
		OrderPrice: orderPrice,
		StopPrice:  stopPrice,
		Position:   pos,
		Limits:     ps.limits,
	})
}

// upstream tags err as ErrUpstreamUnavailable unless it already carries a
// taxonomy kind.
func upstream(err error) error {
	if model.IsKnown(err) {
		return err
	}
	return fmt.Errorf("%w: %w", model.ErrUpstreamUnavailable, err)
}
