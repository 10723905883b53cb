package model

import "github.com/shopspring/decimal"

// RoundToStep rounds v to the nearest multiple of step.
// Arithmetic is done in decimal so 0.1-style steps do not drift.
// A non-positive step returns v unchanged.
func RoundToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	s := decimal.NewFromFloat(step)
	f, _ := decimal.NewFromFloat(v).Div(s).Round(0).Mul(s).Float64()
	return f
}

// FloorToStep rounds v down to a multiple of step.
func FloorToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	s := decimal.NewFromFloat(step)
	f, _ := decimal.NewFromFloat(v).Div(s).Floor().Mul(s).Float64()
	return f
}

// StepString formats v with exactly as many decimals as step has,
// which is the form Bybit expects for price and qty fields.
func StepString(v, step float64) string {
	d := decimal.NewFromFloat(v)
	if step <= 0 {
		return d.String()
	}
	places := -decimal.NewFromFloat(step).Exponent()
	if places < 0 {
		places = 0
	}
	return d.StringFixed(places)
}
