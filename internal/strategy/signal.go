// Package strategy turns a candle window into a directional signal.
//
// The multi-indicator rules track three confirmation slots per direction
// (graphic breakout, stochastic crossover, A/D oscillator zero-cross) over a
// short trailing window. A direction fires only when all three are set and
// the latest close sits on the right side of the moving average.
package strategy

import (
	"strings"

	"bybit-techbot/internal/model"
)

// Signal is the evaluator's verdict for one pass.
type Signal int

const (
	Flat Signal = iota
	Long
	Short
)

func (s Signal) String() string {
	switch s {
	case Long:
		return "LONG"
	case Short:
		return "SHORT"
	default:
		return "FLAT"
	}
}

// Side returns the order side that opens the signal's direction.
func (s Signal) Side() (model.Side, bool) {
	switch s {
	case Long:
		return model.Buy, true
	case Short:
		return model.Sell, true
	}
	return "", false
}

// Confirmation slots.
const (
	SlotGraphic = iota
	SlotOscillator
	SlotVolumeFlow
	numSlots
)

// SignalState holds one direction's confirmation flags.
type SignalState [numSlots]bool

// All reports whether every slot is set.
func (s SignalState) All() bool {
	for _, v := range s {
		if !v {
			return false
		}
	}
	return true
}

// Any reports whether at least one slot is set.
func (s SignalState) Any() bool {
	for _, v := range s {
		if v {
			return true
		}
	}
	return false
}

// String renders the flags as e.g. "[1 0 1]".
func (s SignalState) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range s {
		if i > 0 {
			b.WriteByte(' ')
		}
		if v {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	b.WriteByte(']')
	return b.String()
}
