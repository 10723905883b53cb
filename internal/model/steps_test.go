package model

import (
	"errors"
	"fmt"
	"testing"
)

func TestRoundToStep(t *testing.T) {
	tests := []struct {
		v, step, want float64
	}{
		{99.87, 0.1, 99.9},
		{99.84, 0.1, 99.8},
		{612.345, 0.01, 612.35},
		{0.30000000000000004, 0.1, 0.3},
		{123.4, 0, 123.4},
		{17, 5, 15},
	}
	for _, tt := range tests {
		if got := RoundToStep(tt.v, tt.step); got != tt.want {
			t.Errorf("RoundToStep(%v, %v) = %v, want %v", tt.v, tt.step, got, tt.want)
		}
	}
}

func TestFloorToStep(t *testing.T) {
	tests := []struct {
		v, step, want float64
	}{
		{1.239, 0.01, 1.23},
		{0.999, 0.1, 0.9},
		{7, 2, 6},
		{0.05, 0.1, 0},
		{3.3, 0, 3.3},
	}
	for _, tt := range tests {
		if got := FloorToStep(tt.v, tt.step); got != tt.want {
			t.Errorf("FloorToStep(%v, %v) = %v, want %v", tt.v, tt.step, got, tt.want)
		}
	}
}

func TestStepString(t *testing.T) {
	tests := []struct {
		v, step float64
		want    string
	}{
		{1.2, 0.01, "1.20"},
		{612.3, 0.1, "612.3"},
		{3, 1, "3"},
		{0.5, 0, "0.5"},
	}
	for _, tt := range tests {
		if got := StepString(tt.v, tt.step); got != tt.want {
			t.Errorf("StepString(%v, %v) = %q, want %q", tt.v, tt.step, got, tt.want)
		}
	}
}

func TestSideOpposite(t *testing.T) {
	if Buy.Opposite() != Sell || Sell.Opposite() != Buy {
		t.Errorf("Opposite broken: %s %s", Buy.Opposite(), Sell.Opposite())
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "none"},
		{fmt.Errorf("fetch: %w", ErrUpstreamUnavailable), "upstream_unavailable"},
		{fmt.Errorf("size: %w", ErrInvalidSizing), "invalid_sizing"},
		{ErrOrderRejected, "order_rejected"},
		{errors.New("boom"), "other"},
	}
	for _, tt := range tests {
		if got := Kind(tt.err); got != tt.want {
			t.Errorf("Kind(%v) = %q, want %q", tt.err, got, tt.want)
		}
		if known := IsKnown(tt.err); known != (tt.want != "none" && tt.want != "other") {
			t.Errorf("IsKnown(%v) = %v", tt.err, known)
		}
	}
}

func TestPositionSides(t *testing.T) {
	var flat *Position
	if flat.Long() || flat.Short() {
		t.Error("nil position must be neither long nor short")
	}
	long := &Position{Side: Buy}
	if !long.Long() || long.Short() {
		t.Error("buy position must be long")
	}
}
