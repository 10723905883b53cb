// Package schedule computes kline boundaries for the polling loop.
//
// All boundaries are in UTC, the way Bybit buckets klines: minute intervals
// align to UTC midnight, "D" to midnight and "W" to Monday midnight.
package schedule

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

const (
	Day  = 24 * time.Hour
	Week = 7 * Day
)

// minuteIntervals are the minute kline intervals Bybit serves.
var minuteIntervals = map[int]bool{1: true, 3: true, 5: true, 15: true, 30: true, 60: true, 120: true, 240: true, 360: true, 720: true}

// Timeframe is a kline interval.
type Timeframe struct {
	Interval string        // Bybit spelling: "1", "60", "D", "W"
	Period   time.Duration // bucket length
}

// ParseTimeframe parses a Bybit interval.
func ParseTimeframe(s string) (Timeframe, error) {
	switch s {
	case "D":
		return Timeframe{Interval: s, Period: Day}, nil
	case "W":
		return Timeframe{Interval: s, Period: Week}, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || !minuteIntervals[n] {
		return Timeframe{}, fmt.Errorf("schedule: unsupported timeframe %q", s)
	}
	return Timeframe{Interval: s, Period: time.Duration(n) * time.Minute}, nil
}

// MustParse is ParseTimeframe for constants.
func MustParse(s string) Timeframe {
	tf, err := ParseTimeframe(s)
	if err != nil {
		panic(err)
	}
	return tf
}

// Next returns the first boundary strictly after t.
func (tf Timeframe) Next(t time.Time) time.Time {
	// Truncate counts from the zero time, 0001-01-01 UTC, a Monday at
	// midnight, so day and week buckets line up with Bybit's.
	return t.UTC().Truncate(tf.Period).Add(tf.Period)
}

// Due reports whether t is exactly on a boundary of tf.
func (tf Timeframe) Due(t time.Time) bool {
	t = t.UTC()
	return t.Truncate(tf.Period).Equal(t)
}

// String returns a short human label, e.g. "15m", "1h", "1D".
func (tf Timeframe) String() string {
	switch {
	case tf.Period == Week:
		return "1W"
	case tf.Period == Day:
		return "1D"
	case tf.Period >= time.Hour && tf.Period%time.Hour == 0:
		return fmt.Sprintf("%dh", tf.Period/time.Hour)
	default:
		return fmt.Sprintf("%dm", tf.Period/time.Minute)
	}
}

// Due reports whether boundary b closes a candle of the interval s.
// Unknown intervals are never due.
func Due(b time.Time, s string) bool {
	tf, err := ParseTimeframe(s)
	if err != nil {
		return false
	}
	return tf.Due(b)
}

// NextTick returns the next minute boundary whose wake time, lead before
// it, is still after now.
func NextTick(now time.Time, lead time.Duration) (boundary, wake time.Time) {
	if lead < 0 {
		lead = 0
	}
	if lead >= time.Minute {
		lead = time.Minute - time.Second
	}
	boundary = now.UTC().Add(lead).Truncate(time.Minute).Add(time.Minute)
	return boundary, boundary.Add(-lead)
}

// Sleep blocks until the wall clock reaches until or ctx is done.
func Sleep(ctx context.Context, until time.Time) error {
	d := time.Until(until)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
