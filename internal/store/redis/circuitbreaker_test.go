package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// fakeClock is advanced by hand.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(max int, reset time.Duration) (*CircuitBreaker, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	cb := NewCircuitBreaker(max, reset)
	cb.now = clk.now
	return cb, clk
}

var errFail = errors.New("fail")

// ────────────────────────────────────────────────────────────
// CircuitBreaker
// ────────────────────────────────────────────────────────────

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)
	if cb.CurrentState() != StateClosed {
		t.Errorf("expected Closed, got %v", cb.CurrentState())
	}
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)

	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return errFail }); err != errFail {
			t.Fatalf("expected errFail, got %v", err)
		}
	}
	if cb.CurrentState() != StateOpen {
		t.Errorf("expected Open after 3 failures, got %v", cb.CurrentState())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if err != ErrCircuitOpen || called {
		t.Errorf("expected ErrCircuitOpen without calling fn, got %v (called=%v)", err, called)
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb, clk := newTestBreaker(2, time.Second)
	for i := 0; i < 2; i++ {
		cb.Execute(func() error { return errFail })
	}

	clk.advance(500 * time.Millisecond)
	if err := cb.Execute(func() error { return nil }); err != ErrCircuitOpen {
		t.Fatalf("before timeout: expected ErrCircuitOpen, got %v", err)
	}

	clk.advance(600 * time.Millisecond)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe: expected nil, got %v", err)
	}
	if cb.CurrentState() != StateClosed {
		t.Errorf("expected Closed after successful probe, got %v", cb.CurrentState())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clk := newTestBreaker(2, time.Second)
	for i := 0; i < 2; i++ {
		cb.Execute(func() error { return errFail })
	}

	clk.advance(2 * time.Second)
	cb.Execute(func() error { return errFail })
	if cb.CurrentState() != StateOpen {
		t.Errorf("expected Open after failed probe, got %v", cb.CurrentState())
	}

	// The reset period restarts from the failed probe.
	clk.advance(500 * time.Millisecond)
	if err := cb.Execute(func() error { return nil }); err != ErrCircuitOpen {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_SingleProbe(t *testing.T) {
	cb, clk := newTestBreaker(1, time.Second)
	cb.Execute(func() error { return errFail })
	clk.advance(2 * time.Second)

	var inner error
	cb.Execute(func() error {
		inner = cb.Execute(func() error { return nil })
		return nil
	})
	if inner != ErrCircuitOpen {
		t.Errorf("concurrent call during probe: got %v, want ErrCircuitOpen", inner)
	}
	if cb.CurrentState() != StateClosed {
		t.Errorf("expected Closed, got %v", cb.CurrentState())
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)

	cb.Execute(func() error { return errFail })
	cb.Execute(func() error { return errFail })
	cb.Execute(func() error { return nil })
	cb.Execute(func() error { return errFail })
	cb.Execute(func() error { return errFail })

	if cb.CurrentState() != StateClosed {
		t.Errorf("expected Closed (counter should have reset), got %v", cb.CurrentState())
	}
}

func TestCircuitBreaker_OnStateChangeCallback(t *testing.T) {
	var transitions []State
	cb, clk := newTestBreaker(1, time.Second)
	cb.OnStateChange = func(from, to State) {
		transitions = append(transitions, to)
	}

	cb.Execute(func() error { return errFail })
	if len(transitions) != 1 || transitions[0] != StateOpen {
		t.Errorf("expected [Open], got %v", transitions)
	}

	clk.advance(2 * time.Second)
	cb.Execute(func() error { return nil })

	if len(transitions) != 3 {
		t.Fatalf("expected 3 transitions, got %d: %v", len(transitions), transitions)
	}
	if transitions[1] != StateHalfOpen || transitions[2] != StateClosed {
		t.Errorf("expected [Open, HalfOpen, Closed], got %v", transitions)
	}
}

func TestCircuitBreaker_CancelledCallsDoNotCount(t *testing.T) {
	cb, clk := newTestBreaker(2, time.Second)

	for i := 0; i < 5; i++ {
		cb.Execute(func() error { return context.Canceled })
	}
	if cb.CurrentState() != StateClosed {
		t.Fatalf("expected Closed after cancelled calls, got %v", cb.CurrentState())
	}

	cb.Execute(func() error { return errFail })
	cb.Execute(func() error { return errFail })
	clk.advance(2 * time.Second)

	// A cancelled trial leaves room for another one.
	cb.Execute(func() error { return context.DeadlineExceeded })
	if cb.CurrentState() != StateHalfOpen {
		t.Fatalf("expected HalfOpen, got %v", cb.CurrentState())
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("second trial refused: %v", err)
	}
	if cb.CurrentState() != StateClosed {
		t.Errorf("expected Closed, got %v", cb.CurrentState())
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(9), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String()=%q, want %q", tt.s, got, tt.want)
		}
	}
}

// ────────────────────────────────────────────────────────────
// Cache against an unreachable server
// ────────────────────────────────────────────────────────────

func TestCache_UnreachableTripsBreaker(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	c := NewCache(client, Config{MaxFailures: 2, ResetTimeout: time.Minute}, nil)
	ctx := context.Background()

	var v struct{ X int }
	for i := 0; i < 2; i++ {
		if _, err := c.Get(ctx, "k", &v); err == nil {
			t.Fatalf("attempt %d: expected connection error", i)
		}
	}
	if c.Breaker().CurrentState() != StateOpen {
		t.Fatalf("breaker = %v, want open", c.Breaker().CurrentState())
	}

	hit, err := c.Get(ctx, "k", &v)
	if hit || !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Get = %v, %v; want miss with ErrCircuitOpen", hit, err)
	}
	if err := c.Set(ctx, "k", v, time.Minute); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Set err = %v, want ErrCircuitOpen", err)
	}
}
