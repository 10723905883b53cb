package sqldb

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	s.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func mustUser(t *testing.T, s *Store, tg int64) *User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), tg, "key", "secret")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

var btc = TradeSettings{CoinName: "BTCUSDT", Leverage: 5, Timeframe: "15", DepoProcent: 10}

func TestSQLiteDSN(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{":memory:", ":memory:?_foreign_keys=on"},
		{"bot.db", "bot.db?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"},
		{"bot.db?_fk=1", "bot.db?_fk=1&_journal_mode=WAL&_busy_timeout=5000"},
	}
	for _, tt := range tests {
		if got := sqliteDSN(tt.in); got != tt.want {
			t.Errorf("sqliteDSN(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "mysql", "x"); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Errorf("second Migrate: %v", err)
	}
}

// ────────────────────────────────────────────────────────────
// Users
// ────────────────────────────────────────────────────────────

func TestCreateUser_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := mustUser(t, s, 42)
	again, err := s.CreateUser(ctx, 42, "other", "other")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if again.ID != first.ID || again.APIKey != "key" {
		t.Errorf("second CreateUser = %+v, want the existing user %+v", again, first)
	}

	got, err := s.GetUser(ctx, 42)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.APISecret != "secret" || !got.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("GetUser = %+v", got)
	}
}

func TestGetUser_NotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetUser(context.Background(), 7); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateUserKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustUser(t, s, 1)

	if _, err := s.UpdateUserKeys(ctx, 1, "new-key", ""); err != nil {
		t.Fatalf("UpdateUserKeys: %v", err)
	}
	u, _ := s.GetUser(ctx, 1)
	if u.APIKey != "new-key" || u.APISecret != "secret" {
		t.Errorf("keys = %q/%q, want new-key/secret", u.APIKey, u.APISecret)
	}
}

func TestDeleteUser_CascadesAndPrunes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustUser(t, s, 1)
	tr, err := s.CreateTradeWithStrategy(ctx, 1, btc)
	if err != nil {
		t.Fatalf("CreateTradeWithStrategy: %v", err)
	}

	if err := s.DeleteUser(ctx, 1); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, err := s.GetBot(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("bot after delete: err = %v, want ErrNotFound", err)
	}
	if _, err := s.GetTrade(ctx, tr.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("trade after delete: err = %v, want ErrNotFound", err)
	}
	if _, err := s.GetStrategy(ctx, tr.StrategyID.Int64); !errors.Is(err, ErrNotFound) {
		t.Errorf("strategy after delete: err = %v, want ErrNotFound", err)
	}
	if err := s.DeleteUser(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteUser: err = %v, want ErrNotFound", err)
	}
}

// ────────────────────────────────────────────────────────────
// Bots
// ────────────────────────────────────────────────────────────

func TestCreateBot_OnePerUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustUser(t, s, 1)

	b1, err := s.CreateBot(ctx, 1, 100)
	if err != nil {
		t.Fatalf("CreateBot: %v", err)
	}
	b2, err := s.CreateBot(ctx, 1, 500)
	if err != nil {
		t.Fatalf("CreateBot: %v", err)
	}
	if b1.ID != b2.ID || b2.CurrentBalance != 100 {
		t.Errorf("second CreateBot = %+v, want existing bot %+v", b2, b1)
	}

	if _, err := s.CreateBot(ctx, 99, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("CreateBot for unknown user: err = %v, want ErrNotFound", err)
	}
}

func TestSyncBotBalance_AccumulatesPnL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustUser(t, s, 1)
	s.CreateBot(ctx, 1, 100)

	steps := []struct {
		balance, wantPnL float64
	}{
		{110, 10},
		{105, 5},
		{130, 30},
	}
	for _, st := range steps {
		b, err := s.SyncBotBalance(ctx, 1, st.balance)
		if err != nil {
			t.Fatalf("SyncBotBalance(%v): %v", st.balance, err)
		}
		if b.CurrentBalance != st.balance || b.AllTimePnL != st.wantPnL {
			t.Errorf("after %v: balance=%v pnl=%v, want pnl %v", st.balance, b.CurrentBalance, b.AllTimePnL, st.wantPnL)
		}
	}
}

func TestUpdateBot_RunningFlag(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustUser(t, s, 1)
	mustUser(t, s, 2)
	s.CreateBot(ctx, 1, 0)
	s.CreateBot(ctx, 2, 0)

	on, off := true, false
	if _, err := s.UpdateBot(ctx, 1, BotUpdate{IsRunning: &on}); err != nil {
		t.Fatalf("UpdateBot: %v", err)
	}
	if _, err := s.UpdateBot(ctx, 2, BotUpdate{IsRunning: &on}); err != nil {
		t.Fatalf("UpdateBot: %v", err)
	}
	b, err := s.UpdateBot(ctx, 2, BotUpdate{IsRunning: &off})
	if err != nil {
		t.Fatalf("UpdateBot: %v", err)
	}
	if b.IsRunning {
		t.Error("running flag was not cleared")
	}

	ids, err := s.RunningUsers(ctx)
	if err != nil {
		t.Fatalf("RunningUsers: %v", err)
	}
	if len(ids) != 1 || ids[0] != 1 {
		t.Errorf("RunningUsers = %v, want [1]", ids)
	}

	n, err := s.ResetRunning(ctx)
	if err != nil || n != 1 {
		t.Fatalf("ResetRunning = %d, %v; want 1", n, err)
	}
	got, _ := s.GetBot(ctx, 1)
	if got.IsRunning {
		t.Error("bot still running after ResetRunning")
	}
}

// ────────────────────────────────────────────────────────────
// Strategies
// ────────────────────────────────────────────────────────────

func TestGetOrCreateTradeSettings_SharesRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.GetOrCreateTradeSettings(ctx, btc)
	if err != nil {
		t.Fatalf("GetOrCreateTradeSettings: %v", err)
	}
	b, _ := s.GetOrCreateTradeSettings(ctx, btc)
	if a.ID != b.ID {
		t.Errorf("identical settings got ids %d and %d", a.ID, b.ID)
	}

	other := btc
	other.DepoProcent = 20
	c, _ := s.GetOrCreateTradeSettings(ctx, other)
	if c.ID == a.ID {
		t.Error("different settings share a row")
	}
}

func TestCreateTradeWithStrategy(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustUser(t, s, 1)

	tr, err := s.CreateTradeWithStrategy(ctx, 1, btc)
	if err != nil {
		t.Fatalf("CreateTradeWithStrategy: %v", err)
	}
	if tr.IsActive || !tr.StrategyID.Valid {
		t.Errorf("trade = %+v, want inactive with strategy", tr)
	}
	if _, err := s.GetBot(ctx, 1); err != nil {
		t.Errorf("bot not created: %v", err)
	}
	if _, err := s.CreateTradeWithStrategy(ctx, 2, btc); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown user: err = %v, want ErrNotFound", err)
	}
}

func TestGetUserStrategies_DistinctInIDOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustUser(t, s, 1)
	mustUser(t, s, 2)

	eth := TradeSettings{CoinName: "ETHUSDT", Leverage: 3, Timeframe: "60", DepoProcent: 50}
	s.CreateTradeWithStrategy(ctx, 1, btc)
	s.CreateTradeWithStrategy(ctx, 1, eth)
	s.CreateTradeWithStrategy(ctx, 1, btc)
	s.CreateTradeWithStrategy(ctx, 2, TradeSettings{CoinName: "SOLUSDT", Leverage: 1, Timeframe: "D", DepoProcent: 5})

	got, err := s.GetUserStrategies(ctx, 1)
	if err != nil {
		t.Fatalf("GetUserStrategies: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d strategies, want 2: %+v", len(got), got)
	}
	if got[0].CoinName != "BTCUSDT" || got[1].CoinName != "ETHUSDT" || got[0].ID >= got[1].ID {
		t.Errorf("strategies = %+v", got)
	}

	none, err := s.GetUserStrategies(ctx, 3)
	if err != nil || len(none) != 0 {
		t.Errorf("unknown user: %v, %v", none, err)
	}
}

func TestUpdateTradeSettings(t *testing.T) {
	ctx := context.Background()

	t.Run("unchanged", func(t *testing.T) {
		s := newTestStore(t)
		mustUser(t, s, 1)
		tr, _ := s.CreateTradeWithStrategy(ctx, 1, btc)
		got, err := s.UpdateTradeSettings(ctx, 1, tr.StrategyID.Int64, btc)
		if err != nil || got.ID != tr.StrategyID.Int64 {
			t.Errorf("got %+v, %v", got, err)
		}
	})

	t.Run("repoints to existing row", func(t *testing.T) {
		s := newTestStore(t)
		mustUser(t, s, 1)
		mustUser(t, s, 2)
		target := btc
		target.Leverage = 10
		other, _ := s.CreateTradeWithStrategy(ctx, 2, target)
		tr, _ := s.CreateTradeWithStrategy(ctx, 1, btc)

		got, err := s.UpdateTradeSettings(ctx, 1, tr.StrategyID.Int64, target)
		if err != nil {
			t.Fatalf("UpdateTradeSettings: %v", err)
		}
		if got.ID != other.StrategyID.Int64 {
			t.Errorf("got id %d, want existing %d", got.ID, other.StrategyID.Int64)
		}
		moved, _ := s.GetTrade(ctx, tr.ID)
		if moved.StrategyID.Int64 != other.StrategyID.Int64 {
			t.Errorf("trade strategy = %d, want %d", moved.StrategyID.Int64, other.StrategyID.Int64)
		}
		if _, err := s.GetStrategy(ctx, tr.StrategyID.Int64); !errors.Is(err, ErrNotFound) {
			t.Errorf("old row still present: err = %v", err)
		}
	})

	t.Run("shared row is forked, not edited", func(t *testing.T) {
		s := newTestStore(t)
		mustUser(t, s, 1)
		mustUser(t, s, 2)
		mine, _ := s.CreateTradeWithStrategy(ctx, 1, btc)
		theirs, _ := s.CreateTradeWithStrategy(ctx, 2, btc)
		if mine.StrategyID != theirs.StrategyID {
			t.Fatalf("identical strategies not shared: %d vs %d", mine.StrategyID.Int64, theirs.StrategyID.Int64)
		}

		got, err := s.UpdateTradeSettings(ctx, 1, mine.StrategyID.Int64, TradeSettings{Leverage: 20})
		if err != nil {
			t.Fatalf("UpdateTradeSettings: %v", err)
		}
		if got.ID == mine.StrategyID.Int64 || got.Leverage != 20 || got.CoinName != btc.CoinName {
			t.Errorf("got %+v, want a new BTCUSDT row at 20x", *got)
		}

		others, err := s.GetUserStrategies(ctx, 2)
		if err != nil {
			t.Fatalf("GetUserStrategies: %v", err)
		}
		want := btc
		want.ID = theirs.StrategyID.Int64
		if len(others) != 1 || others[0] != want {
			t.Errorf("user 2 strategies = %+v, want [%+v]", others, want)
		}
		moved, _ := s.GetTrade(ctx, mine.ID)
		if moved.StrategyID.Int64 != got.ID {
			t.Errorf("user 1 trade strategy = %d, want %d", moved.StrategyID.Int64, got.ID)
		}
	})

	t.Run("edits in place", func(t *testing.T) {
		s := newTestStore(t)
		mustUser(t, s, 1)
		tr, _ := s.CreateTradeWithStrategy(ctx, 1, btc)

		got, err := s.UpdateTradeSettings(ctx, 1, tr.StrategyID.Int64, TradeSettings{DepoProcent: 25})
		if err != nil {
			t.Fatalf("UpdateTradeSettings: %v", err)
		}
		want := btc
		want.ID, want.DepoProcent = tr.StrategyID.Int64, 25
		if *got != want {
			t.Errorf("got %+v, want %+v", *got, want)
		}
		stored, _ := s.GetStrategy(ctx, want.ID)
		if *stored != want {
			t.Errorf("stored %+v, want %+v", *stored, want)
		}
	})

	t.Run("unknown strategy", func(t *testing.T) {
		s := newTestStore(t)
		mustUser(t, s, 1)
		if _, err := s.UpdateTradeSettings(ctx, 1, 77, btc); !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestDeleteStrategy(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustUser(t, s, 1)
	mustUser(t, s, 2)
	mine, _ := s.CreateTradeWithStrategy(ctx, 1, btc)
	s.CreateTradeWithStrategy(ctx, 1, btc)
	theirs, _ := s.CreateTradeWithStrategy(ctx, 2, btc)
	id := mine.StrategyID.Int64

	n, err := s.DeleteStrategy(ctx, 1, id)
	if err != nil || n != 2 {
		t.Fatalf("DeleteStrategy = %d, %v; want 2", n, err)
	}
	if _, err := s.GetStrategy(ctx, id); err != nil {
		t.Errorf("strategy still used by user 2 was removed: %v", err)
	}

	if _, err := s.DeleteStrategy(ctx, 2, id); err != nil {
		t.Fatalf("DeleteStrategy: %v", err)
	}
	if _, err := s.GetStrategy(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("orphan strategy kept: err = %v", err)
	}
	if _, err := s.GetTrade(ctx, theirs.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("trade kept: err = %v", err)
	}
}

// ────────────────────────────────────────────────────────────
// Trades
// ────────────────────────────────────────────────────────────

func TestTradeLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustUser(t, s, 1)
	tr, _ := s.CreateTradeWithStrategy(ctx, 1, btc)

	if _, err := s.CloseTrade(ctx, tr.ID, nil); !errors.Is(err, ErrTradeState) {
		t.Errorf("closing inactive trade: err = %v, want ErrTradeState", err)
	}

	opened, err := s.OpenTrade(ctx, tr.ID, 101.5)
	if err != nil {
		t.Fatalf("OpenTrade: %v", err)
	}
	if !opened.IsActive || opened.EntryPrice.Float64 != 101.5 || !opened.OpenedAt.Valid {
		t.Errorf("opened = %+v", opened)
	}
	if _, err := s.OpenTrade(ctx, tr.ID, 99); !errors.Is(err, ErrTradeState) {
		t.Errorf("opening active trade: err = %v, want ErrTradeState", err)
	}

	if err := s.UpdateTradePnL(ctx, tr.ID, 3.5); err != nil {
		t.Fatalf("UpdateTradePnL: %v", err)
	}
	closed, err := s.CloseTrade(ctx, tr.ID, nil)
	if err != nil {
		t.Fatalf("CloseTrade: %v", err)
	}
	if closed.IsActive || !closed.ClosedAt.Valid || closed.CurrentPnL.Float64 != 3.5 {
		t.Errorf("closed = %+v, want inactive with pnl kept at 3.5", closed)
	}

	reopened, _ := s.OpenTrade(ctx, tr.ID, 110)
	pnl := -2.0
	closed, err = s.CloseTrade(ctx, reopened.ID, &pnl)
	if err != nil {
		t.Fatalf("CloseTrade: %v", err)
	}
	stored, _ := s.GetTrade(ctx, tr.ID)
	if stored.CurrentPnL.Float64 != -2 || stored.EntryPrice.Float64 != 110 || stored.IsActive {
		t.Errorf("stored = %+v", stored)
	}
}

func TestTradeFor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustUser(t, s, 1)
	first, _ := s.CreateTradeWithStrategy(ctx, 1, btc)
	s.CreateTradeWithStrategy(ctx, 1, btc)

	got, err := s.TradeFor(ctx, 1, first.StrategyID.Int64)
	if err != nil {
		t.Fatalf("TradeFor: %v", err)
	}
	if got.ID != first.ID {
		t.Errorf("TradeFor = %d, want first trade %d", got.ID, first.ID)
	}

	all, _ := s.UserTrades(ctx, 1)
	if len(all) != 2 {
		t.Errorf("UserTrades = %d, want 2", len(all))
	}
}

func TestDeleteTrade_PrunesOrphanStrategy(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustUser(t, s, 1)
	tr, _ := s.CreateTradeWithStrategy(ctx, 1, btc)

	if err := s.DeleteTrade(ctx, tr.ID); err != nil {
		t.Fatalf("DeleteTrade: %v", err)
	}
	if _, err := s.GetStrategy(ctx, tr.StrategyID.Int64); !errors.Is(err, ErrNotFound) {
		t.Errorf("strategy kept: err = %v", err)
	}
	if err := s.UpdateTradePnL(ctx, tr.ID, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateTradePnL on deleted trade: err = %v, want ErrNotFound", err)
	}
}
