// Package bot runs the users' strategy instances.
//
// Manager owns a table of running instances keyed by Telegram chat id.
// Run wakes shortly before every minute boundary and, for each instance
// whose timeframe closes a candle at that boundary, runs one pass:
// balance check, evaluate-and-act, balance sync, trade lifecycle update.
// Instances run in parallel; passes of one instance never overlap.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"bybit-techbot/internal/execution"
	"bybit-techbot/internal/logger"
	"bybit-techbot/internal/metrics"
	"bybit-techbot/internal/model"
	"bybit-techbot/internal/notification"
	"bybit-techbot/internal/portfolio"
	"bybit-techbot/internal/schedule"
	"bybit-techbot/internal/store/sqldb"
	"bybit-techbot/internal/strategy"
)

var (
	ErrRunning    = errors.New("bot: already running")
	ErrNotRunning = errors.New("bot: not running")
)

// Store is the persistence the manager needs.
type Store interface {
	GetUser(ctx context.Context, telegramID int64) (*sqldb.User, error)
	GetStrategy(ctx context.Context, id int64) (*sqldb.TradeSettings, error)
	SyncBotBalance(ctx context.Context, telegramID int64, balance float64) (*sqldb.Bot, error)
	UpdateBot(ctx context.Context, telegramID int64, upd sqldb.BotUpdate) (*sqldb.Bot, error)
	TradeFor(ctx context.Context, telegramID, strategyID int64) (*sqldb.Trade, error)
	OpenTrade(ctx context.Context, id int64, entry float64) (*sqldb.Trade, error)
	CloseTrade(ctx context.Context, id int64, pnl *float64) (*sqldb.Trade, error)
	UpdateTradePnL(ctx context.Context, id int64, pnl float64) error
}

// Config configures a Manager. Everything but Base is optional.
type Config struct {
	Base        strategy.Params // per-strategy fields are overridden
	MaxFailures int             // consecutive failed passes before auto-stop; default 3
	Lead        time.Duration   // wake this long before each boundary; default 1s
	Journal     execution.Recorder
	Metrics     *metrics.Metrics
	Health      *metrics.HealthStatus
	Notify      notification.Notifier
	Logger      *slog.Logger
}

// Info describes a running instance.
type Info struct {
	ChatID    int64
	Strategy  sqldb.TradeSettings
	Timeframe schedule.Timeframe
	Balance   float64
	StartedAt time.Time
	Failures  int
	PnL       portfolio.PnLSummary
}

type instance struct {
	chatID    int64
	strategy  sqldb.TradeSettings
	tf        schedule.Timeframe
	session   Session
	exec      *execution.Executor
	tracker   *portfolio.TradeTracker
	tradeID   int64 // 0 when the strategy has no trade row
	startedAt time.Time
	cancel    context.CancelFunc
	log       *slog.Logger

	mu sync.Mutex // serializes passes

	stateMu  sync.Mutex
	failures int
	balance  float64
}

// Manager starts, stops and schedules strategy instances.
type Manager struct {
	cfg    Config
	store  Store
	opener Opener
	log    *slog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	instances map[int64]*instance
	streams   sync.WaitGroup
}

// NewManager creates a manager. It does not start anything.
func NewManager(store Store, opener Opener, cfg Config) *Manager {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Lead <= 0 {
		cfg.Lead = time.Second
	}
	l := cfg.Logger
	if l == nil {
		l = slog.Default()
	}
	return &Manager{
		cfg:       cfg,
		store:     store,
		opener:    opener,
		log:       l.With("component", "bot"),
		now:       time.Now,
		instances: make(map[int64]*instance),
	}
}

// Start launches strategy strategyID for the user. The balance is synced
// and the bot marked running before the instance joins the schedule.
func (m *Manager) Start(ctx context.Context, chatID, strategyID int64) (Info, error) {
	if _, ok := m.Running(chatID); ok {
		return Info{}, ErrRunning
	}

	user, err := m.store.GetUser(ctx, chatID)
	if err != nil {
		return Info{}, fmt.Errorf("bot: start %d: %w", chatID, err)
	}
	ts, err := m.store.GetStrategy(ctx, strategyID)
	if err != nil {
		return Info{}, fmt.Errorf("bot: start %d: %w", chatID, err)
	}
	tf, err := schedule.ParseTimeframe(ts.Timeframe)
	if err != nil {
		return Info{}, fmt.Errorf("bot: start %d: %w", chatID, err)
	}

	params := m.cfg.Base.ForTimeframe(ts.Timeframe)
	params.Leverage = float64(ts.Leverage)
	params.CapitalFraction = ts.DepoProcent / 100
	ev, err := strategy.NewEvaluator(params)
	if err != nil {
		return Info{}, fmt.Errorf("bot: start %d: %w", chatID, err)
	}

	sess, err := m.opener.Open(ctx, *user, *ts)
	if err != nil {
		return Info{}, fmt.Errorf("bot: start %d: open session: %w", chatID, err)
	}
	bal, err := sess.Balance(ctx)
	if err != nil {
		return Info{}, fmt.Errorf("bot: start %d: balance: %w", chatID, err)
	}
	if _, err := m.store.SyncBotBalance(ctx, chatID, bal); err != nil {
		return Info{}, fmt.Errorf("bot: start %d: %w", chatID, err)
	}
	m.cfg.Metrics.IncBalanceSynced()

	log := m.log.With("chat_id", chatID, "symbol", ts.CoinName, "timeframe", tf.String())
	src, acc, gw := sess.Ports()

	inst := &instance{
		chatID:    chatID,
		strategy:  *ts,
		tf:        tf,
		session:   sess,
		startedAt: m.now(),
		balance:   bal,
		log:       log,
		exec: execution.NewExecutor(ev, execution.Deps{
			Source:  src,
			Account: acc,
			Gateway: gw,
			Journal: m.cfg.Journal,
			Metrics: m.cfg.Metrics,
			Logger:  log,
		}),
	}

	switch tr, err := m.store.TradeFor(ctx, chatID, strategyID); {
	case err == nil:
		inst.tradeID = tr.ID
	case !errors.Is(err, sqldb.ErrNotFound):
		log.Warn("trade lookup failed, lifecycle not tracked", "error", err)
	}

	pos, err := acc.CurrentPosition(ctx, ts.CoinName)
	if err != nil {
		log.Warn("initial position unavailable", "error", err)
	}
	inst.tracker = portfolio.NewTradeTracker(pos)

	m.mu.Lock()
	if _, ok := m.instances[chatID]; ok {
		m.mu.Unlock()
		return Info{}, ErrRunning
	}
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	inst.cancel = cancel
	m.instances[chatID] = inst
	n := len(m.instances)
	m.mu.Unlock()

	running := true
	if _, err := m.store.UpdateBot(ctx, chatID, sqldb.BotUpdate{IsRunning: &running}); err != nil {
		m.remove(inst)
		cancel()
		return Info{}, fmt.Errorf("bot: start %d: %w", chatID, err)
	}
	m.setActive(n)

	m.streams.Add(1)
	go func() {
		defer m.streams.Done()
		err := sess.WatchOrders(streamCtx, func(u model.OrderUpdate) { m.onOrderUpdate(streamCtx, inst, u) })
		if err != nil && streamCtx.Err() == nil {
			log.Warn("order notifications stopped", "error", err)
		}
	}()

	log.Info("bot started", "strategy_id", strategyID, "balance", bal, "in_position", pos != nil)
	return inst.info(), nil
}

// Stop removes the user's instance, syncs the balance and clears the
// running flag. A pass already in flight finishes.
func (m *Manager) Stop(ctx context.Context, chatID int64) (Info, error) {
	m.mu.RLock()
	inst, ok := m.instances[chatID]
	m.mu.RUnlock()
	if !ok {
		return Info{}, ErrNotRunning
	}
	if !m.remove(inst) {
		return Info{}, ErrNotRunning
	}
	return m.shutdown(ctx, inst), nil
}

// Running returns the user's instance, if any.
func (m *Manager) Running(chatID int64) (Info, bool) {
	m.mu.RLock()
	inst, ok := m.instances[chatID]
	m.mu.RUnlock()
	if !ok {
		return Info{}, false
	}
	return inst.info(), true
}

// Active returns the running instances ordered by chat id.
func (m *Manager) Active() []Info {
	m.mu.RLock()
	out := make([]Info, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, inst.info())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out
}

// Run drives the schedule until ctx is cancelled, then stops every
// instance.
func (m *Manager) Run(ctx context.Context) error {
	m.log.Info("scheduler started", "lead", m.cfg.Lead)
	for {
		boundary, wake := schedule.NextTick(m.now(), m.cfg.Lead)
		if err := schedule.Sleep(ctx, wake); err != nil {
			break
		}
		m.Tick(ctx, boundary)
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	m.StopAll(shutCtx)
	m.log.Info("scheduler stopped")
	return nil
}

// Tick runs one pass for every instance whose timeframe closes a candle
// at boundary and waits for them. It returns the number of passes run.
func (m *Manager) Tick(ctx context.Context, boundary time.Time) int {
	m.mu.RLock()
	due := make([]*instance, 0, len(m.instances))
	for _, inst := range m.instances {
		if inst.tf.Due(boundary) {
			due = append(due, inst)
		}
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, inst := range due {
		wg.Add(1)
		go func(inst *instance) {
			defer wg.Done()
			m.pass(ctx, inst, boundary)
		}(inst)
	}
	wg.Wait()

	if m.cfg.Health != nil {
		m.cfg.Health.SetLastPass(boundary)
	}
	return len(due)
}

// StopAll stops every instance and waits for the order streams to end.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	all := make([]*instance, 0, len(m.instances))
	for id, inst := range m.instances {
		all = append(all, inst)
		delete(m.instances, id)
	}
	m.mu.Unlock()

	for _, inst := range all {
		m.shutdown(ctx, inst)
	}
	m.setActive(0)
	m.streams.Wait()
}

func (m *Manager) pass(ctx context.Context, inst *instance, boundary time.Time) {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	symbol := inst.strategy.CoinName
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(inst.chatID, symbol, boundary))
	log := logger.FromContext(ctx, inst.log)

	if _, err := inst.session.Balance(ctx); err != nil {
		m.fail(ctx, inst, fmt.Errorf("bot: balance check: %w", err), log)
		return
	}

	rep, err := inst.exec.EvaluateAndAct(ctx, symbol)
	if err != nil && countsAsFailure(err) {
		m.fail(ctx, inst, err, log)
		return
	}
	inst.resetFailures()

	if bal, err := inst.session.Balance(ctx); err != nil {
		log.Warn("balance sync skipped", "error", err)
	} else {
		m.syncBalance(ctx, inst, bal, log)
	}

	// An aborted or skipped pass has no reliable position snapshot.
	if err == nil && !rep.Skipped {
		m.track(ctx, inst, rep, boundary, log)
	}
}

// countsAsFailure reports whether a pass error counts toward auto-stop.
// Sizing and order refusals are the exchange answering normally.
func countsAsFailure(err error) bool {
	return !errors.Is(err, model.ErrInvalidSizing) && !errors.Is(err, model.ErrOrderRejected)
}

func (m *Manager) fail(ctx context.Context, inst *instance, err error, log *slog.Logger) {
	n := inst.addFailure()
	log.Error("pass failed", "error", err, "kind", model.Kind(err), "failures", n)
	if n < m.cfg.MaxFailures {
		return
	}
	if !m.remove(inst) {
		return
	}
	m.cfg.Metrics.IncAutoStops()
	log.Error("bot stopped after repeated failures", "failures", n)
	m.notify(ctx, notification.Alert{
		ChatID:  inst.chatID,
		Level:   notification.AlertCritical,
		Title:   "Robot stopped",
		Message: fmt.Sprintf("%s stopped after %d failed passes in a row: %v", inst.strategy.CoinName, n, err),
	})
	m.shutdown(ctx, inst)
}

// track feeds the pass's position snapshot to the trade tracker and
// mirrors transitions into the user's trade row.
func (m *Manager) track(ctx context.Context, inst *instance, rep execution.Report, at time.Time, log *slog.Logger) {
	last, ok := rep.Eval.Last()
	if !ok {
		return
	}
	tr := inst.tracker.Observe(rep.Position, last.Close, at)
	if !tr.Changed() && !tr.Holding {
		return
	}
	symbol := inst.strategy.CoinName

	if tr.Closed {
		log.Info("position closed", "pnl", tr.Realized)
		m.notify(ctx, notification.Alert{
			ChatID:  inst.chatID,
			Level:   notification.AlertInfo,
			Title:   "Position closed",
			Message: fmt.Sprintf("%s closed, estimated PnL %.2f USDT", symbol, tr.Realized),
		})
	}
	if tr.Opened {
		log.Info("position opened", "entry", tr.Entry)
		m.notify(ctx, notification.Alert{
			ChatID:  inst.chatID,
			Level:   notification.AlertInfo,
			Title:   "Position opened",
			Message: fmt.Sprintf("%s %s opened at %g", symbol, rep.Position.Side, tr.Entry),
		})
	}

	if inst.tradeID == 0 {
		return
	}
	if tr.Closed {
		pnl := tr.Realized
		if _, err := m.store.CloseTrade(ctx, inst.tradeID, &pnl); err != nil && !errors.Is(err, sqldb.ErrTradeState) {
			log.Error("close trade failed", "trade_id", inst.tradeID, "error", err)
		}
	}
	if tr.Opened {
		if _, err := m.store.OpenTrade(ctx, inst.tradeID, tr.Entry); err != nil && !errors.Is(err, sqldb.ErrTradeState) {
			log.Error("open trade failed", "trade_id", inst.tradeID, "error", err)
		}
	}
	if tr.Holding {
		if err := m.store.UpdateTradePnL(ctx, inst.tradeID, tr.Open); err != nil {
			log.Error("trade pnl update failed", "trade_id", inst.tradeID, "error", err)
		}
	}
}

func (m *Manager) onOrderUpdate(ctx context.Context, inst *instance, u model.OrderUpdate) {
	switch {
	case u.Filled():
		m.notify(ctx, notification.Alert{
			ChatID:  inst.chatID,
			Level:   notification.AlertInfo,
			Title:   "Order filled",
			Message: fmt.Sprintf("%s %s %g @ %g", u.Symbol, u.Side, u.CumExecQty, u.FillPrice()),
		})
	case u.Status == "Rejected":
		m.notify(ctx, notification.Alert{
			ChatID:  inst.chatID,
			Level:   notification.AlertWarning,
			Title:   "Order rejected",
			Message: fmt.Sprintf("%s %s %s: %s", u.Symbol, u.Side, u.OrderType, u.RejectReason),
		})
	}
}

// remove drops inst from the table if it is still the user's instance.
func (m *Manager) remove(inst *instance) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.instances[inst.chatID] != inst {
		return false
	}
	delete(m.instances, inst.chatID)
	m.setActive(len(m.instances))
	return true
}

// shutdown closes a removed instance: the order stream is cancelled, the
// balance synced and the running flag cleared.
func (m *Manager) shutdown(ctx context.Context, inst *instance) Info {
	inst.cancel()
	log := inst.log

	if bal, err := inst.session.Balance(ctx); err != nil {
		log.Warn("final balance unavailable", "error", err)
	} else {
		m.syncBalance(ctx, inst, bal, log)
	}

	running := false
	if _, err := m.store.UpdateBot(ctx, inst.chatID, sqldb.BotUpdate{IsRunning: &running}); err != nil {
		log.Error("clear running flag failed", "error", err)
	}
	log.Info("bot stopped")
	return inst.info()
}

func (m *Manager) syncBalance(ctx context.Context, inst *instance, bal float64, log *slog.Logger) {
	if _, err := m.store.SyncBotBalance(ctx, inst.chatID, bal); err != nil {
		log.Error("balance sync failed", "error", err)
		return
	}
	inst.stateMu.Lock()
	inst.balance = bal
	inst.stateMu.Unlock()
	m.cfg.Metrics.IncBalanceSynced()
}

func (m *Manager) setActive(n int) {
	m.cfg.Metrics.SetActiveBots(n)
	if m.cfg.Health != nil {
		m.cfg.Health.SetActiveBots(n)
	}
}

func (m *Manager) notify(ctx context.Context, alert notification.Alert) {
	if m.cfg.Notify == nil {
		return
	}
	if err := m.cfg.Notify.Send(ctx, alert); err != nil {
		m.log.Warn("notification failed", "chat_id", alert.ChatID, "title", alert.Title, "error", err)
	}
}

func (inst *instance) addFailure() int {
	inst.stateMu.Lock()
	defer inst.stateMu.Unlock()
	inst.failures++
	return inst.failures
}

func (inst *instance) resetFailures() {
	inst.stateMu.Lock()
	inst.failures = 0
	inst.stateMu.Unlock()
}

func (inst *instance) info() Info {
	inst.stateMu.Lock()
	defer inst.stateMu.Unlock()
	return Info{
		ChatID:    inst.chatID,
		Strategy:  inst.strategy,
		Timeframe: inst.tf,
		Balance:   inst.balance,
		StartedAt: inst.startedAt,
		Failures:  inst.failures,
		PnL:       inst.tracker.Summary(),
	}
}
