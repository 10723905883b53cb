// Package execution turns an evaluation into exchange actions.
//
// Plan is the pure state machine over {flat, long, short}; Executor runs
// one evaluate-and-act pass against the exchange ports: fetch, evaluate,
// plan, then act in order, aborting the rest of the pass on the first
// cancel failure, rejection or upstream failure.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bybit-techbot/internal/logger"
	"bybit-techbot/internal/metrics"
	"bybit-techbot/internal/model"
	"bybit-techbot/internal/portfolio"
	"bybit-techbot/internal/strategy"
)

// maxOpenOrders: more resting orders than this means a previous pass left
// the book in an unexpected state; the pass is skipped.
const maxOpenOrders = 2

// Deps are the ports and sinks an Executor works with. Journal, Metrics
// and Logger are optional.
type Deps struct {
	Source  model.MarketDataSource
	Account model.ExchangeAccount
	Gateway model.OrderGateway
	Journal Recorder
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Report summarizes one pass.
type Report struct {
	Eval       strategy.Evaluation
	Position   *model.Position
	OpenOrders int
	Planned    []Action
	Executed   []Action
	Skipped    bool // too many open orders
}

// Executor runs evaluation passes for one strategy instance.
type Executor struct {
	evaluator *strategy.Evaluator
	sizer     *portfolio.PositionSizer
	deps      Deps
	log       *slog.Logger
}

// NewExecutor creates an executor for the evaluator's parameters.
func NewExecutor(ev *strategy.Evaluator, deps Deps) *Executor {
	p := ev.Params()
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}
	return &Executor{
		evaluator: ev,
		sizer: portfolio.NewPositionSizer(deps.Account, portfolio.RiskLimits{
			Leverage:        p.Leverage,
			CapitalFraction: p.CapitalFraction,
			MaxLossPercent:  p.MaxLossPercent,
		}),
		deps: deps,
		log:  l.With("component", "executor"),
	}
}

// Evaluate fetches candles and returns the evaluation without acting.
func (e *Executor) Evaluate(ctx context.Context, symbol string) (strategy.Evaluation, error) {
	candles, err := e.deps.Source.FetchCandles(ctx, symbol, e.evaluator.Params().Timeframe)
	if err != nil {
		return strategy.Evaluation{}, fmt.Errorf("execution: candles %s: %w", symbol, upstream(err))
	}
	if len(candles) == 0 {
		return strategy.Evaluation{}, fmt.Errorf("execution: empty candle window for %s: %w", symbol, model.ErrUpstreamUnavailable)
	}
	ev := e.evaluator.Evaluate(candles)
	e.deps.Metrics.ObserveSignal(ev.Signal.String())
	return ev, nil
}

// EvaluateAndAct runs one full pass for symbol. The returned error carries
// a taxonomy kind (errors.Is) when the pass was aborted; the next pass
// starts clean either way.
func (e *Executor) EvaluateAndAct(ctx context.Context, symbol string) (Report, error) {
	start := time.Now()
	log := logger.FromContext(ctx, e.log).With("symbol", symbol)

	rep, err := e.pass(ctx, symbol, log)

	outcome := "acted"
	switch {
	case err != nil:
		outcome = "aborted"
		e.deps.Metrics.ObserveAbort(model.Kind(err))
		log.Warn("pass aborted", "error", err, "kind", model.Kind(err), "executed", len(rep.Executed))
	case rep.Skipped:
		outcome = "skipped"
	}
	e.deps.Metrics.ObservePass(outcome, time.Since(start))
	return rep, err
}

func (e *Executor) pass(ctx context.Context, symbol string, log *slog.Logger) (Report, error) {
	var rep Report

	ev, err := e.Evaluate(ctx, symbol)
	if err != nil {
		return rep, err
	}
	rep.Eval = ev

	// Every input is fetched before the first action so a partial read
	// never leaves the book half-modified.
	open, err := e.deps.Account.OpenOrderCount(ctx, symbol)
	if err != nil {
		return rep, fmt.Errorf("execution: open orders %s: %w", symbol, upstream(err))
	}
	rep.OpenOrders = open
	if open > maxOpenOrders {
		rep.Skipped = true
		log.Warn("too many open orders, skipping pass", "open_orders", open)
		return rep, nil
	}

	pos, err := e.deps.Account.CurrentPosition(ctx, symbol)
	if err != nil {
		return rep, fmt.Errorf("execution: position %s: %w", symbol, upstream(err))
	}
	rep.Position = pos
	if last, ok := ev.Last(); ok && pos != nil {
		log.Debug("holding position",
			"side", pos.Side,
			"size", pos.Size,
			"notional", portfolio.Notional(pos, last.Close),
			"unrealized", portfolio.UnrealizedPnL(pos, last.Close))
	}

	step, err := e.deps.Account.PriceStep(ctx, symbol)
	if err != nil {
		return rep, fmt.Errorf("execution: price step %s: %w", symbol, upstream(err))
	}

	params := e.evaluator.Params()
	rep.Planned = Plan(PlanInput{
		Eval:       ev,
		Position:   pos,
		OpenOrders: open,
		PriceStep:  step,
		RSILow:     params.RSILow,
		RSIHigh:    params.RSIHigh,
	})

	log.Info("evaluated",
		"signal", ev.Signal.String(),
		"bull", ev.Bull.String(),
		"bear", ev.Bear.String(),
		"open_orders", open,
		"in_position", pos != nil,
		"actions", len(rep.Planned))

	for _, a := range rep.Planned {
		done, err := e.act(ctx, symbol, a, log)
		if done {
			rep.Executed = append(rep.Executed, a)
		}
		if err != nil {
			return rep, err
		}
	}
	return rep, nil
}

// act performs one action. It returns done=true when the action reached
// the exchange successfully, and a non-nil error only when the rest of the
// pass must be aborted. Invalid sizing skips the action without aborting.
func (e *Executor) act(ctx context.Context, symbol string, a Action, log *slog.Logger) (bool, error) {
	entry := Entry{
		TraceID:  logger.TraceID(ctx),
		Symbol:   symbol,
		Kind:     a.Kind.String(),
		Side:     string(a.Side),
		Qty:      a.Qty,
		Trigger:  a.Trigger,
		StopLoss: a.StopLoss,
		Reason:   a.Reason,
	}

	var (
		ack model.OrderAck
		err error
	)
	switch a.Kind {
	case ActCancelAll:
		if err = e.deps.Gateway.CancelAllOrders(ctx, symbol); err != nil {
			err = fmt.Errorf("execution: cancel all %s: %w", symbol, rejected(err))
		}

	case ActMarket:
		ack, err = e.deps.Gateway.SubmitMarketOrder(ctx, model.MarketOrder{
			Symbol: symbol, Side: a.Side, Qty: a.Qty, StopLoss: a.StopLoss,
		})
		if err != nil {
			err = fmt.Errorf("execution: market %s %s: %w", a.Side, symbol, rejected(err))
		}

	case ActStop:
		qty := a.Qty
		if a.Sized {
			qty, err = e.sizer.Size(ctx, symbol, a.Trigger, a.StopLoss, a.SizeWith)
			entry.Qty = qty
		}
		if err == nil {
			ack, err = e.deps.Gateway.SubmitStopOrder(ctx, model.StopOrder{
				Symbol:       symbol,
				Side:         a.Side,
				TriggerPrice: a.Trigger,
				LimitPrice:   a.Trigger,
				Qty:          qty,
				StopLoss:     a.StopLoss,
			})
			if err != nil {
				err = rejected(err)
			}
		}
		if err != nil {
			err = fmt.Errorf("execution: stop %s %s @%g: %w", a.Side, symbol, a.Trigger, err)
		}

	default:
		err = fmt.Errorf("execution: unknown action kind %d", a.Kind)
	}

	entry.OrderID = ack.OrderID
	switch {
	case err == nil:
		entry.Outcome = "placed"
		log.Info("action placed", "action", a.String(), "order_id", ack.OrderID, "qty", entry.Qty)
	case errors.Is(err, model.ErrInvalidSizing):
		entry.Outcome, entry.Error = "skipped", err.Error()
		log.Warn("action skipped", "action", a.String(), "error", err)
	default:
		entry.Outcome, entry.Error = "failed", err.Error()
	}
	e.deps.Metrics.ObserveOrder(entry.Kind, entry.Outcome)
	e.record(ctx, entry, log)

	if entry.Outcome == "skipped" {
		return false, nil
	}
	return err == nil, err
}

func (e *Executor) record(ctx context.Context, entry Entry, log *slog.Logger) {
	if e.deps.Journal == nil {
		return
	}
	if err := e.deps.Journal.Record(ctx, entry); err != nil {
		log.Error("journal write failed", "error", err)
	}
}

// upstream tags a fetch failure as ErrUpstreamUnavailable unless it
// already carries a taxonomy kind.
func upstream(err error) error {
	if model.IsKnown(err) {
		return err
	}
	return fmt.Errorf("%w: %w", model.ErrUpstreamUnavailable, err)
}

// rejected tags a gateway failure as ErrOrderRejected unless it already
// carries a taxonomy kind.
func rejected(err error) error {
	if model.IsKnown(err) {
		return err
	}
	return fmt.Errorf("%w: %w", model.ErrOrderRejected, err)
}
