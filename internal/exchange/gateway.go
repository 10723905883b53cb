package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"bybit-techbot/internal/model"
	"bybit-techbot/internal/notification"
	"bybit-techbot/pkg/bybit"
)

// Gateway implements model.OrderGateway for one user session. Every
// placement sets the session leverage first, floors the quantity to the
// lot step and reports the order to the user.
type Gateway struct {
	api      API
	catalog  *Catalog
	leverage int
	chatID   int64
	notify   notification.Notifier
	log      *slog.Logger
	linkID   func() string
}

// GatewayConfig configures a Gateway. Notify may be nil.
type GatewayConfig struct {
	Leverage int
	ChatID   int64
	Notify   notification.Notifier
	Logger   *slog.Logger
}

// NewGateway creates an order gateway.
func NewGateway(api API, catalog *Catalog, cfg GatewayConfig) *Gateway {
	if cfg.Leverage < 1 {
		cfg.Leverage = 1
	}
	l := cfg.Logger
	if l == nil {
		l = slog.Default()
	}
	return &Gateway{
		api:      api,
		catalog:  catalog,
		leverage: cfg.Leverage,
		chatID:   cfg.ChatID,
		notify:   cfg.Notify,
		log:      l.With("component", "gateway"),
		linkID:   func() string { return "tb-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24] },
	}
}

// SubmitMarketOrder places a market order with a market stop-loss attached.
func (g *Gateway) SubmitMarketOrder(ctx context.Context, o model.MarketOrder) (model.OrderAck, error) {
	inst, qty, err := g.prepare(ctx, o.Symbol, o.Qty)
	if err != nil {
		return model.OrderAck{}, err
	}

	req := bybit.OrderRequest{
		Symbol:      o.Symbol,
		Side:        string(o.Side),
		OrderType:   bybit.OrderMarket,
		Qty:         model.StepString(qty, inst.QtyStep),
		TPSLMode:    bybit.TPSLFull,
		OrderLinkID: g.linkID(),
	}
	g.attachExits(&req, inst, o.StopLoss, o.TakeProfit)

	ack, err := g.place(ctx, "market order", req)
	if err != nil {
		return model.OrderAck{}, err
	}

	price, perr := g.api.LastPrice(ctx, o.Symbol)
	if perr != nil {
		g.log.Debug("last price unavailable for notice", "symbol", o.Symbol, "error", perr)
	}
	g.announce(ctx, marketNotice(o, qty, price))
	return ack, nil
}

// SubmitStopOrder places a conditional limit order. Buys trigger when the
// last price rises to the trigger, sells when it falls to it.
func (g *Gateway) SubmitStopOrder(ctx context.Context, o model.StopOrder) (model.OrderAck, error) {
	inst, qty, err := g.prepare(ctx, o.Symbol, o.Qty)
	if err != nil {
		return model.OrderAck{}, err
	}

	limit := o.LimitPrice
	if limit <= 0 {
		limit = o.TriggerPrice
	}
	direction := bybit.TriggerRise
	if o.Side == model.Sell {
		direction = bybit.TriggerFall
	}

	req := bybit.OrderRequest{
		Symbol:           o.Symbol,
		Side:             string(o.Side),
		OrderType:        bybit.OrderLimit,
		Qty:              model.StepString(qty, inst.QtyStep),
		Price:            model.StepString(model.RoundToStep(limit, inst.PriceStep), inst.PriceStep),
		TriggerPrice:     model.StepString(model.RoundToStep(o.TriggerPrice, inst.PriceStep), inst.PriceStep),
		TriggerDirection: direction,
		TriggerBy:        bybit.TriggerLastPrice,
		TPSLMode:         bybit.TPSLFull,
		OrderLinkID:      g.linkID(),
	}
	g.attachExits(&req, inst, o.StopLoss, o.TakeProfit)

	ack, err := g.place(ctx, "stop order", req)
	if err != nil {
		return model.OrderAck{}, err
	}
	g.announce(ctx, stopNotice(o, qty, limit))
	return ack, nil
}

// CancelAllOrders cancels every resting order of symbol.
func (g *Gateway) CancelAllOrders(ctx context.Context, symbol string) error {
	if err := g.api.CancelAll(ctx, symbol); err != nil {
		return refusal("cancel all "+symbol, err)
	}
	g.log.Info("cancelled all orders", "symbol", symbol)
	return nil
}

// prepare sets leverage and returns the instrument and the quantity
// floored to the lot step.
func (g *Gateway) prepare(ctx context.Context, symbol string, qty float64) (model.Instrument, float64, error) {
	if err := g.api.SetLeverage(ctx, symbol, strconv.Itoa(g.leverage)); err != nil {
		if _, ok := bybit.AsAPIError(err); !ok {
			return model.Instrument{}, 0, upstream("set leverage "+symbol, err)
		}
		// The exchange keeps the previous leverage; the order still goes out.
		g.log.Warn("set leverage refused", "symbol", symbol, "leverage", g.leverage, "error", err)
	}

	inst, err := g.catalog.Instrument(ctx, symbol)
	if err != nil {
		return model.Instrument{}, 0, err
	}
	floored := model.FloorToStep(qty, inst.QtyStep)
	if floored <= 0 || floored < inst.MinOrderQty {
		return inst, 0, fmt.Errorf("exchange: %s qty %g below minimum %g: %w",
			symbol, floored, inst.MinOrderQty, model.ErrInvalidSizing)
	}
	return inst, floored, nil
}

func (g *Gateway) attachExits(req *bybit.OrderRequest, inst model.Instrument, sl, tp float64) {
	if sl > 0 {
		req.StopLoss = model.StepString(model.RoundToStep(sl, inst.PriceStep), inst.PriceStep)
		req.SLOrderType = bybit.OrderMarket
		req.SLTriggerBy = bybit.TriggerLastPrice
	}
	if tp > 0 {
		req.TakeProfit = model.StepString(model.RoundToStep(tp, inst.PriceStep), inst.PriceStep)
		req.TPOrderType = bybit.OrderMarket
		req.TPTriggerBy = bybit.TriggerLastPrice
	}
}

func (g *Gateway) place(ctx context.Context, what string, req bybit.OrderRequest) (model.OrderAck, error) {
	res, err := g.api.CreateOrder(ctx, req)
	if err != nil {
		g.log.Error("order failed", "kind", what, "symbol", req.Symbol, "side", req.Side, "qty", req.Qty, "error", err)
		g.announce(ctx, notification.Alert{
			Level:   notification.AlertWarning,
			Title:   "Order failed",
			Message: fmt.Sprintf("%s %s %s qty %s: %v", req.Symbol, req.Side, what, req.Qty, err),
		})
		return model.OrderAck{}, refusal(what+" "+req.Symbol, err)
	}
	g.log.Info("order placed", "kind", what, "symbol", req.Symbol, "side", req.Side,
		"qty", req.Qty, "trigger", req.TriggerPrice, "stop_loss", req.StopLoss, "order_id", res.OrderID)
	return model.OrderAck{OrderID: res.OrderID, LinkID: res.OrderLinkID}, nil
}

func (g *Gateway) announce(ctx context.Context, a notification.Alert) {
	if g.notify == nil || g.chatID == 0 {
		return
	}
	a.ChatID = g.chatID
	if err := g.notify.Send(ctx, a); err != nil {
		g.log.Warn("notify failed", "title", a.Title, "error", err)
	}
}

func marketNotice(o model.MarketOrder, qty, price float64) notification.Alert {
	verb := "buy"
	if o.Side == model.Sell {
		verb = "sell"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Instrument: %s\n", o.Symbol)
	if price > 0 {
		fmt.Fprintf(&b, "Price: %g\n", price)
	}
	fmt.Fprintf(&b, "Stop-loss: %s\n", orDash(o.StopLoss))
	fmt.Fprintf(&b, "Take-profit: %s\n", orDash(o.TakeProfit))
	fmt.Fprintf(&b, "Quantity: %g", qty)
	if price > 0 {
		fmt.Fprintf(&b, " (%.4f USDT)", qty*price)
	}
	return notification.Alert{Level: notification.AlertInfo, Title: "Market " + verb + " order placed", Message: b.String()}
}

func stopNotice(o model.StopOrder, qty, limit float64) notification.Alert {
	verb := "buy"
	if o.Side == model.Sell {
		verb = "sell"
	}
	msg := fmt.Sprintf("Instrument: %s\nTrigger price: %g\nPrice: %g\nStop-loss: %s\nTake-profit: %s\nQuantity: %g (%.4f USDT)",
		o.Symbol, o.TriggerPrice, limit, orDash(o.StopLoss), orDash(o.TakeProfit), qty, qty*limit)
	return notification.Alert{Level: notification.AlertInfo, Title: "Stop " + verb + " order placed", Message: msg}
}

func orDash(v float64) string {
	if v <= 0 {
		return "---"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
