package bot

import (
	"context"

	"bybit-techbot/internal/execution"
	"bybit-techbot/internal/model"
	"bybit-techbot/internal/store/sqldb"
)

// Session is one user's connection to the exchange for a running strategy.
type Session interface {
	// Ports returns the market data, account and order ports a pass uses.
	Ports() (model.MarketDataSource, model.ExchangeAccount, model.OrderGateway)

	// Balance returns the quote wallet balance.
	Balance(ctx context.Context) (float64, error)

	// WatchOrders delivers order events to fn until ctx is done.
	WatchOrders(ctx context.Context, fn func(model.OrderUpdate)) error
}

// Opener opens a session for a user trading a strategy.
type Opener interface {
	Open(ctx context.Context, user sqldb.User, ts sqldb.TradeSettings) (Session, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, user sqldb.User, ts sqldb.TradeSettings) (Session, error)

func (f OpenerFunc) Open(ctx context.Context, user sqldb.User, ts sqldb.TradeSettings) (Session, error) {
	return f(ctx, user, ts)
}

// Paper wraps live so that orders land in an in-memory book. Candles,
// balances and positions are still read from the exchange.
func Paper(live Session) Session {
	return &paperSession{Session: live, gw: execution.NewPaperGateway()}
}

type paperSession struct {
	Session
	gw *execution.PaperGateway
}

func (p *paperSession) Ports() (model.MarketDataSource, model.ExchangeAccount, model.OrderGateway) {
	src, acc, _ := p.Session.Ports()
	return src, p.gw.Account(acc), p.gw
}

// WatchOrders blocks until ctx is done: paper orders never reach the
// exchange's order stream.
func (p *paperSession) WatchOrders(ctx context.Context, _ func(model.OrderUpdate)) error {
	<-ctx.Done()
	return nil
}
