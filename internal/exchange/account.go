package exchange

import (
	"context"
	"sync"

	"bybit-techbot/internal/model"
)

// Account implements model.ExchangeAccount for one set of credentials.
// Taker fees are fetched once per symbol and, when scope is set, shared
// through the catalog's cache under that scope.
type Account struct {
	api     API
	catalog *Catalog
	scope   string

	mu   sync.Mutex
	fees map[string]float64
}

// NewAccount creates an account view over api. scope names the account in
// shared cache keys; empty keeps fees in memory only.
func NewAccount(api API, catalog *Catalog, scope string) *Account {
	return &Account{api: api, catalog: catalog, scope: scope, fees: make(map[string]float64)}
}

// AvailableCapital returns the transferable USDT amount.
func (a *Account) AvailableCapital(ctx context.Context) (float64, error) {
	v, err := a.api.TransferableAmount(ctx, QuoteCoin)
	if err != nil {
		return 0, upstream("transferable amount", err)
	}
	return v, nil
}

// Balance returns the USDT wallet balance.
func (a *Account) Balance(ctx context.Context) (float64, error) {
	v, err := a.api.WalletBalance(ctx, QuoteCoin)
	if err != nil {
		return 0, upstream("wallet balance", err)
	}
	return v, nil
}

func (a *Account) TakerFee(ctx context.Context, symbol string) (float64, error) {
	a.mu.Lock()
	fee, ok := a.fees[symbol]
	a.mu.Unlock()
	if ok {
		return fee, nil
	}

	cache := a.catalog.cache
	key := "fee:" + a.scope + ":" + symbol
	if cache != nil && a.scope != "" {
		if hit, _ := cache.Get(ctx, key, &fee); hit {
			a.catalog.metrics.ObserveCache("fee", true)
			a.remember(symbol, fee)
			return fee, nil
		}
		a.catalog.metrics.ObserveCache("fee", false)
	}

	rate, err := a.api.FeeRate(ctx, symbol)
	if err != nil {
		return 0, upstream("fee rate "+symbol, err)
	}
	a.remember(symbol, rate.Taker)
	if cache != nil && a.scope != "" {
		if err := cache.Set(ctx, key, rate.Taker, a.catalog.ttl); err != nil {
			a.catalog.log.Debug("cache set failed", "key", key, "error", err)
		}
	}
	return rate.Taker, nil
}

func (a *Account) remember(symbol string, fee float64) {
	a.mu.Lock()
	a.fees[symbol] = fee
	a.mu.Unlock()
}

// CurrentPosition returns the open position of symbol, or nil when flat.
// Accounts run in one-way mode, so there is at most one.
func (a *Account) CurrentPosition(ctx context.Context, symbol string) (*model.Position, error) {
	list, err := a.api.Positions(ctx, symbol)
	if err != nil {
		return nil, upstream("positions "+symbol, err)
	}
	for _, p := range list {
		if p.Size <= 0 {
			continue
		}
		return &model.Position{
			Symbol:     p.Symbol,
			Side:       model.Side(p.Side),
			EntryPrice: p.AvgPrice,
			Size:       p.Size,
		}, nil
	}
	return nil, nil
}

func (a *Account) OpenOrderCount(ctx context.Context, symbol string) (int, error) {
	orders, err := a.api.OpenOrders(ctx, symbol)
	if err != nil {
		return 0, upstream("open orders "+symbol, err)
	}
	return len(orders), nil
}

func (a *Account) PriceStep(ctx context.Context, symbol string) (float64, error) {
	inst, err := a.catalog.Instrument(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return inst.PriceStep, nil
}
