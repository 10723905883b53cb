package exchange

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"bybit-techbot/internal/metrics"
	"bybit-techbot/internal/model"
)

// Catalog serves instrument filters. Lookups go memory, then the shared
// cache, then the exchange. Filters are public data, so one catalog is
// shared by every user session.
type Catalog struct {
	api     API
	cache   Cache
	ttl     time.Duration
	metrics *metrics.Metrics
	log     *slog.Logger

	mu    sync.RWMutex
	local map[string]model.Instrument
}

// NewCatalog creates a catalog. cache and m may be nil.
func NewCatalog(api API, cache Cache, ttl time.Duration, m *metrics.Metrics) *Catalog {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &Catalog{
		api:     api,
		cache:   cache,
		ttl:     ttl,
		metrics: m,
		log:     slog.Default().With("component", "catalog"),
		local:   make(map[string]model.Instrument),
	}
}

// Instrument returns the filters of symbol.
func (c *Catalog) Instrument(ctx context.Context, symbol string) (model.Instrument, error) {
	c.mu.RLock()
	inst, ok := c.local[symbol]
	c.mu.RUnlock()
	if ok {
		c.metrics.ObserveCache("instrument", true)
		return inst, nil
	}

	key := "instrument:" + symbol
	if c.cache != nil {
		hit, err := c.cache.Get(ctx, key, &inst)
		if err != nil {
			c.log.Debug("cache get failed", "key", key, "error", err)
		}
		if hit {
			c.metrics.ObserveCache("instrument", true)
			c.remember(inst)
			return inst, nil
		}
	}
	c.metrics.ObserveCache("instrument", false)

	info, err := c.api.Instrument(ctx, symbol)
	if err != nil {
		return model.Instrument{}, upstream("instrument "+symbol, err)
	}
	inst = model.Instrument{
		Symbol:      info.Symbol,
		PriceStep:   info.TickSize,
		QtyStep:     info.QtyStep,
		MinOrderQty: info.MinOrderQty,
		MaxLeverage: info.MaxLeverage,
	}
	c.remember(inst)
	if c.cache != nil {
		if err := c.cache.Set(ctx, key, inst, c.ttl); err != nil {
			c.log.Debug("cache set failed", "key", key, "error", err)
		}
	}
	return inst, nil
}

// MaxLeverage returns the largest leverage the exchange allows for symbol.
func (c *Catalog) MaxLeverage(ctx context.Context, symbol string) (float64, error) {
	inst, err := c.Instrument(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return inst.MaxLeverage, nil
}

func (c *Catalog) remember(inst model.Instrument) {
	c.mu.Lock()
	c.local[inst.Symbol] = inst
	c.mu.Unlock()
}
