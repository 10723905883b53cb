// Package redis caches exchange metadata (instrument filters, fee rates)
// in Redis behind a circuit breaker. A tripped breaker turns every call
// into a fast miss so callers fall through to the exchange.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"bybit-techbot/internal/metrics"
)

// Config configures the Redis connection.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
	Prefix   string // key prefix, default "techbot:"

	MaxFailures  int           // breaker threshold, default 5
	ResetTimeout time.Duration // breaker open period, default 10s
}

// Connect creates a client and pings the server.
func Connect(ctx context.Context, cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	slog.Info("connected to redis", "component", "redis", "addr", cfg.Addr)
	return client, nil
}

// Cache stores JSON values under prefixed keys with a TTL.
type Cache struct {
	client  *goredis.Client
	prefix  string
	breaker *CircuitBreaker
	log     *slog.Logger
}

// NewCache wraps client. m may be nil.
func NewCache(client *goredis.Client, cfg Config, m *metrics.Metrics) *Cache {
	if cfg.Prefix == "" {
		cfg.Prefix = "techbot:"
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 10 * time.Second
	}

	c := &Cache{
		client:  client,
		prefix:  cfg.Prefix,
		breaker: NewCircuitBreaker(cfg.MaxFailures, cfg.ResetTimeout),
		log:     slog.Default().With("component", "redis-cache"),
	}
	c.breaker.OnStateChange = func(from, to State) {
		c.log.Warn("circuit breaker state change", "from", from.String(), "to", to.String())
		m.SetBreakerState(int(to), to == StateOpen)
	}
	return c
}

// Client returns the underlying Redis client for health checks.
func (c *Cache) Client() *goredis.Client { return c.client }

// Breaker exposes the circuit breaker state.
func (c *Cache) Breaker() *CircuitBreaker { return c.breaker }

// Get decodes the value at key into dst. It reports false on a miss.
// A miss is not an error; an open breaker is ErrCircuitOpen.
func (c *Cache) Get(ctx context.Context, key string, dst any) (bool, error) {
	var data []byte
	err := c.breaker.Execute(func() error {
		b, err := c.client.Get(ctx, c.prefix+key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		data = b
		return err
	})
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("redis get %s: decode: %w", key, err)
	}
	return true, nil
}

// Set stores v as JSON at key for ttl. A zero ttl never expires.
func (c *Cache) Set(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redis set %s: encode: %w", key, err)
	}
	err = c.breaker.Execute(func() error {
		return c.client.Set(ctx, c.prefix+key, data, ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Close closes the client.
func (c *Cache) Close() error { return c.client.Close() }
