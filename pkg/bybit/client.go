// Package bybit is a small client for the Bybit v5 API: the REST endpoints
// a linear-perpetual trading bot needs and the private order stream.
//
// Usage example:
//
//	c := bybit.New(bybit.Config{APIKey: key, APISecret: secret})
//	klines, err := c.Klines(ctx, "BTCUSDT", "15", 200)
//	if err != nil { return err }
//	res, err := c.CreateOrder(ctx, bybit.OrderRequest{
//	    Category: bybit.CategoryLinear, Symbol: "BTCUSDT", Side: bybit.SideBuy,
//	    OrderType: bybit.OrderMarket, Qty: "0.001",
//	})
package bybit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// ---- Config & client ----

type Config struct {
	BaseURL    string        // default: MainnetURL
	WSURL      string        // default: MainnetPrivateWS
	APIKey     string
	APISecret  string
	Category   string        // default: linear
	RecvWindow time.Duration // default: 5s
	Timeout    time.Duration // default: 10s
	RateLimit  time.Duration // min delay between requests, default: 100ms

	HTTPClient *http.Client // optional
}

type Client struct {
	baseURL    string
	wsURL      string
	apiKey     string
	apiSecret  string
	category   string
	recvWindow string

	httpClient *http.Client
	log        *slog.Logger

	mu          sync.Mutex
	rateLimit   time.Duration
	lastRequest time.Time

	now func() time.Time
}

// New creates a client. Keys may be empty for public endpoints.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = MainnetURL
	}
	if cfg.WSURL == "" {
		cfg.WSURL = MainnetPrivateWS
	}
	if cfg.Category == "" {
		cfg.Category = CategoryLinear
	}
	if cfg.RecvWindow <= 0 {
		cfg.RecvWindow = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RateLimit < 0 {
		cfg.RateLimit = 0
	} else if cfg.RateLimit == 0 {
		cfg.RateLimit = 100 * time.Millisecond
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &Client{
		baseURL:     cfg.BaseURL,
		wsURL:       cfg.WSURL,
		apiKey:      cfg.APIKey,
		apiSecret:   cfg.APISecret,
		category:    cfg.Category,
		recvWindow:  strconv.FormatInt(cfg.RecvWindow.Milliseconds(), 10),
		httpClient:  hc,
		log:         slog.Default().With("component", "bybit"),
		rateLimit:   cfg.RateLimit,
		lastRequest: time.Now().Add(-cfg.RateLimit),
		now:         time.Now,
	}
}

// Category returns the product category the client trades.
func (c *Client) Category() string { return c.category }

// HasKeys reports whether private endpoints can be called.
func (c *Client) HasKeys() bool { return c.apiKey != "" && c.apiSecret != "" }

// waitForRateLimit spaces requests at least rateLimit apart.
func (c *Client) waitForRateLimit(ctx context.Context) error {
	c.mu.Lock()
	wait := c.rateLimit - time.Since(c.lastRequest)
	if wait < 0 {
		wait = 0
	}
	c.lastRequest = time.Now().Add(wait)
	c.mu.Unlock()

	if wait == 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sign returns hex(HMAC-SHA256(secret, payload)).
func (c *Client) sign(payload string) string {
	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

// get sends a GET. Private requests are signed over the encoded query.
func (c *Client) get(ctx context.Context, path string, params url.Values, private bool, out any) error {
	query := ""
	if len(params) > 0 {
		query = params.Encode()
	}
	u := c.baseURL + path
	if query != "" {
		u += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("bybit: GET %s: %w", path, err)
	}
	if private {
		c.authorize(req, query)
	}
	return c.do(req, path, out)
}

// post sends a JSON POST. Private requests are signed over the raw body.
func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("bybit: POST %s: marshal: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("bybit: POST %s: %w", path, err)
	}
	c.authorize(req, string(raw))
	return c.do(req, path, out)
}

func (c *Client) authorize(req *http.Request, payload string) {
	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	req.Header.Set("X-BAPI-API-KEY", c.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", ts)
	req.Header.Set("X-BAPI-RECV-WINDOW", c.recvWindow)
	req.Header.Set("X-BAPI-SIGN", c.sign(ts+c.apiKey+c.recvWindow+payload))
}

// do executes req and decodes the envelope's result into out.
// A non-zero retCode becomes an *APIError; anything else that fails is a
// transport or decoding error.
func (c *Client) do(req *http.Request, path string, out any) error {
	if err := c.waitForRateLimit(req.Context()); err != nil {
		return fmt.Errorf("bybit: %s %s: %w", req.Method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "bybit-techbot/1.0")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("bybit: %s %s: %w", req.Method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("bybit: %s %s: read body: %w", req.Method, path, err)
	}
	c.log.Debug("request", "method", req.Method, "path", path, "status", resp.StatusCode, "latency", time.Since(start))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bybit: %s %s: status %d: %s", req.Method, path, resp.StatusCode, truncate(body, 200))
	}

	var env APIResponse
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("bybit: %s %s: decode envelope: %w", req.Method, path, err)
	}
	if env.RetCode != 0 {
		return &APIError{Code: env.RetCode, Message: env.RetMsg, Path: path}
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("bybit: %s %s: decode result: %w", req.Method, path, err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
