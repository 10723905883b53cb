// Package metrics exposes Prometheus metrics and the /healthz endpoint.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the trading bot.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	PassesTotal  *prometheus.CounterVec // labels: outcome=acted|skipped|aborted
	PassDuration prometheus.Histogram
	SignalsTotal *prometheus.CounterVec // labels: signal
	OrdersTotal  *prometheus.CounterVec // labels: kind, outcome
	AbortsTotal  *prometheus.CounterVec // labels: kind

	ActiveBots    prometheus.Gauge
	BotAutoStops  prometheus.Counter
	BalanceSynced prometheus.Counter

	CacheRequests *prometheus.CounterVec // labels: cache, result=hit|miss

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter

	// Private order stream
	WSReconnects prometheus.Counter
	OrderUpdates *prometheus.CounterVec // labels: status

	TelegramUpdates prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg.
// A nil reg registers with the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		PassesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "techbot_passes_total",
			Help: "Evaluation passes by outcome",
		}, []string{"outcome"}),
		PassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "techbot_pass_duration_seconds",
			Help:    "Wall time of one evaluate-and-act pass",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "techbot_signals_total",
			Help: "Signals produced by the evaluator",
		}, []string{"signal"}),
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "techbot_orders_total",
			Help: "Order actions by kind (cancel, market, stop) and outcome",
		}, []string{"kind", "outcome"}),
		AbortsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "techbot_pass_aborts_total",
			Help: "Aborted passes by error kind",
		}, []string{"kind"}),

		ActiveBots: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "techbot_active_bots",
			Help: "Running strategy instances",
		}),
		BotAutoStops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "techbot_bot_auto_stops_total",
			Help: "Instances stopped after repeated failures",
		}),
		BalanceSynced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "techbot_balance_syncs_total",
			Help: "Bot balance rows synced from the exchange",
		}),

		CacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "techbot_cache_requests_total",
			Help: "Redis cache lookups by cache and result",
		}, []string{"cache", "result"}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "techbot_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "techbot_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),

		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "techbot_ws_reconnects_total",
			Help: "Private order stream reconnection attempts",
		}),
		OrderUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "techbot_order_updates_total",
			Help: "Order events received on the private stream",
		}, []string{"status"}),

		TelegramUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "techbot_telegram_updates_total",
			Help: "Telegram updates handled",
		}),
	}

	reg.MustRegister(
		m.PassesTotal,
		m.PassDuration,
		m.SignalsTotal,
		m.OrdersTotal,
		m.AbortsTotal,
		m.ActiveBots,
		m.BotAutoStops,
		m.BalanceSynced,
		m.CacheRequests,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.WSReconnects,
		m.OrderUpdates,
		m.TelegramUpdates,
	)

	return m
}

// ObservePass records the outcome and duration of one pass.
func (m *Metrics) ObservePass(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.PassesTotal.WithLabelValues(outcome).Inc()
	m.PassDuration.Observe(d.Seconds())
}

// ObserveSignal counts an evaluator verdict.
func (m *Metrics) ObserveSignal(signal string) {
	if m == nil {
		return
	}
	m.SignalsTotal.WithLabelValues(signal).Inc()
}

// ObserveOrder counts one order action.
func (m *Metrics) ObserveOrder(kind, outcome string) {
	if m == nil {
		return
	}
	m.OrdersTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveAbort counts an aborted pass by error kind.
func (m *Metrics) ObserveAbort(kind string) {
	if m == nil {
		return
	}
	m.AbortsTotal.WithLabelValues(kind).Inc()
}

// ObserveCache counts a cache lookup.
func (m *Metrics) ObserveCache(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheRequests.WithLabelValues(cache, result).Inc()
}

// SetActiveBots sets the running instance gauge.
func (m *Metrics) SetActiveBots(n int) {
	if m == nil {
		return
	}
	m.ActiveBots.Set(float64(n))
}

// IncAutoStops counts an automatic instance stop.
func (m *Metrics) IncAutoStops() {
	if m == nil {
		return
	}
	m.BotAutoStops.Inc()
}

// IncBalanceSynced counts a balance sync.
func (m *Metrics) IncBalanceSynced() {
	if m == nil {
		return
	}
	m.BalanceSynced.Inc()
}

// SetBreakerState records the Redis circuit breaker state.
func (m *Metrics) SetBreakerState(state int, tripped bool) {
	if m == nil {
		return
	}
	m.RedisCircuitBreakerState.Set(float64(state))
	if tripped {
		m.RedisCircuitBreakerTrips.Inc()
	}
}

// IncWSReconnects counts a stream reconnect.
func (m *Metrics) IncWSReconnects() {
	if m == nil {
		return
	}
	m.WSReconnects.Inc()
}

// ObserveOrderUpdate counts a private-stream order event.
func (m *Metrics) ObserveOrderUpdate(status string) {
	if m == nil {
		return
	}
	m.OrderUpdates.WithLabelValues(status).Inc()
}

// IncTelegramUpdates counts a handled Telegram update.
func (m *Metrics) IncTelegramUpdates() {
	if m == nil {
		return
	}
	m.TelegramUpdates.Inc()
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	TelegramConnected bool      `json:"telegram_connected"`
	RedisEnabled      bool      `json:"redis_enabled"`
	RedisConnected    bool      `json:"redis_connected"`
	DBOK              bool      `json:"db_ok"`
	ActiveBots        int       `json:"active_bots"`
	LastPassAt        time.Time `json:"last_pass_at"`

	// Liveness probe results
	RedisLatencyMs float64   `json:"redis_latency_ms"`
	DBLatencyMs    float64   `json:"db_latency_ms"`
	LastCheckAt    time.Time `json:"last_check_at"`
	StartedAt      time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetTelegramConnected(v bool) {
	h.mu.Lock()
	h.TelegramConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetActiveBots(n int) {
	h.mu.Lock()
	h.ActiveBots = n
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastPass(t time.Time) {
	h.mu.Lock()
	h.LastPassAt = t
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisEnabled = true
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckDB pings the relational store and records latency + health.
func (h *HealthStatus) CheckDB(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.DBOK = err == nil
	h.DBLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. rdb may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, db *sql.DB, interval time.Duration) {
	check := func() {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if rdb != nil {
			h.CheckRedis(probeCtx, rdb)
		}
		if db != nil {
			h.CheckDB(probeCtx, db)
		}
	}
	go func() {
		check()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				check()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	redisDown := h.RedisEnabled && !h.RedisConnected
	if !h.DBOK || redisDown || !h.TelegramConnected {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.DBOK && redisDown {
		overallStatus = "unhealthy"
	}

	lastPass := ""
	if !h.LastPassAt.IsZero() {
		lastPass = h.LastPassAt.Format(time.RFC3339)
	}

	status := struct {
		Status            string  `json:"status"`
		Uptime            string  `json:"uptime"`
		TelegramConnected bool    `json:"telegram_connected"`
		RedisEnabled      bool    `json:"redis_enabled"`
		RedisConnected    bool    `json:"redis_connected"`
		RedisLatencyMs    float64 `json:"redis_latency_ms"`
		DBOK              bool    `json:"db_ok"`
		DBLatencyMs       float64 `json:"db_latency_ms"`
		ActiveBots        int     `json:"active_bots"`
		LastPassAt        string  `json:"last_pass_at"`
		LastCheckAt       string  `json:"last_check_at"`
	}{
		Status:            overallStatus,
		Uptime:            time.Since(h.StartedAt).Round(time.Second).String(),
		TelegramConnected: h.TelegramConnected,
		RedisEnabled:      h.RedisEnabled,
		RedisConnected:    h.RedisConnected,
		RedisLatencyMs:    h.RedisLatencyMs,
		DBOK:              h.DBOK,
		DBLatencyMs:       h.DBLatencyMs,
		ActiveBots:        h.ActiveBots,
		LastPassAt:        lastPass,
		LastCheckAt:       h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
	log    *slog.Logger
}

// NewServer creates a metrics and health server. A nil gatherer serves
// the default registry.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: slog.Default().With("component", "metrics"),
	}
}

// Handler returns the server's mux (used in tests).
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info("server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			s.log.Error("server error", "error", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
