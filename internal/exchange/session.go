package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"bybit-techbot/internal/metrics"
	"bybit-techbot/internal/model"
	"bybit-techbot/internal/notification"
	"bybit-techbot/pkg/bybit"
)

// Credentials identify one user on the exchange.
type Credentials struct {
	ChatID    int64
	APIKey    string
	APISecret string
}

// Session bundles the ports of one running strategy instance.
type Session struct {
	Source  *Source
	Account *Account
	Gateway *Gateway

	client  *bybit.Client
	stream  bybit.StreamConfig
	metrics *metrics.Metrics
	log     *slog.Logger
}

// Ports returns the session as the signal engine's exchange ports.
func (s *Session) Ports() (model.MarketDataSource, model.ExchangeAccount, model.OrderGateway) {
	return s.Source, s.Account, s.Gateway
}

// Balance returns the USDT wallet balance.
func (s *Session) Balance(ctx context.Context) (float64, error) {
	return s.Account.Balance(ctx)
}

// WatchOrders streams private order events to fn until ctx is cancelled.
// It returns the stream's terminal error, e.g. an authentication refusal.
func (s *Session) WatchOrders(ctx context.Context, fn func(model.OrderUpdate)) error {
	events := make(chan bybit.OrderEvent, 64)
	st := s.client.OrderStream(s.stream)
	st.OnReconnect = s.metrics.IncWSReconnects

	errc := make(chan error, 1)
	go func() { errc <- st.Start(ctx, events) }()

	for {
		select {
		case ev := <-events:
			u := toOrderUpdate(ev)
			s.metrics.ObserveOrderUpdate(u.Status)
			fn(u)
		case err := <-errc:
			if err != nil {
				s.log.Warn("order stream stopped", "error", err)
			}
			return err
		}
	}
}

func toOrderUpdate(ev bybit.OrderEvent) model.OrderUpdate {
	return model.OrderUpdate{
		OrderID:      ev.OrderID,
		Symbol:       ev.Symbol,
		Side:         model.Side(ev.Side),
		OrderType:    ev.OrderType,
		Status:       ev.Status,
		RejectReason: ev.RejectReason,
		Price:        ev.Price,
		AvgPrice:     ev.AvgPrice,
		CumExecQty:   ev.CumExecQty,
		CumExecValue: ev.CumExecValue,
		UpdatedAt:    ev.UpdatedAt,
	}
}

// SessionsConfig configures the session factory.
type SessionsConfig struct {
	Client      bybit.Config // endpoints and limits; keys are per session
	Stream      bybit.StreamConfig
	Catalog     *Catalog
	Notify      notification.Notifier
	Metrics     *metrics.Metrics
	CandleLimit int
}

// Sessions opens per-user sessions that share one instrument catalog.
type Sessions struct {
	cfg SessionsConfig
	log *slog.Logger
}

// NewSessions creates a session factory. A nil Catalog gets one backed by
// a keyless client and no shared cache.
func NewSessions(cfg SessionsConfig) *Sessions {
	if cfg.Catalog == nil {
		public := cfg.Client
		public.APIKey, public.APISecret = "", ""
		cfg.Catalog = NewCatalog(bybit.New(public), nil, 0, cfg.Metrics)
	}
	return &Sessions{cfg: cfg, log: slog.Default().With("component", "sessions")}
}

// MaxLeverage returns the largest leverage symbol allows.
func (s *Sessions) MaxLeverage(ctx context.Context, symbol string) (float64, error) {
	return s.cfg.Catalog.MaxLeverage(ctx, symbol)
}

// Open creates a session trading with the given leverage.
func (s *Sessions) Open(_ context.Context, creds Credentials, leverage int) (*Session, error) {
	if creds.APIKey == "" || creds.APISecret == "" {
		return nil, fmt.Errorf("exchange: open session for %d: %w", creds.ChatID, ErrInvalidKeys)
	}
	client := s.client(creds)
	l := s.log.With("chat_id", creds.ChatID)
	return &Session{
		Source:  NewSource(client, s.cfg.CandleLimit),
		Account: NewAccount(client, s.cfg.Catalog, strconv.FormatInt(creds.ChatID, 10)),
		Gateway: NewGateway(client, s.cfg.Catalog, GatewayConfig{
			Leverage: leverage,
			ChatID:   creds.ChatID,
			Notify:   s.cfg.Notify,
			Logger:   l,
		}),
		client:  client,
		stream:  s.cfg.Stream,
		metrics: s.cfg.Metrics,
		log:     l,
	}, nil
}

// VerifyKeys checks credentials by reading the wallet balance, which it
// returns. A refusal of the keys is ErrInvalidKeys.
func (s *Sessions) VerifyKeys(ctx context.Context, apiKey, apiSecret string) (float64, error) {
	return verifyKeys(ctx, s.client(Credentials{APIKey: apiKey, APISecret: apiSecret}))
}

func verifyKeys(ctx context.Context, api API) (float64, error) {
	bal, err := api.WalletBalance(ctx, QuoteCoin)
	if err == nil {
		return bal, nil
	}
	if _, ok := bybit.AsAPIError(err); ok {
		return 0, fmt.Errorf("exchange: verify keys: %w: %w", ErrInvalidKeys, err)
	}
	return 0, upstream("verify keys", err)
}

func (s *Sessions) client(creds Credentials) *bybit.Client {
	cfg := s.cfg.Client
	cfg.APIKey, cfg.APISecret = creds.APIKey, creds.APISecret
	return bybit.New(cfg)
}
