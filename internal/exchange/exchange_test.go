package exchange

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bybit-techbot/internal/model"
	"bybit-techbot/internal/notification"
	"bybit-techbot/pkg/bybit"
)

// stubAPI records calls and returns canned values.
type stubAPI struct {
	mu sync.Mutex

	klines    []bybit.Kline
	inst      bybit.InstrumentInfo
	last      float64
	wallet    float64
	transfer  float64
	fee       bybit.FeeRate
	positions []bybit.Position
	orders    []bybit.Order

	err         error // returned by every read
	createErr   error
	cancelErr   error
	leverageErr error

	instCalls int
	feeCalls  int
	leverages []string
	created   []bybit.OrderRequest
	cancelled []string
}

func (s *stubAPI) Klines(context.Context, string, string, int) ([]bybit.Kline, error) {
	return s.klines, s.err
}
func (s *stubAPI) Instrument(context.Context, string) (bybit.InstrumentInfo, error) {
	s.mu.Lock()
	s.instCalls++
	s.mu.Unlock()
	return s.inst, s.err
}
func (s *stubAPI) LastPrice(context.Context, string) (float64, error)          { return s.last, s.err }
func (s *stubAPI) WalletBalance(context.Context, string) (float64, error)      { return s.wallet, s.err }
func (s *stubAPI) TransferableAmount(context.Context, string) (float64, error) { return s.transfer, s.err }
func (s *stubAPI) FeeRate(context.Context, string) (bybit.FeeRate, error) {
	s.feeCalls++
	return s.fee, s.err
}
func (s *stubAPI) Positions(context.Context, string) ([]bybit.Position, error) {
	return s.positions, s.err
}
func (s *stubAPI) OpenOrders(context.Context, string) ([]bybit.Order, error) { return s.orders, s.err }
func (s *stubAPI) CreateOrder(_ context.Context, req bybit.OrderRequest) (bybit.OrderResult, error) {
	s.created = append(s.created, req)
	if s.createErr != nil {
		return bybit.OrderResult{}, s.createErr
	}
	return bybit.OrderResult{OrderID: "ord-1", OrderLinkID: req.OrderLinkID}, nil
}
func (s *stubAPI) CancelAll(_ context.Context, symbol string) error {
	s.cancelled = append(s.cancelled, symbol)
	return s.cancelErr
}
func (s *stubAPI) SetLeverage(_ context.Context, _ string, leverage string) error {
	s.leverages = append(s.leverages, leverage)
	return s.leverageErr
}

// memCache is an in-memory Cache keeping values by pointer copy.
type memCache struct {
	items map[string]model.Instrument
	sets  int
}

func (m *memCache) Get(_ context.Context, key string, dst any) (bool, error) {
	v, ok := m.items[key]
	if ok {
		*dst.(*model.Instrument) = v
	}
	return ok, nil
}

func (m *memCache) Set(_ context.Context, key string, v any, _ time.Duration) error {
	m.items[key] = v.(model.Instrument)
	m.sets++
	return nil
}

type recordingNotifier struct{ alerts []notification.Alert }

func (r *recordingNotifier) Send(_ context.Context, a notification.Alert) error {
	r.alerts = append(r.alerts, a)
	return nil
}

var btcInfo = bybit.InstrumentInfo{
	Symbol: "BTCUSDT", Status: "Trading", TickSize: 0.1, QtyStep: 0.01, MinOrderQty: 0.01, MaxLeverage: 100,
}

var errNetwork = errors.New("dial tcp: connection refused")

func newTestGateway(api *stubAPI) (*Gateway, *recordingNotifier) {
	n := &recordingNotifier{}
	g := NewGateway(api, NewCatalog(api, nil, 0, nil), GatewayConfig{Leverage: 5, ChatID: 42, Notify: n})
	g.linkID = func() string { return "link-1" }
	return g, n
}

// ────────────────────────────────────────────────────────────
// Catalog
// ────────────────────────────────────────────────────────────

func TestCatalog_CachesLocally(t *testing.T) {
	api := &stubAPI{inst: btcInfo}
	cache := &memCache{items: map[string]model.Instrument{}}
	c := NewCatalog(api, cache, time.Hour, nil)

	for i := 0; i < 3; i++ {
		inst, err := c.Instrument(context.Background(), "BTCUSDT")
		if err != nil {
			t.Fatalf("Instrument: %v", err)
		}
		if inst.PriceStep != 0.1 || inst.QtyStep != 0.01 || inst.MaxLeverage != 100 {
			t.Errorf("inst = %+v", inst)
		}
	}
	if api.instCalls != 1 {
		t.Errorf("api calls = %d, want 1", api.instCalls)
	}
	if cache.sets != 1 {
		t.Errorf("cache sets = %d, want 1", cache.sets)
	}
}

func TestCatalog_SharedCacheHit(t *testing.T) {
	api := &stubAPI{err: errNetwork}
	cache := &memCache{items: map[string]model.Instrument{
		"instrument:ETHUSDT": {Symbol: "ETHUSDT", PriceStep: 0.01, QtyStep: 0.01, MinOrderQty: 0.01, MaxLeverage: 50},
	}}
	c := NewCatalog(api, cache, time.Hour, nil)

	lev, err := c.MaxLeverage(context.Background(), "ETHUSDT")
	if err != nil {
		t.Fatalf("MaxLeverage: %v", err)
	}
	if lev != 50 || api.instCalls != 0 {
		t.Errorf("lev=%v calls=%d, want 50 from cache", lev, api.instCalls)
	}
}

func TestCatalog_UpstreamFailure(t *testing.T) {
	c := NewCatalog(&stubAPI{err: errNetwork}, nil, 0, nil)
	if _, err := c.Instrument(context.Background(), "BTCUSDT"); !errors.Is(err, model.ErrUpstreamUnavailable) {
		t.Errorf("err = %v, want ErrUpstreamUnavailable", err)
	}
}

// ────────────────────────────────────────────────────────────
// Account
// ────────────────────────────────────────────────────────────

func TestAccount_Reads(t *testing.T) {
	api := &stubAPI{
		inst:     btcInfo,
		wallet:   1200,
		transfer: 800,
		fee:      bybit.FeeRate{Symbol: "BTCUSDT", Taker: 0.00055, Maker: 0.0002},
		orders:   []bybit.Order{{OrderID: "a"}, {OrderID: "b"}},
		positions: []bybit.Position{
			{Symbol: "BTCUSDT", Side: "", Size: 0},
			{Symbol: "BTCUSDT", Side: "Sell", Size: 0.5, AvgPrice: 64000},
		},
	}
	a := NewAccount(api, NewCatalog(api, nil, 0, nil), "")
	ctx := context.Background()

	if v, _ := a.AvailableCapital(ctx); v != 800 {
		t.Errorf("AvailableCapital = %v, want 800", v)
	}
	if v, _ := a.Balance(ctx); v != 1200 {
		t.Errorf("Balance = %v, want 1200", v)
	}
	for i := 0; i < 2; i++ {
		if v, _ := a.TakerFee(ctx, "BTCUSDT"); v != 0.00055 {
			t.Errorf("TakerFee = %v", v)
		}
	}
	if api.feeCalls != 1 {
		t.Errorf("fee calls = %d, want 1", api.feeCalls)
	}
	if n, _ := a.OpenOrderCount(ctx, "BTCUSDT"); n != 2 {
		t.Errorf("OpenOrderCount = %d, want 2", n)
	}
	if step, _ := a.PriceStep(ctx, "BTCUSDT"); step != 0.1 {
		t.Errorf("PriceStep = %v", step)
	}

	pos, err := a.CurrentPosition(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("CurrentPosition: %v", err)
	}
	if pos == nil || !pos.Short() || pos.Size != 0.5 || pos.EntryPrice != 64000 {
		t.Errorf("pos = %+v, want short 0.5 @ 64000", pos)
	}

	api.positions = nil
	if pos, _ := a.CurrentPosition(ctx, "BTCUSDT"); pos != nil {
		t.Errorf("flat: pos = %+v, want nil", pos)
	}
}

func TestAccount_FailuresAreUpstream(t *testing.T) {
	api := &stubAPI{err: errNetwork}
	a := NewAccount(api, NewCatalog(api, nil, 0, nil), "")
	ctx := context.Background()

	checks := map[string]error{}
	_, checks["capital"] = a.AvailableCapital(ctx)
	_, checks["balance"] = a.Balance(ctx)
	_, checks["fee"] = a.TakerFee(ctx, "BTCUSDT")
	_, checks["position"] = a.CurrentPosition(ctx, "BTCUSDT")
	_, checks["orders"] = a.OpenOrderCount(ctx, "BTCUSDT")
	_, checks["step"] = a.PriceStep(ctx, "BTCUSDT")

	for name, err := range checks {
		if !errors.Is(err, model.ErrUpstreamUnavailable) {
			t.Errorf("%s: err = %v, want ErrUpstreamUnavailable", name, err)
		}
	}
}

// ────────────────────────────────────────────────────────────
// Gateway
// ────────────────────────────────────────────────────────────

func TestGateway_StopOrderRequest(t *testing.T) {
	tests := []struct {
		side      model.Side
		direction int
	}{
		{model.Buy, bybit.TriggerRise},
		{model.Sell, bybit.TriggerFall},
	}
	for _, tt := range tests {
		t.Run(string(tt.side), func(t *testing.T) {
			api := &stubAPI{inst: btcInfo}
			g, n := newTestGateway(api)

			ack, err := g.SubmitStopOrder(context.Background(), model.StopOrder{
				Symbol: "BTCUSDT", Side: tt.side, TriggerPrice: 106.1, LimitPrice: 106.1, Qty: 1.2345, StopLoss: 98.8,
			})
			if err != nil {
				t.Fatalf("SubmitStopOrder: %v", err)
			}
			if ack.OrderID != "ord-1" || ack.LinkID != "link-1" {
				t.Errorf("ack = %+v", ack)
			}
			if len(api.leverages) != 1 || api.leverages[0] != "5" {
				t.Errorf("leverage calls = %v, want [5]", api.leverages)
			}
			if len(api.created) != 1 {
				t.Fatalf("created %d orders, want 1", len(api.created))
			}
			req := api.created[0]
			want := bybit.OrderRequest{
				Symbol: "BTCUSDT", Side: string(tt.side), OrderType: bybit.OrderLimit,
				Qty: "1.23", Price: "106.1", TriggerPrice: "106.1",
				TriggerDirection: tt.direction, TriggerBy: bybit.TriggerLastPrice, TPSLMode: bybit.TPSLFull,
				StopLoss: "98.8", SLOrderType: bybit.OrderMarket, SLTriggerBy: bybit.TriggerLastPrice,
				OrderLinkID: "link-1",
			}
			if req != want {
				t.Errorf("request =\n%+v\nwant\n%+v", req, want)
			}
			if len(n.alerts) != 1 || n.alerts[0].ChatID != 42 {
				t.Errorf("alerts = %+v, want one for chat 42", n.alerts)
			}
		})
	}
}

func TestGateway_MarketOrderRequest(t *testing.T) {
	api := &stubAPI{inst: btcInfo, last: 100}
	g, n := newTestGateway(api)

	if _, err := g.SubmitMarketOrder(context.Background(), model.MarketOrder{
		Symbol: "BTCUSDT", Side: model.Sell, Qty: 3, StopLoss: 104.25,
	}); err != nil {
		t.Fatalf("SubmitMarketOrder: %v", err)
	}
	req := api.created[0]
	want := bybit.OrderRequest{
		Symbol: "BTCUSDT", Side: "Sell", OrderType: bybit.OrderMarket, Qty: "3.00",
		TPSLMode: bybit.TPSLFull, StopLoss: "104.3", SLOrderType: bybit.OrderMarket,
		SLTriggerBy: bybit.TriggerLastPrice, OrderLinkID: "link-1",
	}
	if req != want {
		t.Errorf("request =\n%+v\nwant\n%+v", req, want)
	}
	if len(n.alerts) != 1 || n.alerts[0].Title != "Market sell order placed" {
		t.Errorf("alerts = %+v", n.alerts)
	}
}

func TestGateway_BelowMinimumIsInvalidSizing(t *testing.T) {
	api := &stubAPI{inst: btcInfo}
	g, _ := newTestGateway(api)

	_, err := g.SubmitStopOrder(context.Background(), model.StopOrder{
		Symbol: "BTCUSDT", Side: model.Buy, TriggerPrice: 100, Qty: 0.009,
	})
	if !errors.Is(err, model.ErrInvalidSizing) {
		t.Errorf("err = %v, want ErrInvalidSizing", err)
	}
	if len(api.created) != 0 {
		t.Errorf("order was sent: %+v", api.created)
	}
}

func TestGateway_ErrorMapping(t *testing.T) {
	refused := &bybit.APIError{Code: bybit.ErrCodeInsufficientBalance, Message: "ab not enough for new order"}
	tests := []struct {
		name        string
		createErr   error
		leverageErr error
		want        error
		wantSent    int
	}{
		{"api refusal", refused, nil, model.ErrOrderRejected, 1},
		{"transport failure", errNetwork, nil, model.ErrUpstreamUnavailable, 1},
		{"leverage refused still places", nil, &bybit.APIError{Code: 110012}, nil, 1},
		{"leverage transport failure aborts", nil, errNetwork, model.ErrUpstreamUnavailable, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &stubAPI{inst: btcInfo, createErr: tt.createErr, leverageErr: tt.leverageErr}
			g, _ := newTestGateway(api)
			_, err := g.SubmitMarketOrder(context.Background(), model.MarketOrder{Symbol: "BTCUSDT", Side: model.Buy, Qty: 1})
			if tt.want == nil && err != nil {
				t.Errorf("err = %v, want nil", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if len(api.created) != tt.wantSent {
				t.Errorf("sent %d orders, want %d", len(api.created), tt.wantSent)
			}
		})
	}
}

func TestGateway_CancelAll(t *testing.T) {
	api := &stubAPI{}
	g, _ := newTestGateway(api)
	if err := g.CancelAllOrders(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("CancelAllOrders: %v", err)
	}
	if len(api.cancelled) != 1 || api.cancelled[0] != "BTCUSDT" {
		t.Errorf("cancelled = %v", api.cancelled)
	}

	api.cancelErr = &bybit.APIError{Code: bybit.ErrCodeInvalidParams}
	if err := g.CancelAllOrders(context.Background(), "BTCUSDT"); !errors.Is(err, model.ErrOrderRejected) {
		t.Errorf("err = %v, want ErrOrderRejected", err)
	}
}

// ────────────────────────────────────────────────────────────
// Source, keys, stream mapping
// ────────────────────────────────────────────────────────────

func TestSource_FetchCandles(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	api := &stubAPI{klines: []bybit.Kline{
		{Start: t0, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
		{Start: t0.Add(time.Minute), Open: 1.5, High: 3, Low: 1, Close: 2.5, Volume: 20},
	}}
	got, err := NewSource(api, 0).FetchCandles(context.Background(), "BTCUSDT", "1")
	if err != nil {
		t.Fatalf("FetchCandles: %v", err)
	}
	if len(got) != 2 || !got[0].Time.Equal(t0) || got[1].Close != 2.5 || got[1].Volume != 20 {
		t.Errorf("candles = %+v", got)
	}

	api.err = errNetwork
	if _, err := NewSource(api, 0).FetchCandles(context.Background(), "BTCUSDT", "1"); !errors.Is(err, model.ErrUpstreamUnavailable) {
		t.Errorf("err = %v, want ErrUpstreamUnavailable", err)
	}
}

func TestVerifyKeys(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"ok", nil, nil},
		{"refused", &bybit.APIError{Code: bybit.ErrCodeInvalidKey, Message: "API key is invalid."}, ErrInvalidKeys},
		{"network", errNetwork, model.ErrUpstreamUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bal, err := verifyKeys(context.Background(), &stubAPI{wallet: 55, err: tt.err})
			if tt.want == nil {
				if err != nil || bal != 55 {
					t.Errorf("got %v, %v; want 55, nil", bal, err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSessions_OpenNeedsKeys(t *testing.T) {
	s := NewSessions(SessionsConfig{Client: bybit.Config{BaseURL: "http://127.0.0.1:1"}})
	if _, err := s.Open(context.Background(), Credentials{ChatID: 1}, 3); !errors.Is(err, ErrInvalidKeys) {
		t.Errorf("err = %v, want ErrInvalidKeys", err)
	}
	sess, err := s.Open(context.Background(), Credentials{ChatID: 1, APIKey: "k", APISecret: "s"}, 3)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if sess.Gateway.leverage != 3 || sess.Gateway.chatID != 1 {
		t.Errorf("gateway leverage=%d chat=%d", sess.Gateway.leverage, sess.Gateway.chatID)
	}
}

func TestToOrderUpdate(t *testing.T) {
	u := toOrderUpdate(bybit.OrderEvent{
		OrderID: "x", Symbol: "BTCUSDT", Side: "Buy", OrderType: "Limit",
		Status: "Filled", RejectReason: "EC_NoError", Price: 100, AvgPrice: 100.5, CumExecQty: 2,
	})
	if !u.Filled() || u.FillPrice() != 100.5 || u.Side != model.Buy {
		t.Errorf("update = %+v", u)
	}
}
