package bybit

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const (
	MainnetURL = "https://api.bybit.com"
	TestnetURL = "https://api-testnet.bybit.com"

	MainnetPrivateWS = "wss://stream.bybit.com/v5/private"
	TestnetPrivateWS = "wss://stream-testnet.bybit.com/v5/private"

	CategoryLinear = "linear"
	AccountUnified = "UNIFIED"

	SideBuy  = "Buy"
	SideSell = "Sell"

	OrderMarket = "Market"
	OrderLimit  = "Limit"

	TriggerLastPrice = "LastPrice"
	TPSLFull         = "Full"

	// Trigger directions for conditional orders.
	TriggerRise = 1 // buy stop: price comes from below
	TriggerFall = 2 // sell stop: price comes from above
)

// API error codes the client cares about.
const (
	ErrCodeInvalidParams       = 10001
	ErrCodeInvalidKey          = 10003
	ErrCodeInvalidSign         = 10004
	ErrCodePermissionDenied    = 10005
	ErrCodeRateLimit           = 10006
	ErrCodeInsufficientBalance = 110007
	ErrCodeLeverageNotModified = 110043
)

// ErrUnknownSymbol is returned when instruments-info has no entry for the
// requested symbol.
var ErrUnknownSymbol = errors.New("bybit: unknown symbol")

// APIResponse is the v5 response envelope.
type APIResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
	Time    int64           `json:"time"`
}

// APIError is a response with a non-zero retCode. The request reached the
// exchange and was refused.
type APIError struct {
	Code    int
	Message string
	Path    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bybit: %s: retCode=%d %s", e.Path, e.Code, e.Message)
}

// AsAPIError unwraps err to an *APIError.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsAuthError reports whether err is a credential or permission refusal.
func IsAuthError(err error) bool {
	apiErr, ok := AsAPIError(err)
	if !ok {
		return false
	}
	switch apiErr.Code {
	case ErrCodeInvalidKey, ErrCodeInvalidSign, ErrCodePermissionDenied:
		return true
	}
	return false
}

// Kline is one candle. Klines are returned oldest first.
type Kline struct {
	Start    time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
	Turnover float64
}

// InstrumentInfo holds the filters of a linear contract.
type InstrumentInfo struct {
	Symbol      string
	Status      string
	TickSize    float64
	QtyStep     float64
	MinOrderQty float64
	MaxLeverage float64
}

// FeeRate is the account fee schedule for one symbol.
type FeeRate struct {
	Symbol string
	Taker  float64
	Maker  float64
}

// Position is an entry of /v5/position/list. Side is empty when flat.
type Position struct {
	Symbol        string
	Side          string
	Size          float64
	AvgPrice      float64
	Leverage      float64
	UnrealisedPnl float64
}

// Order is an open order.
type Order struct {
	OrderID      string
	OrderLinkID  string
	Symbol       string
	Side         string
	OrderType    string
	Price        float64
	Qty          float64
	TriggerPrice float64
	Status       string
}

// OrderRequest is the body of /v5/order/create. Prices and quantities are
// strings, already rounded to the instrument steps.
type OrderRequest struct {
	Category         string `json:"category"`
	Symbol           string `json:"symbol"`
	Side             string `json:"side"`
	OrderType        string `json:"orderType"`
	Qty              string `json:"qty"`
	Price            string `json:"price,omitempty"`
	TriggerPrice     string `json:"triggerPrice,omitempty"`
	TriggerDirection int    `json:"triggerDirection,omitempty"`
	TriggerBy        string `json:"triggerBy,omitempty"`
	TPSLMode         string `json:"tpslMode,omitempty"`
	StopLoss         string `json:"stopLoss,omitempty"`
	SLOrderType      string `json:"slOrderType,omitempty"`
	SLTriggerBy      string `json:"slTriggerBy,omitempty"`
	TakeProfit       string `json:"takeProfit,omitempty"`
	TPOrderType      string `json:"tpOrderType,omitempty"`
	TPTriggerBy      string `json:"tpTriggerBy,omitempty"`
	OrderLinkID      string `json:"orderLinkId,omitempty"`
}

// OrderResult is the acknowledgement of a created order.
type OrderResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

// OrderEvent is one entry of the private "order" topic.
type OrderEvent struct {
	OrderID      string
	OrderLinkID  string
	Symbol       string
	Side         string
	OrderType    string
	Status       string
	RejectReason string
	Price        float64
	AvgPrice     float64
	Qty          float64
	CumExecQty   float64
	CumExecValue float64
	UpdatedAt    time.Time
}

// ── wire forms ──

type klineResult struct {
	Category string     `json:"category"`
	Symbol   string     `json:"symbol"`
	List     [][]string `json:"list"`
}

type instrumentResult struct {
	List []struct {
		Symbol         string `json:"symbol"`
		Status         string `json:"status"`
		LeverageFilter struct {
			MaxLeverage string `json:"maxLeverage"`
		} `json:"leverageFilter"`
		PriceFilter struct {
			TickSize string `json:"tickSize"`
		} `json:"priceFilter"`
		LotSizeFilter struct {
			QtyStep     string `json:"qtyStep"`
			MinOrderQty string `json:"minOrderQty"`
		} `json:"lotSizeFilter"`
	} `json:"list"`
}

type tickerResult struct {
	List []struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
	} `json:"list"`
}

type walletResult struct {
	List []struct {
		AccountType string `json:"accountType"`
		Coin        []struct {
			Coin          string `json:"coin"`
			Equity        string `json:"equity"`
			WalletBalance string `json:"walletBalance"`
		} `json:"coin"`
	} `json:"list"`
}

type transferableResult struct {
	AvailableWithdrawal string `json:"availableWithdrawal"`
}

type feeResult struct {
	List []struct {
		Symbol       string `json:"symbol"`
		TakerFeeRate string `json:"takerFeeRate"`
		MakerFeeRate string `json:"makerFeeRate"`
	} `json:"list"`
}

type positionResult struct {
	List []struct {
		Symbol        string `json:"symbol"`
		Side          string `json:"side"`
		Size          string `json:"size"`
		AvgPrice      string `json:"avgPrice"`
		Leverage      string `json:"leverage"`
		UnrealisedPnl string `json:"unrealisedPnl"`
	} `json:"list"`
}

type orderListResult struct {
	List []struct {
		OrderID      string `json:"orderId"`
		OrderLinkID  string `json:"orderLinkId"`
		Symbol       string `json:"symbol"`
		Side         string `json:"side"`
		OrderType    string `json:"orderType"`
		Price        string `json:"price"`
		Qty          string `json:"qty"`
		TriggerPrice string `json:"triggerPrice"`
		OrderStatus  string `json:"orderStatus"`
	} `json:"list"`
}

type wireOrderEvent struct {
	OrderID      string `json:"orderId"`
	OrderLinkID  string `json:"orderLinkId"`
	Symbol       string `json:"symbol"`
	Side         string `json:"side"`
	OrderType    string `json:"orderType"`
	OrderStatus  string `json:"orderStatus"`
	RejectReason string `json:"rejectReason"`
	Price        string `json:"price"`
	AvgPrice     string `json:"avgPrice"`
	Qty          string `json:"qty"`
	CumExecQty   string `json:"cumExecQty"`
	CumExecValue string `json:"cumExecValue"`
	UpdatedTime  string `json:"updatedTime"`
}

func (w wireOrderEvent) event() OrderEvent {
	return OrderEvent{
		OrderID:      w.OrderID,
		OrderLinkID:  w.OrderLinkID,
		Symbol:       w.Symbol,
		Side:         w.Side,
		OrderType:    w.OrderType,
		Status:       w.OrderStatus,
		RejectReason: w.RejectReason,
		Price:        num(w.Price),
		AvgPrice:     num(w.AvgPrice),
		Qty:          num(w.Qty),
		CumExecQty:   num(w.CumExecQty),
		CumExecValue: num(w.CumExecValue),
		UpdatedAt:    millis(w.UpdatedTime),
	}
}

// num parses a numeric wire string. Bybit sends "" for unset fields.
func num(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func millis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
