package binance

import (
	"strings"
	"time"
)

// Kline is one candle of a series, oldest first
type Kline struct {
	OpenTime int64   `json:"open_time"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
}

// Ticker is the 24h rolling snapshot of a symbol
type Ticker struct {
	Symbol      string    `json:"symbol"`
	Last        float64   `json:"last"`
	QuoteVolume float64   `json:"quote_volume"`
	Percentage  float64   `json:"percentage"` // 24h change percent
	UpdatedAt   time.Time `json:"updated_at"`
}

// Market holds the trading rules the engine needs for a spot symbol
type Market struct {
	Symbol      string  `json:"symbol"`
	BaseAsset   string  `json:"base_asset"`
	QuoteAsset  string  `json:"quote_asset"`
	Active      bool    `json:"active"`
	StepSize    float64 `json:"step_size"`
	TickSize    float64 `json:"tick_size"`
	MinQty      float64 `json:"min_qty"`
	MinNotional float64 `json:"min_notional"`
	OCOAllowed  bool    `json:"oco_allowed"`
}

type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderStatus mirrors the exchange order states
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusPendingCancel   OrderStatus = "PENDING_CANCEL"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// Order is the normalized view of an exchange order
type Order struct {
	ID          string      `json:"id"`
	Symbol      string      `json:"symbol"`
	Side        OrderSide   `json:"side"`
	Status      OrderStatus `json:"status"`
	Price       float64     `json:"price"`
	Amount      float64     `json:"amount"`
	Filled      float64     `json:"filled"`
	Average     float64     `json:"average"`
	OrderListID int64       `json:"order_list_id"` // -1 when not part of an OCO list
	CreatedAt   time.Time   `json:"created_at"`
}

// IsClosed reports a fully filled order
func (o *Order) IsClosed() bool {
	return o.Status == OrderStatusFilled
}

// IsCanceled reports an order that will never fill further
func (o *Order) IsCanceled() bool {
	switch o.Status {
	case OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// OCOOrder is the result of creating a stop-loss/take-profit bracket
type OCOOrder struct {
	OrderListID int64  `json:"order_list_id"`
	Symbol      string `json:"symbol"`
}

// BaseAsset strips the quote suffix from a symbol such as BTCUSDT
func BaseAsset(symbol, quote string) string {
	return strings.TrimSuffix(symbol, quote)
}
