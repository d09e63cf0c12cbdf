package binance

import "context"

// Exchange defines the trading API the engine consumes. Every error surfaces a
// message that IsNonRetryable can classify.
type Exchange interface {
	LoadMarkets(ctx context.Context) (map[string]Market, error)
	FetchBalance(ctx context.Context, asset string) (float64, error)
	FetchTicker(ctx context.Context, symbol string) (*Ticker, error)
	FetchTickers(ctx context.Context) (map[string]Ticker, error)
	FetchOHLCV(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
	GetMarket(ctx context.Context, symbol string) (*Market, error)
	CreateLimitBuyOrder(ctx context.Context, symbol string, amount, price float64) (*Order, error)
	CreateLimitSellOrder(ctx context.Context, symbol string, amount, price float64) (*Order, error)
	FetchOrder(ctx context.Context, id, symbol string) (*Order, error)
	CancelOrder(ctx context.Context, id, symbol string) error
	CreateOCOOrder(ctx context.Context, symbol string, amount, stopLoss, stopLimit, takeProfit float64) (*OCOOrder, error)
	CancelOCOOrder(ctx context.Context, symbol string, orderListID int64) error
	FetchOpenOrders(ctx context.Context, symbol string) ([]Order, error)
}

// PriceFeed is a push-updated ticker cache
type PriceFeed interface {
	IsConnected() bool
	Tickers() map[string]Ticker
	Ticker(symbol string) (Ticker, bool)
}

var (
	_ Exchange  = (*Client)(nil)
	_ Exchange  = (*RetryClient)(nil)
	_ Exchange  = (*MockClient)(nil)
	_ PriceFeed = (*StreamFeed)(nil)
)
