package autopilot

import (
	"context"
	"errors"
	"fmt"

	"spot-trading-engine/internal/binance"
)

// ErrNoBracket means the executor cannot keep exchange-side brackets and the
// position is monitored in software
var ErrNoBracket = errors.New("exchange brackets not supported")

// Executor places and inspects orders. Paper and live trading are the two
// implementations, chosen once at construction.
type Executor interface {
	Paper() bool
	Balance(ctx context.Context) (float64, error)
	Buy(ctx context.Context, market binance.Market, amount, price float64) (*binance.Order, error)
	Sell(ctx context.Context, market binance.Market, amount, price float64) (*binance.Order, error)
	FetchOrder(ctx context.Context, id, symbol string) (*binance.Order, error)
	CancelOrder(ctx context.Context, id, symbol string) error
	PlaceBracket(ctx context.Context, market binance.Market, amount, stopLoss, stopLimit, takeProfit float64) (int64, error)
	CancelBracket(ctx context.Context, symbol string, orderListID int64) error
	BracketActive(ctx context.Context, symbol string, orderListID int64) (bool, error)
}

// LiveExecutor trades against the exchange. Quantities and prices are
// floored to the market lot and tick before submission.
type LiveExecutor struct {
	exchange binance.Exchange
	quote    string
}

// NewLiveExecutor creates an executor over exchange, reporting the balance of quote
func NewLiveExecutor(exchange binance.Exchange, quote string) *LiveExecutor {
	if quote == "" {
		quote = "USDT"
	}
	return &LiveExecutor{exchange: exchange, quote: quote}
}

func (e *LiveExecutor) Paper() bool { return false }

func (e *LiveExecutor) Balance(ctx context.Context) (float64, error) {
	return e.exchange.FetchBalance(ctx, e.quote)
}

func (e *LiveExecutor) Buy(ctx context.Context, market binance.Market, amount, price float64) (*binance.Order, error) {
	qty, px := market.RoundAmount(amount), market.RoundPrice(price)
	if qty <= 0 {
		return nil, fmt.Errorf("buy %s: amount %.8f rounds to zero", market.Symbol, amount)
	}
	return e.exchange.CreateLimitBuyOrder(ctx, market.Symbol, qty, px)
}

func (e *LiveExecutor) Sell(ctx context.Context, market binance.Market, amount, price float64) (*binance.Order, error) {
	qty, px := market.RoundAmount(amount), market.RoundPrice(price)
	if qty <= 0 {
		return nil, fmt.Errorf("sell %s: amount %.8f rounds to zero", market.Symbol, amount)
	}
	return e.exchange.CreateLimitSellOrder(ctx, market.Symbol, qty, px)
}

func (e *LiveExecutor) FetchOrder(ctx context.Context, id, symbol string) (*binance.Order, error) {
	return e.exchange.FetchOrder(ctx, id, symbol)
}

func (e *LiveExecutor) CancelOrder(ctx context.Context, id, symbol string) error {
	return e.exchange.CancelOrder(ctx, id, symbol)
}

func (e *LiveExecutor) PlaceBracket(ctx context.Context, market binance.Market, amount, stopLoss, stopLimit, takeProfit float64) (int64, error) {
	oco, err := e.exchange.CreateOCOOrder(ctx, market.Symbol,
		market.RoundAmount(amount),
		market.RoundPrice(stopLoss),
		market.RoundPrice(stopLimit),
		market.RoundPrice(takeProfit))
	if err != nil {
		return 0, err
	}
	return oco.OrderListID, nil
}

func (e *LiveExecutor) CancelBracket(ctx context.Context, symbol string, orderListID int64) error {
	return e.exchange.CancelOCOOrder(ctx, symbol, orderListID)
}

// BracketActive reports whether any open order still belongs to the order list
func (e *LiveExecutor) BracketActive(ctx context.Context, symbol string, orderListID int64) (bool, error) {
	orders, err := e.exchange.FetchOpenOrders(ctx, symbol)
	if err != nil {
		return false, err
	}
	for _, o := range orders {
		if o.OrderListID == orderListID {
			return true, nil
		}
	}
	return false, nil
}
