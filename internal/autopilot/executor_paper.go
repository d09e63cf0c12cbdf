package autopilot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"spot-trading-engine/internal/binance"
)

// PaperExecutor simulates fills against a virtual quote balance. Entries are
// debited when their fill is observed and exits are credited immediately,
// net of the taker fee.
type PaperExecutor struct {
	feePercent float64
	now        func() time.Time

	mu      sync.Mutex
	balance float64
	orders  map[string]*binance.Order
}

// NewPaperExecutor creates a simulator holding balance of the quote asset
func NewPaperExecutor(balance, feePercent float64) *PaperExecutor {
	return &PaperExecutor{
		feePercent: feePercent,
		now:        time.Now,
		balance:    balance,
		orders:     make(map[string]*binance.Order),
	}
}

func (p *PaperExecutor) Paper() bool { return true }

func (p *PaperExecutor) Balance(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance, nil
}

func newPaperOrderID() string {
	return "PAPER_" + uuid.NewString()
}

func (p *PaperExecutor) Buy(ctx context.Context, market binance.Market, amount, price float64) (*binance.Order, error) {
	qty, px := market.RoundAmount(amount), market.RoundPrice(price)
	if qty <= 0 {
		return nil, fmt.Errorf("buy %s: amount %.8f rounds to zero", market.Symbol, amount)
	}
	o := &binance.Order{
		ID:          newPaperOrderID(),
		Symbol:      market.Symbol,
		Side:        binance.SideBuy,
		Status:      binance.OrderStatusNew,
		Price:       px,
		Amount:      qty,
		OrderListID: -1,
		CreatedAt:   p.now(),
	}
	p.mu.Lock()
	p.orders[o.ID] = o
	p.mu.Unlock()
	cp := *o
	return &cp, nil
}

// FetchOrder fills a resting simulated buy at its limit price on first look.
// A buy the balance cannot cover is rejected instead.
func (p *PaperExecutor) FetchOrder(ctx context.Context, id, symbol string) (*binance.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s does not exist", id)
	}
	if o.Status == binance.OrderStatusNew && o.Side == binance.SideBuy {
		cost := o.Price * o.Amount
		if cost > p.balance {
			o.Status = binance.OrderStatusRejected
		} else {
			p.balance -= cost
			o.Status = binance.OrderStatusFilled
			o.Filled = o.Amount
			o.Average = o.Price
		}
	}
	cp := *o
	return &cp, nil
}

func (p *PaperExecutor) CancelOrder(ctx context.Context, id, symbol string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[id]
	if !ok {
		return fmt.Errorf("order %s does not exist", id)
	}
	if o.Status == binance.OrderStatusNew {
		o.Status = binance.OrderStatusCanceled
	}
	return nil
}

// Sell fills immediately at price and credits the proceeds
func (p *PaperExecutor) Sell(ctx context.Context, market binance.Market, amount, price float64) (*binance.Order, error) {
	qty := market.RoundAmount(amount)
	if qty <= 0 {
		qty = amount
	}
	proceeds := price * qty
	fee := proceeds * p.feePercent / 100

	o := &binance.Order{
		ID:          newPaperOrderID(),
		Symbol:      market.Symbol,
		Side:        binance.SideSell,
		Status:      binance.OrderStatusFilled,
		Price:       price,
		Amount:      qty,
		Filled:      qty,
		Average:     price,
		OrderListID: -1,
		CreatedAt:   p.now(),
	}
	p.mu.Lock()
	p.balance += proceeds - fee
	p.orders[o.ID] = o
	p.mu.Unlock()
	cp := *o
	return &cp, nil
}

func (p *PaperExecutor) PlaceBracket(ctx context.Context, market binance.Market, amount, stopLoss, stopLimit, takeProfit float64) (int64, error) {
	return 0, ErrNoBracket
}

func (p *PaperExecutor) CancelBracket(ctx context.Context, symbol string, orderListID int64) error {
	return ErrNoBracket
}

func (p *PaperExecutor) BracketActive(ctx context.Context, symbol string, orderListID int64) (bool, error) {
	return false, ErrNoBracket
}

var (
	_ Executor = (*LiveExecutor)(nil)
	_ Executor = (*PaperExecutor)(nil)
)
