package binance

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/common"
)

// MockClient is an in-memory Exchange for tests and dry runs. Orders rest
// until SetOrderState moves them, unless FillOnCreate is set.
type MockClient struct {
	mu sync.Mutex

	markets map[string]Market
	tickers map[string]Ticker
	klines  map[string][]Kline
	balance float64

	orders map[string]*Order
	ocos   map[int64]string
	nextID int64

	errs  map[string]error
	calls map[string]int

	FillOnCreate bool
}

// NewMockClient creates a mock holding balance of the quote asset
func NewMockClient(balance float64) *MockClient {
	return &MockClient{
		markets: make(map[string]Market),
		tickers: make(map[string]Ticker),
		klines:  make(map[string][]Kline),
		balance: balance,
		orders:  make(map[string]*Order),
		ocos:    make(map[int64]string),
		nextID:  1000,
		errs:    make(map[string]error),
		calls:   make(map[string]int),
	}
}

func (m *MockClient) enter(method string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[method]++
	return m.errs[method]
}

// AddMarket registers a market with the given lot step and min notional
func (m *MockClient) AddMarket(symbol, base, quote string, step, minNotional float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markets[symbol] = Market{
		Symbol:      symbol,
		BaseAsset:   base,
		QuoteAsset:  quote,
		Active:      true,
		StepSize:    step,
		TickSize:    0.0001,
		MinQty:      step,
		MinNotional: minNotional,
		OCOAllowed:  true,
	}
}

// SetTicker sets the ticker of a symbol
func (m *MockClient) SetTicker(symbol string, last, percentage, quoteVolume float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickers[symbol] = Ticker{
		Symbol:      symbol,
		Last:        last,
		QuoteVolume: quoteVolume,
		Percentage:  percentage,
		UpdatedAt:   time.Now(),
	}
}

// SetKlines sets the candle history of a symbol
func (m *MockClient) SetKlines(symbol string, klines []Kline) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.klines[symbol] = klines
}

// SetBalance overrides the free quote balance
func (m *MockClient) SetBalance(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balance = v
}

// FailOn makes every call of method return err; nil clears it
func (m *MockClient) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, method)
		return
	}
	m.errs[method] = err
}

// Calls returns how often method was invoked
func (m *MockClient) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// SetOrderState moves an order to a new status and fill
func (m *MockClient) SetOrderState(id string, status OrderStatus, filled, average float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[id]; ok {
		o.Status = status
		o.Filled = filled
		o.Average = average
	}
}

// CompleteOCO removes a bracket as if one of its legs executed
func (m *MockClient) CompleteOCO(orderListID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ocos, orderListID)
}

// OpenOCOCount returns the number of live brackets
func (m *MockClient) OpenOCOCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ocos)
}

// Order returns a copy of a stored order
func (m *MockClient) Order(id string) (Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

func (m *MockClient) LoadMarkets(ctx context.Context) (map[string]Market, error) {
	if err := m.enter("LoadMarkets"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Market, len(m.markets))
	for k, v := range m.markets {
		out[k] = v
	}
	return out, nil
}

func (m *MockClient) FetchBalance(ctx context.Context, asset string) (float64, error) {
	if err := m.enter("FetchBalance"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance, nil
}

func (m *MockClient) FetchTicker(ctx context.Context, symbol string) (*Ticker, error) {
	if err := m.enter("FetchTicker"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickers[symbol]
	if !ok {
		return nil, fmt.Errorf("invalid symbol %s", symbol)
	}
	return &t, nil
}

func (m *MockClient) FetchTickers(ctx context.Context) (map[string]Ticker, error) {
	if err := m.enter("FetchTickers"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Ticker, len(m.tickers))
	for k, v := range m.tickers {
		out[k] = v
	}
	return out, nil
}

func (m *MockClient) FetchOHLCV(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	if err := m.enter("FetchOHLCV"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.klines[symbol]
	if limit > 0 && len(k) > limit {
		k = k[len(k)-limit:]
	}
	out := make([]Kline, len(k))
	copy(out, k)
	return out, nil
}

func (m *MockClient) GetMarket(ctx context.Context, symbol string) (*Market, error) {
	if err := m.enter("GetMarket"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	mk, ok := m.markets[symbol]
	if !ok {
		return nil, fmt.Errorf("invalid symbol %s", symbol)
	}
	return &mk, nil
}

func (m *MockClient) createOrder(method string, side OrderSide, symbol string, amount, price float64) (*Order, error) {
	if err := m.enter(method); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	o := &Order{
		ID:          strconv.FormatInt(m.nextID, 10),
		Symbol:      symbol,
		Side:        side,
		Status:      OrderStatusNew,
		Price:       price,
		Amount:      amount,
		OrderListID: -1,
		CreatedAt:   time.Now(),
	}
	if m.FillOnCreate {
		o.Status = OrderStatusFilled
		o.Filled = amount
		o.Average = price
	}
	m.orders[o.ID] = o
	cp := *o
	return &cp, nil
}

func (m *MockClient) CreateLimitBuyOrder(ctx context.Context, symbol string, amount, price float64) (*Order, error) {
	return m.createOrder("CreateLimitBuyOrder", SideBuy, symbol, amount, price)
}

func (m *MockClient) CreateLimitSellOrder(ctx context.Context, symbol string, amount, price float64) (*Order, error) {
	return m.createOrder("CreateLimitSellOrder", SideSell, symbol, amount, price)
}

func (m *MockClient) FetchOrder(ctx context.Context, id, symbol string) (*Order, error) {
	if err := m.enter("FetchOrder"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s does not exist", id)
	}
	cp := *o
	return &cp, nil
}

func (m *MockClient) CancelOrder(ctx context.Context, id, symbol string) error {
	if err := m.enter("CancelOrder"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return fmt.Errorf("order %s does not exist", id)
	}
	if o.IsClosed() || o.IsCanceled() {
		return &common.APIError{Code: -2011, Message: "Unknown order sent."}
	}
	o.Status = OrderStatusCanceled
	return nil
}

func (m *MockClient) CreateOCOOrder(ctx context.Context, symbol string, amount, stopLoss, stopLimit, takeProfit float64) (*OCOOrder, error) {
	if err := m.enter("CreateOCOOrder"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.ocos[m.nextID] = symbol
	return &OCOOrder{OrderListID: m.nextID, Symbol: symbol}, nil
}

func (m *MockClient) CancelOCOOrder(ctx context.Context, symbol string, orderListID int64) error {
	if err := m.enter("CancelOCOOrder"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ocos[orderListID]; !ok {
		return fmt.Errorf("order list %d does not exist", orderListID)
	}
	delete(m.ocos, orderListID)
	return nil
}

func (m *MockClient) FetchOpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	if err := m.enter("FetchOpenOrders"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.orders {
		if o.Symbol == symbol && (o.Status == OrderStatusNew || o.Status == OrderStatusPartiallyFilled) {
			out = append(out, *o)
		}
	}
	for id, sym := range m.ocos {
		if sym == symbol {
			out = append(out, Order{
				ID:          "oco-" + strconv.FormatInt(id, 10),
				Symbol:      sym,
				Side:        SideSell,
				Status:      OrderStatusNew,
				OrderListID: id,
			})
		}
	}
	return out, nil
}
