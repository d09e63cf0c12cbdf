package binance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"

	"spot-trading-engine/internal/logging"
)

const banCooldown = time.Minute

// Client is the live spot exchange adapter on top of go-binance. Requests are
// metered through a RateLimiter and bounded by a per-call timeout.
type Client struct {
	api     *gobinance.Client
	limiter *RateLimiter
	timeout time.Duration
	logger  *logging.Logger

	mu      sync.RWMutex
	markets map[string]Market
}

// NewClient creates a spot client. Testnet is selected globally by go-binance
// so it must be chosen before the first client is built.
func NewClient(apiKey, secretKey string, testnet bool, limiter *RateLimiter, timeout time.Duration, logger *logging.Logger) *Client {
	if testnet {
		gobinance.UseTestnet = true
	}
	if limiter == nil {
		limiter = NewRateLimiter(defaultWeightBudget)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Client{
		api:     gobinance.NewClient(apiKey, secretKey),
		limiter: limiter,
		timeout: timeout,
		logger:  logger.WithComponent("BinanceClient"),
		markets: make(map[string]Market),
	}
}

func (c *Client) begin(ctx context.Context, weight int) (context.Context, context.CancelFunc, error) {
	if err := c.limiter.Wait(ctx, weight); err != nil {
		return nil, nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	return callCtx, cancel, nil
}

// observe backs off the whole client when the exchange signals rate abuse
func (c *Client) observe(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) && apiErr.Code == -1003 {
		c.logger.Warn("Request weight exceeded, pausing requests", "cooldown", banCooldown)
		c.limiter.Ban(banCooldown)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func filterString(f map[string]interface{}, key string) float64 {
	if s, ok := f[key].(string); ok {
		return parseFloat(s)
	}
	return 0
}

func toMarket(s gobinance.Symbol) Market {
	m := Market{
		Symbol:     s.Symbol,
		BaseAsset:  s.BaseAsset,
		QuoteAsset: s.QuoteAsset,
		Active:     s.Status == "TRADING" && s.IsSpotTradingAllowed,
		OCOAllowed: s.OcoAllowed,
	}
	for _, f := range s.Filters {
		switch f["filterType"] {
		case "LOT_SIZE":
			m.StepSize = filterString(f, "stepSize")
			m.MinQty = filterString(f, "minQty")
		case "PRICE_FILTER":
			m.TickSize = filterString(f, "tickSize")
		case "NOTIONAL", "MIN_NOTIONAL":
			if v := filterString(f, "minNotional"); v > 0 {
				m.MinNotional = v
			}
		}
	}
	return m
}

func toOrder(o *gobinance.Order) *Order {
	order := &Order{
		ID:          strconv.FormatInt(o.OrderID, 10),
		Symbol:      o.Symbol,
		Side:        OrderSide(o.Side),
		Status:      OrderStatus(o.Status),
		Price:       parseFloat(o.Price),
		Amount:      parseFloat(o.OrigQuantity),
		Filled:      parseFloat(o.ExecutedQuantity),
		OrderListID: o.OrderListId,
		CreatedAt:   time.UnixMilli(o.Time),
	}
	if order.Filled > 0 {
		order.Average = parseFloat(o.CummulativeQuoteQuantity) / order.Filled
	}
	return order
}

func parseOrderID(id string) (int64, error) {
	v, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid order id %q: %w", id, err)
	}
	return v, nil
}

// LoadMarkets fetches exchange info and caches trading rules for every symbol
func (c *Client) LoadMarkets(ctx context.Context) (map[string]Market, error) {
	callCtx, cancel, err := c.begin(ctx, WeightExchangeInfo)
	if err != nil {
		return nil, err
	}
	defer cancel()

	info, err := c.api.NewExchangeInfoService().Do(callCtx)
	if err != nil {
		return nil, c.observe("load markets", err)
	}

	markets := make(map[string]Market, len(info.Symbols))
	for _, s := range info.Symbols {
		markets[s.Symbol] = toMarket(s)
	}

	c.mu.Lock()
	c.markets = markets
	c.mu.Unlock()

	out := make(map[string]Market, len(markets))
	for k, v := range markets {
		out[k] = v
	}
	return out, nil
}

// GetMarket returns cached rules, fetching the single symbol on a miss
func (c *Client) GetMarket(ctx context.Context, symbol string) (*Market, error) {
	c.mu.RLock()
	m, ok := c.markets[symbol]
	c.mu.RUnlock()
	if ok {
		return &m, nil
	}

	callCtx, cancel, err := c.begin(ctx, WeightExchangeInfo)
	if err != nil {
		return nil, err
	}
	defer cancel()

	info, err := c.api.NewExchangeInfoService().Symbol(symbol).Do(callCtx)
	if err != nil {
		return nil, c.observe("get market "+symbol, err)
	}
	for _, s := range info.Symbols {
		if s.Symbol == symbol {
			m := toMarket(s)
			c.mu.Lock()
			c.markets[symbol] = m
			c.mu.Unlock()
			return &m, nil
		}
	}
	return nil, fmt.Errorf("get market %s: invalid symbol", symbol)
}

// FetchBalance returns the free balance of asset
func (c *Client) FetchBalance(ctx context.Context, asset string) (float64, error) {
	callCtx, cancel, err := c.begin(ctx, WeightAccount)
	if err != nil {
		return 0, err
	}
	defer cancel()

	account, err := c.api.NewGetAccountService().Do(callCtx)
	if err != nil {
		return 0, c.observe("fetch balance", err)
	}
	for _, b := range account.Balances {
		if b.Asset == asset {
			return parseFloat(b.Free), nil
		}
	}
	return 0, nil
}

func toTicker(s *gobinance.PriceChangeStats, now time.Time) Ticker {
	return Ticker{
		Symbol:      s.Symbol,
		Last:        parseFloat(s.LastPrice),
		QuoteVolume: parseFloat(s.QuoteVolume),
		Percentage:  parseFloat(s.PriceChangePercent),
		UpdatedAt:   now,
	}
}

// FetchTicker returns the 24h statistics of one symbol
func (c *Client) FetchTicker(ctx context.Context, symbol string) (*Ticker, error) {
	callCtx, cancel, err := c.begin(ctx, WeightTickerSingle)
	if err != nil {
		return nil, err
	}
	defer cancel()

	stats, err := c.api.NewListPriceChangeStatsService().Symbol(symbol).Do(callCtx)
	if err != nil {
		return nil, c.observe("fetch ticker "+symbol, err)
	}
	if len(stats) == 0 {
		return nil, fmt.Errorf("fetch ticker %s: empty response", symbol)
	}
	t := toTicker(stats[0], time.Now())
	return &t, nil
}

// FetchTickers returns 24h statistics of every symbol
func (c *Client) FetchTickers(ctx context.Context) (map[string]Ticker, error) {
	callCtx, cancel, err := c.begin(ctx, WeightTickerAll)
	if err != nil {
		return nil, err
	}
	defer cancel()

	stats, err := c.api.NewListPriceChangeStatsService().Do(callCtx)
	if err != nil {
		return nil, c.observe("fetch tickers", err)
	}
	now := time.Now()
	out := make(map[string]Ticker, len(stats))
	for _, s := range stats {
		out[s.Symbol] = toTicker(s, now)
	}
	return out, nil
}

// FetchOHLCV returns up to limit candles, oldest first
func (c *Client) FetchOHLCV(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	callCtx, cancel, err := c.begin(ctx, WeightKlines)
	if err != nil {
		return nil, err
	}
	defer cancel()

	raw, err := c.api.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(callCtx)
	if err != nil {
		return nil, c.observe("fetch ohlcv "+symbol, err)
	}
	klines := make([]Kline, len(raw))
	for i, k := range raw {
		klines[i] = Kline{
			OpenTime: k.OpenTime,
			Open:     parseFloat(k.Open),
			High:     parseFloat(k.High),
			Low:      parseFloat(k.Low),
			Close:    parseFloat(k.Close),
			Volume:   parseFloat(k.Volume),
		}
	}
	return klines, nil
}

func (c *Client) createLimitOrder(ctx context.Context, side gobinance.SideType, symbol string, amount, price float64) (*Order, error) {
	market, err := c.GetMarket(ctx, symbol)
	if err != nil {
		return nil, err
	}

	callCtx, cancel, err := c.begin(ctx, WeightOrder)
	if err != nil {
		return nil, err
	}
	defer cancel()

	resp, err := c.api.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(gobinance.OrderTypeLimit).
		TimeInForce(gobinance.TimeInForceTypeGTC).
		Quantity(market.FormatAmount(amount)).
		Price(market.FormatPrice(price)).
		Do(callCtx)
	if err != nil {
		return nil, c.observe(fmt.Sprintf("create %s order %s", side, symbol), err)
	}

	order := &Order{
		ID:          strconv.FormatInt(resp.OrderID, 10),
		Symbol:      resp.Symbol,
		Side:        OrderSide(side),
		Status:      OrderStatus(resp.Status),
		Price:       parseFloat(resp.Price),
		Amount:      parseFloat(resp.OrigQuantity),
		Filled:      parseFloat(resp.ExecutedQuantity),
		OrderListID: -1,
		CreatedAt:   time.UnixMilli(resp.TransactTime),
	}
	if order.Filled > 0 {
		order.Average = parseFloat(resp.CummulativeQuoteQuantity) / order.Filled
	}
	return order, nil
}

// CreateLimitBuyOrder places a GTC limit buy
func (c *Client) CreateLimitBuyOrder(ctx context.Context, symbol string, amount, price float64) (*Order, error) {
	return c.createLimitOrder(ctx, gobinance.SideTypeBuy, symbol, amount, price)
}

// CreateLimitSellOrder places a GTC limit sell
func (c *Client) CreateLimitSellOrder(ctx context.Context, symbol string, amount, price float64) (*Order, error) {
	return c.createLimitOrder(ctx, gobinance.SideTypeSell, symbol, amount, price)
}

// FetchOrder returns the current state of an order
func (c *Client) FetchOrder(ctx context.Context, id, symbol string) (*Order, error) {
	orderID, err := parseOrderID(id)
	if err != nil {
		return nil, err
	}
	callCtx, cancel, err := c.begin(ctx, WeightQueryOrder)
	if err != nil {
		return nil, err
	}
	defer cancel()

	o, err := c.api.NewGetOrderService().Symbol(symbol).OrderID(orderID).Do(callCtx)
	if err != nil {
		return nil, c.observe("fetch order "+id, err)
	}
	return toOrder(o), nil
}

// CancelOrder cancels a resting order
func (c *Client) CancelOrder(ctx context.Context, id, symbol string) error {
	orderID, err := parseOrderID(id)
	if err != nil {
		return err
	}
	callCtx, cancel, err := c.begin(ctx, WeightCancelOrder)
	if err != nil {
		return err
	}
	defer cancel()

	_, err = c.api.NewCancelOrderService().Symbol(symbol).OrderID(orderID).Do(callCtx)
	return c.observe("cancel order "+id, err)
}

// CreateOCOOrder places a sell bracket: a limit take-profit and a stop-limit
// stop-loss where filling one cancels the other.
func (c *Client) CreateOCOOrder(ctx context.Context, symbol string, amount, stopLoss, stopLimit, takeProfit float64) (*OCOOrder, error) {
	market, err := c.GetMarket(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if !market.OCOAllowed {
		return nil, fmt.Errorf("create oco %s: OCO orders not allowed for symbol", symbol)
	}

	callCtx, cancel, err := c.begin(ctx, WeightOrder*2)
	if err != nil {
		return nil, err
	}
	defer cancel()

	resp, err := c.api.NewCreateOCOService().
		Symbol(symbol).
		Side(gobinance.SideTypeSell).
		Quantity(market.FormatAmount(amount)).
		Price(market.FormatPrice(takeProfit)).
		StopPrice(market.FormatPrice(stopLoss)).
		StopLimitPrice(market.FormatPrice(stopLimit)).
		StopLimitTimeInForce(gobinance.TimeInForceTypeGTC).
		Do(callCtx)
	if err != nil {
		return nil, c.observe("create oco "+symbol, err)
	}
	return &OCOOrder{OrderListID: resp.OrderListID, Symbol: symbol}, nil
}

// CancelOCOOrder cancels both legs of a bracket
func (c *Client) CancelOCOOrder(ctx context.Context, symbol string, orderListID int64) error {
	callCtx, cancel, err := c.begin(ctx, WeightCancelOrder)
	if err != nil {
		return err
	}
	defer cancel()

	_, err = c.api.NewCancelOCOService().Symbol(symbol).OrderListID(orderListID).Do(callCtx)
	return c.observe("cancel oco "+symbol, err)
}

// FetchOpenOrders lists resting orders of a symbol
func (c *Client) FetchOpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	callCtx, cancel, err := c.begin(ctx, WeightOpenOrders)
	if err != nil {
		return nil, err
	}
	defer cancel()

	raw, err := c.api.NewListOpenOrdersService().Symbol(symbol).Do(callCtx)
	if err != nil {
		return nil, c.observe("fetch open orders "+symbol, err)
	}
	orders := make([]Order, len(raw))
	for i, o := range raw {
		orders[i] = *toOrder(o)
	}
	return orders, nil
}
