package binance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"spot-trading-engine/internal/logging"
)

// MarketCache holds the active spot markets quoted in one asset. It is
// refreshed from the exchange on a schedule.
type MarketCache struct {
	exchange Exchange
	quote    string
	logger   *logging.Logger

	mu          sync.RWMutex
	markets     map[string]Market
	lastRefresh time.Time
}

// NewMarketCache creates an empty cache for quote-denominated markets
func NewMarketCache(exchange Exchange, quote string, logger *logging.Logger) *MarketCache {
	if logger == nil {
		logger = logging.Nop()
	}
	return &MarketCache{
		exchange: exchange,
		quote:    quote,
		logger:   logger.WithComponent("MarketCache"),
		markets:  make(map[string]Market),
	}
}

// Refresh reloads markets. The previous set is kept when loading fails.
func (c *MarketCache) Refresh(ctx context.Context) error {
	all, err := c.exchange.LoadMarkets(ctx)
	if err != nil {
		return fmt.Errorf("refresh markets: %w", err)
	}

	markets := make(map[string]Market)
	for sym, m := range all {
		if m.Active && m.QuoteAsset == c.quote {
			markets[sym] = m
		}
	}

	c.mu.Lock()
	c.markets = markets
	c.lastRefresh = time.Now()
	c.mu.Unlock()

	c.logger.Info("Markets refreshed", "quote", c.quote, "active", len(markets))
	return nil
}

// NeedsRefresh reports whether the cache is older than every
func (c *MarketCache) NeedsRefresh(every time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRefresh.IsZero() || time.Since(c.lastRefresh) >= every
}

// Market returns the rules of an active market
func (c *MarketCache) Market(symbol string) (Market, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.markets[symbol]
	return m, ok
}

// IsActive reports whether symbol is an active market. An empty cache accepts
// everything so a failed first load does not stop scanning.
func (c *MarketCache) IsActive(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.markets) == 0 {
		return true
	}
	_, ok := c.markets[symbol]
	return ok
}

// Symbols returns the sorted active symbols
func (c *MarketCache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.markets))
	for s := range c.markets {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// MarketData serves tickers from the websocket feed while it is healthy and
// falls back to REST otherwise.
type MarketData struct {
	exchange   Exchange
	feed       PriceFeed
	staleAfter time.Duration
	logger     *logging.Logger

	mu          sync.Mutex
	usingStream bool
}

// NewMarketData combines a REST exchange with an optional feed
func NewMarketData(exchange Exchange, feed PriceFeed, staleAfter time.Duration, logger *logging.Logger) *MarketData {
	if staleAfter <= 0 {
		staleAfter = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &MarketData{
		exchange:   exchange,
		feed:       feed,
		staleAfter: staleAfter,
		logger:     logger.WithComponent("MarketData"),
	}
}

func (m *MarketData) streamReady() bool {
	ready := m.feed != nil && m.feed.IsConnected()

	m.mu.Lock()
	defer m.mu.Unlock()
	if ready != m.usingStream && m.feed != nil {
		if ready {
			m.logger.Info("Using websocket price feed")
		} else {
			m.logger.Warn("Price feed unavailable, falling back to REST")
		}
	}
	m.usingStream = ready
	return ready
}

// Tickers returns the full ticker map
func (m *MarketData) Tickers(ctx context.Context) (map[string]Ticker, error) {
	if m.streamReady() {
		if t := m.feed.Tickers(); len(t) > 0 {
			return t, nil
		}
	}
	return m.exchange.FetchTickers(ctx)
}

// Ticker returns a fresh ticker for symbol
func (m *MarketData) Ticker(ctx context.Context, symbol string) (*Ticker, error) {
	if m.streamReady() {
		if t, ok := m.feed.Ticker(symbol); ok && time.Since(t.UpdatedAt) < m.staleAfter {
			return &t, nil
		}
	}
	return m.exchange.FetchTicker(ctx, symbol)
}

// Exchange exposes the underlying REST client
func (m *MarketData) Exchange() Exchange {
	return m.exchange
}
