package binance

import (
	"context"
	"errors"
	"testing"
	"time"
)

type staticFeed struct {
	connected bool
	tickers   map[string]Ticker
}

func (s *staticFeed) IsConnected() bool          { return s.connected }
func (s *staticFeed) Tickers() map[string]Ticker { return s.tickers }
func (s *staticFeed) Ticker(symbol string) (Ticker, bool) {
	t, ok := s.tickers[symbol]
	return t, ok
}

func TestMarketDataPrefersFeed(t *testing.T) {
	mock := NewMockClient(0)
	mock.SetTicker("ETHUSDT", 2000, 1, 1e7)
	feed := &staticFeed{connected: true, tickers: map[string]Ticker{
		"ETHUSDT": {Symbol: "ETHUSDT", Last: 2100, UpdatedAt: time.Now()},
	}}
	md := NewMarketData(mock, feed, time.Minute, nil)

	tk, err := md.Ticker(context.Background(), "ETHUSDT")
	if err != nil {
		t.Fatal(err)
	}
	if tk.Last != 2100 {
		t.Errorf("last = %v, want feed price 2100", tk.Last)
	}
	if mock.Calls("FetchTicker") != 0 {
		t.Error("REST should not be called while the feed is healthy")
	}
}

func TestMarketDataFallsBackToREST(t *testing.T) {
	mock := NewMockClient(0)
	mock.SetTicker("ETHUSDT", 2000, 1, 1e7)

	tests := []struct {
		name string
		feed *staticFeed
	}{
		{"disconnected", &staticFeed{connected: false}},
		{"stale symbol", &staticFeed{connected: true, tickers: map[string]Ticker{
			"ETHUSDT": {Symbol: "ETHUSDT", Last: 2100, UpdatedAt: time.Now().Add(-time.Hour)},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md := NewMarketData(mock, tt.feed, time.Minute, nil)
			tk, err := md.Ticker(context.Background(), "ETHUSDT")
			if err != nil {
				t.Fatal(err)
			}
			if tk.Last != 2000 {
				t.Errorf("last = %v, want REST price 2000", tk.Last)
			}
		})
	}
}

func TestMarketCacheRefresh(t *testing.T) {
	mock := NewMockClient(0)
	mock.AddMarket("ETHUSDT", "ETH", "USDT", 0.0001, 5)
	mock.AddMarket("ETHBTC", "ETH", "BTC", 0.001, 0.0001)
	cache := NewMarketCache(mock, "USDT", nil)

	if !cache.IsActive("ANYUSDT") {
		t.Error("empty cache should accept every symbol")
	}
	if !cache.NeedsRefresh(time.Hour) {
		t.Error("empty cache should need refresh")
	}
	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := cache.Symbols(); len(got) != 1 || got[0] != "ETHUSDT" {
		t.Errorf("symbols = %v", got)
	}
	if cache.IsActive("ETHBTC") {
		t.Error("BTC-quoted market should be filtered")
	}

	mock.FailOn("LoadMarkets", errors.New("timeout"))
	if err := cache.Refresh(context.Background()); err == nil {
		t.Error("expected refresh error")
	}
	if _, ok := cache.Market("ETHUSDT"); !ok {
		t.Error("failed refresh must keep previous markets")
	}
}
