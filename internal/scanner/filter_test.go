package scanner

import (
	"testing"

	"spot-trading-engine/internal/binance"
)

func testConfig() Config {
	return Config{
		QuoteAsset:  "USDT",
		MinVolume:   5_000_000,
		MinPrice:    0.01,
		MinChange:   -30,
		MaxChange:   100,
		MaxSymbols:  50,
		ExcludeList: []string{"BUSD", "UP", "DOWN", "BULL", "BEAR"},
	}
}

func tk(symbol string, last, pct, vol float64) binance.Ticker {
	return binance.Ticker{Symbol: symbol, Last: last, Percentage: pct, QuoteVolume: vol}
}

func TestCandidatesFilters(t *testing.T) {
	tickers := map[string]binance.Ticker{
		"ETHUSDT":     tk("ETHUSDT", 2000, 3, 9e8),
		"ETHBTC":      tk("ETHBTC", 0.05, 1, 9e8),
		"BTCUPUSDT":   tk("BTCUPUSDT", 10, 8, 9e7),
		"ETHBEARUSDT": tk("ETHBEARUSDT", 1, -5, 9e7),
		"BUSDUSDT":    tk("BUSDUSDT", 1, 0.01, 9e8),
		"TINYUSDT":    tk("TINYUSDT", 1, 2, 1000),
		"DUSTUSDT":    tk("DUSTUSDT", 0.001, 2, 9e7),
		"PUMPUSDT":    tk("PUMPUSDT", 1, 150, 9e7),
		"DUMPUSDT":    tk("DUMPUSDT", 1, -30, 9e7),
		"SOLUSDT":     tk("SOLUSDT", 100, -6, 4e8),
	}

	got, stats := Candidates(tickers, testConfig(), nil)

	if len(got) != 2 {
		t.Fatalf("candidates = %v, want ETHUSDT and SOLUSDT", got)
	}
	if got[0].Symbol != "SOLUSDT" || got[1].Symbol != "ETHUSDT" {
		t.Errorf("rank by |change| broken: %s, %s", got[0].Symbol, got[1].Symbol)
	}

	want := FilterStats{
		Total:         10,
		QuoteMatched:  9,
		Excluded:      3,
		LowVolume:     1,
		LowPrice:      1,
		ChangeOutside: 2,
		Passed:        2,
	}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
}

func TestCandidatesCapAndActive(t *testing.T) {
	tickers := map[string]binance.Ticker{
		"AAAUSDT": tk("AAAUSDT", 1, 1, 9e7),
		"BBBUSDT": tk("BBBUSDT", 1, 5, 9e7),
		"CCCUSDT": tk("CCCUSDT", 1, -9, 9e7),
		"DDDUSDT": tk("DDDUSDT", 1, 2, 9e7),
	}
	cfg := testConfig()
	cfg.MaxSymbols = 2
	active := func(s string) bool { return s != "BBBUSDT" }

	got, stats := Candidates(tickers, cfg, active)
	if len(got) != 2 || got[0].Symbol != "CCCUSDT" || got[1].Symbol != "DDDUSDT" {
		t.Errorf("got %v", got)
	}
	if stats.Inactive != 1 || stats.Capped != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestIsExcluded(t *testing.T) {
	exclude := []string{"BUSD", "UP", "DOWN", "BULL", "BEAR"}
	tests := []struct {
		base string
		want bool
	}{
		{"BUSD", true},
		{"BTCUP", true},
		{"ETHDOWN", true},
		{"XRPBULL", true},
		{"BTC", false},
		{"UPX", false},
		{"SUPER", false},
	}
	for _, tt := range tests {
		if got := isExcluded(tt.base, exclude); got != tt.want {
			t.Errorf("isExcluded(%q) = %v, want %v", tt.base, got, tt.want)
		}
	}
}
