package scanner

import (
	"math"
	"sort"
	"strings"

	"spot-trading-engine/internal/binance"
)

// isExcluded matches a base asset against the exclusion list: an exact match
// (BUSD) or a leveraged-token suffix (BTCUP, ETHBEAR).
func isExcluded(base string, exclude []string) bool {
	for _, token := range exclude {
		if base == token {
			return true
		}
		if len(base) > len(token) && strings.HasSuffix(base, token) {
			return true
		}
	}
	return false
}

// Candidates filters the ticker universe, ranks survivors by absolute 24h
// change and caps them at MaxSymbols. active may be nil.
func Candidates(tickers map[string]binance.Ticker, cfg Config, active func(string) bool) ([]binance.Ticker, FilterStats) {
	stats := FilterStats{Total: len(tickers)}
	out := make([]binance.Ticker, 0, 64)

	for symbol, t := range tickers {
		if !strings.HasSuffix(symbol, cfg.QuoteAsset) || symbol == cfg.QuoteAsset {
			continue
		}
		stats.QuoteMatched++

		if active != nil && !active(symbol) {
			stats.Inactive++
			continue
		}
		if isExcluded(binance.BaseAsset(symbol, cfg.QuoteAsset), cfg.ExcludeList) {
			stats.Excluded++
			continue
		}
		if t.QuoteVolume < cfg.MinVolume {
			stats.LowVolume++
			continue
		}
		if t.Last < cfg.MinPrice {
			stats.LowPrice++
			continue
		}
		if t.Percentage <= cfg.MinChange || t.Percentage >= cfg.MaxChange {
			stats.ChangeOutside++
			continue
		}
		if t.Symbol == "" {
			t.Symbol = symbol
		}
		out = append(out, t)
	}
	stats.Passed = len(out)

	sort.Slice(out, func(i, j int) bool {
		ai, aj := math.Abs(out[i].Percentage), math.Abs(out[j].Percentage)
		if ai != aj {
			return ai > aj
		}
		return out[i].Symbol < out[j].Symbol
	})

	if cfg.MaxSymbols > 0 && len(out) > cfg.MaxSymbols {
		stats.Capped = len(out) - cfg.MaxSymbols
		out = out[:cfg.MaxSymbols]
	}
	return out, stats
}
