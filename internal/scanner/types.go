package scanner

import (
	"time"

	"spot-trading-engine/internal/strategy"
)

// Config holds the universe filters and scan limits
type Config struct {
	QuoteAsset  string
	MinVolume   float64 // 24h quote volume
	MinPrice    float64
	MinChange   float64 // exclusive lower bound of the 24h change band, percent
	MaxChange   float64 // exclusive upper bound
	MaxSymbols  int
	ExcludeList []string

	Timeframe         string
	KlineLimit        int
	SymbolDelay       time.Duration // pause between per-symbol fetches
	HistoryRetryAfter time.Duration // how long a short-history symbol is skipped
}

// FilterStats counts how many tickers each filter removed
type FilterStats struct {
	Total         int `json:"total"`
	QuoteMatched  int `json:"quote_matched"`
	Inactive      int `json:"inactive"`
	Excluded      int `json:"excluded"`
	LowVolume     int `json:"low_volume"`
	LowPrice      int `json:"low_price"`
	ChangeOutside int `json:"change_outside"`
	Passed        int `json:"passed"`
	Capped        int `json:"capped"`
}

// Outcome values recorded per candidate
const (
	OutcomeSignal       = "signal"
	OutcomeWeak         = "weak"
	OutcomeSkipped      = "skipped"
	OutcomeShortHistory = "insufficient_history"
	OutcomeError        = "error"
)

// SymbolOutcome is what happened to one candidate during a scan
type SymbolOutcome struct {
	Symbol   string            `json:"symbol"`
	Change   float64           `json:"change_24h"`
	Outcome  string            `json:"outcome"`
	Strength strategy.Strength `json:"strength,omitempty"`
	RSI      float64           `json:"rsi,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// ScanReport is the snapshot of the latest scan served to the API and
// diagnostics
type ScanReport struct {
	ScanID     string          `json:"scan_id"`
	StartTime  time.Time       `json:"start_time"`
	EndTime    time.Time       `json:"end_time"`
	Duration   time.Duration   `json:"duration"`
	Funnel     FilterStats     `json:"funnel"`
	Candidates int             `json:"candidates"`
	Evaluated  int             `json:"evaluated"`
	Signals    int             `json:"signals"`
	Failed     int             `json:"failed"`
	Outcomes   []SymbolOutcome `json:"outcomes"`
}
