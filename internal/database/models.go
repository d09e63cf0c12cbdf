package database

import (
	"time"
)

// Trade sides
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Position is an open spot holding, one per symbol
type Position struct {
	Symbol       string    `json:"symbol"`
	EntryPrice   float64   `json:"entry_price"`
	Amount       float64   `json:"amount"`
	HighestPrice float64   `json:"highest_price"`
	StopLoss     float64   `json:"stop_loss"`
	TakeProfit   float64   `json:"take_profit"`
	OrderListID  *int64    `json:"order_list_id,omitempty"` // working OCO bracket, nil when software-monitored
	ATR          *float64  `json:"atr,omitempty"`
	Paper        bool      `json:"paper"`
	OpenedAt     time.Time `json:"opened_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasBracket reports whether an exchange-side bracket protects the position
func (p *Position) HasBracket() bool {
	return p.OrderListID != nil
}

// Trade is an append-only record of a BUY fill or a SELL exit
type Trade struct {
	ID            int64     `json:"id"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	EntryPrice    float64   `json:"entry_price"`
	ExitPrice     *float64  `json:"exit_price,omitempty"`
	Amount        float64   `json:"amount"`
	ProfitPercent *float64  `json:"profit_percent,omitempty"`
	ProfitUSDT    *float64  `json:"profit_usdt,omitempty"` // net of fees
	Fees          float64   `json:"fees"`
	Reason        string    `json:"reason"`
	Paper         bool      `json:"paper"`
	CreatedAt     time.Time `json:"created_at"`
}

// DailyStats aggregates SELL trades over a period
type DailyStats struct {
	Since       time.Time `json:"since"`
	Trades      int       `json:"trades"`
	Wins        int       `json:"wins"`
	Losses      int       `json:"losses"`
	TotalProfit float64   `json:"total_profit"`
	AvgProfit   float64   `json:"avg_profit"`
	TotalFees   float64   `json:"total_fees"`
}

// WinRate is the share of winning trades in percent
func (s *DailyStats) WinRate() float64 {
	if s.Trades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Trades) * 100
}

// aggregate folds SELL trades into stats
func aggregate(since time.Time, trades []*Trade) *DailyStats {
	stats := &DailyStats{Since: since}
	for _, t := range trades {
		if t.Side != SideSell {
			continue
		}
		stats.Trades++
		stats.TotalFees += t.Fees
		if t.ProfitUSDT == nil {
			continue
		}
		stats.TotalProfit += *t.ProfitUSDT
		if *t.ProfitUSDT > 0 {
			stats.Wins++
		} else {
			stats.Losses++
		}
	}
	if stats.Trades > 0 {
		stats.AvgProfit = stats.TotalProfit / float64(stats.Trades)
	}
	return stats
}
