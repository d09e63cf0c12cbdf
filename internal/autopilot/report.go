package autopilot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"spot-trading-engine/internal/database"
	"spot-trading-engine/internal/logging"
)

// DailyReport summarizes the last 24 hours of trading
type DailyReport struct {
	Date            string               `json:"date"`
	Stats           *database.DailyStats `json:"stats"`
	Balance         float64              `json:"balance"`
	DayStartBalance float64              `json:"day_start_balance"`
	ChangePercent   float64              `json:"change_percent"`
	OpenPositions   int                  `json:"open_positions"`
}

// Text renders the report for notifications
func (r *DailyReport) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Daily report %s\n", r.Date)
	if r.Stats != nil {
		fmt.Fprintf(&b, "Trades: %d (wins %d, losses %d, win rate %.1f%%)\n",
			r.Stats.Trades, r.Stats.Wins, r.Stats.Losses, r.Stats.WinRate())
		fmt.Fprintf(&b, "Total profit: %.4f USDT (avg %.4f per trade)\n", r.Stats.TotalProfit, r.Stats.AvgProfit)
		fmt.Fprintf(&b, "Fees: %.4f USDT\n", r.Stats.TotalFees)
	}
	fmt.Fprintf(&b, "Balance: %.2f USDT (start of day %.2f, %+.2f%%)\n",
		r.Balance, r.DayStartBalance, r.ChangePercent)
	fmt.Fprintf(&b, "Open positions: %d", r.OpenPositions)
	return b.String()
}

// BuildDailyReport aggregates the trades of the 24 hours before now
func (c *Controller) BuildDailyReport(ctx context.Context) (*DailyReport, error) {
	now := c.now()
	report := &DailyReport{
		Date:    now.Format("2006-01-02"),
		Balance: c.lifecycle.Balance(),
	}
	report.OpenPositions, _ = c.lifecycle.Counts()

	if c.store != nil {
		stats, err := c.store.GetDailyStats(ctx, now.Add(-24*time.Hour))
		if err != nil {
			return nil, fmt.Errorf("daily stats: %w", err)
		}
		report.Stats = stats
	}
	if c.breaker != nil {
		report.DayStartBalance = c.breaker.Stats().DayStartBalance
	}
	if report.DayStartBalance > 0 {
		report.ChangePercent = (report.Balance - report.DayStartBalance) / report.DayStartBalance * 100
	}
	return report, nil
}

// maybeDailyReport sends the report once during the configured hour and
// starts a new trading day
func (c *Controller) maybeDailyReport(ctx context.Context, log *logging.Logger) {
	now := c.now()
	if now.Hour() != c.cfg.DailyReportHour {
		return
	}
	date := now.Format("2006-01-02")
	c.mu.Lock()
	if c.lastReportDate == date {
		c.mu.Unlock()
		return
	}
	c.lastReportDate = date
	c.mu.Unlock()

	report, err := c.BuildDailyReport(ctx)
	if err != nil {
		log.Warn("Failed to build daily report", "error", err)
	} else {
		kv := []interface{}{"balance", report.Balance, "change_percent", report.ChangePercent}
		if report.Stats != nil {
			kv = append(kv, "trades", report.Stats.Trades, "wins", report.Stats.Wins,
				"total_profit", report.Stats.TotalProfit)
		}
		log.Info("Daily report", kv...)
		c.notifier.Send(report.Text())
	}

	if c.breaker != nil {
		c.breaker.StartDay(c.lifecycle.Balance())
	}
}

// Diagnostics is a one-shot health summary logged shortly after startup
type Diagnostics struct {
	Paper          bool   `json:"paper"`
	Open           int    `json:"open_positions"`
	Pending        int    `json:"pending_orders"`
	Blocked        int    `json:"blocked_symbols"`
	FeedConnected  bool   `json:"price_feed_connected"`
	Protected      bool   `json:"protected"`
	ProtectionNote string `json:"protection_reason,omitempty"`
	Total          int    `json:"tickers_total"`
	QuoteMatched   int    `json:"quote_matched"`
	Excluded       int    `json:"excluded"`
	LowVolume      int    `json:"low_volume"`
	LowPrice       int    `json:"low_price"`
	ChangeOutside  int    `json:"change_outside"`
	Passed         int    `json:"passed"`
	Signals        int    `json:"signals"`
}

// CollectDiagnostics gathers the current filter funnel and engine state
func (c *Controller) CollectDiagnostics() Diagnostics {
	d := Diagnostics{Paper: c.lifecycle.Paper()}
	d.Open, d.Pending = c.lifecycle.Counts()
	d.Blocked = len(c.lifecycle.Blocked())
	if c.feed != nil {
		d.FeedConnected = c.feed.IsConnected()
	}
	if c.protection != nil {
		st := c.protection.Status()
		d.Protected = st.Active
		d.ProtectionNote = st.Reason
	}
	if c.scanner != nil {
		if r := c.scanner.LastReport(); r != nil {
			d.Total = r.Funnel.Total
			d.QuoteMatched = r.Funnel.QuoteMatched
			d.Excluded = r.Funnel.Excluded
			d.LowVolume = r.Funnel.LowVolume
			d.LowPrice = r.Funnel.LowPrice
			d.ChangeOutside = r.Funnel.ChangeOutside
			d.Passed = r.Funnel.Passed
			d.Signals = r.Signals
		}
	}
	return d
}

// RunDiagnostics logs and notifies the diagnostics summary
func (c *Controller) RunDiagnostics(ctx context.Context) {
	d := c.CollectDiagnostics()
	c.logger.Info("Startup diagnostics",
		"paper", d.Paper,
		"open", d.Open,
		"pending", d.Pending,
		"blocked", d.Blocked,
		"feed_connected", d.FeedConnected,
		"protected", d.Protected,
		"tickers", d.Total,
		"quote_matched", d.QuoteMatched,
		"excluded", d.Excluded,
		"low_volume", d.LowVolume,
		"low_price", d.LowPrice,
		"change_outside", d.ChangeOutside,
		"passed", d.Passed,
		"signals", d.Signals)

	protection := "off"
	if d.Protected {
		protection = "ON (" + d.ProtectionNote + ")"
	}
	c.notifier.Send(fmt.Sprintf("Diagnostics\nTickers: %d | USDT: %d | excluded: %d\n"+
		"Low volume: %d | low price: %d | change out of band: %d\nPassed: %d | signals: %d\n"+
		"Open: %d | pending: %d | blocked: %d\nPrice feed: %v | protection: %s",
		d.Total, d.QuoteMatched, d.Excluded,
		d.LowVolume, d.LowPrice, d.ChangeOutside, d.Passed, d.Signals,
		d.Open, d.Pending, d.Blocked, d.FeedConnected, protection))
}
