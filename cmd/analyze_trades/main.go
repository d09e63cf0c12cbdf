// Command analyze_trades prints per-symbol and per-exit-reason performance
// from the engine's Postgres trade journal.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"spot-trading-engine/config"
	"spot-trading-engine/internal/database"
	"spot-trading-engine/internal/logging"
)

// SymbolStats aggregates closed trades of one symbol
type SymbolStats struct {
	Symbol        string
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	TotalPnL      float64
	TotalWins     float64
	TotalLosses   float64
	WinRate       float64
	AvgPnL        float64
	Fees          float64
}

// ReasonStats counts exits per close reason
type ReasonStats struct {
	Reason   string
	Count    int
	TotalPnL float64
}

// Summary is the full analysis of a trade window
type Summary struct {
	Symbols []*SymbolStats // best first
	Reasons []*ReasonStats // most frequent first
	Trades  int
	Wins    int
	Losses  int
	PnL     float64
	Fees    float64
	Entries int
}

// WinRate is the share of winning exits in percent
func (s *Summary) WinRate() float64 {
	if s.Trades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Trades) * 100
}

func main() {
	configPath := flag.String("config", "config.json", "path to config file")
	days := flag.Int("days", 30, "analyze trades from the last N days")
	paperOnly := flag.Bool("paper", false, "only include paper trades")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if !cfg.DatabaseConfig.Enabled {
		fmt.Fprintln(os.Stderr, "database is disabled in config; nothing to analyze")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := database.Open(ctx, cfg.DatabaseConfig.DSN(), 2, logging.Nop())
	if err != nil {
		fmt.Fprintf(os.Stderr, "database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	since := time.Now().AddDate(0, 0, -*days)
	trades, err := database.NewRepository(db).GetTradesSince(ctx, since)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load trades: %v\n", err)
		os.Exit(1)
	}
	if *paperOnly {
		trades = filterPaper(trades)
	}

	fmt.Printf("Trade journal since %s (%d records)\n", since.Format(time.DateOnly), len(trades))
	printSummary(os.Stdout, summarize(trades))
}

func filterPaper(trades []*database.Trade) []*database.Trade {
	out := trades[:0]
	for _, t := range trades {
		if t.Paper {
			out = append(out, t)
		}
	}
	return out
}

// summarize folds SELL trades into per-symbol and per-reason stats. BUY
// records only count as entries.
func summarize(trades []*database.Trade) *Summary {
	sum := &Summary{}
	bySymbol := make(map[string]*SymbolStats)
	byReason := make(map[string]*ReasonStats)

	for _, t := range trades {
		if t.Side != database.SideSell {
			sum.Entries++
			continue
		}
		pnl := 0.0
		if t.ProfitUSDT != nil {
			pnl = *t.ProfitUSDT
		}

		s, ok := bySymbol[t.Symbol]
		if !ok {
			s = &SymbolStats{Symbol: t.Symbol}
			bySymbol[t.Symbol] = s
		}
		s.TotalTrades++
		s.TotalPnL += pnl
		s.Fees += t.Fees
		switch {
		case pnl > 0:
			s.WinningTrades++
			s.TotalWins += pnl
			sum.Wins++
		case pnl < 0:
			s.LosingTrades++
			s.TotalLosses += pnl
			sum.Losses++
		}

		reason := t.Reason
		if reason == "" {
			reason = "unknown"
		}
		r, ok := byReason[reason]
		if !ok {
			r = &ReasonStats{Reason: reason}
			byReason[reason] = r
		}
		r.Count++
		r.TotalPnL += pnl

		sum.Trades++
		sum.PnL += pnl
		sum.Fees += t.Fees
	}

	for _, s := range bySymbol {
		s.WinRate = float64(s.WinningTrades) / float64(s.TotalTrades) * 100
		s.AvgPnL = s.TotalPnL / float64(s.TotalTrades)
		sum.Symbols = append(sum.Symbols, s)
	}
	sort.Slice(sum.Symbols, func(i, j int) bool {
		if sum.Symbols[i].TotalPnL == sum.Symbols[j].TotalPnL {
			return sum.Symbols[i].Symbol < sum.Symbols[j].Symbol
		}
		return sum.Symbols[i].TotalPnL > sum.Symbols[j].TotalPnL
	})

	for _, r := range byReason {
		sum.Reasons = append(sum.Reasons, r)
	}
	sort.Slice(sum.Reasons, func(i, j int) bool {
		if sum.Reasons[i].Count == sum.Reasons[j].Count {
			return sum.Reasons[i].Reason < sum.Reasons[j].Reason
		}
		return sum.Reasons[i].Count > sum.Reasons[j].Count
	})
	return sum
}

func printSummary(w io.Writer, sum *Summary) {
	rule := strings.Repeat("=", 80)
	if sum.Trades == 0 {
		fmt.Fprintf(w, "\nNo closed trades (%d open entries)\n", sum.Entries)
		return
	}

	fmt.Fprintln(w, "\n"+rule)
	fmt.Fprintln(w, "TRADE PERFORMANCE BY SYMBOL")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "%-12s %7s %8s %7s %12s %12s %9s\n", "Symbol", "Trades", "Winners", "Losers", "Total PnL", "Avg PnL", "Win Rate")
	for _, s := range sum.Symbols {
		fmt.Fprintf(w, "%-12s %7d %8d %7d %+12.4f %+12.4f %8.1f%%\n",
			s.Symbol, s.TotalTrades, s.WinningTrades, s.LosingTrades, s.TotalPnL, s.AvgPnL, s.WinRate)
	}
	fmt.Fprintf(w, "%-12s %7d %8d %7d %+12.4f %+12.4f %8.1f%%\n",
		"TOTAL", sum.Trades, sum.Wins, sum.Losses, sum.PnL, sum.PnL/float64(sum.Trades), sum.WinRate())
	fmt.Fprintf(w, "\nFees paid: %.4f USDT (PnL above is already net of fees)\n", sum.Fees)

	fmt.Fprintln(w, "\n"+rule)
	fmt.Fprintln(w, "EXITS BY REASON")
	fmt.Fprintln(w, rule)
	for _, r := range sum.Reasons {
		fmt.Fprintf(w, "%-24s %5d  %+12.4f USDT\n", r.Reason, r.Count, r.TotalPnL)
	}

	worst := 0
	fmt.Fprintln(w, "\nWorst symbols:")
	for i := len(sum.Symbols) - 1; i >= 0 && worst < 5; i-- {
		s := sum.Symbols[i]
		if s.TotalPnL >= 0 {
			break
		}
		avgLoss := 0.0
		if s.LosingTrades > 0 {
			avgLoss = s.TotalLosses / float64(s.LosingTrades)
		}
		fmt.Fprintf(w, "  %s: %.4f total | %d losses | avg loss %.4f | win rate %.1f%%\n",
			s.Symbol, s.TotalPnL, s.LosingTrades, avgLoss, s.WinRate)
		worst++
	}
	if worst == 0 {
		fmt.Fprintln(w, "  none")
	}
}
