package scanner

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"spot-trading-engine/internal/binance"
	"spot-trading-engine/internal/logging"
	"spot-trading-engine/internal/strategy"
)

// KlineSource provides candle history
type KlineSource interface {
	FetchOHLCV(ctx context.Context, symbol, interval string, limit int) ([]binance.Kline, error)
}

// Scanner turns a ticker snapshot into ranked buy signals
type Scanner struct {
	klines    KlineSource
	evaluator *strategy.Evaluator
	config    Config
	active    func(string) bool
	history   *ScannerCache
	limiter   *rate.Limiter
	logger    *logging.Logger

	mu         sync.RWMutex
	lastReport *ScanReport
}

// NewScanner creates a new scanner instance
func NewScanner(klines KlineSource, evaluator *strategy.Evaluator, config Config, logger *logging.Logger) *Scanner {
	if logger == nil {
		logger = logging.Nop()
	}
	limit := rate.Inf
	if config.SymbolDelay > 0 {
		limit = rate.Every(config.SymbolDelay)
	}
	if config.KlineLimit <= 0 {
		config.KlineLimit = 500
	}
	if config.Timeframe == "" {
		config.Timeframe = "15m"
	}
	return &Scanner{
		klines:    klines,
		evaluator: evaluator,
		config:    config,
		history:   NewScannerCache(config.HistoryRetryAfter),
		limiter:   rate.NewLimiter(limit, 1),
		logger:    logger.WithComponent("Scanner"),
	}
}

// SetActiveFilter restricts candidates to symbols accepted by f
func (sc *Scanner) SetActiveFilter(f func(string) bool) {
	sc.active = f
}

// Candidates applies the universe filters without fetching history
func (sc *Scanner) Candidates(tickers map[string]binance.Ticker) ([]binance.Ticker, FilterStats) {
	return Candidates(tickers, sc.config, sc.active)
}

// Scan evaluates every candidate that skip does not reject and returns the
// actionable signals, STRONG before MEDIUM. Per-symbol failures are recorded
// and do not abort the scan.
func (sc *Scanner) Scan(ctx context.Context, tickers map[string]binance.Ticker, skip func(string) bool) ([]*strategy.Signal, error) {
	startTime := time.Now()
	report := &ScanReport{
		ScanID:    uuid.NewString(),
		StartTime: startTime,
	}

	candidates, funnel := sc.Candidates(tickers)
	report.Funnel = funnel
	report.Candidates = len(candidates)
	sc.history.CleanupExpired()

	var signals []*strategy.Signal
	var scanErr error

	for _, t := range candidates {
		outcome := SymbolOutcome{Symbol: t.Symbol, Change: t.Percentage}

		if skip != nil && skip(t.Symbol) {
			outcome.Outcome = OutcomeSkipped
			report.Outcomes = append(report.Outcomes, outcome)
			continue
		}
		if sc.history.Has(t.Symbol) {
			outcome.Outcome = OutcomeShortHistory
			report.Outcomes = append(report.Outcomes, outcome)
			continue
		}

		if err := sc.limiter.Wait(ctx); err != nil {
			scanErr = err
			break
		}

		signal, err := sc.evaluate(ctx, t)
		report.Evaluated++
		switch {
		case errors.Is(err, strategy.ErrInsufficientHistory):
			sc.history.Mark(t.Symbol)
			outcome.Outcome = OutcomeShortHistory
		case err != nil:
			sc.logger.Warn("Scan failed for symbol", "symbol", t.Symbol, "error", err)
			report.Failed++
			outcome.Outcome = OutcomeError
			outcome.Error = err.Error()
		case signal.Strength.Actionable():
			signals = append(signals, signal)
			outcome.Outcome = OutcomeSignal
			outcome.Strength = signal.Strength
			outcome.RSI = signal.Indicators.RSI
		default:
			outcome.Outcome = OutcomeWeak
			outcome.Strength = signal.Strength
			outcome.RSI = signal.Indicators.RSI
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}

	sort.SliceStable(signals, func(i, j int) bool {
		return signals[i].Strength.Rank() > signals[j].Strength.Rank()
	})

	report.Signals = len(signals)
	report.EndTime = time.Now()
	report.Duration = report.EndTime.Sub(startTime)

	sc.mu.Lock()
	sc.lastReport = report
	sc.mu.Unlock()

	sc.logger.Info("Scan completed",
		"scan_id", report.ScanID,
		"candidates", report.Candidates,
		"evaluated", report.Evaluated,
		"signals", report.Signals,
		"failed", report.Failed,
		"duration", report.Duration)

	return signals, scanErr
}

func (sc *Scanner) evaluate(ctx context.Context, t binance.Ticker) (*strategy.Signal, error) {
	klines, err := sc.klines.FetchOHLCV(ctx, t.Symbol, sc.config.Timeframe, sc.config.KlineLimit)
	if err != nil {
		return nil, err
	}
	ticker := t
	return sc.evaluator.Evaluate(t.Symbol, klines, &ticker)
}

// LastReport returns the most recent scan report, nil before the first scan
func (sc *Scanner) LastReport() *ScanReport {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.lastReport
}
