package autopilot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"spot-trading-engine/internal/binance"
	"spot-trading-engine/internal/circuit"
	"spot-trading-engine/internal/database"
	"spot-trading-engine/internal/events"
	"spot-trading-engine/internal/logging"
	"spot-trading-engine/internal/scanner"
	"spot-trading-engine/internal/strategy"
)

// ControllerConfig holds the control loop cadence
type ControllerConfig struct {
	ScanInterval     time.Duration
	MarketRefresh    time.Duration
	DiagnosticsDelay time.Duration
	DailyReportHour  int
	MaxPositions     int
	HaltOnDailyLoss  bool
}

// DefaultControllerConfig returns a 60 second tick with hourly market refresh
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		ScanInterval:     60 * time.Second,
		MarketRefresh:    time.Hour,
		DiagnosticsDelay: 30 * time.Second,
		DailyReportHour:  0,
		MaxPositions:     5,
	}
}

// MarketData serves tickers, from the stream when healthy
type MarketData interface {
	Tickers(ctx context.Context) (map[string]binance.Ticker, error)
	Ticker(ctx context.Context, symbol string) (*binance.Ticker, error)
}

// Markets is the refreshed set of tradable markets
type Markets interface {
	Refresh(ctx context.Context) error
	NeedsRefresh(every time.Duration) bool
}

// SignalScanner produces ranked buy signals from a ticker snapshot
type SignalScanner interface {
	Scan(ctx context.Context, tickers map[string]binance.Ticker, skip func(symbol string) bool) ([]*strategy.Signal, error)
	LastReport() *scanner.ScanReport
}

// ControllerDeps are the collaborators of a Controller
type ControllerDeps struct {
	Lifecycle  *Manager
	Scanner    SignalScanner
	Protection *circuit.Monitor
	Breaker    *circuit.Breaker
	Data       MarketData
	Markets    Markets
	Feed       binance.PriceFeed
	Store      Store
	Notifier   Notifier
	Events     *events.EventBus
	Metrics    *Metrics
	Logger     *logging.Logger
}

// Controller runs the trading loop: protection, market refresh, position
// management, scanning, pending reconciliation, balance and the daily report,
// in that order on every tick.
type Controller struct {
	cfg        ControllerConfig
	lifecycle  *Manager
	scanner    SignalScanner
	protection *circuit.Monitor
	breaker    *circuit.Breaker
	data       MarketData
	markets    Markets
	feed       binance.PriceFeed
	store      Store
	notifier   Notifier
	events     *events.EventBus
	metrics    *Metrics
	logger     *logging.Logger
	now        func() time.Time

	mu             sync.RWMutex
	running        bool
	startedAt      time.Time
	lastTick       time.Time
	ticks          int
	lastReportDate string
	lastError      string
}

// NewController creates a controller
func NewController(cfg ControllerConfig, deps ControllerDeps) *Controller {
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 60 * time.Second
	}
	if cfg.MarketRefresh <= 0 {
		cfg.MarketRefresh = time.Hour
	}
	c := &Controller{
		cfg:        cfg,
		lifecycle:  deps.Lifecycle,
		scanner:    deps.Scanner,
		protection: deps.Protection,
		breaker:    deps.Breaker,
		data:       deps.Data,
		markets:    deps.Markets,
		feed:       deps.Feed,
		store:      deps.Store,
		notifier:   deps.Notifier,
		events:     deps.Events,
		metrics:    deps.Metrics,
		logger:     deps.Logger.WithComponent("Controller"),
		now:        time.Now,
	}
	if c.breaker != nil {
		c.breaker.OnTrip(func(reason string) {
			c.logger.Error("Circuit breaker tripped, new entries halted", "reason", reason)
			c.events.Publish(events.Event{
				Type: events.EventBreakerUpdate,
				Data: map[string]interface{}{"state": circuit.StateOpen, "reason": reason},
			})
			c.notifier.Send("CIRCUIT BREAKER TRIPPED\n" + reason + "\nNew entries halted until the daily reset.")
		})
		c.breaker.OnReset(func() {
			c.logger.Info("Circuit breaker reset")
			c.events.Publish(events.Event{
				Type: events.EventBreakerUpdate,
				Data: map[string]interface{}{"state": circuit.StateClosed},
			})
		})
	}
	return c
}

// Status is the controller snapshot served to the API
type Status struct {
	Running   bool      `json:"running"`
	Paper     bool      `json:"paper"`
	StartedAt time.Time `json:"started_at"`
	LastTick  time.Time `json:"last_tick"`
	Ticks     int       `json:"ticks"`
	LastError string    `json:"last_error,omitempty"`
	Open      int       `json:"open_positions"`
	Pending   int       `json:"pending_orders"`
	Balance   float64   `json:"balance"`
	Protected bool      `json:"protected"`
	Breaker   string    `json:"circuit_breaker"`
	FeedLive  bool      `json:"price_feed_connected"`
}

// Status returns a snapshot of the loop
func (c *Controller) Status() Status {
	c.mu.RLock()
	s := Status{
		Running:   c.running,
		StartedAt: c.startedAt,
		LastTick:  c.lastTick,
		Ticks:     c.ticks,
		LastError: c.lastError,
	}
	c.mu.RUnlock()

	s.Paper = c.lifecycle.Paper()
	s.Open, s.Pending = c.lifecycle.Counts()
	s.Balance = c.lifecycle.Balance()
	if c.protection != nil {
		s.Protected = c.protection.IsActive()
	}
	if c.breaker != nil {
		s.Breaker = string(c.breaker.GetState())
	}
	if c.feed != nil {
		s.FeedLive = c.feed.IsConnected()
	}
	return s
}

// Run starts the engine and blocks until ctx is cancelled. A tick in progress
// completes before Run returns. It returns ErrDailyLossHalt when the breaker
// trips and halting is configured.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.startup(ctx); err != nil {
		return err
	}
	defer c.shutdown()

	ticker := time.NewTicker(c.cfg.ScanInterval)
	defer ticker.Stop()

	var diagnostics <-chan time.Time
	if c.cfg.DiagnosticsDelay > 0 {
		t := time.NewTimer(c.cfg.DiagnosticsDelay)
		defer t.Stop()
		diagnostics = t.C
	}

	for {
		if err := c.Tick(ctx); errors.Is(err, ErrDailyLossHalt) {
			return err
		}
		for waiting := true; waiting; {
			select {
			case <-ctx.Done():
				return nil
			case <-diagnostics:
				diagnostics = nil
				c.RunDiagnostics(context.WithoutCancel(ctx))
			case <-ticker.C:
				waiting = false
			}
		}
	}
}

func (c *Controller) startup(ctx context.Context) error {
	c.logger.Info("Starting trading engine", "paper", c.lifecycle.Paper(),
		"scan_interval", c.cfg.ScanInterval, "max_positions", c.cfg.MaxPositions)

	if c.markets != nil {
		if err := c.markets.Refresh(ctx); err != nil {
			c.logger.Warn("Initial market load failed, scanning unfiltered until refresh", "error", err)
		}
	}
	if c.protection != nil {
		if err := c.protection.Restore(ctx); err != nil {
			c.logger.Warn("Failed to restore protection state", "error", err)
		}
	}

	restored, err := c.lifecycle.Restore(ctx)
	if err != nil {
		return err
	}

	balance, err := c.lifecycle.RefreshBalance(ctx)
	if err != nil {
		c.logger.Warn("Initial balance fetch failed", "error", err)
	}
	if c.breaker != nil {
		c.breaker.StartDay(balance)
	}

	c.mu.Lock()
	c.running = true
	c.startedAt = c.now()
	c.mu.Unlock()

	c.events.Publish(events.Event{Type: events.EventBotStarted, Data: map[string]interface{}{
		"paper":     c.lifecycle.Paper(),
		"balance":   balance,
		"positions": len(restored),
	}})

	mode := "LIVE"
	if c.lifecycle.Paper() {
		mode = "PAPER"
	}
	c.notifier.Send(fmt.Sprintf("Trading engine started (%s)\nBalance: %.2f USDT\nOpen positions: %d",
		mode, balance, len(restored)))
	if len(restored) > 0 {
		c.notifier.Send(restoredMessage(restored))
	}
	return nil
}

func (c *Controller) shutdown() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	c.events.Publish(events.Event{Type: events.EventBotStopped})
	c.logger.Info("Trading engine stopped")
}

// Tick runs one cycle. A panic is recovered, logged and notified, and the
// next tick proceeds normally. Cancelling ctx does not interrupt the cycle.
func (c *Controller) Tick(ctx context.Context) (err error) {
	start := c.now()
	ctx, log := logging.WithTickContext(context.WithoutCancel(ctx), c.logger)

	defer func() {
		if r := recover(); r != nil {
			log.Error("Tick panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			c.notifier.SendWithCooldown("engine", fmt.Sprintf("Control loop error: %v", r), "error")
			err = fmt.Errorf("tick panic: %v", r)
		}
		failed := err != nil && !errors.Is(err, ErrDailyLossHalt)
		c.metrics.observeTick(c.now().Sub(start).Seconds(), failed)

		c.mu.Lock()
		c.ticks++
		c.lastTick = start
		if err != nil {
			c.lastError = err.Error()
		}
		c.mu.Unlock()
	}()

	return c.tick(ctx, log)
}

func (c *Controller) tick(ctx context.Context, log *logging.Logger) error {
	tickers := c.checkProtection(ctx, log)

	if c.markets != nil && c.markets.NeedsRefresh(c.cfg.MarketRefresh) {
		if err := c.markets.Refresh(ctx); err != nil {
			log.Warn("Market refresh failed, keeping previous set", "error", err)
		}
	}

	c.lifecycle.ManagePositions(ctx)

	if c.canScan(log) && tickers != nil {
		c.scanAndOpen(ctx, tickers, log)
	}

	c.lifecycle.ReconcilePending(ctx)

	if _, err := c.lifecycle.RefreshBalance(ctx); err != nil {
		log.Warn("Balance refresh failed", "error", err)
	}
	protected := c.protection != nil && c.protection.IsActive()
	breakerOpen := c.breaker != nil && c.breaker.IsOpen()
	c.metrics.setGuards(protected, breakerOpen)
	if breakerOpen && c.cfg.HaltOnDailyLoss {
		stats := c.breaker.Stats()
		log.Error("Daily loss limit reached, halting", "daily_pnl_percent", stats.DailyPnLPercent)
		c.notifier.Send(fmt.Sprintf("Daily loss limit reached (%.2f%%). Engine halting.", stats.DailyPnLPercent))
		return ErrDailyLossHalt
	}

	c.maybeDailyReport(ctx, log)
	return nil
}

// checkProtection samples the reference price and market sentiment and
// evaluates the protection state. It returns the ticker snapshot for the scan.
func (c *Controller) checkProtection(ctx context.Context, log *logging.Logger) map[string]binance.Ticker {
	tickers, err := c.data.Tickers(ctx)
	if err != nil {
		log.Warn("Failed to fetch tickers", "error", err)
		tickers = nil
	}
	if c.protection == nil {
		return tickers
	}

	now := c.now()
	if ref, ok := tickers[c.protection.ReferenceSymbol()]; ok && ref.Last > 0 {
		c.protection.RecordReferencePrice(ref.Last, now)
	} else if t, err := c.data.Ticker(ctx, c.protection.ReferenceSymbol()); err == nil {
		c.protection.RecordReferencePrice(t.Last, now)
	} else {
		log.Warn("Failed to fetch reference price", "symbol", c.protection.ReferenceSymbol(), "error", err)
	}
	if tickers != nil {
		if ratio, ok := c.protection.RecordSentiment(tickers); ok {
			log.Debug("Market sentiment", "red_percent", ratio)
		}
	}

	transition, err := c.protection.Check(ctx)
	if err != nil {
		log.Warn("Protection check reported errors", "error", err)
	}
	state := c.protection.Status()
	switch transition {
	case circuit.TransitionActivated:
		c.events.PublishProtectionChanged(true, state.Reason, state.ExpiresAt)
		c.notifier.Send(fmt.Sprintf("CAPITAL PROTECTION ACTIVATED\n%s\nNo new entries until %s",
			state.Reason, state.ExpiresAt.Format("15:04")))
	case circuit.TransitionExpired:
		c.events.PublishProtectionChanged(false, "", time.Time{})
		c.notifier.Send("Capital protection expired, trading resumed")
	}
	return tickers
}

func (c *Controller) canScan(log *logging.Logger) bool {
	if c.scanner == nil {
		return false
	}
	if c.protection != nil && c.protection.IsActive() {
		log.Info("Capital protection active, skipping scan", "reason", c.protection.Status().Reason)
		return false
	}
	if c.breaker != nil {
		if ok, reason := c.breaker.CanTrade(); !ok {
			log.Info("Circuit breaker open, skipping scan", "reason", reason)
			return false
		}
	}
	if open, pending := c.lifecycle.Counts(); c.cfg.MaxPositions > 0 && open+pending >= c.cfg.MaxPositions {
		log.Debug("At position capacity, skipping scan", "open", open, "pending", pending)
		return false
	}
	return true
}

func (c *Controller) scanAndOpen(ctx context.Context, tickers map[string]binance.Ticker, log *logging.Logger) {
	skip := func(symbol string) bool {
		return c.lifecycle.IsTracked(symbol) || c.lifecycle.IsBlocked(symbol)
	}
	signals, err := c.scanner.Scan(ctx, tickers, skip)
	if err != nil {
		log.Warn("Scan failed", "error", err)
		return
	}
	if report := c.scanner.LastReport(); report != nil {
		c.events.PublishScanCompleted(report.ScanID, report.Candidates, report.Signals, report.Duration)
	}

	for _, sig := range signals {
		c.notifier.SendWithCooldown(sig.Symbol, signalMessage(sig), "signal")
		c.events.Publish(events.Event{Type: events.EventSignalGenerated, Data: map[string]interface{}{
			"symbol":   sig.Symbol,
			"strength": sig.Strength,
			"price":    sig.Price,
			"rsi":      sig.Indicators.RSI,
		}})

		_, err := c.lifecycle.Open(ctx, sig)
		switch {
		case err == nil:
		case errors.Is(err, ErrMaxPositions):
			log.Info("Position capacity reached, remaining signals skipped")
			return
		case errors.Is(err, ErrAlreadyTracked), errors.Is(err, ErrBlocked):
			log.Debug("Signal skipped", "symbol", sig.Symbol, "error", err)
		default:
			log.Warn("Failed to open position", "symbol", sig.Symbol, "error", err)
		}
	}
}

func signalMessage(sig *strategy.Signal) string {
	return fmt.Sprintf("%s signal: %s\nPrice: %.6f\n24h: %+.2f%%\nRSI: %.1f | MACD cross: %v | Volume surge: %v",
		sig.Strength, sig.Symbol, sig.Price, sig.Change24h,
		sig.Indicators.RSI, sig.Indicators.MACDCross, sig.Indicators.VolumeSurge)
}

func restoredMessage(positions []database.Position) string {
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	var b strings.Builder
	fmt.Fprintf(&b, "Restored %d open position(s):", len(positions))
	for _, p := range positions {
		bracket := "software"
		if p.HasBracket() {
			bracket = "OCO"
		}
		fmt.Fprintf(&b, "\n%s entry %.6f amount %.6f SL %.6f TP %.6f (%s)",
			p.Symbol, p.EntryPrice, p.Amount, p.StopLoss, p.TakeProfit, bracket)
	}
	return b.String()
}
