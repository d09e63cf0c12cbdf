package autopilot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"spot-trading-engine/internal/binance"
	"spot-trading-engine/internal/database"
	"spot-trading-engine/internal/events"
	"spot-trading-engine/internal/logging"
	"spot-trading-engine/internal/risk"
	"spot-trading-engine/internal/strategy"
)

// Reasons recorded on entries
const (
	ReasonLimitFilled    = "Limit Order Executed"
	ReasonSimulatedBuy   = "Simulated Buy"
	ReasonEntryTimeout   = "Entry Order Timeout"
	ReasonEntryCancelled = "Entry Order Cancelled"
)

// PriceSource returns a fresh ticker for one symbol
type PriceSource interface {
	Ticker(ctx context.Context, symbol string) (*binance.Ticker, error)
}

// MarketSource returns the trading rules of a symbol
type MarketSource interface {
	Market(symbol string) (binance.Market, bool)
}

// TradeRecorder is told about every realized result, e.g. the daily loss breaker
type TradeRecorder interface {
	RecordTrade(profitUSDT float64) bool
}

// TradeNotifier formats trade messages itself; notification.Manager implements it
type TradeNotifier interface {
	SendTradeOpen(symbol string, price, amount, stopLoss, takeProfit float64, paper bool)
	SendTradeClose(symbol string, entry, exit, pnl, pnlPercent float64, reason string, paper bool)
}

// LifecycleConfig holds the order timing of the lifecycle manager
type LifecycleConfig struct {
	FillCheckDelayPaper time.Duration
	FillCheckDelayLive  time.Duration
	PendingTimeoutPaper time.Duration
	PendingTimeoutLive  time.Duration
	PendingCheckDelay   time.Duration // pause between pending reconciliations
	RearmBracket        bool
}

// DefaultLifecycleConfig returns the standard timings
func DefaultLifecycleConfig() LifecycleConfig {
	return LifecycleConfig{
		FillCheckDelayPaper: 10 * time.Second,
		FillCheckDelayLive:  120 * time.Second,
		PendingTimeoutPaper: 10 * time.Second,
		PendingTimeoutLive:  600 * time.Second,
		PendingCheckDelay:   500 * time.Millisecond,
		RearmBracket:        true,
	}
}

// Dependencies are the collaborators of a Manager. Executor, Prices, Store,
// Risk and Trailing are required.
type Dependencies struct {
	Executor  Executor
	Prices    PriceSource
	Markets   MarketSource
	Store     Store
	Risk      *risk.RiskManager
	Trailing  *risk.TrailingStopManager
	Reentry   *ReentryGuard
	Breaker   TradeRecorder
	Notifier  Notifier
	Events    *events.EventBus
	Metrics   *Metrics
	Scheduler *Scheduler
	Logger    *logging.Logger
}

// Manager owns the pending-order and open-position books and drives every
// transition between them. Lifecycle operations are serialized by opMu; mu
// guards the books for snapshot readers.
type Manager struct {
	cfg       LifecycleConfig
	exec      Executor
	prices    PriceSource
	markets   MarketSource
	store     Store
	risk      *risk.RiskManager
	trailing  *risk.TrailingStopManager
	reentry   *ReentryGuard
	breaker   TradeRecorder
	notifier  Notifier
	events    *events.EventBus
	metrics   *Metrics
	scheduler *Scheduler
	logger    *logging.Logger
	now       func() time.Time

	opMu sync.Mutex

	mu        sync.RWMutex
	pending   map[string]*PendingOrder
	positions map[string]*database.Position
	balance   float64
}

// NewManager creates a lifecycle manager
func NewManager(cfg LifecycleConfig, deps Dependencies) *Manager {
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Reentry == nil {
		deps.Reentry = NewReentryGuard(ReentryConfig{}, nil, deps.Logger)
	}
	if deps.Scheduler == nil {
		deps.Scheduler = NewScheduler()
	}
	if deps.Trailing == nil {
		deps.Trailing = risk.NewTrailingStopManager(nil)
	}
	if deps.Risk == nil {
		deps.Risk = risk.NewRiskManager(nil)
	}
	return &Manager{
		cfg:       cfg,
		exec:      deps.Executor,
		prices:    deps.Prices,
		markets:   deps.Markets,
		store:     deps.Store,
		risk:      deps.Risk,
		trailing:  deps.Trailing,
		reentry:   deps.Reentry,
		breaker:   deps.Breaker,
		notifier:  deps.Notifier,
		events:    deps.Events,
		metrics:   deps.Metrics,
		scheduler: deps.Scheduler,
		logger:    deps.Logger.WithComponent("Lifecycle"),
		now:       time.Now,
		pending:   make(map[string]*PendingOrder),
		positions: make(map[string]*database.Position),
	}
}

// Paper reports whether the manager trades on the simulator
func (m *Manager) Paper() bool {
	return m.exec.Paper()
}

// SetBreaker wires the daily loss recorder after construction
func (m *Manager) SetBreaker(b TradeRecorder) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.breaker = b
}

func (m *Manager) fillDelay() time.Duration {
	if m.exec.Paper() {
		return m.cfg.FillCheckDelayPaper
	}
	return m.cfg.FillCheckDelayLive
}

func (m *Manager) pendingTimeout() time.Duration {
	if m.exec.Paper() {
		return m.cfg.PendingTimeoutPaper
	}
	return m.cfg.PendingTimeoutLive
}

func (m *Manager) market(symbol string) binance.Market {
	if m.markets != nil {
		if mk, ok := m.markets.Market(symbol); ok {
			return mk
		}
	}
	return binance.Market{Symbol: symbol}
}

func fillTaskKey(symbol string) string {
	return "fill:" + symbol
}

// ============================================================================
// RESTORE
// ============================================================================

// Restore loads persisted positions and re-entry blocks. It must run before
// the first scan so restored symbols are never entered twice.
func (m *Manager) Restore(ctx context.Context) ([]database.Position, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if err := m.reentry.Restore(ctx); err != nil {
		m.logger.Warn("Failed to restore re-entry blocks", "error", err)
	}

	stored, err := m.store.GetAllPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("restore positions: %w", err)
	}

	restored := make([]database.Position, 0, len(stored))
	m.mu.Lock()
	for _, p := range stored {
		if p.EntryPrice <= 0 || p.Amount <= 0 {
			m.logger.Warn("Skipping invalid stored position", "symbol", p.Symbol,
				"entry_price", p.EntryPrice, "amount", p.Amount)
			continue
		}
		if p.HighestPrice < p.EntryPrice {
			p.HighestPrice = p.EntryPrice
		}
		m.positions[p.Symbol] = p
		restored = append(restored, copyPosition(p))
	}
	m.mu.Unlock()

	m.metrics.setBook(len(restored), 0)
	m.logger.Info("Positions restored", "count", len(restored))
	return restored, nil
}

// ============================================================================
// OPEN
// ============================================================================

// Open sizes and places a limit buy for sig and schedules its fill check
func (m *Manager) Open(ctx context.Context, sig *strategy.Signal) (*PendingOrder, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	symbol := sig.Symbol
	log := m.logger.WithSymbol(symbol)

	if m.IsTracked(symbol) {
		return nil, fmt.Errorf("open %s: %w", symbol, ErrAlreadyTracked)
	}
	if m.reentry.IsBlocked(symbol) {
		return nil, fmt.Errorf("open %s: %w", symbol, ErrBlocked)
	}
	if ok, reason := m.risk.CanOpenPosition(m.committed()); !ok {
		return nil, fmt.Errorf("open %s: %w: %s", symbol, ErrMaxPositions, reason)
	}
	if sig.Price <= 0 {
		return nil, fmt.Errorf("open %s: invalid signal price %.8f", symbol, sig.Price)
	}

	balance := m.refreshBalance(ctx)
	market := m.market(symbol)
	size := m.risk.PositionSize(balance)
	if err := m.risk.ValidateSize(size, balance, market.MinNotional); err != nil {
		log.Warn("Entry rejected by sizing", "size", size, "balance", balance,
			"min_notional", market.MinNotional, "error", err)
		if errors.Is(err, risk.ErrBelowMinNotional) {
			m.notifier.SendWithCooldown(symbol, fmt.Sprintf(
				"%s: order size %.2f USDT is below the %.2f USDT minimum", symbol, size, market.MinNotional),
				"min_notional")
		}
		return nil, fmt.Errorf("open %s: %w", symbol, err)
	}

	limit := m.risk.BuyLimitPrice(sig.Price)
	if market.TickSize > 0 {
		limit = market.RoundPrice(limit)
	}
	amount := size / limit
	if market.StepSize > 0 {
		amount = market.RoundAmount(amount)
	}
	if amount <= 0 || (market.MinNotional > 0 && amount*limit < market.MinNotional) {
		return nil, fmt.Errorf("open %s: %w: amount %.8f after lot rounding", symbol, risk.ErrBelowMinNotional, amount)
	}

	order, err := m.exec.Buy(ctx, market, amount, limit)
	if err != nil {
		log.Error("Failed to place buy order", "amount", amount, "price", limit, "error", err)
		if binance.IsNonRetryable(err) {
			m.notifier.SendWithCooldown(symbol, fmt.Sprintf("%s: buy order rejected: %v", symbol, err), "order_error")
		}
		return nil, fmt.Errorf("open %s: %w", symbol, err)
	}

	p := &PendingOrder{
		Symbol:     symbol,
		OrderID:    order.ID,
		Side:       string(binance.SideBuy),
		LimitPrice: order.Price,
		Amount:     order.Amount,
		Signal:     sig,
		PlacedAt:   m.now(),
		Paper:      m.exec.Paper(),
	}
	if p.LimitPrice <= 0 {
		p.LimitPrice = limit
	}
	if p.Amount <= 0 {
		p.Amount = amount
	}

	m.mu.Lock()
	m.pending[symbol] = p
	open, pending := len(m.positions), len(m.pending)
	m.mu.Unlock()

	m.scheduler.After(fillTaskKey(symbol), m.fillDelay(), func(ctx context.Context) {
		if err := m.CheckPending(ctx, symbol); err != nil {
			m.logger.Warn("Scheduled fill check failed", "symbol", symbol, "error", err)
		}
	})

	m.metrics.orderPlaced(p.Paper, p.Side)
	m.metrics.signal(string(sig.Strength))
	m.metrics.setBook(open, pending)
	m.events.PublishOrderPlaced(p.OrderID, symbol, p.Side, p.LimitPrice, p.Amount, p.Paper)

	log.Info("Buy order placed",
		"order_id", p.OrderID,
		"strength", sig.Strength,
		"price", p.LimitPrice,
		"amount", p.Amount,
		"size_usdt", p.LimitPrice*p.Amount,
		"paper", p.Paper)
	m.notifier.Send(fmt.Sprintf("%sBUY order placed: %s\nStrength: %s\nPrice: %.6f\nAmount: %.6f\nRSI: %.1f",
		paperPrefix(p.Paper), symbol, sig.Strength, p.LimitPrice, p.Amount, sig.Indicators.RSI))
	return p, nil
}

// committed counts open positions plus entries that may still fill
func (m *Manager) committed() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.positions) + len(m.pending)
}

// ============================================================================
// PENDING RECONCILIATION
// ============================================================================

// CheckPending reconciles the pending order of symbol with the exchange. A
// symbol with nothing pending is a no-op, so repeated calls are safe.
func (m *Manager) CheckPending(ctx context.Context, symbol string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.RLock()
	p, ok := m.pending[symbol]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	log := m.logger.WithSymbol(symbol)

	order, err := m.exec.FetchOrder(ctx, p.OrderID, symbol)
	if err != nil {
		log.Warn("Failed to fetch pending order", "order_id", p.OrderID, "error", err)
		return fmt.Errorf("check pending %s: %w", symbol, err)
	}

	switch {
	case order.IsClosed() || order.Filled > 0:
		if !order.IsClosed() && !order.IsCanceled() {
			// partial fill: the position takes what filled, the rest is withdrawn
			if err := m.exec.CancelOrder(ctx, p.OrderID, symbol); err != nil {
				log.Warn("Failed to cancel unfilled remainder", "order_id", p.OrderID, "error", err)
			} else if final, err := m.exec.FetchOrder(ctx, p.OrderID, symbol); err == nil && final.Filled >= order.Filled {
				order = final
			}
		}
		return m.onFilled(ctx, p, order)

	case order.IsCanceled():
		m.dropPending(ctx, p, ReasonEntryCancelled)
		return nil

	case p.Age(m.now()) >= m.pendingTimeout():
		return m.withdrawPending(ctx, p, ReasonEntryTimeout)
	}

	log.Debug("Order still working", "order_id", p.OrderID, "status", order.Status, "age", p.Age(m.now()))
	return nil
}

// ReconcilePending checks every pending order, pausing between symbols
func (m *Manager) ReconcilePending(ctx context.Context) {
	symbols := m.pendingSymbols()
	for i, symbol := range symbols {
		if i > 0 && m.cfg.PendingCheckDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.cfg.PendingCheckDelay):
			}
		}
		if err := m.CheckPending(ctx, symbol); err != nil {
			m.logger.Warn("Pending reconciliation failed", "symbol", symbol, "error", err)
		}
	}
}

func (m *Manager) pendingSymbols() []string {
	m.mu.RLock()
	out := make([]string, 0, len(m.pending))
	for s := range m.pending {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (m *Manager) onFilled(ctx context.Context, p *PendingOrder, order *binance.Order) error {
	symbol := p.Symbol
	log := m.logger.WithSymbol(symbol)

	avg := order.Average
	if avg <= 0 {
		avg = p.LimitPrice
	}
	amount := order.Filled
	if amount <= 0 {
		amount = p.Amount
	}
	stopLoss, takeProfit := m.risk.Levels(avg)

	now := m.now()
	pos := &database.Position{
		Symbol:       symbol,
		EntryPrice:   avg,
		Amount:       amount,
		HighestPrice: avg,
		StopLoss:     stopLoss,
		TakeProfit:   takeProfit,
		Paper:        p.Paper,
		OpenedAt:     now,
		UpdatedAt:    now,
	}
	if p.Signal != nil && p.Signal.Indicators.ATR > 0 {
		atr := p.Signal.Indicators.ATR
		pos.ATR = &atr
	}

	market := m.market(symbol)
	if id, ok := m.placeBracket(ctx, market, pos); ok {
		pos.OrderListID = &id
	}

	if err := m.store.SavePosition(ctx, pos); err != nil {
		log.Error("Failed to persist position", "error", err)
	}
	reason := ReasonLimitFilled
	if p.Paper {
		reason = ReasonSimulatedBuy
	}
	trade := &database.Trade{
		Symbol:     symbol,
		Side:       database.SideBuy,
		EntryPrice: avg,
		Amount:     amount,
		Reason:     reason,
		Paper:      p.Paper,
		CreatedAt:  now,
	}
	if err := m.store.SaveTrade(ctx, trade); err != nil {
		log.Error("Failed to persist buy trade", "error", err)
	}

	m.scheduler.Cancel(fillTaskKey(symbol))
	m.mu.Lock()
	delete(m.pending, symbol)
	m.positions[symbol] = pos
	open, pending := len(m.positions), len(m.pending)
	m.mu.Unlock()
	m.refreshBalance(ctx)

	m.metrics.positionOpened()
	m.metrics.setBook(open, pending)
	m.events.PublishPositionOpened(symbol, avg, amount, stopLoss, takeProfit, pos.HasBracket())

	logging.PositionContext(m.logger, symbol, avg, amount).Info("Position opened",
		"order_id", p.OrderID,
		"stop_loss", stopLoss,
		"take_profit", takeProfit,
		"bracket", pos.HasBracket())
	if tn, ok := m.notifier.(TradeNotifier); ok {
		tn.SendTradeOpen(symbol, avg, amount, stopLoss, takeProfit, p.Paper)
	} else {
		m.notifier.Send(fmt.Sprintf("%sPosition opened: %s\nEntry: %.6f\nAmount: %.6f\nSL: %.6f | TP: %.6f",
			paperPrefix(p.Paper), symbol, avg, amount, stopLoss, takeProfit))
	}
	return nil
}

// placeBracket submits the OCO exit for pos. Failure leaves the position on
// software monitoring.
func (m *Manager) placeBracket(ctx context.Context, market binance.Market, pos *database.Position) (int64, bool) {
	id, err := m.exec.PlaceBracket(ctx, market, pos.Amount,
		pos.StopLoss, m.risk.StopLimitPrice(pos.StopLoss), pos.TakeProfit)
	switch {
	case errors.Is(err, ErrNoBracket):
		return 0, false
	case err != nil:
		m.metrics.bracket("failed")
		m.logger.Warn("OCO order failed, falling back to software monitoring",
			"symbol", pos.Symbol, "stop_loss", pos.StopLoss, "take_profit", pos.TakeProfit, "error", err)
		return 0, false
	}
	m.metrics.bracket("placed")
	m.logger.Info("OCO bracket placed", "symbol", pos.Symbol, "order_list_id", id,
		"stop_loss", pos.StopLoss, "take_profit", pos.TakeProfit)
	return id, true
}

// withdrawPending cancels p and settles it from the order's state after the
// cancel. Coins that filled first become a position. An order the exchange may
// still be working stays pending so the next reconciliation retries it.
func (m *Manager) withdrawPending(ctx context.Context, p *PendingOrder, reason string) error {
	log := m.logger.WithSymbol(p.Symbol)
	cancelErr := m.exec.CancelOrder(ctx, p.OrderID, p.Symbol)
	if cancelErr != nil {
		log.Warn("Failed to cancel entry order", "order_id", p.OrderID, "error", cancelErr)
	}

	order, err := m.exec.FetchOrder(ctx, p.OrderID, p.Symbol)
	if err != nil {
		log.Warn("Entry order state unknown, keeping it pending", "order_id", p.OrderID, "error", err)
		return fmt.Errorf("withdraw %s: %w", p.Symbol, errors.Join(cancelErr, err))
	}

	switch {
	case order.Filled > 0:
		log.Warn("Entry order filled before it was withdrawn",
			"order_id", p.OrderID, "status", order.Status, "filled", order.Filled)
		return m.onFilled(ctx, p, order)
	case cancelErr == nil || order.IsCanceled():
		m.dropPending(ctx, p, reason)
		return nil
	}
	return fmt.Errorf("withdraw %s: order still %s: %w", p.Symbol, order.Status, cancelErr)
}

// dropPending forgets p. The exchange order must already be dead.
func (m *Manager) dropPending(ctx context.Context, p *PendingOrder, reason string) {
	log := m.logger.WithSymbol(p.Symbol)
	m.scheduler.Cancel(fillTaskKey(p.Symbol))

	m.mu.Lock()
	delete(m.pending, p.Symbol)
	open, pending := len(m.positions), len(m.pending)
	m.mu.Unlock()

	m.metrics.entryCancelled()
	m.metrics.setBook(open, pending)
	m.events.PublishOrderCancelled(p.OrderID, p.Symbol, reason)
	log.Info("Entry order dropped", "order_id", p.OrderID, "reason", reason, "age", p.Age(m.now()))
	m.notifier.Send(fmt.Sprintf("%sBUY order for %s removed: %s", paperPrefix(p.Paper), p.Symbol, reason))
}

// CancelAllPending withdraws every pending entry and returns how many were
// resolved. Entries that filled first are opened as positions; entries that
// could not be cancelled stay pending. Open positions are untouched.
func (m *Manager) CancelAllPending(ctx context.Context, reason string) (int, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.RLock()
	all := make([]*PendingOrder, 0, len(m.pending))
	for _, p := range m.pending {
		all = append(all, p)
	}
	m.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool { return all[i].Symbol < all[j].Symbol })

	var errs []error
	resolved := 0
	for _, p := range all {
		if err := m.withdrawPending(ctx, p, reason); err != nil {
			errs = append(errs, err)
			continue
		}
		resolved++
	}
	if len(all) > 0 {
		m.logger.Info("Pending orders withdrawn", "resolved", resolved, "kept", len(all)-resolved, "reason", reason)
	}
	return resolved, errors.Join(errs...)
}

// ============================================================================
// POSITION MANAGEMENT
// ============================================================================

// ManagePositions runs the exit pipeline over every open position. Failures
// are per symbol; the position stays and is retried next tick.
func (m *Manager) ManagePositions(ctx context.Context) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	for _, pos := range m.positionCopies() {
		if ctx.Err() != nil {
			return
		}
		if err := m.managePosition(ctx, pos); err != nil {
			m.logger.Warn("Position management failed", "symbol", pos.Symbol, "error", err)
		}
	}
}

func (m *Manager) managePosition(ctx context.Context, pos database.Position) error {
	ticker, err := m.prices.Ticker(ctx, pos.Symbol)
	if err != nil {
		return fmt.Errorf("fetch price: %w", err)
	}
	price := ticker.Last
	if price <= 0 {
		return fmt.Errorf("no price for %s", pos.Symbol)
	}
	log := m.logger.WithSymbol(pos.Symbol)

	tp := trailingState(&pos)
	if pos.HasBracket() {
		active, err := m.exec.BracketActive(ctx, pos.Symbol, *pos.OrderListID)
		if err != nil {
			return fmt.Errorf("check bracket: %w", err)
		}
		if !active {
			m.metrics.bracket("completed")
			return m.settle(ctx, pos, price, risk.BracketReason(tp, price))
		}
	}

	peakMoved := risk.UpdatePeak(&tp, price)
	update := m.trailing.UpdateStop(&tp, price)
	pos.HighestPrice = tp.Peak
	pos.StopLoss = tp.StopLoss
	if peakMoved || update != nil {
		m.persist(ctx, &pos)
	}

	if update != nil {
		log.Info("Stop loss raised", "rule", update.Reason,
			"old_stop", update.OldStopLoss, "new_stop", update.NewStopLoss, "price", price)
		m.events.PublishStopLossRaised(pos.Symbol, update.OldStopLoss, update.NewStopLoss, update.Reason)
		m.notifier.Send(fmt.Sprintf("%s%s stop loss moved to %s: %.6f -> %.6f",
			paperPrefix(pos.Paper), pos.Symbol, update.Reason, update.OldStopLoss, update.NewStopLoss))
		if m.cfg.RearmBracket && pos.HasBracket() {
			m.rearmBracket(ctx, &pos)
		}
	}

	if pos.HasBracket() {
		return nil
	}
	if reason := m.trailing.ExitReason(tp, price); reason != "" {
		return m.closeLocked(ctx, pos, price, reason)
	}
	return nil
}

// rearmBracket replaces the working bracket with one at the raised stop
func (m *Manager) rearmBracket(ctx context.Context, pos *database.Position) {
	log := m.logger.WithSymbol(pos.Symbol)
	if err := m.exec.CancelBracket(ctx, pos.Symbol, *pos.OrderListID); err != nil {
		// the old bracket still protects at the previous stop
		log.Warn("Failed to cancel bracket for re-arm", "order_list_id", *pos.OrderListID, "error", err)
		return
	}
	pos.OrderListID = nil
	if id, ok := m.placeBracket(ctx, m.market(pos.Symbol), pos); ok {
		pos.OrderListID = &id
		m.metrics.bracket("rearmed")
	} else {
		log.Warn("Bracket re-arm failed, falling back to software monitoring", "stop_loss", pos.StopLoss)
	}
	m.persist(ctx, pos)
}

// ClosePosition exits symbol at the current price. A working bracket is
// cancelled first.
func (m *Manager) ClosePosition(ctx context.Context, symbol, reason string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.RLock()
	p, ok := m.positions[symbol]
	var pos database.Position
	if ok {
		pos = copyPosition(p)
	}
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("close %s: %w", symbol, ErrNotFound)
	}
	if reason == "" {
		reason = risk.ReasonManual
	}

	ticker, err := m.prices.Ticker(ctx, symbol)
	if err != nil {
		return fmt.Errorf("close %s: fetch price: %w", symbol, err)
	}
	return m.closeLocked(ctx, pos, ticker.Last, reason)
}

func (m *Manager) closeLocked(ctx context.Context, pos database.Position, price float64, reason string) error {
	log := m.logger.WithSymbol(pos.Symbol)
	if pos.HasBracket() {
		if err := m.exec.CancelBracket(ctx, pos.Symbol, *pos.OrderListID); err != nil {
			return fmt.Errorf("close %s: cancel bracket: %w", pos.Symbol, err)
		}
		pos.OrderListID = nil
		m.persist(ctx, &pos)
	}

	sellPrice := price
	if !m.exec.Paper() {
		sellPrice = m.risk.SellLimitPrice(price)
	}
	order, err := m.exec.Sell(ctx, m.market(pos.Symbol), pos.Amount, sellPrice)
	if err != nil {
		log.Error("Failed to place sell order", "reason", reason, "price", sellPrice, "error", err)
		m.notifier.SendWithCooldown(pos.Symbol, fmt.Sprintf("%s: sell failed (%s): %v", pos.Symbol, reason, err), "sell_error")
		return fmt.Errorf("close %s: %w", pos.Symbol, err)
	}
	m.metrics.orderPlaced(pos.Paper, string(binance.SideSell))
	m.events.PublishOrderPlaced(order.ID, pos.Symbol, string(binance.SideSell), order.Price, order.Amount, pos.Paper)
	return m.settle(ctx, pos, price, reason)
}

// settle books the exit of pos at exit and removes it from the book
func (m *Manager) settle(ctx context.Context, pos database.Position, exit float64, reason string) error {
	out := m.risk.Settle(pos.EntryPrice, exit, pos.Amount)
	log := logging.PositionContext(m.logger, pos.Symbol, pos.EntryPrice, pos.Amount)

	trade := &database.Trade{
		Symbol:        pos.Symbol,
		Side:          database.SideSell,
		EntryPrice:    pos.EntryPrice,
		ExitPrice:     &exit,
		Amount:        pos.Amount,
		ProfitPercent: &out.ProfitPercent,
		ProfitUSDT:    &out.ProfitUSDT,
		Fees:          out.Fee,
		Reason:        reason,
		Paper:         pos.Paper,
		CreatedAt:     m.now(),
	}
	if err := m.store.SaveTrade(ctx, trade); err != nil {
		log.Error("Failed to persist sell trade", "error", err)
	}
	if err := m.store.DeletePosition(ctx, pos.Symbol); err != nil {
		log.Error("Failed to delete position", "error", err)
	}

	m.mu.Lock()
	delete(m.positions, pos.Symbol)
	open, pending := len(m.positions), len(m.pending)
	m.mu.Unlock()
	m.refreshBalance(ctx)

	if m.breaker != nil {
		m.breaker.RecordTrade(out.ProfitUSDT)
	}
	until := m.reentry.RecordExit(ctx, pos.Symbol, reason, out.ProfitUSDT)

	m.metrics.positionClosed(reason, out.ProfitUSDT)
	m.metrics.setBook(open, pending)
	m.events.PublishPositionClosed(pos.Symbol, pos.EntryPrice, exit, pos.Amount, out.ProfitUSDT, out.ProfitPercent, reason)

	log.Info("Position closed",
		"exit_price", exit,
		"reason", reason,
		"profit_percent", out.ProfitPercent,
		"profit_usdt", out.ProfitUSDT,
		"fee", out.Fee)
	if tn, ok := m.notifier.(TradeNotifier); ok {
		tn.SendTradeClose(pos.Symbol, pos.EntryPrice, exit, out.ProfitUSDT, out.ProfitPercent, reason, pos.Paper)
	} else {
		m.notifier.Send(fmt.Sprintf("%sPosition closed: %s\nEntry: %.6f -> Exit: %.6f\nP&L: %.4f USDT (%.2f%%)\nReason: %s",
			paperPrefix(pos.Paper), pos.Symbol, pos.EntryPrice, exit, out.ProfitUSDT, out.ProfitPercent, reason))
	}
	if !until.IsZero() {
		m.notifier.Send(fmt.Sprintf("%s blocked for re-entry until %s", pos.Symbol, until.Format("15:04")))
	}
	return nil
}

func (m *Manager) persist(ctx context.Context, pos *database.Position) {
	pos.UpdatedAt = m.now()
	if err := m.store.SavePosition(ctx, pos); err != nil {
		m.logger.Error("Failed to persist position", "symbol", pos.Symbol, "error", err)
	}
	cp := copyPosition(pos)
	m.mu.Lock()
	if _, ok := m.positions[pos.Symbol]; ok {
		m.positions[pos.Symbol] = &cp
	}
	m.mu.Unlock()
}

// ============================================================================
// BALANCE AND SNAPSHOTS
// ============================================================================

// RefreshBalance fetches the free quote balance. The last known value is
// kept when the fetch fails.
func (m *Manager) RefreshBalance(ctx context.Context) (float64, error) {
	b, err := m.exec.Balance(ctx)
	if err != nil {
		return m.Balance(), err
	}
	m.mu.Lock()
	m.balance = b
	m.mu.Unlock()
	m.metrics.setBalance(b)
	m.events.PublishBalanceUpdate(b)
	return b, nil
}

func (m *Manager) refreshBalance(ctx context.Context) float64 {
	b, err := m.RefreshBalance(ctx)
	if err != nil {
		m.logger.Warn("Failed to refresh balance, using last known", "balance", b, "error", err)
	}
	return b
}

// Balance returns the last known free quote balance
func (m *Manager) Balance() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balance
}

// IsTracked reports whether symbol is pending or open
func (m *Manager) IsTracked(symbol string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, pending := m.pending[symbol]
	_, open := m.positions[symbol]
	return pending || open
}

// IsBlocked reports whether symbol is inside a re-entry block
func (m *Manager) IsBlocked(symbol string) bool {
	return m.reentry.IsBlocked(symbol)
}

// Counts returns the number of open positions and pending orders
func (m *Manager) Counts() (open, pending int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.positions), len(m.pending)
}

// Positions returns copies of the open positions ordered by open time
func (m *Manager) Positions() []database.Position {
	out := m.positionCopies()
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// Pending returns copies of the pending orders ordered by placement time
func (m *Manager) Pending() []PendingOrder {
	m.mu.RLock()
	out := make([]PendingOrder, 0, len(m.pending))
	for _, p := range m.pending {
		out = append(out, *p)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].PlacedAt.Before(out[j].PlacedAt) })
	return out
}

// Blocked returns the active re-entry blocks
func (m *Manager) Blocked() []BlockedSymbol {
	return m.reentry.Blocked()
}

// Stop cancels scheduled fill checks and waits for running ones
func (m *Manager) Stop() {
	m.scheduler.Stop()
}

func (m *Manager) positionCopies() []database.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, copyPosition(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func copyPosition(p *database.Position) database.Position {
	cp := *p
	if p.OrderListID != nil {
		id := *p.OrderListID
		cp.OrderListID = &id
	}
	if p.ATR != nil {
		atr := *p.ATR
		cp.ATR = &atr
	}
	return cp
}

func trailingState(p *database.Position) risk.TrailingPosition {
	peak := p.HighestPrice
	if peak < p.EntryPrice {
		peak = p.EntryPrice
	}
	return risk.TrailingPosition{
		Symbol:     p.Symbol,
		EntryPrice: p.EntryPrice,
		StopLoss:   p.StopLoss,
		TakeProfit: p.TakeProfit,
		Peak:       peak,
	}
}

func paperPrefix(paper bool) string {
	if paper {
		return "[PAPER] "
	}
	return ""
}
