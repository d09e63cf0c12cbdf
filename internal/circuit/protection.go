package circuit

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"spot-trading-engine/internal/binance"
	"spot-trading-engine/internal/logging"
)

// Transition reports a protection state change observed by Check
type Transition int

const (
	TransitionNone Transition = iota
	TransitionActivated
	TransitionExpired
)

func (t Transition) String() string {
	switch t {
	case TransitionActivated:
		return "activated"
	case TransitionExpired:
		return "expired"
	default:
		return "none"
	}
}

// ProtectionConfig holds crash detection thresholds
type ProtectionConfig struct {
	Enabled            bool
	ReferenceSymbol    string
	QuoteAsset         string
	Window             time.Duration
	SentimentReadings  int
	BTCDropThreshold   float64 // percent, negative
	RedMarketThreshold float64 // percent of red pairs
	SeverityThreshold  float64 // absolute percent selecting the long duration
	DurationMin        time.Duration
	DurationMax        time.Duration
}

// DefaultProtectionConfig returns the standard crash thresholds
func DefaultProtectionConfig() ProtectionConfig {
	return ProtectionConfig{
		Enabled:            true,
		ReferenceSymbol:    "BTCUSDT",
		QuoteAsset:         "USDT",
		Window:             5 * time.Minute,
		SentimentReadings:  10,
		BTCDropThreshold:   -1.5,
		RedMarketThreshold: 70,
		SeverityThreshold:  3,
		DurationMin:        2 * time.Hour,
		DurationMax:        4 * time.Hour,
	}
}

// ProtectionState is the process-wide protection mode
type ProtectionState struct {
	Active      bool      `json:"active"`
	ActivatedAt time.Time `json:"activated_at,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}

// PendingCanceler cancels every outstanding entry order
type PendingCanceler interface {
	CancelAllPending(ctx context.Context, reason string) (int, error)
}

// StateStore persists protection mode across restarts
type StateStore interface {
	SaveProtection(ctx context.Context, state ProtectionState) error
	LoadProtection(ctx context.Context) (*ProtectionState, error)
}

type pricePoint struct {
	price float64
	at    time.Time
}

// Monitor tracks a reference-asset price window and market sentiment and
// owns the NORMAL/PROTECTED state machine. Expiry is evaluated lazily on read.
type Monitor struct {
	config   ProtectionConfig
	canceler PendingCanceler
	store    StateStore
	logger   *logging.Logger
	now      func() time.Time

	mu               sync.RWMutex
	prices           []pricePoint
	sentiment        []float64
	state            ProtectionState
	expiryUnreported bool
}

// NewMonitor creates a monitor. canceler and store may be nil.
func NewMonitor(config ProtectionConfig, canceler PendingCanceler, store StateStore, logger *logging.Logger) *Monitor {
	if config.SentimentReadings <= 0 {
		config.SentimentReadings = 10
	}
	if config.Window <= 0 {
		config.Window = 5 * time.Minute
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Monitor{
		config:   config,
		canceler: canceler,
		store:    store,
		logger:   logger.WithComponent("CapitalProtection"),
		now:      time.Now,
	}
}

// SetCanceler wires the pending-order canceler after construction
func (m *Monitor) SetCanceler(c PendingCanceler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.canceler = c
}

// ReferenceSymbol returns the bellwether symbol sampled each tick
func (m *Monitor) ReferenceSymbol() string {
	return m.config.ReferenceSymbol
}

// Restore loads a persisted state. An already expired state is discarded.
func (m *Monitor) Restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	st, err := m.store.LoadProtection(ctx)
	if err != nil {
		return fmt.Errorf("restore protection: %w", err)
	}
	if st == nil || !st.Active || !m.now().Before(st.ExpiresAt) {
		return nil
	}

	m.mu.Lock()
	m.state = *st
	m.mu.Unlock()
	m.logger.Warn("Capital protection restored", "reason", st.Reason, "expires_at", st.ExpiresAt)
	return nil
}

// RecordReferencePrice appends a sample and drops samples older than the window
func (m *Monitor) RecordReferencePrice(price float64, at time.Time) {
	if price <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.prices = append(m.prices, pricePoint{price: price, at: at})
	cutoff := at.Add(-m.config.Window)
	i := 0
	for i < len(m.prices) && m.prices[i].at.Before(cutoff) {
		i++
	}
	m.prices = m.prices[i:]
}

// RecordSentiment stores the red-pair percentage over quote-asset tickers and
// returns it. Tickers with zero change count as neither red nor green.
func (m *Monitor) RecordSentiment(tickers map[string]binance.Ticker) (float64, bool) {
	red, green := 0, 0
	for symbol, t := range tickers {
		if m.config.QuoteAsset != "" && !strings.HasSuffix(symbol, m.config.QuoteAsset) {
			continue
		}
		switch {
		case t.Percentage < 0:
			red++
		case t.Percentage > 0:
			green++
		}
	}
	if red+green == 0 {
		return 0, false
	}
	ratio := float64(red) / float64(red+green) * 100

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentiment = append(m.sentiment, ratio)
	if len(m.sentiment) > m.config.SentimentReadings {
		m.sentiment = m.sentiment[len(m.sentiment)-m.config.SentimentReadings:]
	}
	return ratio, true
}

// ReferenceChange returns the percent change across the price window
func (m *Monitor) ReferenceChange() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.referenceChangeLocked()
}

func (m *Monitor) referenceChangeLocked() float64 {
	if len(m.prices) < 2 {
		return 0
	}
	oldest := m.prices[0].price
	latest := m.prices[len(m.prices)-1].price
	return (latest - oldest) / oldest * 100
}

func (m *Monitor) latestRedLocked() (float64, bool) {
	if len(m.sentiment) == 0 {
		return 0, false
	}
	return m.sentiment[len(m.sentiment)-1], true
}

// expireLocked flips an expired state to NORMAL and reports whether it did
func (m *Monitor) expireLocked() bool {
	if m.state.Active && !m.now().Before(m.state.ExpiresAt) {
		m.state = ProtectionState{}
		m.expiryUnreported = true
		return true
	}
	return false
}

// Status returns the current state, applying lazy expiry
func (m *Monitor) Status() ProtectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked()
	return m.state
}

// IsActive reports whether new entries are suspended
func (m *Monitor) IsActive() bool {
	return m.Status().Active
}

// Check evaluates expiry and crash conditions. It reports TransitionExpired
// once for every expiry, including one first observed by Status.
func (m *Monitor) Check(ctx context.Context) (Transition, error) {
	m.mu.Lock()
	m.expireLocked()
	if m.expiryUnreported {
		m.expiryUnreported = false
		m.mu.Unlock()
		m.logger.Info("Capital protection expired, resuming normal trading")
		m.persist(ctx, ProtectionState{})
		return TransitionExpired, nil
	}
	if m.state.Active || !m.config.Enabled {
		m.mu.Unlock()
		return TransitionNone, nil
	}

	change := m.referenceChangeLocked()
	red, haveRed := m.latestRedLocked()
	m.mu.Unlock()

	var reasons []string
	if change <= m.config.BTCDropThreshold {
		reasons = append(reasons, fmt.Sprintf("%s moved %.2f%% in %s", m.config.ReferenceSymbol, change, m.config.Window))
	}
	if haveRed && red >= m.config.RedMarketThreshold {
		reasons = append(reasons, fmt.Sprintf("%.0f%% of pairs red", red))
	}
	if len(reasons) == 0 {
		return TransitionNone, nil
	}

	duration := m.config.DurationMin
	if math.Abs(change) > m.config.SeverityThreshold {
		duration = m.config.DurationMax
	}
	if err := m.Activate(ctx, strings.Join(reasons, "; "), duration); err != nil {
		return TransitionActivated, err
	}
	return TransitionActivated, nil
}

// Activate enters PROTECTED for duration and cancels every pending order.
// Open positions are left alone.
func (m *Monitor) Activate(ctx context.Context, reason string, duration time.Duration) error {
	now := m.now()
	m.mu.Lock()
	m.state = ProtectionState{
		Active:      true,
		ActivatedAt: now,
		ExpiresAt:   now.Add(duration),
		Reason:      reason,
	}
	m.expiryUnreported = false
	state := m.state
	canceler := m.canceler
	m.mu.Unlock()

	m.logger.Warn("Capital protection activated",
		"reason", reason,
		"duration", duration,
		"expires_at", state.ExpiresAt)
	m.persist(ctx, state)

	if canceler == nil {
		return nil
	}
	n, err := canceler.CancelAllPending(ctx, "capital protection: "+reason)
	if err != nil {
		return fmt.Errorf("cancel pending orders: %w", err)
	}
	m.logger.Info("Pending orders cancelled by protection", "count", n)
	return nil
}

func (m *Monitor) persist(ctx context.Context, state ProtectionState) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveProtection(ctx, state); err != nil {
		m.logger.Warn("Failed to persist protection state", "error", err)
	}
}
